package client_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/julien-blanchon/sy/internal/client"
	"github.com/julien-blanchon/sy/internal/server"
	"github.com/julien-blanchon/sy/internal/session"
)

// handshakePair sets up two sessions over an in-memory duplex connection,
// mirroring the real local-subprocess/SSH transport without actually
// spawning one.
func handshakePair(t *testing.T, sourcePull bool) (*session.Session, *session.Session) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	type result struct {
		sess *session.Session
		err  error
	}
	chA := make(chan result, 1)
	chB := make(chan result, 1)
	go func() {
		sess, err := session.Handshake(a, a, sourcePull)
		chA <- result{sess, err}
	}()
	go func() {
		sess, err := session.Handshake(b, b, false)
		chB <- result{sess, err}
	}()
	ra, rb := <-chA, <-chB
	if ra.err != nil {
		t.Fatalf("handshake a: %v", ra.err)
	}
	if rb.err != nil {
		t.Fatalf("handshake b: %v", rb.err)
	}
	return ra.sess, rb.sess
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// TestPushFullAndDeltaTransfer exercises RunSource driving a destination
// Handler over one session: a small new file (full transfer), an unchanged
// file (skip), and a large modified file (delta transfer).
func TestPushFullAndDeltaTransfer(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	writeFile(t, filepath.Join(srcRoot, "small.txt"), []byte("hello world"))

	unchanged := []byte("unchanged contents")
	writeFile(t, filepath.Join(srcRoot, "same.txt"), unchanged)
	writeFile(t, filepath.Join(dstRoot, "same.txt"), unchanged)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dstRoot, "same.txt"), future, future); err != nil {
		t.Fatal(err)
	}

	base := make([]byte, 128*1024)
	for i := range base {
		base[i] = byte(i)
	}
	updated := append([]byte(nil), base...)
	updated[70000] = 0xFF
	updated = append(updated, []byte("tail appended data")...)
	writeFile(t, filepath.Join(dstRoot, "big.bin"), base)
	writeFile(t, filepath.Join(srcRoot, "big.bin"), updated)

	clientSess, serverSess := handshakePair(t, false)

	errCh := make(chan error, 1)
	go func() {
		h := server.New(dstRoot)
		errCh <- h.Serve(serverSess)
	}()

	stats, err := client.RunSource(clientSess, client.Options{Root: srcRoot})
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if len(stats.Failed) != 0 {
		t.Fatalf("unexpected per-file failures: %+v", stats.Failed)
	}
	clientSess.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("server Serve: %v", err)
	}

	if got := readFile(t, filepath.Join(dstRoot, "small.txt")); string(got) != "hello world" {
		t.Errorf("small.txt: got %q", got)
	}
	if got := readFile(t, filepath.Join(dstRoot, "same.txt")); string(got) != string(unchanged) {
		t.Errorf("same.txt should have been left untouched, got %q", got)
	}
	got := readFile(t, filepath.Join(dstRoot, "big.bin"))
	if string(got) != string(updated) {
		t.Errorf("big.bin: delta transfer did not reproduce source content (got %d bytes, want %d)", len(got), len(updated))
	}
}

// TestPushEmptyFile exercises the zero-length FILE_DATA special case.
func TestPushEmptyFile(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "empty.txt"), nil)

	clientSess, serverSess := handshakePair(t, false)
	errCh := make(chan error, 1)
	go func() { errCh <- server.New(dstRoot).Serve(serverSess) }()

	if _, err := client.RunSource(clientSess, client.Options{Root: srcRoot}); err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	clientSess.Close()
	if err := <-errCh; err != nil {
		t.Fatalf("server Serve: %v", err)
	}

	info, err := os.Stat(filepath.Join(dstRoot, "empty.txt"))
	if err != nil {
		t.Fatalf("empty.txt was not created: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("empty.txt: got size %d, want 0", info.Size())
	}
}

// TestPull drives Run with RolePull on the local side, with the remote
// peer played by RunSource directly, the way the real agent would after
// seeing the pull flag in its HELLO.
func TestPull(t *testing.T) {
	remoteRoot := t.TempDir()
	localRoot := t.TempDir()
	writeFile(t, filepath.Join(remoteRoot, "fetched.txt"), []byte("pulled content"))

	localSess, remoteSess := handshakePair(t, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.RunSource(remoteSess, client.Options{Root: remoteRoot})
		remoteSess.Close()
		errCh <- err
	}()

	stats, err := client.Run(localSess, client.Options{Root: localRoot, Role: client.RolePull})
	if err != nil {
		t.Fatalf("Run(RolePull): %v", err)
	}
	if len(stats.Failed) != 0 {
		t.Fatalf("unexpected per-file failures: %+v", stats.Failed)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("remote RunSource: %v", err)
	}

	if got := readFile(t, filepath.Join(localRoot, "fetched.txt")); string(got) != "pulled content" {
		t.Errorf("fetched.txt: got %q", got)
	}
}

package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/julien-blanchon/sy/internal/session"
	"github.com/julien-blanchon/sy/internal/wire"
)

// driver drives a Handler's Serve loop from the other end of an in-memory
// connection, speaking raw wire messages, so these tests can exercise the
// handler without pulling in internal/client (which itself depends on
// internal/server).
type driver struct {
	t    *testing.T
	sess *session.Session
}

func newDriver(t *testing.T, h *Handler) *driver {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	type result struct {
		sess *session.Session
		err  error
	}
	driverCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() {
		sess, err := session.Handshake(a, a, false)
		driverCh <- result{sess, err}
	}()
	go func() {
		sess, err := session.Handshake(b, b, false)
		serverCh <- result{sess, err}
	}()

	dr := <-driverCh
	sr := <-serverCh
	if dr.err != nil {
		t.Fatalf("driver handshake: %v", dr.err)
	}
	if sr.err != nil {
		t.Fatalf("server handshake: %v", sr.err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(sr.sess) }()
	t.Cleanup(func() {
		dr.sess.Close()
		if err := <-errCh; err != nil {
			t.Errorf("Serve returned error: %v", err)
		}
	})

	return &driver{t: t, sess: dr.sess}
}

func TestHandleFileListDecidesCreateForNewPath(t *testing.T) {
	root := t.TempDir()
	d := newDriver(t, New(root))

	if err := d.sess.Send(wire.TypeFileList, &wire.FileList{Entries: []wire.FileListEntry{
		{Path: "new.txt", Size: 5},
	}}); err != nil {
		t.Fatalf("send file list: %v", err)
	}
	var ack wire.FileListAck
	if err := d.sess.Receive(wire.TypeFileListAck, &ack); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if len(ack.Decisions) != 1 || ack.Decisions[0].Action != wire.ActionCreate {
		t.Fatalf("got %+v, want one ActionCreate decision", ack.Decisions)
	}
}

func TestHandleMkdirBatchCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	d := newDriver(t, New(root))

	if err := d.sess.Send(wire.TypeMkdirBatch, &wire.MkdirBatch{Paths: []string{"a/b/c", "x"}}); err != nil {
		t.Fatalf("send mkdir batch: %v", err)
	}
	var ack wire.MkdirBatchAck
	if err := d.sess.Receive(wire.TypeMkdirBatchAck, &ack); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if ack.Created != 2 || len(ack.Failed) != 0 {
		t.Fatalf("got %+v", ack)
	}
	for _, p := range []string{"a/b/c", "x"} {
		if info, err := os.Stat(filepath.Join(root, p)); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", p)
		}
	}
}

func TestHandleSymlinkBatchCreatesLinks(t *testing.T) {
	root := t.TempDir()
	d := newDriver(t, New(root))

	if err := d.sess.Send(wire.TypeSymlinkBatch, &wire.SymlinkBatch{Entries: []wire.SymlinkEntry{
		{Path: "link", Target: "target.txt"},
	}}); err != nil {
		t.Fatalf("send symlink batch: %v", err)
	}
	var ack wire.SymlinkBatchAck
	if err := d.sess.Receive(wire.TypeSymlinkBatchAck, &ack); err != nil {
		t.Fatalf("receive ack: %v", err)
	}
	if ack.Created != 1 || len(ack.Failed) != 0 {
		t.Fatalf("got %+v", ack)
	}
	target, err := os.Readlink(filepath.Join(root, "link"))
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "target.txt" {
		t.Errorf("got target %q", target)
	}
}

// TestHandleFileDataSingleChunkSendsFileDoneOnCompletion verifies the
// corrected FILE_DONE direction: the handler, not the sender, emits it once
// the declared size has been received.
func TestHandleFileDataSingleChunkSendsFileDoneOnCompletion(t *testing.T) {
	root := t.TempDir()
	h := New(root)
	d := newDriver(t, h)

	entry := wire.FileListEntry{Path: "f.txt", Size: 5, Mode: 0644}
	if err := d.sess.Send(wire.TypeFileList, &wire.FileList{Entries: []wire.FileListEntry{entry}}); err != nil {
		t.Fatalf("send file list: %v", err)
	}
	var ack wire.FileListAck
	if err := d.sess.Receive(wire.TypeFileListAck, &ack); err != nil {
		t.Fatalf("receive ack: %v", err)
	}

	if err := d.sess.Send(wire.TypeFileData, &wire.FileData{Index: 0, Offset: 0, Data: []byte("hello")}); err != nil {
		t.Fatalf("send file data: %v", err)
	}
	var done wire.FileDone
	if err := d.sess.Receive(wire.TypeFileDone, &done); err != nil {
		t.Fatalf("receive file done: %v", err)
	}
	if done.Status != wire.StatusOK {
		t.Errorf("got status %d, want StatusOK", done.Status)
	}

	data, err := os.ReadFile(filepath.Join(root, "f.txt"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("got %q", data)
	}
}

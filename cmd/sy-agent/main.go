// Command sy-agent is a minimal, dedicated entry point for the agent side
// of a sync (the destination of a push, the source of a pull): unlike
// `sy --server`, it carries none of the push/pull/bisync command surface,
// so it can be the single binary copied to a remote host that is only ever
// driven by a peer. It mirrors mutagen's
// separate mutagen-agent binary, which likewise exists only to be invoked
// by an SSH-spawned command string, never by a human directly.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/julien-blanchon/sy/internal/client"
	"github.com/julien-blanchon/sy/internal/server"
	"github.com/julien-blanchon/sy/internal/session"
)

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sy-agent:", err)
	os.Exit(1)
}

type duplexStdio struct{}

func (duplexStdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (duplexStdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (duplexStdio) Close() error                { return nil }

func main() {
	if len(os.Args) != 2 {
		fatal(errors.New("usage: sy-agent <root-path>"))
	}
	root := os.Args[1]
	if root == "~" || strings.HasPrefix(root, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			fatal(errors.Wrap(err, "unable to expand ~"))
		}
		root = filepath.Join(home, root[1:])
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0755); err != nil {
			fatal(errors.Wrap(err, "unable to create destination root"))
		}
	}

	rw := duplexStdio{}
	sess, err := session.Handshake(rw, rw, false)
	if err != nil {
		fatal(errors.Wrap(err, "unable to complete handshake"))
	}
	defer sess.Close()

	if sess.Pull {
		if _, err := client.RunSource(sess, client.Options{Root: root}); err != nil {
			fatal(err)
		}
		return
	}
	if err := server.New(root).Serve(sess); err != nil {
		fatal(err)
	}
}

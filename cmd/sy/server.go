package main

import (
	"os"

	"github.com/pkg/errors"

	"github.com/julien-blanchon/sy/internal/client"
	"github.com/julien-blanchon/sy/internal/server"
	"github.com/julien-blanchon/sy/internal/session"
)

// runServer implements `sy --server <root-path>`: the agent process,
// speaking the wire protocol on stdin/stdout exactly as a remote
// SSH-spawned process or local subprocess expects. Which role it plays is
// decided only after the handshake: a peer that declared the pull flag in
// its own HELLO wants the agent's root to act as the source, so the agent
// runs the same scan/list/decide/transfer driver a local `sy push` uses;
// otherwise the agent is the destination and simply serves.
func runServer(root string) error {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(root, 0755); err != nil {
				return errors.Wrap(err, "unable to create destination root")
			}
		} else {
			return errors.Wrap(err, "unable to stat destination root")
		}
	}

	rw := &duplexStdio{in: os.Stdin, out: os.Stdout}
	sess, err := session.Handshake(rw, rw, false)
	if err != nil {
		return errors.Wrap(err, "unable to complete handshake")
	}
	defer sess.Close()

	if sess.Pull {
		_, err := client.RunSource(sess, client.Options{Root: root})
		return err
	}
	return server.New(root).Serve(sess)
}

type duplexStdio struct {
	in  *os.File
	out *os.File
}

func (d *duplexStdio) Read(p []byte) (int, error)  { return d.in.Read(p) }
func (d *duplexStdio) Write(p []byte) (int, error) { return d.out.Write(p) }
func (d *duplexStdio) Close() error                { return nil }

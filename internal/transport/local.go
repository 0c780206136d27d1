package transport

import (
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

// LocalTransport runs the sy agent as a local subprocess, used when both
// endpoints of a sync are on the same machine. This keeps the client
// driver's code path identical regardless of whether the destination is
// local or remote: it always talks to a subprocess over stdio.
type LocalTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// DialLocal starts `<agentPath> --server <remotePath>` as a child process.
func DialLocal(agentPath, remotePath string) (*LocalTransport, error) {
	if agentPath == "" {
		agentPath = "sy"
	}
	cmd := exec.Command(agentPath, "--server", remotePath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to open agent stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to open agent stdout")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "unable to start agent process")
	}

	return &LocalTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (t *LocalTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *LocalTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

func (t *LocalTransport) Close() error {
	stdinErr := t.stdin.Close()
	waitErr := t.cmd.Wait()
	if stdinErr != nil {
		return errors.Wrap(stdinErr, "unable to close agent stdin")
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "agent process exited with error")
	}
	return nil
}

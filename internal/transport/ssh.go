// Package transport spawns the sy agent process for the far end of a sync
// (the destination of a push, the source of a pull), either through an SSH
// subprocess or as a local subprocess. Both transports expose the same (io.ReadCloser,
// io.WriteCloser) shape so that internal/session can drive them
// identically, mirroring how mutagen's pkg/ssh and pkg/agent abstract the
// connection from the protocol that rides on it.
package transport

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

const connectTimeoutSeconds = 5

// SSHOptions configures an SSH-spawned agent process.
type SSHOptions struct {
	Host       string
	User       string
	Port       uint16
	IdentityFiles []string
	SSHCommand string // defaults to "ssh" if empty
	AgentPath  string // remote sy binary path, defaults to "sy"
}

// SSHTransport runs the sy agent on a remote host via an SSH subprocess,
// speaking the wire protocol over the subprocess's stdin/stdout.
type SSHTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// DialSSH starts `ssh <host> sy --server <remotePath>` (plus any requested
// identity files, user, and port) and returns a transport wired to its
// stdio, matching the process-spawning shape of mutagen's pkg/ssh.Command.
func DialSSH(opts SSHOptions, remotePath string) (*SSHTransport, error) {
	sshBinary := opts.SSHCommand
	if sshBinary == "" {
		sshBinary = "ssh"
	}
	agentPath := opts.AgentPath
	if agentPath == "" {
		agentPath = "sy"
	}

	var args []string
	args = append(args, fmt.Sprintf("-oConnectTimeout=%d", connectTimeoutSeconds))
	if opts.Port != 0 {
		args = append(args, "-p", fmt.Sprintf("%d", opts.Port))
	}
	for _, identity := range opts.IdentityFiles {
		args = append(args, "-i", identity)
	}

	target := opts.Host
	if opts.User != "" {
		target = fmt.Sprintf("%s@%s", opts.User, opts.Host)
	}
	args = append(args, target)
	args = append(args, fmt.Sprintf("%s --server %s", agentPath, remotePath))

	cmd := exec.Command(sshBinary, args...)
	cmd.Env = os.Environ()
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to open ssh stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "unable to open ssh stdout")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "unable to start ssh process")
	}

	return &SSHTransport{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (t *SSHTransport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *SSHTransport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// Close closes the subprocess's stdio and waits for it to exit.
func (t *SSHTransport) Close() error {
	stdinErr := t.stdin.Close()
	waitErr := t.cmd.Wait()
	if stdinErr != nil {
		return errors.Wrap(stdinErr, "unable to close ssh stdin")
	}
	if waitErr != nil {
		return errors.Wrap(waitErr, "ssh process exited with error")
	}
	return nil
}

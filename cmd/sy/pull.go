package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/julien-blanchon/sy/internal/client"
	"github.com/julien-blanchon/sy/internal/session"
	"github.com/julien-blanchon/sy/internal/transport"
)

var pullConfiguration struct {
	sshHost       string
	sshUser       string
	sshPort       uint16
	identityFiles []string
	workers       int
}

var pullCommand = &cobra.Command{
	Use:   "pull <remote-path> <local-path>",
	Short: "mirror a remote tree onto a local destination",
	Args:  cobra.ExactArgs(2),
	Run: func(command *cobra.Command, arguments []string) {
		if err := runPull(arguments[0], arguments[1]); err != nil {
			fatal(err)
		}
	},
}

func init() {
	flags := pullCommand.Flags()
	flags.StringVar(&pullConfiguration.sshHost, "host", "", "SSH host (omit for a local source)")
	flags.StringVar(&pullConfiguration.sshUser, "user", "", "SSH user")
	flags.Uint16Var(&pullConfiguration.sshPort, "port", 0, "SSH port")
	flags.StringArrayVar(&pullConfiguration.identityFiles, "identity", nil, "SSH identity file (may be repeated)")
	flags.IntVar(&pullConfiguration.workers, "workers", 0, "worker count (files are transferred one at a time regardless of this value)")
}

func runPull(remotePath, localPath string) error {
	cfg := loadConfiguration()
	identityFiles := pullConfiguration.identityFiles
	if len(identityFiles) == 0 {
		identityFiles = cfg.SSH.IdentityFiles
	}
	workers := pullConfiguration.workers
	if workers == 0 {
		workers = cfg.Sync.Workers
	}

	var rw interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	}
	var closer interface{ Close() error }

	if pullConfiguration.sshHost != "" {
		t, err := transport.DialSSH(transport.SSHOptions{
			Host: pullConfiguration.sshHost, User: pullConfiguration.sshUser,
			Port: pullConfiguration.sshPort, IdentityFiles: identityFiles, SSHCommand: cfg.SSH.Command,
		}, remotePath)
		if err != nil {
			return errors.Wrap(err, "unable to dial ssh transport")
		}
		rw, closer = t, t
	} else {
		agentPath, err := os.Executable()
		if err != nil {
			return errors.Wrap(err, "unable to locate sy binary")
		}
		t, err := transport.DialLocal(agentPath, remotePath)
		if err != nil {
			return errors.Wrap(err, "unable to dial local transport")
		}
		rw, closer = t, t
	}
	defer closer.Close()

	sess, err := session.Handshake(rw, closer, true)
	if err != nil {
		return errors.Wrap(err, "unable to complete handshake")
	}
	defer sess.Close()

	stats, err := client.Run(sess, client.Options{
		Root: localPath, Role: client.RolePull, Workers: workers,
		CompressMinSize: cfg.Sync.CompressMinSize, DeltaMinSize: cfg.Sync.DeltaMinSize,
	})
	if err != nil {
		return err
	}
	reportFailures(stats)
	return nil
}

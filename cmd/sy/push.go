package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/julien-blanchon/sy/internal/client"
	"github.com/julien-blanchon/sy/internal/session"
	"github.com/julien-blanchon/sy/internal/transport"
)

var pushConfiguration struct {
	sshHost      string
	sshUser      string
	sshPort      uint16
	identityFiles []string
	workers      int
}

var pushCommand = &cobra.Command{
	Use:   "push <local-path> <remote-path>",
	Short: "mirror a local tree onto a remote destination",
	Args:  cobra.ExactArgs(2),
	Run: func(command *cobra.Command, arguments []string) {
		if err := runPush(arguments[0], arguments[1]); err != nil {
			fatal(err)
		}
	},
}

func init() {
	flags := pushCommand.Flags()
	flags.StringVar(&pushConfiguration.sshHost, "host", "", "SSH host (omit for a local destination)")
	flags.StringVar(&pushConfiguration.sshUser, "user", "", "SSH user")
	flags.Uint16Var(&pushConfiguration.sshPort, "port", 0, "SSH port")
	flags.StringArrayVar(&pushConfiguration.identityFiles, "identity", nil, "SSH identity file (may be repeated)")
	flags.IntVar(&pushConfiguration.workers, "workers", 0, "worker count (files are transferred one at a time regardless of this value)")
}

// reportFailures logs per-file failures the peer reported (spec §7: these
// do not abort the sync, so runPush/runPull still return nil for them).
func reportFailures(stats *client.Stats) {
	for _, f := range stats.Failed {
		log.Warn(errors.Wrapf(f.Err, "sync failed for %s", f.Path))
	}
}

func runPush(localPath, remotePath string) error {
	cfg := loadConfiguration()
	identityFiles := pushConfiguration.identityFiles
	if len(identityFiles) == 0 {
		identityFiles = cfg.SSH.IdentityFiles
	}
	workers := pushConfiguration.workers
	if workers == 0 {
		workers = cfg.Sync.Workers
	}

	var rw interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
	}
	var closer interface{ Close() error }

	if pushConfiguration.sshHost != "" {
		t, err := transport.DialSSH(transport.SSHOptions{
			Host: pushConfiguration.sshHost, User: pushConfiguration.sshUser,
			Port: pushConfiguration.sshPort, IdentityFiles: identityFiles, SSHCommand: cfg.SSH.Command,
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

	sess, err := session.Handshake(rw, closer, false)
	if err != nil {
		return errors.Wrap(err, "unable to complete handshake")
	}
	defer sess.Close()

	stats, err := client.Run(sess, client.Options{
		Root: localPath, Role: client.RolePush, Workers: workers,
		CompressMinSize: cfg.Sync.CompressMinSize, DeltaMinSize: cfg.Sync.DeltaMinSize,
	})
	if err != nil {
		return err
	}
	reportFailures(stats)
	return nil
}

// Command sy synchronizes a source tree to a destination tree, locally or
// over SSH, and can run in a bidirectional mode that tracks per-file state
// across runs so that changes on either side are reconciled rather than
// one side silently overwriting the other.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/julien-blanchon/sy/internal/logging"
	"github.com/julien-blanchon/sy/internal/syversion"
)

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "sy:", err)
	os.Exit(1)
}

var rootCommand = &cobra.Command{
	Use:   "sy",
	Short: "sy synchronizes a source tree to a destination, locally or over SSH",
	Args:  cobra.ArbitraryArgs,
	Run: func(command *cobra.Command, arguments []string) {
		if rootConfiguration.server {
			if len(arguments) != 1 {
				fatal(errors.New("--server requires exactly one path argument"))
			}
			if err := runServer(arguments[0]); err != nil {
				fatal(err)
			}
			return
		}
		command.Help()
	},
}

var rootConfiguration struct {
	verbose bool
	version bool
	server  bool
}

func init() {
	flags := rootCommand.PersistentFlags()
	flags.BoolVarP(&rootConfiguration.verbose, "verbose", "v", false, "enable debug logging")

	flags2 := rootCommand.Flags()
	flags2.BoolVarP(&rootConfiguration.version, "version", "V", false, "show version information")
	flags2.BoolVar(&rootConfiguration.server, "server", false, "run as the agent side of a sync (destination of a push, source of a pull), speaking the wire protocol on stdin/stdout")

	cobra.EnableCommandSorting = false

	rootCommand.AddCommand(
		pushCommand,
		pullCommand,
		bisyncCommand,
	)
}

func main() {
	cobra.OnInitialize(func() {
		logging.DebugEnabled = rootConfiguration.verbose
	})

	if err := rootCommand.Execute(); err != nil {
		fatal(errors.Wrap(err, "command failed"))
	}
	if rootConfiguration.version {
		fmt.Println(syversion.Version)
	}
}

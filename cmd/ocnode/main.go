// ocnode: the OpenClipboard shared node runtime as a standalone CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"go.openclipboard.dev/node/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "ocnode",
		Short: "OpenClipboard node runtime",
		Long: `ocnode runs the OpenClipboard shared node runtime directly: it discovers
other nodes on the LAN, pairs with them under a human-verifiable
confirmation code, and keeps the local system clipboard in sync with
every connected, trusted peer over a mutually-authenticated encrypted
session.

This binary is a reference embedder of the node runtime — the same
runtime a mobile or desktop client links in through its own foreign-
function boundary.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newPairCmd(),
		newTrustCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("ocnode " + Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}

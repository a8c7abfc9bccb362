package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.openclipboard.dev/node/internal/node"
)

func newPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Pair this node with another over a human-verified confirmation code",
	}
	cmd.AddCommand(newPairJoinCmd())
	return cmd
}

func newPairJoinCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "join <pairing-string>",
		Short: "Join a pairing window opened by `ocnode serve --pair` on another node",
		Long: `Parses an openclipboard://pair string (scanned from a QR code or pasted
from the other device), adds that device to the trust store, and dials
it to complete the handshake.

Prints a 6-digit confirmation code. Read it aloud, or compare it on
screen, against the code the other device's operator sees — if they
match, the pairing is genuine; if not, something is intercepting the
exchange and you should remove the trust entry.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPairJoin(cmd, v, args[0])
		},
	}

	cmd.Flags().String("name", defaultDisplayName(), "this node's display name, shown to the peer")
	addIdentityFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
	return cmd
}

func runPairJoin(cmd *cobra.Command, v *viper.Viper, qr string) error {
	setupLogging(v)

	idPath := v.GetString("id-path")
	trustPath := v.GetString("trust-path")
	name := v.GetString("name")

	n, err := node.New(idPath, trustPath, name)
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}

	code, peerID, err := n.PairViaQR(context.Background(), qr)
	if err != nil {
		return fmt.Errorf("pair: %w", err)
	}

	cmd.Printf("Paired with %s\n", peerID)
	cmd.Printf("Confirmation code: %s\n", code)
	cmd.Println("Verify this matches the code shown on the other device before trusting it further.")
	return nil
}

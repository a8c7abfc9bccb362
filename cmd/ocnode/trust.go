package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.openclipboard.dev/node/internal/node"
	"go.openclipboard.dev/node/internal/trust"
)

func newTrustCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trust",
		Short: "Inspect and manage this node's trusted peers",
	}
	cmd.AddCommand(newTrustListCmd(), newTrustRemoveCmd())
	return cmd
}

func newTrustListCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List trusted peers",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(v)
			n, err := node.New(v.GetString("id-path"), v.GetString("trust-path"), defaultDisplayName())
			if err != nil {
				return fmt.Errorf("open node: %w", err)
			}

			cmd.Printf("This node: %s\n\n", n.PeerID())
			printTrustList(n.TrustedPeers())
			return nil
		},
	}

	addIdentityFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
	return cmd
}

func newTrustRemoveCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "rm <peer-id>",
		Short: "Remove a trusted peer",
		Long: `Removes a peer from the trust store by its PeerId. Any session already
established with that peer is not eagerly closed: it continues until
the peer disconnects or the next handshake is rejected against the
now-absent trust entry.`,
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(v)
			n, err := node.New(v.GetString("id-path"), v.GetString("trust-path"), defaultDisplayName())
			if err != nil {
				return fmt.Errorf("open node: %w", err)
			}

			removed, err := n.RemoveTrustedPeer(args[0])
			if err != nil {
				return fmt.Errorf("remove: %w", err)
			}
			if !removed {
				cmd.Printf("No trusted peer with id %s\n", args[0])
				return nil
			}
			cmd.Printf("Removed %s\n", args[0])
			return nil
		},
	}

	addIdentityFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)
	return cmd
}

func printTrustList(peers []trust.Record) {
	if len(peers) == 0 {
		fmt.Println("No trusted peers.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "PEER ID\tNAME\tPAIRED\n")
	fmt.Fprintf(w, "-------\t----\t------\n")
	for _, p := range peers {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.PeerID, p.DisplayName, fmtAge(p.CreatedAt))
	}
	_ = w.Flush()
}

// fmtAge mirrors the teacher CLI's status-table age formatting.
func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("2006-01-02 15:04:05")
}

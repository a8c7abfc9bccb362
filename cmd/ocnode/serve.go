package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.openclipboard.dev/node/internal/clip"
	"go.openclipboard.dev/node/internal/node"
	"go.openclipboard.dev/node/internal/pairing"
	"go.openclipboard.dev/node/internal/transport"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node: discover peers, sync clipboard, accept pairing",
		Long: `Starts the node runtime: opens the identity and trust store, listens
for inbound sessions, advertises and browses for peers on the LAN, and
keeps the system clipboard in sync with every connected, trusted peer.

Flags, environment variables, and config-file keys
  Flag           Env var               Config key
  ─────────────────────────────────────────────────
  --port         OCNODE_PORT           port
  --name         OCNODE_NAME           name
  --service      OCNODE_SERVICE        service
  --poll-ms      OCNODE_POLL_MS        poll-ms
  --pair         OCNODE_PAIR           pair
  --id-path      OCNODE_ID_PATH        id-path
  --trust-path   OCNODE_TRUST_PATH     trust-path
  --log-level    OCNODE_LOG_LEVEL      log-level
  --log-format   OCNODE_LOG_FORMAT     log-format
  --config       (flag only)

Config file
  A path supplied via --config is the only config file read. Without it,
  the first of these that exists is used:
  /etc/ocnode/ocnode.toml
  $HOME/.config/ocnode/ocnode.toml`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.Int("port", transport.DefaultPort, "TCP listen port")
	f.String("name", defaultDisplayName(), "this node's display name, shown to peers")
	f.String("service", "ocnode", "name advertised in the LAN discovery TXT record")
	f.Int("poll-ms", 250, "clipboard poll interval in milliseconds")
	f.Bool("pair", false, "arm a one-shot QR/confirmation-code pairing window at startup")
	f.Duration("pair-timeout", 2*time.Minute, "how long the --pair window stays open")
	addIdentityFlags(cmd)
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	idPath := v.GetString("id-path")
	trustPath := v.GetString("trust-path")
	name := v.GetString("name")
	port := v.GetInt("port")
	service := v.GetString("service")
	pollMs := v.GetInt("poll-ms")
	pair := v.GetBool("pair")
	pairTimeout := v.GetDuration("pair-timeout")

	n, err := node.New(idPath, trustPath, name)
	if err != nil {
		return fmt.Errorf("open node: %w", err)
	}

	slog.Info("ocnode starting",
		"version", Version,
		"peer_id", n.PeerID(),
		"name", name,
		"port", port,
		"trusted_peers", len(n.TrustedPeers()),
	)

	backend := clip.New()
	defer backend.Close()
	slog.Info("clipboard backend", "name", backend.Name())

	sink := &cliEventSink{name: name}

	if err := n.StartMesh(port, service, sink, backend, pollMs); err != nil {
		return fmt.Errorf("start mesh: %w", err)
	}
	defer n.Stop()

	if pair {
		armPairing(n, name, port, pairTimeout)
	}

	slog.Info("ocnode running, press Ctrl+C to stop")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	return nil
}

// armPairing prints the pairing QR string for this node and opens a
// single-connection auto-trust window that closes after timeout. This
// side does not compute or print a confirmation code; only the joining
// side's `pair join` prints one.
func armPairing(n *node.Node, name string, port int, timeout time.Duration) {
	var nonce [32]byte
	if _, err := fillRandom(nonce[:]); err != nil {
		slog.Error("pairing: generate nonce", "err", err)
		return
	}

	addrs, err := localLANAddrs(port)
	if err != nil || len(addrs) == 0 {
		slog.Warn("pairing: no LAN address found; the joining device must supply one manually", "err", err)
	}

	payload := pairing.Create(n.PeerID(), name, publicKeyBytes(n), port, nonce, addrs)
	qr := payload.Encode()

	slog.Info("pairing window open", "timeout", timeout.String())
	fmt.Println()
	fmt.Println("Scan or paste this on the joining device (ocnode pair join <string>):")
	fmt.Println()
	fmt.Println(qr)
	fmt.Println()

	n.EnableQRPairingListenerAny(name)
	go func() {
		time.Sleep(timeout)
		n.DisableQRPairingListener()
	}()
}

// cliEventSink is the node.EventSink used by `ocnode serve`: it logs
// every callback. It prints no confirmation code when a pairing
// handshake completes.
type cliEventSink struct {
	name string
}

func (s *cliEventSink) OnClipboardText(peerID, text string, tsMs int64) {
	preview := text
	if len(preview) > 60 {
		preview = preview[:60] + "…"
	}
	slog.Info("clipboard received", "peer", peerID, "bytes", len(text), "preview", preview)
}

func (s *cliEventSink) OnFileReceived(peerID, name, dataPath string) {
	slog.Info("file received", "peer", peerID, "name", name, "path", dataPath)
}

func (s *cliEventSink) OnPeerConnected(peerID string) {
	slog.Info("peer connected", "peer", peerID)
}

func (s *cliEventSink) OnPeerDisconnected(peerID string) {
	slog.Info("peer disconnected", "peer", peerID)
}

func (s *cliEventSink) OnError(message string) {
	slog.Warn("node error", "message", message)
}

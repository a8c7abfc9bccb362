// Package node is the embedder-facing façade: it aggregates identity,
// trust, the standalone listener/dialer, discovery, pairing, history, and
// the mesh engine into the single object a platform client embeds.
//
// Grounded on the teacher's cmd/suffuse wiring (main.go constructs every
// subsystem and wires them into one long-lived object the CLI commands
// call into) generalized from a CLI-only entry point to a façade a host
// application embeds directly and drives via callbacks.
package node

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"go.openclipboard.dev/node/internal/discovery"
	"go.openclipboard.dev/node/internal/frame"
	"go.openclipboard.dev/node/internal/history"
	"go.openclipboard.dev/node/internal/identity"
	"go.openclipboard.dev/node/internal/mesh"
	"go.openclipboard.dev/node/internal/pairing"
	"go.openclipboard.dev/node/internal/session"
	"go.openclipboard.dev/node/internal/transport"
	"go.openclipboard.dev/node/internal/trust"
)

// ErrorKind categorizes an Error for embedders that want to branch on
// failure class without string-matching a message.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindIO
	KindAddressInUse
	KindMalformedPairing
	KindNonceMismatch
	KindUntrustedPeer
	KindIdentityMismatch
	KindBadSequence
	KindInvalidFrame
	KindTimeout
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindAddressInUse:
		return "AddressInUse"
	case KindMalformedPairing:
		return "MalformedPairing"
	case KindNonceMismatch:
		return "NonceMismatch"
	case KindUntrustedPeer:
		return "UntrustedPeer"
	case KindIdentityMismatch:
		return "IdentityMismatch"
	case KindBadSequence:
		return "BadSequence"
	case KindInvalidFrame:
		return "InvalidFrame"
	case KindTimeout:
		return "Timeout"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the typed error every node operation returns, wrapping the
// underlying sentinel from whichever component detected the failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, transport.ErrAddressInUse):
		return &Error{KindAddressInUse, err}
	case errors.Is(err, pairing.ErrMalformedPairing):
		return &Error{KindMalformedPairing, err}
	case errors.Is(err, pairing.ErrNonceMismatch):
		return &Error{KindNonceMismatch, err}
	case errors.Is(err, session.ErrUntrustedPeer):
		return &Error{KindUntrustedPeer, err}
	case errors.Is(err, session.ErrIdentityMismatch):
		return &Error{KindIdentityMismatch, err}
	case errors.Is(err, session.ErrBadSequence):
		return &Error{KindBadSequence, err}
	case errors.Is(err, session.ErrTimeout):
		return &Error{KindTimeout, err}
	case errors.Is(err, frame.ErrInvalidFrame):
		return &Error{KindInvalidFrame, err}
	case errors.Is(err, identity.ErrNotFound), errors.Is(err, identity.ErrCorrupt):
		return &Error{KindIO, err}
	default:
		return &Error{KindIO, err}
	}
}

// ClipboardCapability is the embedder-provided text clipboard: both
// operations must be treated by the caller as fallible and non-blocking.
type ClipboardCapability interface {
	ReadText() (string, bool)
	WriteText(text string) error
}

// EventSink is the embedder-provided callback set for connection and
// clipboard activity. on_file_received is reserved: no operation in this
// implementation produces file transfer frames, so it is never called.
type EventSink interface {
	OnClipboardText(peerID, text string, tsMs int64)
	OnFileReceived(peerID, name, dataPath string)
	OnPeerConnected(peerID string)
	OnPeerDisconnected(peerID string)
	OnError(message string)
}

// DiscoverySink is the embedder-provided callback set for LAN discovery
// events, used by StartDiscovery's standalone mode.
type DiscoverySink interface {
	OnPeerDiscovered(peerID, name, addr string)
	OnPeerLost(peerID string)
	OnError(message string)
}

// Node is the single top-level object an embedder constructs. Its zero
// value is not usable; construct with New.
type Node struct {
	local *identity.Identity
	trust *trust.Store

	history *history.Store

	listener *transport.Listener
	disco    *discovery.Service
	mesh     *mesh.Mesh

	displayName string
}

// New loads (or generates, on first run) the node's identity at idPath
// and opens the trust store at trustPath. The identity's directory is
// created if absent; the trust store's directory is created on its first
// write.
func New(idPath, trustPath, displayName string) (*Node, error) {
	id, err := identity.LoadOrGenerate(idPath)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("node: load identity: %w", err))
	}
	ts, err := trust.Open(trustPath)
	if err != nil {
		return nil, wrapErr(fmt.Errorf("node: open trust store: %w", err))
	}
	return &Node{
		local:       id,
		trust:       ts,
		history:     history.New(),
		displayName: displayName,
	}, nil
}

// PeerID returns this node's PeerId.
func (n *Node) PeerID() string { return n.local.PeerID() }

// PublicKeyB64 returns this node's base64-encoded public key, the form
// exchanged during pairing.
func (n *Node) PublicKeyB64() string { return n.local.PublicKeyB64() }

// TrustedPeers lists every peer this node has paired with.
func (n *Node) TrustedPeers() []trust.Record { return n.trust.List() }

// RemoveTrustedPeer revokes trust for peerID. An already-open session to
// that peer is not eagerly closed (see DESIGN.md); the next reconnect
// attempt will fail UntrustedPeer.
func (n *Node) RemoveTrustedPeer(peerID string) (bool, error) {
	ok, err := n.trust.Remove(peerID)
	if err != nil {
		return false, wrapErr(fmt.Errorf("node: remove trust: %w", err))
	}
	return ok, nil
}

// StartListener runs C5's accept loop on its own, without the mesh
// engine's poll loop or connection manager — used by embedders (and the
// invariant-5 test scenarios) that want an inbound-only node.
func (n *Node) StartListener(port int, sink EventSink) error {
	n.listener = transport.NewListener(transport.Config{
		Local:       n.local,
		Trust:       n.trust,
		DisplayName: n.displayName,
		Sink:        eventErrSink{sink},
		Events:      n.standaloneSessionEvents(sink),
	})
	if err := n.listener.Start(port); err != nil {
		return wrapErr(err)
	}
	return nil
}

// StartDiscovery runs C6's advertise+browse on its own, independent of
// the mesh engine.
func (n *Node) StartDiscovery(name string, port int, sink DiscoverySink) error {
	n.disco = discovery.New(n.local.PeerID())
	if err := n.disco.Start(name, port, discoverySinkAdapter{sink}); err != nil {
		return wrapErr(fmt.Errorf("node: start discovery: %w", err))
	}
	return nil
}

// StartMesh starts C5 (listener), C6 (discovery), and C9 (the mesh
// engine: clipboard poll loop, echo suppression, connection manager)
// together. This is the typical embedder entry point.
func (n *Node) StartMesh(port int, serviceName string, sink EventSink, clip ClipboardCapability, pollIntervalMs int) error {
	n.mesh = mesh.New(mesh.Config{
		Local:        n.local,
		Trust:        n.trust,
		History:      n.history,
		Clip:         clip,
		Sink:         meshSinkAdapter{sink},
		DisplayName:  n.displayName,
		PollInterval: msToDuration(pollIntervalMs),
	})
	if err := n.mesh.Start(port, serviceName); err != nil {
		return wrapErr(err)
	}
	return nil
}

// ConnectAndSendText opens a one-shot connection to addr (outside the
// mesh's managed connection set) and sends one CLIP_TEXT frame. The
// session is not closed by this call: its Run loop keeps the connection
// open in the background until the remote side closes it.
func (n *Node) ConnectAndSendText(ctx context.Context, addr, remotePeerID, text string) error {
	d := transport.NewDialer(n.local, n.trust, n.displayName)
	_, err := d.ConnectAndSendText(ctx, addr, remotePeerID, text, session.Events{})
	if err != nil {
		return wrapErr(err)
	}
	return nil
}

// SendClipboardText broadcasts text to every mesh-connected trusted peer.
// Best-effort: there is no error return, matching the "no error path"
// contract for a background fan-out the caller cannot meaningfully react
// to per-peer.
func (n *Node) SendClipboardText(text string) {
	if n.mesh != nil {
		n.mesh.SendClipboardText(text)
	}
}

// EnableQRPairingListener arms the mesh's listener to auto-trust the next
// inbound handshake from expectedPeerID under displayName, recording it
// to the trust store as soon as that handshake completes.
func (n *Node) EnableQRPairingListener(expectedPeerID, displayName string) {
	if n.mesh != nil {
		n.mesh.EnableQRAutoTrust(expectedPeerID, displayName)
	}
}

// EnableQRPairingListenerAny arms the listener to trust whichever peer
// connects next, under displayName. Used by the `ocnode serve --pair`
// CLI flow, where the joining device's PeerId is not known in advance.
func (n *Node) EnableQRPairingListenerAny(displayName string) {
	if n.mesh != nil {
		n.mesh.EnableQRAutoTrustAny(displayName)
	}
}

// DisableQRPairingListener closes the auto-trust window.
func (n *Node) DisableQRPairingListener() {
	if n.mesh != nil {
		n.mesh.DisableQRAutoTrust()
	}
}

// PairViaQR parses a scanned openclipboard://pair string, records the
// peer it describes as trusted, and dials it to complete the pairing
// handshake. Returns the confirmation code the user should verify
// out-of-band against the one displayed on the other device, and the
// peer id now trusted.
func (n *Node) PairViaQR(ctx context.Context, qr string) (confirmationCode, peerID string, err error) {
	payload, perr := pairing.FromQRString(qr)
	if perr != nil {
		return "", "", wrapErr(perr)
	}

	if err := n.trust.Add(payload.PeerID, base64.StdEncoding.EncodeToString(payload.IdentityPK), payload.Name); err != nil {
		return "", "", wrapErr(fmt.Errorf("node: add trust from pairing: %w", err))
	}

	code := pairing.ConfirmationCode(payload.Nonce, payload.PeerID, n.local.PeerID())

	if len(payload.LANAddrs) == 0 {
		return code, payload.PeerID, &Error{KindMalformedPairing, errors.New("node: pairing payload carries no address")}
	}
	addr := payload.LANAddrs[0]

	d := transport.NewDialer(n.local, n.trust, n.displayName)
	established := make(chan struct{}, 1)
	events := session.Events{
		OnEstablished: func(s *session.Session) {
			select {
			case established <- struct{}{}:
			default:
			}
		},
	}
	if _, derr := d.Connect(ctx, addr, payload.PeerID, events); derr != nil {
		return code, payload.PeerID, wrapErr(derr)
	}
	return code, payload.PeerID, nil
}

// GetClipboardHistory returns up to limit history entries, newest first.
func (n *Node) GetClipboardHistory(limit int) []history.Entry {
	return n.history.List(limit)
}

// GetClipboardHistoryForPeer returns up to limit history entries from
// peerName, newest first.
func (n *Node) GetClipboardHistoryForPeer(peerName string, limit int) []history.Entry {
	return n.history.ListForPeer(peerName, limit)
}

// RecallFromHistory writes the recorded text for entryID to the clipboard
// capability without broadcasting it to connected peers. Returns NotFound
// if no such entry exists, or if the mesh engine was never started (the
// clipboard capability is only known to the mesh).
func (n *Node) RecallFromHistory(entryID string) error {
	entry, ok := n.history.Find(entryID)
	if !ok {
		return &Error{KindNotFound, fmt.Errorf("node: no history entry %s", entryID)}
	}
	if n.mesh == nil {
		return &Error{KindNotFound, errors.New("node: mesh not started")}
	}
	if err := n.mesh.WriteLocalWithoutBroadcast(entry.Text); err != nil {
		return wrapErr(fmt.Errorf("node: recall write: %w", err))
	}
	return nil
}

// Stop tears down the mesh engine, standalone discovery, and standalone
// listener, draining every session. Idempotent; safe to call even if
// only some subsystems were started.
func (n *Node) Stop() {
	if n.mesh != nil {
		n.mesh.Stop()
	}
	if n.disco != nil {
		n.disco.Stop()
	}
	if n.listener != nil {
		n.listener.Stop()
	}
}

// standaloneSessionEvents builds the callback set for a Node-owned
// (non-mesh) listener: it forwards directly to the embedder's sink
// without the mesh's connected-peer table, echo suppression, or history
// recording, since a standalone listener's purpose is exercising C5 on
// its own (see the S1/S2 test scenarios).
func (n *Node) standaloneSessionEvents(sink EventSink) session.Events {
	return session.Events{
		OnEstablished: func(s *session.Session) {
			sink.OnPeerConnected(s.PeerID())
		},
		OnClipText: func(peerID, text string) {
			sink.OnClipboardText(peerID, text, nowMs())
		},
		OnDisconnected: func(peerID string) {
			sink.OnPeerDisconnected(peerID)
		},
		OnError: func(peerID string, err error) {
			sink.OnError(fmt.Sprintf("session %s: %v", peerID, err))
		},
	}
}

// eventErrSink adapts an EventSink to transport.EventSink.
type eventErrSink struct{ sink EventSink }

func (a eventErrSink) OnError(message string) { a.sink.OnError(message) }

// meshSinkAdapter adapts a node.EventSink to mesh.Sink.
type meshSinkAdapter struct{ sink EventSink }

func (a meshSinkAdapter) OnClipboardText(peerID, text string, tsMs int64) {
	a.sink.OnClipboardText(peerID, text, tsMs)
}
func (a meshSinkAdapter) OnPeerConnected(peerID string)    { a.sink.OnPeerConnected(peerID) }
func (a meshSinkAdapter) OnPeerDisconnected(peerID string) { a.sink.OnPeerDisconnected(peerID) }
func (a meshSinkAdapter) OnError(message string)           { a.sink.OnError(message) }

// discoverySinkAdapter adapts a node.DiscoverySink to discovery.Sink.
type discoverySinkAdapter struct{ sink DiscoverySink }

func (a discoverySinkAdapter) OnPeerDiscovered(peerID, name, addr string) {
	a.sink.OnPeerDiscovered(peerID, name, addr)
}
func (a discoverySinkAdapter) OnPeerLost(peerID string) { a.sink.OnPeerLost(peerID) }
func (a discoverySinkAdapter) OnError(message string)   { a.sink.OnError(message) }

// msToDuration converts a millisecond poll interval to a time.Duration,
// falling back to the mesh engine's own default when ms <= 0.
func msToDuration(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func nowMs() int64 { return time.Now().UnixMilli() }

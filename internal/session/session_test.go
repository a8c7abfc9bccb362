package session

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.openclipboard.dev/node/internal/identity"
	"go.openclipboard.dev/node/internal/trust"
)

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func newTestTrustStore(t *testing.T) *trust.Store {
	t.Helper()
	s, err := trust.Open(filepath.Join(t.TempDir(), "trust.json"))
	if err != nil {
		t.Fatalf("trust.Open: %v", err)
	}
	return s
}

// mustTrust records peer's identity in store under displayName.
func mustTrust(t *testing.T, store *trust.Store, peer *identity.Identity, displayName string) {
	t.Helper()
	rec := trust.RecordFor(peer.PublicKey[:], displayName)
	if err := store.Add(rec.PeerID, rec.IdentityPK, rec.DisplayName); err != nil {
		t.Fatalf("trust.Add: %v", err)
	}
}

func TestHandshakeEstablishesMutuallyTrustedSession(t *testing.T) {
	initiatorID := newTestIdentity(t)
	responderID := newTestIdentity(t)

	initiatorTrust := newTestTrustStore(t)
	mustTrust(t, initiatorTrust, responderID, "Responder")

	responderTrust := newTestTrustStore(t)
	mustTrust(t, responderTrust, initiatorID, "Initiator")

	connA, connB := net.Pipe()

	initEstablished := make(chan *Session, 1)
	respEstablished := make(chan *Session, 1)
	respText := make(chan string, 1)

	initSession := New(Config{
		Conn:         connA,
		Role:         RoleInitiator,
		Local:        initiatorID,
		Trust:        initiatorTrust,
		DisplayName:  "Initiator",
		RemotePeerID: responderID.PeerID(),
		Events: Events{
			OnEstablished: func(s *Session) { initEstablished <- s },
		},
	})
	respSession := New(Config{
		Conn:        connB,
		Role:        RoleResponder,
		Local:       responderID,
		Trust:       responderTrust,
		DisplayName: "Responder",
		Events: Events{
			OnEstablished: func(s *Session) { respEstablished <- s },
			OnClipText:    func(_, text string) { respText <- text },
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrA := make(chan error, 1)
	runErrB := make(chan error, 1)
	go func() { runErrA <- initSession.Run(ctx) }()
	go func() { runErrB <- respSession.Run(ctx) }()

	select {
	case s := <-initEstablished:
		if s.PeerID() != responderID.PeerID() {
			t.Errorf("initiator session PeerID = %s, want %s", s.PeerID(), responderID.PeerID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initiator OnEstablished")
	}

	select {
	case s := <-respEstablished:
		if s.PeerID() != initiatorID.PeerID() {
			t.Errorf("responder session PeerID = %s, want %s", s.PeerID(), initiatorID.PeerID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for responder OnEstablished")
	}

	if !initSession.SendClipText("hello from initiator") {
		t.Fatal("SendClipText reported queue full")
	}

	select {
	case got := <-respText:
		if got != "hello from initiator" {
			t.Errorf("got clip text %q, want %q", got, "hello from initiator")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for clip text delivery")
	}

	cancel()
	<-runErrA
	<-runErrB
}

func TestHandshakeRejectsUntrustedInitiator(t *testing.T) {
	initiatorID := newTestIdentity(t)
	responderID := newTestIdentity(t)

	initiatorTrust := newTestTrustStore(t)
	mustTrust(t, initiatorTrust, responderID, "Responder")

	// Responder does NOT trust the initiator and has no auto-trust
	// function armed, so the handshake must be rejected.
	responderTrust := newTestTrustStore(t)

	connA, connB := net.Pipe()

	initSession := New(Config{
		Conn:         connA,
		Role:         RoleInitiator,
		Local:        initiatorID,
		Trust:        initiatorTrust,
		DisplayName:  "Initiator",
		RemotePeerID: responderID.PeerID(),
	})
	respSession := New(Config{
		Conn:        connB,
		Role:        RoleResponder,
		Local:       responderID,
		Trust:       responderTrust,
		DisplayName: "Responder",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrA := make(chan error, 1)
	runErrB := make(chan error, 1)
	go func() { runErrA <- initSession.Run(ctx) }()
	go func() { runErrB <- respSession.Run(ctx) }()

	errB := <-runErrB
	if !errors.Is(errB, ErrUntrustedPeer) {
		t.Errorf("expected ErrUntrustedPeer from responder, got %v", errB)
	}
	<-runErrA
}

func TestHandshakeAutoTrustAcceptsUnknownPeer(t *testing.T) {
	initiatorID := newTestIdentity(t)
	responderID := newTestIdentity(t)

	initiatorTrust := newTestTrustStore(t)
	mustTrust(t, initiatorTrust, responderID, "Responder")

	responderTrust := newTestTrustStore(t)

	connA, connB := net.Pipe()

	respEstablished := make(chan *Session, 1)

	initSession := New(Config{
		Conn:         connA,
		Role:         RoleInitiator,
		Local:        initiatorID,
		Trust:        initiatorTrust,
		DisplayName:  "Initiator",
		RemotePeerID: responderID.PeerID(),
	})
	respSession := New(Config{
		Conn:        connB,
		Role:        RoleResponder,
		Local:       responderID,
		Trust:       responderTrust,
		DisplayName: "Responder",
		AutoTrust: func(peerID string, _ []byte) (string, bool) {
			return "Auto-trusted device", true
		},
		Events: Events{
			OnEstablished: func(s *Session) { respEstablished <- s },
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = initSession.Run(ctx) }()
	go func() { _ = respSession.Run(ctx) }()

	select {
	case <-respEstablished:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for auto-trusted session to establish")
	}

	if !responderTrust.Matches(initiatorID.PeerID(), initiatorID.PublicKey[:]) {
		t.Errorf("expected auto-trust to have recorded the initiator in the trust store")
	}

	cancel()
}

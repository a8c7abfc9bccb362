package transport

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.openclipboard.dev/node/internal/identity"
	"go.openclipboard.dev/node/internal/session"
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

func mustTrust(t *testing.T, store *trust.Store, peer *identity.Identity, name string) {
	t.Helper()
	rec := trust.RecordFor(peer.PublicKey[:], name)
	if err := store.Add(rec.PeerID, rec.IdentityPK, rec.DisplayName); err != nil {
		t.Fatalf("trust.Add: %v", err)
	}
}

// freePort asks the OS for an ephemeral port, then releases it immediately
// so Listener.Start can bind it. There's a narrow race if something else
// grabs it first, acceptable for a test.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freePort: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestListenerAndDialerEstablishSession(t *testing.T) {
	serverID := newTestIdentity(t)
	clientID := newTestIdentity(t)

	serverTrust := newTestTrustStore(t)
	mustTrust(t, serverTrust, clientID, "Client")

	clientTrust := newTestTrustStore(t)
	mustTrust(t, clientTrust, serverID, "Server")

	port := freePort(t)

	clipReceived := make(chan string, 1)
	ln := NewListener(Config{
		Local:       serverID,
		Trust:       serverTrust,
		DisplayName: "Server",
		Events: session.Events{
			OnClipText: func(_, text string) { clipReceived <- text },
		},
	})
	if err := ln.Start(port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ln.Stop()

	dialer := NewDialer(clientID, clientTrust, "Client")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	s, err := dialer.ConnectAndSendText(ctx, addr, serverID.PeerID(), "integration hello", session.Events{})
	if err != nil {
		t.Fatalf("ConnectAndSendText: %v", err)
	}
	defer s.Close()

	select {
	case got := <-clipReceived:
		if got != "integration hello" {
			t.Errorf("got %q, want %q", got, "integration hello")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the server to receive clip text")
	}
}

func TestListenerStartRejectsDoubleBind(t *testing.T) {
	port := freePort(t)

	id := newTestIdentity(t)
	trustStore := newTestTrustStore(t)

	first := NewListener(Config{Local: id, Trust: trustStore, DisplayName: "A"})
	if err := first.Start(port); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer first.Stop()

	second := NewListener(Config{Local: id, Trust: trustStore, DisplayName: "B"})
	err := second.Start(port)
	if !errors.Is(err, ErrAddressInUse) {
		t.Errorf("expected ErrAddressInUse, got %v", err)
	}
}

func TestConnectFailsAgainstUntrustedServer(t *testing.T) {
	serverID := newTestIdentity(t)
	clientID := newTestIdentity(t)

	serverTrust := newTestTrustStore(t)
	// Server does not trust the client and has no auto-trust configured.
	clientTrust := newTestTrustStore(t)
	mustTrust(t, clientTrust, serverID, "Server")

	port := freePort(t)
	ln := NewListener(Config{Local: serverID, Trust: serverTrust, DisplayName: "Server"})
	if err := ln.Start(port); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ln.Stop()

	dialer := NewDialer(clientID, clientTrust, "Client")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	_, err := dialer.Connect(ctx, addr, serverID.PeerID(), session.Events{})
	if err == nil {
		t.Fatal("expected Connect to fail against an untrusting server")
	}
}


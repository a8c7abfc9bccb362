package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.openclipboard.dev/node/internal/frame"
	"go.openclipboard.dev/node/internal/pairing"
	"go.openclipboard.dev/node/internal/session"
	"go.openclipboard.dev/node/internal/transport"
)

func TestWrapErrTranslatesSentinels(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"address in use", transport.ErrAddressInUse, KindAddressInUse},
		{"malformed pairing", pairing.ErrMalformedPairing, KindMalformedPairing},
		{"nonce mismatch", pairing.ErrNonceMismatch, KindNonceMismatch},
		{"untrusted peer", session.ErrUntrustedPeer, KindUntrustedPeer},
		{"identity mismatch", session.ErrIdentityMismatch, KindIdentityMismatch},
		{"bad sequence", session.ErrBadSequence, KindBadSequence},
		{"timeout", session.ErrTimeout, KindTimeout},
		{"invalid frame", frame.ErrInvalidFrame, KindInvalidFrame},
		{"unknown", errors.New("boom"), KindIO},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wrapped := wrapErr(c.err)
			if wrapped.Kind != c.kind {
				t.Errorf("wrapErr(%v).Kind = %v, want %v", c.err, wrapped.Kind, c.kind)
			}
			if !errors.Is(wrapped, c.err) {
				t.Errorf("wrapErr(%v) does not unwrap to the original sentinel", c.err)
			}
		})
	}
}

func TestWrapErrNilIsNil(t *testing.T) {
	if wrapErr(nil) != nil {
		t.Errorf("wrapErr(nil) should return nil")
	}
}

func TestErrorStringIncludesKindAndCause(t *testing.T) {
	e := &Error{Kind: KindTimeout, Err: fmt.Errorf("dial: %w", session.ErrTimeout)}
	msg := e.Error()
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
	if !strings.Contains(msg, "Timeout") || !strings.Contains(msg, session.ErrTimeout.Error()) {
		t.Errorf("Error() = %q, want it to name the kind and the cause", msg)
	}
	if got := e.Kind.String(); got != "Timeout" {
		t.Errorf("ErrorKind.String() = %q, want Timeout", got)
	}
}

func TestNewGeneratesIdentityOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	idPath := filepath.Join(dir, "identity.json")
	trustPath := filepath.Join(dir, "trust.json")

	n1, err := New(idPath, trustPath, "Test Node")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	peerID := n1.PeerID()
	if peerID == "" {
		t.Fatal("expected a non-empty PeerID")
	}

	n2, err := New(idPath, trustPath, "Test Node")
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	if n2.PeerID() != peerID {
		t.Errorf("reopening the node produced a different PeerID: %s != %s", n2.PeerID(), peerID)
	}
}

func TestPairViaQRRejectsMalformedPairingString(t *testing.T) {
	dir := t.TempDir()
	n, err := New(filepath.Join(dir, "identity.json"), filepath.Join(dir, "trust.json"), "Test Node")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, _, err = n.PairViaQR(context.Background(), "not-a-pairing-string")
	if err == nil {
		t.Fatal("expected an error for a malformed pairing string")
	}
	var nodeErr *Error
	if !errors.As(err, &nodeErr) {
		t.Fatalf("expected a *node.Error, got %T", err)
	}
	if nodeErr.Kind != KindMalformedPairing {
		t.Errorf("got Kind %v, want MalformedPairing", nodeErr.Kind)
	}
}

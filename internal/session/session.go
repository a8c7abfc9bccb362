// Package session implements one authenticated, encrypted channel between
// two nodes: a Noise-IK handshake, a HELLO exchange binding the handshake
// key to a PeerId, and post-handshake AEAD-sealed framing with PING/PONG
// keep-alive.
//
// A Session owns its net.Conn for its entire lifetime: one reader goroutine
// and one writer goroutine per session, mirroring the teacher's
// internal/tcppeer.Peer, which runs exactly this send/receive goroutine
// split per connection. Unlike the teacher (which authenticates with a
// single bearer token shared by the whole network), each Session
// authenticates its remote peer individually against the trust store,
// since the handshake itself is per-peer asymmetric key agreement rather
// than a shared secret.
package session

import (
	"bufio"
	"context"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flynn/noise"
	"golang.org/x/crypto/chacha20poly1305"

	"go.openclipboard.dev/node/internal/frame"
	"go.openclipboard.dev/node/internal/identity"
	"go.openclipboard.dev/node/internal/trust"
)

// Role is which side of the handshake this session plays.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// State is the session's position in its lifecycle.
type State int32

const (
	StateNew State = iota
	StateHandshaking
	StateHelloPending
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateHelloPending:
		return "HELLO_PENDING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors surfaced to the node façade as error-kind categories.
var (
	ErrUntrustedPeer    = errors.New("session: untrusted peer")
	ErrIdentityMismatch = errors.New("session: HELLO peer id does not match handshake key")
	ErrBadSequence      = errors.New("session: out-of-order or replayed frame")
	ErrTimeout          = errors.New("session: timed out")
	ErrClosed           = errors.New("session: closed")
)

const (
	handshakeTimeout = 10 * time.Second
	pingInterval     = 15 * time.Second
	pongTimeout      = 10 * time.Second
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// helloPayload is the JSON body of a HELLO frame. Unknown fields decoded
// into it are silently ignored by encoding/json, satisfying the
// schema-extensibility rule.
type helloPayload struct {
	PeerID string   `json:"peerId"`
	Name   string   `json:"name"`
	Caps   []string `json:"caps"`
}

// AutoTrustFunc lets a caller (the pairing/QR flow) authorize a peer that
// is not yet in the trust store, based on the static key presented during
// the handshake. It returns the display name to record and whether to
// accept; Session adds the record to the trust store itself when this
// returns true.
type AutoTrustFunc func(peerID string, staticPublicKey []byte) (displayName string, ok bool)

// Events is the set of callbacks a Session reports through. All are
// invoked from the session's own reader/writer goroutines; callers that
// share state across sessions must synchronize.
type Events struct {
	// OnEstablished receives the Session itself (not just its PeerID) so
	// callers that own a registry of live sessions — the mesh engine's
	// ConnectedPeerTable — can record it without a second lookup.
	OnEstablished  func(s *Session)
	OnClipText     func(peerID, text string)
	OnDisconnected func(peerID string)
	OnError        func(peerID string, err error)
}

// Session is one live connection to a remote peer.
type Session struct {
	conn   net.Conn
	r      *bufio.Reader
	role   Role
	local  *identity.Identity
	trust  *trust.Store
	events Events

	displayName string
	autoTrust   AutoTrustFunc

	// remotePeerID is known in advance for the initiator (the peer it
	// dialed) and learned from the handshake static key for the responder.
	remotePeerID string

	state atomic.Int32

	sendMu   sync.Mutex
	sendAEAD cipher.AEAD
	sendSeq  uint64

	recvAEAD cipher.AEAD
	recvSeq  uint64

	out chan frame.Frame // application frames queued for the writer goroutine

	closeOnce sync.Once
	closed    chan struct{}

	pingToken       uint64
	pingOutstanding atomic.Bool
}

// Config parameterizes New.
type Config struct {
	Conn         net.Conn
	Role         Role
	Local        *identity.Identity
	Trust        *trust.Store
	DisplayName  string
	RemotePeerID string // required for RoleInitiator
	AutoTrust    AutoTrustFunc
	Events       Events
}

// New constructs a Session. Call Run to drive its handshake and I/O loops.
func New(cfg Config) *Session {
	s := &Session{
		conn:         cfg.Conn,
		r:            bufio.NewReader(cfg.Conn),
		role:         cfg.Role,
		local:        cfg.Local,
		trust:        cfg.Trust,
		events:       cfg.Events,
		displayName:  cfg.DisplayName,
		autoTrust:    cfg.AutoTrust,
		remotePeerID: cfg.RemotePeerID,
		out:          make(chan frame.Frame, 16),
		closed:       make(chan struct{}),
	}
	s.state.Store(int32(StateNew))
	return s
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// PeerID returns the remote peer's id, valid once the handshake completes.
func (s *Session) PeerID() string { return s.remotePeerID }

// Run performs the handshake, the HELLO exchange, and then drives the
// session until it closes (remote close, protocol error, or ctx
// cancellation). It always returns after the connection is closed and
// both goroutines have exited.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	s.state.Store(int32(StateHandshaking))
	if err := s.conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return fmt.Errorf("session: set handshake deadline: %w", err)
	}
	if err := s.handshake(); err != nil {
		s.reportError(err)
		return err
	}
	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("session: clear deadline: %w", err)
	}

	s.state.Store(int32(StateHelloPending))
	if err := s.exchangeHello(); err != nil {
		s.reportError(err)
		return err
	}

	s.state.Store(int32(StateEstablished))
	if s.events.OnEstablished != nil {
		s.events.OnEstablished(s)
	}

	errc := make(chan error, 2)
	go func() { errc <- s.readLoop() }()
	go func() { errc <- s.writeLoop() }()

	var firstErr error
	select {
	case <-ctx.Done():
		firstErr = ctx.Err()
	case firstErr = <-errc:
	}
	s.Close()
	<-errc // wait for the other goroutine to observe the close

	s.state.Store(int32(StateClosed))
	if s.events.OnDisconnected != nil {
		s.events.OnDisconnected(s.remotePeerID)
	}
	if firstErr != nil && !errors.Is(firstErr, ErrClosed) && !errors.Is(firstErr, io.EOF) {
		s.reportError(firstErr)
		return firstErr
	}
	return nil
}

// Close closes the underlying connection, unblocking both loops. Safe to
// call multiple times and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.conn.Close()
	})
}

// SendClipText enqueues a CLIP_TEXT frame for delivery. Non-blocking: if
// the outbound queue is full the send is dropped, matching the
// best-effort fan-out the mesh engine expects.
func (s *Session) SendClipText(text string) bool {
	select {
	case s.out <- frame.Frame{Type: frame.TypeClipText, StreamID: 2, Payload: []byte(text)}:
		return true
	default:
		return false
	}
}

// handshake runs the Noise-IK exchange and authenticates the remote
// static key against the trust store (or the AutoTrustFunc, for the QR
// pairing listener).
func (s *Session) handshake() error {
	staticKeypair := noise.DHKey{
		Private: append([]byte(nil), s.local.PrivateKey[:]...),
		Public:  append([]byte(nil), s.local.PublicKey[:]...),
	}

	cfg := noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     s.role == RoleInitiator,
		StaticKeypair: staticKeypair,
	}

	if s.role == RoleInitiator {
		rec, ok := s.trust.Get(s.remotePeerID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUntrustedPeer, s.remotePeerID)
		}
		pub, err := rec.PublicKey()
		if err != nil {
			return fmt.Errorf("%w: stored key for %s: %v", ErrUntrustedPeer, s.remotePeerID, err)
		}
		cfg.PeerStatic = pub
	}

	hs, err := noise.NewHandshakeState(cfg)
	if err != nil {
		return fmt.Errorf("session: start handshake: %w", err)
	}

	var cs1, cs2 *noise.CipherState

	if s.role == RoleInitiator {
		msg, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return fmt.Errorf("session: write handshake msg1: %w", err)
		}
		if err := writeLenPrefixed(s.conn, msg); err != nil {
			return err
		}
		reply, err := readLenPrefixed(s.r)
		if err != nil {
			return err
		}
		_, cs1, cs2, err = hs.ReadMessage(nil, reply)
		if err != nil {
			return fmt.Errorf("session: read handshake msg2: %w", err)
		}
	} else {
		msg1, err := readLenPrefixed(s.r)
		if err != nil {
			return err
		}
		if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
			return fmt.Errorf("session: read handshake msg1: %w", err)
		}

		remoteStatic := hs.PeerStatic()
		peerID := identity.PeerID(remoteStatic)
		if !s.trust.Matches(peerID, remoteStatic) {
			if s.autoTrust == nil {
				return fmt.Errorf("%w: %s", ErrUntrustedPeer, peerID)
			}
			name, ok := s.autoTrust(peerID, remoteStatic)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUntrustedPeer, peerID)
			}
			if err := s.trust.Add(peerID, encodeB64(remoteStatic), name); err != nil {
				return fmt.Errorf("session: auto-trust add: %w", err)
			}
		}
		s.remotePeerID = peerID

		out, c1, c2, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return fmt.Errorf("session: write handshake msg2: %w", err)
		}
		if err := writeLenPrefixed(s.conn, out); err != nil {
			return err
		}
		cs1, cs2 = c1, c2
	}

	// Noise splits the handshake into two CipherStates, (initiator-send,
	// responder-send). Each side extracts the raw 32-byte key from its own
	// CipherState (cs.UnsafeKey(), the same extraction the pack's Noise-IK
	// handshake uses) rather than calling CipherState.Encrypt/Decrypt
	// directly, so the per-frame nonce can be the frame's own sequence
	// number instead of an internal auto-incrementing counter — that is
	// what lets readSealedFrame enforce BadSequence against the exact
	// value in the frame header.
	var sendKey, recvKey [32]byte
	if s.role == RoleInitiator {
		copy(sendKey[:], cs1.UnsafeKey())
		copy(recvKey[:], cs2.UnsafeKey())
	} else {
		copy(sendKey[:], cs2.UnsafeKey())
		copy(recvKey[:], cs1.UnsafeKey())
	}

	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return fmt.Errorf("session: build send cipher: %w", err)
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return fmt.Errorf("session: build recv cipher: %w", err)
	}
	s.sendAEAD, s.recvAEAD = sendAEAD, recvAEAD
	return nil
}

// seqNonce derives a 12-byte ChaCha20-Poly1305 nonce from a frame
// sequence number.
func seqNonce(seq uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

// exchangeHello sends and receives exactly one HELLO frame and validates
// that the peer's announced id matches the one bound by the handshake
// key.
func (s *Session) exchangeHello() error {
	hello := helloPayload{
		PeerID: s.local.PeerID(),
		Name:   s.displayName,
		Caps:   []string{"clip_text"},
	}
	body, err := json.Marshal(hello)
	if err != nil {
		return fmt.Errorf("session: marshal hello: %w", err)
	}

	type result struct {
		f   frame.Frame
		err error
	}
	recvc := make(chan result, 1)
	go func() {
		f, err := s.readSealedFrame()
		recvc <- result{f, err}
	}()

	if err := s.writeSealedFrame(frame.Frame{Type: frame.TypeHello, StreamID: 1, Payload: body}); err != nil {
		return err
	}

	res := <-recvc
	if res.err != nil {
		return res.err
	}
	if res.f.Type != frame.TypeHello {
		return fmt.Errorf("%w: expected HELLO, got %s", frame.ErrInvalidFrame, res.f.Type)
	}
	var remoteHello helloPayload
	if err := json.Unmarshal(res.f.Payload, &remoteHello); err != nil {
		return fmt.Errorf("%w: bad HELLO json: %v", frame.ErrInvalidFrame, err)
	}

	if remoteHello.PeerID != s.remotePeerID {
		return fmt.Errorf("%w: got %s want %s", ErrIdentityMismatch, remoteHello.PeerID, s.remotePeerID)
	}
	return nil
}

// readLoop reads and dispatches frames until the connection closes.
func (s *Session) readLoop() error {
	for {
		f, err := s.readSealedFrame()
		if err != nil {
			return err
		}
		switch f.Type {
		case frame.TypeClipText:
			if s.events.OnClipText != nil {
				s.events.OnClipText(s.remotePeerID, string(f.Payload))
			}
		case frame.TypePing:
			s.out <- frame.Frame{Type: frame.TypePong, StreamID: 1, Payload: f.Payload}
		case frame.TypePong:
			// The peer responded in time: the read deadline writeLoop set
			// when it sent the ping no longer applies. Clearing it here,
			// rather than on every frame, keeps Timeout meaning exactly
			// what section 4.4 specifies: a PONG that never arrives.
			if s.pingOutstanding.CompareAndSwap(true, false) {
				if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
					return fmt.Errorf("session: clear pong deadline: %w", err)
				}
			}
		default:
			// unknown/reserved types (file transfer) are ignored in v0.
		}
	}
}

// writeLoop drains the outbound queue and drives the PING keep-alive.
func (s *Session) writeLoop() error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return ErrClosed
		case f := <-s.out:
			if err := s.writeSealedFrame(f); err != nil {
				return err
			}
		case <-ticker.C:
			token := make([]byte, 8)
			binary.BigEndian.PutUint64(token, s.pingToken)
			s.pingToken++
			if err := s.writeSealedFrame(frame.Frame{Type: frame.TypePing, StreamID: 1, Payload: token}); err != nil {
				return err
			}
			s.pingOutstanding.Store(true)
			if err := s.conn.SetReadDeadline(time.Now().Add(pongTimeout)); err != nil {
				return fmt.Errorf("session: set pong deadline: %w", err)
			}
		}
	}
}

// writeSealedFrame encodes f, seals it under the send CipherState, and
// writes the length-prefixed ciphertext.
func (s *Session) writeSealedFrame(f frame.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.sendSeq++
	f.Seq = s.sendSeq
	plaintext := frame.Encode(f)
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, f.Seq)
	ciphertext := s.sendAEAD.Seal(nil, seqNonce(f.Seq), plaintext, ad)
	return writeLenPrefixed(s.conn, ciphertext)
}

// readSealedFrame blocks for the next sealed frame, opens it, and enforces
// strictly-increasing sequence numbers.
func (s *Session) readSealedFrame() (frame.Frame, error) {
	ciphertext, err := readLenPrefixed(s.r)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return frame.Frame{}, fmt.Errorf("%w: pong deadline", ErrTimeout)
		}
		return frame.Frame{}, err
	}

	// Both sides advance the sequence by exactly one per frame, so the
	// receiver already knows the nonce/associated-data the sender must
	// have used for the next legitimate frame. A replayed, reordered, or
	// tampered ciphertext fails authentication against that expectation,
	// which we surface uniformly as BadSequence.
	expectedSeq := s.recvSeq + 1
	ad := make([]byte, 8)
	binary.BigEndian.PutUint64(ad, expectedSeq)
	plaintext, err := s.recvAEAD.Open(nil, seqNonce(expectedSeq), ciphertext, ad)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: seq %d: %v", ErrBadSequence, expectedSeq, err)
	}

	f, err := frame.Decode(plaintext)
	if err != nil {
		return frame.Frame{}, err
	}
	s.recvSeq = expectedSeq
	f.Seq = expectedSeq
	return f, nil
}

func (s *Session) reportError(err error) {
	if s.events.OnError != nil {
		s.events.OnError(s.remotePeerID, err)
	}
}

func encodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// writeLenPrefixed writes a 4-byte big-endian length followed by data.
// Used for handshake messages and post-handshake sealed frames alike —
// both are opaque byte blobs of varying size that need stream
// demarcation before the frame header itself is meaningful (during the
// handshake there is no frame header yet).
func writeLenPrefixed(w io.Writer, data []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("session: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("session: write payload: %w", err)
	}
	return nil
}

// readLenPrefixed reads one length-prefixed blob from r.
func readLenPrefixed(r *bufio.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("session: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > frame.MaxFrame+256 { // small allowance over payload cap for AEAD overhead
		return nil, fmt.Errorf("%w: oversized length-prefixed message", frame.ErrInvalidFrame)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("session: read payload: %w", err)
	}
	return buf, nil
}

// Package transport owns the TCP listener and outbound dialer: it accepts
// or opens raw connections and hands each one to a new session.Session.
//
// Grounded on the teacher's cmd/suffuse/server.go accept loop (listen,
// accept in a loop, spawn a handler per connection) and its
// cmd/suffuse/helpers.go dial/backoff helpers, generalized from gRPC
// dialing to a plain net.Dial plus the Noise-IK session handshake.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"go.openclipboard.dev/node/internal/identity"
	"go.openclipboard.dev/node/internal/session"
	"go.openclipboard.dev/node/internal/trust"
)

// DefaultPort is the TCP port the node listens on absent an override.
const DefaultPort = 18455

const dialTimeout = 5 * time.Second

// ErrAddressInUse wraps a bind failure so callers can surface the
// AddressInUse error kind without inspecting *net.OpError themselves.
var ErrAddressInUse = errors.New("transport: address in use")

// EventSink receives errors the accept loop cannot attribute to any one
// session (e.g. a bind failure).
type EventSink interface {
	OnError(message string)
}

// Listener accepts inbound connections and starts a responder-role
// session for each.
type Listener struct {
	local  *identity.Identity
	trust  *trust.Store
	sink   EventSink
	events session.Events
	name   string

	mu        sync.Mutex
	ln        net.Listener
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	autoTrust session.AutoTrustFunc // guarded by mu; read once per accepted connection
}

// Config parameterizes NewListener.
type Config struct {
	Local       *identity.Identity
	Trust       *trust.Store
	DisplayName string
	Sink        EventSink
	AutoTrust   session.AutoTrustFunc
	Events      session.Events
}

// NewListener constructs a Listener; call Start to bind and begin
// accepting.
func NewListener(cfg Config) *Listener {
	return &Listener{
		local:     cfg.Local,
		trust:     cfg.Trust,
		sink:      cfg.Sink,
		autoTrust: cfg.AutoTrust,
		events:    cfg.Events,
		name:      cfg.DisplayName,
	}
}

// SetAutoTrust installs (or, passed nil, clears) the callback used to
// auto-trust the next inbound handshake whose presented key isn't yet in
// the trust store — the QR pairing listener's enable/disable toggle.
func (l *Listener) SetAutoTrust(fn session.AutoTrustFunc) {
	l.mu.Lock()
	l.autoTrust = fn
	l.mu.Unlock()
}

func (l *Listener) getAutoTrust() session.AutoTrustFunc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.autoTrust
}

// Start binds 0.0.0.0:port and begins accepting in a background goroutine.
// Returns ErrAddressInUse on a bind collision.
func (l *Listener) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		if isAddrInUse(err) {
			return fmt.Errorf("%w: port %d", ErrAddressInUse, port)
		}
		return fmt.Errorf("transport: listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.ln = ln
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.acceptLoop(ctx, ln)
	return nil
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if l.sink != nil {
				l.sink.OnError(fmt.Sprintf("transport: accept: %v", err))
			}
			return
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			s := session.New(session.Config{
				Conn:        conn,
				Role:        session.RoleResponder,
				Local:       l.local,
				Trust:       l.trust,
				DisplayName: l.name,
				AutoTrust:   l.getAutoTrust(),
				Events:      l.events,
			})
			if err := s.Run(ctx); err != nil && l.sink != nil {
				l.sink.OnError(fmt.Sprintf("transport: session: %v", err))
			}
		}()
	}
}

// Stop cancels the accept loop and every active session, and blocks until
// the listening socket and all session sockets are released.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		cancel := l.cancel
		ln := l.ln
		l.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if ln != nil {
			ln.Close()
		}
		l.wg.Wait()
	})
}

// Dialer opens outbound connections and runs the initiator-role
// handshake.
type Dialer struct {
	local       *identity.Identity
	trust       *trust.Store
	displayName string
}

// NewDialer constructs a Dialer.
func NewDialer(local *identity.Identity, trust *trust.Store, displayName string) *Dialer {
	return &Dialer{local: local, trust: trust, displayName: displayName}
}

// ConnectAndSendText dials addr, runs the client-role handshake, and sends
// one CLIP_TEXT frame once ESTABLISHED. The session is returned still
// running, so the caller may keep it open for further use; as with
// Connect, the caller is responsible for closing it.
func (d *Dialer) ConnectAndSendText(ctx context.Context, addr, remotePeerID, text string, events session.Events) (*session.Session, error) {
	s, err := d.Connect(ctx, addr, remotePeerID, events)
	if err != nil {
		return nil, err
	}
	if !s.SendClipText(text) {
		return s, fmt.Errorf("transport: outbound queue full for %s", remotePeerID)
	}
	return s, nil
}

// Connect dials addr and blocks until the session reaches ESTABLISHED (or
// fails). The returned session's Run loop keeps executing in the
// background; the caller is responsible for eventually closing it.
func (d *Dialer) Connect(ctx context.Context, addr, remotePeerID string, events session.Events) (*session.Session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	established := make(chan struct{}, 1)
	wrapped := events
	userOnEstablished := events.OnEstablished
	wrapped.OnEstablished = func(s *session.Session) {
		select {
		case established <- struct{}{}:
		default:
		}
		if userOnEstablished != nil {
			userOnEstablished(s)
		}
	}

	s := session.New(session.Config{
		Conn:         conn,
		Role:         session.RoleInitiator,
		Local:        d.local,
		Trust:        d.trust,
		DisplayName:  d.displayName,
		RemotePeerID: remotePeerID,
		Events:       wrapped,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	select {
	case <-established:
		return s, nil
	case err := <-runErr:
		if err == nil {
			err = errors.New("transport: session closed before establishing")
		}
		return nil, err
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}

// Package mesh is the engine that polls the local clipboard, fans
// out changes to connected trusted peers, and dials newly-discovered
// trusted peers to keep the mesh connected.
//
// Mesh owns every Session it creates, directly or via its Listener's
// accept loop, and exposes nothing back to its Sessions but a callback
// set — the ownership direction the teacher's hub.Hub also follows
// (Hub owns Peers; Peers never reach back into the Hub's internals,
// only call the methods Hub exposes). Mesh additionally owns a
// discovery.Service and a transport.Listener for the lifetime of
// start_mesh, matching the "Starts C5 + C6 + C9" contract.
package mesh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.openclipboard.dev/node/internal/discovery"
	"go.openclipboard.dev/node/internal/history"
	"go.openclipboard.dev/node/internal/identity"
	"go.openclipboard.dev/node/internal/session"
	"go.openclipboard.dev/node/internal/transport"
	"go.openclipboard.dev/node/internal/trust"
)

// ClipboardCapability is the minimal capability the poll loop needs. It
// is declared locally (rather than imported from internal/node) so mesh
// does not import the façade package back; internal/node's richer
// embedder-facing interface satisfies this one structurally.
type ClipboardCapability interface {
	ReadText() (string, bool)
	WriteText(text string) error
}

// Sink is the subset of the node's event sink the mesh engine drives.
type Sink interface {
	OnClipboardText(peerID, text string, tsMs int64)
	OnPeerConnected(peerID string)
	OnPeerDisconnected(peerID string)
	OnError(message string)
}

const (
	defaultPollInterval  = 250 * time.Millisecond
	echoSuppressCapacity = 20
	backoffInitial       = 1 * time.Second
	backoffMax           = 30 * time.Second
	connMgrTick          = 1 * time.Second
)

type nearbyPeer struct {
	peerID string
	name   string
	addr   string
}

type backoffState struct {
	delay       time.Duration
	nextAttempt time.Time
	inFlight    bool
}

// Config parameterizes New.
type Config struct {
	Local       *identity.Identity
	Trust       *trust.Store
	History     *history.Store
	Clip         ClipboardCapability
	Sink         Sink
	DisplayName  string
	PollInterval time.Duration
}

// Mesh is the running clipboard-sync engine for one node.
type Mesh struct {
	local        *identity.Identity
	trust        *trust.Store
	history      *history.Store
	clip         ClipboardCapability
	sink         Sink
	displayName  string
	pollInterval time.Duration

	dialer   *transport.Dialer
	listener *transport.Listener
	disco    *discovery.Service
	echo     *echoSuppressor

	mu        sync.Mutex
	connected map[string]*session.Session // peerId -> established session
	nearby    map[string]nearbyPeer       // peerId -> last-known address
	backoff   map[string]*backoffState    // peerId -> reconnect state

	lastLocalText string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Mesh. Call Start to begin the poll loop, listener, and
// discovery.
func New(cfg Config) *Mesh {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Mesh{
		local:        cfg.Local,
		trust:        cfg.Trust,
		history:      cfg.History,
		clip:         cfg.Clip,
		sink:         cfg.Sink,
		displayName:  cfg.DisplayName,
		pollInterval: interval,
		dialer:       transport.NewDialer(cfg.Local, cfg.Trust, cfg.DisplayName),
		echo:         newEchoSuppressor(echoSuppressCapacity),
		connected:    make(map[string]*session.Session),
		nearby:       make(map[string]nearbyPeer),
		backoff:      make(map[string]*backoffState),
	}
}

// Start launches the TCP listener, LAN discovery, the poll loop, and the
// connection-management loop.
func (m *Mesh) Start(port int, serviceName string) error {
	m.listener = transport.NewListener(transport.Config{
		Local:       m.local,
		Trust:       m.trust,
		DisplayName: m.displayName,
		Sink:        sinkAdapter{m},
		Events:      m.sessionEvents(),
	})
	if err := m.listener.Start(port); err != nil {
		return err
	}

	m.disco = discovery.New(m.local.PeerID())
	if err := m.disco.Start(serviceName, port, discoAdapter{m}); err != nil {
		m.listener.Stop()
		return fmt.Errorf("mesh: start discovery: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	// Seed the baseline with whatever is already on the clipboard so the
	// first poll tick treats it as the starting point, not a change to
	// fan out to peers that just connected.
	if text, ok := m.clip.ReadText(); ok {
		m.lastLocalText = text
	}

	m.wg.Add(2)
	go func() { defer m.wg.Done(); m.pollLoop(ctx) }()
	go func() { defer m.wg.Done(); m.connMgrLoop(ctx) }()
	return nil
}

// Stop tears down discovery, the listener, every connected session, and
// both background loops. Idempotent.
func (m *Mesh) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.disco != nil {
		m.disco.Stop()
	}
	if m.listener != nil {
		m.listener.Stop()
	}

	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.connected))
	for _, s := range m.connected {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}

	m.wg.Wait()
}

// SendClipboardText broadcasts text to every currently-connected trusted
// peer, best-effort.
func (m *Mesh) SendClipboardText(text string) {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.connected))
	for _, s := range m.connected {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.SendClipText(text)
	}
}

// WriteLocalWithoutBroadcast marks text in the echo-suppression FIFO and
// then writes it via the clipboard capability, so the poll loop does not
// observe it as a new local change and re-fan it out. Used by the node
// façade's recall_from_history.
func (m *Mesh) WriteLocalWithoutBroadcast(text string) error {
	m.echo.noteRemoteWrite(text)
	return m.clip.WriteText(text)
}

// EnableQRAutoTrust arms the listener so that the next inbound handshake
// whose PeerId matches expectedPeerID is trusted automatically under
// displayName, even though it is not yet in the trust store. The window
// closes after one successful pairing or an explicit DisableQRAutoTrust.
func (m *Mesh) EnableQRAutoTrust(expectedPeerID, displayName string) {
	if m.listener == nil {
		return
	}
	m.listener.SetAutoTrust(func(peerID string, _ []byte) (string, bool) {
		if peerID != expectedPeerID {
			return "", false
		}
		m.listener.SetAutoTrust(nil)
		return displayName, true
	})
}

// EnableQRAutoTrustAny arms the listener to trust whichever peer connects
// next, under displayName, closing the window after that one handshake.
// Used by the CLI's one-shot `ocnode serve --pair` window, where the
// joining device's PeerId isn't known in advance.
func (m *Mesh) EnableQRAutoTrustAny(displayName string) {
	if m.listener == nil {
		return
	}
	m.listener.SetAutoTrust(func(string, []byte) (string, bool) {
		m.listener.SetAutoTrust(nil)
		return displayName, true
	})
}

// DisableQRAutoTrust closes the auto-trust window without waiting for a
// pairing to complete.
func (m *Mesh) DisableQRAutoTrust() {
	if m.listener != nil {
		m.listener.SetAutoTrust(nil)
	}
}

// sessionEvents builds the callback set every Session this mesh creates
// (inbound via the listener, outbound via connMgrLoop) reports through.
func (m *Mesh) sessionEvents() session.Events {
	return session.Events{
		OnEstablished: func(s *session.Session) {
			peerID := s.PeerID()
			m.mu.Lock()
			m.connected[peerID] = s
			m.backoff[peerID] = &backoffState{delay: backoffInitial}
			m.mu.Unlock()
			m.sink.OnPeerConnected(peerID)
		},
		OnClipText: func(peerID, text string) {
			m.echo.noteRemoteWrite(text)
			if err := m.clip.WriteText(text); err != nil {
				m.sink.OnError(fmt.Sprintf("mesh: write clipboard: %v", err))
			}
			peerName := peerID
			if rec, ok := m.trust.Get(peerID); ok {
				peerName = rec.DisplayName
			}
			m.history.Record(peerName, text)
			m.sink.OnClipboardText(peerID, text, time.Now().UnixMilli())
		},
		OnDisconnected: func(peerID string) {
			m.mu.Lock()
			delete(m.connected, peerID)
			m.mu.Unlock()
			m.sink.OnPeerDisconnected(peerID)
		},
		OnError: func(peerID string, err error) {
			m.sink.OnError(fmt.Sprintf("mesh: session %s: %v", peerID, err))
		},
	}
}

// pollLoop watches the local clipboard and fans out changes.
func (m *Mesh) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			text, ok := m.clip.ReadText()
			if !ok || text == "" || text == m.lastLocalText {
				continue
			}
			m.lastLocalText = text
			if m.echo.shouldIgnoreLocal(text) {
				continue
			}
			m.history.Record("", text)
			m.SendClipboardText(text)
		}
	}
}

// connMgrLoop attempts to connect to any trusted, discovered, not-yet-
// connected peer whose backoff window has elapsed.
func (m *Mesh) connMgrLoop(ctx context.Context) {
	ticker := time.NewTicker(connMgrTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.attemptDue(ctx)
		}
	}
}

func (m *Mesh) attemptDue(ctx context.Context) {
	type attempt struct {
		peerID, addr string
	}
	var due []attempt

	now := time.Now()
	m.mu.Lock()
	for peerID, np := range m.nearby {
		if _, connected := m.connected[peerID]; connected {
			continue
		}
		if _, trusted := m.trust.Get(peerID); !trusted {
			continue
		}
		bo, ok := m.backoff[peerID]
		if !ok {
			bo = &backoffState{delay: backoffInitial}
			m.backoff[peerID] = bo
		}
		if bo.inFlight || now.Before(bo.nextAttempt) {
			continue
		}
		bo.inFlight = true
		due = append(due, attempt{peerID, np.addr})
	}
	m.mu.Unlock()

	for _, a := range due {
		go m.tryConnect(ctx, a.peerID, a.addr)
	}
}

func (m *Mesh) tryConnect(ctx context.Context, peerID, addr string) {
	// sessionEvents().OnEstablished registers the session into m.connected
	// as soon as the handshake finishes; Connect blocking until then is
	// what lets this goroutine also resolve the backoff state afterward.
	_, err := m.dialer.Connect(ctx, addr, peerID, m.sessionEvents())

	m.mu.Lock()
	bo := m.backoff[peerID]
	bo.inFlight = false
	if err != nil {
		bo.delay *= 2
		if bo.delay > backoffMax {
			bo.delay = backoffMax
		}
		bo.nextAttempt = time.Now().Add(bo.delay)
		m.mu.Unlock()
		m.sink.OnError(fmt.Sprintf("mesh: connect %s (%s): %v", peerID, addr, err))
		return
	}
	bo.delay = backoffInitial
	bo.nextAttempt = time.Time{}
	m.mu.Unlock()
}

// handleDiscovered records a nearby peer's address; connMgrLoop picks it
// up on its next tick.
func (m *Mesh) handleDiscovered(peerID, name, addr string) {
	m.mu.Lock()
	m.nearby[peerID] = nearbyPeer{peerID: peerID, name: name, addr: addr}
	if _, ok := m.backoff[peerID]; !ok {
		m.backoff[peerID] = &backoffState{delay: backoffInitial}
	}
	m.mu.Unlock()
}

func (m *Mesh) handleLost(peerID string) {
	m.mu.Lock()
	delete(m.nearby, peerID)
	m.mu.Unlock()
}

// sinkAdapter satisfies transport.EventSink by forwarding to the mesh's
// Sink.OnError.
type sinkAdapter struct{ m *Mesh }

func (a sinkAdapter) OnError(message string) { a.m.sink.OnError(message) }

// discoAdapter satisfies discovery.Sink by forwarding to the mesh's
// nearby-peer bookkeeping.
type discoAdapter struct{ m *Mesh }

func (a discoAdapter) OnPeerDiscovered(peerID, name, addr string) {
	a.m.handleDiscovered(peerID, name, addr)
}

func (a discoAdapter) OnPeerLost(peerID string) {
	a.m.handleLost(peerID)
}

func (a discoAdapter) OnError(message string) {
	a.m.sink.OnError(message)
}

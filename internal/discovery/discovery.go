// Package discovery advertises this node and browses for others on the
// LAN via DNS-SD/mDNS.
//
// No repository in the retrieval pack implements LAN service discovery
// directly (go-libp2p's mDNS module is wired to a libp2p host and does not
// fit a plain net.Conn-based node), so this package reaches for
// github.com/grandcat/zeroconf, the idiomatic Go library for exactly this
// advertise+browse+TXT contract — an ecosystem pick rather than a
// pack-grounded one. The goroutine-per-watcher shape mirrors the
// teacher's federation.Upstream: one long-lived goroutine per external
// resource, stopped via a context.
package discovery

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the fixed DNS-SD service type this node advertises and
// browses under.
const ServiceType = "_openclipboard._tcp"

const domain = "local."

// peerTTL is how long a peer may go unseen before it is reported lost.
// mDNS entries are refreshed well inside this window by zeroconf's own
// periodic re-query, so a real departure (not just a missed beacon) is
// what normally trips it.
const peerTTL = 90 * time.Second
const sweepInterval = 30 * time.Second

// Sink receives discovery events. Service calls it from several of its
// own goroutines (the browse-entry handler, the TTL sweep, and the browse
// loop's error path) without serializing them, so implementations must
// be safe for concurrent use.
type Sink interface {
	OnPeerDiscovered(peerID, name, addr string)
	OnPeerLost(peerID string)
	OnError(message string)
}

// Service advertises this node and browses for peers. Start is idempotent:
// calling it again while already running restarts the browse watcher,
// which is the documented way to recover from a network change.
type Service struct {
	selfPeerID string

	mu       sync.Mutex
	server   *zeroconf.Server
	cancel   context.CancelFunc
	lastSeen map[string]time.Time
	sink     Sink
	running  bool
}

// New constructs a Service. selfPeerID is compared against every observed
// entry so self-advertisements are suppressed.
func New(selfPeerID string) *Service {
	return &Service{selfPeerID: selfPeerID, lastSeen: make(map[string]time.Time)}
}

// Start advertises (name, port, peerID) and begins browsing for other
// instances, delivering events to sink. Calling Start again tears down
// the previous browse watcher and advertisement first.
func (s *Service) Start(name string, port int, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.stopLocked()
	}

	server, err := zeroconf.Register(
		s.selfPeerID,
		ServiceType,
		domain,
		port,
		[]string{
			"peer_id=" + s.selfPeerID,
			"name=" + name,
			"port=" + strconv.Itoa(port),
		},
		nil,
	)
	if err != nil {
		return fmt.Errorf("discovery: advertise: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.server = server
	s.cancel = cancel
	s.sink = sink
	s.lastSeen = make(map[string]time.Time)
	s.running = true

	go s.browseLoop(ctx)
	go s.sweepLoop(ctx)
	return nil
}

// sweepLoop periodically reports peers that have not refreshed within
// peerTTL as lost.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Service) sweepOnce() {
	s.mu.Lock()
	sink := s.sink
	var lost []string
	cutoff := time.Now().Add(-peerTTL)
	for peerID, last := range s.lastSeen {
		if last.Before(cutoff) {
			lost = append(lost, peerID)
			delete(s.lastSeen, peerID)
		}
	}
	s.mu.Unlock()

	if sink == nil {
		return
	}
	for _, peerID := range lost {
		sink.OnPeerLost(peerID)
	}
}

func (s *Service) browseLoop(ctx context.Context) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		s.reportError(fmt.Sprintf("discovery: new resolver: %v", err))
		return
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			s.handleEntry(entry)
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		s.reportError(fmt.Sprintf("discovery: browse: %v", err))
	}
	<-ctx.Done()
}

func (s *Service) handleEntry(entry *zeroconf.ServiceEntry) {
	txt := parseTXT(entry.Text)
	peerID := txt["peer_id"]
	if peerID == "" || peerID == s.selfPeerID {
		return
	}
	name := txt["name"]

	addr := ""
	if len(entry.AddrIPv4) > 0 {
		addr = fmt.Sprintf("%s:%d", entry.AddrIPv4[0].String(), entry.Port)
	} else if len(entry.AddrIPv6) > 0 {
		addr = fmt.Sprintf("[%s]:%d", entry.AddrIPv6[0].String(), entry.Port)
	} else {
		return
	}

	s.mu.Lock()
	sink := s.sink
	_, alreadySeen := s.lastSeen[peerID]
	s.lastSeen[peerID] = time.Now()
	s.mu.Unlock()

	if sink == nil {
		return
	}
	if !alreadySeen {
		sink.OnPeerDiscovered(peerID, name, addr)
	}
}

// reportError forwards a discovery failure to the active sink's OnError,
// matching the embedder contract that discovery degrades gracefully
// instead of aborting: the caller keeps running with reduced visibility,
// but the failure is no longer silent.
func (s *Service) reportError(message string) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	sink.OnError(message)
}

// Stop tears down the advertisement and browse watcher. Safe to call when
// not running.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		s.server.Shutdown()
	}
	s.server = nil
	s.cancel = nil
	s.running = false
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, r := range records {
		for i := 0; i < len(r); i++ {
			if r[i] == '=' {
				out[r[:i]] = r[i+1:]
				break
			}
		}
	}
	return out
}

// Package history keeps a bounded, in-memory record of clipboard values
// this node has sent or received. Entries are never written to disk: the
// specification this node follows treats clipboard contents as sensitive
// and requires an explicit configuration flag before persisting any of
// it, and no such flag exists in this implementation (see DESIGN.md).
//
// Entry ids use github.com/google/uuid, the id-generation idiom also seen
// in the retrieval pack's P2P agent implementations.
package history

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded clipboard value.
type Entry struct {
	ID        string
	PeerName  string // "" for a locally-originated entry
	Text      string
	Timestamp time.Time
}

// Store is a mutex-guarded ring buffer keyed by insertion order.
type Store struct {
	mu      sync.Mutex
	limit   int
	entries []Entry // newest at the end
}

const defaultLimit = 50

// New constructs a Store with the default capacity (50).
func New() *Store {
	return &Store{limit: defaultLimit}
}

// Record appends a new entry for (peerName, text), stamped with a fresh
// id and the current time, and returns it. If the store is at capacity,
// the oldest entry is dropped.
func (s *Store) Record(peerName, text string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{
		ID:        uuid.NewString(),
		PeerName:  peerName,
		Text:      text,
		Timestamp: time.Now(),
	}
	s.entries = append(s.entries, e)
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
	return e
}

// List returns up to limit entries, newest first. limit <= 0 means no
// cap.
func (s *Store) List(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newestFirst(s.entries, limit)
}

// ListForPeer returns up to limit entries from peerName, newest first.
func (s *Store) ListForPeer(peerName string, limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []Entry
	for _, e := range s.entries {
		if e.PeerName == peerName {
			filtered = append(filtered, e)
		}
	}
	return newestFirst(filtered, limit)
}

// FindTextContaining returns, newest first, entries from peerName whose
// text contains substr case-insensitively. peerName == "" matches any
// peer.
func (s *Store) FindTextContaining(peerName, substr string, limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(substr)
	var filtered []Entry
	for _, e := range s.entries {
		if peerName != "" && e.PeerName != peerName {
			continue
		}
		if strings.Contains(strings.ToLower(e.Text), needle) {
			filtered = append(filtered, e)
		}
	}
	return newestFirst(filtered, limit)
}

// Find returns the entry with the given id, if present.
func (s *Store) Find(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// SetLimit changes the store's capacity, clamped to [10, 200]. Shrinking
// drops the oldest entries immediately.
func (s *Store) SetLimit(n int) {
	if n < 10 {
		n = 10
	}
	if n > 200 {
		n = 200
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = n
	if len(s.entries) > s.limit {
		s.entries = s.entries[len(s.entries)-s.limit:]
	}
}

// newestFirst returns a newest-first copy of in, truncated to limit
// (limit <= 0 means unbounded).
func newestFirst(in []Entry, limit int) []Entry {
	n := len(in)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = in[len(in)-1-i]
	}
	return out
}

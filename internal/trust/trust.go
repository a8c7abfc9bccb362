// Package trust implements the persistent set of devices this node has
// paired with.
//
// The whole set is a single JSON document, serialized internally with a
// mutex (callers may invoke operations from any goroutine) and flushed
// atomically on every mutation — write to a temp file in the same
// directory, then rename over the target, exactly as internal/identity
// does for identity.json. A missing file is treated as an empty store.
package trust

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.openclipboard.dev/node/internal/identity"
)

// Record is one trusted peer.
type Record struct {
	PeerID      string    `json:"peerId"`
	IdentityPK  string    `json:"identityPk"` // base64
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PublicKey decodes IdentityPK to raw bytes.
func (r Record) PublicKey() ([]byte, error) {
	return base64.StdEncoding.DecodeString(r.IdentityPK)
}

// Store is the persistent, mutex-guarded set of trusted peers.
type Store struct {
	path string

	mu      sync.Mutex
	records map[string]Record // peerId -> Record
}

// Open loads the store at path, treating a missing file as an empty set.
func Open(path string) (*Store, error) {
	s := &Store{path: path, records: make(map[string]Record)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("trust: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("trust: parse %s: %w", path, err)
	}
	for _, r := range recs {
		s.records[r.PeerID] = r
	}
	return s, nil
}

// Add inserts or replaces the record for peerID and flushes to disk.
// pkB64 must be the peer's identity public key, base64-encoded, and must
// be self-consistent with peerID (identity.PeerID(pk) == peerID) —
// callers that derive peerID from pk themselves (the common case)
// automatically satisfy this.
func (s *Store) Add(peerID, pkB64, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[peerID] = Record{
		PeerID:      peerID,
		IdentityPK:  pkB64,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	return s.flushLocked()
}

// Get returns the record for peerID, if any.
func (s *Store) Get(peerID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[peerID]
	return r, ok
}

// Matches reports whether peerID is trusted AND its recorded public key
// equals pubKey (constant-time compare). Session uses this to authenticate
// the static key presented during the Noise-IK handshake.
func (s *Store) Matches(peerID string, pubKey []byte) bool {
	r, ok := s.Get(peerID)
	if !ok {
		return false
	}
	recorded, err := r.PublicKey()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(recorded, pubKey) == 1
}

// Remove deletes the record for peerID and flushes to disk. Returns true
// if a record was present.
func (s *Store) Remove(peerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[peerID]; !ok {
		return false, nil
	}
	delete(s.records, peerID)
	return true, s.flushLocked()
}

// List returns all records, sorted by DisplayName (then PeerID) for
// deterministic output.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out
}

// Clear removes every record and flushes to disk.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	return s.flushLocked()
}

// flushLocked serializes the whole record set and replaces the on-disk
// file atomically. Must be called with s.mu held.
func (s *Store) flushLocked() error {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("trust: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".trust-*.tmp")
	if err != nil {
		return fmt.Errorf("trust: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("trust: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("trust: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("trust: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("trust: rename into place: %w", err)
	}
	return nil
}

// RecordFor builds a Record for a peer, deriving the PeerId from pubKey so
// the (PeerId, public key) self-consistency invariant always holds.
func RecordFor(pubKey []byte, displayName string) Record {
	return Record{
		PeerID:      identity.PeerID(pubKey),
		IdentityPK:  base64.StdEncoding.EncodeToString(pubKey),
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
}

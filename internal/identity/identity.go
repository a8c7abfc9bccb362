// Package identity manages the node's long-term X25519 keypair and the
// PeerId derived from it.
//
// The keypair doubles as the Noise-IK static key: Session authenticates a
// peer by checking that the public half presented during the handshake is
// the one recorded for that PeerId in the trust store (see
// internal/session). There is no separate signature scheme — PeerId
// derivation and handshake authentication both operate on the same 32-byte
// public key.
//
// On-disk form is a small JSON document written atomically (temp file +
// rename) so a crash mid-write never leaves a corrupt identity.json behind.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
)

// ErrNotFound is returned by Load when the identity file does not exist.
var ErrNotFound = errors.New("identity: not found")

// ErrCorrupt is returned by Load when the identity file exists but cannot
// be parsed, or contains keys of the wrong length.
var ErrCorrupt = errors.New("identity: corrupt file")

const keySize = 32

// Identity is this node's long-term X25519 keypair.
type Identity struct {
	PrivateKey [keySize]byte
	PublicKey  [keySize]byte
}

// onDisk mirrors the JSON document stored at the identity path.
type onDisk struct {
	SK string `json:"sk"`
	PK string `json:"pk"`
}

// Generate creates a fresh random identity. It does not persist it —
// callers should immediately Save it.
func Generate() (*Identity, error) {
	var priv [keySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("identity: generate private key: %w", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}
	id := &Identity{PrivateKey: priv}
	copy(id.PublicKey[:], pub)
	return id, nil
}

// Load reads an identity from path. Returns ErrNotFound if the file is
// absent, or ErrCorrupt if it cannot be parsed or has malformed keys.
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	var d onDisk
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	priv, err := base64.StdEncoding.DecodeString(d.SK)
	if err != nil || len(priv) != keySize {
		return nil, fmt.Errorf("%w: bad private key", ErrCorrupt)
	}
	pub, err := base64.StdEncoding.DecodeString(d.PK)
	if err != nil || len(pub) != keySize {
		return nil, fmt.Errorf("%w: bad public key", ErrCorrupt)
	}

	id := &Identity{}
	copy(id.PrivateKey[:], priv)
	copy(id.PublicKey[:], pub)
	return id, nil
}

// Save atomically writes id to path (write-temp-then-rename).
func Save(path string, id *Identity) error {
	d := onDisk{
		SK: base64.StdEncoding.EncodeToString(id.PrivateKey[:]),
		PK: base64.StdEncoding.EncodeToString(id.PublicKey[:]),
	}
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".identity-*.tmp")
	if err != nil {
		return fmt.Errorf("identity: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("identity: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("identity: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("identity: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("identity: rename into place: %w", err)
	}
	return nil
}

// LoadOrGenerate loads the identity at path, generating and saving a new
// one if none exists yet. This is the constructor the Node façade uses.
func LoadOrGenerate(path string) (*Identity, error) {
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	id, err = Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(path, id); err != nil {
		return nil, err
	}
	return id, nil
}

// PeerID returns the canonical lowercase-hex PeerId for a public key: the
// first 16 bytes of SHA-256 over the key.
func PeerID(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:16])
}

// PeerID returns this identity's PeerId.
func (id *Identity) PeerID() string {
	return PeerID(id.PublicKey[:])
}

// PublicKeyB64 returns the base64-standard encoding of the public key, the
// form stored in TrustRecord. (The pairing payload carries the raw key in
// URL-safe base64 instead.)
func (id *Identity) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(id.PublicKey[:])
}

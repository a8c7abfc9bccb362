package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateProducesDistinctKeys(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.PublicKey == b.PublicKey {
		t.Errorf("two freshly generated identities produced the same public key")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if err := Save(path, id); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PrivateKey != id.PrivateKey || loaded.PublicKey != id.PublicKey {
		t.Errorf("loaded identity does not match saved identity")
	}
}

func TestLoadMissingFileReturnsErrNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "nope.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadCorruptFileReturnsErrCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(path)
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadOrGenerateCreatesThenReuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity.json")

	first, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (create): %v", err)
	}
	second, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (reuse): %v", err)
	}
	if first.PublicKey != second.PublicKey {
		t.Errorf("LoadOrGenerate did not reuse the identity it just created")
	}
}

func TestPeerIDIsStableAndDerivedFromPublicKey(t *testing.T) {
	id, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got := id.PeerID()
	want := PeerID(id.PublicKey[:])
	if got != want {
		t.Errorf("Identity.PeerID() = %s, want %s", got, want)
	}
	if len(got) != 32 { // hex(16 bytes) == 32 chars
		t.Errorf("expected a 32-char hex PeerId, got %q (len %d)", got, len(got))
	}
}

func TestPeerIDDiffersForDifferentKeys(t *testing.T) {
	a, _ := Generate()
	b, _ := Generate()
	if a.PeerID() == b.PeerID() {
		t.Errorf("distinct public keys produced the same PeerId")
	}
}

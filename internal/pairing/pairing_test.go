package pairing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func samplePayload() Payload {
	var nonce [32]byte
	for i := range nonce {
		nonce[i] = byte(i)
	}
	return Create("peerA", "Alice's Laptop", bytes.Repeat([]byte{0x42}, 32), 18455, nonce, []string{"192.168.1.5:18455"})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := samplePayload()
	qr := p.Encode()

	got, err := FromQRString(qr)
	if err != nil {
		t.Fatalf("FromQRString: %v", err)
	}

	if got.PeerID != p.PeerID || got.Name != p.Name || got.Port != p.Port {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if !bytes.Equal(got.IdentityPK, p.IdentityPK) {
		t.Errorf("identity key mismatch")
	}
	if got.Nonce != p.Nonce {
		t.Errorf("nonce mismatch")
	}
	if len(got.LANAddrs) != 1 || got.LANAddrs[0] != "192.168.1.5:18455" {
		t.Errorf("LANAddrs mismatch: %v", got.LANAddrs)
	}
}

func TestFromQRStringTrimsWhitespace(t *testing.T) {
	p := samplePayload()
	qr := "\n  " + p.Encode() + "  \n"

	if _, err := FromQRString(qr); err != nil {
		t.Fatalf("FromQRString with whitespace: %v", err)
	}
}

func TestFromQRStringRejectsUnknownScheme(t *testing.T) {
	_, err := FromQRString("https://pair?v=1")
	if !errors.Is(err, ErrMalformedPairing) {
		t.Errorf("expected ErrMalformedPairing, got %v", err)
	}
}

func TestFromQRStringRejectsBadNonceLength(t *testing.T) {
	// Every field but the nonce is valid, so only the nonce check can
	// reject this string: "QQ==" decodes to a single byte.
	pk := base64.URLEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32))
	_, err := FromQRString("openclipboard://pair?v=1&pid=peerA&n=QQ%3D%3D&pk=" +
		pk + "&p=18455&nonce=QQ%3D%3D")
	if !errors.Is(err, ErrMalformedPairing) {
		t.Errorf("expected ErrMalformedPairing, got %v", err)
	}
}

func TestFromQRStringRejectsMissingPeerID(t *testing.T) {
	_, err := FromQRString("openclipboard://pair?v=1&p=18455")
	if !errors.Is(err, ErrMalformedPairing) {
		t.Errorf("expected ErrMalformedPairing, got %v", err)
	}
}

func TestFromQRStringRejectsUnsupportedVersion(t *testing.T) {
	p := samplePayload()
	qr := strings.Replace(p.Encode(), "v=1", "v=2", 1)

	_, err := FromQRString(qr)
	if !errors.Is(err, ErrMalformedPairing) {
		t.Errorf("expected ErrMalformedPairing, got %v", err)
	}
}

func TestConfirmationCodeIsSixDigitsAndDeterministic(t *testing.T) {
	var nonce [32]byte
	copy(nonce[:], []byte("0123456789abcdef0123456789abcdef"))

	code1 := ConfirmationCode(nonce, "peerA", "peerB")
	code2 := ConfirmationCode(nonce, "peerA", "peerB")
	if code1 != code2 {
		t.Errorf("ConfirmationCode not deterministic: %s != %s", code1, code2)
	}
	if len(code1) != 6 {
		t.Errorf("expected 6-digit code, got %q", code1)
	}

	// Swapping initiator/responder order must change the code: an
	// attacker replaying one side's payload as if it were the other
	// shouldn't produce a matching code.
	swapped := ConfirmationCode(nonce, "peerB", "peerA")
	if swapped == code1 {
		t.Errorf("confirmation code should depend on initiator/responder order")
	}
}

func TestFinalizeDetectsNonceMismatch(t *testing.T) {
	init := samplePayload()
	resp := samplePayload()
	resp.Nonce[0] ^= 0xFF

	_, err := Finalize(init, resp)
	if !errors.Is(err, ErrNonceMismatch) {
		t.Errorf("expected ErrNonceMismatch, got %v", err)
	}
}

func TestFinalizeAgreesWithDirectConfirmationCode(t *testing.T) {
	init := samplePayload()
	resp := samplePayload() // same nonce by construction
	resp.PeerID = "peerB"

	code, err := Finalize(init, resp)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := ConfirmationCode(init.Nonce, init.PeerID, resp.PeerID)
	if code != want {
		t.Errorf("got %s, want %s", code, want)
	}
}

// Package pairing encodes and decodes the openclipboard://pair URL used
// to bootstrap mutual trust between two nodes, and derives the
// out-of-band confirmation code shown to the user to verify a pairing.
//
// Both the URL's query parameters and the confirmation-code algorithm are
// fixed exactly, leaving no real decision for a third-party URL or
// serialization library to make; net/url, encoding/base64, and
// crypto/sha256 (stdlib) render the format precisely as specified.
package pairing

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrMalformedPairing is returned for any pairing string that cannot be
// parsed into a valid Payload: unknown scheme, missing required fields,
// wrong version, or a nonce that is not exactly 32 bytes.
var ErrMalformedPairing = errors.New("pairing: malformed pairing string")

// ErrNonceMismatch is returned by Finalize when the responder's payload
// does not echo the initiator's nonce.
var ErrNonceMismatch = errors.New("pairing: nonce mismatch")

const scheme = "openclipboard"
const currentVersion = 1

// Payload is a parsed pairing URL: enough information for the other side
// to add this node to its trust store and dial it.
type Payload struct {
	Version    int
	PeerID     string
	Name       string
	IdentityPK []byte // 32 bytes
	Port       int
	Nonce      [32]byte
	LANAddrs   []string
}

// Create builds an initiator or responder payload. nonce must be exactly
// 32 bytes.
func Create(peerID, name string, identityPK []byte, lanPort int, nonce [32]byte, lanAddrs []string) Payload {
	return Payload{
		Version:    currentVersion,
		PeerID:     peerID,
		Name:       name,
		IdentityPK: append([]byte(nil), identityPK...),
		Port:       lanPort,
		Nonce:      nonce,
		LANAddrs:   append([]string(nil), lanAddrs...),
	}
}

// Encode renders p as an openclipboard://pair URL with URL-safe base64
// fields.
func (p Payload) Encode() string {
	q := url.Values{}
	q.Set("v", strconv.Itoa(p.Version))
	q.Set("pid", p.PeerID)
	q.Set("n", base64.URLEncoding.EncodeToString([]byte(p.Name)))
	q.Set("pk", base64.URLEncoding.EncodeToString(p.IdentityPK))
	q.Set("p", strconv.Itoa(p.Port))
	q.Set("nonce", base64.URLEncoding.EncodeToString(p.Nonce[:]))
	q.Set("a", strings.Join(p.LANAddrs, ","))
	return fmt.Sprintf("%s://pair?%s", scheme, q.Encode())
}

// FromQRString parses a pairing URL, tolerating leading/trailing
// whitespace (including newlines, as a QR scanner may append one).
func FromQRString(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrMalformedPairing, err)
	}
	if u.Scheme != scheme {
		return Payload{}, fmt.Errorf("%w: unknown scheme %q", ErrMalformedPairing, u.Scheme)
	}
	if u.Host != "pair" && u.Opaque != "pair" {
		return Payload{}, fmt.Errorf("%w: unknown path", ErrMalformedPairing)
	}

	q := u.Query()

	version, err := strconv.Atoi(q.Get("v"))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: bad version", ErrMalformedPairing)
	}
	if version != currentVersion {
		return Payload{}, fmt.Errorf("%w: unsupported version %d", ErrMalformedPairing, version)
	}

	peerID := q.Get("pid")
	if peerID == "" {
		return Payload{}, fmt.Errorf("%w: missing pid", ErrMalformedPairing)
	}

	nameRaw, err := base64.URLEncoding.DecodeString(q.Get("n"))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: bad name encoding", ErrMalformedPairing)
	}

	pk, err := base64.URLEncoding.DecodeString(q.Get("pk"))
	if err != nil || len(pk) != 32 {
		return Payload{}, fmt.Errorf("%w: bad identity key", ErrMalformedPairing)
	}

	port, err := strconv.Atoi(q.Get("p"))
	if err != nil || port <= 0 || port > 65535 {
		return Payload{}, fmt.Errorf("%w: bad port", ErrMalformedPairing)
	}

	nonceRaw, err := base64.URLEncoding.DecodeString(q.Get("nonce"))
	if err != nil || len(nonceRaw) != 32 {
		return Payload{}, fmt.Errorf("%w: bad nonce", ErrMalformedPairing)
	}

	var addrs []string
	if a := q.Get("a"); a != "" {
		addrs = strings.Split(a, ",")
	}

	var nonce [32]byte
	copy(nonce[:], nonceRaw)

	return Payload{
		Version:    version,
		PeerID:     peerID,
		Name:       string(nameRaw),
		IdentityPK: pk,
		Port:       port,
		Nonce:      nonce,
		LANAddrs:   addrs,
	}, nil
}

// ConfirmationCode derives the 6-digit decimal confirmation code shown to
// the user for out-of-band verification:
// dcc = decimal_truncate6(sha256(nonce || initiatorPeerID || responderPeerID)).
func ConfirmationCode(nonce [32]byte, initiatorPeerID, responderPeerID string) string {
	h := sha256.New()
	h.Write(nonce[:])
	h.Write([]byte(initiatorPeerID))
	h.Write([]byte(responderPeerID))
	sum := h.Sum(nil)

	// Take the first 4 bytes as a big-endian uint32 and truncate to 6
	// decimal digits, zero-padded.
	v := uint32(sum[0])<<24 | uint32(sum[1])<<16 | uint32(sum[2])<<8 | uint32(sum[3])
	return fmt.Sprintf("%06d", v%1_000_000)
}

// Finalize validates that init and resp agree on their nonce and returns
// the confirmation code both sides should display. Both payloads must
// already be Payload values decoded with FromQRString or produced with
// Create.
func Finalize(init, resp Payload) (string, error) {
	if init.Nonce != resp.Nonce {
		return "", ErrNonceMismatch
	}
	return ConfirmationCode(init.Nonce, init.PeerID, resp.PeerID), nil
}

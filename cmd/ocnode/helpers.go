package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"os"

	"go.openclipboard.dev/node/internal/node"
)

// defaultDisplayName falls back to the machine's hostname, matching what
// a peer's device list would otherwise show as a bare PeerId.
func defaultDisplayName() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "ocnode"
}

// fillRandom fills b with cryptographically random bytes, the same
// crypto/rand.Read pattern identity.go uses for key generation.
func fillRandom(b []byte) (int, error) {
	return rand.Read(b)
}

// publicKeyBytes decodes a Node's base64 public key back into raw bytes
// for embedding in a pairing payload.
func publicKeyBytes(n *node.Node) []byte {
	b, err := base64.StdEncoding.DecodeString(n.PublicKeyB64())
	if err != nil {
		return nil
	}
	return b
}

// localLANAddrs enumerates this host's non-loopback IPv4 addresses,
// formatted as host:port, for a pairing payload's LANAddrs field.
func localLANAddrs(port int) ([]string, error) {
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s:%d", ip4.String(), port))
	}
	return out, nil
}

package transport

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"
)

// MutablePeer is an optional interface that Sessions can implement to allow
// updating the peer identity after the handshake.
type MutablePeer interface {
	SetPeer(PeerInfo)
}

// TempPeerID builds a temporary peer id from transport kind and remote address.
// It is suitable to use before the handshake completes.
func TempPeerID(kind Kind, addr net.Addr) PeerID {
	if addr == nil {
		return PeerID(fmt.Sprintf("temp:%s:unknown", kind))
	}
	return PeerID(fmt.Sprintf("temp:%s:%s", kind, addr.String()))
}

// CanonicalPeerIDFromPubKey constructs a canonical peer id from public key bytes.
// The format is: pk:<alg>:<base64url-nopad(pubkey)>
func CanonicalPeerIDFromPubKey(alg string, pub []byte) PeerID {
	alg = strings.ToLower(strings.TrimSpace(alg))
	return PeerID("pk:" + alg + ":" + base64.RawURLEncoding.EncodeToString(pub))
}

// ParseCanonicalPeerID splits a canonical id into algorithm and key bytes.
func ParseCanonicalPeerID(id PeerID) (alg string, pub []byte, err error) {
	parts := strings.SplitN(string(id), ":", 3)
	if len(parts) != 3 || parts[0] != "pk" {
		return "", nil, fmt.Errorf("not a canonical peer id: %q", id)
	}
	pub, err = base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", nil, fmt.Errorf("peer id key: %w", err)
	}
	return parts[1], pub, nil
}

// IsTemp reports whether id is a pre-handshake placeholder.
func (id PeerID) IsTemp() bool { return strings.HasPrefix(string(id), "temp:") }

// Short returns a log-friendly prefix of the id.
func (id PeerID) Short() string {
	s := string(id)
	if len(s) > 20 {
		return s[:20]
	}
	return s
}

// Package handshake implements the signed Hello both peers exchange on a new
// session before any game traffic.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"homerun/pkg/identity"
	"homerun/pkg/transport"
)

// Version of the Hello transcript.
const Version uint32 = 1

var (
	ErrUnsupportedAlg = errors.New("handshake: unsupported alg")
	ErrBadSignature   = errors.New("handshake: hello signature invalid")
	ErrStale          = errors.New("handshake: hello timestamp out of bounds")
	ErrMalformed      = errors.New("handshake: malformed hello")
)

// Hello binds a public key to the player's user id and display name, a fresh
// nonce, a timestamp and the match id proposed by the dialer (empty from the
// accepting side).
type Hello struct {
	Version     uint32
	UserID      string
	DisplayName string
	Alg         string
	PubKey      []byte
	Nonce       []byte
	Timestamp   int64 // unix ms
	MatchID     string
	Sig         []byte
}

// Build constructs and signs a Hello for id.
func Build(id *identity.Identity, matchID string) (Hello, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Hello{}, err
	}
	h := Hello{
		Version:     Version,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Alg:         "ed25519",
		PubKey:      append([]byte(nil), id.PublicKey()...),
		Nonce:       nonce,
		Timestamp:   time.Now().UnixMilli(),
		MatchID:     matchID,
	}
	h.Sig = signEd25519(id.PrivateKey, Transcript(&h))
	return h, nil
}

// Verify checks signature and freshness and returns the canonical PeerID.
func Verify(h Hello, maxSkew time.Duration) (transport.PeerID, error) {
	if h.Alg != "ed25519" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlg, h.Alg)
	}
	if h.Version != Version {
		return "", fmt.Errorf("%w: version %d", ErrMalformed, h.Version)
	}
	if len(h.PubKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: pubkey length %d", ErrMalformed, len(h.PubKey))
	}
	if len(h.Sig) != ed25519.SignatureSize {
		return "", fmt.Errorf("%w: signature length %d", ErrMalformed, len(h.Sig))
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	dt := time.Now().UnixMilli() - h.Timestamp
	if lim := maxSkew.Milliseconds(); dt > lim || dt < -lim {
		return "", ErrStale
	}
	if !verifyEd25519(ed25519.PublicKey(h.PubKey), Transcript(&h), h.Sig) {
		return "", ErrBadSignature
	}
	return transport.CanonicalPeerIDFromPubKey("ed25519", h.PubKey), nil
}

// ToStruct maps h onto a structpb body for the proto codec.
// Byte fields are base64url; the timestamp fits a float64 exactly.
func (h Hello) ToStruct() (*structpb.Struct, error) {
	b64 := base64.RawURLEncoding
	return structpb.NewStruct(map[string]any{
		"ver":          float64(h.Version),
		"user_id":      h.UserID,
		"display_name": h.DisplayName,
		"alg":          h.Alg,
		"pubkey":       b64.EncodeToString(h.PubKey),
		"nonce":        b64.EncodeToString(h.Nonce),
		"ts_unix_ms":   float64(h.Timestamp),
		"match_id":     h.MatchID,
		"sig":          b64.EncodeToString(h.Sig),
	})
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (Hello, error) {
	f := s.GetFields()
	b64 := base64.RawURLEncoding
	pub, err := b64.DecodeString(f["pubkey"].GetStringValue())
	if err != nil {
		return Hello{}, fmt.Errorf("%w: pubkey: %v", ErrMalformed, err)
	}
	nonce, err := b64.DecodeString(f["nonce"].GetStringValue())
	if err != nil {
		return Hello{}, fmt.Errorf("%w: nonce: %v", ErrMalformed, err)
	}
	sig, err := b64.DecodeString(f["sig"].GetStringValue())
	if err != nil {
		return Hello{}, fmt.Errorf("%w: sig: %v", ErrMalformed, err)
	}
	return Hello{
		Version:     uint32(f["ver"].GetNumberValue()),
		UserID:      f["user_id"].GetStringValue(),
		DisplayName: f["display_name"].GetStringValue(),
		Alg:         f["alg"].GetStringValue(),
		PubKey:      pub,
		Nonce:       nonce,
		Timestamp:   int64(f["ts_unix_ms"].GetNumberValue()),
		MatchID:     f["match_id"].GetStringValue(),
		Sig:         sig,
	}, nil
}

// Package identity resolves the local player's identity once at startup:
// the ed25519 key that signs the Hello, and the (user id, display name) pair
// vouched for by the platform entitlement token.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"homerun/pkg/config"
	"homerun/pkg/transport"
)

var (
	// ErrNoIdentity means the configured key could not be loaded.
	ErrNoIdentity = errors.New("identity: no usable identity key")
	// ErrNotEntitled means entitlement is required and the token did not verify.
	ErrNotEntitled = errors.New("identity: not entitled")
)

// Identity is the resolved local player.
type Identity struct {
	ID          transport.PeerID
	UserID      string
	DisplayName string
	PrivateKey  ed25519.PrivateKey
}

// PublicKey returns the key bound to ID.
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.PrivateKey.Public().(ed25519.PublicKey)
}

// LoadOrGenEd25519 loads an ed25519 private key from config or generates a new one.
// Returns the private key and the canonical peer id (pk:ed25519:<b64(pub)>).
// A configured key that cannot be read or decoded is an error, not a reason
// to silently mint a new identity.
func LoadOrGenEd25519(c config.IdentityConfig, log *zap.Logger) (ed25519.PrivateKey, transport.PeerID, error) {
	if log == nil {
		log = zap.L()
	}
	var pk ed25519.PrivateKey
	if s := strings.TrimSpace(c.PrivateKey); s != "" {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, "", fmt.Errorf("%w: decode identity.private_key: %v", ErrNoIdentity, err)
		}
		pk = ed25519.PrivateKey(b)
	}
	if pk == nil && strings.TrimSpace(c.PrivateKeyFile) != "" {
		b, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrNoIdentity, err)
		}
		txt := strings.TrimSpace(string(b))
		if db, err := base64.RawURLEncoding.DecodeString(txt); err == nil {
			pk = ed25519.PrivateKey(db)
		} else {
			// assume raw bytes
			pk = ed25519.PrivateKey(b)
		}
	}
	if pk == nil {
		_, gen, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrNoIdentity, err)
		}
		pk = gen
		log.Info("generated new ed25519 identity (persist to identity.private_key)",
			zap.String("private_key", base64.RawURLEncoding.EncodeToString(gen)))
	}
	if len(pk) != ed25519.PrivateKeySize {
		return nil, "", fmt.Errorf("%w: private key has %d bytes", ErrNoIdentity, len(pk))
	}
	pub := pk.Public().(ed25519.PublicKey)
	return pk, transport.CanonicalPeerIDFromPubKey("ed25519", pub), nil
}

// EncodeKey is the config representation of a private or public key.
func EncodeKey(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }

package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EntitlementClaims is the platform token payload. Subject carries the user id.
type EntitlementClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ParsePublicKey decodes a base64url ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode entitlement key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("entitlement key has %d bytes", len(b))
	}
	return ed25519.PublicKey(b), nil
}

// VerifyEntitlement checks an EdDSA token against pub at time now.
func VerifyEntitlement(token string, pub ed25519.PublicKey, now time.Time) (*EntitlementClaims, error) {
	claims := &EntitlementClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("entitlement token has no subject")
	}
	return claims, nil
}

// IssueEntitlement signs a token for userID. Used by tests and local tooling
// standing in for the platform issuer.
func IssueEntitlement(priv ed25519.PrivateKey, userID, name string, ttl time.Duration, now time.Time) (string, error) {
	claims := EntitlementClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
}

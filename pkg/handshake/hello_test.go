package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"homerun/pkg/identity"
	"homerun/pkg/transport"
)

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return &identity.Identity{
		ID:          transport.CanonicalPeerIDFromPubKey("ed25519", pub),
		UserID:      "user-1",
		DisplayName: "Ace",
		PrivateKey:  priv,
	}
}

func TestBuildVerifyThroughStruct(t *testing.T) {
	id := newIdentity(t)
	h, err := Build(id, "match-7")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s, err := h.ToStruct()
	if err != nil {
		t.Fatalf("to struct: %v", err)
	}
	back, err := FromStruct(s)
	if err != nil {
		t.Fatalf("from struct: %v", err)
	}
	pid, err := Verify(back, time.Minute)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if pid != id.ID || back.MatchID != "match-7" || back.DisplayName != "Ace" {
		t.Fatalf("pid=%s hello=%+v", pid, back)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	id := newIdentity(t)
	h, _ := Build(id, "m")

	renamed := h
	renamed.DisplayName = "Mallory"
	if _, err := Verify(renamed, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("renamed: %v", err)
	}

	rematched := h
	rematched.MatchID = "other"
	if _, err := Verify(rematched, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("rematched: %v", err)
	}

	stale := h
	stale.Timestamp -= (10 * time.Minute).Milliseconds()
	if _, err := Verify(stale, 0); !errors.Is(err, ErrStale) {
		t.Fatalf("stale: %v", err)
	}

	alg := h
	alg.Alg = "rsa"
	if _, err := Verify(alg, 0); !errors.Is(err, ErrUnsupportedAlg) {
		t.Fatalf("alg: %v", err)
	}

	short := h
	short.Sig = short.Sig[:10]
	if _, err := Verify(short, 0); !errors.Is(err, ErrMalformed) {
		t.Fatalf("short sig: %v", err)
	}
}

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"homerun/pkg/identity"
	"homerun/pkg/transport"
)

// Identity returns a fresh ed25519 identity named name.
func Identity(t testing.TB, name string) *identity.Identity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return &identity.Identity{
		ID:          transport.CanonicalPeerIDFromPubKey("ed25519", pub),
		UserID:      name,
		DisplayName: name,
		PrivateKey:  priv,
	}
}

// ObservedLogger returns a logger whose entries at level and above are captured.
func ObservedLogger(level zapcore.LevelEnabler) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

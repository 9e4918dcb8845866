package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadDefaultsWithMissingSearchPath(t *testing.T) {
	t.Setenv("HOMERUN_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Match.SimHz != 72 || cfg.Net.BodyFormat != "cbor" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Match, cfg.Net)
	}
	if len(cfg.Transports) != 1 || cfg.Transports[0].Kind != "tcp" {
		t.Fatalf("transports = %+v", cfg.Transports)
	}
	if cfg.Match.TickInterval() != time.Second/72 {
		t.Fatalf("tick interval = %v", cfg.Match.TickInterval())
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	p := writeFile(t, "peer.yaml", `
app_name: pitcher-1
log:
  level: warn
identity:
  display_name: Ace
transports:
  - kind: " QUIC "
    listen: [":4433"]
    dial:
      - address: "10.0.0.2:4433"
net:
  body_format: xml
match:
  sim_hz: 90
  pose_hz: 120
  peer_wait_ms: 2500
`)
	t.Setenv("HOMERUN_LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "pitcher-1" || cfg.Identity.DisplayName != "Ace" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env override not applied: %q", cfg.Log.Level)
	}
	if cfg.Transports[0].Kind != "quic" || cfg.Transports[0].Dial[0].Address != "10.0.0.2:4433" {
		t.Fatalf("transports = %+v", cfg.Transports)
	}
	if cfg.Net.BodyFormat != "cbor" {
		t.Fatalf("unknown body format not normalized: %q", cfg.Net.BodyFormat)
	}
	if cfg.Match.PoseHz != 90 {
		t.Fatalf("pose_hz not clamped to sim_hz: %d", cfg.Match.PoseHz)
	}
	if cfg.Match.PeerWait() != 2500*time.Millisecond {
		t.Fatalf("peer wait = %v", cfg.Match.PeerWait())
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"level":       "log:\n  level: loud\n",
		"alg":         "identity:\n  alg: rsa\n",
		"entitlement": "identity:\n  require_entitlement: true\n",
		"sim_hz":      "match:\n  sim_hz: 0\n",
		"kind":        "transports:\n  - listen: [\":1\"]\n",
	}
	for name, body := range cases {
		p := writeFile(t, name+".yaml", body)
		if _, err := Load(p); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

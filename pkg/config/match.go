package config

import (
	"fmt"
	"time"
)

// MatchConfig controls the simulation loop and match lifecycle.
type MatchConfig struct {
	// SimHz is the fixed simulation rate.
	SimHz int `mapstructure:"sim_hz"`
	// PeerWaitMS bounds how long PlayOnline searches for a remote peer.
	PeerWaitMS int `mapstructure:"peer_wait_ms"`
	// PoseHz is the avatar pose send rate; 0 disables pose mirroring.
	PoseHz int `mapstructure:"pose_hz"`
	// OutOfBoundsM is the radius past which free balls are destroyed.
	OutOfBoundsM float32 `mapstructure:"out_of_bounds_m"`
}

func (m *MatchConfig) validate() error {
	if m.SimHz <= 0 || m.SimHz > 1000 {
		return fmt.Errorf("invalid match.sim_hz: %d", m.SimHz)
	}
	if m.PeerWaitMS <= 0 {
		m.PeerWaitMS = 15000
	}
	if m.PoseHz < 0 {
		m.PoseHz = 0
	}
	if m.PoseHz > m.SimHz {
		m.PoseHz = m.SimHz
	}
	return nil
}

// TickInterval is the duration of one simulation step.
func (m MatchConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(m.SimHz)
}

// PeerWait is the bounded matchmaking wait.
func (m MatchConfig) PeerWait() time.Duration {
	return time.Duration(m.PeerWaitMS) * time.Millisecond
}

// Package effects defines the hit-effect collaborator invoked by the ball
// protocol on both peers.
package effects

import (
	"sync"

	"go.uber.org/zap"

	"homerun/pkg/physics"
)

// Player plays the bat contact cue at a world position.
type Player interface {
	PlayBatHitEffect(pos physics.Vec3)
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(pos physics.Vec3)

func (f PlayerFunc) PlayBatHitEffect(pos physics.Vec3) { f(pos) }

// Logger is the headless Player: it records the cue in the log.
type Logger struct {
	Log *zap.Logger
}

func (l Logger) PlayBatHitEffect(pos physics.Vec3) {
	lg := l.Log
	if lg == nil {
		lg = zap.L()
	}
	lg.Info("bat hit effect", zap.Float32("x", pos.X), zap.Float32("y", pos.Y), zap.Float32("z", pos.Z))
}

// Recorder captures every played position.
type Recorder struct {
	mu   sync.Mutex
	hits []physics.Vec3
}

func (r *Recorder) PlayBatHitEffect(pos physics.Vec3) {
	r.mu.Lock()
	r.hits = append(r.hits, pos)
	r.mu.Unlock()
}

// Hits returns a copy of recorded positions in play order.
func (r *Recorder) Hits() []physics.Vec3 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]physics.Vec3(nil), r.hits...)
}

// Multi fans one cue out to several players.
type Multi []Player

func (m Multi) PlayBatHitEffect(pos physics.Vec3) {
	for _, p := range m {
		if p != nil {
			p.PlayBatHitEffect(pos)
		}
	}
}

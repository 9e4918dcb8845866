package effects

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"homerun/pkg/physics"
)

func TestMultiFansOut(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := &Recorder{}
	var calls int
	m := Multi{rec, nil, Logger{Log: zap.New(core)}, PlayerFunc(func(physics.Vec3) { calls++ })}

	m.PlayBatHitEffect(physics.V(0, 2, 5))

	if got := rec.Hits(); len(got) != 1 || got[0] != physics.V(0, 2, 5) {
		t.Fatalf("recorder hits = %v", got)
	}
	if calls != 1 {
		t.Fatalf("func player calls = %d", calls)
	}
	if logs.FilterMessage("bat hit effect").Len() != 1 {
		t.Fatalf("logger player did not log")
	}
}

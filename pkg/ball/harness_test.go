package ball

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"homerun/pkg/effects"
	"homerun/pkg/physics"
	"homerun/pkg/testutil"
)

// node is one simulated peer; its sender queues messages for the other node.
type node struct {
	name  string
	p     *Protocol
	w     *physics.World
	fx    *effects.Recorder
	logs  *observer.ObservedLogs
	peer  *node
	inbox []any
}

type linkSender struct{ n *node }

func (s linkSender) SendBallThrow(t Throw) { s.n.peer.inbox = append(s.n.peer.inbox, t) }
func (s linkSender) SendBallHit(h Hit)     { s.n.peer.inbox = append(s.n.peer.inbox, h) }

func newPair() (*node, *node) {
	mk := func(name string) *node {
		n := &node{name: name, w: physics.NewWorld(), fx: &effects.Recorder{}}
		var log *zap.Logger
		log, n.logs = testutil.ObservedLogger(zap.WarnLevel)
		n.p = New(Options{Sender: linkSender{n}, Spawner: worldSpawner(n.w), Effects: n.fx, Log: log})
		return n
	}
	a, b := mk("A"), mk("B")
	a.peer, b.peer = b, a
	return a, b
}

// deliver applies queued messages in arrival order, as a network tick would.
func (n *node) deliver() {
	for _, m := range n.inbox {
		switch m := m.(type) {
		case Throw:
			n.p.OnRemoteThrow(m)
		case Hit:
			n.p.OnRemoteHit(m)
		}
	}
	n.inbox = nil
}

func (n *node) body(t *testing.T, id ID) *physics.Body {
	t.Helper()
	b, ok := n.w.Body(int32(id))
	if !ok {
		t.Fatalf("%s has no body %d", n.name, id)
	}
	return b
}

func assertSingleAuthority(t *testing.T, a, b *node) {
	t.Helper()
	for _, sa := range a.p.Snapshot() {
		sb, ok := b.p.State(sa.ID)
		if !ok {
			continue
		}
		if sa.Authority == Local && sb.Authority == Local {
			t.Fatalf("ball %d authoritative on both peers", sa.ID)
		}
	}
}

func TestTwoPeerPitchAndHit(t *testing.T) {
	a, b := newPair()

	if err := a.p.RegisterBall(7, FastBall, a.w.Spawn(7, FastBall.Drag())); err != nil {
		t.Fatal(err)
	}
	a.p.OnLocalThrow(7, physics.V(0, 2, 0), physics.V(0, 0, 15), nil)
	b.deliver()
	assertSingleAuthority(t, a, b)

	bb := b.body(t, 7)
	if bb.Kinematic() || bb.Position() != physics.V(0, 2, 0) || bb.Velocity() != physics.V(0, 0, 15) {
		t.Fatalf("B proxy after throw = %+v", bb)
	}

	for i := 0; i < 5; i++ {
		a.w.Step(1.0 / 72)
		b.w.Step(1.0 / 72)
	}
	if !a.body(t, 7).Position().ApproxEq(bb.Position(), 1e-4) {
		t.Fatalf("independent simulations diverged: %v vs %v", a.body(t, 7).Position(), bb.Position())
	}

	if err := b.p.OnLocalHit(7, physics.V(0, 2, 5), physics.V(3, 6, -10)); err != nil {
		t.Fatal(err)
	}
	a.deliver()
	assertSingleAuthority(t, a, b)

	ab := a.body(t, 7)
	if ab.Position() != physics.V(0, 2, 5) || ab.Velocity() != physics.V(3, 6, -10) {
		t.Fatalf("A proxy after hit = %+v", ab)
	}
	sa, _ := a.p.State(7)
	sb, _ := b.p.State(7)
	if sa.Authority != Remote || sb.Authority != Local {
		t.Fatalf("authority A=%s B=%s", sa.Authority, sb.Authority)
	}
	for _, n := range []*node{a, b} {
		if h := n.fx.Hits(); len(h) != 1 || h[0] != physics.V(0, 2, 5) {
			t.Fatalf("%s effects = %v", n.name, h)
		}
	}
}

func TestLateHitAfterRemoveIsDropped(t *testing.T) {
	a, b := newPair()
	a.p.RegisterBall(7, FastBall, a.w.Spawn(7, 0))
	a.p.OnLocalThrow(7, physics.V(0, 2, 0), physics.V(0, 0, 15), nil)
	b.deliver()

	a.p.UnregisterBall(7)
	a.w.Remove(7)

	b.p.OnLocalHit(7, physics.V(0, 2, 5), physics.V(3, 6, -10))
	a.deliver()

	if _, ok := a.p.State(7); ok {
		t.Fatalf("A re-registered removed ball")
	}
	if a.w.Len() != 0 || len(a.fx.Hits()) != 0 {
		t.Fatalf("late hit had effects on A")
	}
	if a.p.Stats().Dropped != 1 {
		t.Fatalf("stats = %+v", a.p.Stats())
	}
	warned := a.logs.FilterMessage("dropping message for removed ball").All()
	if len(warned) != 1 || warned[0].ContextMap()["msg"] != "hit" || warned[0].ContextMap()["id"] != int32(7) {
		t.Fatalf("removed-ball warnings = %+v", warned)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"homerun/pkg/avatar"
	"homerun/pkg/ball"
	"homerun/pkg/config"
	"homerun/pkg/effects"
	"homerun/pkg/identity"
	"homerun/pkg/link"
	"homerun/pkg/match"
	"homerun/pkg/memkv"
	"homerun/pkg/netsession"
	"homerun/pkg/peers"
	"homerun/pkg/physics"
	"homerun/pkg/testutil"
)

const step = time.Second / 72

type fixedIdentity struct {
	id  *identity.Identity
	err error
}

func (f fixedIdentity) Start(context.Context) <-chan identity.Result {
	ch := make(chan identity.Result, 1)
	ch <- identity.Result{Identity: f.id, Err: f.err}
	close(ch)
	return ch
}

type finder struct {
	links  chan *link.Link
	closed atomic.Bool
}

func newFinder() *finder { return &finder{links: make(chan *link.Link, 1)} }

func (f *finder) FindPeer(ctx context.Context) (*link.Link, error) {
	select {
	case l := <-f.links:
		return l, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", link.ErrNoPeer, ctx.Err())
	}
}

func (f *finder) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *finder) factory(*identity.Identity) (PeerFinder, error) { return f, nil }

func newTest(t *testing.T, d Deps) *Orchestrator {
	t.Helper()
	if d.Identity == nil {
		d.Identity = fixedIdentity{id: testutil.Identity(t, "alice")}
	}
	o, err := New(d)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func tickUntil(t *testing.T, o *Orchestrator, dt time.Duration, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 2000; i++ {
		o.Tick(dt)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s (state %s)", what, o.CurrentState())
}

func ready(t *testing.T, o *Orchestrator) {
	t.Helper()
	o.Start(context.Background())
	tickUntil(t, o, step, "identity", func() bool { return o.CurrentState() == match.WaitingToPracticeOrMatchmake })
}

func TestSecondInstanceIsRefused(t *testing.T) {
	d := Deps{Identity: fixedIdentity{id: testutil.Identity(t, "a")}}
	o, err := New(d)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := New(d); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second new = %v, want ErrAlreadyRunning", err)
	}
	_ = o.Close()
	o2, err := New(d)
	if err != nil {
		t.Fatalf("new after close: %v", err)
	}
	_ = o2.Close()
}

func TestIdentityResolvesIntoLobby(t *testing.T) {
	me := testutil.Identity(t, "alice")
	o := newTest(t, Deps{Identity: fixedIdentity{id: me}})
	if o.MyID() != "" || o.MyDisplayName() != "" {
		t.Fatalf("identity known before resolution")
	}
	ready(t, o)
	if o.MyID() != me.ID || o.MyDisplayName() != "alice" {
		t.Fatalf("identity = %s %q", o.MyID(), o.MyDisplayName())
	}
	if o.Fatal() != nil {
		t.Fatalf("fatal = %v", o.Fatal())
	}
}

func TestIdentityFailureIsFatal(t *testing.T) {
	o := newTest(t, Deps{Identity: fixedIdentity{err: identity.ErrNotEntitled}})
	o.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.Run(ctx)
	if !errors.Is(err, match.ErrFatal) || !errors.Is(err, identity.ErrNotEntitled) {
		t.Fatalf("run = %v", err)
	}
	if o.CurrentState() != match.Initializing {
		t.Fatalf("state = %s", o.CurrentState())
	}
	if _, err := o.PlayOnlineOrCancel(context.Background()); !errors.Is(err, match.ErrInvalidEvent) {
		t.Fatalf("play online while initializing = %v", err)
	}
}

func TestDoWithdrawnWhenCallerGivesUp(t *testing.T) {
	o := newTest(t, Deps{})
	ready(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	if err := o.Do(ctx, func() { ran = true; _ = o.PlayLocal() }); !errors.Is(err, context.Canceled) {
		t.Fatalf("do = %v", err)
	}
	o.Tick(step)
	if ran || o.CurrentState() != match.WaitingToPracticeOrMatchmake {
		t.Fatalf("withdrawn call ran: state %s", o.CurrentState())
	}

	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Do(ctx, func() { ran = true }); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("do = %v", err)
	}
	o.Tick(step)
	if ran {
		t.Fatalf("timed out call ran")
	}
}

func TestDoWaitsForStartedCall(t *testing.T) {
	o := newTest(t, Deps{})
	ready(t, o)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started, release := make(chan struct{}), make(chan struct{})
	ran := false
	res := make(chan error, 1)
	go func() {
		res <- o.Do(ctx, func() {
			close(started)
			<-release
			ran = true
		})
	}()
	ticked := make(chan struct{})
	go func() {
		defer close(ticked)
		for {
			select {
			case <-started:
				return
			default:
			}
			o.Tick(step)
			time.Sleep(time.Millisecond)
		}
	}()

	<-started
	cancel()
	select {
	case err := <-res:
		t.Fatalf("do returned %v while the call was running", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-res; err != nil || !ran {
		t.Fatalf("do = %v, ran = %v", err, ran)
	}
	<-ticked
}

func TestLocalMatchLifecycle(t *testing.T) {
	fx := &effects.Recorder{}
	o := newTest(t, Deps{Effects: fx, Match: config.MatchConfig{SimHz: 72, OutOfBoundsM: 150}})
	ready(t, o)

	o.SetPlayerType(match.Batter)
	if _, err := o.ThrowBall(ball.FastBall, physics.V(0, 1, 0), physics.V(0, 0, -40), nil); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("throw in lobby = %v", err)
	}
	if err := o.PlayLocal(); err != nil {
		t.Fatalf("play local: %v", err)
	}
	if o.CurrentState() != match.PlayingLocalMatch {
		t.Fatalf("state = %s", o.CurrentState())
	}
	if _, err := o.ThrowBall(ball.FastBall, physics.V(0, 1, 0), physics.V(0, 0, -40), nil); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("batter throw = %v", err)
	}

	o.SetPlayerType(match.Pitcher)
	id, err := o.ThrowBall(ball.FastBall, physics.V(0, 1, 0), physics.V(0, 0, -40), nil)
	if err != nil || id != 0 {
		t.Fatalf("throw = %d, %v", id, err)
	}
	st := o.Balls()
	if len(st) != 1 || st[0].Phase != ball.InFlight || st[0].Authority != ball.Local || st[0].Kinematic {
		t.Fatalf("after throw = %+v", st)
	}
	if err := o.HitBall(id, physics.V(0, 1, -18), physics.V(0, 10, 30)); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("pitcher hit = %v", err)
	}

	tickUntil(t, o, step, "ball out of bounds", func() bool { return len(o.Balls()) == 0 })
	if !o.balls.Removed(id) {
		t.Fatalf("destroyed ball not tombstoned")
	}
	if o.net.Stats().SendDropped < 2 {
		t.Fatalf("local match sends should be dropped: %+v", o.net.Stats())
	}

	o.SetPlayerType(match.PlayerNone)
	id2, err := o.ThrowBall(ball.Changeup, physics.V(0, 1, 0), physics.V(0, 0, -20), nil)
	if err != nil || id2 != 2 {
		t.Fatalf("second throw = %d, %v", id2, err)
	}
	if err := o.HitBall(id2, physics.V(0, 1, -18), physics.V(0, 10, 30)); err != nil {
		t.Fatalf("hit: %v", err)
	}
	if got := fx.Hits(); len(got) != 1 {
		t.Fatalf("effects = %v", got)
	}

	if err := o.EndMatch(ReasonEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	if o.CurrentState() != match.MatchTransition || o.LastEndReason() != ReasonEnded || len(o.Balls()) != 0 {
		t.Fatalf("after end: %s %q %d", o.CurrentState(), o.LastEndReason(), len(o.Balls()))
	}
	if err := o.EndMatch(ReasonEnded); !errors.Is(err, match.ErrInvalidEvent) {
		t.Fatalf("second end = %v", err)
	}
	if err := o.DismissSummary(); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if err := o.PlayLocal(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if id, _ := o.ThrowBall(ball.FastBall, physics.V(0, 1, 0), physics.V(0, 0, -40), nil); id != 0 {
		t.Fatalf("ids not restarted: %d", id)
	}
}

func TestRemoteRemoveKeepsOwnedBall(t *testing.T) {
	o := newTest(t, Deps{})
	ready(t, o)
	o.SetPlayerType(match.Pitcher)
	if err := o.PlayLocal(); err != nil {
		t.Fatal(err)
	}
	mine, err := o.ThrowBall(ball.FastBall, physics.V(0, 1, 0), physics.V(0, 0, -40), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := o.balls.OnRemoteThrow(ball.Throw{ID: 7, Kind: ball.CurveBall, Position: physics.V(0, 1, -18), Velocity: physics.V(0, 0, 30)}); err != nil {
		t.Fatal(err)
	}
	h := ballHandler{o}
	h.OnRemoteRemove(mine)
	h.OnRemoteRemove(7)
	if _, ok := o.balls.State(mine); !ok {
		t.Fatalf("owned ball removed by peer")
	}
	if _, ok := o.balls.State(7); ok {
		t.Fatalf("remote ball kept")
	}
	if _, ok := o.world.Body(7); ok {
		t.Fatalf("remote body kept")
	}
}

func TestPlayOnlineCancelAndTimeout(t *testing.T) {
	f := newFinder()
	o := newTest(t, Deps{NewFinder: f.factory, Match: config.MatchConfig{SimHz: 72, PeerWaitMS: 50}})
	ready(t, o)

	searching, err := o.PlayOnlineOrCancel(context.Background())
	if err != nil || !searching || o.CurrentState() != match.MatchTransition {
		t.Fatalf("play online = %v, %v in %s", searching, err, o.CurrentState())
	}
	if err := o.DismissSummary(); !errors.Is(err, match.ErrInvalidEvent) {
		t.Fatalf("dismiss while searching = %v", err)
	}
	searching, err = o.PlayOnlineOrCancel(context.Background())
	if err != nil || searching || o.CurrentState() != match.WaitingToPracticeOrMatchmake {
		t.Fatalf("cancel = %v, %v in %s", searching, err, o.CurrentState())
	}
	for i := 0; i < 20; i++ {
		o.Tick(step)
		time.Sleep(5 * time.Millisecond)
	}
	if o.CurrentState() != match.WaitingToPracticeOrMatchmake {
		t.Fatalf("stale search moved state to %s", o.CurrentState())
	}

	if _, err := o.PlayOnlineOrCancel(context.Background()); err != nil {
		t.Fatal(err)
	}
	tickUntil(t, o, step, "search timeout", func() bool { return !o.Searching() })
	if o.CurrentState() != match.WaitingToPracticeOrMatchmake {
		t.Fatalf("after timeout state = %s", o.CurrentState())
	}
}

func TestPlayOnlineWithoutFinder(t *testing.T) {
	o := newTest(t, Deps{})
	ready(t, o)
	if _, err := o.PlayOnlineOrCancel(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("play online = %v", err)
	}
	if o.CurrentState() != match.WaitingToPracticeOrMatchmake {
		t.Fatalf("state = %s", o.CurrentState())
	}
}

func TestQuitLeavesQueueAndStopsRun(t *testing.T) {
	f := newFinder()
	o := newTest(t, Deps{NewFinder: f.factory})
	ready(t, o)
	o.SetPlayerType(match.Batter)
	if err := o.PlayLocal(); err != nil {
		t.Fatal(err)
	}
	o.QuitButtonPressed()
	if !f.closed.Load() {
		t.Fatalf("matchmaker not closed on quit")
	}
	if o.CurrentState() != match.MatchTransition || o.LastEndReason() != ReasonQuit {
		t.Fatalf("after quit: %s %q", o.CurrentState(), o.LastEndReason())
	}
	select {
	case <-o.Quit():
	default:
		t.Fatalf("quit channel open")
	}
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run after quit = %v", err)
	}
}

// remote is the far end of a networked match without an orchestrator.
type remote struct {
	balls  *ball.Protocol
	net    *netsession.Manager
	world  *physics.World
	mirror *avatar.Mirror
	tick   uint64
}

func newRemote(l *link.Link) *remote {
	r := &remote{world: physics.NewWorld(), mirror: &avatar.Mirror{}}
	r.net = netsession.New(netsession.Options{Poses: r.mirror})
	r.balls = ball.New(ball.Options{
		Sender: r.net,
		Spawner: ball.SpawnerFunc(func(id ball.ID, k ball.Kind) physics.Proxy {
			return r.world.Spawn(int32(id), k.Drag())
		}),
	})
	r.net.SetHandler(r)
	r.net.Attach(l)
	r.net.Activate()
	return r
}

func (r *remote) OnRemoteThrow(t ball.Throw) error { return r.balls.OnRemoteThrow(t) }
func (r *remote) OnRemoteHit(h ball.Hit) error     { return r.balls.OnRemoteHit(h) }
func (r *remote) OnRemoteRemove(id ball.ID)        { r.balls.UnregisterBall(id) }
func (r *remote) UnregisterBall(id ball.ID) bool   { return r.balls.UnregisterBall(id) }

func (r *remote) step() {
	r.tick++
	r.balls.BeginTick(r.tick)
	r.net.Tick(r.tick)
}

func TestNetworkedMatchOverLink(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a, b := testutil.Identity(t, "alice"), testutil.Identity(t, "bob")
	la, lb, err := link.Pair(ctx, a, b, link.Options{})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	defer lb.Close()

	kv := memkv.New(memkv.Options{SweepInterval: -1})
	defer kv.Close()
	ps := peers.NewStore(kv, 0, nil)
	f := newFinder()
	f.links <- la
	fx := &effects.Recorder{}
	rig := avatar.NewHeadlessRig()
	o := newTest(t, Deps{
		Identity:  fixedIdentity{id: a},
		NewFinder: f.factory,
		Effects:   fx,
		Rig:       rig,
		Poses:     avatar.StaticPose{Head: avatar.Transform{Position: physics.V(0, 1.7, 0)}},
		Peers:     ps,
		Match:     config.MatchConfig{SimHz: 72, PoseHz: 72, OutOfBoundsM: 150},
	})
	ready(t, o)
	o.SetPlayerType(match.Pitcher)
	if searching, err := o.PlayOnlineOrCancel(ctx); err != nil || !searching {
		t.Fatalf("play online = %v, %v", searching, err)
	}
	tickUntil(t, o, 0, "networked match", func() bool { return o.CurrentState() == match.PlayingNetworkedMatch })
	if p, ok := o.Peer(); !ok || p.ID != b.ID {
		t.Fatalf("peer = %+v, %v", p, ok)
	}
	if !rig.LocalGlove.(*avatar.Toggle).Active() || rig.LocalBat.(*avatar.Toggle).Active() {
		t.Fatalf("pitcher rig not applied")
	}

	r := newRemote(lb)
	id, err := o.ThrowBall(ball.CurveBall, physics.V(0, 1.5, 0), physics.V(0, 0, -30), nil)
	if err != nil {
		t.Fatalf("throw: %v", err)
	}
	wantParity := ball.ID(0)
	if b.ID < a.ID {
		wantParity = 1
	}
	if id%2 != wantParity {
		t.Fatalf("id %d has wrong parity", id)
	}

	tickUntil(t, o, 0, "remote sees throw", func() bool {
		r.step()
		st, ok := r.balls.State(id)
		return ok && st.Phase == ball.InFlight && st.Authority == ball.Remote
	})
	if err := r.balls.OnLocalHit(id, physics.V(0, 1, -18), physics.V(0, 12, 35)); err != nil {
		t.Fatalf("remote hit: %v", err)
	}
	tickUntil(t, o, 0, "hit applied", func() bool {
		st := o.Balls()
		return len(st) == 1 && st[0].Phase == ball.Resolved && st[0].Authority == ball.Remote
	})
	if got := fx.Hits(); len(got) != 1 || got[0] != physics.V(0, 1, -18) {
		t.Fatalf("effects = %v", got)
	}
	if _, n := r.mirror.Last(); n == 0 {
		t.Fatalf("no pose mirrored")
	}
	if pm, ok := ps.Get(b.ID); !ok || pm.MsgsOut == 0 || pm.MsgsIn == 0 {
		t.Fatalf("peer counters = %+v, %v", pm, ok)
	}

	r.net.SendBye(ReasonQuit)
	_ = lb.Close()
	tickUntil(t, o, 0, "disconnect", func() bool { return o.CurrentState() == match.MatchTransition })
	if o.LastEndReason() != ReasonQuit || len(o.Balls()) != 0 {
		t.Fatalf("after peer quit: %q, %d balls", o.LastEndReason(), len(o.Balls()))
	}
	if _, ok := o.Peer(); ok {
		t.Fatalf("link kept after disconnect")
	}
	if err := o.DismissSummary(); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
}

// Package orchestrator owns the match lifecycle of one peer. It wires the
// match state machine, the network session manager and the ball protocol,
// and drives them from a single cooperative simulation goroutine.
//
// Every method except Post, Do, Start and Run must be called from the
// simulation goroutine, i.e. from Tick or from a function passed to Post.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"homerun/pkg/avatar"
	"homerun/pkg/ball"
	"homerun/pkg/config"
	"homerun/pkg/effects"
	"homerun/pkg/identity"
	"homerun/pkg/link"
	"homerun/pkg/match"
	"homerun/pkg/netsession"
	"homerun/pkg/observability"
	"homerun/pkg/peers"
	"homerun/pkg/physics"
	"homerun/pkg/protocol"
	"homerun/pkg/protocol/codec"
	"homerun/pkg/transport"
)

var (
	ErrAlreadyRunning = errors.New("orchestrator: already running")
	ErrClosed         = errors.New("orchestrator: closed")
	ErrNotPlaying     = errors.New("orchestrator: no match in progress")
	ErrNotAllowed     = errors.New("orchestrator: not allowed for player type")
	ErrOffline        = errors.New("orchestrator: online play unavailable")
)

// Reasons carried by EndMatch and the Bye sent to the peer.
const (
	ReasonEnded      = "ended"
	ReasonQuit       = "quit"
	ReasonDisconnect = "disconnect"
)

// running is the process-wide claim held by the live Orchestrator.
var running atomic.Bool

// IdentitySource resolves the local player once. *identity.Resolver implements it.
type IdentitySource interface {
	Start(ctx context.Context) <-chan identity.Result
}

// PeerFinder looks for the remote peer. *link.Matchmaker implements it.
type PeerFinder interface {
	FindPeer(ctx context.Context) (*link.Link, error)
	Close() error
}

// Deps are the collaborators resolved once at construction.
type Deps struct {
	Match config.MatchConfig
	// BodyFormat encodes game messages: cbor (default) or json.
	BodyFormat string
	Identity   IdentitySource
	// NewFinder builds the matchmaker once the identity is known. Nil
	// disables online play.
	NewFinder func(*identity.Identity) (PeerFinder, error)
	Registry  *codec.Registry
	Rig       avatar.Rig
	// Poses is sampled for the local avatar; Mirror receives the remote one.
	Poses   avatar.PoseSource
	Mirror  avatar.PoseSink
	Effects effects.Player
	Peers   *peers.Store
	Log     *zap.Logger
}

type search struct {
	id     uint64
	cancel context.CancelFunc
}

type Orchestrator struct {
	deps    Deps
	log     *zap.Logger
	machine *match.Machine
	net     *netsession.Manager
	balls   *ball.Protocol
	world   *physics.World
	ids     *ball.IDAllocator

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan func()
	quit      chan struct{}
	quitOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	tick      uint64
	poseEvery uint64
	me        *identity.Identity
	fatal     error
	player    match.PlayerType
	finder    PeerFinder
	search    *search
	searchSeq uint64
	link      *link.Link
	seen      link.Stats
	lastEnd   string
}

// New builds the orchestrator. Only one may be live per process; a second
// call before Close returns ErrAlreadyRunning.
func New(d Deps) (*Orchestrator, error) {
	if d.Identity == nil {
		return nil, errors.New("orchestrator: identity source is required")
	}
	format, err := protocol.ParseFormat(d.BodyFormat)
	if err != nil {
		return nil, err
	}
	if !running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	def := config.Default().Match
	if d.Match.SimHz <= 0 {
		d.Match.SimHz = def.SimHz
	}
	if d.Match.PeerWaitMS <= 0 {
		d.Match.PeerWaitMS = def.PeerWaitMS
	}
	if d.Registry == nil {
		d.Registry = codec.NewRegistry()
	}
	log := observability.Or(d.Log)

	o := &Orchestrator{
		deps:  d,
		log:   log.Named("orchestrator"),
		world: physics.NewWorld(),
		ids:   ball.NewIDAllocator(0),
		cmds:  make(chan func(), 256),
		quit:  make(chan struct{}),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	if d.Match.PoseHz > 0 {
		o.poseEvery = uint64(max(1, d.Match.SimHz/d.Match.PoseHz))
	}

	o.machine = match.NewMachine(log.Named("match"))
	o.net = netsession.New(netsession.Options{
		Registry: d.Registry,
		Format:   format,
		Poses:    d.Mirror,
		Log:      log.Named("netsession"),
	})
	o.balls = ball.New(ball.Options{
		Sender: o.net,
		Spawner: ball.SpawnerFunc(func(id ball.ID, kind ball.Kind) physics.Proxy {
			return o.world.Spawn(int32(id), kind.Drag())
		}),
		Effects: d.Effects,
		Log:     log.Named("ball"),
	})
	o.net.SetHandler(ballHandler{o})

	o.machine.OnEnter(match.MatchTransition, func(match.State) {
		o.balls.Reset()
		o.world.Clear()
	})
	o.machine.OnEnter(match.PlayingLocalMatch, func(match.State) {
		o.ids.Reset(0)
		o.deps.Rig.Apply(o.player)
	})
	o.machine.OnEnter(match.PlayingNetworkedMatch, func(match.State) {
		o.ids.Reset(o.parity())
		o.deps.Rig.Apply(o.player)
		o.net.Activate()
	})
	o.machine.OnExit(match.PlayingNetworkedMatch, func(match.State) {
		o.net.Deactivate()
	})
	return o, nil
}

// Start launches identity resolution. Its completion is applied on the
// simulation goroutine by a later Tick. Cancelling ctx abandons it.
func (o *Orchestrator) Start(ctx context.Context) {
	rctx, stop := context.WithCancel(o.ctx)
	context.AfterFunc(ctx, stop)
	ch := o.deps.Identity.Start(rctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer stop()
		res, ok := <-ch
		if !ok {
			res.Err = errors.New("identity resolver finished without a result")
		}
		o.Post(func() { o.onIdentity(res) })
	}()
}

func (o *Orchestrator) onIdentity(res identity.Result) {
	if o.ctx.Err() != nil || o.machine.Current() != match.Initializing {
		return
	}
	if res.Err == nil && res.Identity == nil {
		res.Err = identity.ErrNoIdentity
	}
	if res.Err != nil {
		_, err := o.machine.Apply(match.EventIdentityFailed)
		o.fatal = fmt.Errorf("%w: %w", err, res.Err)
		o.log.Error("identity resolution failed", zap.Error(res.Err))
		return
	}
	o.me = res.Identity
	if o.deps.NewFinder != nil {
		f, err := o.deps.NewFinder(res.Identity)
		if err != nil {
			o.log.Warn("online play unavailable", zap.Error(err))
		} else {
			o.finder = f
		}
	}
	if _, err := o.machine.Apply(match.EventIdentityResolved); err != nil {
		o.log.Error("identity transition", zap.Error(err))
	}
}

// Post queues fn for the simulation goroutine. It reports false once the
// orchestrator is closed.
func (o *Orchestrator) Post(fn func()) bool {
	if o.ctx.Err() != nil {
		return false
	}
	select {
	case o.cmds <- fn:
		return true
	case <-o.ctx.Done():
		return false
	}
}

// Do states of a posted call.
const (
	callPending int32 = iota
	callRunning
	callAbandoned
)

// Do runs fn on the simulation goroutine and waits for it to finish. When
// ctx ends or the orchestrator closes first, fn is withdrawn and never runs;
// once fn has started, Do waits for it and reports success.
func (o *Orchestrator) Do(ctx context.Context, fn func()) error {
	var state atomic.Int32
	done := make(chan struct{})
	posted := o.Post(func() {
		if !state.CompareAndSwap(callPending, callRunning) {
			return
		}
		defer close(done)
		fn()
	})
	if !posted {
		return ErrClosed
	}
	var err error
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-o.ctx.Done():
		err = ErrClosed
	}
	if state.CompareAndSwap(callPending, callAbandoned) {
		return err
	}
	<-done
	return nil
}

func (o *Orchestrator) drain() {
	for n := len(o.cmds); n > 0; n-- {
		select {
		case fn := <-o.cmds:
			fn()
		default:
			return
		}
	}
}

// Run ticks at match.sim_hz with a fixed step until ctx ends, the quit
// button is pressed or identity resolution fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	step := o.deps.Match.TickInterval()
	t := time.NewTicker(step)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.quit:
			return nil
		case <-o.ctx.Done():
			return ErrClosed
		case <-t.C:
			o.Tick(step)
			if o.fatal != nil {
				return o.fatal
			}
		}
	}
}

// Tick runs one simulation step of length dt.
func (o *Orchestrator) Tick(dt time.Duration) {
	o.drain()
	o.tick++
	o.balls.BeginTick(o.tick)
	if o.machine.NetworkingActive() {
		o.net.Tick(o.tick)
	}
	if o.machine.Current().Playing() {
		o.world.Step(float32(dt.Seconds()))
		for _, id := range o.world.OutOfBounds(o.deps.Match.OutOfBoundsM) {
			o.DestroyBall(ball.ID(id))
		}
	}
	if !o.machine.NetworkingActive() {
		return
	}
	o.sendPose()
	o.recordExchange()
	if o.net.PeerGone() {
		o.peerLeft()
	}
}

// peerLeft ends the networked match without answering the peer. The match
// ends with the reason from the peer's Bye, or ReasonDisconnect without one.
func (o *Orchestrator) peerLeft() {
	reason := o.net.ByeReason()
	if reason == "" {
		reason = ReasonDisconnect
	}
	o.log.Warn("peer gone, ending match", zap.String("reason", reason))
	o.dropLink(ReasonDisconnect)
	_ = o.EndMatch(reason)
}

func (o *Orchestrator) sendPose() {
	if o.deps.Poses == nil || o.poseEvery == 0 || o.tick%o.poseEvery != 0 {
		return
	}
	if p, ok := o.deps.Poses.LocalPose(); ok {
		o.net.SendAvatarPose(p)
	}
}

func (o *Orchestrator) recordExchange() {
	if o.deps.Peers == nil || o.link == nil {
		return
	}
	s := o.link.Stats()
	id := o.link.Peer().ID
	o.deps.Peers.RecordExchange(id, s.BytesIn-o.seen.BytesIn, s.BytesOut-o.seen.BytesOut,
		s.FramesIn-o.seen.FramesIn, s.FramesOut-o.seen.FramesOut)
	if s.FramesIn != o.seen.FramesIn {
		o.deps.Peers.Touch(id, "", time.Now())
	}
	o.seen = s
}

// parity splits the id space: the lower peer id allocates even ids.
func (o *Orchestrator) parity() int {
	if o.link == nil || o.me == nil || o.me.ID < o.link.Peer().ID {
		return 0
	}
	return 1
}

// SetPlayerType chooses the local role and shows the matching rig parts.
func (o *Orchestrator) SetPlayerType(t match.PlayerType) {
	o.player = t
	o.SetTransformActiveFromType(t)
}

// SetTransformActiveFromType shows the rig parts for t.
func (o *Orchestrator) SetTransformActiveFromType(t match.PlayerType) {
	o.deps.Rig.Apply(t)
}

// PlayOnlineOrCancel starts a bounded search for a peer, or cancels the
// pending one. It reports whether a search is now running. ctx bounds the
// search in addition to match.peer_wait_ms.
func (o *Orchestrator) PlayOnlineOrCancel(ctx context.Context) (bool, error) {
	if o.search != nil {
		o.cancelSearch()
		_, err := o.machine.Apply(match.EventMatchCanceled)
		o.log.Info("matchmaking canceled")
		return false, err
	}
	if cur := o.machine.Current(); cur != match.WaitingToPracticeOrMatchmake {
		return false, fmt.Errorf("%w: play online in %s", match.ErrInvalidEvent, cur)
	}
	if o.finder == nil {
		return false, ErrOffline
	}
	if _, err := o.machine.Apply(match.EventMatchStart); err != nil {
		return false, err
	}

	o.searchSeq++
	id := o.searchSeq
	sctx, cancel := context.WithTimeout(o.ctx, o.deps.Match.PeerWait())
	stop := context.AfterFunc(ctx, cancel)
	o.search = &search{id: id, cancel: func() { stop(); cancel() }}
	finder := o.finder
	o.log.Info("looking for a peer", zap.Duration("wait", o.deps.Match.PeerWait()))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		l, err := finder.FindPeer(sctx)
		stop()
		cancel()
		if !o.Post(func() { o.onSearchDone(id, l, err) }) && l != nil {
			_ = l.Close()
		}
	}()
	return true, nil
}

func (o *Orchestrator) cancelSearch() {
	if o.search != nil {
		o.search.cancel()
		o.search = nil
	}
}

func (o *Orchestrator) onSearchDone(id uint64, l *link.Link, err error) {
	if o.search == nil || o.search.id != id {
		if l != nil {
			o.log.Debug("closing link of abandoned search", zap.String("peer", l.Peer().ID.Short()))
			o.closeLink(l)
		}
		return
	}
	o.search = nil
	if err != nil {
		o.log.Warn("no peer found", zap.Error(err))
		if _, aerr := o.machine.Apply(match.EventMatchCanceled); aerr != nil {
			o.log.Error("cancel transition", zap.Error(aerr))
		}
		return
	}
	o.link = l
	o.seen = link.Stats{}
	o.net.Attach(l)
	if _, aerr := o.machine.Apply(match.EventSetupNetworked); aerr != nil {
		o.log.Error("networked transition", zap.Error(aerr))
		o.dropLink(ReasonQuit)
		return
	}
	r := l.Peer()
	o.log.Info("networked match started", zap.String("peer", r.ID.Short()),
		zap.String("name", r.DisplayName), zap.String("match", l.MatchID()), zap.Int("id_parity", o.parity()))
}

func (o *Orchestrator) closeLink(l *link.Link) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		_ = l.Close()
	}()
}

// dropLink says goodbye unless the peer is already gone and releases the link.
func (o *Orchestrator) dropLink(reason string) {
	if o.link == nil {
		return
	}
	if reason != ReasonDisconnect {
		o.net.SendBye(reason)
	}
	o.recordExchange()
	o.net.Detach()
	o.closeLink(o.link)
	o.link = nil
}

// PlayLocal starts a practice match.
func (o *Orchestrator) PlayLocal() error {
	if cur := o.machine.Current(); cur != match.WaitingToPracticeOrMatchmake {
		return fmt.Errorf("%w: play local in %s", match.ErrInvalidEvent, cur)
	}
	if _, err := o.machine.Apply(match.EventMatchStart); err != nil {
		return err
	}
	_, err := o.machine.Apply(match.EventSetupLocal)
	return err
}

// EndMatch finishes the current match and shows the summary. A networked
// match tells the peer why and releases the link.
func (o *Orchestrator) EndMatch(reason string) error {
	cur := o.machine.Current()
	if !cur.Playing() {
		return fmt.Errorf("%w: end match in %s", match.ErrInvalidEvent, cur)
	}
	if cur == match.PlayingNetworkedMatch {
		o.dropLink(reason)
	}
	o.lastEnd = reason
	if _, err := o.machine.Apply(match.EventMatchEnd); err != nil {
		return err
	}
	o.log.Info("match ended", zap.String("reason", reason))
	return nil
}

// DismissSummary returns to the lobby after a match.
func (o *Orchestrator) DismissSummary() error {
	if o.search != nil {
		return fmt.Errorf("%w: matchmaking in progress", match.ErrInvalidEvent)
	}
	_, err := o.machine.Apply(match.EventSummaryDismissed)
	return err
}

// QuitButtonPressed leaves any matchmaking queue, abandons the match and
// signals Quit.
func (o *Orchestrator) QuitButtonPressed() {
	o.cancelSearch()
	if o.machine.Current().Playing() {
		_ = o.EndMatch(ReasonQuit)
	}
	if o.finder != nil {
		_ = o.finder.Close()
		o.finder = nil
	}
	o.quitOnce.Do(func() { close(o.quit) })
	o.log.Info("quit requested")
}

// Quit is closed once the quit button was pressed.
func (o *Orchestrator) Quit() <-chan struct{} { return o.quit }

// ThrowBall spawns a ball, registers it and throws it from the local hand.
func (o *Orchestrator) ThrowBall(kind ball.Kind, pos, vel physics.Vec3, target *physics.Vec3) (ball.ID, error) {
	if !o.machine.Current().Playing() {
		return ball.NoID, ErrNotPlaying
	}
	if !o.player.CanThrow() {
		return ball.NoID, fmt.Errorf("%w: %s cannot throw", ErrNotAllowed, o.player)
	}
	id := o.ids.NextID()
	body := o.world.Spawn(int32(id), kind.Drag())
	if err := o.balls.RegisterBall(id, kind, body); err != nil {
		o.world.Remove(int32(id))
		return ball.NoID, err
	}
	if err := o.balls.OnLocalThrow(id, pos, vel, target); err != nil {
		return id, err
	}
	return id, nil
}

// HitBall reports a local bat contact.
func (o *Orchestrator) HitBall(id ball.ID, pos, vel physics.Vec3) error {
	if !o.machine.Current().Playing() {
		return ErrNotPlaying
	}
	if !o.player.CanHit() {
		return fmt.Errorf("%w: %s cannot hit", ErrNotAllowed, o.player)
	}
	return o.balls.OnLocalHit(id, pos, vel)
}

// DestroyBall removes a ball locally and tells the peer.
func (o *Orchestrator) DestroyBall(id ball.ID) {
	o.world.Remove(int32(id))
	o.net.RemoveNetworkBall(id)
}

func (o *Orchestrator) CurrentState() match.State { return o.machine.Current() }

// MyID is empty until the identity resolves.
func (o *Orchestrator) MyID() transport.PeerID {
	if o.me == nil {
		return ""
	}
	return o.me.ID
}

// MyDisplayName is empty until the identity resolves.
func (o *Orchestrator) MyDisplayName() string {
	if o.me == nil {
		return ""
	}
	return o.me.DisplayName
}

func (o *Orchestrator) PlayerType() match.PlayerType { return o.player }

func (o *Orchestrator) Balls() []ball.State { return o.balls.Snapshot() }

// Peer is the remote player of the networked match, if any.
func (o *Orchestrator) Peer() (link.Remote, bool) {
	if o.link == nil {
		return link.Remote{}, false
	}
	return o.link.Peer(), true
}

// Fatal is the identity failure that stopped initialization, if any.
func (o *Orchestrator) Fatal() error { return o.fatal }

// Searching reports a running PlayOnline search.
func (o *Orchestrator) Searching() bool { return o.search != nil }

// LastEndReason is the reason the previous match ended.
func (o *Orchestrator) LastEndReason() string { return o.lastEnd }

// Status is a read-only summary for the admin surface.
type Status struct {
	State       string           `json:"state"`
	PlayerType  string           `json:"player_type"`
	MyID        string           `json:"my_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Peer        string           `json:"peer,omitempty"`
	PeerName    string           `json:"peer_name,omitempty"`
	MatchID     string           `json:"match_id,omitempty"`
	Searching   bool             `json:"searching"`
	LastEnd     string           `json:"last_end,omitempty"`
	Tick        uint64           `json:"tick"`
	Balls       int              `json:"balls"`
	BallStats   ball.Stats       `json:"ball_stats"`
	NetStats    netsession.Stats `json:"net_stats"`
	Fatal       string           `json:"fatal,omitempty"`
}

func (o *Orchestrator) Status() Status {
	s := Status{
		State:       o.machine.Current().String(),
		PlayerType:  o.player.String(),
		MyID:        string(o.MyID()),
		DisplayName: o.MyDisplayName(),
		Searching:   o.Searching(),
		LastEnd:     o.lastEnd,
		Tick:        o.tick,
		Balls:       o.balls.Len(),
		BallStats:   o.balls.Stats(),
		NetStats:    o.net.Stats(),
	}
	if r, ok := o.Peer(); ok {
		s.Peer, s.PeerName, s.MatchID = string(r.ID), r.DisplayName, o.link.MatchID()
	}
	if o.fatal != nil {
		s.Fatal = o.fatal.Error()
	}
	return s
}

// Close cancels identity resolution and matchmaking, says goodbye to the
// peer and releases the process-wide claim. Call it from the simulation
// goroutine once the loop has stopped.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.cancelSearch()
		if o.machine.Current() == match.PlayingNetworkedMatch {
			o.dropLink(ReasonQuit)
		}
		o.cancel()
		if o.finder != nil {
			_ = o.finder.Close()
			o.finder = nil
		}
		o.wg.Wait()
		// completions posted before cancel may still hold a link
		o.drain()
		o.wg.Wait()
		running.Store(false)
	})
	return nil
}

// ballHandler routes decoded ball messages into the protocol.
type ballHandler struct{ o *Orchestrator }

func (h ballHandler) OnRemoteThrow(t ball.Throw) error { return h.o.balls.OnRemoteThrow(t) }
func (h ballHandler) OnRemoteHit(hit ball.Hit) error   { return h.o.balls.OnRemoteHit(hit) }
func (h ballHandler) UnregisterBall(id ball.ID) bool   { return h.o.balls.UnregisterBall(id) }

// OnRemoteRemove drops the local copy unless this peer owns the ball.
func (h ballHandler) OnRemoteRemove(id ball.ID) {
	if st, ok := h.o.balls.State(id); ok && st.Authority == ball.Local {
		h.o.log.Debug("peer removed a ball this peer owns, keeping it", zap.Int32("ball_id", int32(id)))
		return
	}
	h.o.balls.UnregisterBall(id)
	h.o.world.Remove(int32(id))
}

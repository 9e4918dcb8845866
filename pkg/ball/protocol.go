package ball

import (
	"sort"

	"go.uber.org/zap"

	"homerun/pkg/effects"
	"homerun/pkg/physics"
)

type entry struct {
	kind      Kind
	proxy     physics.Proxy
	authority Role
	phase     Phase
	// remoteHitTick is the tick the last remote hit was applied in.
	remoteHitTick uint64
}

// Stats counts degraded events.
type Stats struct {
	Implicit   uint64 // balls registered by a remote message
	OutOfOrder uint64 // hits seen before the matching throw
	Dropped    uint64 // remote messages for removed ids or refused states
	Refused    uint64 // local events refused by the authority rules
	Conflicts  uint64 // both peers hit the same ball
}

// Options wires the collaborators. Sender and Spawner may be nil.
type Options struct {
	Sender  Sender
	Spawner Spawner
	Effects effects.Player
	Log     *zap.Logger
}

// Protocol maps ball ids to proxies and applies authority events. It runs on
// the simulation thread only and does no locking.
type Protocol struct {
	entries    map[ID]*entry
	tombstones map[ID]struct{}
	tick       uint64

	sender  Sender
	spawner Spawner
	fx      effects.Player
	log     *zap.Logger
	stats   Stats
}

func New(opts Options) *Protocol {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Protocol{
		entries:    make(map[ID]*entry),
		tombstones: make(map[ID]struct{}),
		sender:     opts.Sender,
		spawner:    opts.Spawner,
		fx:         opts.Effects,
		log:        opts.Log,
	}
}

// SetSender replaces the outbound collaborator.
func (p *Protocol) SetSender(s Sender) { p.sender = s }

// BeginTick starts simulation tick t.
func (p *Protocol) BeginTick(t uint64) { p.tick = t }

func (p *Protocol) Tick() uint64 { return p.tick }

func (p *Protocol) Stats() Stats { return p.stats }

// RegisterBall binds id to a local proxy. The ball starts Unthrown with no owner.
func (p *Protocol) RegisterBall(id ID, kind Kind, proxy physics.Proxy) error {
	if id == NoID {
		return ErrNoID
	}
	if proxy == nil {
		return ErrNilProxy
	}
	if _, ok := p.entries[id]; ok {
		return &DuplicateIDError{ID: id}
	}
	if _, ok := p.tombstones[id]; ok {
		return ErrRemoved
	}
	p.entries[id] = &entry{kind: kind, proxy: proxy}
	p.log.Debug("ball registered", zap.Int32("id", int32(id)), zap.Stringer("kind", kind))
	return nil
}

// UnregisterBall forgets id and drops any later message for it until Reset.
// It reports whether the id was registered; repeated calls are harmless.
func (p *Protocol) UnregisterBall(id ID) bool {
	_, ok := p.entries[id]
	delete(p.entries, id)
	if id != NoID {
		p.tombstones[id] = struct{}{}
	}
	if ok {
		p.log.Debug("ball unregistered", zap.Int32("id", int32(id)))
	}
	return ok
}

// Reset discards every entry and tombstone.
func (p *Protocol) Reset() {
	if n := len(p.entries); n > 0 {
		p.log.Info("discarding ball state", zap.Int("balls", n))
	}
	clear(p.entries)
	clear(p.tombstones)
}

func (p *Protocol) lookupRemote(id ID, kind Kind, what string) (*entry, error) {
	if _, dead := p.tombstones[id]; dead {
		p.stats.Dropped++
		p.log.Warn("dropping message for removed ball", zap.String("msg", what), zap.Int32("id", int32(id)))
		return nil, ErrRemoved
	}
	if e, ok := p.entries[id]; ok {
		return e, nil
	}
	if id == NoID {
		p.stats.Dropped++
		p.log.Warn("dropping message without ball id", zap.String("msg", what))
		return nil, ErrNoID
	}
	if p.spawner == nil {
		p.stats.Dropped++
		p.log.Warn("dropping message for unknown ball", zap.String("msg", what), zap.Int32("id", int32(id)))
		return nil, ErrUnknownID
	}
	proxy := p.spawner.Spawn(id, kind)
	if proxy == nil {
		p.stats.Dropped++
		return nil, ErrNilProxy
	}
	e := &entry{kind: kind, proxy: proxy}
	p.entries[id] = e
	p.stats.Implicit++
	p.log.Debug("implicit ball registration", zap.String("msg", what), zap.Int32("id", int32(id)), zap.Stringer("kind", kind))
	return e, nil
}

func release(proxy physics.Proxy, pos, vel physics.Vec3) {
	proxy.SetPosition(pos)
	proxy.SetGravityEnabled(true)
	if r, ok := proxy.(releaser); ok {
		r.GrabEnd(vel, physics.Zero)
	} else {
		proxy.SetVelocity(vel)
		proxy.SetAngularVelocity(physics.Zero)
	}
	proxy.SetKinematic(false)
}

// applyHit puts the proxy in the post-contact state. Velocity is cleared
// before the move so the old momentum never acts at the new position.
func applyHit(proxy physics.Proxy, pos, vel physics.Vec3) {
	proxy.SetKinematic(false)
	proxy.SetGravityEnabled(true)
	proxy.SetAngularVelocity(physics.Zero)
	proxy.SetVelocity(physics.Zero)
	proxy.SetPosition(pos)
	proxy.SetVelocity(vel)
}

// OnLocalThrow releases a locally held ball and broadcasts the throw.
func (p *Protocol) OnLocalThrow(id ID, pos, vel physics.Vec3, target *physics.Vec3) error {
	e, ok := p.entries[id]
	if !ok {
		p.stats.Refused++
		p.log.Warn("local throw of unknown ball", zap.Int32("id", int32(id)))
		return ErrUnknownID
	}
	if e.phase == Resolved {
		p.stats.Refused++
		p.log.Warn("local throw of resolved ball", zap.Int32("id", int32(id)), zap.Stringer("owner", e.authority))
		return ErrResolved
	}
	if e.phase == InFlight {
		p.log.Debug("re-throw of ball in flight", zap.Int32("id", int32(id)), zap.Stringer("owner", e.authority))
	}
	release(e.proxy, pos, vel)
	e.authority = Local
	e.phase = InFlight
	if p.sender != nil {
		t := Throw{ID: id, Kind: e.kind, Position: pos, Velocity: vel}
		if target != nil {
			tv := *target
			t.Target = &tv
		}
		p.sender.SendBallThrow(t)
	}
	return nil
}

// OnRemoteThrow applies the peer's release snapshot. Both peers then simulate
// the pitch from the same initial condition.
func (p *Protocol) OnRemoteThrow(t Throw) error {
	e, err := p.lookupRemote(t.ID, t.Kind, "throw")
	if err != nil {
		return err
	}
	if e.phase == Resolved {
		p.stats.Dropped++
		p.log.Warn("dropping throw for resolved ball", zap.Int32("id", int32(t.ID)), zap.Stringer("owner", e.authority))
		return ErrResolved
	}
	if t.Kind != e.kind {
		p.log.Warn("throw kind differs from registered kind", zap.Int32("id", int32(t.ID)),
			zap.Stringer("registered", e.kind), zap.Stringer("received", t.Kind))
	}
	release(e.proxy, t.Position, t.Velocity)
	e.authority = Remote
	e.phase = InFlight
	return nil
}

// OnLocalHit moves authority to this peer, applies the contact and
// broadcasts it. It is refused once a remote hit has been applied.
func (p *Protocol) OnLocalHit(id ID, pos, vel physics.Vec3) error {
	e, ok := p.entries[id]
	if !ok {
		p.stats.Refused++
		p.log.Warn("local hit of unknown ball", zap.Int32("id", int32(id)))
		return ErrUnknownID
	}
	if e.phase == Resolved && e.authority == Remote {
		p.stats.Refused++
		fields := []zap.Field{zap.Int32("id", int32(id)), zap.Uint64("remote_hit_tick", e.remoteHitTick)}
		if e.remoteHitTick == p.tick {
			p.log.Warn("local hit in the tick of a remote hit, remote wins", fields...)
		} else {
			p.log.Warn("local hit of ball resolved by peer", fields...)
		}
		return ErrRemotePrecedence
	}
	applyHit(e.proxy, pos, vel)
	e.authority = Local
	e.phase = Resolved
	if p.sender != nil {
		p.sender.SendBallHit(Hit{ID: id, Position: pos, Velocity: vel})
	}
	p.playHit(pos)
	return nil
}

// OnRemoteHit applies the peer's contact snapshot and plays the same effect.
// A hit for a ball never seen registers it implicitly.
func (p *Protocol) OnRemoteHit(h Hit) error {
	_, known := p.entries[h.ID]
	e, err := p.lookupRemote(h.ID, FastBall, "hit")
	if err != nil {
		return err
	}
	switch {
	case !known || e.phase == Unthrown:
		p.stats.OutOfOrder++
		p.log.Warn("hit before throw, applying", zap.Int32("id", int32(h.ID)))
	case e.phase == Resolved && e.authority == Local:
		p.stats.Conflicts++
		p.log.Warn("both peers hit the ball, applying remote hit", zap.Int32("id", int32(h.ID)))
	}
	applyHit(e.proxy, h.Position, h.Velocity)
	e.authority = Remote
	e.phase = Resolved
	e.remoteHitTick = p.tick
	p.playHit(h.Position)
	return nil
}

func (p *Protocol) playHit(pos physics.Vec3) {
	if p.fx != nil {
		p.fx.PlayBatHitEffect(pos)
	}
}

// State returns a snapshot of id.
func (p *Protocol) State(id ID) (State, bool) {
	e, ok := p.entries[id]
	if !ok {
		return State{}, false
	}
	return e.state(id), true
}

func (e *entry) state(id ID) State {
	return State{
		ID:        id,
		Kind:      e.kind,
		Authority: e.authority,
		Phase:     e.phase,
		Position:  e.proxy.Position(),
		Velocity:  e.proxy.Velocity(),
		Kinematic: e.proxy.Kinematic(),
	}
}

// Snapshot returns every registered ball ordered by id.
func (p *Protocol) Snapshot() []State {
	out := make([]State, 0, len(p.entries))
	for id, e := range p.entries {
		out = append(out, e.state(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Protocol) Len() int { return len(p.entries) }

// Removed reports whether id was unregistered in this match.
func (p *Protocol) Removed(id ID) bool {
	_, ok := p.tombstones[id]
	return ok
}

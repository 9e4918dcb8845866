// Package netsession turns ball and pose intents into frames for the peer
// link and dispatches inbound frames on the simulation tick.
package netsession

import (
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"homerun/pkg/avatar"
	"homerun/pkg/ball"
	"homerun/pkg/priocq"
	"homerun/pkg/protocol"
	"homerun/pkg/protocol/codec"
)

// Transport is the peer link as seen from the simulation thread.
// *link.Link implements it.
type Transport interface {
	Send(frame []byte) error
	Poll(max int) [][]byte
	Connected() bool
}

// Handler receives decoded ball messages.
type Handler interface {
	OnRemoteThrow(ball.Throw) error
	OnRemoteHit(ball.Hit) error
	OnRemoteRemove(ball.ID)
	UnregisterBall(ball.ID) bool
}

type Options struct {
	Registry *codec.Registry
	// Format encodes game messages; control messages always use proto.
	Format  protocol.Format
	Handler Handler
	Poses   avatar.PoseSink
	// MaxPerTick bounds frames drained per tick (0 drains everything queued).
	MaxPerTick int
	Log        *zap.Logger
}

// Stats are cumulative counters.
type Stats struct {
	Sent            uint64
	SendDropped     uint64
	Received        uint64
	DecodeErrors    uint64
	PosesApplied    uint64
	PosesSuperseded uint64
	SeqGaps         uint64
}

// Manager is driven from the simulation thread only.
type Manager struct {
	t       Transport
	active  bool
	handler Handler
	poses   avatar.PoseSink
	reg     *codec.Registry
	format  protocol.Format
	max     int
	log     *zap.Logger

	tick     uint32
	seq      [3]uint32
	lastBall uint32
	seenBall bool
	peerGone bool
	byeWhy   string
	stats    Stats
}

func New(opts Options) *Manager {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = codec.NewRegistry()
	}
	if opts.Format == protocol.FormatUnknown {
		opts.Format = protocol.FormatCBOR
	}
	return &Manager{
		handler: opts.Handler,
		poses:   opts.Poses,
		reg:     opts.Registry,
		format:  opts.Format,
		max:     opts.MaxPerTick,
		log:     opts.Log,
	}
}

func (m *Manager) SetHandler(h Handler) { m.handler = h }

// Attach binds the link for a new match and resets sequencing.
func (m *Manager) Attach(t Transport) {
	m.t = t
	m.seq = [3]uint32{}
	m.lastBall, m.seenBall = 0, false
	m.peerGone, m.byeWhy = false, ""
}

// Detach forgets the link; sends are dropped afterwards.
func (m *Manager) Detach() { m.t = nil }

func (m *Manager) Activate()    { m.active = true }
func (m *Manager) Deactivate()  { m.active = false }
func (m *Manager) Active() bool { return m.active }

func (m *Manager) Connected() bool { return m.t != nil && m.t.Connected() }

// PeerGone reports a Bye from the peer or a dropped link.
func (m *Manager) PeerGone() bool {
	return m.peerGone || (m.t != nil && !m.t.Connected())
}

// ByeReason is the reason carried by the peer's Bye, if any.
func (m *Manager) ByeReason() string { return m.byeWhy }

func (m *Manager) Stats() Stats { return m.stats }

func (m *Manager) send(typ uint8, flags uint16, f protocol.Format, v any) {
	if m.t == nil || !m.t.Connected() {
		m.stats.SendDropped++
		m.log.Debug("no peer, dropping", zap.String("type", protocol.TypeName(typ)))
		return
	}
	class := protocol.Class(typ)
	m.seq[class]++
	h := protocol.Header{Type: typ, Flags: flags, Seq: m.seq[class], Tick: m.tick}
	frame, err := protocol.BuildFrame(m.reg, h, f, v)
	if err != nil {
		m.stats.SendDropped++
		m.log.Error("encode failed", zap.String("type", protocol.TypeName(typ)), zap.Error(err))
		return
	}
	if err := m.t.Send(frame); err != nil {
		m.stats.SendDropped++
		m.log.Warn("send failed", zap.String("type", protocol.TypeName(typ)), zap.Error(err))
		return
	}
	m.stats.Sent++
}

// SendBallThrow implements ball.Sender.
func (m *Manager) SendBallThrow(t ball.Throw) {
	msg := protocol.BallThrow{ID: int32(t.ID), Kind: uint8(t.Kind), Position: t.Position, Velocity: t.Velocity}
	var flags uint16
	if t.Target != nil {
		v := *t.Target
		msg.Extra = &v
		flags |= protocol.FlagHasExtra
	}
	m.send(protocol.MsgBallThrow, flags, m.format, msg)
}

// SendBallHit implements ball.Sender.
func (m *Manager) SendBallHit(h ball.Hit) {
	m.send(protocol.MsgBallHit, 0, m.format, protocol.BallHit{ID: int32(h.ID), Position: h.Position, Velocity: h.Velocity})
}

func (m *Manager) SendBallRemove(id ball.ID) {
	m.send(protocol.MsgBallRemove, 0, m.format, protocol.BallRemove{ID: int32(id)})
}

func (m *Manager) SendAvatarPose(p avatar.Pose) {
	m.send(protocol.MsgAvatarPose, 0, m.format, p)
}

// SendBye tells the peer the match is abandoned.
func (m *Manager) SendBye(reason string) {
	s, err := protocol.Bye{Reason: reason}.ToStruct()
	if err != nil {
		m.log.Error("encode bye", zap.Error(err))
		return
	}
	m.send(protocol.MsgBye, 0, protocol.FormatProto, s)
}

// RemoveNetworkBall forgets a locally destroyed ball and tells the peer.
func (m *Manager) RemoveNetworkBall(id ball.ID) {
	if m.handler != nil {
		m.handler.UnregisterBall(id)
	}
	m.SendBallRemove(id)
}

// Tick drains the inbox. Ball messages are dispatched in arrival order
// before poses, and only the newest pose reaches the sink. It does nothing
// while inactive. Once the link is down only control frames still queued
// are read, so a Bye sent just before the close is not lost.
func (m *Manager) Tick(tick uint64) {
	m.tick = uint32(tick)
	if !m.active || m.t == nil {
		return
	}
	if !m.t.Connected() {
		m.drainControl()
		return
	}
	frames := m.t.Poll(m.max)
	if len(frames) == 0 {
		return
	}
	var balls [][]byte
	var pose []byte
	for _, f := range frames {
		m.stats.Received++
		typ, err := protocol.PeekType(f)
		if err != nil {
			m.stats.DecodeErrors++
			m.log.Warn("bad frame", zap.Error(err))
			continue
		}
		switch protocol.Class(typ) {
		case priocq.ClassBall:
			balls = append(balls, f)
		case priocq.ClassPose:
			if pose != nil {
				m.stats.PosesSuperseded++
			}
			pose = f
		default:
			m.control(typ, f)
		}
	}
	for _, f := range balls {
		m.dispatchBall(f)
	}
	if pose != nil {
		m.applyPose(pose)
	}
}

func (m *Manager) drainControl() {
	for _, f := range m.t.Poll(0) {
		typ, err := protocol.PeekType(f)
		if err != nil || protocol.Class(typ) != priocq.ClassControl {
			continue
		}
		m.stats.Received++
		m.control(typ, f)
	}
}

func (m *Manager) control(typ uint8, f []byte) {
	switch typ {
	case protocol.MsgBye:
		var s structpb.Struct
		if _, err := protocol.ParseFrame(m.reg, f, &s); err != nil {
			m.log.Debug("bye body", zap.Error(err))
		}
		m.peerGone = true
		m.byeWhy = protocol.ByeFromStruct(&s).Reason
		m.log.Info("peer left the match", zap.String("reason", m.byeWhy))
	default:
		m.log.Debug("ignoring control frame", zap.String("type", protocol.TypeName(typ)))
	}
}

func (m *Manager) checkSeq(seq uint32) {
	if m.seenBall && seq != m.lastBall+1 {
		m.stats.SeqGaps++
		m.log.Warn("ball message sequence gap, possible desync", zap.Uint32("want", m.lastBall+1), zap.Uint32("got", seq))
	}
	m.lastBall, m.seenBall = seq, true
}

func (m *Manager) dispatchBall(f []byte) {
	var env protocol.Envelope
	if err := env.DecodeFrame(f); err != nil {
		m.stats.DecodeErrors++
		m.log.Warn("bad ball frame", zap.Error(err))
		return
	}
	m.checkSeq(env.Header.Seq)
	if m.handler == nil {
		return
	}
	var err error
	switch env.Header.Type {
	case protocol.MsgBallThrow:
		var msg protocol.BallThrow
		if err = m.decode(env, &msg); err != nil {
			break
		}
		t := ball.Throw{ID: ball.ID(msg.ID), Kind: ball.Kind(msg.Kind), Position: msg.Position, Velocity: msg.Velocity}
		if env.HasFlag(protocol.FlagHasExtra) && msg.Extra != nil {
			v := *msg.Extra
			t.Target = &v
		}
		err = m.handler.OnRemoteThrow(t)
	case protocol.MsgBallHit:
		var msg protocol.BallHit
		if err = m.decode(env, &msg); err != nil {
			break
		}
		err = m.handler.OnRemoteHit(ball.Hit{ID: ball.ID(msg.ID), Position: msg.Position, Velocity: msg.Velocity})
	case protocol.MsgBallRemove:
		var msg protocol.BallRemove
		if err = m.decode(env, &msg); err != nil {
			break
		}
		m.handler.OnRemoteRemove(ball.ID(msg.ID))
	}
	if err != nil {
		m.log.Debug("ball message not applied", zap.String("type", protocol.TypeName(env.Header.Type)), zap.Error(err))
	}
}

func (m *Manager) decode(env protocol.Envelope, v any) error {
	if _, err := protocol.DecodeBody(m.reg, env.Payload, v); err != nil {
		m.stats.DecodeErrors++
		m.log.Warn("decode failed", zap.String("type", protocol.TypeName(env.Header.Type)), zap.Error(err))
		return err
	}
	return nil
}

func (m *Manager) applyPose(f []byte) {
	var p protocol.AvatarPose
	if _, err := protocol.ParseFrame(m.reg, f, &p); err != nil {
		m.stats.DecodeErrors++
		m.log.Debug("bad pose", zap.Error(err))
		return
	}
	if m.poses != nil {
		m.poses.ApplyRemotePose(p)
	}
	m.stats.PosesApplied++
}

package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homerun/pkg/config"
	"homerun/pkg/identity"
	"homerun/pkg/peers"
	"homerun/pkg/protocol/codec"
	"homerun/pkg/transport"
)

var (
	ErrNoPeer      = errors.New("link: no peer found")
	ErrNoEndpoints = errors.New("link: no usable transport endpoints")
	ErrBusy        = errors.New("link: matchmaking already in progress")
)

// MatchmakerOptions configures a Matchmaker.
type MatchmakerOptions struct {
	Identity   *identity.Identity
	Transports []config.TransportConfig
	Net        config.NetConfig
	Registry   *codec.Registry
	// Peers, when set, records verified peers.
	Peers *peers.Store
	// Settle is how long FindPeer keeps collecting duplicate sessions after
	// the first verified one before electing a winner.
	Settle  time.Duration
	MaxSkew time.Duration
	Log     *zap.Logger
	// NewTransport overrides NewByKind, e.g. to share an in-process hub.
	NewTransport func(kind string) (transport.Transport, error)
}

type candidate struct {
	sess    transport.Session
	st      transport.Stream
	remote  Remote
	matchID string
}

func (c candidate) close() { _ = c.sess.Close() }

// Matchmaker listens on every configured endpoint for its whole life and,
// while FindPeer runs, dials configured targets until one peer verifies.
// Inbound sessions arriving while no FindPeer is running are refused as busy.
type Matchmaker struct {
	opts MatchmakerOptions
	x    *exchange
	log  *zap.Logger

	mu         sync.Mutex
	started    bool
	ctx        context.Context
	cancel     context.CancelFunc
	transports map[string]transport.Transport
	listeners  []transport.Listener
	wg         sync.WaitGroup

	seeking atomic.Bool
	found   chan candidate
}

func NewMatchmaker(opts MatchmakerOptions) *Matchmaker {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = codec.NewRegistry()
	}
	if opts.Settle <= 0 {
		opts.Settle = 250 * time.Millisecond
	}
	if opts.NewTransport == nil {
		opts.NewTransport = NewByKind
	}
	return &Matchmaker{
		opts:       opts,
		x:          &exchange{id: opts.Identity, reg: opts.Registry, maxSkew: opts.MaxSkew},
		log:        opts.Log.Named("matchmaker"),
		transports: make(map[string]transport.Transport),
		found:      make(chan candidate, 8),
	}
}

func (m *Matchmaker) transportFor(kind string) (transport.Transport, error) {
	if t, ok := m.transports[kind]; ok {
		return t, nil
	}
	t, err := m.opts.NewTransport(kind)
	if err != nil {
		return nil, err
	}
	m.transports[kind] = t
	return t, nil
}

// Start opens the configured listeners. It is called by FindPeer when needed.
func (m *Matchmaker) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	for _, tc := range m.opts.Transports {
		if len(tc.Listen) == 0 {
			continue
		}
		tr, err := m.transportFor(tc.Kind)
		if err != nil {
			m.log.Warn("transport kind not available", zap.String("kind", tc.Kind), zap.Error(err))
			continue
		}
		for _, addr := range tc.Listen {
			l, err := tr.Listen(m.ctx, addr)
			if err != nil {
				m.log.Error("listen failed", zap.String("kind", tr.Kind().String()), zap.String("addr", addr), zap.Error(err))
				continue
			}
			m.log.Info("listening", zap.String("kind", tr.Kind().String()), zap.String("addr", l.Addr().String()))
			m.listeners = append(m.listeners, l)
			m.wg.Add(1)
			go m.acceptLoop(l)
		}
	}
	m.started = true
	return nil
}

// Listeners returns the bound listener addresses.
func (m *Matchmaker) Listeners() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.listeners))
	for _, l := range m.listeners {
		out = append(out, l.Addr().String())
	}
	return out
}

// Close stops the listeners and waits for in-flight handshakes.
func (m *Matchmaker) Close() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	for _, l := range m.listeners {
		_ = l.Close()
	}
	m.listeners = nil
	m.started = false
	m.mu.Unlock()
	m.wg.Wait()
	m.drainFound()
	return nil
}

func (m *Matchmaker) drainFound() {
	for {
		select {
		case c := <-m.found:
			c.close()
		default:
			return
		}
	}
}

func (m *Matchmaker) acceptLoop(l transport.Listener) {
	defer m.wg.Done()
	for {
		s, err := l.Accept(m.ctx)
		if err != nil {
			if m.ctx.Err() == nil {
				m.log.Warn("accept failed", zap.String("addr", l.Addr().String()), zap.Error(err))
			}
			return
		}
		m.log.Debug("inbound session", zap.String("kind", s.TransportKind().String()), zap.Stringer("raddr", s.RemoteAddr()))
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.acceptOne(s)
		}()
	}
}

func (m *Matchmaker) handshakeTimeout() time.Duration { return 10 * time.Second }

func (m *Matchmaker) acceptOne(s transport.Session) {
	ctx, cancel := context.WithTimeout(m.ctx, m.handshakeTimeout())
	defer cancel()
	st, err := transport.StreamFor(ctx, s)
	if err != nil {
		_ = s.Close()
		return
	}
	r, matchID, err := m.x.accept(ctx, s, st, func() bool { return !m.seeking.Load() })
	if err != nil {
		m.log.Info("inbound handshake failed", zap.Stringer("raddr", s.RemoteAddr()), zap.Error(err))
		_ = s.Close()
		return
	}
	m.deliver(m.ctx, candidate{sess: s, st: st, remote: r, matchID: matchID})
}

func (m *Matchmaker) deliver(ctx context.Context, c candidate) {
	if !m.seeking.Load() {
		c.close()
		return
	}
	bind(c.sess, c.remote, c.matchID)
	select {
	case m.found <- c:
	case <-ctx.Done():
		c.close()
	}
}

func (m *Matchmaker) backoff() (initial, max, jitter time.Duration) {
	n := m.opts.Net
	initial = time.Duration(n.DialBackoffInitialMS) * time.Millisecond
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	max = time.Duration(n.DialBackoffMaxMS) * time.Millisecond
	if max < initial {
		max = initial
	}
	return initial, max, time.Duration(n.DialBackoffJitterMS) * time.Millisecond
}

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(jitter)))
}

// dialLoop dials one target with exponential backoff until a session
// verifies or ctx ends.
func (m *Matchmaker) dialLoop(ctx context.Context, tr transport.Transport, d config.PeerDialConfig) {
	pinned := transport.PeerID(d.PeerID)
	peer := transport.PeerInfo{ID: pinned, Addr: d.Address, Outbound: true}
	if pinned == "" {
		peer.ID = transport.PeerID("temp:" + tr.Kind().String() + ":" + d.Address)
	}
	initial, max, jitter := m.backoff()
	wait := initial
	sleep := func() bool {
		t := time.NewTimer(withJitter(wait, jitter))
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		if wait < max {
			wait = min(wait*2, max)
		}
		return true
	}
	for ctx.Err() == nil {
		c, err := m.dialOnce(ctx, tr, d.Address, peer, pinned)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Debug("dial attempt failed", zap.String("kind", tr.Kind().String()), zap.String("addr", d.Address), zap.Error(err))
			if !sleep() {
				return
			}
			continue
		}
		m.log.Info("dialed", zap.String("kind", tr.Kind().String()), zap.String("addr", d.Address), zap.String("peer", c.remote.ID.Short()))
		m.deliver(ctx, c)
		return
	}
}

func (m *Matchmaker) dialOnce(ctx context.Context, tr transport.Transport, addr string, peer transport.PeerInfo, pinned transport.PeerID) (candidate, error) {
	hctx, cancel := context.WithTimeout(ctx, m.handshakeTimeout())
	defer cancel()
	s, err := tr.Dial(hctx, addr, peer)
	if err != nil {
		return candidate{}, err
	}
	st, err := transport.StreamFor(hctx, s)
	if err != nil {
		_ = s.Close()
		return candidate{}, err
	}
	matchID := uuid.NewString()
	r, err := m.x.dial(hctx, s, st, matchID, pinned)
	if err != nil {
		_ = s.Close()
		return candidate{}, err
	}
	return candidate{sess: s, st: st, remote: r, matchID: matchID}, nil
}

func (m *Matchmaker) hasDialTargets() bool {
	for _, tc := range m.opts.Transports {
		if len(tc.Dial) > 0 {
			return true
		}
	}
	return false
}

// FindPeer returns the first verified link. Duplicate sessions to the same
// peer collected during the settle window are resolved by the symmetric
// manager election so both ends keep the same one. It returns ErrNoPeer when
// ctx ends first.
func (m *Matchmaker) FindPeer(ctx context.Context) (*Link, error) {
	if m.opts.Identity == nil {
		return nil, identity.ErrNoIdentity
	}
	if !m.seeking.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	m.drainFound()
	if err := m.Start(context.WithoutCancel(ctx)); err != nil {
		m.seeking.Store(false)
		return nil, err
	}
	if len(m.Listeners()) == 0 && !m.hasDialTargets() {
		m.seeking.Store(false)
		return nil, ErrNoEndpoints
	}

	dctx, cancel := context.WithCancel(ctx)
	var dials sync.WaitGroup
	m.mu.Lock()
	for _, tc := range m.opts.Transports {
		if len(tc.Dial) == 0 {
			continue
		}
		tr, err := m.transportFor(tc.Kind)
		if err != nil {
			m.log.Warn("transport kind not available", zap.String("kind", tc.Kind), zap.Error(err))
			continue
		}
		for _, d := range tc.Dial {
			d := d
			dials.Add(1)
			go func() {
				defer dials.Done()
				m.dialLoop(dctx, tr, d)
			}()
		}
	}
	m.mu.Unlock()

	mgr := transport.NewManager(m.opts.Identity.ID)
	var pending []candidate
	var settle <-chan time.Time
collect:
	for {
		select {
		case c := <-m.found:
			accepted, _ := mgr.AddSession(c.sess)
			m.log.Debug("verified session", zap.String("peer", c.remote.ID.Short()),
				zap.String("kind", c.remote.Kind.String()), zap.Bool("outbound", c.remote.Outbound), zap.Bool("canonical", accepted))
			pending = append(pending, c)
			if settle == nil {
				t := time.NewTimer(m.opts.Settle)
				defer t.Stop()
				settle = t.C
			}
		case <-settle:
			break collect
		case <-ctx.Done():
			break collect
		}
	}
	m.seeking.Store(false)
	cancel()
	dials.Wait()
	m.drainFound()

	var winner *candidate
	for i := range pending {
		c := &pending[i]
		if winner == nil && ctx.Err() == nil && mgr.GetSession(c.remote.ID) == c.sess {
			winner = c
			continue
		}
		c.close()
	}
	if winner == nil {
		err := ctx.Err()
		if err == nil {
			err = errors.New("all sessions lost the election")
		}
		return nil, fmt.Errorf("%w: %v", ErrNoPeer, err)
	}
	if m.opts.Peers != nil {
		now := time.Now()
		m.opts.Peers.Upsert(peers.PeerMeta{
			ID:          winner.remote.ID,
			UserID:      winner.remote.UserID,
			DisplayName: winner.remote.DisplayName,
			Transport:   winner.remote.Kind.String(),
			Outbound:    winner.remote.Outbound,
			MatchID:     winner.matchID,
			ConnectedAt: now.UnixMilli(),
		})
		m.opts.Peers.Touch(winner.remote.ID, winner.remote.Addr, now)
		m.opts.Peers.RecordRTT(winner.remote.ID, winner.remote.RTT)
	}
	m.log.Info("peer found", zap.String("peer", winner.remote.ID.Short()), zap.String("name", winner.remote.DisplayName),
		zap.String("kind", winner.remote.Kind.String()), zap.String("match", winner.matchID),
		zap.Duration("rtt", winner.remote.RTT))
	return newLink(winner.sess, winner.st, winner.remote, winner.matchID, m.linkOptions()), nil
}

func (m *Matchmaker) linkOptions() Options {
	return Options{
		InboxCapacity:  m.opts.Net.InboxCapacity,
		OutboxCapacity: m.opts.Net.OutboxCapacity,
		PoseRateBytes:  m.opts.Net.PoseRateBytes,
		Log:            m.opts.Log,
	}
}

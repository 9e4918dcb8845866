// Package link carries framed game traffic to the single remote peer. A Link
// owns one handshaken session: a writer goroutine drains the outbox, a reader
// goroutine fills the inbox, and the simulation tick polls the inbox.
package link

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"homerun/pkg/priocq"
	"homerun/pkg/protocol"
	"homerun/pkg/transport"
)

var (
	ErrNotConnected = errors.New("link: not connected")
	ErrQueueFull    = errors.New("link: outbox full")
	ErrClosed       = errors.New("link: closed")
)

// Remote describes the verified peer on the other end.
type Remote struct {
	ID          transport.PeerID
	UserID      string
	DisplayName string
	Addr        string
	Kind        transport.Kind
	Outbound    bool
	// RTT is the Hello round trip measured during the handshake.
	RTT time.Duration
}

// Options tunes a Link.
type Options struct {
	InboxCapacity  int
	OutboxCapacity int
	// PoseRateBytes caps outbound pose bytes per second; 0 disables shaping.
	PoseRateBytes int
	// FlushTimeout bounds how long Close waits for queued frames to go out.
	FlushTimeout time.Duration
	Log          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.InboxCapacity <= 0 {
		o.InboxCapacity = 256
	}
	if o.OutboxCapacity <= 0 {
		o.OutboxCapacity = 256
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 500 * time.Millisecond
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	return o
}

// Stats are cumulative link counters.
type Stats struct {
	FramesIn   uint64
	FramesOut  uint64
	BytesIn    uint64
	BytesOut   uint64
	ShapedPose uint64
	Inbox      priocq.Stats
	Outbox     priocq.Stats
}

type Link struct {
	sess    transport.Session
	st      transport.Stream
	remote  Remote
	matchID string
	log     *zap.Logger

	inbox  *priocq.Queue
	outbox *priocq.Queue
	poseTB *priocq.TokenBucket

	connected  atomic.Bool
	closing    chan struct{}
	closeOnce  sync.Once
	down       chan struct{}
	downOnce   sync.Once
	errMu      sync.Mutex
	err        error
	writerDone chan struct{}
	flush      time.Duration
	wg         sync.WaitGroup

	framesIn, framesOut, bytesIn, bytesOut, shaped atomic.Uint64
}

// newLink takes ownership of a handshaken session and starts its I/O.
func newLink(sess transport.Session, st transport.Stream, remote Remote, matchID string, opts Options) *Link {
	opts = opts.withDefaults()
	l := &Link{
		sess:       sess,
		st:         st,
		remote:     remote,
		matchID:    matchID,
		log:        opts.Log.With(zap.String("peer", remote.ID.Short()), zap.String("match", matchID)),
		poseTB:     priocq.NewTokenBucket(int64(opts.PoseRateBytes), 0),
		closing:    make(chan struct{}),
		down:       make(chan struct{}),
		writerDone: make(chan struct{}),
		flush:      opts.FlushTimeout,
	}
	l.outbox = priocq.New(opts.OutboxCapacity, priocq.WithOnShed(func(it priocq.Item) {
		t, _ := protocol.PeekType(it.Bytes)
		l.log.Warn("outbound ball frame shed, remote state may desync", zap.String("type", protocol.TypeName(t)))
	}))
	l.inbox = priocq.New(opts.InboxCapacity, priocq.WithOnShed(func(it priocq.Item) {
		t, _ := protocol.PeekType(it.Bytes)
		l.log.Warn("inbound ball frame shed, remote state may desync", zap.String("type", protocol.TypeName(t)))
	}))
	l.connected.Store(true)
	l.wg.Add(2)
	go l.writer()
	go l.reader()
	return l
}

// Send queues one encoded frame. Pose frames over the shaping budget are
// dropped silently since a newer pose supersedes them.
func (l *Link) Send(frame []byte) error {
	if !l.connected.Load() {
		return ErrNotConnected
	}
	t, err := protocol.PeekType(frame)
	if err != nil {
		return err
	}
	class := protocol.Class(t)
	if class == priocq.ClassPose {
		if ok, _ := l.poseTB.Allow(int64(len(frame))); !ok {
			l.shaped.Add(1)
			return nil
		}
	}
	if !l.outbox.Push(priocq.Item{Bytes: frame, Class: class, Arrived: time.Now()}) {
		return ErrQueueFull
	}
	return nil
}

// Poll returns up to max inbound frames in priority order (max <= 0: all).
func (l *Link) Poll(max int) [][]byte {
	items := l.inbox.Drain(max)
	if len(items) == 0 {
		return nil
	}
	out := make([][]byte, len(items))
	for i, it := range items {
		out[i] = it.Bytes
	}
	return out
}

func (l *Link) Connected() bool { return l.connected.Load() }

func (l *Link) Peer() Remote { return l.remote }

func (l *Link) MatchID() string { return l.matchID }

// Done is closed once the link is down for any reason.
func (l *Link) Done() <-chan struct{} { return l.down }

// Err reports why the link went down.
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *Link) Stats() Stats {
	return Stats{
		FramesIn:   l.framesIn.Load(),
		FramesOut:  l.framesOut.Load(),
		BytesIn:    l.bytesIn.Load(),
		BytesOut:   l.bytesOut.Load(),
		ShapedPose: l.shaped.Load(),
		Inbox:      l.inbox.Stats(),
		Outbox:     l.outbox.Stats(),
	}
}

// Close flushes queued frames (bounded by FlushTimeout) and closes the session.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.connected.Store(false)
		close(l.closing)
		select {
		case <-l.writerDone:
		case <-time.After(l.flush):
			l.log.Debug("flush timed out")
		}
		l.markDown(ErrClosed)
		_ = l.sess.Close()
	})
	l.wg.Wait()
	return nil
}

func (l *Link) markDown(err error) {
	l.downOnce.Do(func() {
		l.connected.Store(false)
		l.errMu.Lock()
		l.err = err
		l.errMu.Unlock()
		close(l.down)
	})
}

func (l *Link) send(b []byte) error {
	if err := l.st.SendBytes(b); err != nil {
		return err
	}
	l.framesOut.Add(1)
	l.bytesOut.Add(uint64(len(b)))
	return nil
}

func (l *Link) writer() {
	defer l.wg.Done()
	defer close(l.writerDone)
	for {
		it, ok := l.outbox.Pop(l.closing)
		if !ok {
			break
		}
		if err := l.send(it.Bytes); err != nil {
			l.log.Info("link write failed", zap.Error(err))
			l.markDown(err)
			_ = l.sess.Close()
			return
		}
	}
	for {
		it, ok := l.outbox.TryPop()
		if !ok {
			return
		}
		if err := l.send(it.Bytes); err != nil {
			return
		}
	}
}

func (l *Link) reader() {
	defer l.wg.Done()
	for {
		b, err := l.st.RecvBytes()
		if err != nil {
			select {
			case <-l.closing:
			default:
				l.log.Info("link read failed", zap.Error(err))
			}
			l.markDown(err)
			return
		}
		l.framesIn.Add(1)
		l.bytesIn.Add(uint64(len(b)))
		t, err := protocol.PeekType(b)
		if err != nil {
			l.log.Warn("dropping malformed frame", zap.Int("bytes", len(b)), zap.Error(err))
			continue
		}
		if !l.inbox.Push(priocq.Item{Bytes: b, Class: protocol.Class(t), Arrived: time.Now()}) {
			l.log.Warn("inbox full, control frame rejected", zap.String("type", protocol.TypeName(t)))
		}
	}
}

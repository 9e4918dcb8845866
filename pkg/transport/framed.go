package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// MaxFrame bounds a single length-prefixed frame.
const MaxFrame = 1 << 24

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("transport: listener closed")

// WriteFrame writes b with a u32 LE length prefix and flushes.
func WriteFrame(w *bufio.Writer, b []byte) error {
	if len(b) > MaxFrame {
		return fmt.Errorf("frame too large: %d", len(b))
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads one u32 LE length-prefixed frame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n > MaxFrame {
		return nil, fmt.Errorf("invalid frame size: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ConnSession is a Session and its single Stream over a reliable net.Conn.
// It serves every stream-oriented kind (mem, tcp, winpipe).
type ConnSession struct {
	wmu  sync.Mutex
	pmu  sync.RWMutex
	peer PeerInfo
	kind Kind
	c    net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	establishedAt time.Time
	lastSeen      Timestamp
}

// NewConnSession wraps c.
func NewConnSession(c net.Conn, kind Kind, peer PeerInfo) *ConnSession {
	return &ConnSession{
		peer:          peer,
		kind:          kind,
		c:             c,
		br:            bufio.NewReader(c),
		bw:            bufio.NewWriter(c),
		establishedAt: time.Now(),
	}
}

func (s *ConnSession) Peer() PeerInfo {
	s.pmu.RLock()
	defer s.pmu.RUnlock()
	return s.peer
}

func (s *ConnSession) SetPeer(pi PeerInfo) {
	s.pmu.Lock()
	s.peer = pi
	s.pmu.Unlock()
}

func (s *ConnSession) TransportKind() Kind  { return s.kind }
func (s *ConnSession) LocalAddr() net.Addr  { return s.c.LocalAddr() }
func (s *ConnSession) RemoteAddr() net.Addr { return s.c.RemoteAddr() }

func (s *ConnSession) OpenStream(context.Context) (Stream, error)   { return s, nil }
func (s *ConnSession) AcceptStream(context.Context) (Stream, error) { return s, nil }

func (s *ConnSession) Quality() Quality {
	return Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen.Load()}
}

func (s *ConnSession) Close() error { return s.c.Close() }

// SendBytes writes one length-prefixed frame (u32 LE).
func (s *ConnSession) SendBytes(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := WriteFrame(s.bw, b); err != nil {
		return err
	}
	s.lastSeen.Store(time.Now())
	return nil
}

// RecvBytes reads one length-prefixed frame.
func (s *ConnSession) RecvBytes() ([]byte, error) {
	b, err := ReadFrame(s.br)
	if err != nil {
		return nil, err
	}
	s.lastSeen.Store(time.Now())
	return b, nil
}

// NetListener adapts a net.Listener into a Listener producing ConnSessions.
type NetListener struct {
	l       net.Listener
	kind    Kind
	newCh   chan Session
	closeCh chan struct{}
	once    sync.Once
}

// ServeListener starts the accept loop for l. The listener is closed when ctx ends.
func ServeListener(ctx context.Context, l net.Listener, kind Kind) *NetListener {
	nl := &NetListener{l: l, kind: kind, newCh: make(chan Session, 8), closeCh: make(chan struct{})}
	go nl.acceptLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = nl.Close()
		case <-nl.closeCh:
		}
	}()
	return nl
}

func (l *NetListener) Addr() net.Addr { return l.l.Addr() }

func (l *NetListener) Accept(ctx context.Context) (Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, ErrListenerClosed
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *NetListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.l.Close()
	})
	return err
}

func (l *NetListener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		s := NewConnSession(c, l.kind, PeerInfo{ID: TempPeerID(l.kind, c.RemoteAddr()), Addr: c.RemoteAddr().String()})
		select {
		case l.newCh <- s:
		default:
			_ = s.Close()
		}
	}
}

// Timestamp is a mutex-guarded time used for LastSeen bookkeeping.
type Timestamp struct {
	mu sync.Mutex
	t  time.Time
}

func (a *Timestamp) Load() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

func (a *Timestamp) Store(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

// Package udp implements a datagram transport carrying one frame per packet.
// Delivery is unreliable and unordered; the link layer tolerates loss of pose
// frames and reports ball sequence gaps.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"homerun/pkg/transport"
)

// MaxDatagram bounds a single frame.
const MaxDatagram = 64 * 1024

var errClosed = errors.New("udp: session closed")

// Transport implements transport.Transport over UDP sockets.
type Transport struct {
	// RxBuffer is the per-session receive queue length (packets).
	RxBuffer int
}

func New() *Transport { return &Transport{RxBuffer: 256} }

func (t *Transport) Kind() transport.Kind { return transport.KindUDP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	ul := &listener{
		conn:     c,
		rx:       t.rxBuffer(),
		sessions: make(map[string]*session),
		newCh:    make(chan *session, 8),
		closeCh:  make(chan struct{}),
	}
	go ul.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			_ = ul.Close()
		case <-ul.closeCh:
		}
	}()
	return ul, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "udp", raddr.String())
	if err != nil {
		return nil, err
	}
	peer.Outbound = true
	if peer.Addr == "" {
		peer.Addr = address
	}
	s := newSession(c.(*net.UDPConn), raddr, peer, t.rxBuffer(), true)
	go s.recvLoop()
	return s, nil
}

func (t *Transport) rxBuffer() int {
	if t.RxBuffer <= 0 {
		return 256
	}
	return t.RxBuffer
}

// ---- Listener/demux ----

type listener struct {
	conn     *net.UDPConn
	rx       int
	mu       sync.Mutex
	sessions map[string]*session
	newCh    chan *session
	closeCh  chan struct{}
	once     sync.Once
}

func (l *listener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *listener) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, transport.ErrListenerClosed
	case s := <-l.newCh:
		return s, nil
	}
}

func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
		l.mu.Lock()
		open := make([]*session, 0, len(l.sessions))
		for _, s := range l.sessions {
			open = append(open, s)
		}
		l.mu.Unlock()
		for _, s := range open {
			s.shutdown()
		}
	})
	return err
}

func (l *listener) readLoop() {
	buf := make([]byte, MaxDatagram)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		key := raddr.String()
		l.mu.Lock()
		s, ok := l.sessions[key]
		if !ok || s.isClosed() {
			peer := transport.PeerInfo{ID: transport.TempPeerID(transport.KindUDP, raddr), Addr: key}
			s = newSession(l.conn, raddr, peer, l.rx, false)
			s.onClose = func() {
				l.mu.Lock()
				if l.sessions[key] == s {
					delete(l.sessions, key)
				}
				l.mu.Unlock()
			}
			l.sessions[key] = s
			select {
			case l.newCh <- s:
			default:
				delete(l.sessions, key)
				l.mu.Unlock()
				continue
			}
		}
		l.mu.Unlock()
		s.deliver(append([]byte(nil), buf[:n]...))
	}
}

// ---- Session/Stream ----

type session struct {
	pmu     sync.RWMutex
	peer    transport.PeerInfo
	conn    *net.UDPConn
	raddr   *net.UDPAddr
	owned   bool // the session owns conn (dialed)
	rxCh    chan []byte
	closed  chan struct{}
	once    sync.Once
	onClose func()

	establishedAt time.Time
	lastSeen      transport.Timestamp
}

func newSession(c *net.UDPConn, raddr *net.UDPAddr, peer transport.PeerInfo, rx int, owned bool) *session {
	return &session{
		peer:          peer,
		conn:          c,
		raddr:         raddr,
		owned:         owned,
		rxCh:          make(chan []byte, rx),
		closed:        make(chan struct{}),
		establishedAt: time.Now(),
	}
}

func (s *session) Peer() transport.PeerInfo {
	s.pmu.RLock()
	defer s.pmu.RUnlock()
	return s.peer
}

func (s *session) SetPeer(pi transport.PeerInfo) {
	s.pmu.Lock()
	s.peer = pi
	s.pmu.Unlock()
}

func (s *session) TransportKind() transport.Kind { return transport.KindUDP }
func (s *session) LocalAddr() net.Addr           { return s.conn.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.raddr }

func (s *session) OpenStream(context.Context) (transport.Stream, error)   { return s, nil }
func (s *session) AcceptStream(context.Context) (transport.Stream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
	return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen.Load()}
}

func (s *session) recvLoop() {
	buf := make([]byte, MaxDatagram)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			s.shutdown()
			return
		}
		s.deliver(append([]byte(nil), buf[:n]...))
	}
}

// deliver queues a packet, dropping it when the receiver is behind.
func (s *session) deliver(pkt []byte) {
	select {
	case s.rxCh <- pkt:
	default:
	}
}

func (s *session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *session) shutdown() {
	s.once.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

func (s *session) Close() error {
	s.shutdown()
	if s.owned {
		return s.conn.Close()
	}
	return nil
}

func (s *session) SendBytes(b []byte) error {
	if s.isClosed() {
		return errClosed
	}
	if len(b) > MaxDatagram {
		return errors.New("udp: frame exceeds datagram size")
	}
	var err error
	if s.owned {
		_, err = s.conn.Write(b)
	} else {
		_, err = s.conn.WriteToUDP(b, s.raddr)
	}
	if err == nil {
		s.lastSeen.Store(time.Now())
	}
	return err
}

func (s *session) RecvBytes() ([]byte, error) {
	select {
	case pkt := <-s.rxCh:
		s.lastSeen.Store(time.Now())
		return pkt, nil
	case <-s.closed:
		return nil, errClosed
	}
}

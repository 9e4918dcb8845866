// Package ws implements sessions over WebSocket binary messages, one frame per
// message. It lets a peer sit behind an HTTP relay or reverse proxy.
package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"homerun/pkg/transport"
)

// Transport implements transport.Transport over gorilla/websocket.
type Transport struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

func New() *Transport {
	return &Transport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindWS }

// Listen serves upgrades on address, which is host:port with an optional path
// (":8080/peer"). The default path is "/".
func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	hostport, path := splitAddress(address)
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}
	l := &listener{ln: ln, newCh: make(chan transport.Session, 8), closeCh: make(chan struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		c, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s := newSession(c, transport.PeerInfo{
			ID:   transport.TempPeerID(transport.KindWS, c.RemoteAddr()),
			Addr: c.RemoteAddr().String(),
		})
		select {
		case l.newCh <- s:
		default:
			_ = s.Close()
		}
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = l.srv.Serve(ln) }()
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.closeCh:
		}
	}()
	return l, nil
}

// Dial connects to a ws:// or wss:// URL; a bare host:port[/path] gets ws://.
func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
	url := address
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url
	}
	c, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	peer.Outbound = true
	if peer.Addr == "" {
		peer.Addr = address
	}
	return newSession(c, peer), nil
}

func splitAddress(address string) (hostport, path string) {
	address = strings.TrimPrefix(strings.TrimPrefix(address, "ws://"), "wss://")
	if i := strings.IndexByte(address, '/'); i >= 0 {
		return address[:i], address[i:]
	}
	return address, "/"
}

type listener struct {
	ln      net.Listener
	srv     *http.Server
	newCh   chan transport.Session
	closeCh chan struct{}
	once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.ln.Addr() }

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

// Close stops accepting upgrades. Sessions already handed out stay open.
func (l *listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		err = l.ln.Close()
	})
	return err
}

type session struct {
	pmu  sync.RWMutex
	peer transport.PeerInfo
	c    *websocket.Conn
	wmu  sync.Mutex

	establishedAt time.Time
	lastSeen      transport.Timestamp
}

func newSession(c *websocket.Conn, peer transport.PeerInfo) *session {
	c.SetReadLimit(transport.MaxFrame)
	return &session{peer: peer, c: c, establishedAt: time.Now()}
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

func (s *session) TransportKind() transport.Kind { return transport.KindWS }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(context.Context) (transport.Stream, error)   { return s, nil }
func (s *session) AcceptStream(context.Context) (transport.Stream, error) { return s, nil }

func (s *session) Quality() transport.Quality {
	return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen.Load()}
}

func (s *session) Close() error {
	s.wmu.Lock()
	_ = s.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.c.Close()
}

// SendBytes writes one binary message. gorilla allows a single concurrent writer.
func (s *session) SendBytes(b []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.c.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return err
	}
	s.lastSeen.Store(time.Now())
	return nil
}

func (s *session) RecvBytes() ([]byte, error) {
	for {
		mt, b, err := s.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		s.lastSeen.Store(time.Now())
		return b, nil
	}
}

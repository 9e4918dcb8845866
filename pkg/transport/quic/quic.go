// Package quic implements QUIC sessions with one length-prefixed frame stream,
// opened by the dialer and accepted by the listener. Peer identity is verified
// by the signed Hello, so the TLS layer uses an ephemeral self-signed cert.
package quic

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"homerun/pkg/transport"
)

// ALPN protocol id negotiated by both peers.
const ALPN = "homerun/1"

// Transport implements transport.Transport over quic-go.
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
	certErr  error
}

func New() *Transport {
	cert, err := selfSignedCert()
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{ALPN},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{
			KeepAlivePeriod: 5 * time.Second,
			MaxIdleTimeout:  20 * time.Second,
		},
		certErr: err,
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	if t.certErr != nil {
		return nil, fmt.Errorf("quic cert: %w", t.certErr)
	}
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l, newCh: make(chan *session, 8), closeCh: make(chan struct{})}
	lctx, cancel := context.WithCancel(ctx)
	ql.cancel = cancel
	go ql.acceptLoop(lctx)
	go func() {
		<-lctx.Done()
		_ = ql.Close()
	}()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
	tlsClient := &tls.Config{
		InsecureSkipVerify: true, // identity is verified by the signed Hello
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}
	c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	peer.Outbound = true
	if peer.Addr == "" {
		peer.Addr = address
	}
	return &session{peer: peer, c: c, establishedAt: time.Now()}, nil
}

// ---- Listener ----

type listener struct {
	l       *quicgo.Listener
	newCh   chan *session
	closeCh chan struct{}
	once    sync.Once
	cancel  context.CancelFunc
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

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
		l.cancel()
		err = l.l.Close()
	})
	return err
}

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		c, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		raddr := c.RemoteAddr()
		s := &session{
			peer:          transport.PeerInfo{ID: transport.TempPeerID(transport.KindQUIC, raddr), Addr: raddr.String()},
			c:             c,
			establishedAt: time.Now(),
		}
		select {
		case l.newCh <- s:
		default:
			_ = s.Close()
		}
	}
}

// ---- Session/Stream ----

type session struct {
	pmu  sync.RWMutex
	peer transport.PeerInfo
	c    quicgo.Connection

	mu sync.Mutex
	st *stream

	establishedAt time.Time
	lastSeen      transport.Timestamp
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

func (s *session) TransportKind() transport.Kind { return transport.KindQUIC }
func (s *session) LocalAddr() net.Addr           { return s.c.LocalAddr() }
func (s *session) RemoteAddr() net.Addr          { return s.c.RemoteAddr() }

func (s *session) OpenStream(ctx context.Context) (transport.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != nil {
		return s.st, nil
	}
	qs, err := s.c.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	s.st = newStream(qs, &s.lastSeen)
	return s.st, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != nil {
		return s.st, nil
	}
	qs, err := s.c.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	s.st = newStream(qs, &s.lastSeen)
	return s.st, nil
}

func (s *session) Quality() transport.Quality {
	return transport.Quality{EstablishedAt: s.establishedAt, LastSeen: s.lastSeen.Load()}
}

func (s *session) Close() error {
	return s.c.CloseWithError(0, "")
}

// stream implements transport.Stream over a QUIC bidirectional stream with u32 LE framing.
type stream struct {
	mu   sync.Mutex
	qs   quicgo.Stream
	br   *bufio.Reader
	bw   *bufio.Writer
	seen *transport.Timestamp
}

func newStream(qs quicgo.Stream, seen *transport.Timestamp) *stream {
	return &stream{qs: qs, br: bufio.NewReader(qs), bw: bufio.NewWriter(qs), seen: seen}
}

func (st *stream) SendBytes(b []byte) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := transport.WriteFrame(st.bw, b); err != nil {
		return err
	}
	st.seen.Store(time.Now())
	return nil
}

func (st *stream) RecvBytes() ([]byte, error) {
	b, err := transport.ReadFrame(st.br)
	if err != nil {
		return nil, err
	}
	st.seen.Store(time.Now())
	return b, nil
}

func (st *stream) Close() error { return st.qs.Close() }

// selfSignedCert generates a short-lived self-signed certificate for the listener.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}

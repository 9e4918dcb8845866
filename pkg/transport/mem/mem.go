// Package mem is an in-process transport over net.Pipe. Both peers must share
// one *Transport, which acts as the name registry.
package mem

import (
	"context"
	"errors"
	"net"
	"sync"

	"homerun/pkg/transport"
)

var (
	ErrNoListener = errors.New("mem: no such listener")
	ErrInUse      = errors.New("mem: listener already exists")
)

// Transport is an in-process transport using net.Pipe.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func New() *Transport { return &Transport{listeners: make(map[string]*listener)} }

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[name]; ok {
		return nil, ErrInUse
	}
	l := &listener{name: name, newCh: make(chan transport.Session, 8), closeCh: make(chan struct{})}
	l.onClose = func() {
		t.mu.Lock()
		if t.listeners[name] == l {
			delete(t.listeners, name)
		}
		t.mu.Unlock()
	}
	t.listeners[name] = l
	go func() {
		select {
		case <-ctx.Done():
			_ = l.Close()
		case <-l.closeCh:
		}
	}()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string, peer transport.PeerInfo) (transport.Session, error) {
	t.mu.Lock()
	l := t.listeners[name]
	t.mu.Unlock()
	if l == nil {
		return nil, ErrNoListener
	}
	c1, c2 := net.Pipe()
	srv := transport.NewConnSession(pipeConn{c1, addr(name), addr("dialer:" + name)}, transport.KindMem,
		transport.PeerInfo{ID: transport.TempPeerID(transport.KindMem, addr("dialer:"+name)), Addr: name})
	peer.Outbound = true
	if peer.Addr == "" {
		peer.Addr = name
	}
	cli := transport.NewConnSession(pipeConn{c2, addr("dialer:" + name), addr(name)}, transport.KindMem, peer)
	select {
	case l.newCh <- srv:
	case <-l.closeCh:
		_ = cli.Close()
		return nil, ErrNoListener
	case <-ctx.Done():
		_ = cli.Close()
		return nil, ctx.Err()
	}
	return cli, nil
}

type listener struct {
	name    string
	newCh   chan transport.Session
	closeCh chan struct{}
	once    sync.Once
	onClose func()
}

func (l *listener) Addr() net.Addr { return addr(l.name) }

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
	l.once.Do(func() {
		close(l.closeCh)
		l.onClose()
	})
	return nil
}

type addr string

func (a addr) Network() string { return "mem" }
func (a addr) String() string  { return string(a) }

// pipeConn gives net.Pipe ends meaningful addresses.
type pipeConn struct {
	net.Conn
	local, remote net.Addr
}

func (c pipeConn) LocalAddr() net.Addr  { return c.local }
func (c pipeConn) RemoteAddr() net.Addr { return c.remote }

// Package tcp implements a stream transport with length-prefixed frames (u32 LE).
package tcp

import (
	"context"
	"net"
	"time"

	"homerun/pkg/transport"
)

// Transport dials and listens on TCP.
type Transport struct {
	// KeepAlive for dialed and accepted connections; 0 uses the OS default.
	KeepAlive time.Duration
}

func New() *Transport { return &Transport{KeepAlive: 15 * time.Second} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	lc := net.ListenConfig{KeepAlive: t.KeepAlive}
	l, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return transport.ServeListener(ctx, l, transport.KindTCP), nil
}

func (t *Transport) Dial(ctx context.Context, address string, peer transport.PeerInfo) (transport.Session, error) {
	d := &net.Dialer{KeepAlive: t.KeepAlive}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	peer.Outbound = true
	if peer.Addr == "" {
		peer.Addr = address
	}
	return transport.NewConnSession(c, transport.KindTCP, peer), nil
}

//go:build windows

// Package winpipe implements a local transport over Windows named pipes, for
// two peers sharing one machine (e.g. a headset link box and a desktop peer).
package winpipe

import (
	"context"

	"github.com/Microsoft/go-winio"

	"homerun/pkg/transport"
)

// Transport dials and listens on named pipes such as \\.\pipe\homerun.
type Transport struct{}

func New() (*Transport, error) { return &Transport{}, nil }

func (t *Transport) Kind() transport.Kind { return transport.KindWinPipe }

func (t *Transport) Listen(ctx context.Context, pipeName string) (transport.Listener, error) {
	l, err := winio.ListenPipe(pipeName, &winio.PipeConfig{MessageMode: false})
	if err != nil {
		return nil, err
	}
	return transport.ServeListener(ctx, l, transport.KindWinPipe), nil
}

func (t *Transport) Dial(ctx context.Context, pipeName string, peer transport.PeerInfo) (transport.Session, error) {
	conn, err := winio.DialPipeContext(ctx, pipeName)
	if err != nil {
		return nil, err
	}
	peer.Outbound = true
	if peer.Addr == "" {
		peer.Addr = pipeName
	}
	return transport.NewConnSession(conn, transport.KindWinPipe, peer), nil
}

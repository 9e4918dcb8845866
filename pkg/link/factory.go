package link

import (
	"homerun/pkg/transport"
	"homerun/pkg/transport/mem"
	tquic "homerun/pkg/transport/quic"
	ttcp "homerun/pkg/transport/tcp"
	"homerun/pkg/transport/udp"
	"homerun/pkg/transport/winpipe"
	"homerun/pkg/transport/ws"
)

// memHub is shared by every "mem" transport in the process so two peers in
// one binary can find each other.
var memHub = mem.New()

// NewByKind constructs a Transport by config kind.
func NewByKind(kind string) (transport.Transport, error) {
	k, err := transport.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	switch k {
	case transport.KindMem:
		return memHub, nil
	case transport.KindTCP:
		return ttcp.New(), nil
	case transport.KindUDP:
		return udp.New(), nil
	case transport.KindQUIC:
		return tquic.New(), nil
	case transport.KindWS:
		return ws.New(), nil
	case transport.KindWinPipe:
		t, err := winpipe.New()
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, transport.ErrUnknownKind(kind)
	}
}

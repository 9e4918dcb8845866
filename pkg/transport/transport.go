package transport

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind identifies transport/link type for policy decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindMem
	KindTCP
	KindUDP
	KindQUIC
	KindWS
	KindWinPipe
)

func (k Kind) String() string {
	switch k {
	case KindMem:
		return "mem"
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindQUIC:
		return "quic"
	case KindWS:
		return "ws"
	case KindWinPipe:
		return "winpipe"
	default:
		return "unknown"
	}
}

// ErrUnknownKind is returned for config kinds no transport serves.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }

// ParseKind maps a config kind (with aliases) onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mem", "inproc":
		return KindMem, nil
	case "tcp":
		return KindTCP, nil
	case "udp":
		return KindUDP, nil
	case "quic":
		return KindQUIC, nil
	case "ws", "websocket":
		return KindWS, nil
	case "winpipe", "pipe":
		return KindWinPipe, nil
	default:
		return KindUnknown, ErrUnknownKind(s)
	}
}

// PeerID is an opaque stable peer identity (canonical public key form once verified).
type PeerID string

// PeerInfo bundles peer identity and addressing hints.
type PeerInfo struct {
	ID   PeerID
	Addr string // transport-dependent address string
	// Outbound is true when the local peer dialed this session.
	Outbound bool
	// MatchID is the match proposed by the dialer, set after the handshake.
	MatchID string
}

// Quality captures link metrics used by the manager and reported to peers.
type Quality struct {
	RTT           time.Duration
	EstablishedAt time.Time
	LastSeen      time.Time
}

// Stream is a bidirectional frame stream.
// Exactly one reader and one writer goroutine are expected.
type Stream interface {
	// SendBytes sends one frame as opaque bytes.
	SendBytes([]byte) error
	// RecvBytes receives the next frame.
	RecvBytes() ([]byte, error)
	Close() error
}

// Session represents one connection to the remote peer.
type Session interface {
	Peer() PeerInfo
	TransportKind() Kind
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// OpenStream returns the session's frame stream from the dialing side.
	// Transports without multiplexing return the single shared stream.
	OpenStream(ctx context.Context) (Stream, error)
	// AcceptStream waits for the stream opened by the dialing side.
	AcceptStream(ctx context.Context) (Stream, error)

	Quality() Quality
	Close() error
}

// Listener accepts inbound sessions.
type Listener interface {
	// Accept blocks until an inbound session is available or ctx is done.
	Accept(ctx context.Context) (Session, error)
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport provides dialing/listening for a specific link kind.
// The ctx passed to Dial bounds connection setup only; the session lives
// until Close.
type Transport interface {
	Kind() Kind
	Listen(ctx context.Context, address string) (Listener, error)
	Dial(ctx context.Context, address string, peer PeerInfo) (Session, error)
}

// StreamFor opens or accepts the session stream depending on who dialed.
func StreamFor(ctx context.Context, s Session) (Stream, error) {
	if s.Peer().Outbound {
		st, err := s.OpenStream(ctx)
		if err != nil {
			return nil, fmt.Errorf("open stream: %w", err)
		}
		return st, nil
	}
	st, err := s.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	return st, nil
}

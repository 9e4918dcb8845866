package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"homerun/pkg/handshake"
	"homerun/pkg/identity"
	"homerun/pkg/protocol"
	"homerun/pkg/protocol/codec"
	"homerun/pkg/transport"
)

var (
	ErrRefused     = errors.New("link: peer refused session")
	ErrSelf        = errors.New("link: connected to self")
	ErrUnexpected  = errors.New("link: unexpected handshake message")
	ErrPeerPinning = errors.New("link: peer id does not match pinned id")
)

// ReasonBusy is sent by an acceptor that already has a peer.
const ReasonBusy = "busy"

// exchange runs the Hello/HelloAck sequence on one stream. The dialer
// proposes the match id; the acceptor echoes it in its ack.
type exchange struct {
	id      *identity.Identity
	reg     *codec.Registry
	maxSkew time.Duration
}

func (x *exchange) send(st transport.Stream, typ uint8, msg *structpb.Struct) error {
	b, err := protocol.BuildFrame(x.reg, protocol.Header{Type: typ}, protocol.FormatProto, msg)
	if err != nil {
		return err
	}
	return st.SendBytes(b)
}

func (x *exchange) recv(st transport.Stream) (uint8, *structpb.Struct, error) {
	b, err := st.RecvBytes()
	if err != nil {
		return 0, nil, err
	}
	var s structpb.Struct
	h, err := protocol.ParseFrame(x.reg, b, &s)
	if err != nil {
		return h.Type, nil, err
	}
	return h.Type, &s, nil
}

func (x *exchange) sendHello(st transport.Stream, matchID string) error {
	h, err := handshake.Build(x.id, matchID)
	if err != nil {
		return err
	}
	s, err := h.ToStruct()
	if err != nil {
		return err
	}
	return x.send(st, protocol.MsgHello, s)
}

func (x *exchange) sendAck(st transport.Stream, ack protocol.HelloAck) error {
	s, err := ack.ToStruct()
	if err != nil {
		return err
	}
	return x.send(st, protocol.MsgHelloAck, s)
}

// verify checks a received Hello and returns the remote description.
func (x *exchange) verify(s *structpb.Struct, sess transport.Session) (Remote, handshake.Hello, error) {
	h, err := handshake.FromStruct(s)
	if err != nil {
		return Remote{}, h, err
	}
	pid, err := handshake.Verify(h, x.maxSkew)
	if err != nil {
		return Remote{}, h, err
	}
	if pid == x.id.ID {
		return Remote{}, h, ErrSelf
	}
	r := Remote{
		ID:          pid,
		UserID:      h.UserID,
		DisplayName: h.DisplayName,
		Kind:        sess.TransportKind(),
		Outbound:    sess.Peer().Outbound,
	}
	if a := sess.RemoteAddr(); a != nil {
		r.Addr = a.String()
	}
	return r, h, nil
}

func (x *exchange) readAck(st transport.Stream, matchID string) error {
	typ, s, err := x.recv(st)
	if err != nil {
		return err
	}
	if typ != protocol.MsgHelloAck {
		return fmt.Errorf("%w: %s", ErrUnexpected, protocol.TypeName(typ))
	}
	ack := protocol.HelloAckFromStruct(s)
	if !ack.OK {
		return fmt.Errorf("%w: %s", ErrRefused, ack.Reason)
	}
	if ack.MatchID != matchID {
		return fmt.Errorf("%w: ack for match %q, want %q", ErrUnexpected, ack.MatchID, matchID)
	}
	return nil
}

// dial runs the dialing side: Hello out, Hello in, ack out, ack in.
// pinned, when set, must equal the verified remote id.
func (x *exchange) dial(ctx context.Context, sess transport.Session, st transport.Stream, matchID string, pinned transport.PeerID) (Remote, error) {
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	sent := time.Now()
	if err := x.sendHello(st, matchID); err != nil {
		return Remote{}, err
	}
	typ, s, err := x.recv(st)
	if err != nil {
		return Remote{}, err
	}
	rtt := time.Since(sent)
	switch typ {
	case protocol.MsgHello:
	case protocol.MsgHelloAck:
		return Remote{}, fmt.Errorf("%w: %s", ErrRefused, protocol.HelloAckFromStruct(s).Reason)
	default:
		return Remote{}, fmt.Errorf("%w: %s", ErrUnexpected, protocol.TypeName(typ))
	}
	r, _, err := x.verify(s, sess)
	if err != nil {
		_ = x.sendAck(st, protocol.HelloAck{MatchID: matchID, Reason: err.Error()})
		return Remote{}, err
	}
	if pinned != "" && !pinned.IsTemp() && pinned != r.ID {
		_ = x.sendAck(st, protocol.HelloAck{MatchID: matchID, Reason: "unexpected peer"})
		return Remote{}, fmt.Errorf("%w: got %s", ErrPeerPinning, r.ID.Short())
	}
	if err := x.sendAck(st, protocol.HelloAck{OK: true, MatchID: matchID}); err != nil {
		return Remote{}, err
	}
	if err := x.readAck(st, matchID); err != nil {
		return Remote{}, err
	}
	if ctx.Err() != nil {
		return Remote{}, ctx.Err()
	}
	r.RTT = rtt
	return r, nil
}

// accept runs the accepting side. busy is consulted after the remote Hello
// verifies; a true result refuses the session with ReasonBusy.
func (x *exchange) accept(ctx context.Context, sess transport.Session, st transport.Stream, busy func() bool) (Remote, string, error) {
	stop := context.AfterFunc(ctx, func() { _ = sess.Close() })
	defer stop()

	typ, s, err := x.recv(st)
	if err != nil {
		return Remote{}, "", err
	}
	if typ != protocol.MsgHello {
		return Remote{}, "", fmt.Errorf("%w: %s", ErrUnexpected, protocol.TypeName(typ))
	}
	r, h, err := x.verify(s, sess)
	if err != nil {
		_ = x.sendAck(st, protocol.HelloAck{MatchID: h.MatchID, Reason: err.Error()})
		return Remote{}, "", err
	}
	matchID := h.MatchID
	if matchID == "" {
		_ = x.sendAck(st, protocol.HelloAck{Reason: "missing match id"})
		return Remote{}, "", fmt.Errorf("%w: hello without match id", handshake.ErrMalformed)
	}
	if busy != nil && busy() {
		_ = x.sendAck(st, protocol.HelloAck{MatchID: matchID, Reason: ReasonBusy})
		return Remote{}, "", fmt.Errorf("%w: %s", ErrRefused, ReasonBusy)
	}
	sent := time.Now()
	if err := x.sendHello(st, ""); err != nil {
		return Remote{}, "", err
	}
	if err := x.readAck(st, matchID); err != nil {
		return Remote{}, "", err
	}
	r.RTT = time.Since(sent)
	if err := x.sendAck(st, protocol.HelloAck{OK: true, MatchID: matchID}); err != nil {
		return Remote{}, "", err
	}
	if ctx.Err() != nil {
		return Remote{}, "", ctx.Err()
	}
	return r, matchID, nil
}

// bind stamps the verified identity onto the session so the manager can
// compare duplicates.
func bind(sess transport.Session, r Remote, matchID string) {
	if mp, ok := sess.(transport.MutablePeer); ok {
		pi := sess.Peer()
		pi.ID = r.ID
		pi.MatchID = matchID
		mp.SetPeer(pi)
	}
}

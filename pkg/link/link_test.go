package link

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"homerun/pkg/config"
	"homerun/pkg/identity"
	"homerun/pkg/memkv"
	"homerun/pkg/peers"
	"homerun/pkg/protocol"
	"homerun/pkg/protocol/codec"
	"homerun/pkg/testutil"
	"homerun/pkg/transport"
	"homerun/pkg/transport/mem"
)

func removeFrame(t *testing.T, id int32) []byte {
	t.Helper()
	reg, err := codec.NewDefaultRegistry()
	if err != nil {
		t.Fatal(err)
	}
	b, err := protocol.BuildFrame(reg, protocol.Header{Type: protocol.MsgBallRemove}, protocol.FormatCBOR, protocol.BallRemove{ID: id})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func pollOne(t *testing.T, l *Link) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := l.Poll(1); len(got) == 1 {
			return got[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no frame received")
	return nil
}

func TestPairExchangesFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	alice, bob := testutil.Identity(t, "alice"), testutil.Identity(t, "bob")
	la, lb, err := Pair(ctx, alice, bob, Options{})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	defer la.Close()
	defer lb.Close()

	if la.Peer().ID != bob.ID || lb.Peer().ID != alice.ID {
		t.Fatalf("peer ids: %s / %s", la.Peer().ID, lb.Peer().ID)
	}
	if la.MatchID() == "" || la.MatchID() != lb.MatchID() {
		t.Fatalf("match ids: %q / %q", la.MatchID(), lb.MatchID())
	}
	if lb.Peer().DisplayName != "alice" || !la.Peer().Outbound || lb.Peer().Outbound {
		t.Fatalf("remote info: %+v / %+v", la.Peer(), lb.Peer())
	}

	frame := removeFrame(t, 7)
	if err := la.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}
	got := pollOne(t, lb)
	var rm protocol.BallRemove
	reg, _ := codec.NewDefaultRegistry()
	if _, err := protocol.ParseFrame(reg, got, &rm); err != nil || rm.ID != 7 {
		t.Fatalf("frame = %+v, %v", rm, err)
	}
	if s := la.Stats(); s.FramesOut == 0 || s.BytesOut != uint64(len(frame)) {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCloseDisconnectsBothEnds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	la, lb, err := Pair(ctx, testutil.Identity(t, "a"), testutil.Identity(t, "b"), Options{})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	defer lb.Close()

	_ = la.Close()
	if la.Connected() {
		t.Fatalf("closed link reports connected")
	}
	if err := la.Send(removeFrame(t, 1)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after close = %v", err)
	}
	select {
	case <-lb.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("remote end did not notice close")
	}
	if lb.Connected() {
		t.Fatalf("remote still connected")
	}
}

func TestSendRejectsGarbage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	la, lb, err := Pair(ctx, testutil.Identity(t, "a"), testutil.Identity(t, "b"), Options{})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	defer la.Close()
	defer lb.Close()
	if err := la.Send([]byte("nope")); err == nil {
		t.Fatalf("garbage frame accepted")
	}
}

func TestFullInboxShedsOldestBallFrame(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log, logs := testutil.ObservedLogger(zap.WarnLevel)
	la, lb, err := Pair(ctx, testutil.Identity(t, "a"), testutil.Identity(t, "b"), Options{InboxCapacity: 2, Log: log})
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	defer la.Close()
	defer lb.Close()

	// one frame in flight at a time so only the receiving inbox overflows
	for i := 1; i <= 4; i++ {
		if err := la.Send(removeFrame(t, int32(i))); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		for deadline := time.Now().Add(2 * time.Second); lb.Stats().FramesIn < uint64(i); {
			if time.Now().After(deadline) {
				t.Fatalf("frame %d not received", i)
			}
			time.Sleep(time.Millisecond)
		}
	}
	for deadline := time.Now().Add(2 * time.Second); logs.FilterMessage("inbound ball frame shed, remote state may desync").Len() < 2; {
		if time.Now().After(deadline) {
			t.Fatalf("shed warnings = %d", logs.FilterMessage("inbound ball frame shed, remote state may desync").Len())
		}
		time.Sleep(time.Millisecond)
	}
	if st := lb.Stats().Inbox; st.ShedBall != 2 {
		t.Fatalf("inbox stats = %+v", st)
	}
	reg, _ := codec.NewDefaultRegistry()
	for i, f := range lb.Poll(0) {
		var msg protocol.BallRemove
		if _, err := protocol.ParseFrame(reg, f, &msg); err != nil || msg.ID != int32(i+3) {
			t.Fatalf("kept frame %d = %+v, %v", i, msg, err)
		}
	}
	if logs.FilterMessage("outbound ball frame shed, remote state may desync").Len() != 0 {
		t.Fatalf("sender shed frames")
	}
}

func memMatchmaker(hub *mem.Transport, id *identity.Identity, listen, dial string) *Matchmaker {
	tc := config.TransportConfig{Kind: "mem"}
	if listen != "" {
		tc.Listen = []string{listen}
	}
	if dial != "" {
		tc.Dial = []config.PeerDialConfig{{Address: dial}}
	}
	return NewMatchmaker(MatchmakerOptions{
		Identity:   id,
		Transports: []config.TransportConfig{tc},
		Net:        config.NetConfig{DialBackoffInitialMS: 10, DialBackoffMaxMS: 50},
		Settle:     300 * time.Millisecond,
		NewTransport: func(string) (transport.Transport, error) {
			return hub, nil
		},
	})
}

func findBoth(t *testing.T, ma, mb *Matchmaker) (*Link, *Link) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var wg sync.WaitGroup
	var la, lb *Link
	var ea, eb error
	wg.Add(2)
	go func() { defer wg.Done(); la, ea = ma.FindPeer(ctx) }()
	go func() { defer wg.Done(); lb, eb = mb.FindPeer(ctx) }()
	wg.Wait()
	if ea != nil || eb != nil {
		t.Fatalf("find peer: %v / %v", ea, eb)
	}
	return la, lb
}

func TestMatchmakerOneWayDial(t *testing.T) {
	hub := mem.New()
	alice, bob := testutil.Identity(t, "alice"), testutil.Identity(t, "bob")
	ma := memMatchmaker(hub, alice, "", "bob")
	mb := memMatchmaker(hub, bob, "bob", "")
	defer ma.Close()
	defer mb.Close()

	kv := memkv.New(memkv.Options{SweepInterval: -1})
	defer kv.Close()
	ps := peers.NewStore(kv, 0, nil)
	ma.opts.Peers = ps

	la, lb := findBoth(t, ma, mb)
	defer la.Close()
	defer lb.Close()
	if la.Peer().ID != bob.ID || lb.Peer().ID != alice.ID || la.MatchID() != lb.MatchID() {
		t.Fatalf("links disagree: %+v %q / %+v %q", la.Peer(), la.MatchID(), lb.Peer(), lb.MatchID())
	}
	if la.Peer().RTT <= 0 || lb.Peer().RTT <= 0 {
		t.Fatalf("handshake rtt = %v / %v", la.Peer().RTT, lb.Peer().RTT)
	}
	pm, ok := ps.Get(bob.ID)
	if !ok || pm.RTTMicros == 0 || pm.MatchID != la.MatchID() || !pm.Outbound {
		t.Fatalf("recorded peer = %+v, %v", pm, ok)
	}
	if err := lb.Send(removeFrame(t, 2)); err != nil {
		t.Fatalf("send: %v", err)
	}
	pollOne(t, la)
}

func TestMatchmakerDualDialKeepsOneSession(t *testing.T) {
	hub := mem.New()
	alice, bob := testutil.Identity(t, "alice"), testutil.Identity(t, "bob")
	ma := memMatchmaker(hub, alice, "alice", "bob")
	mb := memMatchmaker(hub, bob, "bob", "alice")
	defer ma.Close()
	defer mb.Close()

	la, lb := findBoth(t, ma, mb)
	defer la.Close()
	defer lb.Close()
	if la.MatchID() != lb.MatchID() {
		t.Fatalf("peers kept different sessions: %q / %q", la.MatchID(), lb.MatchID())
	}
	if err := la.Send(removeFrame(t, 4)); err != nil {
		t.Fatalf("send: %v", err)
	}
	pollOne(t, lb)
}

func TestFindPeerTimesOut(t *testing.T) {
	hub := mem.New()
	m := memMatchmaker(hub, testutil.Identity(t, "solo"), "solo", "nobody")
	defer m.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := m.FindPeer(ctx); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("err = %v", err)
	}
}

func TestIdleMatchmakerRefusesAsBusy(t *testing.T) {
	hub := mem.New()
	idle := memMatchmaker(hub, testutil.Identity(t, "idle"), "idle", "")
	if err := idle.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer idle.Close()

	seeker := memMatchmaker(hub, testutil.Identity(t, "seeker"), "", "idle")
	defer seeker.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := seeker.FindPeer(ctx); !errors.Is(err, ErrNoPeer) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewByKind(t *testing.T) {
	for _, k := range []string{"mem", "tcp", "udp", "quic", "ws"} {
		tr, err := NewByKind(k)
		if err != nil || tr == nil {
			t.Fatalf("%s: %v", k, err)
		}
	}
	var unknown transport.ErrUnknownKind
	if _, err := NewByKind("carrier-pigeon"); !errors.As(err, &unknown) {
		t.Fatalf("err = %v", err)
	}
}

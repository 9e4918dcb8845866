package mem

import (
	"context"
	"errors"
	"testing"
	"time"

	"homerun/pkg/transport"
)

func TestDialAcceptExchange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr := New()
	l, err := tr.Listen(ctx, "pitch")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if _, err := tr.Listen(ctx, "pitch"); !errors.Is(err, ErrInUse) {
		t.Fatalf("second listen: %v", err)
	}

	cli, err := tr.Dial(ctx, "pitch", transport.PeerInfo{ID: "remote"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	srv, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !cli.Peer().Outbound || srv.Peer().Outbound {
		t.Fatalf("direction flags wrong: cli=%v srv=%v", cli.Peer(), srv.Peer())
	}
	if !srv.Peer().ID.IsTemp() {
		t.Fatalf("accepted session should carry a temp id: %s", srv.Peer().ID)
	}

	cs, _ := transport.StreamFor(ctx, cli)
	ss, _ := transport.StreamFor(ctx, srv)
	go func() { _ = cs.SendBytes([]byte("throw")) }()
	got, err := ss.RecvBytes()
	if err != nil || string(got) != "throw" {
		t.Fatalf("recv = %q, %v", got, err)
	}

	_ = cli.Close()
	if _, err := ss.RecvBytes(); err == nil {
		t.Fatalf("recv after close should fail")
	}

	_ = l.Close()
	if _, err := tr.Dial(ctx, "pitch", transport.PeerInfo{}); !errors.Is(err, ErrNoListener) {
		t.Fatalf("dial after close: %v", err)
	}
}

package udp

import (
	"context"
	"testing"
	"time"

	"homerun/pkg/transport"
)

func TestDatagramRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := New()
	l, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	cli, err := tr.Dial(ctx, l.Addr().String(), transport.PeerInfo{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	cs, _ := cli.OpenStream(ctx)

	// the listener only learns about the dialer from its first packet
	if err := cs.SendBytes([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	srv, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	ss, _ := srv.AcceptStream(ctx)
	got, err := ss.RecvBytes()
	if err != nil || string(got) != "hello" {
		t.Fatalf("server recv = %q, %v", got, err)
	}

	if err := ss.SendBytes([]byte("ack")); err != nil {
		t.Fatalf("reply: %v", err)
	}
	got, err = cs.RecvBytes()
	if err != nil || string(got) != "ack" {
		t.Fatalf("client recv = %q, %v", got, err)
	}

	_ = srv.Close()
	if _, err := ss.RecvBytes(); err == nil {
		t.Fatalf("recv after close should fail")
	}
}

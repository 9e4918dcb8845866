package ws

import (
	"context"
	"testing"
	"time"

	"homerun/pkg/transport"
)

func TestSplitAddress(t *testing.T) {
	cases := map[string][2]string{
		":8080":               {":8080", "/"},
		"127.0.0.1:9000/peer": {"127.0.0.1:9000", "/peer"},
		"ws://relay:80/a/b":   {"relay:80", "/a/b"},
	}
	for in, want := range cases {
		h, p := splitAddress(in)
		if h != want[0] || p != want[1] {
			t.Fatalf("%q -> %q %q", in, h, p)
		}
	}
}

func TestLoopbackMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr := New()
	l, err := tr.Listen(ctx, "127.0.0.1:0/peer")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	cli, err := tr.Dial(ctx, l.Addr().String()+"/peer", transport.PeerInfo{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	srv, err := l.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer srv.Close()

	cs, _ := transport.StreamFor(ctx, cli)
	ss, _ := transport.StreamFor(ctx, srv)
	if err := cs.SendBytes([]byte{1, 2, 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := ss.RecvBytes()
	if err != nil || len(got) != 3 || got[2] != 3 {
		t.Fatalf("recv = %v, %v", got, err)
	}
	if !cli.Peer().Outbound || srv.Peer().Outbound {
		t.Fatalf("direction flags wrong")
	}
}

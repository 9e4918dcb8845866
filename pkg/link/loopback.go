package link

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"homerun/pkg/identity"
	"homerun/pkg/protocol/codec"
	"homerun/pkg/transport"
	"homerun/pkg/transport/mem"
)

// Pair connects two identities over a private in-process transport and runs
// the full handshake. The first link is the dialer. Used by headless demos
// and tests.
func Pair(ctx context.Context, a, b *identity.Identity, opts Options) (*Link, *Link, error) {
	hub := mem.New()
	name := "pair-" + uuid.NewString()
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l, err := hub.Listen(lctx, name)
	if err != nil {
		return nil, nil, err
	}
	defer l.Close()

	reg := codec.NewRegistry()
	type accepted struct {
		link *Link
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		s, err := l.Accept(ctx)
		if err != nil {
			ch <- accepted{err: err}
			return
		}
		st, err := transport.StreamFor(ctx, s)
		if err != nil {
			_ = s.Close()
			ch <- accepted{err: err}
			return
		}
		x := &exchange{id: b, reg: reg}
		r, matchID, err := x.accept(ctx, s, st, nil)
		if err != nil {
			_ = s.Close()
			ch <- accepted{err: err}
			return
		}
		bind(s, r, matchID)
		ch <- accepted{link: newLink(s, st, r, matchID, opts)}
	}()

	s, err := hub.Dial(ctx, name, transport.PeerInfo{Addr: name})
	if err != nil {
		return nil, nil, err
	}
	st, err := transport.StreamFor(ctx, s)
	if err != nil {
		_ = s.Close()
		return nil, nil, err
	}
	matchID := uuid.NewString()
	x := &exchange{id: a, reg: reg}
	r, derr := x.dial(ctx, s, st, matchID, "")
	if derr != nil {
		_ = s.Close()
	}
	res := <-ch
	if derr != nil || res.err != nil {
		if res.link != nil {
			_ = res.link.Close()
		}
		return nil, nil, fmt.Errorf("pair handshake: dial=%v accept=%v", derr, res.err)
	}
	bind(s, r, matchID)
	return newLink(s, st, r, matchID, opts), res.link, nil
}

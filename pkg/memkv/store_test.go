package memkv

import (
	"testing"
	"time"
)

func newTestStore(opts Options) (*Store, *time.Time) {
	opts.SweepInterval = -1
	s := New(opts)
	now := time.Unix(1000, 0)
	s.nowFn = func() time.Time { return now }
	return s, &now
}

func TestSetGetCopies(t *testing.T) {
	s, _ := newTestStore(Options{})
	defer s.Close()

	v := []byte("abc")
	s.Set("k", v, 0)
	v[0] = 'X'
	got, ok := s.Get("k")
	if !ok || string(got) != "abc" {
		t.Fatalf("get = %q %v", got, ok)
	}
	got[1] = 'Y'
	again, _ := s.Get("k")
	if string(again) != "abc" {
		t.Fatalf("store shares buffer with caller: %q", again)
	}
	if s.bytes.Load() != 3 {
		t.Fatalf("bytes = %d", s.bytes.Load())
	}
}

func TestTTLExpiryAndSweep(t *testing.T) {
	s, now := newTestStore(Options{})
	defer s.Close()

	s.Set("a", []byte("1"), time.Second)
	s.Set("b", []byte("2"), 0)
	if _, ok := s.Get("a"); !ok {
		t.Fatalf("live key missing")
	}

	*now = now.Add(2 * time.Second)
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expired key visible")
	}
	if n := s.Sweep(); n != 1 {
		t.Fatalf("sweep removed %d", n)
	}
	if keys := s.Keys(""); len(keys) != 1 || keys[0] != "b" {
		t.Fatalf("keys after sweep = %v", keys)
	}
	if !s.Expire("b", time.Second) || s.Expire("a", time.Second) {
		t.Fatalf("expire results wrong")
	}
}

func TestUpdateCreateModifyDelete(t *testing.T) {
	s, _ := newTestStore(Options{})
	defer s.Close()

	s.Update("n", func(old []byte) []byte {
		if old != nil {
			t.Fatalf("missing key passed %q", old)
		}
		return []byte("1")
	})
	s.Update("n", func(old []byte) []byte { return append(old, '2') })
	if got, _ := s.Get("n"); string(got) != "12" {
		t.Fatalf("got %q", got)
	}
	s.Update("n", func([]byte) []byte { return nil })
	if _, ok := s.Get("n"); ok || s.bytes.Load() != 0 {
		t.Fatalf("nil update did not delete")
	}
}

func TestMaxBytesAndKeys(t *testing.T) {
	s, _ := newTestStore(Options{MaxBytes: 4})
	defer s.Close()

	if !s.Set("p:1", []byte("ab"), 0) || !s.Set("p:2", []byte("cd"), 0) {
		t.Fatalf("sets within limit refused")
	}
	if s.Set("q:1", []byte("e"), 0) {
		t.Fatalf("set past limit accepted")
	}
	if !s.Set("p:1", []byte("a"), 0) || !s.Set("q:1", []byte("e"), 0) {
		t.Fatalf("shrink then set refused")
	}
	if keys := s.Keys("p:"); len(keys) != 2 || keys[0] != "p:1" {
		t.Fatalf("keys = %v", keys)
	}
	if !s.Delete("p:2") || s.Delete("p:2") {
		t.Fatalf("delete results wrong")
	}
}

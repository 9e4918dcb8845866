package priocq

import (
	"testing"
	"time"
)

func TestTokenBucketRefill(t *testing.T) {
	now := time.Unix(100, 0)
	b := NewTokenBucket(1000, 100)
	b.now = func() time.Time { return now }

	if ok, _ := b.Allow(100); !ok {
		t.Fatalf("full bucket refused")
	}
	ok, wait := b.Allow(50)
	if ok || wait != 50*time.Millisecond {
		t.Fatalf("empty bucket: ok=%v wait=%v", ok, wait)
	}
	now = now.Add(60 * time.Millisecond)
	if ok, _ := b.Allow(50); !ok {
		t.Fatalf("refilled bucket refused")
	}
}

func TestTokenBucketDisabled(t *testing.T) {
	b := NewTokenBucket(0, 0)
	for i := 0; i < 10; i++ {
		if ok, _ := b.Allow(1 << 20); !ok {
			t.Fatalf("disabled bucket refused")
		}
	}
}

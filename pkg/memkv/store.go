// Package memkv is a sharded in-memory key/value store with per-key TTL.
// Values are copied on the way in and out so callers never share buffers
// with the store.
package memkv

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Store.
type Options struct {
	Shards        int           // number of shards (default 16)
	SweepInterval time.Duration // expired-key sweep period (default 1s, <0 disables)
	MaxBytes      uint64        // hard limit on the total size of values (0 = unlimited)
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 16
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Second
	}
	return o
}

// Store is safe for concurrent use.
type Store struct {
	opts    Options
	shards  []shard
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	nowFn   func() time.Time

	bytes atomic.Int64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano; 0 = never
}

func (e *entry) expired(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

// New creates a store and starts its sweeper.
func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:    opts,
		shards:  make([]shard, opts.Shards),
		closeCh: make(chan struct{}),
		nowFn:   time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry)
	}
	if opts.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweeper(opts.SweepInterval)
	}
	return s
}

// Close stops the sweeper. The store stays readable.
func (s *Store) Close() {
	s.once.Do(func() { close(s.closeCh) })
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[int(h%uint64(len(s.shards)))]
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (s *Store) expiry(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.nowFn().Add(ttl).UnixNano()
}

// reserve accounts for a size change; it refuses growth past MaxBytes.
func (s *Store) reserve(delta int64) bool {
	if delta <= 0 || s.opts.MaxBytes == 0 {
		s.bytes.Add(delta)
		return true
	}
	for {
		cur := s.bytes.Load()
		if uint64(cur+delta) > s.opts.MaxBytes {
			return false
		}
		if s.bytes.CompareAndSwap(cur, cur+delta) {
			return true
		}
	}
}

// Set stores val under key. ttl <= 0 means no expiry. It returns false when
// the value would exceed MaxBytes.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	v := clone(val)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	oldLen := 0
	if prev, ok := sh.m[key]; ok {
		oldLen = len(prev.val)
	}
	if !s.reserve(int64(len(v) - oldLen)) {
		return false
	}
	sh.m[key] = &entry{val: v, expireAt: s.expiry(ttl)}
	return true
}

// Get returns a copy of the value for key.
func (s *Store) Get(key string) ([]byte, bool) {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.m[key]
	if !ok || e.expired(now) {
		sh.mu.RUnlock()
		return nil, false
	}
	v := clone(e.val)
	sh.mu.RUnlock()
	return v, true
}

// Update atomically replaces the value of key with fn(old). A missing or
// expired key passes nil to fn and is created without TTL. Returning nil
// from fn deletes the key. It reports false if MaxBytes refused the value.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if ok && e.expired(now) {
		s.removeLocked(sh, key, e)
		e, ok = nil, false
	}
	var old []byte
	if ok {
		old = clone(e.val)
	}
	next := fn(old)
	if next == nil {
		if ok {
			s.removeLocked(sh, key, e)
		}
		return true
	}
	next = clone(next)
	oldLen := 0
	if ok {
		oldLen = len(e.val)
	}
	if !s.reserve(int64(len(next) - oldLen)) {
		return false
	}
	if ok {
		e.val = next
	} else {
		sh.m[key] = &entry{val: next}
	}
	return true
}

func (s *Store) removeLocked(sh *shard, key string, e *entry) {
	delete(sh.m, key)
	s.bytes.Add(-int64(len(e.val)))
}

// Delete removes key. It reports whether the key existed.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	s.removeLocked(sh, key, e)
	return true
}

// Expire sets a new TTL on key; ttl <= 0 removes the expiry.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	now := s.nowFn().UnixNano()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok || e.expired(now) {
		return false
	}
	e.expireAt = s.expiry(ttl)
	return true
}

// Keys returns live keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	now := s.nowFn().UnixNano()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if strings.HasPrefix(k, prefix) && !e.expired(now) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Sweep removes expired keys now and returns how many were removed.
func (s *Store) Sweep() int {
	now := s.nowFn().UnixNano()
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.m {
			if e.expired(now) {
				s.removeLocked(sh, k, e)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

func (s *Store) sweeper(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.closeCh:
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

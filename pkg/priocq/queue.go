// Package priocq provides the bounded class queues that sit between link I/O
// goroutines and the simulation tick, and a token bucket for send shaping.
package priocq

import (
	"sync"
	"time"
)

// Class is a priority class: control > ball > pose.
type Class int

const (
	ClassControl Class = iota
	ClassBall
	ClassPose
	numClasses
)

func (c Class) String() string {
	switch c {
	case ClassControl:
		return "control"
	case ClassBall:
		return "ball"
	case ClassPose:
		return "pose"
	default:
		return "unknown"
	}
}

// Item is one queued frame.
type Item struct {
	Bytes   []byte
	Class   Class
	Arrived time.Time
}

// Stats counts queue pressure events.
type Stats struct {
	Pushed      uint64
	DroppedPose uint64 // poses superseded or rejected while full
	ShedBall    uint64 // ball frames lost while full
	Rejected    uint64 // control frames rejected while full
}

// Queue is a bounded strict-priority queue, FIFO within a class.
//
// When full, a push evicts the oldest pose first. A pose that finds no pose to
// evict is dropped. A ball or control push then evicts the oldest ball, which
// is reported through OnShed since ball events are not supersedable.
type Queue struct {
	mu       sync.Mutex
	q        [numClasses][]Item
	n        int
	capacity int
	stats    Stats
	onShed   func(Item)
	notify   chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithOnShed registers fn to be called (outside the lock) for every shed ball item.
func WithOnShed(fn func(Item)) Option { return func(q *Queue) { q.onShed = fn } }

// New creates a queue holding at most capacity items.
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{capacity: capacity, notify: make(chan struct{}, 1)}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push enqueues it. It reports false when it was dropped.
func (q *Queue) Push(it Item) bool {
	if it.Class < 0 || it.Class >= numClasses {
		it.Class = ClassControl
	}
	if it.Arrived.IsZero() {
		it.Arrived = time.Now()
	}

	var shed []Item
	accepted := true

	q.mu.Lock()
	q.stats.Pushed++
	if q.n >= q.capacity {
		switch {
		case len(q.q[ClassPose]) > 0:
			q.popFront(ClassPose)
			q.stats.DroppedPose++
		case it.Class == ClassPose:
			q.stats.DroppedPose++
			accepted = false
		case len(q.q[ClassBall]) > 0:
			shed = append(shed, q.popFront(ClassBall))
			q.stats.ShedBall++
		case it.Class == ClassBall:
			shed = append(shed, it)
			q.stats.ShedBall++
			accepted = false
		default:
			q.stats.Rejected++
			accepted = false
		}
	}
	if accepted {
		q.q[it.Class] = append(q.q[it.Class], it)
		q.n++
	}
	onShed := q.onShed
	q.mu.Unlock()

	if onShed != nil {
		for _, s := range shed {
			onShed(s)
		}
	}
	if accepted {
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}
	return accepted
}

// popFront removes the oldest item of class c. Caller holds mu and ensures non-empty.
func (q *Queue) popFront(c Class) Item {
	it := q.q[c][0]
	q.q[c][0] = Item{}
	q.q[c] = q.q[c][1:]
	q.n--
	return it
}

// TryPop returns the highest-priority oldest item without blocking.
func (q *Queue) TryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for c := Class(0); c < numClasses; c++ {
		if len(q.q[c]) > 0 {
			return q.popFront(c), true
		}
	}
	return Item{}, false
}

// Drain pops up to max items (all when max <= 0) in priority order.
func (q *Queue) Drain(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > q.n {
		max = q.n
	}
	if max == 0 {
		return nil
	}
	out := make([]Item, 0, max)
	for c := Class(0); c < numClasses && len(out) < max; c++ {
		for len(q.q[c]) > 0 && len(out) < max {
			out = append(out, q.popFront(c))
		}
	}
	return out
}

// Pop blocks until an item is available or stop is closed.
// It is intended for a single consumer goroutine.
func (q *Queue) Pop(stop <-chan struct{}) (Item, bool) {
	for {
		if it, ok := q.TryPop(); ok {
			return it, true
		}
		select {
		case <-q.notify:
		case <-stop:
			return Item{}, false
		}
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Stats returns a snapshot of the pressure counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

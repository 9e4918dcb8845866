package ball

import "math"

// IDAllocator hands out ball ids. The two peers use different parities so
// their ids never collide.
type IDAllocator struct {
	parity int32
	next   int32
}

// NewIDAllocator returns an allocator for parity 0 or 1.
func NewIDAllocator(parity int) *IDAllocator {
	a := &IDAllocator{}
	a.Reset(parity)
	return a
}

// Reset restarts the sequence, e.g. at the start of a match.
func (a *IDAllocator) Reset(parity int) {
	a.parity = int32(parity & 1)
	a.next = a.parity
}

// NextID returns the next id of this peer's parity. Past MaxInt32 the
// sequence wraps to the first id again; ids handed out earlier in the match
// may be tombstoned by then, in which case RegisterBall reports ErrRemoved.
// Reset at the start of each match keeps a wrap out of reach of real play.
func (a *IDAllocator) NextID() ID {
	id := a.next
	if a.next > math.MaxInt32-2 {
		a.next = a.parity
	} else {
		a.next += 2
	}
	return ID(id)
}

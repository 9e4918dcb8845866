package physics

import "sort"

// World owns the headless bodies keyed by network object id.
// It is driven from the simulation thread only.
type World struct {
	bodies map[int32]*Body
}

func NewWorld() *World { return &World{bodies: make(map[int32]*Body)} }

// Spawn creates (or replaces) the body for id at the origin of the pitch, held.
func (w *World) Spawn(id int32, drag float32) *Body {
	b := NewBody(Zero)
	b.Drag = drag
	w.bodies[id] = b
	return b
}

// Body returns the body for id, if any.
func (w *World) Body(id int32) (*Body, bool) {
	b, ok := w.bodies[id]
	return b, ok
}

// Remove deletes the body for id. Missing ids are ignored.
func (w *World) Remove(id int32) { delete(w.bodies, id) }

func (w *World) Len() int { return len(w.bodies) }

// Clear removes every body.
func (w *World) Clear() { clear(w.bodies) }

// Step integrates every body.
func (w *World) Step(dt float32) {
	for _, b := range w.bodies {
		b.Step(dt)
	}
}

// OutOfBounds returns ids of free-flying bodies that fell below the ground
// plane or left the sphere of the given radius, sorted ascending.
func (w *World) OutOfBounds(radius float32) []int32 {
	var out []int32
	for id, b := range w.bodies {
		if b.kinematic {
			continue
		}
		if b.pos.Y < 0 || (radius > 0 && b.pos.Len() > radius) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

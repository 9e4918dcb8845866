package physics

// Gravity is applied on the Y axis to non-kinematic bodies with gravity enabled.
const Gravity float32 = -9.81

// Proxy is the local physics representation of a networked object.
// Engine rigid bodies expose the same setters; the readers let the sync
// core snapshot state without reaching into the engine.
type Proxy interface {
	SetPosition(Vec3)
	SetVelocity(Vec3)
	SetAngularVelocity(Vec3)
	SetKinematic(bool)
	SetGravityEnabled(bool)

	Position() Vec3
	Velocity() Vec3
	AngularVelocity() Vec3
	Kinematic() bool
	GravityEnabled() bool
}

// Body is a point-mass rigid body integrated with semi-implicit Euler.
// A freshly spawned body is kinematic with gravity off, like a ball held in a glove.
type Body struct {
	pos, vel, ang Vec3
	kinematic     bool
	gravity       bool
	// Drag is a linear damping factor per second applied to velocity.
	Drag float32
}

// NewBody returns a held (kinematic) body at pos.
func NewBody(pos Vec3) *Body { return &Body{pos: pos, kinematic: true} }

func (b *Body) SetPosition(p Vec3)        { b.pos = p }
func (b *Body) SetVelocity(v Vec3)        { b.vel = v }
func (b *Body) SetAngularVelocity(w Vec3) { b.ang = w }
func (b *Body) SetKinematic(k bool)       { b.kinematic = k }
func (b *Body) SetGravityEnabled(g bool)  { b.gravity = g }

func (b *Body) Position() Vec3        { return b.pos }
func (b *Body) Velocity() Vec3        { return b.vel }
func (b *Body) AngularVelocity() Vec3 { return b.ang }
func (b *Body) Kinematic() bool       { return b.kinematic }
func (b *Body) GravityEnabled() bool  { return b.gravity }

// GrabEnd releases a held body with the given linear and angular velocity.
func (b *Body) GrabEnd(vel, ang Vec3) {
	b.kinematic = false
	b.vel = vel
	b.ang = ang
}

// Step advances the body by dt seconds. Kinematic bodies do not move on their own.
func (b *Body) Step(dt float32) {
	if b.kinematic || dt <= 0 {
		return
	}
	if b.gravity {
		b.vel.Y += Gravity * dt
	}
	if b.Drag > 0 {
		k := 1 - b.Drag*dt
		if k < 0 {
			k = 0
		}
		b.vel = b.vel.Scale(k)
	}
	b.pos = b.pos.Add(b.vel.Scale(dt))
}

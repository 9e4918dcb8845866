// Package physics holds the headless rigid-body proxy used by the sync core.
// A real engine body satisfies the same Proxy interface.
package physics

import "math"

// Vec3 is a position or vector in world space (meters, Y up).
type Vec3 struct {
	X float32 `json:"x" cbor:"1,keyasint"`
	Y float32 `json:"y" cbor:"2,keyasint"`
	Z float32 `json:"z" cbor:"3,keyasint"`
}

// V is a short constructor.
func V(x, y, z float32) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3                   { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3                   { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(k float32) Vec3              { return Vec3{a.X * k, a.Y * k, a.Z * k} }
func (a Vec3) Len() float32                      { return float32(math.Sqrt(float64(a.X*a.X + a.Y*a.Y + a.Z*a.Z))) }
func (a Vec3) IsZero() bool                      { return a.X == 0 && a.Y == 0 && a.Z == 0 }
func (a Vec3) ApproxEq(b Vec3, eps float32) bool { return a.Sub(b).Len() <= eps }

// Zero is the zero vector.
var Zero = Vec3{}

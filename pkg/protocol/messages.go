package protocol

import "homerun/pkg/physics"

// BallThrow is the release snapshot. Extra is the advisory target strike
// position, absent when the thrower did not supply one.
type BallThrow struct {
	ID       int32         `json:"id" cbor:"1,keyasint"`
	Kind     uint8         `json:"kind" cbor:"2,keyasint"`
	Position physics.Vec3  `json:"position" cbor:"3,keyasint"`
	Velocity physics.Vec3  `json:"velocity" cbor:"4,keyasint"`
	Extra    *physics.Vec3 `json:"extra,omitempty" cbor:"5,keyasint,omitempty"`
}

// BallHit is the bat contact snapshot.
type BallHit struct {
	ID       int32        `json:"id" cbor:"1,keyasint"`
	Position physics.Vec3 `json:"position" cbor:"3,keyasint"`
	Velocity physics.Vec3 `json:"velocity" cbor:"4,keyasint"`
}

// BallRemove tells the peer the sender destroyed its copy.
type BallRemove struct {
	ID int32 `json:"id" cbor:"1,keyasint"`
}

// Transform is a position and rotation quaternion (x, y, z, w).
type Transform struct {
	Position physics.Vec3 `json:"p" cbor:"1,keyasint"`
	Rotation [4]float32   `json:"r" cbor:"2,keyasint"`
}

// AvatarPose is one sample of the remote avatar rig.
type AvatarPose struct {
	Head  Transform `json:"head" cbor:"1,keyasint"`
	Bat   Transform `json:"bat" cbor:"2,keyasint"`
	Glove Transform `json:"glove" cbor:"3,keyasint"`
}

// HelloAck answers a Hello. Carried as a structpb body.
type HelloAck struct {
	OK      bool
	MatchID string
	Reason  string
}

// Bye announces abandonment of the match.
type Bye struct {
	Reason string
}

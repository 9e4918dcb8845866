// Package protocol defines the framing of messages exchanged between the two
// peers: a fixed binary header followed by a format-prefixed body.
package protocol

import (
	"errors"

	"homerun/pkg/priocq"
)

// Message types.
const (
	MsgUnknown    uint8 = iota
	MsgHello            // signed identity + proposed match id
	MsgHelloAck         // acceptance or refusal of a Hello
	MsgBye              // orderly match abandonment
	MsgBallThrow        // release snapshot
	MsgBallHit          // bat contact snapshot
	MsgBallRemove       // best-effort destruction notice
	MsgAvatarPose       // supersedable pose sample
)

// Flags bitmask (uint16)
const (
	FlagHasExtra uint16 = 1 << 0 // BallThrow carries a target strike position
)

// ContentType values for the body codecs.
const (
	ContentUnknown = "application/octet-stream"
	ContentCBOR    = "application/cbor"
	ContentJSON    = "application/json"
	ContentProto   = "application/x-protobuf"
)

var (
	ErrBadMagic   = errors.New("protocol: bad magic")
	ErrShortFrame = errors.New("protocol: short frame")
	ErrVersion    = errors.New("protocol: unsupported version")
	ErrTooLarge   = errors.New("protocol: payload too large")
)

// TypeName is used in logs.
func TypeName(t uint8) string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgHelloAck:
		return "hello_ack"
	case MsgBye:
		return "bye"
	case MsgBallThrow:
		return "ball_throw"
	case MsgBallHit:
		return "ball_hit"
	case MsgBallRemove:
		return "ball_remove"
	case MsgAvatarPose:
		return "avatar_pose"
	default:
		return "unknown"
	}
}

// Class maps a message type onto its queue class.
func Class(t uint8) priocq.Class {
	switch t {
	case MsgBallThrow, MsgBallHit, MsgBallRemove:
		return priocq.ClassBall
	case MsgAvatarPose:
		return priocq.ClassPose
	default:
		return priocq.ClassControl
	}
}

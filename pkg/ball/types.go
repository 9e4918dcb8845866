// Package ball decides which peer is authoritative for each networked ball
// and applies throw and hit snapshots to the local physics proxies.
//
// Each ball runs a small state machine: Unthrown, then InFlight(owner) after
// a throw, then Resolved(owner) after a hit. A hit always moves authority to
// the hitter. Once a remote hit is applied the ball stays Resolved(Remote)
// until it is destroyed, so later local hits are refused.
package ball

import (
	"errors"
	"fmt"
	"strings"

	"homerun/pkg/physics"
)

// ID identifies a networked ball for the lifetime of a match.
type ID int32

// NoID marks a ball that is not networked yet.
const NoID ID = -1

type Kind uint8

const (
	FastBall Kind = iota
	CurveBall
	Changeup
	Knuckleball
)

func (k Kind) String() string {
	switch k {
	case FastBall:
		return "fastball"
	case CurveBall:
		return "curveball"
	case Changeup:
		return "changeup"
	case Knuckleball:
		return "knuckleball"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fastball", "fast":
		return FastBall, nil
	case "curveball", "curve":
		return CurveBall, nil
	case "changeup":
		return Changeup, nil
	case "knuckleball", "knuckle":
		return Knuckleball, nil
	default:
		return FastBall, fmt.Errorf("unknown ball kind %q", s)
	}
}

// Drag is the physics profile of the kind: linear damping per second.
func (k Kind) Drag() float32 {
	switch k {
	case CurveBall:
		return 0.08
	case Changeup:
		return 0.15
	case Knuckleball:
		return 0.2
	default:
		return 0.02
	}
}

// Role is the authority owner from this process's point of view.
type Role uint8

const (
	RoleNone Role = iota
	Local
	Remote
)

func (r Role) String() string {
	switch r {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return "none"
	}
}

type Phase uint8

const (
	Unthrown Phase = iota
	InFlight
	Resolved
)

func (p Phase) String() string {
	switch p {
	case InFlight:
		return "in_flight"
	case Resolved:
		return "resolved"
	default:
		return "unthrown"
	}
}

// State is a snapshot of one registered ball.
type State struct {
	ID        ID           `json:"id"`
	Kind      Kind         `json:"kind"`
	Authority Role         `json:"authority"`
	Phase     Phase        `json:"phase"`
	Position  physics.Vec3 `json:"position"`
	Velocity  physics.Vec3 `json:"velocity"`
	Kinematic bool         `json:"kinematic"`
}

// Throw is the release snapshot. Target is advisory and may be nil.
type Throw struct {
	ID       ID
	Kind     Kind
	Position physics.Vec3
	Velocity physics.Vec3
	Target   *physics.Vec3
}

// Hit is the bat contact snapshot.
type Hit struct {
	ID       ID
	Position physics.Vec3
	Velocity physics.Vec3
}

var (
	ErrDuplicateID      = errors.New("ball: duplicate id")
	ErrNoID             = errors.New("ball: id not assigned")
	ErrNilProxy         = errors.New("ball: nil proxy")
	ErrUnknownID        = errors.New("ball: unknown id")
	ErrRemoved          = errors.New("ball: id removed in this match")
	ErrResolved         = errors.New("ball: already resolved")
	ErrRemotePrecedence = errors.New("ball: remote hit takes precedence")
)

// DuplicateIDError is returned when an id is registered twice.
type DuplicateIDError struct{ ID ID }

func (e *DuplicateIDError) Error() string { return fmt.Sprintf("ball: id %d already registered", e.ID) }

func (e *DuplicateIDError) Unwrap() error { return ErrDuplicateID }

// Sender broadcasts local authority events to the peer.
type Sender interface {
	SendBallThrow(Throw)
	SendBallHit(Hit)
}

// Spawner creates a proxy for a ball first seen in a remote message.
type Spawner interface {
	Spawn(id ID, kind Kind) physics.Proxy
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(id ID, kind Kind) physics.Proxy

func (f SpawnerFunc) Spawn(id ID, kind Kind) physics.Proxy { return f(id, kind) }

// releaser is implemented by proxies that model the grab-release of a held ball.
type releaser interface {
	GrabEnd(vel, ang physics.Vec3)
}

// Package avatar toggles the rig parts that belong to each player type and
// mirrors the remote avatar pose.
package avatar

import (
	"sync"

	"homerun/pkg/match"
	"homerun/pkg/protocol"
)

type (
	Transform = protocol.Transform
	Pose      = protocol.AvatarPose
)

// Activatable is a rig part that can be shown or hidden.
type Activatable interface {
	SetActive(bool)
}

// Rig is resolved once at construction; nil parts are skipped.
type Rig struct {
	LocalBat         Activatable
	RemoteBat        Activatable
	LocalGlove       Activatable
	RemoteGlove      Activatable
	LocalRightRender Activatable
}

type rigState struct{ localBat, remoteBat, localGlove, remoteGlove, localRightRender bool }

var rigTable = map[match.PlayerType]rigState{
	match.Batter:     {localBat: true, remoteGlove: true},
	match.Pitcher:    {remoteBat: true, localGlove: true, localRightRender: true},
	match.PlayerNone: {localBat: true, remoteBat: true, localRightRender: true},
}

// Apply activates the parts for t. The batter holds a bat and faces the
// remote glove; the pitcher the opposite. None shows both bats.
func (r Rig) Apply(t match.PlayerType) {
	s, ok := rigTable[t]
	if !ok {
		s = rigTable[match.PlayerNone]
	}
	set(r.LocalBat, s.localBat)
	set(r.RemoteBat, s.remoteBat)
	set(r.LocalGlove, s.localGlove)
	set(r.RemoteGlove, s.remoteGlove)
	set(r.LocalRightRender, s.localRightRender)
}

func set(a Activatable, on bool) {
	if a != nil {
		a.SetActive(on)
	}
}

// Toggle is a headless Activatable.
type Toggle struct {
	Name   string
	mu     sync.Mutex
	active bool
}

func NewToggle(name string) *Toggle { return &Toggle{Name: name} }

func (t *Toggle) SetActive(on bool) {
	t.mu.Lock()
	t.active = on
	t.mu.Unlock()
}

func (t *Toggle) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// NewHeadlessRig returns a rig of Toggles.
func NewHeadlessRig() Rig {
	return Rig{
		LocalBat:         NewToggle("local_bat"),
		RemoteBat:        NewToggle("remote_bat"),
		LocalGlove:       NewToggle("local_glove"),
		RemoteGlove:      NewToggle("remote_glove"),
		LocalRightRender: NewToggle("local_right_render"),
	}
}

// PoseSource samples the local avatar.
type PoseSource interface {
	LocalPose() (Pose, bool)
}

// PoseSink receives the newest remote pose once per tick.
type PoseSink interface {
	ApplyRemotePose(Pose)
}

// StaticPose always reports the same pose.
type StaticPose Pose

func (p StaticPose) LocalPose() (Pose, bool) { return Pose(p), true }

// Mirror is a PoseSink that keeps the latest pose.
type Mirror struct {
	mu      sync.Mutex
	last    Pose
	applied uint64
}

func (m *Mirror) ApplyRemotePose(p Pose) {
	m.mu.Lock()
	m.last = p
	m.applied++
	m.mu.Unlock()
}

// Last returns the latest pose and how many poses were applied.
func (m *Mirror) Last() (Pose, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.applied
}

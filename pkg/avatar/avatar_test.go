package avatar

import (
	"testing"

	"homerun/pkg/match"
	"homerun/pkg/physics"
)

func TestRigApplyTable(t *testing.T) {
	cases := []struct {
		pt                                 match.PlayerType
		lBat, rBat, lGlove, rGlove, render bool
	}{
		{match.Batter, true, false, false, true, false},
		{match.Pitcher, false, true, true, false, true},
		{match.PlayerNone, true, true, false, false, true},
	}
	for _, c := range cases {
		r := NewHeadlessRig()
		r.Apply(c.pt)
		got := []bool{
			r.LocalBat.(*Toggle).Active(),
			r.RemoteBat.(*Toggle).Active(),
			r.LocalGlove.(*Toggle).Active(),
			r.RemoteGlove.(*Toggle).Active(),
			r.LocalRightRender.(*Toggle).Active(),
		}
		want := []bool{c.lBat, c.rBat, c.lGlove, c.rGlove, c.render}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: parts = %v, want %v", c.pt, got, want)
			}
		}
	}
}

func TestRigSkipsMissingParts(t *testing.T) {
	bat := NewToggle("bat")
	Rig{LocalBat: bat}.Apply(match.Batter)
	if !bat.Active() {
		t.Fatalf("bat not activated")
	}
}

func TestMirrorKeepsLatest(t *testing.T) {
	var m Mirror
	m.ApplyRemotePose(Pose{Head: Transform{Position: physics.V(0, 1, 0)}})
	m.ApplyRemotePose(Pose{Head: Transform{Position: physics.V(0, 2, 0)}})
	p, n := m.Last()
	if n != 2 || p.Head.Position.Y != 2 {
		t.Fatalf("last = %+v (%d)", p, n)
	}
	src := StaticPose(p)
	if got, ok := src.LocalPose(); !ok || got != p {
		t.Fatalf("static pose = %+v", got)
	}
}

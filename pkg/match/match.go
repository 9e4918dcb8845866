// Package match holds the match lifecycle state machine. It is driven from the
// simulation thread only and does no locking.
package match

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrInvalidEvent = errors.New("match: event not valid in current state")
	// ErrFatal is returned for an identity failure; the process must stop.
	ErrFatal = errors.New("match: fatal identity failure")
)

type State int

const (
	Initializing State = iota
	WaitingToPracticeOrMatchmake
	MatchTransition
	PlayingLocalMatch
	PlayingNetworkedMatch
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case WaitingToPracticeOrMatchmake:
		return "waiting"
	case MatchTransition:
		return "transition"
	case PlayingLocalMatch:
		return "playing_local"
	case PlayingNetworkedMatch:
		return "playing_networked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Playing reports whether s is one of the two match states.
func (s State) Playing() bool { return s == PlayingLocalMatch || s == PlayingNetworkedMatch }

// PlayerType decides which rig parts are active and who throws or hits.
type PlayerType int

const (
	PlayerNone PlayerType = iota
	Batter
	Pitcher
)

func (p PlayerType) String() string {
	switch p {
	case Batter:
		return "batter"
	case Pitcher:
		return "pitcher"
	default:
		return "none"
	}
}

func ParsePlayerType(s string) (PlayerType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PlayerNone, nil
	case "batter":
		return Batter, nil
	case "pitcher":
		return Pitcher, nil
	default:
		return PlayerNone, fmt.Errorf("unknown player type %q", s)
	}
}

// CanThrow reports whether the player may release a pitch.
func (p PlayerType) CanThrow() bool { return p != Batter }

// CanHit reports whether the player may swing at a ball.
func (p PlayerType) CanHit() bool { return p != Pitcher }

type Event int

const (
	EventIdentityResolved Event = iota
	EventIdentityFailed
	EventMatchStart
	EventSetupLocal
	EventSetupNetworked
	EventMatchCanceled
	EventMatchEnd
	EventSummaryDismissed
)

func (e Event) String() string {
	switch e {
	case EventIdentityResolved:
		return "identity_resolved"
	case EventIdentityFailed:
		return "identity_failed"
	case EventMatchStart:
		return "match_start"
	case EventSetupLocal:
		return "setup_local"
	case EventSetupNetworked:
		return "setup_networked"
	case EventMatchCanceled:
		return "match_canceled"
	case EventMatchEnd:
		return "match_end"
	case EventSummaryDismissed:
		return "summary_dismissed"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type edge struct {
	from State
	ev   Event
}

var transitions = map[edge]State{
	{Initializing, EventIdentityResolved}:           WaitingToPracticeOrMatchmake,
	{WaitingToPracticeOrMatchmake, EventMatchStart}: MatchTransition,
	{MatchTransition, EventSetupLocal}:              PlayingLocalMatch,
	{MatchTransition, EventSetupNetworked}:          PlayingNetworkedMatch,
	{MatchTransition, EventMatchCanceled}:           WaitingToPracticeOrMatchmake,
	{PlayingLocalMatch, EventMatchEnd}:              MatchTransition,
	{PlayingNetworkedMatch, EventMatchEnd}:          MatchTransition,
	{MatchTransition, EventSummaryDismissed}:        WaitingToPracticeOrMatchmake,
}

// Machine holds the single current State and the enter/exit hooks.
type Machine struct {
	cur   State
	enter map[State][]func(from State)
	exit  map[State][]func(to State)
	log   *zap.Logger
}

func NewMachine(log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		cur:   Initializing,
		enter: make(map[State][]func(State)),
		exit:  make(map[State][]func(State)),
		log:   log,
	}
}

func (m *Machine) Current() State { return m.cur }

// NetworkingActive is true only while a networked match is being played.
func (m *Machine) NetworkingActive() bool { return m.cur == PlayingNetworkedMatch }

// OnEnter registers fn to run after s becomes current.
func (m *Machine) OnEnter(s State, fn func(from State)) { m.enter[s] = append(m.enter[s], fn) }

// OnExit registers fn to run before s is left.
func (m *Machine) OnExit(s State, fn func(to State)) { m.exit[s] = append(m.exit[s], fn) }

// TransitionToState replaces the current state and runs the hooks. It is a
// no-op returning false when s is already current.
func (m *Machine) TransitionToState(s State) bool {
	if s == m.cur {
		return false
	}
	from := m.cur
	for _, fn := range m.exit[from] {
		fn(s)
	}
	m.cur = s
	m.log.Info("match state", zap.Stringer("from", from), zap.Stringer("to", s))
	for _, fn := range m.enter[s] {
		fn(from)
	}
	return true
}

// Apply validates e against the transition table and performs it.
func (m *Machine) Apply(e Event) (State, error) {
	if e == EventIdentityFailed && m.cur == Initializing {
		return m.cur, ErrFatal
	}
	next, ok := transitions[edge{m.cur, e}]
	if !ok {
		return m.cur, fmt.Errorf("%w: %s in %s", ErrInvalidEvent, e, m.cur)
	}
	m.TransitionToState(next)
	return next, nil
}

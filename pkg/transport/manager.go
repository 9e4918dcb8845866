package transport

import (
	"sort"
	"sync"
)

// Manager keeps at most one canonical Session per remote peer and settles
// duplicate links, e.g. when both peers dial each other at the same time.
// The election is symmetric: both peers pick the same session, so the loser
// is closed on both ends.
type Manager struct {
	mu    sync.RWMutex
	local PeerID
	peers map[PeerID]Session
}

// NewManager creates a manager for the local peer id.
func NewManager(local PeerID) *Manager {
	return &Manager{local: local, peers: make(map[PeerID]Session)}
}

// AddSession registers a handshaken session and applies the selection policy.
// If the session loses the election it is closed and accepted is false.
// If it replaced a previous canonical session, that one is closed and returned.
func (m *Manager) AddSession(s Session) (accepted bool, old Session) {
	pid := s.Peer().ID
	m.mu.Lock()
	cur := m.peers[pid]
	switch {
	case cur == nil:
		m.peers[pid] = s
		accepted = true
	case cur == s:
		accepted = true
	case m.better(s, cur):
		m.peers[pid] = s
		old = cur
		accepted = true
	}
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if !accepted {
		_ = s.Close()
	}
	return accepted, old
}

// GetSession returns the current canonical session for a peer (if any).
func (m *Manager) GetSession(id PeerID) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peers[id]
}

// Remove forgets s if it is still canonical for its peer. It does not close s.
func (m *Manager) Remove(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := s.Peer().ID
	if m.peers[id] == s {
		delete(m.peers, id)
	}
}

// ClosePeer closes the canonical session for a peer and clears it.
func (m *Manager) ClosePeer(id PeerID) {
	m.mu.Lock()
	s := m.peers[id]
	delete(m.peers, id)
	m.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// CloseAll closes every canonical session.
func (m *Manager) CloseAll() {
	for _, id := range m.ListPeers() {
		m.ClosePeer(id)
	}
}

// ListPeers returns all known peer IDs.
func (m *Manager) ListPeers() []PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RebindPeer moves a canonical session from a temporary id to the verified id.
// If newID already has a canonical session, the policy decides which one
// remains; the loser is closed. Returns true if the moved session is canonical.
func (m *Manager) RebindPeer(oldID, newID PeerID) bool {
	if oldID == newID || newID == "" {
		return false
	}
	m.mu.Lock()
	moving := m.peers[oldID]
	if moving == nil {
		m.mu.Unlock()
		return false
	}
	delete(m.peers, oldID)
	if mp, ok := moving.(MutablePeer); ok {
		pi := moving.Peer()
		pi.ID = newID
		mp.SetPeer(pi)
	}
	m.mu.Unlock()

	accepted, _ := m.AddSession(moving)
	return accepted
}

// Preference order across kinds; higher is better.
func baseRank(k Kind) int {
	switch k {
	case KindMem:
		return 120
	case KindQUIC:
		return 100
	case KindWinPipe:
		return 95
	case KindTCP:
		return 90
	case KindWS:
		return 70
	case KindUDP:
		return 50
	default:
		return 0
	}
}

// dialer returns the id of the peer that dialed s.
func (m *Manager) dialer(s Session) PeerID {
	if s.Peer().Outbound {
		return m.local
	}
	return s.Peer().ID
}

// better decides whether a should replace b as canonical. Every criterion is
// visible identically from both ends of the sessions.
func (m *Manager) better(a, b Session) bool {
	ra, rb := baseRank(a.TransportKind()), baseRank(b.TransportKind())
	if ra != rb {
		return ra > rb
	}
	da, db := m.dialer(a), m.dialer(b)
	if da != db {
		return da < db
	}
	return a.Peer().MatchID < b.Peer().MatchID
}

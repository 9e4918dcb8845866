// Package peers keeps metadata and traffic counters for remote peers.
package peers

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"homerun/pkg/memkv"
	"homerun/pkg/transport"
)

// DefaultTTL is how long a peer entry lives without a Touch.
const DefaultTTL = 10 * time.Minute

const keyPrefix = "peer:"

// Store persists peer metadata in the in-memory KV.
type Store struct {
	kv  *memkv.Store
	ttl time.Duration
	log *zap.Logger
}

// NewStore wraps kv. ttl <= 0 uses DefaultTTL.
func NewStore(kv *memkv.Store, ttl time.Duration, log *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{kv: kv, ttl: ttl, log: log}
}

type PeerMeta struct {
	ID          transport.PeerID `json:"id"`
	UserID      string           `json:"user_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	Transport   string           `json:"transport,omitempty"`
	Addresses   []string         `json:"addresses,omitempty"`
	Outbound    bool             `json:"outbound"`
	MatchID     string           `json:"match_id,omitempty"`
	ConnectedAt int64            `json:"connected_at_unix_ms,omitempty"`
	LastSeen    int64            `json:"last_seen_unix_ms"`
	RTTMicros   uint32           `json:"rtt_us,omitempty"`

	MsgsIn   uint64 `json:"msgs_in"`
	MsgsOut  uint64 `json:"msgs_out"`
	BytesIn  uint64 `json:"bytes_in"`
	BytesOut uint64 `json:"bytes_out"`
}

func keyPeer(id transport.PeerID) string { return keyPrefix + string(id) }

func (s *Store) Upsert(meta PeerMeta) {
	b, err := json.Marshal(meta)
	if err != nil {
		s.log.Warn("peer upsert: marshal", zap.Error(err))
		return
	}
	if !s.kv.Set(keyPeer(meta.ID), b, s.ttl) {
		s.log.Warn("peer upsert refused by store limit", zap.String("peer", meta.ID.Short()))
		return
	}
	s.log.Debug("peer upsert", zap.String("peer", meta.ID.Short()), zap.Strings("addrs", meta.Addresses))
}

func (s *Store) Get(id transport.PeerID) (PeerMeta, bool) {
	b, ok := s.kv.Get(keyPeer(id))
	if !ok {
		return PeerMeta{}, false
	}
	var pm PeerMeta
	if err := json.Unmarshal(b, &pm); err != nil {
		return PeerMeta{}, false
	}
	return pm, true
}

func (s *Store) update(id transport.PeerID, fn func(pm *PeerMeta)) {
	s.kv.Update(keyPeer(id), func(old []byte) []byte {
		var pm PeerMeta
		if old != nil {
			_ = json.Unmarshal(old, &pm)
		}
		pm.ID = id
		fn(&pm)
		b, err := json.Marshal(pm)
		if err != nil {
			return old
		}
		return b
	})
}

// Touch updates last-seen, adds addr if new and refreshes the TTL.
func (s *Store) Touch(id transport.PeerID, addr string, when time.Time) {
	if when.IsZero() {
		when = time.Now()
	}
	s.update(id, func(pm *PeerMeta) {
		pm.LastSeen = when.UnixMilli()
		if addr == "" {
			return
		}
		for _, a := range pm.Addresses {
			if a == addr {
				return
			}
		}
		pm.Addresses = append(pm.Addresses, addr)
	})
	s.kv.Expire(keyPeer(id), s.ttl)
}

// RecordExchange adds to the message and byte counters of a peer.
func (s *Store) RecordExchange(id transport.PeerID, inBytes, outBytes, inMsgs, outMsgs uint64) {
	if inBytes|outBytes|inMsgs|outMsgs == 0 {
		return
	}
	s.update(id, func(pm *PeerMeta) {
		pm.MsgsIn += inMsgs
		pm.MsgsOut += outMsgs
		pm.BytesIn += inBytes
		pm.BytesOut += outBytes
	})
}

// RecordRTT stores the last measured round trip. Non-positive values are ignored.
func (s *Store) RecordRTT(id transport.PeerID, rtt time.Duration) {
	if rtt <= 0 {
		return
	}
	s.update(id, func(pm *PeerMeta) { pm.RTTMicros = uint32(min(rtt/time.Microsecond, math.MaxUint32)) })
}

func (s *Store) Delete(id transport.PeerID) bool {
	ok := s.kv.Delete(keyPeer(id))
	if ok {
		s.log.Debug("peer delete", zap.String("peer", id.Short()))
	}
	return ok
}

// List returns every live peer ordered by id.
func (s *Store) List() []PeerMeta {
	keys := s.kv.Keys(keyPrefix)
	out := make([]PeerMeta, 0, len(keys))
	for _, k := range keys {
		if pm, ok := s.Get(transport.PeerID(strings.TrimPrefix(k, keyPrefix))); ok {
			out = append(out, pm)
		}
	}
	return out
}

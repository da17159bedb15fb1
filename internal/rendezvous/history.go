package rendezvous

import (
	"sync"
	"time"

	"github.com/danmuck/matchctl/internal/session"
	"github.com/eapache/queue"
)

// PeerRecord describes one side of a completed pairing.
type PeerRecord struct {
	SessionID string `json:"session_id"`
	Address   string `json:"address"`
	Remote    string `json:"remote"`
	WaitedMS  int64  `json:"waited_ms"`
	Delivered bool   `json:"delivered"`
}

// PairRecord is one entry in the recent-pairs view.
type PairRecord struct {
	Seq      uint64     `json:"seq"`
	First    PeerRecord `json:"first"`
	Second   PeerRecord `json:"second"`
	PairedAt time.Time  `json:"paired_at"`
}

func peerRecord(s *session.Session, at time.Time, delivered bool) PeerRecord {
	return PeerRecord{
		SessionID: s.ID(),
		Address:   s.Address(),
		Remote:    s.RemoteAddr(),
		WaitedMS:  at.Sub(s.OpenedAt()).Milliseconds(),
		Delivered: delivered,
	}
}

// pairHistory keeps the newest pairings up to a fixed capacity.
type pairHistory struct {
	mu       sync.Mutex
	capacity int
	ring     *queue.Queue
	seq      uint64
}

func newPairHistory(capacity int) *pairHistory {
	return &pairHistory{
		capacity: capacity,
		ring:     queue.New(),
	}
}

func (h *pairHistory) record(rec PairRecord) PairRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	rec.Seq = h.seq
	if h.capacity <= 0 {
		return rec
	}
	h.ring.Add(rec)
	for h.ring.Length() > h.capacity {
		h.ring.Remove()
	}
	return rec
}

// recent returns up to limit records, oldest first.
func (h *pairHistory) recent(limit int) []PairRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.ring.Length()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]PairRecord, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, h.ring.Get(i).(PairRecord))
	}
	return out
}

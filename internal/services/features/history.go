package features

import (
	"time"

	"PerpCast/internal/domain/models"
)

// History is the bounded sliding window of past snapshots the feature engine
// reads. It is owned by the tick loop: Push happens once per tick after that
// tick's Compute, so the engine always sees strictly prior state.
type History struct {
	buf   []*models.MarketSnapshot
	head  int
	count int
}

// NewHistory creates a window holding at most capacity snapshots.
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	return &History{buf: make([]*models.MarketSnapshot, capacity)}
}

// Push appends a snapshot, evicting the oldest when full.
func (h *History) Push(s *models.MarketSnapshot) {
	h.buf[h.head] = s
	h.head = (h.head + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Len returns the number of snapshots currently held.
func (h *History) Len() int { return h.count }

// At returns the snapshot i ticks back: At(0) is the most recent.
func (h *History) At(i int) *models.MarketSnapshot {
	if i < 0 || i >= h.count {
		return nil
	}
	idx := (h.head - 1 - i + 2*len(h.buf)) % len(h.buf)
	return h.buf[idx]
}

// Mids returns mids ordered oldest to newest.
func (h *History) Mids() []float64 {
	out := make([]float64, h.count)
	for i := 0; i < h.count; i++ {
		out[h.count-1-i] = h.At(i).Mid
	}
	return out
}

// LastTime returns the timestamp of the most recent snapshot, or the zero
// time when the window is empty.
func (h *History) LastTime() time.Time {
	if s := h.At(0); s != nil {
		return s.Time
	}
	return time.Time{}
}

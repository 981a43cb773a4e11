// Package predictors holds the three model components behind the Predictor
// interface. Each keeps its own private rolling state, updated only in
// Observe after the tick's scoring pass, so components never read each
// other's state and scoring order within a tick does not matter.
package predictors

import (
	"math"
	"time"

	"PerpCast/internal/domain/models"
)

// Model names as they appear in record columns and ensemble weights.
const (
	NameHCQR = "hcqr"
	NameLVP  = "lvp"
	NameRRF  = "rrf"
)

// horizonTicks converts a horizon to whole ticks at the configured cadence,
// rounding up so a 30s horizon at 10s cadence spans 3 ticks.
func horizonTicks(h models.Horizon, cadence time.Duration) int {
	if cadence <= 0 {
		return 1
	}
	k := int((h.Duration() + cadence - 1) / cadence)
	if k < 1 {
		k = 1
	}
	return k
}

// clampProb keeps probabilities strictly inside (0, 1) so downstream log
// scores stay finite.
func clampProb(p float64) float64 {
	const eps = 0.01
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// retRing is a fixed-capacity ring of one-tick returns shared by components
// that condition on recent return history.
type retRing struct {
	buf   []float64
	head  int
	count int
}

func newRetRing(capacity int) *retRing {
	if capacity < 2 {
		capacity = 2
	}
	return &retRing{buf: make([]float64, capacity)}
}

func (r *retRing) push(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

func (r *retRing) len() int { return r.count }

// ordered returns the held returns oldest to newest.
func (r *retRing) ordered() []float64 {
	out := make([]float64, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head - r.count + i + 2*len(r.buf)) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}

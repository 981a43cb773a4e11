package usecase

import (
	"sort"
	"sync"
	"time"

	"PerpCast/internal/domain/models"
	domrepo "PerpCast/internal/domain/repository"
	applogger "PerpCast/pkg/logger"
)

type pricePoint struct {
	ts  time.Time
	mid float64
}

// Resolver backfills realized returns onto pending prediction rows.
//
// Snapshot selection: the realized return for horizon H is computed from the
// row's prediction-time mid to the mid of the earliest observed snapshot at
// or after prediction time + H, never interpolated or extrapolated. Once a
// horizon is resolved it is never recomputed, even if a later snapshot would
// suggest a different value; re-running resolution over the same inputs is
// deterministic.
//
// When no snapshot arrives at or after the target within the grace window,
// the horizon is marked permanently unresolved rather than waiting forever.
type Resolver struct {
	mu      sync.Mutex
	pending []*models.PredictionRow
	prices  []pricePoint

	horizons []models.Horizon
	grace    time.Duration
	retain   time.Duration

	metrics domrepo.Metrics
	logger  *applogger.Logger
}

// NewResolver creates a resolver for the given horizon set. grace bounds how
// long a horizon may wait for its target snapshot.
func NewResolver(horizons []models.Horizon, grace time.Duration, metrics domrepo.Metrics, logger *applogger.Logger) *Resolver {
	maxH := time.Duration(0)
	for _, h := range horizons {
		if h.Duration() > maxH {
			maxH = h.Duration()
		}
	}
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &Resolver{
		horizons: horizons,
		grace:    grace,
		retain:   maxH + grace + time.Minute,
		metrics:  metrics,
		logger:   logger,
	}
}

// ObservePrice extends the price index. Called once per scheduler pass, also
// on ticks whose prediction was skipped: a skipped prediction must not starve
// resolution of earlier rows.
func (r *Resolver) ObservePrice(ts time.Time, mid float64) {
	if mid <= 0 || ts.IsZero() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// Ignore out-of-order points; the index must stay sorted.
	if n := len(r.prices); n > 0 && !r.prices[n-1].ts.Before(ts) {
		return
	}
	r.prices = append(r.prices, pricePoint{ts: ts, mid: mid})
	cutoff := ts.Add(-r.retain)
	trim := 0
	for trim < len(r.prices) && r.prices[trim].ts.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		r.prices = append(r.prices[:0], r.prices[trim:]...)
	}
}

// Add registers a freshly predicted row as pending.
func (r *Resolver) Add(row *models.PredictionRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, row)
	r.metrics.RecordPendingRows(len(r.pending))
}

// Resolve walks the pending set at wall-clock time now and returns the rows
// that became fully terminal, in prediction order.
func (r *Resolver) Resolve(now time.Time) []*models.PredictionRow {
	r.mu.Lock()
	defer r.mu.Unlock()

	var done []*models.PredictionRow
	remaining := r.pending[:0]
	for _, row := range r.pending {
		r.resolveRow(row, now)
		if row.Terminal() {
			done = append(done, row)
		} else {
			remaining = append(remaining, row)
		}
	}
	// Release references the compaction left behind.
	for i := len(remaining); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = remaining
	r.metrics.RecordPendingRows(len(r.pending))
	return done
}

func (r *Resolver) resolveRow(row *models.PredictionRow, now time.Time) {
	for _, h := range r.horizons {
		o, ok := row.Outcomes[h]
		if !ok || o.Status != models.OutcomePending {
			continue
		}
		target := row.Time.Add(h.Duration())
		if mid, found := r.priceAtOrAfter(target); found {
			o.Status = models.OutcomeResolved
			o.Return = (mid - row.Mid) / row.Mid
			o.Up = o.Return > 0
			o.ResolvedAt = now
			r.metrics.RecordResolution(h.Label(), "resolved")
			continue
		}
		if now.Sub(target) > r.grace {
			o.Status = models.OutcomeUnresolvable
			o.ResolvedAt = now
			r.metrics.RecordResolution(h.Label(), "unresolvable")
			r.logger.Warn("resolution gap: horizon abandoned",
				applogger.String("horizon", h.Label()),
				applogger.String("predicted_at", row.Time.Format(time.RFC3339)),
				applogger.Error(models.ErrResolutionGap))
		}
	}
}

// priceAtOrAfter returns the mid of the earliest indexed snapshot at or
// after target.
func (r *Resolver) priceAtOrAfter(target time.Time) (float64, bool) {
	i := sort.Search(len(r.prices), func(i int) bool {
		return !r.prices[i].ts.Before(target)
	})
	if i == len(r.prices) {
		return 0, false
	}
	return r.prices[i].mid, true
}

// PendingCount returns the number of rows awaiting at least one horizon.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// DrainPending removes and returns all still-pending rows. Used at shutdown:
// rows leave the process as pending and are never retroactively completed.
func (r *Resolver) DrainPending() []*models.PredictionRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.pending
	r.pending = nil
	r.metrics.RecordPendingRows(0)
	return out
}

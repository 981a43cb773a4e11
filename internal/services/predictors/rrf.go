package predictors

import (
	"fmt"
	"math"
	"time"

	"PerpCast/internal/domain/models"
	domsvc "PerpCast/internal/domain/service"
)

// RRF, regime-response frequency, buckets each tick into one of nine
// regimes by order-flow pressure and momentum, counts how often the next
// tick went up within each regime, and scores a new tick with the
// Laplace-smoothed up-frequency of its regime, decayed toward 0.5 as the
// horizon grows. A frequency table, so it adapts to whatever conditional
// structure the market actually shows.
type RRF struct {
	horizons []models.Horizon
	cadence  time.Duration

	ofiThreshold float64
	momThreshold float64
	minObs       int

	up    [9]int
	total [9]int

	lastRegime int
	hasLast    bool
}

// RRFOption configures an RRF component.
type RRFOption func(*RRF)

// WithRRFThresholds sets the regime bucketing thresholds for OFI and momentum.
func WithRRFThresholds(ofi, mom float64) RRFOption {
	return func(m *RRF) {
		if ofi > 0 {
			m.ofiThreshold = ofi
		}
		if mom > 0 {
			m.momThreshold = mom
		}
	}
}

// WithRRFMinObs sets how many observations a regime needs before it scores.
func WithRRFMinObs(n int) RRFOption {
	return func(m *RRF) {
		if n > 0 {
			m.minObs = n
		}
	}
}

// NewRRF builds the component for the given horizon set and tick cadence.
func NewRRF(horizons []models.Horizon, cadence time.Duration, opts ...RRFOption) *RRF {
	m := &RRF{
		horizons:     horizons,
		cadence:      cadence,
		ofiThreshold: 5,
		momThreshold: 0.5,
		minObs:       10,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *RRF) Name() string { return NameRRF }

// Score reads the up-frequency of the tick's regime.
func (m *RRF) Score(fv models.FeatureVector) (models.ModelOutput, error) {
	out := models.NewModelOutput(m.Name(), m.horizons)
	regime := m.regimeOf(fv)
	n := m.total[regime]
	if n < m.minObs {
		return out, fmt.Errorf("rrf: %w: regime %d has %d of %d observations",
			models.ErrModelUnavailable, regime, n, m.minObs)
	}

	// Laplace smoothing keeps the estimate off the 0/1 boundary.
	p1 := (float64(m.up[regime]) + 1) / (float64(n) + 2)
	for _, h := range m.horizons {
		k := float64(horizonTicks(h, m.cadence))
		p := clampProb(0.5 + (p1-0.5)/math.Sqrt(k))
		out.Estimates[h] = models.Estimate{Prob: p, Available: true}
	}
	return out, nil
}

// Observe attributes the tick's return to the previous tick's regime, then
// records the current regime for the next attribution.
func (m *RRF) Observe(fv models.FeatureVector) {
	r := fv.Get(models.FeatRet1)
	if m.hasLast && r != 0 {
		m.total[m.lastRegime]++
		if r > 0 {
			m.up[m.lastRegime]++
		}
	}
	m.lastRegime = m.regimeOf(fv)
	m.hasLast = true
}

// regimeOf maps (ofi bucket, momentum bucket) onto 0..8.
func (m *RRF) regimeOf(fv models.FeatureVector) int {
	return 3*bucket(fv.Get(models.FeatOFIW), m.ofiThreshold) +
		bucket(fv.Get(models.FeatMomZ), m.momThreshold)
}

func bucket(v, threshold float64) int {
	switch {
	case v < -threshold:
		return 0
	case v > threshold:
		return 2
	default:
		return 1
	}
}

var _ domsvc.Predictor = (*RRF)(nil)

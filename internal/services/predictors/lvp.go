package predictors

import (
	"fmt"
	"math"
	"time"

	"PerpCast/internal/domain/models"
	domsvc "PerpCast/internal/domain/service"
)

// LVP, local volatility-weighted persistence, maintains EWMA estimates
// of drift and volatility over one-tick returns and maps the vol-scaled
// drift through a logistic onto an up-probability, widening with the square
// root of the horizon. Cheap, smooth, and strong when moves persist.
type LVP struct {
	horizons []models.Horizon
	cadence  time.Duration

	alpha  float64 // EWMA smoothing for drift and variance
	gain   float64 // logistic steepness
	warmup int

	drift    float64
	variance float64
	count    int
}

// LVPOption configures an LVP component.
type LVPOption func(*LVP)

// WithLVPAlpha sets the EWMA smoothing factor.
func WithLVPAlpha(a float64) LVPOption {
	return func(m *LVP) {
		if a > 0 && a < 1 {
			m.alpha = a
		}
	}
}

// WithLVPGain sets the logistic steepness.
func WithLVPGain(g float64) LVPOption {
	return func(m *LVP) {
		if g > 0 {
			m.gain = g
		}
	}
}

// WithLVPWarmup sets how many observations must arrive before scoring.
func WithLVPWarmup(n int) LVPOption {
	return func(m *LVP) {
		if n > 1 {
			m.warmup = n
		}
	}
}

// NewLVP builds the component for the given horizon set and tick cadence.
func NewLVP(horizons []models.Horizon, cadence time.Duration, opts ...LVPOption) *LVP {
	m := &LVP{
		horizons: horizons,
		cadence:  cadence,
		alpha:    0.1,
		gain:     1.5,
		warmup:   20,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *LVP) Name() string { return NameLVP }

// Score maps the current vol-scaled drift onto per-horizon probabilities.
func (m *LVP) Score(fv models.FeatureVector) (models.ModelOutput, error) {
	out := models.NewModelOutput(m.Name(), m.horizons)
	if m.count < m.warmup {
		return out, fmt.Errorf("lvp: %w: %d of %d observations",
			models.ErrModelUnavailable, m.count, m.warmup)
	}
	vol := math.Sqrt(m.variance)
	if vol <= 0 || math.IsNaN(vol) {
		return out, fmt.Errorf("lvp: %w: degenerate volatility estimate",
			models.ErrModelUnavailable)
	}

	signal := m.drift / vol
	for _, h := range m.horizons {
		k := float64(horizonTicks(h, m.cadence))
		p := clampProb(logistic(m.gain * signal * math.Sqrt(k)))
		out.Estimates[h] = models.Estimate{Prob: p, Available: true}
	}
	return out, nil
}

// Observe folds the tick's return into the EWMA drift and variance.
func (m *LVP) Observe(fv models.FeatureVector) {
	r := fv.Get(models.FeatRet1)
	m.drift = m.alpha*r + (1-m.alpha)*m.drift
	m.variance = m.alpha*r*r + (1-m.alpha)*m.variance
	m.count++
}

var _ domsvc.Predictor = (*LVP)(nil)

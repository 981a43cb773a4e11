package predictors

import (
	"fmt"
	"math"
	"time"

	"PerpCast/internal/domain/models"
	domsvc "PerpCast/internal/domain/service"
)

// HCQR, history-conditioned quantile response. For each horizon it forms
// the empirical distribution of horizon-length return sums over a rolling
// window of one-tick returns and reads the up-probability off the empirical
// CDF at zero, then tilts it by the current momentum z-score. Quantile-based,
// so it makes no shape assumption about the return distribution.
type HCQR struct {
	horizons []models.Horizon
	cadence  time.Duration

	window     *retRing
	minSamples int
	tilt       float64
}

// HCQROption configures an HCQR component.
type HCQROption func(*HCQR)

// WithHCQRWindow sets the rolling return window length in ticks.
func WithHCQRWindow(n int) HCQROption {
	return func(m *HCQR) {
		if n > 2 {
			m.window = newRetRing(n)
		}
	}
}

// WithHCQRMinSamples sets how many returns must accumulate before scoring.
func WithHCQRMinSamples(n int) HCQROption {
	return func(m *HCQR) {
		if n > 1 {
			m.minSamples = n
		}
	}
}

// WithHCQRTilt sets the momentum tilt weight.
func WithHCQRTilt(w float64) HCQROption {
	return func(m *HCQR) {
		if w >= 0 {
			m.tilt = w
		}
	}
}

// NewHCQR builds the component for the given horizon set and tick cadence.
func NewHCQR(horizons []models.Horizon, cadence time.Duration, opts ...HCQROption) *HCQR {
	m := &HCQR{
		horizons:   horizons,
		cadence:    cadence,
		window:     newRetRing(240),
		minSamples: 30,
		tilt:       0.08,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *HCQR) Name() string { return NameHCQR }

// Score estimates per-horizon up-probabilities from the empirical CDF.
func (m *HCQR) Score(fv models.FeatureVector) (models.ModelOutput, error) {
	out := models.NewModelOutput(m.Name(), m.horizons)
	if m.window.len() < m.minSamples {
		return out, fmt.Errorf("hcqr: %w: %d of %d samples",
			models.ErrModelUnavailable, m.window.len(), m.minSamples)
	}

	rets := m.window.ordered()
	momZ := fv.Get(models.FeatMomZ)

	available := 0
	for _, h := range m.horizons {
		k := horizonTicks(h, m.cadence)
		base, ok := upShareOfBlockSums(rets, k)
		if !ok {
			continue
		}
		p := clampProb(base + m.tilt*math.Tanh(momZ))
		out.Estimates[h] = models.Estimate{Prob: p, Available: true}
		available++
	}
	if available == 0 {
		return out, fmt.Errorf("hcqr: %w: window shorter than every horizon",
			models.ErrModelUnavailable)
	}
	return out, nil
}

// Observe pushes the tick's one-tick return into the rolling window.
func (m *HCQR) Observe(fv models.FeatureVector) {
	m.window.push(fv.Get(models.FeatRet1))
}

// upShareOfBlockSums slides a k-length block over rets and returns the share
// of block sums that are positive. Needs two full blocks to say anything.
func upShareOfBlockSums(rets []float64, k int) (float64, bool) {
	if k < 1 || len(rets) < 2*k {
		return 0, false
	}
	sum := 0.0
	for _, r := range rets[:k] {
		sum += r
	}
	blocks, up := 1, 0
	if sum > 0 {
		up = 1
	}
	for i := k; i < len(rets); i++ {
		sum += rets[i] - rets[i-k]
		blocks++
		if sum > 0 {
			up++
		}
	}
	return float64(up) / float64(blocks), true
}

var _ domsvc.Predictor = (*HCQR)(nil)

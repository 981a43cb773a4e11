package usecase

import (
	"PerpCast/internal/domain/models"
)

// Ensemble blends the model components' per-horizon estimates.
//
// Combination rule, fixed and applied independently per horizon: a weighted
// arithmetic mean over the components that produced an estimate, with the
// weight mass renormalized over those components. A missing component is
// excluded, never counted as zero. When every component is unavailable for a
// horizon the blend itself is unavailable; it is never defaulted to 0.5,
// which would silently pollute calibration statistics downstream.
//
// The calibrated output shrinks the blend toward 0.5 by a fixed factor
// before clamping, compensating for the raw blend's overconfidence.
type Ensemble struct {
	weights map[string]float64
	shrink  float64
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithWeights sets per-model blend weights. Models absent from the map get
// weight 1; an explicit weight of 0 excludes that model from the blend and
// from the renormalization mass.
func WithWeights(w map[string]float64) EnsembleOption {
	return func(e *Ensemble) {
		if len(w) > 0 {
			e.weights = w
		}
	}
}

// WithCalibrationShrink sets the shrink-toward-0.5 factor in (0, 1].
func WithCalibrationShrink(s float64) EnsembleOption {
	return func(e *Ensemble) {
		if s > 0 && s <= 1 {
			e.shrink = s
		}
	}
}

// NewEnsemble builds a combiner with equal weights and a 0.85 shrink.
func NewEnsemble(opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{
		weights: map[string]float64{},
		shrink:  0.85,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Ensemble) weightOf(model string) float64 {
	if w, ok := e.weights[model]; ok && w >= 0 {
		return w
	}
	return 1
}

// Combine blends the outputs for every horizon and returns the raw and
// calibrated estimates.
func (e *Ensemble) Combine(outputs []models.ModelOutput, horizons []models.Horizon) (fused, fusedCal map[models.Horizon]models.Estimate) {
	fused = make(map[models.Horizon]models.Estimate, len(horizons))
	fusedCal = make(map[models.Horizon]models.Estimate, len(horizons))

	for _, h := range horizons {
		var weighted, mass float64
		for _, out := range outputs {
			est, ok := out.Estimates[h]
			if !ok || !est.Valid() {
				continue
			}
			w := e.weightOf(out.Model)
			weighted += w * est.Prob
			mass += w
		}
		if mass <= 0 {
			fused[h] = models.Unavailable
			fusedCal[h] = models.Unavailable
			continue
		}
		p := weighted / mass
		fused[h] = models.Estimate{Prob: p, Available: true}
		fusedCal[h] = models.Estimate{Prob: e.calibrate(p), Available: true}
	}
	return fused, fusedCal
}

func (e *Ensemble) calibrate(p float64) float64 {
	p = 0.5 + e.shrink*(p-0.5)
	const eps = 0.01
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

package models

import (
	"fmt"
	"time"
)

// Horizon is a fixed future offset a directional probability is forecast for.
type Horizon time.Duration

const (
	Horizon10s Horizon = Horizon(10 * time.Second)
	Horizon30s Horizon = Horizon(30 * time.Second)
	Horizon60s Horizon = Horizon(60 * time.Second)
)

// DefaultHorizons is the forecast horizon set used when config leaves it unset.
var DefaultHorizons = []Horizon{Horizon10s, Horizon30s, Horizon60s}

func (h Horizon) Duration() time.Duration { return time.Duration(h) }

// Label renders a horizon as a compact column suffix, e.g. "30s".
func (h Horizon) Label() string {
	d := time.Duration(h)
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return d.String()
}

// Estimate is a directional probability for one horizon. Available is false
// when the producing component could not form an estimate; in that case Prob
// carries no meaning and must never be read as a real probability.
type Estimate struct {
	Prob      float64
	Available bool
}

// Unavailable is the explicit marker estimate.
var Unavailable = Estimate{}

// Valid reports whether the estimate is available and a well-formed probability.
func (e Estimate) Valid() bool {
	return e.Available && e.Prob >= 0 && e.Prob <= 1
}

// ModelOutput is one component's per-horizon estimates for a single tick.
type ModelOutput struct {
	Model     string
	Estimates map[Horizon]Estimate
}

// NewModelOutput creates an output with every horizon marked unavailable.
func NewModelOutput(model string, horizons []Horizon) ModelOutput {
	est := make(map[Horizon]Estimate, len(horizons))
	for _, h := range horizons {
		est[h] = Unavailable
	}
	return ModelOutput{Model: model, Estimates: est}
}

// OutcomeStatus tracks the lifecycle of a single horizon's realized return.
type OutcomeStatus int

const (
	OutcomePending OutcomeStatus = iota
	OutcomeResolved
	OutcomeUnresolvable // no snapshot arrived within the grace window
)

// Outcome holds the realized return for one horizon once resolved.
type Outcome struct {
	Status     OutcomeStatus
	Return     float64
	Up         bool
	ResolvedAt time.Time
}

// PredictionRow is one tick's full record: inputs, per-model outputs, blended
// probabilities, and (eventually) realized outcomes. A horizon's outcome is
// written exactly once; a row becomes immutable when every horizon is
// terminal or the process shuts down.
type PredictionRow struct {
	Time    time.Time
	Mid     float64
	Spread  float64
	Feature FeatureVector

	Models   []ModelOutput
	Fused    map[Horizon]Estimate
	FusedCal map[Horizon]Estimate

	Outcomes map[Horizon]*Outcome
}

// NewPredictionRow builds a row with pending outcomes for every horizon.
func NewPredictionRow(ts time.Time, snap *MarketSnapshot, fv FeatureVector, horizons []Horizon) *PredictionRow {
	outcomes := make(map[Horizon]*Outcome, len(horizons))
	for _, h := range horizons {
		outcomes[h] = &Outcome{Status: OutcomePending}
	}
	return &PredictionRow{
		Time:     ts,
		Mid:      snap.Mid,
		Spread:   snap.Spread,
		Feature:  fv,
		Fused:    make(map[Horizon]Estimate, len(horizons)),
		FusedCal: make(map[Horizon]Estimate, len(horizons)),
		Outcomes: outcomes,
	}
}

// Terminal reports whether every horizon has left the pending state.
func (r *PredictionRow) Terminal() bool {
	for _, o := range r.Outcomes {
		if o.Status == OutcomePending {
			return false
		}
	}
	return true
}

// ModelEstimate returns the named model's estimate for a horizon, or the
// unavailable marker when the model produced nothing for it.
func (r *PredictionRow) ModelEstimate(model string, h Horizon) Estimate {
	for _, m := range r.Models {
		if m.Model == model {
			if e, ok := m.Estimates[h]; ok {
				return e
			}
			return Unavailable
		}
	}
	return Unavailable
}

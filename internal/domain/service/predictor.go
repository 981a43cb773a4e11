package service

import "PerpCast/internal/domain/models"

// Predictor is one model component. The scheduler fans a tick's feature
// vector out to every predictor, so Score must be safe against the other
// components reading the same vector and must not mutate internal state:
// all rolling-state updates happen in Observe, invoked strictly after every
// component has scored. That keeps scoring order-independent within a tick.
type Predictor interface {
	Name() string

	// Score returns per-horizon up-probabilities for the current features.
	// A horizon the component cannot price is marked unavailable in the
	// output; a component that can price nothing returns
	// models.ErrModelUnavailable.
	Score(fv models.FeatureVector) (models.ModelOutput, error)

	// Observe feeds the tick's features into the component's private rolling
	// state. Called once per tick, after Score, never concurrently.
	Observe(fv models.FeatureVector)
}

package models

import "errors"

// Error taxonomy. Everything here is recovered within a tick; only a
// persistent record-store write failure is allowed to stop the engine.
var (
	// ErrStaleFeed: the snapshot source has no fresh market state. The tick
	// is skipped and logged as a gap; no row is written.
	ErrStaleFeed = errors.New("market feed stale or unavailable")

	// ErrInsufficientHistory: the feature engine's history window has not
	// filled yet. The tick is skipped until warmup completes.
	ErrInsufficientHistory = errors.New("insufficient history for features")

	// ErrModelUnavailable: a component failed or timed out on one tick. Its
	// horizons are marked unavailable; the pipeline continues.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrEnsembleUnresolvable: every component was unavailable for a horizon.
	ErrEnsembleUnresolvable = errors.New("no available component for horizon")

	// ErrResolutionGap: no snapshot arrived at or after a resolve target
	// within the grace window; the horizon is marked permanently unresolved.
	ErrResolutionGap = errors.New("no snapshot within resolution grace window")

	// ErrSchemaMismatch: an existing record file carries a different column
	// set. Schema changes require a new file, never implicit column edits.
	ErrSchemaMismatch = errors.New("record file schema mismatch")
)

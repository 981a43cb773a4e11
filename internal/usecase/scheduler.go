package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"PerpCast/internal/domain/models"
	domrepo "PerpCast/internal/domain/repository"
	domsvc "PerpCast/internal/domain/service"
	"PerpCast/internal/services/features"
	"PerpCast/pkg/cache"
	applogger "PerpCast/pkg/logger"
)

// LatestSignalKey is the cache key the HTTP API reads the newest blend from.
const LatestSignalKey = "signal:latest"

// LatestSignal is the cached summary of the most recent prediction.
type LatestSignal struct {
	Time     time.Time           `json:"time"`
	Mid      float64             `json:"mid"`
	Spread   float64             `json:"spread"`
	Fused    map[string]*float64 `json:"p_fused"`     // per horizon label, null when unavailable
	FusedCal map[string]*float64 `json:"p_fused_cal"` // calibrated blend
}

// SchedulerParams carries the scheduler's collaborators and tuning.
type SchedulerParams struct {
	Source     domrepo.SnapshotSource
	Engine     *features.Engine
	History    *features.History
	Predictors []domsvc.Predictor
	Ensemble   *Ensemble
	Resolver   *Resolver
	Record     domrepo.RecordSink   // durable record; write failure is fatal
	Mirrors    []domrepo.RecordSink // analytical mirrors; failures are logged
	Publisher  domrepo.SignalPublisher
	Cache      cache.Service
	Metrics    domrepo.Metrics
	Logger     *applogger.Logger

	Horizons     []models.Horizon
	Cadence      time.Duration
	ModelTimeout time.Duration
	WriteRetries int
	WriteBackoff time.Duration
}

// TickScheduler drives the prediction pipeline on a fixed cadence:
// snapshot, features, model fan-out, blend, pending row, resolution.
//
// Overrun policy: when a tick's processing runs past its slot, the next
// scheduled tick is skipped and logged rather than queued, so load can never
// build an unbounded backlog. On shutdown the in-flight tick completes, the
// recorder is flushed with still-pending rows persisted as pending, and no
// attempt is made to resolve horizons that have not elapsed.
type TickScheduler struct {
	p SchedulerParams

	ticks   atomic.Int64
	gaps    atomic.Int64
	skips   atomic.Int64
	lastRun atomic.Int64 // unix nanos of the last completed tick
}

// NewTickScheduler validates params and builds the scheduler.
func NewTickScheduler(p SchedulerParams) (*TickScheduler, error) {
	switch {
	case p.Source == nil, p.Engine == nil, p.History == nil, p.Ensemble == nil,
		p.Resolver == nil, p.Record == nil, p.Metrics == nil, p.Logger == nil:
		return nil, fmt.Errorf("scheduler: missing dependency")
	case len(p.Predictors) == 0:
		return nil, fmt.Errorf("scheduler: no predictors configured")
	case len(p.Horizons) == 0:
		return nil, fmt.Errorf("scheduler: no horizons configured")
	case p.Cadence <= 0:
		return nil, fmt.Errorf("scheduler: cadence must be positive")
	}
	if p.ModelTimeout <= 0 || p.ModelTimeout >= p.Cadence {
		p.ModelTimeout = p.Cadence / 2
	}
	if p.WriteRetries <= 0 {
		p.WriteRetries = 5
	}
	if p.WriteBackoff <= 0 {
		p.WriteBackoff = 200 * time.Millisecond
	}
	return &TickScheduler{p: p}, nil
}

// Run blocks until ctx is cancelled or the durable record becomes
// unwritable. Cancellation flushes pending rows before returning.
func (s *TickScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.p.Cadence)
	defer ticker.Stop()

	s.p.Logger.Info("scheduler started",
		applogger.Duration("cadence", s.p.Cadence),
		applogger.Int("predictors", len(s.p.Predictors)),
		applogger.Int("horizons", len(s.p.Horizons)))

	for {
		select {
		case <-ctx.Done():
			return s.flush(context.Background())
		case tickAt := <-ticker.C:
			if lag := time.Since(tickAt); lag > s.p.Cadence/2 {
				s.skips.Add(1)
				s.p.Metrics.RecordTick("skipped")
				s.p.Logger.Warn("tick skipped: previous tick overran",
					applogger.Duration("lag", lag))
				continue
			}
			if err := s.runTick(ctx); err != nil {
				s.p.Logger.Error("durable record unwritable, halting predictions",
					applogger.Error(err))
				flushErr := s.flush(context.Background())
				if flushErr != nil {
					s.p.Logger.Error("flush on halt failed", applogger.Error(flushErr))
				}
				return err
			}
		}
	}
}

func (s *TickScheduler) runTick(ctx context.Context) error {
	now := time.Now()

	snap, err := s.p.Source.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, models.ErrStaleFeed) {
			s.gaps.Add(1)
			s.p.Metrics.RecordTick("gap")
			s.p.Logger.Warn("tick gap: no fresh market state", applogger.Error(err))
		} else {
			s.p.Metrics.RecordTick("source_error")
			s.p.Logger.Error("snapshot source failed", applogger.Error(err))
		}
		// No new price, but grace windows may still expire.
		return s.persist(ctx, s.p.Resolver.Resolve(now))
	}

	s.p.Metrics.RecordLastMid(snap.Mid)
	s.p.Resolver.ObservePrice(snap.Time, snap.Mid)

	fv, err := s.p.Engine.Compute(snap, s.p.History)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientHistory) {
			s.p.Metrics.RecordTick("warmup")
			s.p.Logger.Debug("tick skipped during warmup", applogger.Error(err))
		} else {
			s.p.Metrics.RecordTick("feature_error")
			s.p.Logger.Error("feature computation failed", applogger.Error(err))
		}
		s.p.History.Push(snap)
		return s.persist(ctx, s.p.Resolver.Resolve(now))
	}

	outputs := s.scoreAll(fv)
	fused, fusedCal := s.p.Ensemble.Combine(outputs, s.p.Horizons)
	for _, h := range s.p.Horizons {
		if !fused[h].Available {
			s.p.Logger.Warn("blend unavailable for horizon",
				applogger.String("horizon", h.Label()),
				applogger.Error(models.ErrEnsembleUnresolvable))
		}
	}

	row := models.NewPredictionRow(snap.Time, snap, fv, s.p.Horizons)
	row.Models = outputs
	row.Fused = fused
	row.FusedCal = fusedCal
	s.p.Resolver.Add(row)

	s.publish(ctx, row)
	s.cacheLatest(ctx, row)

	// Rolling-state updates happen strictly after all scoring.
	for _, p := range s.p.Predictors {
		p.Observe(fv)
	}
	s.p.History.Push(snap)

	if err := s.persist(ctx, s.p.Resolver.Resolve(time.Now())); err != nil {
		return err
	}

	s.ticks.Add(1)
	s.lastRun.Store(time.Now().UnixNano())
	s.p.Metrics.RecordTick("ok")
	return nil
}

type scoreResult struct {
	out models.ModelOutput
	err error
}

// scoreAll fans the feature vector out to every predictor in parallel and
// waits for their joint completion, bounded by the per-model timeout. A slow
// or panicking component yields an all-unavailable output for this tick; it
// never stalls the loop.
func (s *TickScheduler) scoreAll(fv models.FeatureVector) []models.ModelOutput {
	outputs := make([]models.ModelOutput, len(s.p.Predictors))
	var wg sync.WaitGroup
	for i, p := range s.p.Predictors {
		wg.Add(1)
		go func(i int, p domsvc.Predictor) {
			defer wg.Done()
			outputs[i] = s.scoreOne(p, fv)
		}(i, p)
	}
	wg.Wait()
	return outputs
}

func (s *TickScheduler) scoreOne(p domsvc.Predictor, fv models.FeatureVector) models.ModelOutput {
	start := time.Now()
	ch := make(chan scoreResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- scoreResult{
					out: models.NewModelOutput(p.Name(), s.p.Horizons),
					err: fmt.Errorf("%w: panic: %v", models.ErrModelUnavailable, rec),
				}
			}
		}()
		out, err := p.Score(fv)
		ch <- scoreResult{out: out, err: err}
	}()

	timer := time.NewTimer(s.p.ModelTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		s.p.Metrics.RecordModelLatency(p.Name(), time.Since(start).Seconds())
		if res.err != nil {
			s.p.Metrics.RecordModelError(p.Name())
			s.p.Logger.Debug("model unavailable this tick",
				applogger.String("model", p.Name()), applogger.Error(res.err))
		}
		return res.out
	case <-timer.C:
		s.p.Metrics.RecordModelError(p.Name())
		s.p.Logger.Warn("model timed out, marked unavailable",
			applogger.String("model", p.Name()),
			applogger.Duration("timeout", s.p.ModelTimeout))
		return models.NewModelOutput(p.Name(), s.p.Horizons)
	}
}

// persist appends terminal rows: the durable record first (with retries;
// persistent failure is fatal since unrecorded predictions are unauditable),
// then the analytical mirrors best-effort.
func (s *TickScheduler) persist(ctx context.Context, rows []*models.PredictionRow) error {
	for _, row := range rows {
		if err := s.appendDurable(ctx, row); err != nil {
			return err
		}
		for _, m := range s.p.Mirrors {
			if err := m.Append(ctx, row); err != nil {
				s.p.Logger.Warn("mirror sink append failed", applogger.Error(err))
			}
		}
	}
	return nil
}

func (s *TickScheduler) appendDurable(ctx context.Context, row *models.PredictionRow) error {
	var err error
	backoff := s.p.WriteBackoff
	for attempt := 1; attempt <= s.p.WriteRetries; attempt++ {
		if err = s.p.Record.Append(ctx, row); err == nil {
			s.p.Metrics.RecordRowPersisted("record")
			return nil
		}
		s.p.Logger.Warn("record append failed, retrying",
			applogger.Int("attempt", attempt), applogger.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("record append: %w", err)
		}
		backoff *= 2
	}
	return fmt.Errorf("record append exhausted %d retries: %w", s.p.WriteRetries, err)
}

func (s *TickScheduler) publish(ctx context.Context, row *models.PredictionRow) {
	if s.p.Publisher == nil {
		return
	}
	if err := s.p.Publisher.Publish(ctx, row); err != nil {
		s.p.Logger.Warn("signal publish failed", applogger.Error(err))
	}
}

func (s *TickScheduler) cacheLatest(ctx context.Context, row *models.PredictionRow) {
	if s.p.Cache == nil {
		return
	}
	sig := LatestSignal{
		Time:     row.Time,
		Mid:      row.Mid,
		Spread:   row.Spread,
		Fused:    estimateMap(row.Fused),
		FusedCal: estimateMap(row.FusedCal),
	}
	if err := s.p.Cache.Set(ctx, LatestSignalKey, sig, 3*s.p.Cadence); err != nil {
		s.p.Logger.Debug("latest signal cache set failed", applogger.Error(err))
	}
}

func estimateMap(in map[models.Horizon]models.Estimate) map[string]*float64 {
	out := make(map[string]*float64, len(in))
	for h, e := range in {
		if e.Available {
			p := e.Prob
			out[h.Label()] = &p
		} else {
			out[h.Label()] = nil
		}
	}
	return out
}

// flush persists every still-pending row as pending. Their unresolved
// horizons stay blank in the record and are never completed after restart.
func (s *TickScheduler) flush(ctx context.Context) error {
	rows := s.p.Resolver.DrainPending()
	if len(rows) > 0 {
		s.p.Logger.Info("flushing pending rows at shutdown",
			applogger.Int("rows", len(rows)))
	}
	return s.persist(ctx, rows)
}

// Stats is a point-in-time operational summary for the status endpoint.
type Stats struct {
	Ticks       int64     `json:"ticks"`
	Gaps        int64     `json:"gaps"`
	Skips       int64     `json:"skips"`
	PendingRows int       `json:"pending_rows"`
	LastTick    time.Time `json:"last_tick"`
	Connected   bool      `json:"connected"`
}

// Stats reports loop counters, pending depth, and feed connectivity.
func (s *TickScheduler) Stats() Stats {
	var last time.Time
	if ns := s.lastRun.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Ticks:       s.ticks.Load(),
		Gaps:        s.gaps.Load(),
		Skips:       s.skips.Load(),
		PendingRows: s.p.Resolver.PendingCount(),
		LastTick:    last,
		Connected:   s.p.Source.IsConnected(),
	}
}

package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PerpCast/internal/domain/models"
	domsvc "PerpCast/internal/domain/service"
	"PerpCast/internal/services/features"
	"PerpCast/pkg/cache"
)

// fakeSource replays a scripted sequence of snapshots.
type fakeSource struct {
	snaps []*models.MarketSnapshot
	errs  []error
	idx   int
	delay time.Duration
}

func (f *fakeSource) Start(context.Context) error { return nil }
func (f *fakeSource) IsConnected() bool           { return true }
func (f *fakeSource) Close() error                { return nil }

func (f *fakeSource) Snapshot(context.Context) (*models.MarketSnapshot, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.idx >= len(f.snaps) {
		return nil, models.ErrStaleFeed
	}
	snap, err := f.snaps[f.idx], f.errs[f.idx]
	f.idx++
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (f *fakeSource) push(snap *models.MarketSnapshot, err error) {
	f.snaps = append(f.snaps, snap)
	f.errs = append(f.errs, err)
}

// stubPredictor returns a fixed probability for every horizon.
type stubPredictor struct {
	name     string
	prob     float64
	horizons []models.Horizon

	scoreCalls   int
	observeCalls int
	failOn       map[int]bool // score call numbers that fail
	sleep        time.Duration
	panicOn      map[int]bool
}

func (p *stubPredictor) Name() string { return p.name }

func (p *stubPredictor) Score(models.FeatureVector) (models.ModelOutput, error) {
	p.scoreCalls++
	if p.sleep > 0 {
		time.Sleep(p.sleep)
	}
	if p.panicOn[p.scoreCalls] {
		panic("stub blew up")
	}
	out := models.NewModelOutput(p.name, p.horizons)
	if p.failOn[p.scoreCalls] {
		return out, fmt.Errorf("%w: scripted failure", models.ErrModelUnavailable)
	}
	for _, h := range p.horizons {
		out.Estimates[h] = models.Estimate{Prob: p.prob, Available: true}
	}
	return out, nil
}

func (p *stubPredictor) Observe(models.FeatureVector) { p.observeCalls++ }

// memSink stores appended rows in memory.
type memSink struct {
	rows    []*models.PredictionRow
	failAll bool
}

func (s *memSink) Append(_ context.Context, row *models.PredictionRow) error {
	if s.failAll {
		return fmt.Errorf("sink unavailable")
	}
	s.rows = append(s.rows, row)
	return nil
}

func (s *memSink) Close() error { return nil }

func tickSnap(ts time.Time, mid float64) *models.MarketSnapshot {
	return &models.MarketSnapshot{Time: ts, Mid: mid, Bid: mid - 0.01, Ask: mid + 0.01, Spread: 0.02}
}

type schedulerFixture struct {
	scheduler *TickScheduler
	source    *fakeSource
	sink      *memSink
	cache     cache.Service
	preds     []*stubPredictor
	horizons  []models.Horizon
}

func newSchedulerFixture(t *testing.T, preds []*stubPredictor) *schedulerFixture {
	t.Helper()
	horizons := []models.Horizon{models.Horizon10s, models.Horizon30s, models.Horizon60s}

	source := &fakeSource{}
	sink := &memSink{}
	mem := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mem.Close() })

	history := features.NewHistory(64)
	t0 := time.Now().Add(-90 * time.Second)
	history.Push(tickSnap(t0.Add(-2*time.Second), 100))
	history.Push(tickSnap(t0.Add(-1*time.Second), 100))

	dp := make([]domsvc.Predictor, len(preds))
	for i, p := range preds {
		p.horizons = horizons
		dp[i] = p
	}

	sched, err := NewTickScheduler(SchedulerParams{
		Source:       source,
		Engine:       features.NewEngine(features.WithMinHistory(2)),
		History:      history,
		Predictors:   dp,
		Ensemble:     NewEnsemble(),
		Resolver:     NewResolver(horizons, time.Hour, newStubMetrics(), testLogger(t)),
		Record:       sink,
		Cache:        mem,
		Metrics:      newStubMetrics(),
		Logger:       testLogger(t),
		Horizons:     horizons,
		Cadence:      time.Second,
		ModelTimeout: 200 * time.Millisecond,
		WriteRetries: 2,
		WriteBackoff: time.Millisecond,
	})
	require.NoError(t, err)

	return &schedulerFixture{
		scheduler: sched,
		source:    source,
		sink:      sink,
		cache:     mem,
		preds:     preds,
		horizons:  horizons,
	}
}

func TestSchedulerPredictsBlendsAndResolves(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.7}
	b := &stubPredictor{name: "b", prob: 0.5}
	fx := newSchedulerFixture(t, []*stubPredictor{a, b})

	t0 := time.Now().Add(-90 * time.Second)
	fx.source.push(tickSnap(t0, 100), nil)
	fx.source.push(tickSnap(t0.Add(30*time.Second), 101), nil)
	fx.source.push(tickSnap(t0.Add(70*time.Second), 99), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.scheduler.runTick(ctx))
	}

	// The first row saw prices 30s and 70s out, so all three horizons
	// resolved and it was persisted; the later rows still wait.
	require.Len(t, fx.sink.rows, 1)
	row := fx.sink.rows[0]
	require.Equal(t, 100.0, row.Mid)
	for _, h := range fx.horizons {
		require.True(t, row.Fused[h].Available)
		require.InDelta(t, 0.6, row.Fused[h].Prob, 1e-12)
	}

	o10 := row.Outcomes[models.Horizon10s]
	require.Equal(t, models.OutcomeResolved, o10.Status)
	require.InDelta(t, 0.01, o10.Return, 1e-12)
	require.True(t, o10.Up)

	o60 := row.Outcomes[models.Horizon60s]
	require.InDelta(t, -0.01, o60.Return, 1e-12)
	require.False(t, o60.Up)

	// Every tick scored then observed both components.
	require.Equal(t, 3, a.scoreCalls)
	require.Equal(t, 3, a.observeCalls)
	require.Equal(t, 3, b.observeCalls)

	// The cache holds the newest tick's blend.
	var sig LatestSignal
	require.NoError(t, fx.cache.Get(ctx, LatestSignalKey, &sig))
	require.Equal(t, 99.0, sig.Mid)
	require.NotNil(t, sig.Fused["10s"])
	require.InDelta(t, 0.6, *sig.Fused["10s"], 1e-12)

	stats := fx.scheduler.Stats()
	require.EqualValues(t, 3, stats.Ticks)
	require.EqualValues(t, 0, stats.Gaps)
	require.Equal(t, 2, stats.PendingRows)
}

func TestSchedulerFailingComponentIsIsolated(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.7}
	b := &stubPredictor{name: "b", prob: 0.5, failOn: map[int]bool{2: true}}
	fx := newSchedulerFixture(t, []*stubPredictor{a, b})

	t0 := time.Now().Add(-90 * time.Second)
	for i := 0; i < 3; i++ {
		fx.source.push(tickSnap(t0.Add(time.Duration(i)*time.Second), 100), nil)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, fx.scheduler.runTick(ctx))
	}

	rows := fx.scheduler.p.Resolver.DrainPending()
	require.Len(t, rows, 3)

	h := models.Horizon10s
	// Tick 2: only "a" contributed, so the blend equals its probability.
	require.InDelta(t, 0.6, rows[0].Fused[h].Prob, 1e-12)
	require.InDelta(t, 0.7, rows[1].Fused[h].Prob, 1e-12)
	require.InDelta(t, 0.6, rows[2].Fused[h].Prob, 1e-12)
	require.False(t, rows[1].ModelEstimate("b", h).Available)
	require.True(t, rows[1].ModelEstimate("a", h).Available)
}

func TestSchedulerPanickingComponentIsIsolated(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.8}
	b := &stubPredictor{name: "b", prob: 0.6, panicOn: map[int]bool{1: true}}
	fx := newSchedulerFixture(t, []*stubPredictor{a, b})

	t0 := time.Now().Add(-90 * time.Second)
	fx.source.push(tickSnap(t0, 100), nil)

	require.NoError(t, fx.scheduler.runTick(context.Background()))

	rows := fx.scheduler.p.Resolver.DrainPending()
	require.Len(t, rows, 1)
	require.InDelta(t, 0.8, rows[0].Fused[models.Horizon10s].Prob, 1e-12)
	require.False(t, rows[0].ModelEstimate("b", models.Horizon10s).Available)
}

func TestSchedulerModelTimeout(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.8}
	slow := &stubPredictor{name: "slow", prob: 0.6, sleep: time.Second}
	fx := newSchedulerFixture(t, []*stubPredictor{a, slow})

	t0 := time.Now().Add(-90 * time.Second)
	fx.source.push(tickSnap(t0, 100), nil)

	require.NoError(t, fx.scheduler.runTick(context.Background()))

	rows := fx.scheduler.p.Resolver.DrainPending()
	require.Len(t, rows, 1)
	// The slow component was dropped for this tick; the blend is "a" alone.
	require.InDelta(t, 0.8, rows[0].Fused[models.Horizon10s].Prob, 1e-12)
}

func TestSchedulerGapTick(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.7}
	fx := newSchedulerFixture(t, []*stubPredictor{a})

	fx.source.push(nil, models.ErrStaleFeed)

	require.NoError(t, fx.scheduler.runTick(context.Background()))
	require.Zero(t, a.scoreCalls)
	require.EqualValues(t, 1, fx.scheduler.Stats().Gaps)
	require.Equal(t, 0, fx.scheduler.Stats().PendingRows)
}

func TestSchedulerSkipsOverrunTicks(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.7}
	fx := newSchedulerFixture(t, []*stubPredictor{a})
	// Every snapshot call takes more than two cadence slots, so each
	// processed tick leaves the next buffered tick stale on arrival.
	fx.scheduler.p.Cadence = 20 * time.Millisecond
	fx.source.delay = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	require.NoError(t, fx.scheduler.Run(ctx))

	stats := fx.scheduler.Stats()
	require.Greater(t, stats.Ticks+stats.Gaps, int64(0))
	require.Greater(t, stats.Skips, int64(0))
}

func TestSchedulerFlushPersistsPendingRows(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.7}
	fx := newSchedulerFixture(t, []*stubPredictor{a})

	t0 := time.Now().Add(-90 * time.Second)
	fx.source.push(tickSnap(t0, 100), nil)

	ctx := context.Background()
	require.NoError(t, fx.scheduler.runTick(ctx))
	require.Empty(t, fx.sink.rows)

	require.NoError(t, fx.scheduler.flush(ctx))
	require.Len(t, fx.sink.rows, 1)
	// The flushed row leaves with its horizons still pending.
	require.Equal(t, models.OutcomePending, fx.sink.rows[0].Outcomes[models.Horizon10s].Status)
}

func TestSchedulerFatalOnUnwritableRecord(t *testing.T) {
	a := &stubPredictor{name: "a", prob: 0.7}
	fx := newSchedulerFixture(t, []*stubPredictor{a})
	fx.sink.failAll = true

	t0 := time.Now().Add(-90 * time.Second)
	fx.source.push(tickSnap(t0, 100), nil)

	ctx := context.Background()
	require.NoError(t, fx.scheduler.runTick(ctx)) // nothing terminal yet
	require.Error(t, fx.scheduler.flush(ctx))
}

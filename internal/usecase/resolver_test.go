package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PerpCast/internal/domain/models"
	applogger "PerpCast/pkg/logger"
)

// stubMetrics satisfies the metrics port without a registry.
type stubMetrics struct {
	resolutions map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{resolutions: map[string]int{}}
}

func (m *stubMetrics) RecordTick(string)                  {}
func (m *stubMetrics) RecordModelError(string)            {}
func (m *stubMetrics) RecordModelLatency(string, float64) {}
func (m *stubMetrics) RecordResolution(horizon, status string) {
	m.resolutions[horizon+":"+status]++
}
func (m *stubMetrics) RecordPendingRows(int)     {}
func (m *stubMetrics) RecordLastMid(float64)     {}
func (m *stubMetrics) RecordRowPersisted(string) {}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	return l
}

func rowAt(ts time.Time, mid float64, horizons []models.Horizon) *models.PredictionRow {
	snap := &models.MarketSnapshot{Time: ts, Mid: mid}
	return models.NewPredictionRow(ts, snap, models.NewFeatureVector(), horizons)
}

func TestResolverUsesEarliestSnapshotAtOrAfterTarget(t *testing.T) {
	horizons := []models.Horizon{models.Horizon10s}
	r := NewResolver(horizons, 30*time.Second, newStubMetrics(), testLogger(t))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := rowAt(base, 100, horizons)
	r.Add(row)
	r.ObservePrice(base, 100)
	r.ObservePrice(base.Add(9*time.Second), 104) // before target, must not be used
	r.ObservePrice(base.Add(11*time.Second), 101)
	r.ObservePrice(base.Add(12*time.Second), 200) // later point, must not be used

	done := r.Resolve(base.Add(12 * time.Second))
	require.Len(t, done, 1)
	o := done[0].Outcomes[models.Horizon10s]
	require.Equal(t, models.OutcomeResolved, o.Status)
	require.InDelta(t, 0.01, o.Return, 1e-12)
	require.True(t, o.Up)
}

func TestResolverExactTargetSnapshot(t *testing.T) {
	horizons := []models.Horizon{models.Horizon10s}
	r := NewResolver(horizons, 30*time.Second, newStubMetrics(), testLogger(t))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := rowAt(base, 100, horizons)
	r.Add(row)
	r.ObservePrice(base.Add(10*time.Second), 99)
	r.ObservePrice(base.Add(15*time.Second), 150)

	done := r.Resolve(base.Add(15 * time.Second))
	require.Len(t, done, 1)
	o := done[0].Outcomes[models.Horizon10s]
	require.InDelta(t, -0.01, o.Return, 1e-12)
	require.False(t, o.Up)
}

func TestResolverResolutionIsFinal(t *testing.T) {
	horizons := []models.Horizon{models.Horizon10s, models.Horizon30s}
	r := NewResolver(horizons, time.Hour, newStubMetrics(), testLogger(t))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := rowAt(base, 100, horizons)
	r.Add(row)
	r.ObservePrice(base.Add(11*time.Second), 102)

	// 10s resolves, 30s still pending: the row stays in the pending set.
	require.Empty(t, r.Resolve(base.Add(12*time.Second)))
	require.Equal(t, 1, r.PendingCount())
	first := *row.Outcomes[models.Horizon10s]
	require.Equal(t, models.OutcomeResolved, first.Status)

	// A later, different price must not rewrite the resolved horizon.
	r.ObservePrice(base.Add(20*time.Second), 90)
	r.ObservePrice(base.Add(31*time.Second), 103)
	done := r.Resolve(base.Add(31 * time.Second))
	require.Len(t, done, 1)
	require.Equal(t, first.Return, row.Outcomes[models.Horizon10s].Return)
	require.InDelta(t, 0.03, row.Outcomes[models.Horizon30s].Return, 1e-12)
	require.Equal(t, 0, r.PendingCount())
}

func TestResolverGraceExpiry(t *testing.T) {
	horizons := []models.Horizon{models.Horizon10s}
	m := newStubMetrics()
	r := NewResolver(horizons, 30*time.Second, m, testLogger(t))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := rowAt(base, 100, horizons)
	r.Add(row)
	r.ObservePrice(base, 100) // nothing at or after the target ever arrives

	// Inside the grace window the horizon keeps waiting.
	require.Empty(t, r.Resolve(base.Add(35*time.Second)))
	require.Equal(t, models.OutcomePending, row.Outcomes[models.Horizon10s].Status)

	done := r.Resolve(base.Add(41 * time.Second))
	require.Len(t, done, 1)
	o := row.Outcomes[models.Horizon10s]
	require.Equal(t, models.OutcomeUnresolvable, o.Status)
	require.Equal(t, 1, m.resolutions["10s:unresolvable"])
}

func TestResolverIgnoresOutOfOrderPrices(t *testing.T) {
	horizons := []models.Horizon{models.Horizon10s}
	r := NewResolver(horizons, time.Hour, newStubMetrics(), testLogger(t))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	row := rowAt(base, 100, horizons)
	r.Add(row)
	r.ObservePrice(base.Add(12*time.Second), 103)
	r.ObservePrice(base.Add(11*time.Second), 999) // out of order, dropped
	r.ObservePrice(base.Add(12*time.Second), 999) // duplicate ts, dropped

	done := r.Resolve(base.Add(13 * time.Second))
	require.Len(t, done, 1)
	require.InDelta(t, 0.03, row.Outcomes[models.Horizon10s].Return, 1e-12)
}

func TestResolverDrainPending(t *testing.T) {
	horizons := []models.Horizon{models.Horizon30s}
	r := NewResolver(horizons, time.Hour, newStubMetrics(), testLogger(t))
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	r.Add(rowAt(base, 100, horizons))
	r.Add(rowAt(base.Add(time.Second), 101, horizons))

	rows := r.DrainPending()
	require.Len(t, rows, 2)
	require.Equal(t, 0, r.PendingCount())
	require.Equal(t, models.OutcomePending, rows[0].Outcomes[models.Horizon30s].Status)
	require.Empty(t, r.DrainPending())
}

package repository

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PerpCast/internal/domain/models"
)

var (
	testModels   = []string{"hcqr", "lvp", "rrf"}
	testHorizons = []models.Horizon{models.Horizon10s, models.Horizon30s, models.Horizon60s}
)

func testRow(ts time.Time, mid float64) *models.PredictionRow {
	snap := &models.MarketSnapshot{Time: ts, Mid: mid, Spread: 0.02}
	fv := models.NewFeatureVector()
	fv.Set(models.FeatMid, mid)
	fv.Set(models.FeatSpread, 0.02)
	row := models.NewPredictionRow(ts, snap, fv, testHorizons)
	for _, m := range testModels {
		out := models.NewModelOutput(m, testHorizons)
		for _, h := range testHorizons {
			out.Estimates[h] = models.Estimate{Prob: 0.6, Available: true}
		}
		row.Models = append(row.Models, out)
	}
	for _, h := range testHorizons {
		row.Fused[h] = models.Estimate{Prob: 0.6, Available: true}
		row.FusedCal[h] = models.Estimate{Prob: 0.585, Available: true}
	}
	return row
}

func resolveAll(row *models.PredictionRow, ret float64) {
	for _, h := range testHorizons {
		o := row.Outcomes[h]
		o.Status = models.OutcomeResolved
		o.Return = ret
		o.Up = ret > 0
		o.ResolvedAt = row.Time.Add(h.Duration())
	}
}

func readRecords(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestRecordColumnsLayout(t *testing.T) {
	cols := RecordColumns(testModels, testHorizons)
	require.Equal(t, "wall_time_iso", cols[0])
	require.Equal(t, models.FeatureNames(), cols[1:1+models.FeatureDim()])
	require.Contains(t, cols, "p_hcqr_10s")
	require.Contains(t, cols, "p_fused_30s")
	require.Contains(t, cols, "p_fused_cal_60s")
	require.Contains(t, cols, "realized_ret_30s")
	require.Contains(t, cols, "realized_up_60s")
	// timestamp + features + 3 models x 3 horizons + fused + cal + 2 outcome cols
	require.Len(t, cols, 1+models.FeatureDim()+9+3+3+6)
}

func TestCSVStoreWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")

	s, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	require.Equal(t, RecordColumns(testModels, testHorizons), recs[0])
}

func TestCSVStoreAppendResolvedRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	s, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	defer s.Close()

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	row := testRow(ts, 100)
	resolveAll(row, 0.01)
	require.NoError(t, s.Append(context.Background(), row))

	recs := readRecords(t, path)
	require.Len(t, recs, 2)
	cols := RecordColumns(testModels, testHorizons)
	byName := map[string]string{}
	for i, c := range cols {
		byName[c] = recs[1][i]
	}

	require.Equal(t, ts.Format(time.RFC3339Nano), byName["wall_time_iso"])
	require.Equal(t, "100", byName["mid"])
	require.Equal(t, "0.6", byName["p_hcqr_30s"])
	require.Equal(t, "0.6", byName["p_fused_10s"])
	require.Equal(t, "0.585", byName["p_fused_cal_60s"])
	require.Equal(t, "0.01", byName["realized_ret_30s"])
	require.Equal(t, "1", byName["realized_up_30s"])
}

func TestCSVStorePendingOutcomesStayBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	s, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	defer s.Close()

	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	row := testRow(ts, 100)
	// 10s resolved, 30s unresolvable, 60s pending at shutdown.
	row.Outcomes[models.Horizon10s].Status = models.OutcomeResolved
	row.Outcomes[models.Horizon10s].Return = -0.002
	row.Outcomes[models.Horizon30s].Status = models.OutcomeUnresolvable
	require.NoError(t, s.Append(context.Background(), row))

	recs := readRecords(t, path)
	cols := RecordColumns(testModels, testHorizons)
	byName := map[string]string{}
	for i, c := range cols {
		byName[c] = recs[1][i]
	}

	require.Equal(t, "-0.002", byName["realized_ret_10s"])
	require.Equal(t, "0", byName["realized_up_10s"])
	require.Equal(t, "", byName["realized_ret_30s"])
	require.Equal(t, "", byName["realized_up_30s"])
	require.Equal(t, "", byName["realized_ret_60s"])
}

func TestCSVStoreUnavailableEstimatesStayBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	s, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	defer s.Close()

	row := testRow(time.Now(), 100)
	row.Models[1].Estimates[models.Horizon30s] = models.Unavailable
	row.Fused[models.Horizon60s] = models.Unavailable
	require.NoError(t, s.Append(context.Background(), row))

	recs := readRecords(t, path)
	cols := RecordColumns(testModels, testHorizons)
	byName := map[string]string{}
	for i, c := range cols {
		byName[c] = recs[1][i]
	}
	require.Equal(t, "", byName["p_lvp_30s"])
	require.Equal(t, "", byName["p_fused_60s"])
	require.Equal(t, "0.6", byName["p_lvp_10s"])
}

func TestCSVStoreRestartAppendsWithoutDuplicateHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")

	s, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	row := testRow(time.Now(), 100)
	resolveAll(row, 0.01)
	require.NoError(t, s.Append(context.Background(), row))
	require.NoError(t, s.Close())

	s, err = NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	row2 := testRow(time.Now(), 101)
	resolveAll(row2, -0.01)
	require.NoError(t, s.Append(context.Background(), row2))
	require.NoError(t, s.Close())

	recs := readRecords(t, path)
	require.Len(t, recs, 3)
	require.Equal(t, "wall_time_iso", recs[0][0])
	require.NotEqual(t, "wall_time_iso", recs[1][0])
}

func TestCSVStoreRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n"), 0o644))

	_, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.ErrorIs(t, err, models.ErrSchemaMismatch)

	// Same column count, different name: still rejected.
	cols := RecordColumns(testModels, testHorizons)
	cols[3] = "renamed"
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(cols, ",")+"\n"), 0o644))
	_, err = NewCSVRecordStore(path, testModels, testHorizons)
	require.ErrorIs(t, err, models.ErrSchemaMismatch)
}

func TestCSVStoreAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	s, err := NewCSVRecordStore(path, testModels, testHorizons)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.Error(t, s.Append(context.Background(), testRow(time.Now(), 100)))
}

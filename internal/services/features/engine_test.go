package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"PerpCast/internal/domain/models"
)

func fillHistory(n int, mid float64) *History {
	h := NewHistory(n + 8)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		h.Push(snapAt(base.Add(time.Duration(i)*time.Second), mid))
	}
	return h
}

func TestEngineWarmup(t *testing.T) {
	e := NewEngine(WithMinHistory(8))
	snap := snapAt(time.Now(), 100)

	_, err := e.Compute(snap, fillHistory(7, 100))
	require.ErrorIs(t, err, models.ErrInsufficientHistory)

	_, err = e.Compute(snap, fillHistory(8, 100))
	require.NoError(t, err)
}

func TestEngineRejectsInvalidSnapshot(t *testing.T) {
	e := NewEngine(WithMinHistory(2))
	hist := fillHistory(4, 100)

	_, err := e.Compute(nil, hist)
	require.Error(t, err)

	_, err = e.Compute(snapAt(time.Now(), 0), hist)
	require.Error(t, err)
}

func TestEngineVectorShapeAndValues(t *testing.T) {
	e := NewEngine(WithMinHistory(4))
	hist := NewHistory(16)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mids := []float64{100, 100.5, 101, 100.8}
	for i, m := range mids {
		hist.Push(snapAt(base.Add(time.Duration(i)*time.Second), m))
	}

	snap := snapAt(base.Add(4*time.Second), 101.2)
	snap.OFI = 3.5
	snap.TradeImbalance = -1.25
	snap.BidDepth = 40
	snap.AskDepth = 60

	fv, err := e.Compute(snap, hist)
	require.NoError(t, err)
	require.Len(t, fv.Values, models.FeatureDim())

	require.Equal(t, 101.2, fv.Get(models.FeatMid))
	require.Equal(t, snap.Spread, fv.Get(models.FeatSpread))
	require.InDelta(t, math.Log(101.2/100.8), fv.Get(models.FeatRet1), 1e-12)
	require.Equal(t, 3.5, fv.Get(models.FeatOFIW))
	require.Equal(t, -1.25, fv.Get(models.FeatTradeImb))
	require.InDelta(t, (40.0-60.0)/(40.0+60.0), fv.Get(models.FeatBookImb), 1e-12)
}

func TestEngineDeterministic(t *testing.T) {
	e := NewEngine(WithMinHistory(4))
	hist := NewHistory(16)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, m := range []float64{100, 100.2, 99.9, 100.4, 100.1} {
		hist.Push(snapAt(base.Add(time.Duration(i)*time.Second), m))
	}
	snap := snapAt(base.Add(5*time.Second), 100.3)

	a, err := e.Compute(snap, hist)
	require.NoError(t, err)
	b, err := e.Compute(snap, hist)
	require.NoError(t, err)
	require.Equal(t, a.Values, b.Values)
}

func TestEngineNeutralFillOnFlatMarket(t *testing.T) {
	// Constant mids give zero volatility; derived inputs that would divide
	// by it come back as the neutral 0, not NaN.
	e := NewEngine(WithMinHistory(8))
	hist := fillHistory(10, 100)
	fv, err := e.Compute(snapAt(time.Now(), 100), hist)
	require.NoError(t, err)

	require.Equal(t, 0.0, fv.Get(models.FeatMomZ))
	require.Equal(t, 0.0, fv.Get(models.FeatVolRatio))
	require.Equal(t, 0.0, fv.Get(models.FeatRet1))
	for _, v := range fv.Values {
		require.False(t, math.IsNaN(v))
	}
}

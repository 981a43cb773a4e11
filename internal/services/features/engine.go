package features

import (
	"fmt"
	"math"

	"PerpCast/internal/domain/models"
)

// Engine derives the fixed-shape feature vector for a tick. Compute is pure
// given (snapshot, history): replaying the same inputs reproduces the same
// vector bit for bit, which later calibration auditing relies on.
//
// Missing-input policy, applied uniformly: a tick with fewer than MinHistory
// prior snapshots is skipped with models.ErrInsufficientHistory; after
// warmup, any individual input that still cannot be derived is filled with
// the neutral value 0 so the vector shape never changes.
type Engine struct {
	minHistory int
	lambda     float64 // EWMA decay for volatility
	shortWin   int
	longWin    int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMinHistory sets the warmup threshold in ticks.
func WithMinHistory(n int) EngineOption {
	return func(e *Engine) {
		if n > 1 {
			e.minHistory = n
		}
	}
}

// WithEWMALambda sets the volatility decay factor.
func WithEWMALambda(l float64) EngineOption {
	return func(e *Engine) {
		if l > 0 && l < 1 {
			e.lambda = l
		}
	}
}

// WithVolWindows sets the short/long realized-volatility windows.
func WithVolWindows(short, long int) EngineOption {
	return func(e *Engine) {
		if short > 1 && long > short {
			e.shortWin = short
			e.longWin = long
		}
	}
}

// NewEngine builds an engine with the default warmup of 16 ticks.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		minHistory: 16,
		lambda:     0.94,
		shortWin:   5,
		longWin:    60,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MinHistory returns the warmup threshold in ticks.
func (e *Engine) MinHistory() int { return e.minHistory }

// Compute derives the feature vector for snap given the history window.
func (e *Engine) Compute(snap *models.MarketSnapshot, hist *History) (models.FeatureVector, error) {
	if snap == nil || snap.Mid <= 0 {
		return models.FeatureVector{}, fmt.Errorf("features: invalid snapshot")
	}
	if hist == nil || hist.Len() < e.minHistory {
		have := 0
		if hist != nil {
			have = hist.Len()
		}
		return models.FeatureVector{}, fmt.Errorf("features: %w (have %d, need %d)",
			models.ErrInsufficientHistory, have, e.minHistory)
	}

	mids := hist.Mids()
	rets := logReturns(append(mids, snap.Mid))

	fv := models.NewFeatureVector()
	fv.Set(models.FeatMid, snap.Mid)
	fv.Set(models.FeatSpread, snap.Spread)
	fv.Set(models.FeatSpreadBps, snap.SpreadBps())
	fv.Set(models.FeatRet1, lagReturn(mids, snap.Mid, 1))
	fv.Set(models.FeatRet5, lagReturn(mids, snap.Mid, 5))
	fv.Set(models.FeatRet15, lagReturn(mids, snap.Mid, 15))

	vol := ewmaVol(rets, e.lambda)
	fv.Set(models.FeatEWMAVol, vol)
	fv.Set(models.FeatMomZ, momentumZ(rets, vol, e.shortWin))

	fv.Set(models.FeatOFIW, snap.OFI)
	fv.Set(models.FeatTradeImb, snap.TradeImbalance)
	fv.Set(models.FeatBookImb, snap.BookImbalance())
	fv.Set(models.FeatVolRatio, volRatio(rets, e.shortWin, e.longWin))

	return fv, nil
}

// logReturns computes r_t = ln(m_t / m_{t-1}); non-positive mids yield 0.
func logReturns(mids []float64) []float64 {
	if len(mids) < 2 {
		return nil
	}
	out := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		prev, cur := mids[i-1], mids[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// lagReturn computes ln(current / mid k ticks back), neutral 0 when the
// window is too short.
func lagReturn(mids []float64, current float64, k int) float64 {
	if len(mids) < k || current <= 0 {
		return 0
	}
	base := mids[len(mids)-k]
	if base <= 0 {
		return 0
	}
	return math.Log(current / base)
}

// ewmaVol is the exponentially weighted standard deviation of returns.
func ewmaVol(rets []float64, lambda float64) float64 {
	if len(rets) == 0 {
		return 0
	}
	variance := 0.0
	for _, r := range rets {
		variance = lambda*variance + (1-lambda)*r*r
	}
	return math.Sqrt(variance)
}

// momentumZ scales the summed short-window return by vol*sqrt(window).
func momentumZ(rets []float64, vol float64, window int) float64 {
	if vol <= 0 || len(rets) == 0 {
		return 0
	}
	if window > len(rets) {
		window = len(rets)
	}
	sum := 0.0
	for _, r := range rets[len(rets)-window:] {
		sum += r
	}
	return sum / (vol * math.Sqrt(float64(window)))
}

// volRatio compares short-window to long-window realized volatility.
func volRatio(rets []float64, short, long int) float64 {
	if len(rets) < short {
		return 0
	}
	if long > len(rets) {
		long = len(rets)
	}
	s := realizedVol(rets[len(rets)-short:])
	l := realizedVol(rets[len(rets)-long:])
	if l <= 0 {
		return 0
	}
	return s / l
}

// realizedVol is the plain sample standard deviation of returns.
func realizedVol(rets []float64) float64 {
	n := float64(len(rets))
	if n < 2 {
		return 0
	}
	sum, sum2 := 0.0, 0.0
	for _, r := range rets {
		sum += r
		sum2 += r * r
	}
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

package models

// Feature names in persisted column order. The order is part of the record
// schema: changing it requires a new output file.
const (
	FeatMid       = "mid"
	FeatSpread    = "spread"
	FeatSpreadBps = "spread_bps"
	FeatRet1      = "ret_1"
	FeatRet5      = "ret_5"
	FeatRet15     = "ret_15"
	FeatEWMAVol   = "ewma_vol"
	FeatMomZ      = "mom_z"
	FeatOFIW      = "ofi_w"
	FeatTradeImb  = "trade_imb"
	FeatBookImb   = "book_imb"
	FeatVolRatio  = "vol_ratio"
)

var featureNames = []string{
	FeatMid, FeatSpread, FeatSpreadBps,
	FeatRet1, FeatRet5, FeatRet15,
	FeatEWMAVol, FeatMomZ,
	FeatOFIW, FeatTradeImb, FeatBookImb, FeatVolRatio,
}

// FeatureNames returns the fixed feature ordering shared by the engine, the
// models, and the record schema.
func FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// FeatureDim is the constant dimensionality of every feature vector.
func FeatureDim() int { return len(featureNames) }

// FeatureVector is a fixed-dimension vector keyed by the FeatureNames order.
type FeatureVector struct {
	Values []float64
}

// NewFeatureVector allocates a zeroed vector of the configured dimension.
func NewFeatureVector() FeatureVector {
	return FeatureVector{Values: make([]float64, len(featureNames))}
}

var featureIndex = func() map[string]int {
	m := make(map[string]int, len(featureNames))
	for i, n := range featureNames {
		m[n] = i
	}
	return m
}()

// Get returns a feature by name; unknown names return 0.
func (v FeatureVector) Get(name string) float64 {
	i, ok := featureIndex[name]
	if !ok || i >= len(v.Values) {
		return 0
	}
	return v.Values[i]
}

// Set assigns a feature by name; unknown names are ignored.
func (v FeatureVector) Set(name string, val float64) {
	if i, ok := featureIndex[name]; ok && i < len(v.Values) {
		v.Values[i] = val
	}
}

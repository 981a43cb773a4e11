package models

import "time"

// MarketSnapshot is the market state captured for one tick. It is a value
// object: once captured it is never mutated.
type MarketSnapshot struct {
	Time   time.Time
	Mid    float64
	Bid    float64
	Ask    float64
	Spread float64

	// Top-of-book depth summed over the best levels on each side.
	BidDepth float64
	AskDepth float64

	// Trade flow accumulated since the previous snapshot.
	TradeVolume    float64 // total traded size
	TradeImbalance float64 // buy size minus sell size
	OFI            float64 // decay-weighted signed order flow
}

// BookImbalance returns (bidDepth - askDepth) / (bidDepth + askDepth),
// or 0 when the book is empty.
func (s *MarketSnapshot) BookImbalance() float64 {
	total := s.BidDepth + s.AskDepth
	if total <= 0 {
		return 0
	}
	return (s.BidDepth - s.AskDepth) / total
}

// SpreadBps returns the spread in basis points of the mid.
func (s *MarketSnapshot) SpreadBps() float64 {
	if s.Mid <= 0 {
		return 0
	}
	return s.Spread / s.Mid * 1e4
}

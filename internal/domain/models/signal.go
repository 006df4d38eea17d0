package models

import "time"

// Direction of a candidate. The strategy is long-only.
type Direction string

const (
	DirectionBuy Direction = "BUY"
)

// Entry rule identifiers, listed in precedence order.
const (
	RuleBreakout    = "breakout"
	RuleMomentum    = "momentum"
	RuleVolumeSpike = "volume_spike"
)

// Entry filter identifiers.
const (
	FilterGradualRise = "gradual_rise"
	FilterVWAP        = "vwap"
	FilterRSIBand     = "rsi_band"
)

// SignalCandidate is produced by the evaluator and consumed once by the risk gate.
type SignalCandidate struct {
	InstrumentID   string
	Timestamp      time.Time
	Direction      Direction
	Confidence     float64
	RuleID         string
	SuggestedSize  float64 // notional hint; 0 lets the risk gate size it
	ReferencePrice float64
}

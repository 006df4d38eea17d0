package models

import "time"

// MarketEvent is one bar for one instrument. Values are never mutated after
// the source emits them.
type MarketEvent struct {
	InstrumentID string    `json:"instrument_id"`
	Timestamp    time.Time `json:"timestamp"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	// ExecutionStrength is buy volume / sell volume (1.1 = 110%). Nil when the
	// feed does not carry it.
	ExecutionStrength *float64 `json:"execution_strength,omitempty"`
}

// Strength returns the execution strength and whether the feed provided it.
func (e MarketEvent) Strength() (float64, bool) {
	if e.ExecutionStrength == nil {
		return 0, false
	}
	return *e.ExecutionStrength, true
}

// HasRange reports whether the bar carries a usable intrabar high/low.
func (e MarketEvent) HasRange() bool {
	return e.High > 0 && e.Low > 0 && e.High >= e.Low
}

// Before orders events by timestamp, then instrument id ascending.
func (e MarketEvent) Before(o MarketEvent) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	return e.InstrumentID < o.InstrumentID
}

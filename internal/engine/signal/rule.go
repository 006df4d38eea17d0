package signal

import "StockPulse/internal/domain/models"

// Rule is a named entry trigger. Stateless rules ignore Reset.
type Rule interface {
	ID() string
	// Evaluate reports whether the rule fires on this snapshot and with what
	// confidence in [0, 1]. Stateful rules update their counters here.
	Evaluate(snap models.IndicatorSnapshot) (bool, float64)
	// Reset drops any per-instrument state, used when evaluation is skipped.
	Reset(instrumentID string)
}

// Filter vetoes a candidate produced by a rule.
type Filter interface {
	Name() string
	Allow(snap models.IndicatorSnapshot) bool
}

// confidence maps a measure against its threshold: twice the threshold is full confidence.
func confidence(measure, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	c := measure / (2 * threshold)
	switch {
	case c > 1:
		return 1
	case c < 0:
		return 0
	}
	return c
}

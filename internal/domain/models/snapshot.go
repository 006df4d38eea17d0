package models

import "time"

// IndicatorSnapshot is the derived view of one instrument after an event has
// been applied. It holds no references into engine state; every value is a copy.
type IndicatorSnapshot struct {
	InstrumentID  string
	Timestamp     time.Time
	SessionDate   string        // local trading date, 2006-01-02
	SinceOpen     time.Duration // event time minus session open
	BarsInSession int

	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64

	SessionOpen       float64
	SMA5              float64
	SMA20             float64
	RSI14             float64
	VWAP              float64
	RollingVolume15m  float64
	SessionVolume     float64
	PrevDayVolume     float64
	HighOfSession     float64
	LowSinceEntry     float64
	PriorHigh         float64 // highest high of the previous N bars, excluding this one
	ExecutionStrength float64
	HasStrength       bool

	// Opening window statistics, frozen once the window has passed.
	FirstBarReturn  float64
	OpeningReturn   float64
	OpeningVolume   float64
	OpeningDrawdown float64
	OpeningComplete bool

	SMA5Ready      bool
	SMA20Ready     bool
	RSIReady       bool
	PriorHighReady bool
}

// VolumeRatio returns rolling 15m volume over the previous session volume,
// or 0 when no previous session is known.
func (s IndicatorSnapshot) VolumeRatio() float64 {
	if s.PrevDayVolume <= 0 {
		return 0
	}
	return s.RollingVolume15m / s.PrevDayVolume
}

// ChangeFromOpen returns close relative to the session's first open.
func (s IndicatorSnapshot) ChangeFromOpen() float64 {
	if s.SessionOpen <= 0 {
		return 0
	}
	return s.Close/s.SessionOpen - 1
}

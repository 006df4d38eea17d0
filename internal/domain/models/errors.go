package models

import "errors"

var (
	// ErrStaleEvent marks an event whose timestamp is not after the last one seen for its instrument.
	ErrStaleEvent = errors.New("stale event")
	// ErrRiskRejected marks a candidate declined by the risk gate.
	ErrRiskRejected = errors.New("risk rejected")
	// ErrOrderRejected marks an order declined by the broker or simulator.
	ErrOrderRejected = errors.New("order rejected")
	// ErrOrderTimeout marks an order that was not resolved within its deadline.
	ErrOrderTimeout = errors.New("order timeout")
	// ErrFeedDisconnected is raised when the live feed went quiet for too long.
	ErrFeedDisconnected = errors.New("feed disconnected")
	// ErrConfigInvalid is fatal at startup.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrEndOfStream ends a backtest event source.
	ErrEndOfStream = errors.New("end of stream")
	ErrUnknownOrder      = errors.New("unknown order")
	ErrInvalidTransition = errors.New("invalid position transition")
)

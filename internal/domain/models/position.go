package models

import "time"

type PositionState string

const (
	StatePendingEntry PositionState = "PENDING_ENTRY"
	StateOpen         PositionState = "OPEN"
	StatePendingExit  PositionState = "PENDING_EXIT"
	StateClosed       PositionState = "CLOSED"
	StateRejected     PositionState = "REJECTED"
	StateExpired      PositionState = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s PositionState) Terminal() bool {
	return s == StateClosed || s == StateRejected || s == StateExpired
}

type ExitReason string

const (
	ExitNone              ExitReason = ""
	ExitStopLoss          ExitReason = "StopLoss"
	ExitTakeProfit        ExitReason = "TakeProfit"
	ExitTrailingStop      ExitReason = "TrailingStop"
	ExitMaxHold           ExitReason = "MaxHold"
	ExitEndOfSession      ExitReason = "EndOfSession"
	ExitSafetyLiquidation ExitReason = "SafetyLiquidation"
)

// Position is the lifecycle record of one instrument's holding.
type Position struct {
	InstrumentID    string        `json:"instrument_id"`
	State           PositionState `json:"state"`
	RuleID          string        `json:"rule_id"`
	EntryPrice      float64       `json:"entry_price"`
	EntryTime       time.Time     `json:"entry_time"`
	Quantity        int64         `json:"quantity"`
	HighWaterMark   float64       `json:"high_water_mark"`
	StopPrice       float64       `json:"stop_price"`
	TakeProfitPrice float64       `json:"take_profit_price"`
	MaxHoldUntil    time.Time     `json:"max_hold_until"`

	RequestedQty int64       `json:"requested_qty"`
	Reserved     float64     `json:"reserved"`
	EntryOrder   OrderHandle `json:"entry_order,omitempty"`
	ExitOrder    OrderHandle `json:"exit_order,omitempty"`
	PendingSince time.Time   `json:"pending_since"`
	CancelSent   bool        `json:"cancel_sent"`
	ExitReason   ExitReason  `json:"exit_reason,omitempty"`
	ExitFilled   int64       `json:"exit_filled"`
	ExitNotional float64     `json:"exit_notional"`
	ExitRetries  int         `json:"exit_retries"`
	LastPrice    float64     `json:"last_price"`
}

package models

import "time"

type Mode string

const (
	ModeLive     Mode = "live"
	ModeBacktest Mode = "backtest"
)

// TraderStatus is a point-in-time copy of the scheduler's state.
type TraderStatus struct {
	Mode            Mode       `json:"mode"`
	Halted          bool       `json:"halted"`
	HaltReason      string     `json:"halt_reason,omitempty"`
	FeedConnected   bool       `json:"feed_connected"`
	Clock           time.Time  `json:"clock"`
	LastEventAt     time.Time  `json:"last_event_at"`
	EventsProcessed int64      `json:"events_processed"`
	StaleEvents     int64      `json:"stale_events"`
	Budget          RiskBudget `json:"budget"`
	Positions       []Position `json:"positions"`
	TradeCount      int        `json:"trade_count"`
}

// BrokerNotice is an execution notice as the broker reports it, keyed by the broker's order number.
type BrokerNotice struct {
	BrokerOrderID string       `json:"broker_order_id"`
	InstrumentID  string       `json:"instrument_id"`
	Status        ReportStatus `json:"status"`
	FillPrice     float64      `json:"fill_price"`
	FilledQty     int64        `json:"filled_qty"`
	Reason        string       `json:"reason,omitempty"`
	At            time.Time    `json:"at"`
}

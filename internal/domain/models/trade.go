package models

import "time"

// TradeRecord is one row of the trade log. RealizedPnL is net of Fees;
// GrossPnL is (exit - entry) * quantity before any cost.
type TradeRecord struct {
	InstrumentID string     `json:"instrument_id"`
	RuleID       string     `json:"rule_id"`
	EntryTime    time.Time  `json:"entry_time"`
	EntryPrice   float64    `json:"entry_price"`
	ExitTime     time.Time  `json:"exit_time"`
	ExitPrice    float64    `json:"exit_price"`
	ExitReason   ExitReason `json:"exit_reason"`
	Quantity     int64      `json:"quantity"`
	GrossPnL     float64    `json:"gross_pnl"`
	Commission   float64    `json:"commission"`
	Tax          float64    `json:"tax"`
	Slippage     float64    `json:"slippage"`
	Fees         float64    `json:"fees"`
	RealizedPnL  float64    `json:"realized_pnl"`
}

// Return is the net P&L relative to the entry notional.
func (t TradeRecord) Return() float64 {
	basis := t.EntryPrice * float64(t.Quantity)
	if basis == 0 {
		return 0
	}
	return t.RealizedPnL / basis
}

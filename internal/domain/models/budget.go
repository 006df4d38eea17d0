package models

import "math"

// RiskBudget is the process-wide ledger used to gate new entries.
// The risk gate reserves; the position book releases and settles.
type RiskBudget struct {
	TotalCapital      float64 `json:"total_capital"`
	OpenPositionCount int     `json:"open_position_count"`
	CommittedCapital  float64 `json:"committed_capital"`
	RealizedPnLToday  float64 `json:"realized_pnl_today"`
	RealizedPnLTotal  float64 `json:"realized_pnl_total"`
	TradingDay        string  `json:"trading_day"`
}

func NewRiskBudget(totalCapital float64) *RiskBudget {
	return &RiskBudget{TotalCapital: totalCapital}
}

// Equity is starting capital plus everything realized since.
func (b *RiskBudget) Equity() float64 {
	return b.TotalCapital + b.RealizedPnLTotal
}

// Cash is equity not tied up in open or pending positions.
func (b *RiskBudget) Cash() float64 {
	return b.Equity() - b.CommittedCapital
}

// Reserve books a new position slot and its notional.
func (b *RiskBudget) Reserve(notional float64) {
	b.OpenPositionCount++
	b.CommittedCapital += notional
}

// Adjust moves committed capital by delta, used when a fill differs from the reservation.
func (b *RiskBudget) Adjust(delta float64) {
	b.CommittedCapital = clampZero(b.CommittedCapital + delta)
}

// Release frees a slot and its notional without realizing anything.
func (b *RiskBudget) Release(notional float64) {
	if b.OpenPositionCount > 0 {
		b.OpenPositionCount--
	}
	b.CommittedCapital = clampZero(b.CommittedCapital - notional)
}

// Realize books a net P&L against both daily and running totals.
func (b *RiskBudget) Realize(pnl float64) {
	b.RealizedPnLToday += pnl
	b.RealizedPnLTotal += pnl
}

// Rollover resets the daily figures when day differs from the current
// trading day. It returns true when a reset happened.
func (b *RiskBudget) Rollover(day string) bool {
	if day == b.TradingDay {
		return false
	}
	first := b.TradingDay == ""
	b.TradingDay = day
	b.RealizedPnLToday = 0
	return !first
}

// clampZero absorbs float residue left after releasing the last reservation.
func clampZero(v float64) float64 {
	if math.Abs(v) < 1e-6 {
		return 0
	}
	return v
}

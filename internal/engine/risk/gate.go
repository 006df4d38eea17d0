package risk

import (
	"fmt"
	"math"
	"sync/atomic"

	"StockPulse/internal/domain/models"
)

type Reason string

const (
	ReasonMaxPositions       Reason = "MaxPositionsReached"
	ReasonDailyLoss          Reason = "DailyLossLimitBreached"
	ReasonInsufficientBudget Reason = "InsufficientBudget"
	ReasonBelowMinimum       Reason = "BelowMinimumTradeAmount"
	ReasonHalted             Reason = "TradingHalted"
)

// Admission is the gate's answer for one candidate.
type Admission struct {
	Admitted bool
	Quantity int64
	Notional float64
	Price    float64
	Reason   Reason
}

// Err returns nil for an admitted candidate and an ErrRiskRejected wrap otherwise.
func (a Admission) Err() error {
	if a.Admitted {
		return nil
	}
	return fmt.Errorf("%w: %s", models.ErrRiskRejected, a.Reason)
}

func rejected(r Reason) Admission { return Admission{Reason: r} }

// Gate sizes candidates and reserves budget for the admitted ones. Admit
// must be called from the scheduler's goroutine; Halt and Resume may be
// called from anywhere.
type Gate struct {
	p      models.RiskParams
	halted atomic.Bool
	reason atomic.Value
}

func NewGate(p models.RiskParams) *Gate {
	g := &Gate{p: p}
	g.reason.Store("")
	return g
}

// Halt stops all new admissions until Resume.
func (g *Gate) Halt(reason string) {
	g.reason.Store(reason)
	g.halted.Store(true)
}

func (g *Gate) Resume() {
	g.halted.Store(false)
	g.reason.Store("")
}

// Halted reports the halt flag and the reason it was raised with.
func (g *Gate) Halted() (bool, string) {
	return g.halted.Load(), g.reason.Load().(string)
}

// Admit applies the portfolio constraints in order and, on success, reserves
// the position slot and notional in b.
func (g *Gate) Admit(c models.SignalCandidate, b *models.RiskBudget) Admission {
	if g.halted.Load() {
		return rejected(ReasonHalted)
	}
	if b.OpenPositionCount >= g.p.MaxPositions {
		return rejected(ReasonMaxPositions)
	}
	if b.RealizedPnLToday <= -g.p.MaxDailyLoss*g.p.TotalCapital {
		return rejected(ReasonDailyLoss)
	}

	available := math.Min(g.p.MaxPositionSize*g.p.TotalCapital-b.CommittedCapital, b.Cash())
	if available <= 0 || available < g.p.MinTradeAmount {
		return rejected(ReasonInsufficientBudget)
	}

	notional := math.Min(g.p.PositionSizeRatio*b.Equity(), g.p.MaxPerStock)
	notional = math.Min(notional, available)
	if c.SuggestedSize > 0 {
		notional = math.Min(notional, c.SuggestedSize)
	}

	price := c.ReferencePrice
	if price <= 0 || notional <= 0 {
		return rejected(ReasonBelowMinimum)
	}
	lots := math.Floor(notional / price / float64(g.p.LotSize))
	qty := int64(lots) * g.p.LotSize
	cost := float64(qty) * price
	if qty < g.p.MinPositionSize || cost < g.p.MinTradeAmount {
		return rejected(ReasonBelowMinimum)
	}

	b.Reserve(cost)
	return Admission{Admitted: true, Quantity: qty, Notional: cost, Price: price}
}

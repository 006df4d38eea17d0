package position

import (
	"fmt"
	"math"
	"time"

	"StockPulse/internal/domain/models"
)

// Machine owns the lifecycle of one instrument's position:
//
//	PendingEntry -> Open -> PendingExit -> Closed
//	PendingEntry -> Rejected | Expired
//	PendingExit  -> Rejected, or back to Open while exit retries remain
//
// Terminal states accept no further transitions.
type Machine struct {
	pos  models.Position
	exit models.ExitParams

	entryNotional float64
}

// NewPending starts a machine for an admitted candidate whose entry order was submitted.
func NewPending(c models.SignalCandidate, qty int64, reserved float64, handle models.OrderHandle, exit models.ExitParams, at time.Time) *Machine {
	return &Machine{
		exit: exit,
		pos: models.Position{
			InstrumentID: c.InstrumentID,
			State:        models.StatePendingEntry,
			RuleID:       c.RuleID,
			RequestedQty: qty,
			Reserved:     reserved,
			EntryOrder:   handle,
			PendingSince: at,
			LastPrice:    c.ReferencePrice,
		},
	}
}

// Position returns a copy of the current record.
func (m *Machine) Position() models.Position { return m.pos }

func (m *Machine) State() models.PositionState { return m.pos.State }

func (m *Machine) invalid(op string) error {
	return fmt.Errorf("%w: %s in state %s for %s", models.ErrInvalidTransition, op, m.pos.State, m.pos.InstrumentID)
}

// fillEntry accumulates an entry fill at a volume-weighted average price.
func (m *Machine) fillEntry(price float64, qty int64) {
	if qty <= 0 {
		return
	}
	m.entryNotional += price * float64(qty)
	m.pos.Quantity += qty
	m.pos.EntryPrice = m.entryNotional / float64(m.pos.Quantity)
}

// open completes the entry: stop, take-profit and high-water mark are
// initialized from the average fill price.
func (m *Machine) open(at time.Time) {
	p := &m.pos
	p.State = models.StateOpen
	p.EntryTime = at
	p.StopPrice = p.EntryPrice * (1 + m.exit.StopLoss)
	p.TakeProfitPrice = p.EntryPrice * (1 + m.exit.TakeProfit)
	p.HighWaterMark = p.EntryPrice
	if m.exit.MaxHold > 0 {
		p.MaxHoldUntil = at.Add(m.exit.MaxHold)
	}
	p.EntryOrder = ""
	p.PendingSince = time.Time{}
	p.CancelSent = false
}

// Observe folds a bar into an open position and returns the exit reason that
// fires, if any. The high-water mark is raised from the close before any
// rule is checked. forceClose signals the end of the session. Pending
// positions only record the price; their in-flight order suspends new exits.
func (m *Machine) Observe(s models.IndicatorSnapshot, forceClose bool) models.ExitReason {
	p := &m.pos
	p.LastPrice = s.Close
	if p.State != models.StateOpen {
		return models.ExitNone
	}
	p.HighWaterMark = math.Max(p.HighWaterMark, s.Close)

	low, high := s.Close, s.Close
	if s.Low > 0 && s.High >= s.Low {
		low, high = s.Low, s.High
	}

	if low <= p.StopPrice {
		return models.ExitStopLoss
	}
	if m.exit.MinHold > 0 && s.Timestamp.Sub(p.EntryTime) < m.exit.MinHold {
		return models.ExitNone
	}
	if high >= p.TakeProfitPrice {
		return models.ExitTakeProfit
	}
	if m.trailingArmed() && low <= p.HighWaterMark*(1-m.exit.TrailingStop) {
		return models.ExitTrailingStop
	}
	if !p.MaxHoldUntil.IsZero() && !s.Timestamp.Before(p.MaxHoldUntil) {
		return models.ExitMaxHold
	}
	if forceClose {
		return models.ExitEndOfSession
	}
	return models.ExitNone
}

// trailingArmed is true once the high-water mark has moved past the entry by
// at least the activation threshold.
func (m *Machine) trailingArmed() bool {
	p := m.pos
	if m.exit.TrailingStop <= 0 || p.HighWaterMark <= p.EntryPrice {
		return false
	}
	return p.HighWaterMark >= p.EntryPrice*(1+m.exit.TrailingActivation)
}

// BeginExit moves an open position to PendingExit with the submitted order.
func (m *Machine) BeginExit(reason models.ExitReason, handle models.OrderHandle, at time.Time) error {
	if m.pos.State != models.StateOpen {
		return m.invalid("begin exit")
	}
	p := &m.pos
	p.State = models.StatePendingExit
	p.ExitOrder = handle
	p.ExitReason = reason
	p.PendingSince = at
	p.CancelSent = false
	p.ExitFilled = 0
	p.ExitNotional = 0
	return nil
}

// TimedOut reports whether the in-flight order has waited past the order
// timeout and no cancel has been requested yet.
func (m *Machine) TimedOut(now time.Time) bool {
	p := m.pos
	if p.State != models.StatePendingEntry && p.State != models.StatePendingExit {
		return false
	}
	return !p.CancelSent && now.Sub(p.PendingSince) >= m.exit.OrderTimeout
}

// MarkCancelRequested records that a cancel was sent. The state does not
// change until the broker confirms.
func (m *Machine) MarkCancelRequested() { m.pos.CancelSent = true }

// PendingHandle returns the handle of the in-flight order, if any.
func (m *Machine) PendingHandle() (models.OrderHandle, bool) {
	switch m.pos.State {
	case models.StatePendingEntry:
		return m.pos.EntryOrder, true
	case models.StatePendingExit:
		return m.pos.ExitOrder, true
	}
	return "", false
}

// RemainingQty is what an exit order must sell.
func (m *Machine) RemainingQty() int64 { return m.pos.Quantity }

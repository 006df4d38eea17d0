package position

import (
	"fmt"
	"sort"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/engine/cost"
)

// Result describes what one execution report did to a position.
type Result struct {
	InstrumentID string
	From         models.PositionState
	To           models.PositionState
	Position     models.Position
	Trades       []models.TradeRecord
	// Opened is set on the transition into Open from PendingEntry.
	Opened bool
	// Removed is set when the machine reached a terminal state and left the book.
	Removed bool
	// Err wraps ErrOrderRejected or ErrOrderTimeout when the report ended an order unfilled.
	Err error
}

// Timeout names an order whose cancel has just been requested.
type Timeout struct {
	InstrumentID string
	Handle       models.OrderHandle
	Side         models.Side
}

// Book is the active-position map. It is the only place positions change
// and, together with the risk gate, the only writer of the budget.
type Book struct {
	exit    models.ExitParams
	costs   *cost.Model
	budget  *models.RiskBudget
	active  map[string]*Machine
	handles map[models.OrderHandle]string
}

func NewBook(exit models.ExitParams, costs *cost.Model, budget *models.RiskBudget) *Book {
	return &Book{
		exit:    exit,
		costs:   costs,
		budget:  budget,
		active:  make(map[string]*Machine),
		handles: make(map[models.OrderHandle]string),
	}
}

func (b *Book) HasActive(instrumentID string) bool {
	_, ok := b.active[instrumentID]
	return ok
}

func (b *Book) Len() int { return len(b.active) }

func (b *Book) Get(instrumentID string) (models.Position, bool) {
	m, ok := b.active[instrumentID]
	if !ok {
		return models.Position{}, false
	}
	return m.Position(), true
}

// Positions returns copies of all active positions ordered by instrument id.
func (b *Book) Positions() []models.Position {
	out := make([]models.Position, 0, len(b.active))
	for _, id := range b.ids() {
		out = append(out, b.active[id].Position())
	}
	return out
}

func (b *Book) ids() []string {
	ids := make([]string, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Open registers a PendingEntry position for an admitted candidate.
func (b *Book) Open(c models.SignalCandidate, qty int64, reserved float64, handle models.OrderHandle, at time.Time) error {
	if b.HasActive(c.InstrumentID) {
		return fmt.Errorf("%w: %s already has an active position", models.ErrInvalidTransition, c.InstrumentID)
	}
	b.active[c.InstrumentID] = NewPending(c, qty, reserved, handle, b.exit, at)
	b.handles[handle] = c.InstrumentID
	return nil
}

// Observe runs exit evaluation for an instrument's position, if any.
func (b *Book) Observe(s models.IndicatorSnapshot, forceClose bool) models.ExitReason {
	m, ok := b.active[s.InstrumentID]
	if !ok {
		return models.ExitNone
	}
	return m.Observe(s, forceClose)
}

// OpenIDs lists instruments whose position is Open, ordered by id.
func (b *Book) OpenIDs() []string {
	var out []string
	for _, id := range b.ids() {
		if b.active[id].State() == models.StateOpen {
			out = append(out, id)
		}
	}
	return out
}

// BeginExit records the exit order for an open position.
func (b *Book) BeginExit(instrumentID string, reason models.ExitReason, handle models.OrderHandle, at time.Time) error {
	m, ok := b.active[instrumentID]
	if !ok {
		return fmt.Errorf("%w: no position for %s", models.ErrInvalidTransition, instrumentID)
	}
	if err := m.BeginExit(reason, handle, at); err != nil {
		return err
	}
	b.handles[handle] = instrumentID
	return nil
}

// Timeouts marks every order pending past the timeout as cancel-requested
// and returns them in instrument order.
func (b *Book) Timeouts(now time.Time) []Timeout {
	var out []Timeout
	for _, id := range b.ids() {
		m := b.active[id]
		if !m.TimedOut(now) {
			continue
		}
		h, _ := m.PendingHandle()
		side := models.SideBuy
		if m.State() == models.StatePendingExit {
			side = models.SideSell
		}
		m.MarkCancelRequested()
		out = append(out, Timeout{InstrumentID: id, Handle: h, Side: side})
	}
	return out
}

// Apply resolves one execution report against the position its handle belongs to.
func (b *Book) Apply(r models.ExecutionReport) (Result, error) {
	id, ok := b.handles[r.Handle]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", models.ErrUnknownOrder, r.Handle)
	}
	m, ok := b.active[id]
	if !ok {
		delete(b.handles, r.Handle)
		return Result{}, fmt.Errorf("%w: %s for inactive %s", models.ErrUnknownOrder, r.Handle, id)
	}
	res := Result{InstrumentID: id, From: m.State()}

	switch m.State() {
	case models.StatePendingEntry:
		if r.Handle != m.pos.EntryOrder {
			return Result{}, fmt.Errorf("%w: %s is not the entry order of %s", models.ErrUnknownOrder, r.Handle, id)
		}
		b.applyEntry(m, r, &res)
	case models.StatePendingExit:
		if r.Handle != m.pos.ExitOrder {
			return Result{}, fmt.Errorf("%w: %s is not the exit order of %s", models.ErrUnknownOrder, r.Handle, id)
		}
		b.applyExit(m, r, &res)
	default:
		return Result{}, m.invalid("report " + string(r.Status))
	}

	res.To = m.State()
	res.Position = m.Position()
	if res.To.Terminal() {
		b.remove(id)
		res.Removed = true
	}
	return res, nil
}

func (b *Book) applyEntry(m *Machine, r models.ExecutionReport, res *Result) {
	p := &m.pos
	switch r.Status {
	case models.ReportFilled, models.ReportPartiallyFilled:
		qty := r.FilledQty
		if qty <= 0 && r.Status == models.ReportFilled {
			qty = p.RequestedQty - p.Quantity
		}
		m.fillEntry(r.FillPrice, qty)
		if p.Quantity >= p.RequestedQty {
			b.opened(m, r.At, res)
		}
	case models.ReportRejected, models.ReportCancelConfirmed:
		if p.Quantity > 0 {
			b.opened(m, r.At, res)
			return
		}
		delete(b.handles, p.EntryOrder)
		b.budget.Release(p.Reserved)
		p.Reserved = 0
		if r.Status == models.ReportRejected {
			p.State = models.StateRejected
			res.Err = fmt.Errorf("%w: entry %s: %s", models.ErrOrderRejected, p.InstrumentID, r.Reason)
		} else {
			p.State = models.StateExpired
			res.Err = fmt.Errorf("%w: entry %s", models.ErrOrderTimeout, p.InstrumentID)
		}
	}
}

// opened moves the committed capital from the reservation to the actual fill cost.
func (b *Book) opened(m *Machine, at time.Time, res *Result) {
	delete(b.handles, m.pos.EntryOrder)
	b.budget.Adjust(m.entryNotional - m.pos.Reserved)
	m.pos.Reserved = m.entryNotional
	m.open(at)
	res.Opened = true
}

func (b *Book) applyExit(m *Machine, r models.ExecutionReport, res *Result) {
	p := &m.pos
	switch r.Status {
	case models.ReportFilled, models.ReportPartiallyFilled:
		qty := r.FilledQty
		if qty <= 0 && r.Status == models.ReportFilled {
			qty = p.Quantity - p.ExitFilled
		}
		if qty > p.Quantity-p.ExitFilled {
			qty = p.Quantity - p.ExitFilled
		}
		if qty > 0 {
			p.ExitFilled += qty
			p.ExitNotional += r.FillPrice * float64(qty)
		}
		if p.ExitFilled >= p.Quantity {
			delete(b.handles, p.ExitOrder)
			res.Trades = append(res.Trades, b.settle(m, r.At))
			p.State = models.StateClosed
			b.budget.Release(p.Reserved)
			p.Reserved = 0
		}
	case models.ReportRejected, models.ReportCancelConfirmed:
		delete(b.handles, p.ExitOrder)
		if p.ExitFilled > 0 {
			res.Trades = append(res.Trades, b.settle(m, r.At))
			b.reopen(m)
			return
		}
		if r.Status == models.ReportRejected {
			res.Err = fmt.Errorf("%w: exit %s: %s", models.ErrOrderRejected, p.InstrumentID, r.Reason)
		} else {
			res.Err = fmt.Errorf("%w: exit %s", models.ErrOrderTimeout, p.InstrumentID)
		}
		if p.ExitRetries < b.exit.ExitRetries {
			p.ExitRetries++
			b.reopen(m)
			return
		}
		p.State = models.StateRejected
		b.budget.Release(p.Reserved)
		p.Reserved = 0
	}
}

// Fail treats a synchronous submission error for the in-flight order like a
// broker rejection of that order.
func (b *Book) Fail(instrumentID, reason string, at time.Time) (Result, error) {
	m, ok := b.active[instrumentID]
	if !ok {
		return Result{}, fmt.Errorf("%w: fail order for %s", models.ErrInvalidTransition, instrumentID)
	}
	h, pending := m.PendingHandle()
	if !pending {
		return Result{}, m.invalid("fail order")
	}
	side := models.SideBuy
	if m.State() == models.StatePendingExit {
		side = models.SideSell
	}
	return b.Apply(models.ExecutionReport{
		Handle:       h,
		InstrumentID: instrumentID,
		Side:         side,
		Status:       models.ReportRejected,
		Reason:       reason,
		At:           at,
	})
}

// settle books the exit fills accumulated so far as one trade. A partial
// exit shrinks the position by the filled quantity.
func (b *Book) settle(m *Machine, at time.Time) models.TradeRecord {
	p := &m.pos
	qty := p.ExitFilled
	exitPrice := p.ExitNotional / float64(qty)
	bd := b.costs.RoundTrip(p.EntryPrice, exitPrice, qty)

	basis := p.EntryPrice * float64(qty)
	b.budget.Realize(bd.Net)
	if qty < p.Quantity {
		b.budget.Adjust(-basis)
		p.Reserved -= basis
		m.entryNotional -= basis
		p.Quantity -= qty
	}
	p.ExitFilled = 0
	p.ExitNotional = 0

	return models.TradeRecord{
		InstrumentID: p.InstrumentID,
		RuleID:       p.RuleID,
		EntryTime:    p.EntryTime,
		EntryPrice:   p.EntryPrice,
		ExitTime:     at,
		ExitPrice:    exitPrice,
		ExitReason:   p.ExitReason,
		Quantity:     qty,
		GrossPnL:     bd.Gross,
		Commission:   bd.Commission,
		Tax:          bd.Tax,
		Slippage:     bd.Slippage,
		Fees:         bd.Fees,
		RealizedPnL:  bd.Net,
	}
}

func (b *Book) reopen(m *Machine) {
	p := &m.pos
	p.State = models.StateOpen
	p.ExitOrder = ""
	p.ExitReason = models.ExitNone
	p.PendingSince = time.Time{}
	p.CancelSent = false
}

func (b *Book) remove(id string) {
	m := b.active[id]
	delete(b.handles, m.pos.EntryOrder)
	delete(b.handles, m.pos.ExitOrder)
	delete(b.active, id)
}

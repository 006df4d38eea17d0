package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"StockPulse/internal/domain/models"
)

var errReportBufferFull = errors.New("simulated report buffer full")

// RejectFunc decides whether the simulated venue refuses an order.
type RejectFunc func(order models.Order) (reject bool, reason string)

type SimOption func(*Simulated)

// WithRejectFunc makes the venue reject orders for which fn returns true.
func WithRejectFunc(fn RejectFunc) SimOption {
	return func(s *Simulated) { s.reject = fn }
}

// WithManualFills keeps accepted orders pending until Fill or Cancel.
func WithManualFills() SimOption {
	return func(s *Simulated) { s.manual = true }
}

func WithReportBuffer(n int) SimOption {
	return func(s *Simulated) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// Simulated fills market orders at the order's reference price, which the
// scheduler sets to the close of the bar that triggered the decision.
// Fees are not applied here; the cost model books them on the trade.
type Simulated struct {
	mu      sync.Mutex
	reject  RejectFunc
	manual  bool
	buffer  int
	pending map[models.OrderHandle]models.Order
	filled  map[models.OrderHandle]int64
	reports chan models.ExecutionReport
}

func NewSimulated(opts ...SimOption) *Simulated {
	s := &Simulated{
		buffer:  1024,
		pending: make(map[models.OrderHandle]models.Order),
		filled:  make(map[models.OrderHandle]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reports = make(chan models.ExecutionReport, s.buffer)
	return s
}

func (s *Simulated) SubmitEntry(ctx context.Context, order models.Order) (models.OrderHandle, error) {
	return s.submit(ctx, order)
}

func (s *Simulated) SubmitExit(ctx context.Context, order models.Order) (models.OrderHandle, error) {
	return s.submit(ctx, order)
}

func (s *Simulated) submit(ctx context.Context, order models.Order) (models.OrderHandle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if order.ID == "" {
		return "", fmt.Errorf("submit %s %s: missing order id", order.Side, order.InstrumentID)
	}
	if order.Quantity <= 0 {
		return "", fmt.Errorf("submit %s %s: quantity %d", order.Side, order.InstrumentID, order.Quantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reject != nil {
		if ok, reason := s.reject(order); ok {
			return order.ID, s.emit(report(order, models.ReportRejected, 0, 0, reason))
		}
	}
	if s.manual {
		s.pending[order.ID] = order
		return order.ID, nil
	}
	return order.ID, s.emit(report(order, models.ReportFilled, order.RefPrice, order.Quantity, ""))
}

// Fill executes qty of a pending manual order at price. The order stays
// pending until its full quantity is filled.
func (s *Simulated) Fill(handle models.OrderHandle, price float64, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.pending[handle]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownOrder, handle)
	}
	done := s.filled[handle] + qty
	status := models.ReportPartiallyFilled
	if done >= order.Quantity {
		qty = order.Quantity - s.filled[handle]
		status = models.ReportFilled
		delete(s.pending, handle)
		delete(s.filled, handle)
	} else {
		s.filled[handle] = done
	}
	return s.emit(report(order, status, price, qty, ""))
}

// Cancel confirms cancellation of a pending order. Orders that already
// reached a final report are left alone.
func (s *Simulated) Cancel(ctx context.Context, handle models.OrderHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.pending[handle]
	if !ok {
		return nil
	}
	delete(s.pending, handle)
	delete(s.filled, handle)
	return s.emit(report(order, models.ReportCancelConfirmed, 0, 0, "cancelled"))
}

func (s *Simulated) Reports() <-chan models.ExecutionReport { return s.reports }

// Pending lists handles still waiting for a fill or cancel.
func (s *Simulated) Pending() []models.OrderHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.OrderHandle, 0, len(s.pending))
	for h := range s.pending {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Simulated) emit(r models.ExecutionReport) error {
	select {
	case s.reports <- r:
		return nil
	default:
		return errReportBufferFull
	}
}

func report(o models.Order, status models.ReportStatus, price float64, qty int64, reason string) models.ExecutionReport {
	return models.ExecutionReport{
		Handle:       o.ID,
		InstrumentID: o.InstrumentID,
		Side:         o.Side,
		Status:       status,
		FillPrice:    price,
		FilledQty:    qty,
		Reason:       reason,
		At:           o.RequestedAt,
	}
}

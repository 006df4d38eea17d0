package execution

import (
	"context"
	"fmt"
	"sync"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
)

const maxOrphanNotices = 256

// BrokerAdapter routes orders to a live broker and turns its execution
// notices into reports. The broker knows orders by its own order number, so
// notices that arrive before PlaceOrder has returned are held until the
// mapping exists.
type BrokerAdapter struct {
	broker repository.Broker
	log    *applogger.Logger

	mu       sync.Mutex
	orders   map[string]models.Order // broker order id -> order
	brokerID map[models.OrderHandle]string
	orphans  map[string][]models.BrokerNotice
	nOrphans int

	reports chan models.ExecutionReport
}

func NewBrokerAdapter(broker repository.Broker, log *applogger.Logger) *BrokerAdapter {
	return &BrokerAdapter{
		broker:   broker,
		log:      log,
		orders:   make(map[string]models.Order),
		brokerID: make(map[models.OrderHandle]string),
		orphans:  make(map[string][]models.BrokerNotice),
		reports:  make(chan models.ExecutionReport, 256),
	}
}

func (a *BrokerAdapter) SubmitEntry(ctx context.Context, order models.Order) (models.OrderHandle, error) {
	return a.submit(ctx, order)
}

func (a *BrokerAdapter) SubmitExit(ctx context.Context, order models.Order) (models.OrderHandle, error) {
	return a.submit(ctx, order)
}

func (a *BrokerAdapter) submit(ctx context.Context, order models.Order) (models.OrderHandle, error) {
	id, err := a.broker.PlaceOrder(ctx, order)
	if err != nil {
		return "", fmt.Errorf("%w: place %s %s: %v", models.ErrOrderRejected, order.Side, order.InstrumentID, err)
	}

	a.mu.Lock()
	a.orders[id] = order
	a.brokerID[order.ID] = id
	early := a.orphans[id]
	delete(a.orphans, id)
	a.nOrphans -= len(early)
	a.mu.Unlock()

	for _, n := range early {
		a.deliver(ctx, n)
	}
	return order.ID, nil
}

func (a *BrokerAdapter) Cancel(ctx context.Context, handle models.OrderHandle) error {
	a.mu.Lock()
	id, ok := a.brokerID[handle]
	var instrument string
	if ok {
		instrument = a.orders[id].InstrumentID
	}
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: cancel %s", models.ErrUnknownOrder, handle)
	}
	if err := a.broker.CancelOrder(ctx, id, instrument); err != nil {
		return fmt.Errorf("cancel %s: %w", handle, err)
	}
	return nil
}

func (a *BrokerAdapter) Reports() <-chan models.ExecutionReport { return a.reports }

// Run consumes broker notices until ctx is cancelled or the notice stream ends.
func (a *BrokerAdapter) Run(ctx context.Context) error {
	notices, errs := a.broker.Notices(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			a.log.Warn("broker notice stream error", applogger.Error(err))
		case n, ok := <-notices:
			if !ok {
				return nil
			}
			a.deliver(ctx, n)
		}
	}
}

func (a *BrokerAdapter) deliver(ctx context.Context, n models.BrokerNotice) {
	a.mu.Lock()
	order, ok := a.orders[n.BrokerOrderID]
	if !ok {
		if a.nOrphans < maxOrphanNotices {
			a.orphans[n.BrokerOrderID] = append(a.orphans[n.BrokerOrderID], n)
			a.nOrphans++
		} else {
			a.log.Warn("dropping notice for unknown broker order",
				applogger.String("broker_order_id", n.BrokerOrderID),
				applogger.String("instrument", n.InstrumentID),
			)
		}
		a.mu.Unlock()
		return
	}
	if n.Status != models.ReportPartiallyFilled {
		delete(a.orders, n.BrokerOrderID)
		delete(a.brokerID, order.ID)
	}
	a.mu.Unlock()

	r := models.ExecutionReport{
		Handle:       order.ID,
		InstrumentID: order.InstrumentID,
		Side:         order.Side,
		Status:       n.Status,
		FillPrice:    n.FillPrice,
		FilledQty:    n.FilledQty,
		Reason:       n.Reason,
		At:           n.At,
	}
	select {
	case a.reports <- r:
	case <-ctx.Done():
	}
}

// Close releases the broker connection.
func (a *BrokerAdapter) Close() error {
	return a.broker.Close()
}

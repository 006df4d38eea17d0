package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	applogger "StockPulse/pkg/logger"
)

var at = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func TestOrderIDsDeterministic(t *testing.T) {
	a, b := NewOrderIDs("run-1"), NewOrderIDs("run-1")
	for i := 0; i < 3; i++ {
		assert.Equal(t, a.Next("005930", models.SideBuy, at), b.Next("005930", models.SideBuy, at))
	}

	c := NewOrderIDs("run-2")
	assert.NotEqual(t, NewOrderIDs("run-1").Next("005930", models.SideBuy, at), c.Next("005930", models.SideBuy, at))

	g := NewOrderIDs("run-1")
	first := g.Next("005930", models.SideBuy, at)
	second := g.Next("005930", models.SideBuy, at)
	assert.NotEqual(t, first, second, "sequence must disambiguate same-instant orders")
	assert.Len(t, string(first), 36)
}

func order(id string, side models.Side, qty int64, px float64) models.Order {
	return models.Order{
		ID: models.OrderHandle(id), InstrumentID: "X", Side: side,
		Quantity: qty, Kind: models.OrderMarket, RefPrice: px, RequestedAt: at,
	}
}

func TestSimulatedFillsAtReferencePrice(t *testing.T) {
	s := NewSimulated()
	h, err := s.SubmitEntry(context.Background(), order("o1", models.SideBuy, 20, 10000))
	require.NoError(t, err)
	assert.Equal(t, models.OrderHandle("o1"), h)

	r := <-s.Reports()
	assert.Equal(t, models.ReportFilled, r.Status)
	assert.Equal(t, 10000.0, r.FillPrice)
	assert.Equal(t, int64(20), r.FilledQty)
	assert.Equal(t, at, r.At)
	assert.Equal(t, models.SideBuy, r.Side)
}

func TestSimulatedReject(t *testing.T) {
	s := NewSimulated(WithRejectFunc(func(o models.Order) (bool, string) {
		return o.Side == models.SideSell, "market closed"
	}))
	_, err := s.SubmitExit(context.Background(), order("o1", models.SideSell, 5, 100))
	require.NoError(t, err)
	r := <-s.Reports()
	assert.Equal(t, models.ReportRejected, r.Status)
	assert.Equal(t, "market closed", r.Reason)
	assert.Zero(t, r.FilledQty)
}

func TestSimulatedManualPartialAndCancel(t *testing.T) {
	s := NewSimulated(WithManualFills())
	ctx := context.Background()
	_, err := s.SubmitEntry(ctx, order("o1", models.SideBuy, 10, 100))
	require.NoError(t, err)
	assert.Equal(t, []models.OrderHandle{"o1"}, s.Pending())

	require.NoError(t, s.Fill("o1", 101, 4))
	r := <-s.Reports()
	assert.Equal(t, models.ReportPartiallyFilled, r.Status)
	assert.Equal(t, int64(4), r.FilledQty)

	require.NoError(t, s.Cancel(ctx, "o1"))
	r = <-s.Reports()
	assert.Equal(t, models.ReportCancelConfirmed, r.Status)
	assert.Empty(t, s.Pending())

	// a second cancel of a finished order is a no-op
	require.NoError(t, s.Cancel(ctx, "o1"))
	assert.Len(t, s.Reports(), 0)

	err = s.Fill("o1", 100, 1)
	assert.True(t, errors.Is(err, models.ErrUnknownOrder))
}

func TestSimulatedManualOverfillCapsAtQuantity(t *testing.T) {
	s := NewSimulated(WithManualFills())
	_, err := s.SubmitEntry(context.Background(), order("o1", models.SideBuy, 10, 100))
	require.NoError(t, err)
	require.NoError(t, s.Fill("o1", 100, 6))
	require.NoError(t, s.Fill("o1", 100, 6))
	<-s.Reports()
	r := <-s.Reports()
	assert.Equal(t, models.ReportFilled, r.Status)
	assert.Equal(t, int64(4), r.FilledQty)
}

func TestSimulatedBufferFull(t *testing.T) {
	s := NewSimulated(WithReportBuffer(1))
	ctx := context.Background()
	_, err := s.SubmitEntry(ctx, order("o1", models.SideBuy, 1, 100))
	require.NoError(t, err)
	_, err = s.SubmitEntry(ctx, order("o2", models.SideBuy, 1, 100))
	assert.Error(t, err)
}

func TestSimulatedValidatesOrder(t *testing.T) {
	s := NewSimulated()
	_, err := s.SubmitEntry(context.Background(), order("", models.SideBuy, 1, 100))
	assert.Error(t, err)
	_, err = s.SubmitEntry(context.Background(), order("o1", models.SideBuy, 0, 100))
	assert.Error(t, err)
}

type fakeBroker struct {
	mu        sync.Mutex
	placed    []models.Order
	cancelled []string
	notices   chan models.BrokerNotice
	// beforeReturn runs inside PlaceOrder, simulating a notice that races the response.
	beforeReturn func(id string)
	failPlace    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{notices: make(chan models.BrokerNotice, 8)}
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, o models.Order) (string, error) {
	if b.failPlace != nil {
		return "", b.failPlace
	}
	b.mu.Lock()
	b.placed = append(b.placed, o)
	id := "B" + string(o.ID)
	b.mu.Unlock()
	if b.beforeReturn != nil {
		b.beforeReturn(id)
	}
	return id, nil
}

func (b *fakeBroker) CancelOrder(ctx context.Context, brokerOrderID, instrumentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, brokerOrderID)
	return nil
}

func (b *fakeBroker) Notices(ctx context.Context) (<-chan models.BrokerNotice, <-chan error) {
	return b.notices, make(chan error)
}

func (b *fakeBroker) Close() error { return nil }

func TestBrokerAdapterMapsNotices(t *testing.T) {
	fb := newFakeBroker()
	a := NewBrokerAdapter(fb, applogger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	h, err := a.SubmitEntry(ctx, order("o1", models.SideBuy, 10, 100))
	require.NoError(t, err)

	fb.notices <- models.BrokerNotice{BrokerOrderID: "Bo1", Status: models.ReportFilled, FillPrice: 100.5, FilledQty: 10, At: at}
	select {
	case r := <-a.Reports():
		assert.Equal(t, h, r.Handle)
		assert.Equal(t, "X", r.InstrumentID)
		assert.Equal(t, models.SideBuy, r.Side)
		assert.Equal(t, 100.5, r.FillPrice)
	case <-time.After(time.Second):
		t.Fatal("no report")
	}

	// terminal notice forgets the mapping
	assert.True(t, errors.Is(a.Cancel(ctx, h), models.ErrUnknownOrder))
}

func TestBrokerAdapterEarlyNotice(t *testing.T) {
	fb := newFakeBroker()
	a := NewBrokerAdapter(fb, applogger.NewNop())
	ctx := context.Background()
	fb.beforeReturn = func(id string) {
		a.deliver(ctx, models.BrokerNotice{BrokerOrderID: id, Status: models.ReportPartiallyFilled, FillPrice: 100, FilledQty: 3, At: at})
	}

	h, err := a.SubmitEntry(ctx, order("o1", models.SideBuy, 10, 100))
	require.NoError(t, err)

	r := <-a.Reports()
	assert.Equal(t, h, r.Handle)
	assert.Equal(t, models.ReportPartiallyFilled, r.Status)

	require.NoError(t, a.Cancel(ctx, h))
	assert.Equal(t, []string{"Bo1"}, fb.cancelled)
}

func TestBrokerAdapterPlaceError(t *testing.T) {
	fb := newFakeBroker()
	fb.failPlace = errors.New("http 500")
	a := NewBrokerAdapter(fb, applogger.NewNop())
	_, err := a.SubmitEntry(context.Background(), order("o1", models.SideBuy, 10, 100))
	assert.True(t, errors.Is(err, models.ErrOrderRejected))
}

package repository

import (
	"context"
	"time"

	"StockPulse/internal/domain/models"
)

// MarketStream is a live feed connection yielding bars in time order per instrument.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, instruments []string) error
	Read(ctx context.Context) (<-chan models.MarketEvent, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventSource is the pull side used by backtests. Next returns
// models.ErrEndOfStream once exhausted.
type EventSource interface {
	Next(ctx context.Context) (models.MarketEvent, error)
}

// TradeSink receives closed trades in log order.
type TradeSink interface {
	SaveTrades(ctx context.Context, trades []models.TradeRecord) error
	Close() error
}

type BarStore interface {
	Init(ctx context.Context) error
	StoreBars(ctx context.Context, bars []models.MarketEvent) error
	LoadBars(ctx context.Context, instruments []string, from, to time.Time) ([]models.MarketEvent, error)
	// PrevDayVolumes returns each instrument's total volume on the last session before day.
	PrevDayVolumes(ctx context.Context, instruments []string, day time.Time) (map[string]float64, error)
	Health(ctx context.Context) error
	Close() error
}

type TradeStore interface {
	TradeSink
	Init(ctx context.Context) error
	QueryTrades(ctx context.Context, instrument string, limit int) ([]models.TradeRecord, error)
	SaveWalkForward(ctx context.Context, report models.WalkForwardReport) error
}

// StateStore keeps live trader state outside the process.
type StateStore interface {
	SaveStatus(ctx context.Context, status models.TraderStatus) error
	LoadStatus(ctx context.Context) (*models.TraderStatus, error)
	SetHalted(ctx context.Context, halted bool, reason string) error
	Halted(ctx context.Context) (bool, string, error)
	AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, owner string) error
	SaveJob(ctx context.Context, job models.OptimizeJobState) error
	LoadJob(ctx context.Context, id string) (*models.OptimizeJobState, error)
}

// Broker is the live order transport. Auth and retries live behind it.
type Broker interface {
	PlaceOrder(ctx context.Context, order models.Order) (string, error)
	CancelOrder(ctx context.Context, brokerOrderID, instrumentID string) error
	Notices(ctx context.Context) (<-chan models.BrokerNotice, <-chan error)
	Close() error
}

type Metrics interface {
	RecordEvent(instrument string)
	RecordStaleEvent(instrument string)
	RecordSignal(rule string)
	RecordRiskRejection(reason string)
	RecordOrder(side, result string)
	RecordTrade(reason string, pnl float64)
	SetOpenPositions(n int)
	SetCommittedCapital(v float64)
	SetFeedConnected(connected bool)
	RecordLatency(op string, seconds float64)
	RecordError(kind string)
}

package usecase

import (
	"context"
	"sync"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	applogger "StockPulse/pkg/logger"
	pkgmetrics "StockPulse/pkg/metrics"
)

// TradeJournal receives closed trades from the scheduler, keeps the most
// recent ones in memory and writes them to the sink in batches.
type TradeJournal struct {
	sink    drepo.TradeSink
	metrics drepo.Metrics
	l       *applogger.Logger
	keep    int
	batchTO time.Duration
	queue   chan models.TradeRecord

	mu     sync.RWMutex
	recent []models.TradeRecord
}

// NewTradeJournal keeps up to keep trades in memory. sink may be nil.
func NewTradeJournal(sink drepo.TradeSink, keep int, metrics drepo.Metrics, l *applogger.Logger) *TradeJournal {
	if keep <= 0 {
		keep = 1000
	}
	if l == nil {
		l = applogger.NewNop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &TradeJournal{
		sink:    sink,
		metrics: metrics,
		l:       l,
		keep:    keep,
		batchTO: 2 * time.Second,
		queue:   make(chan models.TradeRecord, 1024),
	}
}

// Record is the scheduler's trade hook. It never blocks the trading loop;
// when the sink falls behind the trade stays in memory only.
func (j *TradeJournal) Record(tr models.TradeRecord) {
	j.mu.Lock()
	j.recent = append(j.recent, tr)
	if over := len(j.recent) - j.keep; over > 0 {
		j.recent = append(j.recent[:0:0], j.recent[over:]...)
	}
	j.mu.Unlock()

	if j.sink == nil {
		return
	}
	select {
	case j.queue <- tr:
	default:
		j.metrics.RecordError("trade_sink_full")
		j.l.Error("trade sink queue full, trade not persisted",
			applogger.String("instrument", tr.InstrumentID),
			applogger.Time("exit_time", tr.ExitTime),
		)
	}
}

// Recent returns up to limit trades, newest first. An empty instrument
// matches every trade.
func (j *TradeJournal) Recent(instrument string, limit int) []models.TradeRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]models.TradeRecord, 0)
	for i := len(j.recent) - 1; i >= 0 && len(out) < limit; i-- {
		if instrument == "" || j.recent[i].InstrumentID == instrument {
			out = append(out, j.recent[i])
		}
	}
	return out
}

// Run writes queued trades until ctx ends, then flushes what is left.
func (j *TradeJournal) Run(ctx context.Context) {
	if j.sink == nil {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(j.batchTO)
	defer ticker.Stop()

	var batch []models.TradeRecord
	for {
		select {
		case <-ctx.Done():
		drain:
			for {
				select {
				case tr := <-j.queue:
					batch = append(batch, tr)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			j.save(flushCtx, batch)
			cancel()
			return
		case tr := <-j.queue:
			batch = append(batch, tr)
			if len(batch) >= 100 {
				j.save(ctx, batch)
				batch = nil
			}
		case <-ticker.C:
			j.save(ctx, batch)
			batch = nil
		}
	}
}

func (j *TradeJournal) save(ctx context.Context, batch []models.TradeRecord) {
	if len(batch) == 0 {
		return
	}
	if err := j.sink.SaveTrades(ctx, batch); err != nil {
		j.metrics.RecordError("trade_sink")
		j.l.Error("save trades failed", applogger.Int("trades", len(batch)), applogger.Error(err))
	}
}

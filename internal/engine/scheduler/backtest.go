package scheduler

import (
	"context"
	"errors"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	"StockPulse/internal/engine/report"
	applogger "StockPulse/pkg/logger"
)

// flushRounds bounds the end-of-stream loop; each round either exits open
// positions or cancels pending orders.
const flushRounds = 4

// RunBacktest replays src to exhaustion on the event-time clock. Reports
// are drained after every event, so with a fill-on-submit adapter each
// decision is settled before the next event is seen. Positions still open
// at the end are closed at their last price with EndOfSession.
func (s *Scheduler) RunBacktest(ctx context.Context, src repository.EventSource) (models.BacktestResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.BacktestResult{}, err
		}
		ev, err := src.Next(ctx)
		if errors.Is(err, models.ErrEndOfStream) {
			break
		}
		if err != nil {
			return models.BacktestResult{}, err
		}
		if err := s.Step(ctx, ev); err != nil {
			return models.BacktestResult{}, err
		}
		s.drain()
	}

	s.flush(ctx)
	s.publish()
	return s.result(), nil
}

func (s *Scheduler) flush(ctx context.Context) {
	for round := 0; round < flushRounds && s.book.Len() > 0; round++ {
		for _, id := range s.book.OpenIDs() {
			pos, _ := s.book.Get(id)
			s.submitExit(ctx, id, models.ExitEndOfSession, pos.LastPrice)
		}
		s.drain()

		for _, pos := range s.book.Positions() {
			h := pos.EntryOrder
			if pos.State == models.StatePendingExit {
				h = pos.ExitOrder
			}
			if h == "" {
				continue
			}
			if err := s.adapter.Cancel(ctx, h); err != nil {
				s.log.Error("cancel at end of stream", applogger.String("instrument", pos.InstrumentID), applogger.Error(err))
			}
		}
		s.drain()
	}
	if n := s.book.Len(); n > 0 {
		s.log.Warn("positions left unresolved at end of stream", applogger.Int("count", n))
	}
}

func (s *Scheduler) result() models.BacktestResult {
	rej := make(map[string]int, len(s.rejections))
	for k, v := range s.rejections {
		rej[k] = v
	}
	trades := s.Trades()
	return models.BacktestResult{
		Trades:      trades,
		Summary:     report.Summarize(trades),
		Events:      s.events,
		StaleEvents: s.stale,
		Signals:     s.signals,
		Rejections:  rej,
		FinalBudget: *s.budget,
	}
}

package scheduler

import (
	"context"
	"time"

	"StockPulse/internal/domain/models"
	applogger "StockPulse/pkg/logger"
)

// Enqueue hands a live event to the Run loop. It blocks while the inbox is
// full and returns ctx.Err() if ctx ends first.
func (s *Scheduler) Enqueue(ctx context.Context, ev models.MarketEvent) error {
	select {
	case s.inbox <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches events, execution reports and clock ticks from a single
// goroutine until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.lastFeed = s.clock.Now()
	s.feedConnected = true
	s.metrics.SetFeedConnected(true)
	s.publish()

	reports := s.adapter.Reports()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-s.inbox:
			start := time.Now()
			s.feedAlive()
			if err := s.Step(ctx, ev); err != nil {
				s.metrics.RecordError("step")
				s.log.Error("step", applogger.String("instrument", ev.InstrumentID), applogger.Error(err))
			}
			s.metrics.RecordLatency("step", time.Since(start).Seconds())

		case r, ok := <-reports:
			if !ok {
				reports = nil
				continue
			}
			s.HandleReport(r)

		case now := <-ticker.C():
			s.tick(ctx, now)
		}
		s.publish()
	}
}

// feedAlive records a delivered event and lifts a halt the feed monitor raised.
func (s *Scheduler) feedAlive() {
	s.lastFeed = s.clock.Now()
	s.liquidated = false
	if s.feedConnected {
		return
	}
	s.feedConnected = true
	s.metrics.SetFeedConnected(true)
	s.log.Info("market feed resumed")
	if halted, reason := s.gate.Halted(); halted && reason == feedHaltReason {
		s.Resume()
	}
}

// tick runs the time-driven work: order timeouts, the feed monitor and the
// end-of-session flatten.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.expireOrders(ctx, now)

	if s.cal.InSession(now) {
		gap := now.Sub(s.lastFeed)
		if s.feedConnected && gap >= s.cfg.StaleAfter {
			s.feedConnected = false
			s.metrics.SetFeedConnected(false)
			s.log.Error("market feed silent, halting entries",
				applogger.Error(models.ErrFeedDisconnected),
				applogger.Duration("gap_ms", gap),
			)
			s.Halt(feedHaltReason)
		}
		if !s.feedConnected && !s.liquidated && gap >= s.cfg.LiquidateAfter {
			s.liquidated = true
			ids := s.book.OpenIDs()
			s.log.Error("safety liquidation",
				applogger.Error(models.ErrFeedDisconnected),
				applogger.Int("positions", len(ids)),
			)
			for _, id := range ids {
				pos, _ := s.book.Get(id)
				s.submitExit(ctx, id, models.ExitSafetyLiquidation, pos.LastPrice)
			}
		}
	}

	if s.cal.AtForceClose(now) && s.cal.InSession(now) {
		for _, id := range s.book.OpenIDs() {
			pos, _ := s.book.Get(id)
			s.submitExit(ctx, id, models.ExitEndOfSession, pos.LastPrice)
		}
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	"StockPulse/internal/engine/cost"
	"StockPulse/internal/engine/execution"
	"StockPulse/internal/engine/indicator"
	"StockPulse/internal/engine/position"
	"StockPulse/internal/engine/risk"
	"StockPulse/internal/engine/signal"
	applogger "StockPulse/pkg/logger"
	"StockPulse/pkg/metrics"
	"StockPulse/pkg/util"
)

const feedHaltReason = "feed disconnected"

type Config struct {
	Mode   models.Mode
	Params models.StrategyParams
	// RunKey scopes order ids; identical keys and inputs give identical ids.
	RunKey string

	// Live loop settings.
	InboxSize      int
	TickInterval   time.Duration
	StaleAfter     time.Duration
	LiquidateAfter time.Duration
}

type Option func(*Scheduler)

func WithLogger(l *applogger.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTradeHook is called from the scheduler goroutine for every closed trade.
func WithTradeHook(fn func(models.TradeRecord)) Option {
	return func(s *Scheduler) { s.onTrade = fn }
}

// WithPrevDayVolumes seeds the previous-session volume per instrument.
func WithPrevDayVolumes(v map[string]float64) Option {
	return func(s *Scheduler) { s.seeds = v }
}

// Scheduler owns the logical clock and every piece of mutable trading
// state. All of it is touched from one goroutine: the caller of Step and
// RunBacktest, or the Run loop in live mode. Status, Halt, Resume and
// Enqueue are safe to call from anywhere.
type Scheduler struct {
	cfg     Config
	cal     *util.Calendar
	ind     *indicator.Engine
	eval    *signal.Evaluator
	gate    *risk.Gate
	book    *position.Book
	budget  *models.RiskBudget
	adapter execution.Adapter
	ids     *execution.OrderIDs

	log     *applogger.Logger
	metrics repository.Metrics
	clock   Clock
	onTrade func(models.TradeRecord)
	seeds   map[string]float64

	now         time.Time
	lastEventAt time.Time
	events      int64
	stale       int64
	signals     int64
	rejections  map[string]int
	trades      []models.TradeRecord

	// live feed monitor
	inbox         chan models.MarketEvent
	lastFeed      time.Time
	feedConnected bool
	liquidated    bool

	statusMu sync.RWMutex
	status   models.TraderStatus
}

// New validates params and wires a fresh engine around adapter.
func New(cfg Config, adapter execution.Adapter, opts ...Option) (*Scheduler, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	cal, err := cfg.Params.Session.Calendar()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	if cfg.Mode == "" {
		cfg.Mode = models.ModeBacktest
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 4096
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Second
	}
	if cfg.LiquidateAfter <= 0 {
		cfg.LiquidateAfter = 5 * time.Minute
	}

	budget := models.NewRiskBudget(cfg.Params.Risk.TotalCapital)
	s := &Scheduler{
		cfg:        cfg,
		cal:        cal,
		ind:        indicator.New(indicator.ConfigFromParams(cfg.Params, cal)),
		gate:       risk.NewGate(cfg.Params.Risk),
		book:       position.NewBook(cfg.Params.Exit, cost.New(cfg.Params.Cost), budget),
		budget:     budget,
		adapter:    adapter,
		ids:        execution.NewOrderIDs(cfg.RunKey),
		log:        applogger.NewNop(),
		metrics:    metrics.Nop{},
		clock:      SystemClock(),
		rejections: make(map[string]int),
		inbox:      make(chan models.MarketEvent, cfg.InboxSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.eval = signal.NewEvaluator(cfg.Params, cal, s.book)
	for id, v := range s.seeds {
		s.ind.SeedPrevDayVolume(id, v)
	}
	return s, nil
}

// Step processes one market event to completion, except for reports the
// adapter delivers asynchronously.
func (s *Scheduler) Step(ctx context.Context, ev models.MarketEvent) error {
	if ev.Timestamp.After(s.now) {
		s.now = ev.Timestamp
	}
	if s.budget.Rollover(s.cal.SessionDate(ev.Timestamp)) {
		s.log.Info("session rollover",
			applogger.String("trading_day", s.budget.TradingDay),
			applogger.Float64("realized_pnl_total", s.budget.RealizedPnLTotal),
		)
	}

	snap, err := s.ind.Update(ev)
	if err != nil {
		if errors.Is(err, models.ErrStaleEvent) {
			s.stale++
			s.metrics.RecordStaleEvent(ev.InstrumentID)
			s.log.Debug("stale event dropped",
				applogger.String("instrument", ev.InstrumentID),
				applogger.Time("timestamp", ev.Timestamp),
			)
			return nil
		}
		return fmt.Errorf("indicator update %s: %w", ev.InstrumentID, err)
	}
	s.events++
	s.lastEventAt = ev.Timestamp
	s.metrics.RecordEvent(ev.InstrumentID)

	s.expireOrders(ctx, s.orderTime())

	if s.book.HasActive(ev.InstrumentID) {
		s.observe(ctx, snap)
	}
	s.evaluate(ctx, snap)
	return nil
}

func (s *Scheduler) orderTime() time.Time {
	if s.cfg.Mode == models.ModeLive {
		return s.clock.Now()
	}
	return s.now
}

func (s *Scheduler) observe(ctx context.Context, snap models.IndicatorSnapshot) {
	pos, _ := s.book.Get(snap.InstrumentID)
	force := s.cal.AtForceClose(snap.Timestamp)
	if pos.State == models.StateOpen && s.cal.SessionDate(pos.EntryTime) != snap.SessionDate {
		force = true
	}
	if reason := s.book.Observe(snap, force); reason != models.ExitNone {
		s.submitExit(ctx, snap.InstrumentID, reason, snap.Close)
	}
}

func (s *Scheduler) evaluate(ctx context.Context, snap models.IndicatorSnapshot) {
	c, out := s.eval.Evaluate(snap.InstrumentID, snap)
	if out.Verdict != signal.VerdictEmitted {
		if out.Verdict == signal.VerdictFiltered {
			s.log.Debug("candidate filtered",
				applogger.String("instrument", snap.InstrumentID),
				applogger.String("rule", out.Rule),
				applogger.String("filter", out.Filter),
			)
		}
		return
	}
	s.signals++
	s.metrics.RecordSignal(c.RuleID)

	adm := s.gate.Admit(c, s.budget)
	if !adm.Admitted {
		s.rejections[string(adm.Reason)]++
		s.metrics.RecordRiskRejection(string(adm.Reason))
		s.log.Info("candidate rejected",
			applogger.String("instrument", c.InstrumentID),
			applogger.String("rule", c.RuleID),
			applogger.Error(adm.Err()),
		)
		return
	}

	at := s.orderTime()
	h := s.ids.Next(c.InstrumentID, models.SideBuy, at)
	if err := s.book.Open(c, adm.Quantity, adm.Notional, h, at); err != nil {
		s.budget.Release(adm.Notional)
		s.log.Error("open position", applogger.String("instrument", c.InstrumentID), applogger.Error(err))
		return
	}
	order := models.Order{
		ID:           h,
		InstrumentID: c.InstrumentID,
		Side:         models.SideBuy,
		Quantity:     adm.Quantity,
		Kind:         models.OrderMarket,
		RefPrice:     adm.Price,
		RequestedAt:  at,
	}
	s.log.Info("entry submitted",
		applogger.String("instrument", c.InstrumentID),
		applogger.String("rule", c.RuleID),
		applogger.Int64("quantity", adm.Quantity),
		applogger.Float64("price", adm.Price),
		applogger.Float64("confidence", c.Confidence),
	)
	if _, err := s.adapter.SubmitEntry(ctx, order); err != nil {
		s.metrics.RecordOrder(string(models.SideBuy), "error")
		s.failOrder(c.InstrumentID, err, at)
		return
	}
	s.metrics.RecordOrder(string(models.SideBuy), "submitted")
}

func (s *Scheduler) submitExit(ctx context.Context, instrumentID string, reason models.ExitReason, price float64) {
	pos, ok := s.book.Get(instrumentID)
	if !ok || pos.State != models.StateOpen {
		return
	}
	at := s.orderTime()
	h := s.ids.Next(instrumentID, models.SideSell, at)
	if err := s.book.BeginExit(instrumentID, reason, h, at); err != nil {
		s.log.Error("begin exit", applogger.String("instrument", instrumentID), applogger.Error(err))
		return
	}
	order := models.Order{
		ID:           h,
		InstrumentID: instrumentID,
		Side:         models.SideSell,
		Quantity:     pos.Quantity,
		Kind:         models.OrderMarket,
		RefPrice:     price,
		RequestedAt:  at,
		Reason:       reason,
	}
	s.log.Info("exit submitted",
		applogger.String("instrument", instrumentID),
		applogger.String("reason", string(reason)),
		applogger.Int64("quantity", pos.Quantity),
		applogger.Float64("price", price),
	)
	if _, err := s.adapter.SubmitExit(ctx, order); err != nil {
		s.metrics.RecordOrder(string(models.SideSell), "error")
		s.failOrder(instrumentID, err, at)
		return
	}
	s.metrics.RecordOrder(string(models.SideSell), "submitted")
}

func (s *Scheduler) failOrder(instrumentID string, cause error, at time.Time) {
	s.log.Warn("order submission failed", applogger.String("instrument", instrumentID), applogger.Error(cause))
	res, err := s.book.Fail(instrumentID, cause.Error(), at)
	if err != nil {
		s.log.Error("fail order", applogger.String("instrument", instrumentID), applogger.Error(err))
		return
	}
	s.apply(res)
}

func (s *Scheduler) expireOrders(ctx context.Context, now time.Time) {
	for _, t := range s.book.Timeouts(now) {
		s.log.Warn("order timed out, cancel requested",
			applogger.String("instrument", t.InstrumentID),
			applogger.String("side", string(t.Side)),
			applogger.String("order", string(t.Handle)),
		)
		if err := s.adapter.Cancel(ctx, t.Handle); err != nil {
			s.metrics.RecordError("cancel")
			s.log.Error("cancel order", applogger.String("order", string(t.Handle)), applogger.Error(err))
		}
	}
}

// HandleReport applies one execution report.
func (s *Scheduler) HandleReport(r models.ExecutionReport) {
	res, err := s.book.Apply(r)
	if err != nil {
		s.metrics.RecordError("report")
		if errors.Is(err, models.ErrUnknownOrder) {
			s.log.Warn("report for unknown order", applogger.String("order", string(r.Handle)), applogger.Error(err))
			return
		}
		s.log.Error("apply report", applogger.String("order", string(r.Handle)), applogger.Error(err))
		return
	}
	s.apply(res)
}

func (s *Scheduler) apply(res position.Result) {
	id := res.InstrumentID
	if res.Opened {
		s.ind.MarkEntry(id, res.Position.EntryPrice)
		s.metrics.RecordOrder(string(models.SideBuy), "filled")
		s.log.Info("position opened",
			applogger.String("instrument", id),
			applogger.Int64("quantity", res.Position.Quantity),
			applogger.Float64("entry_price", res.Position.EntryPrice),
		)
	}
	if res.Err != nil {
		result := "rejected"
		if errors.Is(res.Err, models.ErrOrderTimeout) {
			result = "expired"
		}
		side := models.SideBuy
		if res.From == models.StatePendingExit {
			side = models.SideSell
		}
		s.metrics.RecordOrder(string(side), result)
		s.log.Warn("order ended unfilled",
			applogger.String("instrument", id),
			applogger.String("state", string(res.To)),
			applogger.Error(res.Err),
		)
	}
	for _, tr := range res.Trades {
		s.trades = append(s.trades, tr)
		s.metrics.RecordOrder(string(models.SideSell), "filled")
		s.metrics.RecordTrade(string(tr.ExitReason), tr.RealizedPnL)
		s.log.Info("trade closed",
			applogger.String("instrument", tr.InstrumentID),
			applogger.String("reason", string(tr.ExitReason)),
			applogger.Int64("quantity", tr.Quantity),
			applogger.Float64("exit_price", tr.ExitPrice),
			applogger.Float64("realized_pnl", tr.RealizedPnL),
		)
		if s.onTrade != nil {
			s.onTrade(tr)
		}
	}
	if res.Removed {
		s.ind.ClearEntry(id)
	}
	s.metrics.SetOpenPositions(s.budget.OpenPositionCount)
	s.metrics.SetCommittedCapital(s.budget.CommittedCapital)
}

// drain applies every report already queued by the adapter.
func (s *Scheduler) drain() {
	for {
		select {
		case r := <-s.adapter.Reports():
			s.HandleReport(r)
		default:
			return
		}
	}
}

// Budget returns a copy of the risk budget.
func (s *Scheduler) Budget() models.RiskBudget { return *s.budget }

// Positions returns copies of all non-terminal positions.
func (s *Scheduler) Positions() []models.Position { return s.book.Positions() }

// Trades returns the trade log so far.
func (s *Scheduler) Trades() []models.TradeRecord {
	out := make([]models.TradeRecord, len(s.trades))
	copy(out, s.trades)
	return out
}

// Halt stops new entries. Exits keep running.
func (s *Scheduler) Halt(reason string) {
	s.gate.Halt(reason)
	s.log.Warn("trading halted", applogger.String("reason", reason))
	s.statusMu.Lock()
	s.status.Halted, s.status.HaltReason = true, reason
	s.statusMu.Unlock()
}

func (s *Scheduler) Resume() {
	s.gate.Resume()
	s.log.Info("trading resumed")
	s.statusMu.Lock()
	s.status.Halted, s.status.HaltReason = false, ""
	s.statusMu.Unlock()
}

// Status returns the snapshot published after the last processed input.
func (s *Scheduler) Status() models.TraderStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st := s.status
	st.Positions = append([]models.Position(nil), s.status.Positions...)
	return st
}

func (s *Scheduler) publish() {
	halted, reason := s.gate.Halted()
	st := models.TraderStatus{
		Mode:            s.cfg.Mode,
		Halted:          halted,
		HaltReason:      reason,
		FeedConnected:   s.feedConnected,
		Clock:           s.now,
		LastEventAt:     s.lastEventAt,
		EventsProcessed: s.events,
		StaleEvents:     s.stale,
		Budget:          *s.budget,
		Positions:       s.book.Positions(),
		TradeCount:      len(s.trades),
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

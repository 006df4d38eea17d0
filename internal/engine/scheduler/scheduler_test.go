package scheduler

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/engine/execution"
	"StockPulse/internal/engine/report"
)

var kst = time.FixedZone("KST", 9*3600)

func at(day, h, m, s int) time.Time {
	return time.Date(2024, 3, day, h, m, s, 0, kst)
}

func bar(id string, ts time.Time, px, vol float64) models.MarketEvent {
	return models.MarketEvent{InstrumentID: id, Timestamp: ts, Open: px, High: px, Low: px, Close: px, Volume: vol}
}

// volumeOnly leaves the volume-spike rule as the only entry trigger.
func volumeOnly() models.StrategyParams {
	p := models.DefaultStrategyParams()
	p.Entry.Breakout.Enabled = false
	p.Entry.Momentum.Enabled = false
	p.Entry.GradualRise.Enabled = false
	return p
}

func seeds(ids ...string) map[string]float64 {
	m := make(map[string]float64)
	for _, id := range ids {
		m[id] = 100000
	}
	return m
}

func newBacktest(t *testing.T, p models.StrategyParams, adapter execution.Adapter, ids ...string) *Scheduler {
	t.Helper()
	s, err := New(Config{Mode: models.ModeBacktest, Params: p, RunKey: "test"}, adapter, WithPrevDayVolumes(seeds(ids...)))
	require.NoError(t, err)
	return s
}

func TestStopLossEndToEnd(t *testing.T) {
	s := newBacktest(t, volumeOnly(), execution.NewSimulated(), "X")
	src := NewSliceSource([]models.MarketEvent{
		bar("X", at(4, 9, 1, 0), 10000, 10000),
		bar("X", at(4, 9, 2, 0), 10200, 1000),
		bar("X", at(4, 9, 3, 0), 9480, 1000),
	})

	res, err := s.RunBacktest(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, models.RuleVolumeSpike, tr.RuleID)
	assert.Equal(t, int64(20), tr.Quantity)
	assert.Equal(t, 10000.0, tr.EntryPrice)
	assert.Equal(t, 9480.0, tr.ExitPrice)
	assert.Equal(t, -10400.0, tr.GrossPnL)
	assert.Equal(t, -11189.0, tr.RealizedPnL)
	assert.True(t, tr.EntryTime.Equal(at(4, 9, 1, 0)))
	assert.True(t, tr.ExitTime.Equal(at(4, 9, 3, 0)))

	assert.Equal(t, int64(3), res.Events)
	assert.Equal(t, int64(1), res.Signals)
	assert.Zero(t, res.FinalBudget.OpenPositionCount)
	assert.Zero(t, res.FinalBudget.CommittedCapital)
	assert.Equal(t, -11189.0, res.FinalBudget.RealizedPnLToday)
	assert.Equal(t, 1, res.Summary.Trades)
	assert.Empty(t, s.Positions())
}

func TestMaxPositionsTieBreakByInstrumentID(t *testing.T) {
	p := volumeOnly()
	p.Risk.MaxPositions = 1
	s := newBacktest(t, p, execution.NewSimulated(), "A", "B")

	src := NewMergeSource(
		NewSliceSource([]models.MarketEvent{bar("B", at(4, 9, 1, 0), 5000, 10000), bar("B", at(4, 9, 2, 0), 5000, 100)}),
		NewSliceSource([]models.MarketEvent{bar("A", at(4, 9, 1, 0), 5000, 10000), bar("A", at(4, 9, 2, 0), 5100, 100)}),
	)
	res, err := s.RunBacktest(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Signals)
	assert.Equal(t, 1, res.Rejections["MaxPositionsReached"])
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "A", res.Trades[0].InstrumentID)
	assert.Equal(t, models.ExitEndOfSession, res.Trades[0].ExitReason)
	assert.Equal(t, 5100.0, res.Trades[0].ExitPrice)
	assert.Zero(t, res.FinalBudget.OpenPositionCount)
}

func TestForceCloseAtSessionEnd(t *testing.T) {
	p := volumeOnly()
	p.Exit.MaxHold = 0
	s := newBacktest(t, p, execution.NewSimulated(), "X")

	res, err := s.RunBacktest(context.Background(), NewSliceSource([]models.MarketEvent{
		bar("X", at(4, 9, 1, 0), 10000, 10000),
		bar("X", at(4, 15, 19, 0), 10100, 100),
		bar("X", at(4, 15, 20, 0), 10150, 100),
		bar("X", at(4, 15, 21, 0), 10300, 100),
	}))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.ExitEndOfSession, res.Trades[0].ExitReason)
	assert.Equal(t, 10150.0, res.Trades[0].ExitPrice)
}

func TestStaleEventIsCountedAndSkipped(t *testing.T) {
	s := newBacktest(t, volumeOnly(), execution.NewSimulated(), "X")
	ctx := context.Background()
	require.NoError(t, s.Step(ctx, bar("X", at(4, 9, 1, 0), 10000, 10)))
	require.NoError(t, s.Step(ctx, bar("X", at(4, 9, 1, 0), 10000, 10)))
	require.NoError(t, s.Step(ctx, bar("X", at(4, 9, 0, 0), 10000, 10)))

	s.publish()
	st := s.Status()
	assert.Equal(t, int64(1), st.EventsProcessed)
	assert.Equal(t, int64(2), st.StaleEvents)
}

func TestEntryTimeoutFreesTheSlot(t *testing.T) {
	p := volumeOnly()
	p.Entry.Cooldown = 0
	sim := execution.NewSimulated(execution.WithManualFills())
	s := newBacktest(t, p, sim, "X")
	ctx := context.Background()

	step := func(ts time.Time) {
		require.NoError(t, s.Step(ctx, bar("X", ts, 10000, 10000)))
		s.drain()
	}

	step(at(4, 9, 1, 0))
	first := s.Positions()
	require.Len(t, first, 1)
	assert.Equal(t, models.StatePendingEntry, first[0].State)

	// still pending: the instrument is held, so no second order
	step(at(4, 9, 1, 20))
	require.Len(t, s.Positions(), 1)
	assert.Len(t, sim.Pending(), 1)
	assert.Equal(t, 1, s.Budget().OpenPositionCount)

	// past the order timeout: cancel requested, confirmed, slot released
	step(at(4, 9, 1, 40))
	assert.Empty(t, s.Positions())
	assert.Zero(t, s.Budget().OpenPositionCount)
	assert.Zero(t, s.Budget().CommittedCapital)

	step(at(4, 9, 2, 0))
	second := s.Positions()
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].EntryOrder, second[0].EntryOrder)
	assert.Equal(t, 1, s.Budget().OpenPositionCount)
}

func TestEntrySubmitErrorReleasesReservation(t *testing.T) {
	s := newBacktest(t, volumeOnly(), failingAdapter{execution.NewSimulated()}, "X")
	require.NoError(t, s.Step(context.Background(), bar("X", at(4, 9, 1, 0), 10000, 10000)))
	s.drain()

	assert.Empty(t, s.Positions())
	assert.Zero(t, s.Budget().OpenPositionCount)
	assert.Zero(t, s.Budget().CommittedCapital)
}

type failingAdapter struct{ *execution.Simulated }

func (failingAdapter) SubmitEntry(context.Context, models.Order) (models.OrderHandle, error) {
	return "", errors.New("gateway down")
}

func syntheticDays(ids []string, days int) []models.MarketEvent {
	var out []models.MarketEvent
	for d := 0; d < days; d++ {
		for k, id := range ids {
			for i := 0; i < 150; i++ {
				ts := at(4+d, 9, 0, 0).Add(time.Duration(i) * time.Minute)
				px := math.Round(10000 * (1 + 0.04*math.Sin(float64(i)/7+float64(k)+float64(d))))
				vol := float64(3000 + 1000*((i+k)%5))
				out = append(out, models.MarketEvent{
					InstrumentID: id, Timestamp: ts,
					Open: px, High: px * 1.002, Low: px * 0.998, Close: px, Volume: vol,
				})
			}
		}
	}
	return out
}

func TestBacktestIsDeterministic(t *testing.T) {
	ids := []string{"000660", "005930", "035420"}
	events := syntheticDays(ids, 2)

	run := func() (models.BacktestResult, []byte) {
		p := models.DefaultStrategyParams()
		p.Entry.GradualRise.Enabled = false
		s := newBacktest(t, p, execution.NewSimulated(), ids...)
		res, err := s.RunBacktest(context.Background(), NewMergeSource(GroupByInstrument(events)...))
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, report.WriteTradeLog(&buf, res.Trades))
		return res, buf.Bytes()
	}

	r1, log1 := run()
	r2, log2 := run()
	require.NotEmpty(t, r1.Trades)
	assert.Equal(t, log1, log2)
	assert.Equal(t, r1.Summary, r2.Summary)
	assert.Equal(t, r1.FinalBudget, r2.FinalBudget)
	assert.Zero(t, r1.FinalBudget.OpenPositionCount)
}

func TestMergeSourceOrdersByTimeThenInstrument(t *testing.T) {
	events := []models.MarketEvent{
		bar("B", at(4, 9, 1, 0), 1, 1), bar("B", at(4, 9, 2, 0), 1, 1),
		bar("A", at(4, 9, 1, 0), 1, 1), bar("A", at(4, 9, 3, 0), 1, 1),
		bar("C", at(4, 9, 0, 0), 1, 1),
	}
	src := NewMergeSource(GroupByInstrument(events)...)

	var got []string
	for {
		ev, err := src.Next(context.Background())
		if errors.Is(err, models.ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev.InstrumentID+ev.Timestamp.Format("1504"))
	}
	assert.Equal(t, []string{"C0900", "A0901", "B0901", "B0902", "A0903"}, got)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	tk  *fakeTicker
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tk = &fakeTicker{ch: make(chan time.Time)}
	return c.tk
}

func (c *fakeClock) tick(t *testing.T, now time.Time) {
	t.Helper()
	c.Set(now)
	c.mu.Lock()
	tk := c.tk
	c.mu.Unlock()
	require.NotNil(t, tk)
	tk.ch <- now
}

func TestFeedDisconnectHaltsThenLiquidates(t *testing.T) {
	clock := &fakeClock{now: at(4, 9, 1, 0)}
	var (
		mu     sync.Mutex
		trades []models.TradeRecord
	)
	s, err := New(Config{
		Mode:           models.ModeLive,
		Params:         volumeOnly(),
		RunKey:         "live",
		StaleAfter:     30 * time.Second,
		LiquidateAfter: 2 * time.Minute,
	}, execution.NewSimulated(),
		WithClock(clock),
		WithPrevDayVolumes(seeds("X")),
		WithTradeHook(func(tr models.TradeRecord) {
			mu.Lock()
			trades = append(trades, tr)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, s.Enqueue(ctx, bar("X", at(4, 9, 1, 0), 10000, 10000)))
	require.Eventually(t, func() bool {
		ps := s.Status().Positions
		return len(ps) == 1 && ps[0].State == models.StateOpen
	}, time.Second, 5*time.Millisecond)

	clock.tick(t, at(4, 9, 1, 31))
	require.Eventually(t, func() bool {
		st := s.Status()
		return st.Halted && st.HaltReason == feedHaltReason && !st.FeedConnected
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, s.Status().Positions, 1, "halting alone must not close positions")

	clock.tick(t, at(4, 9, 3, 1))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(trades) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, models.ExitSafetyLiquidation, trades[0].ExitReason)
	mu.Unlock()

	clock.Set(at(4, 9, 3, 30))
	require.NoError(t, s.Enqueue(ctx, bar("X", at(4, 9, 3, 30), 10000, 100)))
	require.Eventually(t, func() bool {
		st := s.Status()
		return !st.Halted && st.FeedConnected
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestManualHaltSurvivesFeedResume(t *testing.T) {
	clock := &fakeClock{now: at(4, 9, 1, 0)}
	p := volumeOnly()
	s, err := New(Config{Mode: models.ModeLive, Params: p, RunKey: "live"}, execution.NewSimulated(),
		WithClock(clock), WithPrevDayVolumes(seeds("X")))
	require.NoError(t, err)

	s.Halt("manual")
	s.feedConnected = false
	s.feedAlive()
	halted, reason := s.gate.Halted()
	assert.True(t, halted)
	assert.Equal(t, "manual", reason)

	require.NoError(t, s.Step(context.Background(), bar("X", at(4, 9, 1, 0), 10000, 10000)))
	s.drain()
	assert.Empty(t, s.Positions())
	assert.Equal(t, 1, s.rejections["TradingHalted"])
}

package optimizer

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
)

var kst = time.FixedZone("KST", 9*3600)

func dayBars(days int, ids ...string) []models.MarketEvent {
	var out []models.MarketEvent
	for d := 0; d < days; d++ {
		for k, id := range ids {
			for i := 0; i < 120; i++ {
				ts := time.Date(2024, 3, 4+d, 9, 0, 0, 0, kst).Add(time.Duration(i) * time.Minute)
				px := math.Round(20000 * (1 + 0.05*math.Sin(float64(i)/9+float64(k)+float64(d)/2)))
				out = append(out, models.MarketEvent{
					InstrumentID: id, Timestamp: ts,
					Open: px, High: px * 1.003, Low: px * 0.997, Close: px,
					Volume: float64(2000 + 500*(i%7)),
				})
			}
		}
	}
	return out
}

func baseParams() models.StrategyParams {
	p := models.DefaultStrategyParams()
	p.Entry.GradualRise.Enabled = false
	return p
}

func TestObjective(t *testing.T) {
	o := DefaultObjective()
	assert.Equal(t, -1000.0, o.Score(models.Summary{}))

	s := models.Summary{Trades: 12, Sharpe: 1.5, WinRate: 0.6, TotalReturn: 0.2}
	assert.InDelta(t, 0.4*1.5+0.3*0.6+0.3*0.2, o.Score(s), 1e-12)

	s.Trades = 9
	assert.InDelta(t, 0.5*(0.4*1.5+0.3*0.6+0.3*0.2), o.Score(s), 1e-12)
}

func TestSplitWindows(t *testing.T) {
	days := []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9"}
	ws := SplitWindows(days, 4, 2, 0)
	require.Len(t, ws, 3)
	assert.Equal(t, []string{"d0", "d1", "d2", "d3"}, ws[0].InSample)
	assert.Equal(t, []string{"d4", "d5"}, ws[0].OutSample)
	assert.Equal(t, []string{"d8", "d9"}, ws[2].OutSample)

	assert.Len(t, SplitWindows(days, 4, 2, 1), 5)
	assert.Empty(t, SplitWindows(days, 8, 3, 1))
}

func TestGridTrials(t *testing.T) {
	space := []Range{
		{Name: "exit.stop_loss", Min: -0.06, Max: -0.04, Step: 0.02},
		{Name: "exit.take_profit", Min: 0.1, Max: 0.3, Step: 0.1},
	}
	trials := gridTrials(space, 0)
	require.Len(t, trials, 6)
	assert.InDelta(t, -0.06, trials[0]["exit.stop_loss"], 1e-12)
	assert.InDelta(t, 0.1, trials[0]["exit.take_profit"], 1e-12)
	assert.InDelta(t, 0.2, trials[1]["exit.take_profit"], 1e-12)
	assert.InDelta(t, -0.04, trials[3]["exit.stop_loss"], 1e-12)

	capped := gridTrials(space, 4)
	require.Len(t, capped, 4)
	for i := range capped {
		assert.Equal(t, trials[i], capped[i])
	}
}

func TestRandomTrialsSeededAndSnapped(t *testing.T) {
	space := []Range{{Name: "entry.breakout.lookback", Min: 3, Max: 10, Step: 1}, {Name: "exit.take_profit", Min: 0.05, Max: 0.2}}
	a := randomTrials(space, 20, rand.New(rand.NewSource(42)))
	b := randomTrials(space, 20, rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b)
	for _, tr := range a {
		lb := tr["entry.breakout.lookback"]
		assert.Equal(t, math.Round(lb), lb)
		assert.GreaterOrEqual(t, lb, 3.0)
		assert.LessOrEqual(t, lb, 10.0)
		assert.GreaterOrEqual(t, tr["exit.take_profit"], 0.05)
	}
}

func TestApplyRejectsUnknownParameter(t *testing.T) {
	_, err := Apply(baseParams(), Trial{"exit.nope": 1})
	assert.ErrorIs(t, err, models.ErrConfigInvalid)

	p, err := Apply(baseParams(), Trial{"exit.max_hold_minutes": 45, "entry.breakout.lookback": 7})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, p.Exit.MaxHold)
	assert.Equal(t, 7, p.Entry.Breakout.Lookback)
}

type spyCall struct {
	seq    int
	runKey string
	days   map[string]bool
	seeds  map[string]float64
}

type spy struct {
	mu    sync.Mutex
	calls []spyCall
	score func(p models.StrategyParams) models.Summary
}

func (s *spy) run(ctx context.Context, p models.StrategyParams, events []models.MarketEvent, seeds map[string]float64, runKey string) (models.BacktestResult, error) {
	days := make(map[string]bool)
	for _, ev := range events {
		days[ev.Timestamp.In(kst).Format("2006-01-02")] = true
	}
	s.mu.Lock()
	s.calls = append(s.calls, spyCall{seq: len(s.calls), runKey: runKey, days: days, seeds: seeds})
	s.mu.Unlock()
	return models.BacktestResult{Summary: s.score(p)}, nil
}

func TestWalkForwardHasNoLookAhead(t *testing.T) {
	events := dayBars(8, "A")
	sp := &spy{score: func(p models.StrategyParams) models.Summary {
		return models.Summary{Trades: 20, Sharpe: p.Exit.TakeProfit * 10}
	}}
	o, err := New(Config{
		Base:          baseParams(),
		Space:         []Range{{Name: "exit.take_profit", Min: 0.05, Max: 0.25, Step: 0.05}},
		Search:        SearchGrid,
		Workers:       3,
		InSampleDays:  3,
		OutSampleDays: 1,
	}, WithRunFunc(sp.run), WithReportID("wf"))
	require.NoError(t, err)

	rep, err := o.Run(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, rep.Windows, 5)

	for _, w := range rep.Windows {
		assert.InDelta(t, 0.25, w.BestParams["exit.take_profit"], 1e-9)
		assert.Equal(t, 4, w.BestTrial)
		assert.Equal(t, 5, w.Trials)
	}

	windowOf := func(key string) (models.WindowResult, string) {
		parts := strings.Split(key, "/")
		require.Len(t, parts, 3)
		for _, x := range rep.Windows {
			if "w"+strconv.Itoa(x.Index) == parts[1] {
				return x, parts[2]
			}
		}
		t.Fatalf("no window for %s", key)
		return models.WindowResult{}, ""
	}

	lastTrialSeq := map[int]int{}
	for _, c := range sp.calls {
		if w, kind := windowOf(c.runKey); kind != "oos" && c.seq > lastTrialSeq[w.Index] {
			lastTrialSeq[w.Index] = c.seq
		}
	}

	for _, c := range sp.calls {
		w, kind := windowOf(c.runKey)
		if kind == "oos" {
			assert.Greater(t, c.seq, lastTrialSeq[w.Index], "out-sample ran before search finished")
		}
		for d := range c.days {
			if kind == "oos" {
				assert.True(t, d >= w.OutSampleFrom && d <= w.OutSampleTo, "out-sample run read %s", d)
				continue
			}
			assert.True(t, d >= w.InSampleFrom && d <= w.InSampleTo, "trial read %s outside in-sample", d)
			assert.Less(t, d, w.OutSampleFrom)
		}
	}

	// first window has no earlier day to seed from; later ones seed from the day before
	for _, c := range sp.calls {
		if c.runKey == "wf/w0/t0" {
			assert.Nil(t, c.seeds)
		}
		if c.runKey == "wf/w1/t0" {
			assert.InDelta(t, volumeOfDay(events, "2024-03-04"), c.seeds["A"], 1e-9)
		}
	}
}

func volumeOfDay(events []models.MarketEvent, day string) float64 {
	var v float64
	for _, ev := range events {
		if ev.Timestamp.In(kst).Format("2006-01-02") == day {
			v += ev.Volume
		}
	}
	return v
}

func TestTiesGoToLowestTrialIndex(t *testing.T) {
	sp := &spy{score: func(models.StrategyParams) models.Summary {
		return models.Summary{Trades: 15, Sharpe: 1, WinRate: 0.5}
	}}
	o, err := New(Config{
		Base:          baseParams(),
		Space:         []Range{{Name: "exit.take_profit", Min: 0.05, Max: 0.2}},
		Search:        SearchRandom,
		Trials:        8,
		Seed:          7,
		Workers:       4,
		InSampleDays:  2,
		OutSampleDays: 1,
	}, WithRunFunc(sp.run))
	require.NoError(t, err)

	rep, err := o.Run(context.Background(), dayBars(4, "A"))
	require.NoError(t, err)
	for _, w := range rep.Windows {
		assert.Equal(t, 0, w.BestTrial)
	}
}

func TestInvalidTrialsAreSkipped(t *testing.T) {
	sp := &spy{score: func(p models.StrategyParams) models.Summary {
		return models.Summary{Trades: 15, Sharpe: -p.Exit.StopLoss}
	}}
	o, err := New(Config{
		Base:          baseParams(),
		Space:         []Range{{Name: "exit.stop_loss", Min: -0.05, Max: 0.05, Step: 0.05}},
		Search:        SearchGrid,
		InSampleDays:  2,
		OutSampleDays: 1,
	}, WithRunFunc(sp.run))
	require.NoError(t, err)

	rep, err := o.Run(context.Background(), dayBars(3, "A"))
	require.NoError(t, err)
	require.Len(t, rep.Windows, 1)
	assert.Equal(t, 2, rep.Windows[0].SkippedTrials)
	assert.Equal(t, 0, rep.Windows[0].BestTrial)
}

func TestNotEnoughHistory(t *testing.T) {
	o, err := New(Config{
		Base:          baseParams(),
		Space:         []Range{{Name: "exit.take_profit", Min: 0.1, Max: 0.2, Step: 0.1}},
		Search:        SearchGrid,
		InSampleDays:  5,
		OutSampleDays: 2,
	})
	require.NoError(t, err)
	_, err = o.Run(context.Background(), dayBars(3, "A"))
	assert.ErrorIs(t, err, models.ErrConfigInvalid)
}

func TestWalkForwardWithRealBacktests(t *testing.T) {
	o, err := New(Config{
		Base: baseParams(),
		Space: []Range{
			{Name: "exit.take_profit", Min: 0.03, Max: 0.06, Step: 0.03},
			{Name: "exit.stop_loss", Min: -0.03, Max: -0.02, Step: 0.01},
		},
		Search:        SearchGrid,
		Workers:       2,
		InSampleDays:  2,
		OutSampleDays: 1,
	}, WithReportID("real"))
	require.NoError(t, err)

	events := dayBars(4, "A", "B")
	r1, err := o.Run(context.Background(), events)
	require.NoError(t, err)
	r2, err := o.Run(context.Background(), events)
	require.NoError(t, err)

	require.Len(t, r1.Windows, 2)
	assert.Equal(t, r1.Windows, r2.Windows)
	assert.Equal(t, r1.OutSample, r2.OutSample)
}

package optimizer

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/engine/execution"
	"StockPulse/internal/engine/report"
	"StockPulse/internal/engine/scheduler"
	applogger "StockPulse/pkg/logger"
)

const (
	SearchGrid   = "grid"
	SearchRandom = "random"
)

type Config struct {
	Base          models.StrategyParams
	Space         []Range
	Search        string
	Trials        int // random search draws per window
	MaxTrials     int // grid cap, 0 for the full product
	Seed          int64
	Workers       int
	InSampleDays  int
	OutSampleDays int
	StepDays      int // defaults to OutSampleDays
	Objective     Objective
}

// RunFunc executes one backtest. seeds are previous-session volumes known
// before the first event; runKey scopes the run's order ids.
type RunFunc func(ctx context.Context, p models.StrategyParams, events []models.MarketEvent, seeds map[string]float64, runKey string) (models.BacktestResult, error)

// Backtest is the RunFunc used outside tests: a fresh scheduler over the
// simulated adapter for every call.
func Backtest(ctx context.Context, p models.StrategyParams, events []models.MarketEvent, seeds map[string]float64, runKey string) (models.BacktestResult, error) {
	s, err := scheduler.New(
		scheduler.Config{Mode: models.ModeBacktest, Params: p, RunKey: runKey},
		execution.NewSimulated(execution.WithReportBuffer(4096)),
		scheduler.WithPrevDayVolumes(seeds),
	)
	if err != nil {
		return models.BacktestResult{}, err
	}
	return s.RunBacktest(ctx, scheduler.NewSliceSource(events))
}

type Option func(*Optimizer)

func WithLogger(l *applogger.Logger) Option {
	return func(o *Optimizer) { o.log = l }
}

// WithRunFunc replaces the backtest executor.
func WithRunFunc(fn RunFunc) Option {
	return func(o *Optimizer) { o.run = fn }
}

func WithReportID(id string) Option {
	return func(o *Optimizer) { o.id = id }
}

func WithNow(fn func() time.Time) Option {
	return func(o *Optimizer) { o.now = fn }
}

// Optimizer runs walk-forward analysis: for each window it searches the
// in-sample days, then replays the winner once on the following
// out-sample days. Only out-sample results reach the aggregate.
type Optimizer struct {
	cfg Config
	log *applogger.Logger
	run RunFunc
	id  string
	now func() time.Time
}

func New(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Base.Validate(); err != nil {
		return nil, err
	}
	if err := validateSpace(cfg.Space); err != nil {
		return nil, err
	}
	switch cfg.Search {
	case "":
		cfg.Search = SearchRandom
	case SearchGrid, SearchRandom:
	default:
		return nil, fmt.Errorf("%w: unknown search %q", models.ErrConfigInvalid, cfg.Search)
	}
	if cfg.Search == SearchRandom && cfg.Trials <= 0 {
		return nil, fmt.Errorf("%w: random search needs trials > 0", models.ErrConfigInvalid)
	}
	if cfg.InSampleDays <= 0 || cfg.OutSampleDays <= 0 {
		return nil, fmt.Errorf("%w: in_sample_days and out_sample_days must be positive", models.ErrConfigInvalid)
	}
	if cfg.StepDays <= 0 {
		cfg.StepDays = cfg.OutSampleDays
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Objective == (Objective{}) {
		cfg.Objective = DefaultObjective()
	}

	o := &Optimizer{
		cfg: cfg,
		log: applogger.NewNop(),
		run: Backtest,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	return o, nil
}

type trialResult struct {
	index   int
	trial   Trial
	score   float64
	skipped bool
	err     error
}

// Run evaluates every window over events.
func (o *Optimizer) Run(ctx context.Context, events []models.MarketEvent) (models.WalkForwardReport, error) {
	cal, err := o.cfg.Base.Session.Calendar()
	if err != nil {
		return models.WalkForwardReport{}, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	idx := indexByDay(events, cal)
	windows := SplitWindows(idx.days, o.cfg.InSampleDays, o.cfg.OutSampleDays, o.cfg.StepDays)
	if len(windows) == 0 {
		return models.WalkForwardReport{}, fmt.Errorf("%w: %d trading days cannot fit %d+%d day windows",
			models.ErrConfigInvalid, len(idx.days), o.cfg.InSampleDays, o.cfg.OutSampleDays)
	}

	rep := models.WalkForwardReport{ID: o.id, CreatedAt: o.now()}
	var (
		oosTrades []models.TradeRecord
		scoreSum  float64
	)
	for _, w := range windows {
		wr, trades, err := o.runWindow(ctx, idx, w)
		if err != nil {
			return models.WalkForwardReport{}, fmt.Errorf("window %d: %w", w.Index, err)
		}
		rep.Windows = append(rep.Windows, wr)
		oosTrades = append(oosTrades, trades...)
		scoreSum += wr.OutSampleScore
	}
	rep.MeanOutSampleScore = scoreSum / float64(len(rep.Windows))
	rep.OutSample = report.Summarize(oosTrades)

	o.log.Info("walk-forward finished",
		applogger.String("report_id", rep.ID),
		applogger.Int("windows", len(rep.Windows)),
		applogger.Float64("mean_out_sample_score", rep.MeanOutSampleScore),
	)
	return rep, nil
}

func (o *Optimizer) trialsFor(w Window) []Trial {
	if o.cfg.Search == SearchGrid {
		return gridTrials(o.cfg.Space, o.cfg.MaxTrials)
	}
	rng := rand.New(rand.NewSource(o.cfg.Seed + int64(w.Index)))
	return randomTrials(o.cfg.Space, o.cfg.Trials, rng)
}

func (o *Optimizer) runWindow(ctx context.Context, idx *dayIndex, w Window) (models.WindowResult, []models.TradeRecord, error) {
	isEvents := idx.slice(w.InSample)
	isSeeds := idx.volumesBefore(w.InSample[0])
	trials := o.trialsFor(w)

	results := o.search(ctx, w, trials, isEvents, isSeeds)

	wr := models.WindowResult{
		Index:         w.Index,
		InSampleFrom:  w.InSample[0],
		InSampleTo:    w.InSample[len(w.InSample)-1],
		OutSampleFrom: w.OutSample[0],
		OutSampleTo:   w.OutSample[len(w.OutSample)-1],
		BestTrial:     -1,
		Trials:        len(trials),
	}
	var best *trialResult
	for i := range results {
		r := &results[i]
		if r.err != nil {
			return wr, nil, r.err
		}
		if r.skipped {
			wr.SkippedTrials++
			continue
		}
		if best == nil || r.score > best.score {
			best = r
		}
	}
	if best == nil {
		return wr, nil, fmt.Errorf("%w: every trial had invalid params", models.ErrConfigInvalid)
	}
	wr.BestTrial = best.index
	wr.BestParams = map[string]float64(best.trial)
	wr.InSampleScore = best.score

	// the winner is fixed before any out-sample event is read
	params, err := Apply(o.cfg.Base, best.trial)
	if err != nil {
		return wr, nil, err
	}
	oos, err := o.run(ctx, params, idx.slice(w.OutSample), idx.volumesBefore(w.OutSample[0]),
		fmt.Sprintf("%s/w%d/oos", o.id, w.Index))
	if err != nil {
		return wr, nil, fmt.Errorf("out-sample: %w", err)
	}
	wr.OutSample = oos.Summary
	wr.OutSampleScore = o.cfg.Objective.Score(oos.Summary)

	o.log.Info("walk-forward window",
		applogger.Int("window", w.Index),
		applogger.String("in_sample", wr.InSampleFrom+".."+wr.InSampleTo),
		applogger.String("out_sample", wr.OutSampleFrom+".."+wr.OutSampleTo),
		applogger.Int("best_trial", wr.BestTrial),
		applogger.Float64("in_sample_score", wr.InSampleScore),
		applogger.Float64("out_sample_score", wr.OutSampleScore),
		applogger.Int("skipped", wr.SkippedTrials),
	)
	return wr, oos.Trades, nil
}

// search scores trials on a bounded pool. Each trial gets its own
// scheduler, so trials share nothing but the read-only event slice.
func (o *Optimizer) search(ctx context.Context, w Window, trials []Trial, events []models.MarketEvent, seeds map[string]float64) []trialResult {
	results := make([]trialResult, len(trials))
	jobs := make(chan int, len(trials))

	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j] = o.trial(ctx, w, j, trials[j], events, seeds)
			}
		}()
	}
	for j := range trials {
		jobs <- j
	}
	close(jobs)
	wg.Wait()
	return results
}

func (o *Optimizer) trial(ctx context.Context, w Window, i int, t Trial, events []models.MarketEvent, seeds map[string]float64) trialResult {
	res := trialResult{index: i, trial: t}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}
	p, err := Apply(o.cfg.Base, t)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		o.log.Debug("trial skipped", applogger.Int("window", w.Index), applogger.Int("trial", i), applogger.Error(err))
		res.skipped = true
		return res
	}
	bt, err := o.run(ctx, p, events, seeds, fmt.Sprintf("%s/w%d/t%d", o.id, w.Index, i))
	if err != nil {
		res.err = fmt.Errorf("trial %d: %w", i, err)
		return res
	}
	res.score = o.cfg.Objective.Score(bt.Summary)
	return res
}

package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	"StockPulse/internal/engine/execution"
	"StockPulse/internal/engine/report"
	"StockPulse/internal/engine/scheduler"
	applogger "StockPulse/pkg/logger"
	pkgmetrics "StockPulse/pkg/metrics"
)

// BarLoader reads stored bars. Both the ClickHouse store and the CSV
// loader satisfy it.
type BarLoader interface {
	LoadBars(ctx context.Context, instruments []string, from, to time.Time) ([]models.MarketEvent, error)
	PrevDayVolumes(ctx context.Context, instruments []string, day time.Time) (map[string]float64, error)
}

type BacktestParams struct {
	Params      models.StrategyParams
	Instruments []string
	From, To    time.Time
	RunKey      string
	// Output files; empty skips the file.
	TradeLogPath string
	SummaryPath  string
}

// BacktestSummary is what the summary file holds.
type BacktestSummary struct {
	RunKey      string            `json:"run_key"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Instruments []string          `json:"instruments"`
	Summary     models.Summary    `json:"summary"`
	Events      int64             `json:"events"`
	StaleEvents int64             `json:"stale_events"`
	Signals     int64             `json:"signals"`
	Rejections  map[string]int    `json:"rejections"`
	FinalBudget models.RiskBudget `json:"final_budget"`
}

// BacktestRunner replays stored bars through a fresh scheduler over the
// simulated adapter.
type BacktestRunner struct {
	loader  BarLoader
	sink    drepo.TradeSink
	metrics drepo.Metrics
	l       *applogger.Logger
}

// NewBacktestRunner creates a runner. sink, when set, receives the trade log.
func NewBacktestRunner(loader BarLoader, sink drepo.TradeSink, metrics drepo.Metrics, l *applogger.Logger) *BacktestRunner {
	if l == nil {
		l = applogger.NewNop()
	}
	if metrics == nil {
		metrics = pkgmetrics.Nop{}
	}
	return &BacktestRunner{loader: loader, sink: sink, metrics: metrics, l: l}
}

func (r *BacktestRunner) Run(ctx context.Context, p BacktestParams) (models.BacktestResult, error) {
	start := time.Now()
	events, err := r.loader.LoadBars(ctx, p.Instruments, p.From, p.To)
	if err != nil {
		return models.BacktestResult{}, fmt.Errorf("load bars: %w", err)
	}
	if len(events) == 0 {
		return models.BacktestResult{}, fmt.Errorf("no bars between %s and %s", p.From.Format(time.RFC3339), p.To.Format(time.RFC3339))
	}
	seeds, err := r.loader.PrevDayVolumes(ctx, p.Instruments, p.From)
	if err != nil {
		return models.BacktestResult{}, fmt.Errorf("previous day volumes: %w", err)
	}

	s, err := scheduler.New(
		scheduler.Config{Mode: models.ModeBacktest, Params: p.Params, RunKey: p.RunKey},
		execution.NewSimulated(execution.WithReportBuffer(4096)),
		scheduler.WithPrevDayVolumes(seeds),
		scheduler.WithLogger(r.l),
		scheduler.WithMetrics(r.metrics),
	)
	if err != nil {
		return models.BacktestResult{}, err
	}
	res, err := s.RunBacktest(ctx, scheduler.NewMergeSource(scheduler.GroupByInstrument(events)...))
	if err != nil {
		return models.BacktestResult{}, fmt.Errorf("backtest: %w", err)
	}

	if p.TradeLogPath != "" {
		if err := writeFile(p.TradeLogPath, func(f *os.File) error { return report.WriteTradeLog(f, res.Trades) }); err != nil {
			return res, fmt.Errorf("write trade log: %w", err)
		}
	}
	if p.SummaryPath != "" {
		sum := BacktestSummary{
			RunKey:      p.RunKey,
			From:        p.From,
			To:          p.To,
			Instruments: p.Instruments,
			Summary:     res.Summary,
			Events:      res.Events,
			StaleEvents: res.StaleEvents,
			Signals:     res.Signals,
			Rejections:  res.Rejections,
			FinalBudget: res.FinalBudget,
		}
		if err := writeFile(p.SummaryPath, func(f *os.File) error {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		}); err != nil {
			return res, fmt.Errorf("write summary: %w", err)
		}
	}
	if r.sink != nil && len(res.Trades) > 0 {
		if err := r.sink.SaveTrades(ctx, res.Trades); err != nil {
			return res, fmt.Errorf("persist trades: %w", err)
		}
	}

	r.l.Info("backtest finished",
		applogger.String("run_key", p.RunKey),
		applogger.Int64("events", res.Events),
		applogger.Int("trades", res.Summary.Trades),
		applogger.Float64("win_rate", res.Summary.WinRate),
		applogger.Float64("total_return", res.Summary.TotalReturn),
		applogger.Duration("elapsed_ms", time.Since(start)),
	)
	return res, nil
}

// writeFile creates path and its parent directories.
func writeFile(path string, fn func(*os.File) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

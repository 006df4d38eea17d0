package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"StockPulse/internal/di"
	"StockPulse/internal/domain/models"
	"StockPulse/internal/engine/optimizer"
	internalrepo "StockPulse/internal/repository"
	svcmetrics "StockPulse/internal/service/metrics"
	"StockPulse/internal/usecase"
	pkgch "StockPulse/pkg/clickhouse"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
	applogger "StockPulse/pkg/logger"
	"StockPulse/pkg/queue"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	worker := flag.Bool("worker", false, "consume optimize jobs from the Redis queue instead of running once")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	l, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	loc, err := di.ProvideLocation(cfg)
	if err != nil {
		l.Error("session calendar", applogger.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := di.ProvideClickHouseClient(cfg)
	if err != nil {
		l.Error("clickhouse", applogger.Error(err))
		os.Exit(1)
	}
	if ch != nil {
		defer ch.Close()
	}

	if *worker {
		err = runWorker(ctx, cfg, ch, loc, l)
	} else {
		err = runOnce(ctx, cfg, ch, loc, l)
	}
	if err != nil {
		l.Error("optimize failed", applogger.Error(err))
		os.Exit(1)
	}
}

func barLoader(cfg *config.Config, ch *pkgch.Client, loc *time.Location, l *applogger.Logger) usecase.BarLoader {
	if ch != nil && cfg.Backtest.Source == "clickhouse" {
		return internalrepo.NewClickHouseBarStore(ch, cfg.ClickHouse.Database, loc, l)
	}
	return internalrepo.NewCSVBarLoader(cfg.Backtest.CSVPath, loc)
}

// runOnce optimizes over the backtest window and writes the report file.
func runOnce(ctx context.Context, cfg *config.Config, ch *pkgch.Client, loc *time.Location, l *applogger.Logger) error {
	from, to, err := cfg.Backtest.Window(loc)
	if err != nil {
		return err
	}
	events, err := barLoader(cfg, ch, loc, l).LoadBars(ctx, cfg.Instruments, from, to)
	if err != nil {
		return err
	}
	opt, err := optimizer.New(cfg.OptimizerSettings(), optimizer.WithLogger(l))
	if err != nil {
		return err
	}
	rep, err := opt.Run(ctx, events)
	if err != nil {
		return err
	}

	if err := writeReport(cfg.Optimizer.ReportPath, rep); err != nil {
		return err
	}
	if ch != nil {
		store := internalrepo.NewClickHouseTradeStore(ch, cfg.ClickHouse.Database, rep.ID)
		if err := store.SaveWalkForward(ctx, rep); err != nil {
			l.Warn("walk-forward report not stored", applogger.Error(err))
		}
	}
	l.Info("walk-forward report written",
		applogger.String("path", cfg.Optimizer.ReportPath),
		applogger.Int("windows", len(rep.Windows)),
		applogger.Float64("mean_out_sample_score", rep.MeanOutSampleScore),
	)
	return nil
}

func writeReport(path string, rep models.WalkForwardReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// runWorker serves queued jobs until interrupted. Job metrics are exposed
// on the configured server port.
func runWorker(ctx context.Context, cfg *config.Config, ch *pkgch.Client, loc *time.Location, l *applogger.Logger) error {
	rc, err := di.ProvideRedisCache(cfg)
	if err != nil {
		return err
	}
	if rc == nil {
		l.Error("the optimize worker needs redis.enabled")
		return models.ErrConfigInvalid
	}
	defer rc.Close()

	reg := di.ProvideRegistry()
	state := di.ProvideStateStore(rc, cfg)

	var job *usecase.OptimizeJob
	if ch != nil {
		job, err = usecase.NewOptimizeJob(cfg.OptimizerSettings(), barLoader(cfg, ch, loc, l), state,
			internalrepo.NewClickHouseTradeStore(ch, cfg.ClickHouse.Database, "optimize"), svcmetrics.NewJobMetrics(reg), l)
	} else {
		job, err = usecase.NewOptimizeJob(cfg.OptimizerSettings(), barLoader(cfg, ch, loc, l), state, nil, svcmetrics.NewJobMetrics(reg), l)
	}
	if err != nil {
		return err
	}

	consumer := queue.NewRedisConsumer(l, queue.QueueConfig{
		Workers:    1,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, rc.Client(), []queue.Job{job}, queue.WithKeyPrefix(di.QueueKey(cfg)))
	if err := consumer.Start(); err != nil {
		return err
	}

	var srv *xhttp.Server
	if cfg.Metrics.Enabled {
		srv = xhttp.NewServer(nil,
			xhttp.WithPort(cfg.Server.Port),
			xhttp.WithLogger(l),
			xhttp.WithMetrics(cfg.Metrics.Path, reg, reg),
		)
		if err := srv.Start(); err != nil {
			return err
		}
	}
	l.Info("optimize worker started", applogger.String("queue", di.QueueKey(cfg)))

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := consumer.Stop(stopCtx); err != nil {
		l.Warn("queue stop error", applogger.Error(err))
	}
	if srv != nil {
		if err := srv.Stop(stopCtx); err != nil {
			l.Warn("http shutdown error", applogger.Error(err))
		}
	}
	return nil
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"StockPulse/internal/di"
	"StockPulse/internal/domain/repository"
	internalrepo "StockPulse/internal/repository"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/config"
	applogger "StockPulse/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	from := flag.String("from", "", "first session date, overrides backtest.from")
	to := flag.String("to", "", "last session date, overrides backtest.to")
	runKey := flag.String("run", "", "run key for order ids and stored trades")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *from != "" {
		cfg.Backtest.From = *from
	}
	if *to != "" {
		cfg.Backtest.To = *to
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
	start, end, err := cfg.Backtest.Window(loc)
	if err != nil {
		l.Error("backtest window", applogger.Error(err))
		os.Exit(1)
	}
	if *runKey == "" {
		*runKey = "bt-" + start.Format("20060102") + "-" + end.AddDate(0, 0, -1).Format("20060102")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		loader usecase.BarLoader
		sink   repository.TradeSink
	)
	if cfg.Backtest.Source == "clickhouse" || cfg.Backtest.Persist {
		ch, err := di.ProvideClickHouseClient(cfg)
		if err != nil {
			l.Error("clickhouse", applogger.Error(err))
			os.Exit(1)
		}
		if ch == nil {
			l.Error("clickhouse is disabled", applogger.String("source", cfg.Backtest.Source), applogger.Bool("persist", cfg.Backtest.Persist))
			os.Exit(1)
		}
		defer ch.Close()
		if cfg.Backtest.Source == "clickhouse" {
			loader = internalrepo.NewClickHouseBarStore(ch, cfg.ClickHouse.Database, loc, l)
		}
		if cfg.Backtest.Persist {
			sink = internalrepo.NewClickHouseTradeStore(ch, cfg.ClickHouse.Database, *runKey)
		}
	}
	if loader == nil {
		loader = internalrepo.NewCSVBarLoader(cfg.Backtest.CSVPath, loc)
	}

	runner := usecase.NewBacktestRunner(loader, sink, di.ProvideMetrics(di.ProvideRegistry()), l)
	res, err := runner.Run(ctx, usecase.BacktestParams{
		Params:       cfg.Strategy,
		Instruments:  cfg.Instruments,
		From:         start,
		To:           end,
		RunKey:       *runKey,
		TradeLogPath: cfg.Backtest.TradeLogPath,
		SummaryPath:  cfg.Backtest.SummaryPath,
	})
	if err != nil {
		l.Error("backtest failed", applogger.String("run_key", *runKey), applogger.Error(err))
		os.Exit(1)
	}
	l.Info("backtest written",
		applogger.String("trade_log", cfg.Backtest.TradeLogPath),
		applogger.String("summary", cfg.Backtest.SummaryPath),
		applogger.Float64("net_pnl", res.Summary.NetPnL),
	)
}

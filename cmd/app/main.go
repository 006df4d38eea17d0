package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"StockPulse/internal/di"
	"StockPulse/internal/domain/models"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		if errors.Is(err, models.ErrConfigInvalid) {
			log.Fatalf("invalid configuration: %v", err)
		}
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Mode != models.ModeLive {
		log.Fatalf("mode %q: use cmd/backtest for backtests", cfg.Mode)
	}

	log.Printf("env=%s instruments=%v feed=%s paper=%t", cfg.Environment, cfg.Instruments, cfg.Feed.Source, cfg.Broker.Paper)

	// Wire DI: Initialize all dependencies
	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(context.Background()); err != nil {
		if errors.Is(err, usecase.ErrLocked) {
			log.Printf("another trader instance is running")
		}
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StockPulse/internal/engine/execution"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
	pkgkafka "StockPulse/pkg/kafka"
	applogger "StockPulse/pkg/logger"
)

type namedCloser struct {
	name string
	c    io.Closer
}

// App encapsulates the live trader lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	trader     *usecase.Trader
	processor  *usecase.BarProcessor
	httpServer *xhttp.Server

	collector *usecase.BarCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	broker    *execution.BrokerAdapter
	closers   []namedCloser
}

type Option func(*App)

// WithCollector feeds the trader from the websocket stream.
func WithCollector(c *usecase.BarCollector) Option {
	return func(a *App) { a.collector = c }
}

// WithKafkaFeed feeds the trader from the bars topic instead.
func WithKafkaFeed(consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) Option {
	return func(a *App) {
		a.consumer = consumer
		a.kh = kh
	}
}

func WithBrokerAdapter(b *execution.BrokerAdapter) Option {
	return func(a *App) { a.broker = b }
}

// WithCloser registers an infrastructure client closed last on shutdown.
func WithCloser(name string, c io.Closer) Option {
	return func(a *App) {
		if c != nil {
			a.closers = append(a.closers, namedCloser{name: name, c: c})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	trader *usecase.Trader,
	processor *usecase.BarProcessor,
	httpServer *xhttp.Server,
	opts ...Option,
) *App {
	a := &App{
		cfg:        cfg,
		log:        log,
		trader:     trader,
		processor:  processor,
		httpServer: httpServer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts the trader, its feed and the HTTP server and blocks until
// interrupted or the trader stops on its own.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.processor.Start(runCtx)

	if a.broker != nil {
		go func() {
			if err := a.broker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("broker notice loop stopped", applogger.Error(err))
			}
		}()
	}

	traderErr := make(chan error, 1)
	go func() { traderErr <- a.trader.Run(runCtx) }()

	if err := a.startFeed(runCtx); err != nil {
		a.log.Error("feed start failed", applogger.Error(err))
		a.shutdown(cancel, traderErr)
		return err
	}

	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		a.shutdown(cancel, traderErr)
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-traderErr:
		traderErr = nil
		if err != nil {
			a.log.Error("trader stopped", applogger.Error(err))
			runErr = err
		} else {
			a.log.Warn("trader stopped without error")
		}
	case err := <-a.httpServer.Errors():
		runErr = err
	}

	a.shutdown(cancel, traderErr)
	return runErr
}

func (a *App) startFeed(ctx context.Context) error {
	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		if err := a.consumer.Start(); err != nil {
			return err
		}
		a.log.Info("kafka bar feed started", applogger.String("topic", a.kh.Topic()))
		return nil
	}
	if a.collector != nil {
		if err := a.collector.Start(ctx); err != nil {
			return err
		}
		a.log.Info("bar collector started", applogger.Strings("instruments", a.cfg.Instruments))
	}
	return nil
}

// shutdown stops the feed before the trader so no bar is enqueued into a
// stopped loop, then closes infrastructure clients.
func (a *App) shutdown(cancel context.CancelFunc, traderErr <-chan error) {
	ctx, done := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer done()

	a.log.Info("shutting down...")

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			a.log.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	a.processor.Close()

	cancel()
	if traderErr != nil {
		select {
		case err := <-traderErr:
			if err != nil {
				a.log.Warn("trader exit", applogger.Error(err))
			}
		case <-ctx.Done():
			a.log.Error("trader did not stop in time", applogger.Duration("timeout", a.cfg.Server.ShutdownTimeout))
		}
	}

	if err := a.httpServer.Stop(ctx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.log.Warn("broker close error", applogger.Error(err))
		}
	}
	// flush pending alerts while the producer is still open
	a.log.RemoveCollector()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].c.Close(); err != nil {
			a.log.Warn("close error", applogger.String("client", a.closers[i].name), applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete", applogger.Time("at", time.Now()))
}

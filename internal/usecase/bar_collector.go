package usecase

import (
	"context"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	mid "StockPulse/internal/middleware"
	applogger "StockPulse/pkg/logger"
)

// BarCollector reads bars from the market stream and pushes them through
// the pipeline, reconnecting whenever the stream drops.
type BarCollector struct {
	stream      drepo.MarketStream
	instruments []string
	pipe        *mid.RealtimePipeline
	metrics     drepo.Metrics
	l           *applogger.Logger
	retryDelay  time.Duration
	done        chan struct{}
}

// NewBarCollector creates a new BarCollector instance.
func NewBarCollector(stream drepo.MarketStream, instruments []string, pipe *mid.RealtimePipeline, metrics drepo.Metrics, l *applogger.Logger) *BarCollector {
	if l == nil {
		l = applogger.NewNop()
	}
	return &BarCollector{
		stream:      stream,
		instruments: instruments,
		pipe:        pipe,
		metrics:     metrics,
		l:           l,
		retryDelay:  time.Second,
		done:        make(chan struct{}),
	}
}

// IsConnected returns true if the market stream is connected.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

// Start connects, subscribes and starts consuming in the background.
func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, c.instruments); err != nil {
		return err
	}
	c.pipe.Start(ctx)
	go c.consume(ctx)
	return nil
}

func (c *BarCollector) consume(ctx context.Context) {
	defer close(c.done)
	for {
		bars, errs := c.stream.Read(ctx)
		failed := c.drain(ctx, bars, errs)
		if ctx.Err() != nil {
			return
		}
		if failed == nil {
			// stream ended without an error; treat it as a drop
			failed = models.ErrFeedDisconnected
		}
		c.metrics.RecordError("stream")
		c.l.Warn("market stream dropped, reconnecting", applogger.Error(failed))
		if !c.reconnect(ctx) {
			return
		}
	}
}

// drain forwards bars until both channels close and returns the stream
// error, if one was reported.
func (c *BarCollector) drain(ctx context.Context, bars <-chan models.MarketEvent, errs <-chan error) error {
	var failed error
	for bars != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			failed = err
		case ev, ok := <-bars:
			if !ok {
				bars = nil
				continue
			}
			// rejected bars are counted by the pipeline
			_ = c.pipe.Process(ctx, ev)
		}
	}
	return failed
}

func (c *BarCollector) reconnect(ctx context.Context) bool {
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			c.l.Info("market stream reconnected")
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.metrics.RecordError("reconnect")
		c.l.Error("market stream reconnect failed", applogger.Error(err))
		t := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// Shutdown stops the pipeline and closes the stream. The Start context
// should be cancelled first.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	err := c.stream.Close()
	select {
	case <-c.done:
	case <-ctx.Done():
	}
	c.pipe.Stop()
	return err
}

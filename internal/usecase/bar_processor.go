package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"StockPulse/internal/domain/models"
	drepo "StockPulse/internal/domain/repository"
	pkgkafka "StockPulse/pkg/kafka"
	applogger "StockPulse/pkg/logger"
)

// Enqueuer hands a bar to the trading loop.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev models.MarketEvent) error
}

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
}

// BarProcessor feeds live bars to the scheduler and archives them on the
// side. Only the scheduler hand-off is on the critical path; archive and
// publish failures are logged and counted.
type BarProcessor struct {
	sched   Enqueuer
	store   drepo.BarStore
	pub     batchPublisher
	topic   string
	metrics drepo.Metrics
	l       *applogger.Logger
	batchSz int
	batchTO time.Duration

	mu      sync.Mutex
	pending []models.MarketEvent
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

type ProcessorOption func(*BarProcessor)

// WithBarArchive stores every accepted bar in store.
func WithBarArchive(store drepo.BarStore) ProcessorOption {
	return func(p *BarProcessor) { p.store = store }
}

// WithBarPublisher republishes accepted bars on topic, keyed by instrument.
func WithBarPublisher(pub batchPublisher, topic string) ProcessorOption {
	return func(p *BarProcessor) {
		p.pub = pub
		p.topic = topic
	}
}

func WithBatching(size int, timeout time.Duration) ProcessorOption {
	return func(p *BarProcessor) {
		if size > 0 {
			p.batchSz = size
		}
		if timeout > 0 {
			p.batchTO = timeout
		}
	}
}

func WithProcessorLogger(l *applogger.Logger) ProcessorOption {
	return func(p *BarProcessor) { p.l = l }
}

// NewBarProcessor creates a new BarProcessor instance. Call Start to run
// the archive loop when a store or publisher is configured.
func NewBarProcessor(sched Enqueuer, metrics drepo.Metrics, opts ...ProcessorOption) *BarProcessor {
	p := &BarProcessor{
		sched:   sched,
		metrics: metrics,
		l:       applogger.NewNop(),
		batchSz: 500,
		batchTO: time.Second,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *BarProcessor) archiving() bool { return p.store != nil || p.pub != nil }

// Process hands one bar to the scheduler.
func (p *BarProcessor) Process(ctx context.Context, ev models.MarketEvent) error {
	start := time.Now()
	if err := p.sched.Enqueue(ctx, ev); err != nil {
		p.metrics.RecordError("enqueue")
		return fmt.Errorf("enqueue bar: %w", err)
	}
	p.metrics.RecordLatency("enqueue", time.Since(start).Seconds())

	if !p.archiving() {
		return nil
	}
	p.mu.Lock()
	p.pending = append(p.pending, ev)
	full := len(p.pending) >= p.batchSz
	p.mu.Unlock()
	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Start runs the archive loop until Close.
func (p *BarProcessor) Start(ctx context.Context) {
	if !p.archiving() {
		close(p.done)
		return
	}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.batchTO)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				p.flush(context.Background())
				return
			case <-ctx.Done():
				p.flush(context.Background())
				return
			case <-ticker.C:
				p.flush(ctx)
			case <-p.kick:
				p.flush(ctx)
			}
		}
	}()
}

func (p *BarProcessor) flush(ctx context.Context) {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if p.store != nil {
		start := time.Now()
		if err := p.store.StoreBars(ctx, batch); err != nil {
			p.metrics.RecordError("archive")
			p.l.Warn("bar archive failed", applogger.Int("bars", len(batch)), applogger.Error(err))
		} else {
			p.metrics.RecordLatency("archive", time.Since(start).Seconds())
		}
	}
	if p.pub != nil {
		msgs := make([]pkgkafka.Message, 0, len(batch))
		for _, ev := range batch {
			msgs = append(msgs, pkgkafka.Message{Key: []byte(ev.InstrumentID), Value: ev})
		}
		if err := p.pub.PublishBatch(ctx, p.topic, msgs); err != nil {
			p.metrics.RecordError("publish")
			p.l.Warn("bar publish failed", applogger.String("topic", p.topic), applogger.Error(err))
		}
	}
}

// Close flushes what is pending and stops the archive loop. The loop must
// have been started.
func (p *BarProcessor) Close() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/segmentio/kafka-go"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/domain/repository"
	"StockPulse/internal/engine/execution"
	"StockPulse/internal/engine/scheduler"
	"StockPulse/internal/handler/api"
	mid "StockPulse/internal/middleware"
	internalrepo "StockPulse/internal/repository"
	"StockPulse/internal/service/broker"
	"StockPulse/internal/service/feed"
	"StockPulse/internal/usecase"
	"StockPulse/pkg/cache"
	pkgch "StockPulse/pkg/clickhouse"
	"StockPulse/pkg/config"
	xhttp "StockPulse/pkg/http"
	pkgkafka "StockPulse/pkg/kafka"
	applogger "StockPulse/pkg/logger"
	"StockPulse/pkg/metrics"
	"StockPulse/pkg/queue"
	"StockPulse/pkg/server"
)

// LiveRun labels trades the live trader writes to ClickHouse.
const LiveRun = "live"

// ProvideLogger builds the application logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the process registry served on the metrics path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.NewWithRegistry(reg)
}

// ProvideLocation is the exchange zone of the configured session calendar.
func ProvideLocation(cfg *config.Config) (*time.Location, error) {
	cal, err := cfg.Strategy.Session.Calendar()
	if err != nil {
		return nil, fmt.Errorf("%w: session: %v", models.ErrConfigInvalid, err)
	}
	return cal.Location(), nil
}

// ProvideClickHouseClient creates a ClickHouse client and its tables.
// Returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := append(internalrepo.BarSchema(cfg.ClickHouse.Database), internalrepo.TradeSchema(cfg.ClickHouse.Database)...)
	if err := client.InitSchema(ctx, stmts); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideRedisCache connects to Redis, or returns nil when it is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.KeyPrefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache falls back to process memory without Redis; halt and lock
// state then do not survive a restart.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return rc
	}
	return cache.NewMemoryCache()
}

func ProvideStateStore(c cache.Service, cfg *config.Config) repository.StateStore {
	return internalrepo.NewCacheStateStore(c, 3*cfg.Scheduler.StatusInterval, cfg.Redis.JobTTL)
}

// ProvideBarStore archives bars to ClickHouse, or returns nil.
func ProvideBarStore(ch *pkgch.Client, cfg *config.Config, loc *time.Location, l *applogger.Logger) repository.BarStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseBarStore(ch, cfg.ClickHouse.Database, loc, l)
}

func ProvideTradeStore(ch *pkgch.Client, cfg *config.Config) *internalrepo.ClickHouseTradeStore {
	if ch == nil {
		return nil
	}
	return internalrepo.NewClickHouseTradeStore(ch, cfg.ClickHouse.Database, LiveRun)
}

// ProvideTradeSink fans closed trades out to ClickHouse and the trades
// topic. Returns nil when neither is enabled.
func ProvideTradeSink(store *internalrepo.ClickHouseTradeStore, producer *pkgkafka.Producer, cfg *config.Config) repository.TradeSink {
	var sinks internalrepo.MultiSink
	if store != nil {
		sinks = append(sinks, store)
	}
	if producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaTradePublisher(producer, cfg.Kafka.TradesTopic, LiveRun))
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return sinks
}

// ProvideBrokerAdapter connects the live broker, or returns nil for paper trading.
func ProvideBrokerAdapter(cfg *config.Config, l *applogger.Logger) *execution.BrokerAdapter {
	if cfg.Broker.Paper {
		return nil
	}
	b := broker.New(broker.Config{
		BaseURL:       cfg.Broker.BaseURL,
		WebSocketURL:  cfg.Broker.WebSocketURL,
		AppKey:        cfg.Broker.AppKey,
		AppSecret:     cfg.Broker.AppSecret,
		AccountNo:     cfg.Broker.AccountNo,
		RequestsPerS:  cfg.Broker.RequestsPerS,
		Burst:         cfg.Broker.Burst,
		Timeout:       cfg.Broker.Timeout,
		PlaceAttempts: cfg.Broker.PlaceAttempts,
	}, broker.WithLogger(l))
	return execution.NewBrokerAdapter(b, l)
}

func ProvideExecutionAdapter(ba *execution.BrokerAdapter) execution.Adapter {
	if ba != nil {
		return ba
	}
	return execution.NewSimulated(execution.WithReportBuffer(1024))
}

func ProvideTradeJournal(sink repository.TradeSink, m repository.Metrics, l *applogger.Logger) *usecase.TradeJournal {
	return usecase.NewTradeJournal(sink, 1000, m, l)
}

// ProvideScheduler builds the live scheduler. With a bar archive it is
// seeded with the previous session's volumes.
func ProvideScheduler(
	cfg *config.Config,
	adapter execution.Adapter,
	journal *usecase.TradeJournal,
	bars repository.BarStore,
	m repository.Metrics,
	loc *time.Location,
	l *applogger.Logger,
) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithLogger(l),
		scheduler.WithMetrics(m),
		scheduler.WithTradeHook(journal.Record),
	}
	if bars != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		seeds, err := bars.PrevDayVolumes(ctx, cfg.Instruments, time.Now().In(loc))
		cancel()
		if err != nil {
			l.Warn("previous day volumes unavailable", applogger.Error(err))
		} else {
			opts = append(opts, scheduler.WithPrevDayVolumes(seeds))
		}
	}
	return scheduler.New(scheduler.Config{
		Mode:           models.ModeLive,
		Params:         cfg.Strategy,
		RunKey:         "live-" + time.Now().In(loc).Format("20060102-150405"),
		InboxSize:      cfg.Scheduler.InboxSize,
		TickInterval:   cfg.Scheduler.TickInterval,
		StaleAfter:     cfg.Scheduler.StaleAfter,
		LiquidateAfter: cfg.Scheduler.LiquidateAfter,
	}, adapter, opts...)
}

func ProvideTrader(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	state repository.StateStore,
	journal *usecase.TradeJournal,
	l *applogger.Logger,
) *usecase.Trader {
	return usecase.NewTrader(usecase.TraderConfig{
		LockTTL:        cfg.Scheduler.LockTTL,
		StatusInterval: cfg.Scheduler.StatusInterval,
	}, sched, state, journal, l)
}

// ProvideBarProcessor hands bars to the scheduler and archives them. Bars
// are republished to Kafka only when they did not come from Kafka.
func ProvideBarProcessor(
	cfg *config.Config,
	sched *scheduler.Scheduler,
	bars repository.BarStore,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.BarProcessor {
	opts := []usecase.ProcessorOption{usecase.WithProcessorLogger(l)}
	if bars != nil {
		opts = append(opts, usecase.WithBarArchive(bars))
	}
	if producer != nil && cfg.Feed.Source == "websocket" {
		opts = append(opts, usecase.WithBarPublisher(producer, cfg.Kafka.BarsTopic))
	}
	return usecase.NewBarProcessor(sched, m, opts...)
}

// ProvideBarCollector builds the websocket feed, or returns nil when bars
// come from Kafka.
func ProvideBarCollector(cfg *config.Config, proc *usecase.BarProcessor, m repository.Metrics, l *applogger.Logger) *usecase.BarCollector {
	if cfg.Feed.Source != "websocket" {
		return nil
	}
	stream := feed.New(
		cfg.Feed.APIKey,
		cfg.Feed.URL,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
		feed.WithLogger(l),
		feed.WithBuffer(cfg.Feed.BufferSize),
	)
	pipe := mid.NewRealtimePipeline(proc, m,
		mid.WithMaxRPS(cfg.Feed.MaxRPS),
		mid.WithBufferSize(cfg.Feed.BufferSize),
	)
	return usecase.NewBarCollector(stream, cfg.Instruments, pipe, m, l)
}

// ProvideKafkaConsumer creates the bars consumer when feed.source is kafka.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if cfg.Feed.Source != "kafka" {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartLatest(true),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.NewHookChain(
		pkgkafka.TraceHook{},
		pkgkafka.HookFuncs{
			Err: func(ctx context.Context, topic string, km kafka.Message, _ []byte, err error) {
				l.Warn("bar message failed",
					applogger.String("topic", topic),
					applogger.Int("partition", km.Partition),
					applogger.Int64("offset", km.Offset),
					applogger.String("trace_id", pkgkafka.TraceID(ctx)),
					applogger.Error(err),
				)
			},
		},
	))
	return consumer, nil
}

// ProvideKafkaBarsHandler feeds consumed bars straight to the processor;
// the consumer already bounds what is in flight.
func ProvideKafkaBarsHandler(cfg *config.Config, proc *usecase.BarProcessor, m repository.Metrics) *usecase.KafkaBarsHandler {
	if cfg.Feed.Source != "kafka" {
		return nil
	}
	return usecase.NewKafkaBarsHandler(cfg.Kafka.BarsTopic, proc, m)
}

// QueueKey is the Redis key prefix of the optimize job queue.
func QueueKey(cfg *config.Config) string {
	return cfg.Redis.KeyPrefix + ":queue:" + cfg.Redis.JobQueue
}

// ProvideJobPublisher enqueues optimize jobs, or returns nil without Redis.
func ProvideJobPublisher(rc *cache.RedisCache, cfg *config.Config, l *applogger.Logger) queue.Publisher {
	if rc == nil {
		return nil
	}
	return queue.NewRedisPublisher(l, rc.Client(), queue.WithKeyPrefix(QueueKey(cfg)))
}

func ProvideOptimizeService(pub queue.Publisher, state repository.StateStore, loc *time.Location) *usecase.OptimizeService {
	if pub == nil {
		return nil
	}
	return usecase.NewOptimizeService(pub, state, loc)
}

func ProvideBarsUseCase(bars repository.BarStore) *usecase.BarsUseCase {
	if bars == nil {
		return nil
	}
	return usecase.NewBarsUseCase(bars)
}

// ProvideTraderHandler registers only the optional endpoints whose
// backing services are configured.
func ProvideTraderHandler(
	l *applogger.Logger,
	trader *usecase.Trader,
	trades *internalrepo.ClickHouseTradeStore,
	optimize *usecase.OptimizeService,
	bars *usecase.BarsUseCase,
	ch *pkgch.Client,
	rc *cache.RedisCache,
	loc *time.Location,
) *api.TraderHandler {
	opts := []api.HandlerOption{api.WithLocation(loc)}
	if trades != nil {
		opts = append(opts, api.WithTradeStore(trades))
	}
	if optimize != nil {
		opts = append(opts, api.WithOptimizeQueue(optimize))
	}
	if bars != nil {
		opts = append(opts, api.WithBarReader(bars))
	}
	if ch != nil {
		opts = append(opts, api.WithHealthCheck("clickhouse", ch.Health))
	}
	if rc != nil {
		opts = append(opts, api.WithHealthCheck("redis", func(ctx context.Context) error {
			return rc.Client().Ping(ctx).Err()
		}))
	}
	return api.NewTraderHandler(l, trader, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.TraderHandler, reg *prometheus.Registry, l *applogger.Logger) *xhttp.Server {
	path := ""
	if cfg.Metrics.Enabled {
		path = cfg.Metrics.Path
	}
	return xhttp.NewServer(h,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(l),
		xhttp.WithMetrics(path, reg, reg),
	)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	trader *usecase.Trader,
	proc *usecase.BarProcessor,
	srv *xhttp.Server,
	collector *usecase.BarCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaBarsHandler,
	ba *execution.BrokerAdapter,
	ch *pkgch.Client,
	producer *pkgkafka.Producer,
	rc *cache.RedisCache,
) *server.App {
	opts := []server.Option{}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if consumer != nil && kh != nil {
		opts = append(opts, server.WithKafkaFeed(consumer, kh))
	}
	if ba != nil {
		opts = append(opts, server.WithBrokerAdapter(ba))
	}
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch))
	}
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer))
		if cfg.Log.Alerts.Enabled {
			l.AddCollector(&applogger.CollectionConfig{
				TimeInterval:   cfg.Log.Alerts.Interval,
				CountThreshold: cfg.Log.Alerts.CountThreshold,
				Topic:          cfg.Kafka.AlertsTopic,
				Publisher:      producer,
			})
		}
	}
	if rc != nil {
		opts = append(opts, server.WithCloser("redis", rc))
	}
	return server.New(cfg, l, trader, proc, srv, opts...)
}

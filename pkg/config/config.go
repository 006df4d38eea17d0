package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/engine/optimizer"
)

const dateLayout = "2006-01-02"

type Config struct {
	Environment string      `yaml:"environment" default:"development" validate:"required"`
	Mode        models.Mode `yaml:"mode" default:"live" validate:"oneof=live backtest"`
	Instruments []string    `yaml:"instruments" validate:"omitempty,dive,required"`

	Server     ServerConfig          `yaml:"server"`
	Metrics    MetricsConfig         `yaml:"metrics"`
	Log        LogConfig             `yaml:"log"`
	Kafka      KafkaConfig           `yaml:"kafka"`
	ClickHouse ClickHouseConfig      `yaml:"clickhouse"`
	Redis      RedisConfig           `yaml:"redis"`
	Feed       FeedConfig            `yaml:"feed"`
	Broker     BrokerConfig          `yaml:"broker"`
	Strategy   models.StrategyParams `yaml:"strategy"`
	Scheduler  SchedulerConfig       `yaml:"scheduler"`
	Backtest   BacktestConfig        `yaml:"backtest"`
	Optimizer  OptimizerConfig       `yaml:"optimizer"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type LogConfig struct {
	Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" default:"console" validate:"oneof=console json"`
	Output     string `yaml:"output" default:"stdout"`
	MaxSizeMB  int    `yaml:"max_size_mb" default:"100"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" default:"14"`
	Compress   bool   `yaml:"compress"`
	Alerts     struct {
		Enabled        bool          `yaml:"enabled"`
		Interval       time.Duration `yaml:"interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100"`
	} `yaml:"alerts"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	BarsTopic    string   `yaml:"bars_topic" default:"stockpulse.bars"`
	TradesTopic  string   `yaml:"trades_topic" default:"stockpulse.trades"`
	AlertsTopic  string   `yaml:"alerts_topic" default:"stockpulse.alerts"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"stockpulse-trader"`
		Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
		BufferSize int           `yaml:"buffer_size" default:"1024"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"stockpulse"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type RedisConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Addr      string        `yaml:"addr" default:"localhost:6379"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	PoolSize  int           `yaml:"pool_size" default:"10"`
	KeyPrefix string        `yaml:"key_prefix" default:"stockpulse"`
	JobQueue  string        `yaml:"job_queue" default:"optimize"`
	JobTTL    time.Duration `yaml:"job_ttl" default:"168h"`
}

// FeedConfig is the live bar websocket. Source "kafka" reads bars from
// Kafka.BarsTopic instead.
type FeedConfig struct {
	Source         string        `yaml:"source" default:"websocket" validate:"oneof=websocket kafka"`
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	MaxRPS         int           `yaml:"max_rps" default:"500"`
	BufferSize     int           `yaml:"buffer_size" default:"4096"`
}

// BrokerConfig selects the order transport. Paper keeps fills in-process.
type BrokerConfig struct {
	Paper         bool          `yaml:"paper" default:"true"`
	BaseURL       string        `yaml:"base_url"`
	WebSocketURL  string        `yaml:"websocket_url"`
	AppKey        string        `yaml:"app_key"`
	AppSecret     string        `yaml:"app_secret"`
	AccountNo     string        `yaml:"account_no"`
	RequestsPerS  int           `yaml:"requests_per_second" default:"10" validate:"gt=0"`
	Burst         int           `yaml:"burst" default:"5" validate:"gt=0"`
	Timeout       time.Duration `yaml:"timeout" default:"5s"`
	PlaceAttempts int           `yaml:"place_attempts" default:"1" validate:"gte=1,lte=5"`
}

type SchedulerConfig struct {
	InboxSize      int           `yaml:"inbox_size" default:"4096" validate:"gt=0"`
	TickInterval   time.Duration `yaml:"tick_interval" default:"1s" validate:"gt=0"`
	StaleAfter     time.Duration `yaml:"stale_after" default:"30s" validate:"gt=0"`
	LiquidateAfter time.Duration `yaml:"liquidate_after" default:"5m" validate:"gt=0"`
	StatusInterval time.Duration `yaml:"status_interval" default:"5s" validate:"gt=0"`
	LockTTL        time.Duration `yaml:"lock_ttl" default:"30s" validate:"gt=0"`
}

type BacktestConfig struct {
	Source       string `yaml:"source" default:"csv" validate:"oneof=csv clickhouse"`
	CSVPath      string `yaml:"csv_path" default:"data/bars.csv"`
	From         string `yaml:"from"`
	To           string `yaml:"to"`
	TradeLogPath string `yaml:"trade_log_path" default:"out/trades.csv"`
	SummaryPath  string `yaml:"summary_path" default:"out/summary.json"`
	Persist      bool   `yaml:"persist"`
}

type OptimizerConfig struct {
	Search        string              `yaml:"search" default:"random" validate:"oneof=grid random"`
	Trials        int                 `yaml:"trials" default:"50" validate:"gte=0"`
	MaxTrials     int                 `yaml:"max_trials" validate:"gte=0"`
	Seed          int64               `yaml:"seed" default:"42"`
	Workers       int                 `yaml:"workers" validate:"gte=0"`
	InSampleDays  int                 `yaml:"in_sample_days" default:"20" validate:"gt=0"`
	OutSampleDays int                 `yaml:"out_sample_days" default:"5" validate:"gt=0"`
	StepDays      int                 `yaml:"step_days" validate:"gte=0"`
	Space         []optimizer.Range   `yaml:"space" validate:"dive"`
	Objective     optimizer.Objective `yaml:"objective"`
	ReportPath    string              `yaml:"report_path" default:"out/walkforward.json"`
}

// Window parses Backtest.From/To as session dates in loc. A blank To means
// through the end of From's year.
func (b BacktestConfig) Window(loc *time.Location) (time.Time, time.Time, error) {
	from, err := time.ParseInLocation(dateLayout, b.From, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: backtest.from: %v", models.ErrConfigInvalid, err)
	}
	if b.To == "" {
		return from, time.Date(from.Year()+1, 1, 1, 0, 0, 0, 0, loc), nil
	}
	to, err := time.ParseInLocation(dateLayout, b.To, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: backtest.to: %v", models.ErrConfigInvalid, err)
	}
	// inclusive end date
	return from, to.AddDate(0, 0, 1), nil
}

// OptimizerSettings builds the optimizer config over the loaded strategy.
func (c *Config) OptimizerSettings() optimizer.Config {
	return optimizer.Config{
		Base:          c.Strategy,
		Space:         c.Optimizer.Space,
		Search:        c.Optimizer.Search,
		Trials:        c.Optimizer.Trials,
		MaxTrials:     c.Optimizer.MaxTrials,
		Seed:          c.Optimizer.Seed,
		Workers:       c.Optimizer.Workers,
		InSampleDays:  c.Optimizer.InSampleDays,
		OutSampleDays: c.Optimizer.OutSampleDays,
		StepDays:      c.Optimizer.StepDays,
		Objective:     c.Optimizer.Objective,
	}
}

// Default returns a Config with every default applied and nothing loaded.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("KAFKA_BARS_TOPIC"); v != "" {
		c.Kafka.BarsTopic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("BROKER_APP_KEY"); v != "" {
		c.Broker.AppKey = v
	}
	if v := getenv("BROKER_APP_SECRET"); v != "" {
		c.Broker.AppSecret = v
	}
	if v := getenv("INSTRUMENTS"); v != "" {
		c.Instruments = splitList(v)
	}
	if v := getenv("TRADER_MODE"); v != "" {
		c.Mode = models.Mode(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var configValidator = validator.New()

// Validate checks tags and cross-field rules. Values are never clamped;
// every failure wraps models.ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Scheduler.LiquidateAfter < c.Scheduler.StaleAfter {
		return fmt.Errorf("%w: scheduler.liquidate_after %s is shorter than stale_after %s",
			models.ErrConfigInvalid, c.Scheduler.LiquidateAfter, c.Scheduler.StaleAfter)
	}
	if c.Mode == models.ModeLive {
		if len(c.Instruments) == 0 {
			return fmt.Errorf("%w: live mode needs instruments", models.ErrConfigInvalid)
		}
		if c.Feed.Source == "websocket" && c.Feed.URL == "" {
			return fmt.Errorf("%w: feed.url is required for the websocket feed", models.ErrConfigInvalid)
		}
		if c.Feed.Source == "kafka" && !c.Kafka.Enabled {
			return fmt.Errorf("%w: feed.source kafka needs kafka.enabled", models.ErrConfigInvalid)
		}
		if !c.Broker.Paper && (c.Broker.BaseURL == "" || c.Broker.AppKey == "" || c.Broker.AppSecret == "") {
			return fmt.Errorf("%w: broker base_url, app_key and app_secret are required unless paper", models.ErrConfigInvalid)
		}
	}
	if c.Backtest.Source == "clickhouse" && !c.ClickHouse.Enabled && c.Mode == models.ModeBacktest {
		return fmt.Errorf("%w: backtest.source clickhouse needs clickhouse.enabled", models.ErrConfigInvalid)
	}
	if c.Optimizer.Search == optimizer.SearchRandom && c.Optimizer.Trials <= 0 && len(c.Optimizer.Space) > 0 {
		return fmt.Errorf("%w: optimizer.trials must be positive for random search", models.ErrConfigInvalid)
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
)

const minimalLive = `
environment: test
instruments: ["005930"]
feed:
  url: ws://localhost:1/bars
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalLive))
	require.NoError(t, err)

	assert.Equal(t, models.ModeLive, c.Mode)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, []string{"localhost:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 30*time.Second, c.Scheduler.StaleAfter)
	assert.Equal(t, 5*time.Minute, c.Scheduler.LiquidateAfter)
	assert.Equal(t, 10, c.Strategy.Risk.MaxPositions)
	assert.Equal(t, -0.05, c.Strategy.Exit.StopLoss)
	assert.True(t, c.Broker.Paper)
	assert.Equal(t, 0.4, c.Optimizer.Objective.SharpeWeight)
}

func TestParseOverlaysNestedValues(t *testing.T) {
	c, err := Parse([]byte(minimalLive + `
strategy:
  exit:
    take_profit: 0.2
  entry:
    breakout: { lookback: 9 }
`))
	require.NoError(t, err)
	assert.Equal(t, 0.2, c.Strategy.Exit.TakeProfit)
	assert.Equal(t, 9, c.Strategy.Entry.Breakout.Lookback)
	// siblings keep their defaults
	assert.True(t, c.Strategy.Entry.Breakout.Enabled)
	assert.Equal(t, 0.01, c.Strategy.Entry.Breakout.RiseThreshold)
}

func TestValidateRejectsWithoutClamping(t *testing.T) {
	cases := map[string]string{
		"positive stop loss":       minimalLive + "strategy:\n  exit:\n    stop_loss: 0.05\n",
		"zero max positions":       minimalLive + "strategy:\n  risk:\n    max_positions: 0\n",
		"live without instruments": "environment: test\nfeed:\n  url: ws://x\n",
		"liquidate before stale":   minimalLive + "scheduler:\n  stale_after: 10m\n  liquidate_after: 1m\n",
		"real broker no keys":      minimalLive + "broker:\n  paper: false\n  base_url: https://broker\n",
		"unknown mode":             minimalLive + "mode: paper\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrConfigInvalid)
		})
	}
}

func TestBacktestModeSkipsLiveChecks(t *testing.T) {
	c, err := Parse([]byte("environment: test\nmode: backtest\n"))
	require.NoError(t, err)
	assert.Equal(t, models.ModeBacktest, c.Mode)
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(minimalLive))
	require.NoError(t, err)

	env := map[string]string{
		"KAFKA_BROKERS":  "k1:9092, k2:9092",
		"INSTRUMENTS":    "000660,035420",
		"TRADER_MODE":    "backtest",
		"REDIS_ADDR":     "redis:6379",
		"BROKER_APP_KEY": "key",
	}
	c.applyEnv(func(k string) string { return env[k] })

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, []string{"000660", "035420"}, c.Instruments)
	assert.Equal(t, models.ModeBacktest, c.Mode)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.Equal(t, "key", c.Broker.AppKey)
	assert.Equal(t, "localhost", c.ClickHouse.Host)
}

func TestLoadRepositoryConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, c.Optimizer.Space, 5)
	assert.Equal(t, "Asia/Seoul", c.Strategy.Session.Timezone)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBacktestWindow(t *testing.T) {
	loc := time.FixedZone("KST", 9*3600)
	from, to, err := BacktestConfig{From: "2024-03-04", To: "2024-03-08"}.Window(loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, loc), from)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, loc), to)

	_, _, err = BacktestConfig{From: "03/04/2024"}.Window(loc)
	assert.ErrorIs(t, err, models.ErrConfigInvalid)
}

func TestOptimizerSettings(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	oc := c.OptimizerSettings()
	assert.Equal(t, c.Strategy, oc.Base)
	assert.Equal(t, 20, oc.InSampleDays)
	assert.Equal(t, int64(42), oc.Seed)
}

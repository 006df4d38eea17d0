package logger

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batchRecorder struct {
	mu      sync.Mutex
	topics  []string
	batches []AlertBatch
}

func (r *batchRecorder) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.batches = append(r.batches, payload.(AlertBatch))
	return nil
}

func (r *batchRecorder) snapshot() []AlertBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertBatch(nil), r.batches...)
}

func TestCollectorDeduplicates(t *testing.T) {
	pub := &batchRecorder{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 10, Topic: "alerts", Publisher: pub})

	for i := 0; i < 3; i++ {
		c.AddLog("error", "a", map[string]interface{}{"instrument": "005930"}, "x.go:1")
	}
	c.AddLog("error", "b", nil, "x.go:2")
	assert.Equal(t, 2, c.Pending())

	c.Close()
	batches := pub.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Entries, 2)
	assert.Equal(t, "a", batches[0].Entries[0].Message)
	assert.Equal(t, 3, batches[0].Entries[0].Count)
	assert.Equal(t, 1, batches[0].Entries[1].Count)
	assert.Equal(t, []string{"alerts"}, pub.topics)
}

func TestCollectorFlushesAtThreshold(t *testing.T) {
	pub := &batchRecorder{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Publisher: pub})
	defer c.Close()

	c.AddLog("error", "a", nil, "")
	c.AddLog("error", "b", nil, "")

	assert.Equal(t, 0, c.Pending())
	require.Eventually(t, func() bool { return len(pub.snapshot()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestLoggerForwardsOnlyErrors(t *testing.T) {
	pub := &batchRecorder{}
	l := NewNop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Publisher: pub})

	l.Info("started")
	l.Warn("slow", Duration("elapsed", time.Second))
	l.Error("archive failed", String("table", "bars_1m"), Int("bars", 3))
	l.RemoveCollector()

	batches := pub.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Entries, 1)
	e := batches[0].Entries[0]
	assert.Equal(t, "error", e.Level)
	assert.Equal(t, "archive failed", e.Message)
	assert.Equal(t, "bars_1m", e.Fields["table"])
	assert.Equal(t, 3, e.Fields["bars"])
	assert.Contains(t, e.Caller, "logger_test.go")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Debug("hidden")
	l.With(String("component", "feed")).Info("connected", Bool("ok", true))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"message":"connected"`)
	assert.Contains(t, string(b), `"component":"feed"`)
	assert.NotContains(t, string(b), "hidden")
}

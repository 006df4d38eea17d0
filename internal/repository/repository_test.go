package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/cache"
	pkgkafka "StockPulse/pkg/kafka"
)

var kst = time.FixedZone("KST", 9*3600)

func newStateStore(t *testing.T) (*CacheStateStore, *cache.MemoryCache) {
	t.Helper()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	return NewCacheStateStore(mc, time.Minute, time.Hour), mc
}

func TestStateStoreHaltSurvivesAndClears(t *testing.T) {
	ctx := context.Background()
	s, _ := newStateStore(t)

	halted, _, err := s.Halted(ctx)
	require.NoError(t, err)
	assert.False(t, halted)

	require.NoError(t, s.SetHalted(ctx, true, "manual"))
	halted, reason, err := s.Halted(ctx)
	require.NoError(t, err)
	assert.True(t, halted)
	assert.Equal(t, "manual", reason)

	require.NoError(t, s.SetHalted(ctx, false, ""))
	halted, _, err = s.Halted(ctx)
	require.NoError(t, err)
	assert.False(t, halted)
}

func TestStateStoreStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newStateStore(t)

	st, err := s.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	want := models.TraderStatus{Mode: models.ModeLive, EventsProcessed: 12, TradeCount: 3}
	require.NoError(t, s.SaveStatus(ctx, want))
	got, err := s.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.EventsProcessed, got.EventsProcessed)
	assert.Equal(t, models.ModeLive, got.Mode)
}

func TestStateStoreLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s, _ := newStateStore(t)

	ok, err := s.AcquireLock(ctx, "trader-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock(ctx, "trader-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// renewal by the holder
	ok, err = s.AcquireLock(ctx, "trader-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	err = s.ReleaseLock(ctx, "trader-b")
	assert.True(t, errors.Is(err, cache.ErrNotLockOwner))

	require.NoError(t, s.ReleaseLock(ctx, "trader-a"))
	ok, err = s.AcquireLock(ctx, "trader-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStateStoreJobs(t *testing.T) {
	ctx := context.Background()
	s, _ := newStateStore(t)

	job, err := s.LoadJob(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, s.SaveJob(ctx, models.OptimizeJobState{ID: "j1", Status: models.JobRunning}))
	job, err = s.LoadJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobRunning, job.Status)
}

const barsCSV = `instrument_id,timestamp,open,high,low,close,volume,execution_strength
005930,2024-03-04 09:01:00,70000,70100,69900,70050,1200,1.2
000660,2024-03-04 09:00:00,150000,150500,149800,150200,800,
005930,2024-03-04 09:00:00,69900,70000,69800,70000,1500,1.1
005930,2024-03-05 09:00:00,70100,70200,70000,70150,900,
`

func TestReadBarsCSVSortsAndParses(t *testing.T) {
	bars, err := ReadBarsCSV(context.Background(), strings.NewReader(barsCSV), kst)
	require.NoError(t, err)
	require.Len(t, bars, 4)

	assert.Equal(t, "000660", bars[0].InstrumentID)
	assert.Equal(t, "005930", bars[1].InstrumentID)
	assert.True(t, bars[0].Timestamp.Equal(bars[1].Timestamp))
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 0, 0, kst).Unix(), bars[0].Timestamp.Unix())

	s, ok := bars[1].Strength()
	assert.True(t, ok)
	assert.Equal(t, 1.1, s)
	_, ok = bars[0].Strength()
	assert.False(t, ok)
}

func TestReadBarsCSVRejects(t *testing.T) {
	cases := map[string]string{
		"missing close":    "instrument_id,timestamp\n005930,2024-03-04 09:00:00\n",
		"bad timestamp":    "instrument_id,timestamp,close\n005930,yesterday,100\n",
		"non-positive":     "instrument_id,timestamp,close\n005930,2024-03-04 09:00:00,0\n",
		"bad volume":       "instrument_id,timestamp,close,volume\n005930,2024-03-04 09:00:00,100,lots\n",
		"empty instrument": "instrument_id,timestamp,close\n,2024-03-04 09:00:00,100\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadBarsCSV(context.Background(), strings.NewReader(doc), kst)
			assert.Error(t, err)
		})
	}
}

func TestCSVBarLoaderWindowAndPrevDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte(barsCSV), 0o644))
	l := NewCSVBarLoader(path, kst)
	ctx := context.Background()

	day := time.Date(2024, 3, 5, 0, 0, 0, 0, kst)
	bars, err := l.LoadBars(ctx, []string{"005930"}, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 70150.0, bars[0].Close)

	vols, err := l.PrevDayVolumes(ctx, []string{"005930", "000660"}, day)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"005930": 2700, "000660": 800}, vols)

	vols, err = l.PrevDayVolumes(ctx, nil, time.Date(2024, 3, 4, 0, 0, 0, 0, kst))
	require.NoError(t, err)
	assert.Empty(t, vols)
}

type recordingProducer struct {
	topic string
	msgs  []pkgkafka.Message
}

func (r *recordingProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	r.topic = topic
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func TestKafkaTradePublisherKeysByInstrument(t *testing.T) {
	rp := &recordingProducer{}
	p := NewKafkaTradePublisher(rp, "stockpulse.trades", "live")

	require.NoError(t, p.SaveTrades(context.Background(), nil))
	assert.Empty(t, rp.msgs)

	trades := []models.TradeRecord{
		{InstrumentID: "005930", ExitReason: models.ExitTakeProfit},
		{InstrumentID: "000660", ExitReason: models.ExitStopLoss},
	}
	require.NoError(t, p.SaveTrades(context.Background(), trades))
	require.Len(t, rp.msgs, 2)
	assert.Equal(t, "stockpulse.trades", rp.topic)
	assert.Equal(t, "005930", string(rp.msgs[0].Key))
	assert.Equal(t, "live", rp.msgs[1].Headers["source"])
	assert.Equal(t, trades[1], rp.msgs[1].Value)
}

type failingSink struct{ NopSink }

func (failingSink) SaveTrades(context.Context, []models.TradeRecord) error {
	return errors.New("down")
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	rp := &recordingProducer{}
	m := MultiSink{failingSink{}, NewKafkaTradePublisher(rp, "t", "live")}
	err := m.SaveTrades(context.Background(), []models.TradeRecord{{InstrumentID: "005930"}})
	assert.EqualError(t, err, "down")
	assert.Len(t, rp.msgs, 1, "a failing sink does not stop the others")
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Contains(t, BarSchema("db")[1], "db.bars_1m")
	assert.Contains(t, TradeSchema("db")[2], "db.walkforward_reports")
}

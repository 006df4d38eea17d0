package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/metrics"
)

type recordingProc struct {
	mu   sync.Mutex
	fail int
	got  []models.MarketEvent
}

func (r *recordingProc) Process(_ context.Context, ev models.MarketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return errors.New("downstream busy")
	}
	r.got = append(r.got, ev)
	return nil
}

func (r *recordingProc) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func bar(id string, at time.Time) models.MarketEvent {
	return models.MarketEvent{InstrumentID: id, Timestamp: at, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10}
}

func TestPipelineValidates(t *testing.T) {
	p := NewRealtimePipeline(&recordingProc{}, metrics.Nop{})
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

	bad := []models.MarketEvent{
		{Timestamp: at, Close: 1},
		{InstrumentID: "005930", Close: 1},
		{InstrumentID: "005930", Timestamp: at},
		{InstrumentID: "005930", Timestamp: at, Close: 1, Volume: -1},
	}
	for _, ev := range bad {
		assert.Error(t, p.Process(context.Background(), ev))
	}
	assert.NoError(t, p.Process(context.Background(), bar("005930", at)))
}

func TestPipelineThrottlesPerInstrument(t *testing.T) {
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	proc := &recordingProc{}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(2), WithPipelineClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, bar("005930", now)))
	require.NoError(t, p.Process(ctx, bar("005930", now.Add(time.Minute))))
	require.NoError(t, p.Process(ctx, bar("000660", now)))
	assert.Equal(t, 2, proc.count())

	now = now.Add(600 * time.Millisecond)
	require.NoError(t, p.Process(ctx, bar("005930", now.Add(time.Minute))))
	assert.Equal(t, 3, proc.count())
}

func TestPipelineBuffersAndRetries(t *testing.T) {
	proc := &recordingProc{fail: 1}
	p := NewRealtimePipeline(proc, metrics.Nop{}, WithMaxRPS(0), WithBufferSize(4))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Process(ctx, bar("005930", time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)))
	require.Error(t, err)
	assert.Equal(t, 1, p.Buffered())

	p.Start(ctx)
	defer p.Stop()
	assert.Eventually(t, func() bool { return proc.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, p.Buffered())
}

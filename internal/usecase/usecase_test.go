package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockPulse/internal/domain/models"
	"StockPulse/internal/engine/optimizer"
	"StockPulse/internal/engine/report"
	mid "StockPulse/internal/middleware"
	"StockPulse/internal/repository"
	svcmetrics "StockPulse/internal/service/metrics"
	"StockPulse/pkg/cache"
	pkgkafka "StockPulse/pkg/kafka"
	"StockPulse/pkg/metrics"
)

var kst = time.FixedZone("KST", 9*3600)

func bar(id string, ts time.Time, px float64) models.MarketEvent {
	return models.MarketEvent{InstrumentID: id, Timestamp: ts, Open: px, High: px, Low: px, Close: px, Volume: 1000}
}

// dayBars is two hours of oscillating minute bars per instrument per day.
func dayBars(days int, ids ...string) []models.MarketEvent {
	var out []models.MarketEvent
	for d := 0; d < days; d++ {
		for k, id := range ids {
			for i := 0; i < 120; i++ {
				ts := time.Date(2024, 3, 4+d, 9, 0, 0, 0, kst).Add(time.Duration(i) * time.Minute)
				px := math.Round(20000 * (1 + 0.05*math.Sin(float64(i)/9+float64(k)+float64(d)/2)))
				out = append(out, models.MarketEvent{
					InstrumentID: id, Timestamp: ts,
					Open: px, High: px * 1.003, Low: px * 0.997, Close: px,
					Volume: float64(2000 + 500*(i%7)),
				})
			}
		}
	}
	return out
}

func baseParams() models.StrategyParams {
	p := models.DefaultStrategyParams()
	p.Entry.GradualRise.Enabled = false
	return p
}

type recorder struct {
	mu   sync.Mutex
	bars []models.MarketEvent
	err  error
}

func (r *recorder) Enqueue(_ context.Context, ev models.MarketEvent) error {
	return r.Process(context.Background(), ev)
}

func (r *recorder) Process(_ context.Context, ev models.MarketEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.bars = append(r.bars, ev)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

type memBarStore struct {
	recorder
	events []models.MarketEvent
	seeds  map[string]float64
}

func (s *memBarStore) Init(context.Context) error { return nil }
func (s *memBarStore) StoreBars(ctx context.Context, bars []models.MarketEvent) error {
	for _, b := range bars {
		if err := s.Process(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
func (s *memBarStore) LoadBars(context.Context, []string, time.Time, time.Time) ([]models.MarketEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}
func (s *memBarStore) PrevDayVolumes(context.Context, []string, time.Time) (map[string]float64, error) {
	return s.seeds, nil
}
func (s *memBarStore) Health(context.Context) error { return nil }
func (s *memBarStore) Close() error                 { return nil }

type recordingPublisher struct {
	mu    sync.Mutex
	topic string
	msgs  []pkgkafka.Message
}

func (p *recordingPublisher) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func TestBarProcessorEnqueuesAndArchivesInBatches(t *testing.T) {
	sched := &recorder{}
	store := &memBarStore{}
	pub := &recordingPublisher{}
	p := NewBarProcessor(sched, metrics.Nop{},
		WithBarArchive(store),
		WithBarPublisher(pub, "stockpulse.bars"),
		WithBatching(2, time.Hour),
	)
	p.Start(context.Background())

	t0 := time.Date(2024, 3, 4, 9, 1, 0, 0, kst)
	for i, id := range []string{"005930", "000660"} {
		require.NoError(t, p.Process(context.Background(), bar(id, t0.Add(time.Duration(i)*time.Minute), 100)))
	}
	// a full batch goes out without waiting for the timer
	assert.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Process(context.Background(), bar("035420", t0.Add(2*time.Minute), 100)))
	assert.Equal(t, 3, sched.count())
	p.Close()
	assert.Equal(t, 3, store.count())
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "stockpulse.bars", pub.topic)
	require.Len(t, pub.msgs, 3)
	assert.Equal(t, "035420", string(pub.msgs[2].Key))
}

func TestBarProcessorReturnsOnlyEnqueueErrors(t *testing.T) {
	sched := &recorder{err: context.DeadlineExceeded}
	store := &memBarStore{}
	p := NewBarProcessor(sched, metrics.Nop{}, WithBarArchive(store))
	p.Start(context.Background())

	err := p.Process(context.Background(), bar("005930", time.Now(), 100))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	p.Close()
	assert.Zero(t, store.count())

	// archive failures stay off the critical path
	sched.err = nil
	store.err = errors.New("clickhouse down")
	p = NewBarProcessor(sched, metrics.Nop{}, WithBarArchive(store))
	p.Start(context.Background())
	assert.NoError(t, p.Process(context.Background(), bar("005930", time.Now(), 100)))
	p.Close()
}

type scriptedStream struct {
	mu         sync.Mutex
	sessions   [][]models.MarketEvent
	reads      int
	reconnects int
	subscribed []string
}

func (s *scriptedStream) Connect(context.Context) error { return nil }
func (s *scriptedStream) Subscribe(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = ids
	return nil
}

// Read plays one session per call. Every session but the last ends with a
// dropped connection; the last stays open until ctx ends.
func (s *scriptedStream) Read(ctx context.Context) (<-chan models.MarketEvent, <-chan error) {
	s.mu.Lock()
	idx := s.reads
	s.reads++
	s.mu.Unlock()

	bars := make(chan models.MarketEvent, 16)
	errs := make(chan error, 1)
	go func() {
		defer close(bars)
		defer close(errs)
		if idx < len(s.sessions) {
			for _, b := range s.sessions[idx] {
				bars <- b
			}
			if idx < len(s.sessions)-1 {
				errs <- errors.New("connection reset")
				return
			}
		}
		<-ctx.Done()
	}()
	return bars, errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}
func (s *scriptedStream) Close() error      { return nil }
func (s *scriptedStream) IsConnected() bool { return true }

func TestBarCollectorReconnectsAndKeepsForwarding(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 9, 1, 0, 0, kst)
	stream := &scriptedStream{sessions: [][]models.MarketEvent{
		{bar("A", t0, 100), bar("B", t0, 200)},
		{bar("C", t0, 300)},
	}}
	sink := &recorder{}
	pipe := mid.NewRealtimePipeline(sink, metrics.Nop{})
	c := NewBarCollector(stream, []string{"A", "B", "C"}, pipe, metrics.Nop{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	assert.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)

	stream.mu.Lock()
	assert.Equal(t, 1, stream.reconnects)
	assert.Equal(t, []string{"A", "B", "C"}, stream.subscribed)
	stream.mu.Unlock()

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	assert.NoError(t, c.Shutdown(shutdownCtx))
}

func TestKafkaBarsHandler(t *testing.T) {
	next := &recorder{}
	h := NewKafkaBarsHandler("stockpulse.bars", next, metrics.Nop{})
	assert.Equal(t, "stockpulse.bars", h.Topic())

	b, err := json.Marshal(bar("005930", time.Date(2024, 3, 4, 9, 1, 0, 0, kst), 71000))
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	require.Equal(t, 1, next.count())
	assert.Equal(t, 71000.0, next.bars[0].Close)

	// dropped, not retried
	assert.NoError(t, h.Handle(context.Background(), []byte("{not json")))
	assert.NoError(t, h.Handle(context.Background(), []byte(`{"instrument_id":"005930","close":0}`)))
	assert.Equal(t, 1, next.count())

	next.err = errors.New("inbox closed")
	assert.Error(t, h.Handle(context.Background(), b))
}

type recordingSink struct {
	mu     sync.Mutex
	trades []models.TradeRecord
}

func (s *recordingSink) SaveTrades(_ context.Context, trades []models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, trades...)
	return nil
}
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func trade(id string, exit time.Time) models.TradeRecord {
	return models.TradeRecord{InstrumentID: id, ExitTime: exit, Quantity: 1, ExitReason: models.ExitTakeProfit}
}

func TestTradeJournalRecentAndFlush(t *testing.T) {
	sink := &recordingSink{}
	j := NewTradeJournal(sink, 3, metrics.Nop{}, nil)
	t0 := time.Date(2024, 3, 4, 10, 0, 0, 0, kst)
	for i, id := range []string{"A", "B", "A", "C"} {
		j.Record(trade(id, t0.Add(time.Duration(i)*time.Minute)))
	}

	recent := j.Recent("", 10)
	require.Len(t, recent, 3)
	assert.Equal(t, "C", recent[0].InstrumentID)
	assert.Equal(t, "B", recent[2].InstrumentID)
	onlyA := j.Recent("A", 10)
	require.Len(t, onlyA, 1)
	assert.Equal(t, t0.Add(2*time.Minute), onlyA[0].ExitTime)
	assert.Len(t, j.Recent("", 1), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
	assert.Equal(t, 4, sink.count())
}

type fakeEngine struct {
	mu     sync.Mutex
	halted bool
	reason string
}

func (e *fakeEngine) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (e *fakeEngine) Halt(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halted, e.reason = true, reason
}

func (e *fakeEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halted, e.reason = false, ""
}

func (e *fakeEngine) Status() models.TraderStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.TraderStatus{Mode: models.ModeLive, Halted: e.halted, HaltReason: e.reason, EventsProcessed: 7}
}

func newState(t *testing.T) (*repository.CacheStateStore, *cache.MemoryCache) {
	t.Helper()
	mc := cache.NewMemoryCache(cache.WithMemoryCleanup(0))
	t.Cleanup(func() { _ = mc.Close() })
	return repository.NewCacheStateStore(mc, time.Minute, time.Hour), mc
}

func TestTraderRestoresHaltAndHoldsTheLock(t *testing.T) {
	ctx := context.Background()
	state, _ := newState(t)
	require.NoError(t, state.SetHalted(ctx, true, "manual"))

	eng := &fakeEngine{}
	tr := NewTrader(TraderConfig{Owner: "a", LockTTL: time.Minute, StatusInterval: time.Hour}, eng, state, nil, nil)

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(runCtx) }()

	assert.Eventually(t, func() bool { return tr.Status().Halted }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "manual", tr.Status().HaltReason)

	other := NewTrader(TraderConfig{Owner: "b"}, &fakeEngine{}, state, nil, nil)
	assert.ErrorIs(t, other.Run(ctx), ErrLocked)

	cancel()
	require.NoError(t, <-errCh)

	// final status saved and the lock released
	st, err := state.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, int64(7), st.EventsProcessed)
	ok, err := state.AcquireLock(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTraderHaltAndResumePersist(t *testing.T) {
	ctx := context.Background()
	state, _ := newState(t)
	eng := &fakeEngine{}
	tr := NewTrader(TraderConfig{}, eng, state, nil, nil)

	require.NoError(t, tr.Halt(ctx, "news"))
	halted, reason, err := state.Halted(ctx)
	require.NoError(t, err)
	assert.True(t, halted)
	assert.Equal(t, "news", reason)
	assert.True(t, eng.Status().Halted)

	require.NoError(t, tr.Resume(ctx))
	halted, _, err = state.Halted(ctx)
	require.NoError(t, err)
	assert.False(t, halted)
	assert.False(t, eng.Status().Halted)
}

// stolenLock refuses renewals once another instance is said to hold the lock.
type stolenLock struct {
	*repository.CacheStateStore
	stolen atomic.Bool
}

func (s *stolenLock) AcquireLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if s.stolen.Load() {
		return false, nil
	}
	return s.CacheStateStore.AcquireLock(ctx, owner, ttl)
}

func TestTraderStopsWhenLockIsTaken(t *testing.T) {
	inner, _ := newState(t)
	state := &stolenLock{CacheStateStore: inner}
	tr := NewTrader(TraderConfig{Owner: "a", LockTTL: 30 * time.Millisecond, StatusInterval: time.Hour}, &fakeEngine{}, state, nil, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Run(context.Background()) }()
	state.stolen.Store(true)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrLockLost)
	case <-time.After(2 * time.Second):
		t.Fatal("trader kept running without the lock")
	}
}

func TestBacktestRunnerWritesDeterministicOutputs(t *testing.T) {
	store := &memBarStore{events: dayBars(2, "A", "B")}
	sink := &recordingSink{}
	r := NewBacktestRunner(store, sink, nil, nil)
	dir := t.TempDir()

	run := func(name string) (models.BacktestResult, []byte) {
		p := BacktestParams{
			Params:       baseParams(),
			Instruments:  []string{"A", "B"},
			From:         time.Date(2024, 3, 4, 0, 0, 0, 0, kst),
			To:           time.Date(2024, 3, 6, 0, 0, 0, 0, kst),
			RunKey:       "bt",
			TradeLogPath: filepath.Join(dir, name, "trades.csv"),
			SummaryPath:  filepath.Join(dir, name, "summary.json"),
		}
		res, err := r.Run(context.Background(), p)
		require.NoError(t, err)
		b, err := os.ReadFile(p.TradeLogPath)
		require.NoError(t, err)
		return res, b
	}

	res, log1 := run("first")
	_, log2 := run("second")
	assert.Equal(t, log1, log2)
	assert.Equal(t, int64(len(store.events)), res.Events)

	f, err := os.Open(filepath.Join(dir, "first", "trades.csv"))
	require.NoError(t, err)
	defer f.Close()
	parsed, err := report.ReadTradeLog(f)
	require.NoError(t, err)
	assert.Len(t, parsed, len(res.Trades))
	assert.Equal(t, 2*len(res.Trades), sink.count())

	raw, err := os.ReadFile(filepath.Join(dir, "first", "summary.json"))
	require.NoError(t, err)
	var sum BacktestSummary
	require.NoError(t, json.Unmarshal(raw, &sum))
	assert.Equal(t, res.Summary.Trades, sum.Summary.Trades)
	assert.Equal(t, "bt", sum.RunKey)
}

func TestBacktestRunnerNeedsBars(t *testing.T) {
	r := NewBacktestRunner(&memBarStore{}, nil, nil, nil)
	_, err := r.Run(context.Background(), BacktestParams{Params: baseParams()})
	assert.Error(t, err)
}

type recordingQueue struct {
	msgType string
	payload interface{}
}

func (q *recordingQueue) Enqueue(_ context.Context, msgType string, payload interface{}) (string, error) {
	q.msgType, q.payload = msgType, payload
	return "msg-1", nil
}

func optimizeRequest(from, to string) models.OptimizeRequest {
	return models.OptimizeRequest{
		Instruments:   []string{"A", "B"},
		From:          from,
		To:            to,
		InSampleDays:  2,
		OutSampleDays: 1,
		Search:        optimizer.SearchGrid,
		Trials:        1,
		Seed:          42,
	}
}

func TestOptimizeServiceSubmit(t *testing.T) {
	ctx := context.Background()
	state, _ := newState(t)
	q := &recordingQueue{}
	svc := NewOptimizeService(q, state, kst)

	job, err := svc.Submit(ctx, optimizeRequest("2024-03-04", "2024-03-07"))
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, OptimizeJobType, q.msgType)
	assert.Equal(t, job.ID, q.payload.(OptimizePayload).ID)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobQueued, got.Status)

	_, err = svc.Submit(ctx, optimizeRequest("2024/03/04", "2024-03-07"))
	assert.ErrorIs(t, err, models.ErrConfigInvalid)
	_, err = svc.Submit(ctx, optimizeRequest("2024-03-07", "2024-03-04"))
	assert.ErrorIs(t, err, models.ErrConfigInvalid)
}

type savedReports struct {
	reports []models.WalkForwardReport
}

func (s *savedReports) SaveWalkForward(_ context.Context, r models.WalkForwardReport) error {
	s.reports = append(s.reports, r)
	return nil
}

func newOptimizeJob(t *testing.T, store *memBarStore, reg prometheus.Registerer) (*OptimizeJob, *repository.CacheStateStore, *savedReports) {
	t.Helper()
	state, _ := newState(t)
	saved := &savedReports{}
	base := optimizer.Config{
		Base: baseParams(),
		Space: []optimizer.Range{
			{Name: "exit.take_profit", Min: 0.03, Max: 0.06, Step: 0.03},
		},
		Workers: 2,
	}
	job, err := NewOptimizeJob(base, store, state, saved, svcmetrics.NewJobMetrics(reg), nil)
	require.NoError(t, err)
	return job, state, saved
}

func payload(t *testing.T, id string, req models.OptimizeRequest) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(OptimizePayload{ID: id, Request: req})
	require.NoError(t, err)
	return b
}

func TestOptimizeJobSucceeds(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	job, state, saved := newOptimizeJob(t, &memBarStore{events: dayBars(4, "A", "B")}, reg)
	assert.Equal(t, OptimizeJobType, job.Type())

	require.NoError(t, job.Handle(ctx, payload(t, "job-1", optimizeRequest("2024-03-04", "2024-03-07"))))

	got, err := state.LoadJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobSucceeded, got.Status)
	require.NotNil(t, got.Report)
	assert.Len(t, got.Report.Windows, 2)
	assert.Equal(t, "job-1", got.Report.ID)
	require.Len(t, saved.reports, 1)

	n, err := testutil.GatherAndCount(reg, "stockpulse_optimize_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOptimizeJobFailuresAndRetries(t *testing.T) {
	ctx := context.Background()

	// too little history is the request's fault: recorded, not retried
	job, state, _ := newOptimizeJob(t, &memBarStore{events: dayBars(2, "A")}, prometheus.NewRegistry())
	require.NoError(t, job.Handle(ctx, payload(t, "short", optimizeRequest("2024-03-04", "2024-03-05"))))
	got, err := state.LoadJob(ctx, "short")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.NotEmpty(t, got.Error)

	// storage trouble goes back to the queue
	job, state, _ = newOptimizeJob(t, &memBarStore{recorder: recorder{err: errors.New("timeout")}}, prometheus.NewRegistry())
	assert.Error(t, job.Handle(ctx, payload(t, "flaky", optimizeRequest("2024-03-04", "2024-03-07"))))
	got, err = state.LoadJob(ctx, "flaky")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobRunning, got.Status)

	assert.Error(t, job.Handle(ctx, json.RawMessage(`{`)))
}

func TestBarsUseCase(t *testing.T) {
	store := &memBarStore{events: dayBars(1, "005930")}
	uc := NewBarsUseCase(store)
	from := time.Date(2024, 3, 4, 9, 0, 0, 0, kst)

	res, err := uc.GetBars(context.Background(), GetBarsParams{Instrument: "005930", From: from, To: from.Add(2 * time.Hour), Limit: 30})
	require.NoError(t, err)
	assert.Equal(t, 30, res.Count)
	assert.Equal(t, from, res.Bars[0].Timestamp)

	_, err = uc.GetBars(context.Background(), GetBarsParams{Instrument: "005930", From: from, To: from})
	assert.Error(t, err)
	_, err = uc.GetBars(context.Background(), GetBarsParams{From: from, To: from.Add(time.Hour)})
	assert.Error(t, err)

	store.err = errors.New("clickhouse down")
	_, err = uc.GetBars(context.Background(), GetBarsParams{Instrument: "005930", From: from, To: from.Add(time.Hour)})
	assert.ErrorIs(t, err, store.err)
}

package indicator

import (
	"fmt"
	"math"
	"time"

	"StockPulse/internal/domain/models"
	"StockPulse/pkg/util"
)

const (
	rsiPeriod = 14

	defaultVolumeWindow  = 15 * time.Minute
	defaultOpeningWindow = 15 * time.Minute
)

// Config fixes the window sizes an Engine computes with.
type Config struct {
	Calendar *util.Calendar
	// BreakoutLookback is N for the prior N-bar high.
	BreakoutLookback int
	VolumeWindow     time.Duration
	OpeningWindow    time.Duration
}

// ConfigFromParams derives the indicator windows from strategy params.
func ConfigFromParams(p models.StrategyParams, cal *util.Calendar) Config {
	return Config{
		Calendar:         cal,
		BreakoutLookback: p.Entry.Breakout.Lookback,
		VolumeWindow:     defaultVolumeWindow,
		OpeningWindow:    p.Entry.GradualRise.Window,
	}
}

// Engine keeps rolling per-instrument statistics. Every update is O(1)
// amortized. It reads no clock and is not safe for concurrent use; the
// scheduler is its only writer.
type Engine struct {
	cfg    Config
	states map[string]*state
	seeds  map[string]float64
}

func New(cfg Config) *Engine {
	if cfg.VolumeWindow <= 0 {
		cfg.VolumeWindow = defaultVolumeWindow
	}
	if cfg.OpeningWindow <= 0 {
		cfg.OpeningWindow = defaultOpeningWindow
	}
	if cfg.BreakoutLookback < 1 {
		cfg.BreakoutLookback = 1
	}
	return &Engine{
		cfg:    cfg,
		states: make(map[string]*state),
		seeds:  make(map[string]float64),
	}
}

type state struct {
	lastTS      time.Time
	sessionDate string

	sma5  *ring
	sma20 *ring

	prevClose   float64
	hasPrev     bool
	rsiSamples  int
	avgGain     float64
	avgLoss     float64
	gainSeedSum float64
	lossSeedSum float64

	cumPV  float64
	cumVol float64

	rollingVol    *timeWindowSum
	priorHigh     *maxDeque
	sessionVolume float64
	prevDayVolume float64
	sessionOpen   float64
	highOfSession float64
	barsInSession int

	entryMarked   bool
	lowSinceEntry float64

	opening openingWindow
}

type openingWindow struct {
	started   bool
	complete  bool
	firstOpen float64
	firstRet  float64
	lastClose float64
	runHigh   float64
	drawdown  float64
	volume    float64
}

// SeedPrevDayVolume sets the previous-session volume an instrument starts
// with. A session observed later replaces it.
func (e *Engine) SeedPrevDayVolume(instrumentID string, volume float64) {
	e.seeds[instrumentID] = volume
	if st, ok := e.states[instrumentID]; ok && st.prevDayVolume == 0 {
		st.prevDayVolume = volume
	}
}

// MarkEntry restarts low_since_entry tracking for an instrument at price.
func (e *Engine) MarkEntry(instrumentID string, price float64) {
	st := e.stateFor(instrumentID)
	st.entryMarked = true
	st.lowSinceEntry = price
}

// ClearEntry stops low_since_entry tracking once the position is gone.
func (e *Engine) ClearEntry(instrumentID string) {
	if st, ok := e.states[instrumentID]; ok {
		st.entryMarked = false
		st.lowSinceEntry = 0
	}
}

func (e *Engine) stateFor(id string) *state {
	st, ok := e.states[id]
	if !ok {
		st = &state{
			sma5:          newRing(5),
			sma20:         newRing(20),
			rollingVol:    newTimeWindowSum(e.cfg.VolumeWindow),
			priorHigh:     newMaxDeque(e.cfg.BreakoutLookback),
			prevDayVolume: e.seeds[id],
		}
		e.states[id] = st
	}
	return st
}

// Update applies ev and returns a copy of the instrument's indicators. An
// event at or before the last applied timestamp is rejected with
// ErrStaleEvent and leaves the state untouched.
func (e *Engine) Update(ev models.MarketEvent) (models.IndicatorSnapshot, error) {
	st := e.stateFor(ev.InstrumentID)
	if !st.lastTS.IsZero() && !ev.Timestamp.After(st.lastTS) {
		return models.IndicatorSnapshot{}, fmt.Errorf("%w: %s at %s, last %s",
			models.ErrStaleEvent, ev.InstrumentID,
			ev.Timestamp.Format(time.RFC3339), st.lastTS.Format(time.RFC3339))
	}
	st.lastTS = ev.Timestamp

	cal := e.cfg.Calendar
	day := cal.SessionDate(ev.Timestamp)
	if day != st.sessionDate {
		st.rollSession(day)
	}

	high, low := ev.Close, ev.Close
	if ev.HasRange() {
		high, low = ev.High, ev.Low
	}
	open := ev.Open
	if open <= 0 {
		open = ev.Close
	}

	priorHigh, priorReady := st.priorHigh.max()
	st.priorHigh.push(high)

	st.sma5.push(ev.Close)
	st.sma20.push(ev.Close)
	st.updateRSI(ev.Close)

	typical := (high + low + ev.Close) / 3
	st.cumPV += typical * ev.Volume
	st.cumVol += ev.Volume

	st.rollingVol.add(ev.Timestamp, ev.Volume)
	st.sessionVolume += ev.Volume
	if st.barsInSession == 0 {
		st.sessionOpen = open
		st.highOfSession = high
	}
	st.highOfSession = math.Max(st.highOfSession, high)
	st.barsInSession++

	if st.entryMarked {
		st.lowSinceEntry = math.Min(st.lowSinceEntry, low)
	}

	sinceOpen := cal.SinceOpen(ev.Timestamp)
	st.opening.observe(sinceOpen, e.cfg.OpeningWindow, open, high, low, ev.Close, ev.Volume)

	snap := models.IndicatorSnapshot{
		InstrumentID:  ev.InstrumentID,
		Timestamp:     ev.Timestamp,
		SessionDate:   day,
		SinceOpen:     sinceOpen,
		BarsInSession: st.barsInSession,

		Open:   open,
		High:   high,
		Low:    low,
		Close:  ev.Close,
		Volume: ev.Volume,

		SessionOpen:      st.sessionOpen,
		SMA5:             st.sma5.mean(),
		SMA20:            st.sma20.mean(),
		RSI14:            st.rsi(),
		VWAP:             ev.Close,
		RollingVolume15m: st.rollingVol.total(),
		SessionVolume:    st.sessionVolume,
		PrevDayVolume:    st.prevDayVolume,
		HighOfSession:    st.highOfSession,
		LowSinceEntry:    st.lowSinceEntry,
		PriorHigh:        priorHigh,

		FirstBarReturn:  st.opening.firstRet,
		OpeningVolume:   st.opening.volume,
		OpeningDrawdown: st.opening.drawdown,
		OpeningComplete: st.opening.complete,

		SMA5Ready:      st.sma5.full(),
		SMA20Ready:     st.sma20.full(),
		RSIReady:       st.rsiSamples >= rsiPeriod,
		PriorHighReady: priorReady,
	}
	if st.cumVol > 0 {
		snap.VWAP = st.cumPV / st.cumVol
	}
	if st.opening.firstOpen > 0 {
		snap.OpeningReturn = st.opening.lastClose/st.opening.firstOpen - 1
	}
	if s, ok := ev.Strength(); ok {
		snap.ExecutionStrength = s
		snap.HasStrength = true
	}
	return snap, nil
}

// rollSession starts a new trading day. Indicators that span days (SMA,
// RSI) are kept.
func (st *state) rollSession(day string) {
	if st.sessionDate != "" && st.sessionVolume > 0 {
		st.prevDayVolume = st.sessionVolume
	}
	st.sessionDate = day
	st.cumPV, st.cumVol = 0, 0
	st.rollingVol.reset()
	st.priorHigh.reset()
	st.sessionVolume = 0
	st.sessionOpen = 0
	st.highOfSession = 0
	st.barsInSession = 0
	st.opening = openingWindow{}
}

// updateRSI applies Wilder smoothing: a simple average over the first
// period changes, then avg = (avg*(n-1) + x) / n.
func (st *state) updateRSI(px float64) {
	if !st.hasPrev {
		st.prevClose = px
		st.hasPrev = true
		return
	}
	change := px - st.prevClose
	st.prevClose = px
	gain, loss := math.Max(change, 0), math.Max(-change, 0)

	st.rsiSamples++
	switch {
	case st.rsiSamples < rsiPeriod:
		st.gainSeedSum += gain
		st.lossSeedSum += loss
	case st.rsiSamples == rsiPeriod:
		st.avgGain = (st.gainSeedSum + gain) / rsiPeriod
		st.avgLoss = (st.lossSeedSum + loss) / rsiPeriod
	default:
		st.avgGain = (st.avgGain*(rsiPeriod-1) + gain) / rsiPeriod
		st.avgLoss = (st.avgLoss*(rsiPeriod-1) + loss) / rsiPeriod
	}
}

func (st *state) rsi() float64 {
	if st.rsiSamples < rsiPeriod {
		return 50
	}
	if st.avgLoss == 0 {
		if st.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := st.avgGain / st.avgLoss
	return 100 - 100/(1+rs)
}

// observe folds a bar into the opening window. The window closes on the first
// bar at or after open+window; that bar is not part of it.
func (w *openingWindow) observe(sinceOpen, window time.Duration, open, high, low, last, volume float64) {
	if w.complete || sinceOpen < 0 {
		return
	}
	if sinceOpen >= window {
		w.complete = w.started
		return
	}
	if !w.started {
		w.started = true
		w.firstOpen = open
		if open > 0 {
			w.firstRet = last/open - 1
		}
		w.runHigh = high
	}
	w.runHigh = math.Max(w.runHigh, high)
	if w.runHigh > 0 {
		w.drawdown = math.Min(w.drawdown, low/w.runHigh-1)
	}
	w.lastClose = last
	w.volume += volume
}

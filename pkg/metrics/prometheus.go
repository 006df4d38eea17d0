package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	events         *prometheus.CounterVec
	staleEvents    *prometheus.CounterVec
	signals        *prometheus.CounterVec
	riskRejections *prometheus.CounterVec
	orders         *prometheus.CounterVec
	trades         *prometheus.CounterVec
	realizedPnL    prometheus.Gauge
	openPositions  prometheus.Gauge
	committed      prometheus.Gauge
	feedConnected  prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New registers the trader's collectors on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg. Tests and backtests pass a fresh
// prometheus.NewRegistry() so repeated runs do not collide.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_events_total",
				Help: "Market events processed",
			},
			[]string{"instrument"},
		),
		staleEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_stale_events_total",
				Help: "Events dropped for arriving out of order",
			},
			[]string{"instrument"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_signals_total",
				Help: "Entry candidates emitted by rule",
			},
			[]string{"rule"},
		),
		riskRejections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_risk_rejections_total",
				Help: "Candidates refused by the risk gate",
			},
			[]string{"reason"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_orders_total",
				Help: "Orders by side and outcome",
			},
			[]string{"side", "result"},
		),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_trades_total",
				Help: "Closed trades by exit reason",
			},
			[]string{"reason"},
		),
		realizedPnL: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockpulse_realized_pnl",
				Help: "Net realized PnL since start",
			},
		),
		openPositions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockpulse_open_positions",
				Help: "Positions not in a terminal state",
			},
		),
		committed: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockpulse_committed_capital",
				Help: "Capital reserved by open and pending positions",
			},
		),
		feedConnected: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockpulse_feed_connected",
				Help: "1 while the market feed is delivering",
			},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordEvent(instrument string) {
	r.events.WithLabelValues(instrument).Inc()
}

func (r *Recorder) RecordStaleEvent(instrument string) {
	r.staleEvents.WithLabelValues(instrument).Inc()
}

func (r *Recorder) RecordSignal(rule string) {
	r.signals.WithLabelValues(rule).Inc()
}

func (r *Recorder) RecordRiskRejection(reason string) {
	r.riskRejections.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordOrder(side, result string) {
	r.orders.WithLabelValues(side, result).Inc()
}

func (r *Recorder) RecordTrade(reason string, pnl float64) {
	r.trades.WithLabelValues(reason).Inc()
	r.realizedPnL.Add(pnl)
}

func (r *Recorder) SetOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

func (r *Recorder) SetCommittedCapital(v float64) {
	r.committed.Set(v)
}

func (r *Recorder) SetFeedConnected(connected bool) {
	if connected {
		r.feedConnected.Set(1)
		return
	}
	r.feedConnected.Set(0)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEvent(string) {}
func (Nop) RecordStaleEvent(string) {}
func (Nop) RecordSignal(string) {}
func (Nop) RecordRiskRejection(string) {}
func (Nop) RecordOrder(string, string) {}
func (Nop) RecordTrade(string, float64) {}
func (Nop) SetOpenPositions(int) {}
func (Nop) SetCommittedCapital(float64) {}
func (Nop) SetFeedConnected(bool) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) RecordError(string) {}

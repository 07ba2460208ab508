// Package metrics exposes the cycle and trade counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"triarb/internal/model"
)

// Metrics holds the collectors. Register them on a dedicated registry so
// tests and multiple instances never collide on the default one.
type Metrics struct {
	Scans          prometheus.Counter
	ScanLatency    prometheus.Histogram
	Opportunities  prometheus.Counter
	Rejections     *prometheus.CounterVec
	Outcomes       *prometheus.CounterVec
	Profit         prometheus.Counter
	Fees           prometheus.Counter
	CycleErrors    prometheus.Counter
	Balance        prometheus.Gauge
	Drawdown       prometheus.Gauge
	DailyTrades    prometheus.Gauge
	EmergencyStop  prometheus.Gauge
	TradeDurations prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Scans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triarb_scans_total",
			Help: "Number of completed scan cycles",
		}),
		ScanLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triarb_scan_duration_seconds",
			Help:    "Time to fetch quotes and evaluate the triangle catalog",
			Buckets: prometheus.DefBuckets,
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triarb_opportunities_total",
			Help: "Candidates that passed the profit thresholds",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triarb_gate_rejections_total",
			Help: "Candidates rejected by the execution gate",
		}, []string{"reason"}),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triarb_trade_outcomes_total",
			Help: "Trade attempts by terminal state",
		}, []string{"status"}),
		Profit: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triarb_realized_profit_total",
			Help: "Realized gross profit of completed trades in the quote asset",
		}),
		Fees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triarb_fees_total",
			Help: "Commissions paid",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triarb_cycle_errors_total",
			Help: "Cycles that failed with a transport or timeout error",
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triarb_balance",
			Help: "Tracked quote asset balance",
		}),
		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triarb_drawdown_percent",
			Help: "Decline of the balance from the session baseline",
		}),
		DailyTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triarb_daily_trades",
			Help: "Trade attempts in the current daily window",
		}),
		EmergencyStop: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "triarb_emergency_stop",
			Help: "1 when the emergency stop is engaged",
		}),
		TradeDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triarb_trade_duration_seconds",
			Help:    "Wall time of a trade attempt",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
	reg.MustRegister(
		m.Scans, m.ScanLatency, m.Opportunities, m.Rejections, m.Outcomes,
		m.Profit, m.Fees, m.CycleErrors, m.Balance, m.Drawdown,
		m.DailyTrades, m.EmergencyStop, m.TradeDurations,
	)
	return m
}

// ObserveScan records one scan cycle.
func (m *Metrics) ObserveScan(d time.Duration, found int) {
	m.Scans.Inc()
	m.ScanLatency.Observe(d.Seconds())
	m.Opportunities.Add(float64(found))
}

// ObserveOutcome records a finished trade attempt.
func (m *Metrics) ObserveOutcome(o model.Outcome) {
	m.Outcomes.WithLabelValues(string(o.Status)).Inc()
	m.TradeDurations.Observe(o.Duration.Seconds())
	if o.Fees > 0 {
		m.Fees.Add(o.Fees)
	}
	if o.Success && o.Profit > 0 {
		m.Profit.Add(o.Profit)
	}
}

// SetStatus mirrors the session gauges.
func (m *Metrics) SetStatus(s model.Status) {
	m.Balance.Set(s.Balance)
	m.Drawdown.Set(s.Drawdown)
	m.DailyTrades.Set(float64(s.DailyTrades))
	if s.EmergencyStop {
		m.EmergencyStop.Set(1)
	} else {
		m.EmergencyStop.Set(0)
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"triarb/internal/model"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveScan(20*time.Millisecond, 3)
	m.ObserveScan(10*time.Millisecond, 0)
	m.Rejections.WithLabelValues("profit_threshold").Inc()
	m.ObserveOutcome(model.Outcome{Status: model.StateCompleted, Success: true, Profit: 1.5, Fees: 0.08, Duration: time.Second})
	m.ObserveOutcome(model.Outcome{Status: model.StatePartiallyFailed, Fees: 0.04})
	m.SetStatus(model.Status{Balance: 401.5, Drawdown: 2, DailyTrades: 2, EmergencyStop: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Scans))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Opportunities))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("partially_failed")))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.Profit))
	assert.InDelta(t, 0.12, testutil.ToFloat64(m.Fees), 1e-12)
	assert.Equal(t, 401.5, testutil.ToFloat64(m.Balance))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmergencyStop))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(mfs))
	for _, mf := range mfs {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "triarb_gate_rejections_total")
	assert.Contains(t, names, "triarb_trade_duration_seconds")
}

func TestNew_RegistersOncePerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}

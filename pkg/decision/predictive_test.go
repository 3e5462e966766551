package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// lateInHour is inside the predictive lead window before 13:00 UTC Monday.
var lateInHour = time.Date(2026, 8, 24, 12, 52, 0, 0, time.UTC)

// historicalFor builds daily rows at the given hour across the past weeks.
func historicalFor(hour int, day time.Weekday, cpu float64, weeks int) []types.HistoricalMetric {
	var rows []types.HistoricalMetric
	for w := 1; w <= weeks; w++ {
		rows = append(rows, types.HistoricalMetric{
			Timestamp: lateInHour.AddDate(0, 0, -7*w),
			ClusterID: "test",
			HourOfDay: hour,
			DayOfWeek: int(day),
			CPUPct:    cpu,
		})
	}
	return rows
}

// TestPredict tests the hour-of-day / day-of-week mean
func TestPredict(t *testing.T) {
	rows := append(
		historicalFor(13, time.Monday, 85, 3),
		historicalFor(14, time.Monday, 20, 3)...,
	)

	got, ok := Predict(rows, lateInHour)
	require.True(t, ok)
	assert.InDelta(t, 85, got, 0.001)

	_, ok = Predict(nil, lateInHour)
	assert.False(t, ok)
}

// TestPredictiveUpFires tests a pre-scale when history predicts load
func TestPredictiveUpFires(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePredictive = true
	e := newEngine(t, cfg)

	intent := e.Decide(Input{
		State:      &types.ClusterState{ClusterID: "test"},
		Count:      4,
		Sample:     sampleAt(lateInHour, 40, 50, 0),
		History:    []types.MetricSample{sampleAt(lateInHour.Add(-2*time.Minute), 42, 50, 0)},
		Historical: historicalFor(13, time.Monday, 85, 3),
		Now:        lateInHour,
	})

	assert.Equal(t, types.ActionUp, intent.Action)
	assert.Equal(t, types.UrgencyPredictive, intent.Urgency)
	assert.Equal(t, types.ReasonPredictedLoad, intent.Reason)
}

// TestPredictiveRequiresLeadWindow tests that predictions only apply near
// the end of the hour
func TestPredictiveRequiresLeadWindow(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePredictive = true
	e := newEngine(t, cfg)

	early := time.Date(2026, 8, 24, 12, 10, 0, 0, time.UTC)
	intent := e.Decide(Input{
		State:      &types.ClusterState{ClusterID: "test"},
		Count:      4,
		Sample:     sampleAt(early, 40, 50, 0),
		Historical: historicalFor(13, time.Monday, 85, 3),
		Now:        early,
	})

	assert.Equal(t, types.ActionNoop, intent.Action)
}

// TestPredictiveSkippedWhenAlreadyLoaded tests that a predictive launch is
// suppressed when current CPU is close to the threshold; the reactive rule
// owns that regime.
func TestPredictiveSkippedWhenAlreadyLoaded(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePredictive = true
	e := newEngine(t, cfg)

	intent := e.Decide(Input{
		State:      &types.ClusterState{ClusterID: "test"},
		Count:      4,
		Sample:     sampleAt(lateInHour, 65, 50, 0),
		Historical: historicalFor(13, time.Monday, 85, 3),
		Now:        lateInHour,
	})

	assert.Equal(t, types.ActionNoop, intent.Action)
}

// TestPredictiveDisabledByDefault tests the feature flag gate
func TestPredictiveDisabledByDefault(t *testing.T) {
	e := newEngine(t, testConfig())

	intent := e.Decide(Input{
		State:      &types.ClusterState{ClusterID: "test"},
		Count:      4,
		Sample:     sampleAt(lateInHour, 40, 50, 0),
		Historical: historicalFor(13, time.Monday, 85, 3),
		Now:        lateInHour,
	})

	assert.Equal(t, types.ActionNoop, intent.Action)
}

// TestCustomMetricUp tests the sustained latency trigger behind the flag
func TestCustomMetricUp(t *testing.T) {
	cfg := testConfig()
	cfg.EnableCustomMetrics = true
	e := newEngine(t, cfg)

	withLatency := func(at time.Time, latency float64) types.MetricSample {
		m := sampleAt(at, 50, 50, 0)
		m.APILatencyP95 = latency
		m.Known[types.QueryLatencyP95] = true
		return m
	}

	intent := e.Decide(Input{
		State:   &types.ClusterState{ClusterID: "test"},
		Count:   4,
		Sample:  withLatency(now, 2.4),
		History: []types.MetricSample{withLatency(now.Add(-2*time.Minute), 2.8)},
		Now:     now,
	})

	assert.Equal(t, types.ActionUp, intent.Action)
	assert.Equal(t, types.UrgencyCustom, intent.Urgency)
	assert.Equal(t, types.ReasonLatencyHigh, intent.Reason)

	// Single high reading is not sustained
	intent = e.Decide(Input{
		State:   &types.ClusterState{ClusterID: "test"},
		Count:   4,
		Sample:  withLatency(now, 2.4),
		History: []types.MetricSample{withLatency(now.Add(-2*time.Minute), 0.3)},
		Now:     now,
	})
	assert.Equal(t, types.ActionNoop, intent.Action)
}

// TestCustomMetricsVetoScaleDown tests that elevated custom signals block
// an otherwise quiet scale-down
func TestCustomMetricsVetoScaleDown(t *testing.T) {
	cfg := testConfig()
	cfg.EnableCustomMetrics = true
	e := newEngine(t, cfg)

	quiet := func(at time.Time, queue float64) types.MetricSample {
		m := sampleAt(at, 20, 35, 0)
		m.APILatencyP95 = 0.1
		m.ErrorRate = 0.001
		m.QueueDepth = queue
		m.Known[types.QueryLatencyP95] = true
		m.Known[types.QueryErrorRate] = true
		m.Known[types.QueryQueueDepth] = true
		return m
	}

	var history []types.MetricSample
	for i := cfg.HistorySize - 1; i >= 1; i-- {
		history = append(history, quiet(now.Add(-time.Duration(i)*2*time.Minute), 50))
	}

	// Queue depth above its low-water mark vetoes the removal
	intent := e.Decide(Input{
		State:   &types.ClusterState{ClusterID: "test"},
		Count:   4,
		Sample:  quiet(now, 500),
		History: history,
		Now:     now,
	})
	assert.Equal(t, types.ActionNoop, intent.Action)

	// Fully quiet signals allow it
	intent = e.Decide(Input{
		State:   &types.ClusterState{ClusterID: "test"},
		Count:   4,
		Sample:  quiet(now, 50),
		History: history,
		Now:     now,
	})
	assert.Equal(t, types.ActionDown, intent.Action)
}

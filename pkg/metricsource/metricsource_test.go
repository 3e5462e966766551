package metricsource

import (
	"context"
	"fmt"
	"testing"
	"time"

	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// fakeQuerier resolves query strings from a fixed table and counts calls.
type fakeQuerier struct {
	values map[string]float64
	fail   map[string]bool
	calls  map[string]int
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{
		values: make(map[string]float64),
		fail:   make(map[string]bool),
		calls:  make(map[string]int),
	}
}

func (f *fakeQuerier) Query(_ context.Context, query string, _ time.Time, _ ...v1.Option) (model.Value, v1.Warnings, error) {
	f.calls[query]++
	if f.fail[query] {
		return nil, nil, fmt.Errorf("connection refused")
	}
	v, ok := f.values[query]
	if !ok {
		return model.Vector{}, nil, nil
	}
	return model.Vector{&model.Sample{Value: model.SampleValue(v)}}, nil, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ClusterID = "test-cluster"
	cfg.MetricsURL = "http://prometheus:9090"
	return cfg
}

func seedCore(f *fakeQuerier, cpu, mem float64, pending int) {
	f.values[string(types.QueryCPU)] = cpu
	f.values[string(types.QueryMem)] = mem
	f.values[string(types.QueryPending)] = float64(pending)
}

// TestSampleFresh tests the happy path
func TestSampleFresh(t *testing.T) {
	q := newFakeQuerier()
	seedCore(q, 72.5, 60.0, 3)

	s := NewWithAPI(q, testConfig())
	now := time.Now()

	sample, err := s.Sample(context.Background(), now)
	require.NoError(t, err)

	assert.Equal(t, 72.5, sample.CPUPct)
	assert.Equal(t, 60.0, sample.MemPct)
	assert.Equal(t, 3, sample.PendingPods)
	assert.False(t, sample.Cached)
	assert.True(t, sample.Has(types.QueryCPU))
	assert.True(t, sample.Has(types.QueryMem))
	assert.True(t, sample.Has(types.QueryPending))
	assert.False(t, sample.Has(types.QueryLatencyP95))
}

// TestSampleConfiguredQueryStrings tests that operator overrides are used
func TestSampleConfiguredQueryStrings(t *testing.T) {
	q := newFakeQuerier()
	q.values[`100 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m])) * 100`] = 80
	q.values[string(types.QueryMem)] = 50
	q.values[string(types.QueryPending)] = 0

	cfg := testConfig()
	cfg.Queries = map[string]string{
		string(types.QueryCPU): `100 - avg(rate(node_cpu_seconds_total{mode="idle"}[5m])) * 100`,
	}

	s := NewWithAPI(q, cfg)
	sample, err := s.Sample(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 80.0, sample.CPUPct)
}

// TestSampleRetriesOnce tests the two-attempt bound per query
func TestSampleRetriesOnce(t *testing.T) {
	q := newFakeQuerier()
	seedCore(q, 50, 50, 0)
	q.fail[string(types.QueryCPU)] = true

	s := NewWithAPI(q, testConfig())
	_, err := s.Sample(context.Background(), time.Now())
	require.Error(t, err)

	assert.Equal(t, 2, q.calls[string(types.QueryCPU)])
	assert.Equal(t, 1, q.calls[string(types.QueryMem)])
}

// TestSampleCachedFallback tests serving the last good sample during an
// outage
func TestSampleCachedFallback(t *testing.T) {
	q := newFakeQuerier()
	seedCore(q, 45, 55, 1)

	s := NewWithAPI(q, testConfig())
	now := time.Now()

	fresh, err := s.Sample(context.Background(), now)
	require.NoError(t, err)
	require.False(t, fresh.Cached)

	q.fail[string(types.QueryCPU)] = true

	cached, err := s.Sample(context.Background(), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, 45.0, cached.CPUPct)
	assert.Equal(t, 1, cached.PendingPods)
	assert.Equal(t, now, cached.CapturedAt)
}

// TestSampleStaleCacheUnavailable tests that an old cache does not mask a
// long outage
func TestSampleStaleCacheUnavailable(t *testing.T) {
	q := newFakeQuerier()
	seedCore(q, 45, 55, 1)

	s := NewWithAPI(q, testConfig())
	now := time.Now()

	_, err := s.Sample(context.Background(), now)
	require.NoError(t, err)

	q.fail[string(types.QueryMem)] = true

	_, err = s.Sample(context.Background(), now.Add(6*time.Minute))
	require.Error(t, err)
	assert.True(t, errdefs.IsMetricsUnavailable(err))
}

// TestSampleNoCacheUnavailable tests a cold start with the source down
func TestSampleNoCacheUnavailable(t *testing.T) {
	q := newFakeQuerier()
	q.fail[string(types.QueryCPU)] = true

	s := NewWithAPI(q, testConfig())
	_, err := s.Sample(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errdefs.IsMetricsUnavailable(err))
}

// TestSampleCustomMetrics tests optional queries under the feature flag
func TestSampleCustomMetrics(t *testing.T) {
	q := newFakeQuerier()
	seedCore(q, 50, 50, 0)
	q.values[string(types.QueryLatencyP95)] = 0.8
	q.fail[string(types.QueryQueueDepth)] = true

	cfg := testConfig()
	cfg.EnableCustomMetrics = true

	s := NewWithAPI(q, cfg)
	sample, err := s.Sample(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0.8, sample.APILatencyP95)
	assert.True(t, sample.Has(types.QueryLatencyP95))

	// A failed optional query is unknown, not fatal.
	assert.False(t, sample.Has(types.QueryQueueDepth))
	assert.Zero(t, sample.QueueDepth)
}

// TestSampleEmptyVectorFails tests that an empty result is treated as a
// query failure
func TestSampleEmptyVectorFails(t *testing.T) {
	q := newFakeQuerier()
	q.values[string(types.QueryMem)] = 50
	q.values[string(types.QueryPending)] = 0
	// cpu query resolves to an empty vector

	s := NewWithAPI(q, testConfig())
	_, err := s.Sample(context.Background(), time.Now())
	require.Error(t, err)
	assert.True(t, errdefs.IsMetricsUnavailable(err))
}

package metricsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// staleness bounds how old a cached sample may be before the adapter
// reports MetricsUnavailable instead of serving it.
const staleness = 5 * time.Minute

const queryAttempts = 2

// Querier is the slice of the Prometheus HTTP v1 API the adapter uses.
type Querier interface {
	Query(ctx context.Context, query string, ts time.Time, opts ...v1.Option) (model.Value, v1.Warnings, error)
}

// Source translates named queries into MetricSamples. It keeps the last
// good sample per process so a brief metrics outage does not stall the
// control loop.
type Source struct {
	api      Querier
	cfg      config.Config
	deadline time.Duration

	mu     sync.Mutex
	cached *types.MetricSample

	logger zerolog.Logger
}

// New creates a source backed by the configured Prometheus endpoint.
func New(cfg config.Config) (*Source, error) {
	client, err := api.NewClient(api.Config{Address: cfg.MetricsURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}
	return NewWithAPI(v1.NewAPI(client), cfg), nil
}

// NewWithAPI creates a source over an existing query API. Tests use this
// to inject fakes.
func NewWithAPI(q Querier, cfg config.Config) *Source {
	return &Source{
		api:      q,
		cfg:      cfg,
		deadline: cfg.MetricsQueryDeadline,
		logger:   log.WithComponent("metricsource"),
	}
}

// Sample fetches the current cluster signals. The three core queries must
// all resolve; a failure falls back to the cached sample when it is fresh
// enough, and to MetricsUnavailable otherwise. Optional queries that fail
// are simply marked unknown.
func (s *Source) Sample(ctx context.Context, now time.Time) (types.MetricSample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	sample := types.MetricSample{
		CapturedAt: now,
		Known:      make(map[types.Query]bool),
	}

	coreOK := true
	for _, q := range types.CoreQueries() {
		value, err := s.query(ctx, q, now)
		if err != nil {
			s.logger.Warn().Err(err).Str("query", string(q)).Msg("Core query failed")
			coreOK = false
			continue
		}
		sample.Known[q] = true
		switch q {
		case types.QueryCPU:
			sample.CPUPct = value
		case types.QueryMem:
			sample.MemPct = value
		case types.QueryPending:
			sample.PendingPods = int(value)
		}
	}

	if !coreOK {
		return s.fallback(now)
	}

	if s.cfg.EnableCustomMetrics {
		s.sampleCustom(ctx, now, &sample)
	}

	s.mu.Lock()
	cp := sample
	s.cached = &cp
	s.mu.Unlock()
	return sample, nil
}

func (s *Source) sampleCustom(ctx context.Context, now time.Time, sample *types.MetricSample) {
	for q, assign := range map[types.Query]func(float64){
		types.QueryLatencyP95: func(v float64) { sample.APILatencyP95 = v },
		types.QueryErrorRate:  func(v float64) { sample.ErrorRate = v },
		types.QueryQueueDepth: func(v float64) { sample.QueueDepth = v },
	} {
		value, err := s.query(ctx, q, now)
		if err != nil {
			s.logger.Debug().Err(err).Str("query", string(q)).Msg("Optional query failed")
			continue
		}
		sample.Known[q] = true
		assign(value)
	}
}

// fallback serves the cached sample when it is within the staleness
// bound, marked so downstream consumers know it is not fresh.
func (s *Source) fallback(now time.Time) (types.MetricSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && now.Sub(s.cached.CapturedAt) <= staleness {
		s.logger.Warn().
			Time("captured_at", s.cached.CapturedAt).
			Msg("Metrics source down, serving cached sample")
		cp := *s.cached
		cp.Cached = true
		return cp, nil
	}
	return types.MetricSample{}, errdefs.New(errdefs.KindMetricsUnavailable, "metricsource.Sample")
}

// query resolves one named query to a scalar, with one bounded retry.
func (s *Source) query(ctx context.Context, name types.Query, now time.Time) (float64, error) {
	expr := s.cfg.QueryString(string(name))

	var lastErr error
	for attempt := 0; attempt < queryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		value, warnings, err := s.api.Query(ctx, expr, now)
		if err != nil {
			lastErr = err
			continue
		}
		if len(warnings) > 0 {
			s.logger.Debug().Strs("warnings", warnings).Str("query", string(name)).Msg("Query returned warnings")
		}
		return scalarFrom(value)
	}
	return 0, lastErr
}

// scalarFrom extracts a single numeric value from a query result.
func scalarFrom(value model.Value) (float64, error) {
	switch v := value.(type) {
	case model.Vector:
		if v.Len() == 0 {
			return 0, fmt.Errorf("empty instant vector")
		}
		return float64(v[0].Value), nil
	case *model.Scalar:
		return float64(v.Value), nil
	default:
		return 0, fmt.Errorf("unexpected result type %s", value.Type())
	}
}

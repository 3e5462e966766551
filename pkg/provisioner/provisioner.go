package provisioner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/provider"
	"github.com/BayajidAlam/node-fleet/pkg/registry"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

const launchRetries = 2

// FailedLaunch records one worker that did not make it into the cluster.
type FailedLaunch struct {
	InstanceID string
	Zone       string
	Market     types.Market
	Cause      errdefs.Kind
}

// AddResult is the outcome of one Add call. Launched instances that never
// joined are terminated and appear under Failed.
type AddResult struct {
	Launched []types.WorkerInstance
	Joined   []types.WorkerInstance
	Failed   []FailedLaunch
}

// Partial reports whether some, but not all, requested workers joined.
func (r AddResult) Partial() bool {
	return len(r.Joined) > 0 && len(r.Failed) > 0
}

// Provisioner turns a scale-up intent into instances joining the cluster.
type Provisioner struct {
	compute  provider.Compute
	registry registry.Registry

	clusterID    string
	templateID   string
	zones        []string
	spotPct      int
	joinDeadline time.Duration

	// pollInterval is how often join-wait polls the registry; tests
	// shorten it.
	pollInterval time.Duration

	logger zerolog.Logger
}

// New creates a provisioner from the cluster configuration.
func New(compute provider.Compute, reg registry.Registry, cfg config.Config) *Provisioner {
	return &Provisioner{
		compute:      compute,
		registry:     reg,
		clusterID:    cfg.ClusterID,
		templateID:   cfg.LaunchTemplate,
		zones:        cfg.Zones,
		spotPct:      cfg.SpotPercentage,
		joinDeadline: cfg.JoinDeadline,
		pollInterval: 10 * time.Second,
		logger:       log.WithComponent("provisioner"),
	}
}

// Inventory lists the cluster's tagged instances, enriched with join state
// from the node registry. This is the ground truth the reconciler heals
// stored state against.
func (p *Provisioner) Inventory(ctx context.Context) ([]types.WorkerInstance, error) {
	instances, err := p.compute.ListInstances(ctx, p.clusterID)
	if err != nil {
		return nil, err
	}
	nodes, err := p.registry.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	byInstance := make(map[string]registry.Node, len(nodes))
	for _, n := range nodes {
		byInstance[n.InstanceID] = n
	}
	for i := range instances {
		if node, ok := byInstance[instances[i].InstanceID]; ok && node.Ready {
			instances[i].NodeName = node.Name
			instances[i].JoinTime = node.CreatedAt
		}
	}
	return instances, nil
}

// Add launches n workers honouring the spot/on-demand mix and zone
// balance, then waits for them to join. Quota refusals abort the rest of
// the plan; spot shortfalls fall back to on-demand in the same zone.
func (p *Provisioner) Add(ctx context.Context, n int, urgency types.Urgency) (AddResult, error) {
	var result AddResult

	inventory, err := p.Inventory(ctx)
	if err != nil {
		return result, err
	}
	placements := planPlacements(inventory, p.zones, n, p.spotPct)

	p.logger.Info().
		Int("requested", n).
		Str("urgency", string(urgency)).
		Int("existing", len(inventory)).
		Msg("Launching workers")

	for i, pl := range placements {
		inst, err := p.launchWithFallback(ctx, pl)
		if err != nil {
			if errdefs.IsQuotaExceeded(err) {
				// The account refused the launch; the rest of the plan
				// cannot succeed this tick.
				result.Failed = append(result.Failed, failuresFor(placements[i:])...)
				p.logger.Warn().Err(err).Msg("Quota exceeded, aborting remaining launches")
				break
			}
			result.Failed = append(result.Failed, FailedLaunch{
				Zone:   pl.Zone,
				Market: pl.Market,
				Cause:  errdefs.KindOf(err),
			})
			continue
		}
		result.Launched = append(result.Launched, inst)
	}

	joined, failed := p.waitForJoin(ctx, result.Launched)
	result.Joined = joined
	result.Failed = append(result.Failed, failed...)
	return result, nil
}

// launchWithFallback launches one placement, retrying transient faults and
// falling back from spot to on-demand when the zone has no spot capacity.
func (p *Provisioner) launchWithFallback(ctx context.Context, pl placement) (types.WorkerInstance, error) {
	spec := provider.LaunchSpec{
		TemplateID: p.templateID,
		Zone:       pl.Zone,
		Market:     pl.Market,
		Tags:       types.WorkerTags(p.clusterID, pl.Market),
	}

	var lastErr error
	for attempt := 0; attempt <= launchRetries; attempt++ {
		inst, err := p.compute.Launch(ctx, spec)
		if err == nil {
			return inst, nil
		}
		lastErr = err

		switch {
		case errdefs.IsSpotUnavailable(err) && spec.Market == types.MarketSpot:
			p.logger.Warn().
				Str("zone", spec.Zone).
				Msg("No spot capacity, falling back to on-demand")
			spec.Market = types.MarketOnDemand
			spec.Tags = types.WorkerTags(p.clusterID, types.MarketOnDemand)
		case errdefs.IsTransport(err):
			// bounded retry, same spec
		default:
			return types.WorkerInstance{}, err
		}
	}
	return types.WorkerInstance{}, lastErr
}

// waitForJoin polls the node registry until each launched instance reports
// ready or the join deadline passes. Instances that miss the deadline are
// terminated so they do not linger as orphaned cost.
func (p *Provisioner) waitForJoin(ctx context.Context, launched []types.WorkerInstance) ([]types.WorkerInstance, []FailedLaunch) {
	if len(launched) == 0 {
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.joinDeadline)
	defer cancel()

	var mu sync.Mutex
	var joined []types.WorkerInstance
	var failed []FailedLaunch

	g, waitCtx := errgroup.WithContext(waitCtx)
	for _, inst := range launched {
		g.Go(func() error {
			node, err := p.pollUntilReady(waitCtx, inst.InstanceID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || node == nil {
				p.terminateOrphan(ctx, inst)
				failed = append(failed, FailedLaunch{
					InstanceID: inst.InstanceID,
					Zone:       inst.Zone,
					Market:     inst.Market,
					Cause:      errdefs.KindJoinTimeout,
				})
				return nil
			}
			inst.NodeName = node.Name
			inst.JoinTime = node.CreatedAt
			joined = append(joined, inst)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // goroutines report through joined/failed

	return joined, failed
}

func (p *Provisioner) pollUntilReady(ctx context.Context, instanceID string) (*registry.Node, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		node, err := p.registry.NodeByInstanceID(ctx, instanceID)
		if err == nil && node != nil && node.Ready {
			return node, nil
		}
		select {
		case <-ctx.Done():
			return nil, errdefs.Wrap(errdefs.KindJoinTimeout, "provisioner.waitForJoin", ctx.Err())
		case <-ticker.C:
		}
	}
}

// terminateOrphan uses the parent context: the join deadline may already
// have expired, but the orphan still has to go.
func (p *Provisioner) terminateOrphan(ctx context.Context, inst types.WorkerInstance) {
	p.logger.Warn().
		Str("instance_id", inst.InstanceID).
		Str("zone", inst.Zone).
		Msg("Instance missed join deadline, terminating")
	if err := p.compute.Terminate(ctx, []string{inst.InstanceID}); err != nil {
		p.logger.Error().Err(err).Str("instance_id", inst.InstanceID).Msg("Failed to terminate orphan")
	}
}

func failuresFor(placements []placement) []FailedLaunch {
	out := make([]FailedLaunch, 0, len(placements))
	for _, pl := range placements {
		out = append(out, FailedLaunch{
			Zone:   pl.Zone,
			Market: pl.Market,
			Cause:  errdefs.KindQuotaExceeded,
		})
	}
	return out
}

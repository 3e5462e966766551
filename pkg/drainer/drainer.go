package drainer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/provider"
	"github.com/BayajidAlam/node-fleet/pkg/registry"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// FailedDrain records one victim that could not be removed this tick.
type FailedDrain struct {
	InstanceID string
	NodeName   string
	Cause      errdefs.Kind
}

// RemoveResult is the outcome of one Remove call.
type RemoveResult struct {
	Removed []Victim
	Failed  []FailedDrain
}

// Drainer gracefully removes workers: cordon, evict, verify, terminate.
type Drainer struct {
	compute  provider.Compute
	registry registry.Registry

	drainTimeout time.Duration

	// pollInterval is how often eviction progress is checked; tests
	// shorten it.
	pollInterval time.Duration

	logger zerolog.Logger
}

// New creates a drainer from the cluster configuration.
func New(compute provider.Compute, reg registry.Registry, cfg config.Config) *Drainer {
	return &Drainer{
		compute:      compute,
		registry:     reg,
		drainTimeout: cfg.DrainTimeout,
		pollInterval: 5 * time.Second,
		logger:       log.WithComponent("drainer"),
	}
}

// Remove drains and terminates the given victims, one at a time. A drain
// that misses the timeout is aborted: the node is uncordoned, left in the
// cluster, and reported under Failed. Failed drains are not retried.
func (d *Drainer) Remove(ctx context.Context, victims []Victim) (RemoveResult, error) {
	var result RemoveResult
	for _, v := range victims {
		if err := ctx.Err(); err != nil {
			result.Failed = append(result.Failed, FailedDrain{
				InstanceID: v.Instance.InstanceID,
				NodeName:   v.Node.Name,
				Cause:      errdefs.KindDrainTimeout,
			})
			continue
		}
		if err := d.removeOne(ctx, v); err != nil {
			result.Failed = append(result.Failed, FailedDrain{
				InstanceID: v.Instance.InstanceID,
				NodeName:   v.Node.Name,
				Cause:      errdefs.KindOf(err),
			})
			continue
		}
		result.Removed = append(result.Removed, v)
	}
	return result, nil
}

// Repair clears cordons left behind by an aborted drain whose uncordon
// failed. Ticks are serialized by the cluster lock and drains run inside a
// tick, so any cordoned worker seen here is stale, not in flight.
func (d *Drainer) Repair(ctx context.Context, inventory []types.WorkerInstance) error {
	var errs error
	for _, w := range inventory {
		if !w.Joined() {
			continue
		}
		node, err := d.registry.NodeByInstanceID(ctx, w.InstanceID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if node == nil || !node.Unschedulable {
			continue
		}
		d.logger.Warn().
			Str("node", node.Name).
			Str("instance_id", w.InstanceID).
			Msg("Uncordoning node left cordoned by an aborted drain")
		if err := d.registry.Uncordon(ctx, node.Name); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (d *Drainer) removeOne(ctx context.Context, v Victim) error {
	logger := d.logger.With().
		Str("node", v.Node.Name).
		Str("instance_id", v.Instance.InstanceID).
		Logger()
	logger.Info().Str("zone", v.Instance.Zone).Msg("Draining worker")

	if err := d.registry.Cordon(ctx, v.Node.Name); err != nil {
		return errdefs.Wrap(errdefs.KindTransport, "drainer.Cordon", err)
	}

	if err := d.drain(ctx, v.Node.Name); err != nil {
		// The node stays in the cluster; put it back into rotation.
		if uncordonErr := d.registry.Uncordon(ctx, v.Node.Name); uncordonErr != nil {
			logger.Error().Err(uncordonErr).Msg("Failed to uncordon after aborted drain")
		}
		logger.Warn().Err(err).Msg("Drain aborted")
		return err
	}

	if err := d.compute.Terminate(ctx, []string{v.Instance.InstanceID}); err != nil {
		return err
	}
	if err := d.registry.DeleteNode(ctx, v.Node.Name); err != nil {
		logger.Error().Err(err).Msg("Instance terminated but node object removal failed")
	}

	logger.Info().Msg("Worker removed")
	return nil
}

// drain evicts every workload pod from the node and waits for them to
// leave. Daemon and mirror pods stay; they die with the instance.
func (d *Drainer) drain(ctx context.Context, nodeName string) error {
	drainCtx, cancel := context.WithTimeout(ctx, d.drainTimeout)
	defer cancel()

	pods, err := d.registry.Pods(drainCtx, nodeName)
	if err != nil {
		return errdefs.Wrap(errdefs.KindTransport, "drainer.drain", err)
	}
	// Request every eviction before giving up on any of them.
	var evictErrs error
	for _, pod := range pods {
		if pod.System() {
			continue
		}
		if err := d.registry.EvictPod(drainCtx, pod.Namespace, pod.Name); err != nil {
			evictErrs = multierr.Append(evictErrs, err)
		}
	}
	if evictErrs != nil {
		return errdefs.Wrap(errdefs.KindDrainTimeout, "drainer.drain", evictErrs)
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		remaining, err := d.workloadPods(drainCtx, nodeName)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			return errdefs.Wrap(errdefs.KindDrainTimeout, "drainer.drain", drainCtx.Err())
		case <-ticker.C:
		}
	}
}

func (d *Drainer) workloadPods(ctx context.Context, nodeName string) (int, error) {
	pods, err := d.registry.Pods(ctx, nodeName)
	if err != nil {
		return 0, errdefs.Wrap(errdefs.KindTransport, "drainer.drain", err)
	}
	n := 0
	for _, pod := range pods {
		if !pod.System() {
			n++
		}
	}
	return n, nil
}

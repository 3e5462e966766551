package reconciler

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/decision"
	"github.com/BayajidAlam/node-fleet/pkg/drainer"
	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/log"
	"github.com/BayajidAlam/node-fleet/pkg/metrics"
	"github.com/BayajidAlam/node-fleet/pkg/notify"
	"github.com/BayajidAlam/node-fleet/pkg/provisioner"
	"github.com/BayajidAlam/node-fleet/pkg/statestore"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// MetricsSource resolves the current cluster signals.
type MetricsSource interface {
	Sample(ctx context.Context, now time.Time) (types.MetricSample, error)
}

// WorkerProvisioner grows the fleet and reports ground-truth inventory.
type WorkerProvisioner interface {
	Inventory(ctx context.Context) ([]types.WorkerInstance, error)
	Add(ctx context.Context, n int, urgency types.Urgency) (provisioner.AddResult, error)
}

// WorkerDrainer shrinks the fleet and repairs leftover drain state.
type WorkerDrainer interface {
	SelectVictims(ctx context.Context, inventory []types.WorkerInstance, k int) ([]drainer.Victim, error)
	Remove(ctx context.Context, victims []drainer.Victim) (drainer.RemoveResult, error)
	Repair(ctx context.Context, inventory []types.WorkerInstance) error
}

// Reconciler drives the control loop: one tick acquires the lock, samples
// metrics, decides, dispatches, records, releases.
type Reconciler struct {
	cfg      config.Config
	store    statestore.Store
	source   MetricsSource
	engine   *decision.Engine
	prov     WorkerProvisioner
	drainer  WorkerDrainer
	notifier notify.Notifier

	// now is swappable for tests.
	now func() time.Time

	stopCh chan struct{}
	doneCh chan struct{}

	logger zerolog.Logger
}

// New wires a reconciler from its collaborators.
func New(cfg config.Config, store statestore.Store, source MetricsSource, engine *decision.Engine,
	prov WorkerProvisioner, dr WorkerDrainer, notifier notify.Notifier) *Reconciler {
	return &Reconciler{
		cfg:      cfg,
		store:    store,
		source:   source,
		engine:   engine,
		prov:     prov,
		drainer:  dr,
		notifier: notifier,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   log.WithComponent("reconciler").With().Str("cluster_id", cfg.ClusterID).Logger(),
	}
}

// Start runs the tick loop until Stop. The first tick fires immediately.
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		defer close(r.doneCh)

		r.tick(ctx)

		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.tick(ctx)
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) tick(ctx context.Context) {
	// The lock TTL bounds the worst-case tick, so it is also the tick
	// deadline.
	tickCtx, cancel := context.WithTimeout(ctx, r.cfg.LockTTL)
	defer cancel()

	if err := r.RunOnce(tickCtx); err != nil {
		r.logger.Error().Err(err).Msg("Reconciliation failed")
	}
}

// RunOnce performs a single reconciliation. Contention for the lock is a
// clean no-op, not an error.
func (r *Reconciler) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	holder := uuid.NewString()
	now := r.now()

	acq, err := r.store.AcquireLock(ctx, r.cfg.ClusterID, holder, r.cfg.LockTTL, now)
	if err != nil {
		if errdefs.IsLockContended(err) {
			metrics.LockContention.Inc()
			metrics.TicksTotal.WithLabelValues("lock_contended").Inc()
			r.logger.Debug().Msg("Lock held elsewhere, skipping tick")
			return nil
		}
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return err
	}
	state := acq.State
	if acq.TakenFromExpired {
		r.logger.Warn().Msg("Took over an expired lock, predecessor may have died mid-tick")
	}

	outcome, err := r.reconcile(ctx, state, acq, holder, now, timer)
	metrics.TicksTotal.WithLabelValues(outcome).Inc()
	timer.ObserveDuration(metrics.TickDuration)
	return err
}

// reconcile is the body of a tick, running with the lock held. Error
// paths that return without releasing the lock are deliberate: state of
// unknown consistency is safer behind a lock that expires than one that
// frees immediately.
func (r *Reconciler) reconcile(ctx context.Context, state *types.ClusterState, acq *statestore.Acquisition, holder string, now time.Time, timer *metrics.Timer) (string, error) {
	inventory, err := r.prov.Inventory(ctx)
	if err != nil {
		r.release(ctx, holder)
		return "error", err
	}
	observed := len(inventory)

	corrected := false
	if state.DesiredWorkerCount != observed {
		r.logger.Warn().
			Int("desired", state.DesiredWorkerCount).
			Int("observed", observed).
			Str("reason", string(types.ReasonStateCorrect)).
			Msg("Stored count disagrees with inventory, trusting inventory")
		state.DesiredWorkerCount = observed
		corrected = true
	}

	// A worker can be left cordoned when a drain abort dies before its
	// uncordon lands; put such nodes back into rotation.
	if err := r.drainer.Repair(ctx, inventory); err != nil {
		r.logger.Warn().Err(err).Msg("Cordon repair incomplete")
	}

	sample, err := r.source.Sample(ctx, now)
	if err != nil {
		r.alert(state, types.ReasonSteady, observed, "metrics_unavailable")
		r.release(ctx, holder)
		return "metrics_unavailable", err
	}
	if sample.Cached {
		metrics.MetricsFallbacksTotal.Inc()
	}

	var historical []types.HistoricalMetric
	if r.cfg.EnablePredictive {
		historical, err = r.store.HistoricalWindow(ctx, r.cfg.ClusterID, now.Add(-types.HistoricalTTL))
		if err != nil {
			r.logger.Warn().Err(err).Msg("Historical window unavailable, predictive rule skipped this tick")
		}
	}

	intent := r.engine.Decide(decision.Input{
		State:      state,
		Count:      observed,
		Sample:     sample,
		History:    state.MetricHistory,
		Historical: historical,
		InProgress: r.inProgress(acq, inventory, now),
		Now:        now,
	})
	r.logger.Info().
		Str("action", string(intent.Action)).
		Int("magnitude", intent.Magnitude).
		Str("reason", string(intent.Reason)).
		Int("count", observed).
		Msg("Decision")

	event, err := r.dispatch(ctx, state, intent, inventory, now)
	if err != nil {
		// Partially applied work: leave the lock to expire so the next
		// holder knows to re-read inventory instead of trusting intent.
		return "error", err
	}

	// Cached samples re-serve an instant already in the history; appending
	// them would duplicate capture times.
	if !sample.Cached {
		state.AppendSample(sample, r.cfg.HistorySize)
	}

	if err := r.store.Update(ctx, state, holder); err != nil {
		if errdefs.IsStateConflict(err) {
			r.logger.Warn().Msg("Lock lost before record, aborting tick")
			return "state_conflict", err
		}
		return "error", err
	}

	if !sample.Cached {
		if err := r.store.AppendHistorical(ctx, types.NewHistoricalMetric(r.cfg.ClusterID, sample)); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to append historical metric")
		}
	}

	r.release(ctx, holder)

	if corrected {
		if event.Detail == nil {
			event.Detail = make(map[string]string)
		}
		event.Detail["state_corrected"] = "true"
	}
	event.DurationMS = timer.Duration().Milliseconds()
	r.notifier.Notify(event)

	metrics.DesiredWorkers.Set(float64(state.DesiredWorkerCount))
	return "ok", nil
}

// dispatch executes the intent and mutates state to match the outcome.
// The returned event describes what actually happened, which may be less
// than what the intent asked for.
func (r *Reconciler) dispatch(ctx context.Context, state *types.ClusterState, intent types.ScalingIntent, inventory []types.WorkerInstance, now time.Time) (notify.Event, error) {
	before := len(inventory)

	switch intent.Action {
	case types.ActionUp:
		return r.scaleUp(ctx, state, intent, inventory, now)

	case types.ActionDown:
		return r.scaleDown(ctx, state, intent, inventory, now)

	default:
		if intent.Reason == types.ReasonAtCapacity {
			r.alert(state, intent.Reason, before, "capacity_ceiling")
		}
		return r.event(types.ActionNoop, 0, intent.Reason, before, before, inventory), nil
	}
}

func (r *Reconciler) scaleUp(ctx context.Context, state *types.ClusterState, intent types.ScalingIntent, inventory []types.WorkerInstance, now time.Time) (notify.Event, error) {
	before := len(inventory)

	res, err := r.prov.Add(ctx, intent.Magnitude, intent.Urgency)
	if err != nil {
		return notify.Event{}, err
	}
	for _, f := range res.Failed {
		metrics.LaunchFailuresTotal.WithLabelValues(string(f.Cause)).Inc()
	}

	after := before + len(res.Joined)
	fleet := append(append([]types.WorkerInstance(nil), inventory...), res.Joined...)

	if len(res.Joined) == 0 {
		// Nothing materialized; the action did not occur and cooldowns
		// stay as they were.
		reason := intent.Reason
		if len(res.Failed) > 0 {
			reason = failureReason(res.Failed[0].Cause)
		}
		metrics.ScaleActionsTotal.WithLabelValues("up", "failed").Inc()
		state.LastAction = types.Action{Kind: types.ActionNoop, At: now, Reason: reason}
		r.alert(state, reason, before, "scale_up_failed")
		return r.event(types.ActionNoop, 0, reason, before, after, fleet), nil
	}

	result := "ok"
	if res.Partial() {
		result = "partial"
	}
	metrics.ScaleActionsTotal.WithLabelValues("up", result).Inc()

	state.DesiredWorkerCount = after
	state.LastAction = types.Action{Kind: types.ActionUp, At: now, Reason: intent.Reason}
	state.CooldownUpUntil = now.Add(r.cfg.CooldownUp)
	return r.event(types.ActionUp, len(res.Joined), intent.Reason, before, after, fleet), nil
}

func (r *Reconciler) scaleDown(ctx context.Context, state *types.ClusterState, intent types.ScalingIntent, inventory []types.WorkerInstance, now time.Time) (notify.Event, error) {
	before := len(inventory)

	victims, err := r.drainer.SelectVictims(ctx, inventory, intent.Magnitude)
	if err != nil {
		return notify.Event{}, err
	}
	if len(victims) == 0 {
		r.logger.Info().Msg("No safe drain victims this tick")
		state.LastAction = types.Action{Kind: types.ActionNoop, At: now, Reason: intent.Reason}
		return r.event(types.ActionNoop, 0, intent.Reason, before, before, inventory), nil
	}

	res, err := r.drainer.Remove(ctx, victims)
	if err != nil {
		return notify.Event{}, err
	}
	for _, f := range res.Failed {
		metrics.DrainFailuresTotal.WithLabelValues(string(f.Cause)).Inc()
	}

	removed := make(map[string]bool, len(res.Removed))
	for _, v := range res.Removed {
		removed[v.Instance.InstanceID] = true
	}
	var fleet []types.WorkerInstance
	for _, w := range inventory {
		if !removed[w.InstanceID] {
			fleet = append(fleet, w)
		}
	}
	after := len(fleet)

	if len(res.Removed) == 0 {
		// The drain aborted; the workers stay and the down-cooldown is
		// untouched because no action occurred.
		metrics.ScaleActionsTotal.WithLabelValues("down", "failed").Inc()
		state.LastAction = types.Action{Kind: types.ActionNoop, At: now, Reason: types.ReasonDrainTimeout}
		r.alert(state, types.ReasonDrainTimeout, before, "drain_timeout")
		return r.event(types.ActionNoop, 0, types.ReasonDrainTimeout, before, after, fleet), nil
	}

	result := "ok"
	if len(res.Failed) > 0 {
		result = "partial"
	}
	metrics.ScaleActionsTotal.WithLabelValues("down", result).Inc()

	state.DesiredWorkerCount = after
	state.LastAction = types.Action{Kind: types.ActionDown, At: now, Reason: intent.Reason}
	state.CooldownDownUntil = now.Add(r.cfg.CooldownDown)
	return r.event(types.ActionDown, len(res.Removed), intent.Reason, before, after, fleet), nil
}

// inProgress reports whether a predecessor's scale-up may still be
// settling: the lock was taken from an expired holder and some instance
// is still inside its join window.
func (r *Reconciler) inProgress(acq *statestore.Acquisition, inventory []types.WorkerInstance, now time.Time) bool {
	if !acq.TakenFromExpired {
		return false
	}
	for _, w := range inventory {
		if !w.Joined() && now.Sub(w.LaunchTime) < r.cfg.JoinDeadline {
			return true
		}
	}
	return false
}

func (r *Reconciler) event(kind types.ActionKind, magnitude int, reason types.Reason, before, after int, fleet []types.WorkerInstance) notify.Event {
	zones, markets := notify.Breakdowns(fleet)

	metrics.WorkersTotal.Reset()
	for _, w := range fleet {
		metrics.WorkersTotal.WithLabelValues(w.Zone, string(w.Market)).Inc()
	}

	return notify.Event{
		ClusterID:       r.cfg.ClusterID,
		Kind:            kind,
		Magnitude:       magnitude,
		Reason:          reason,
		BeforeCount:     before,
		AfterCount:      after,
		ZoneBreakdown:   zones,
		MarketBreakdown: markets,
	}
}

// alert emits an out-of-band notification for conditions an operator
// should see even when no scaling happened.
func (r *Reconciler) alert(state *types.ClusterState, reason types.Reason, count int, kind string) {
	r.notifier.Notify(notify.Event{
		ClusterID:   r.cfg.ClusterID,
		Kind:        types.ActionNoop,
		Reason:      reason,
		BeforeCount: count,
		AfterCount:  count,
		Detail: map[string]string{
			"alert":   kind,
			"desired": strconv.Itoa(state.DesiredWorkerCount),
		},
	})
}

func (r *Reconciler) release(ctx context.Context, holder string) {
	if err := r.store.ReleaseLock(ctx, r.cfg.ClusterID, holder); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to release lock")
	}
}

func failureReason(kind errdefs.Kind) types.Reason {
	switch kind {
	case errdefs.KindQuotaExceeded:
		return types.ReasonQuotaExceeded
	case errdefs.KindJoinTimeout:
		return types.ReasonJoinTimeout
	default:
		return types.ReasonSteady
	}
}

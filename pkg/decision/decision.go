package decision

import (
	"fmt"
	"time"

	"github.com/BayajidAlam/node-fleet/pkg/config"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// Engine computes scaling intents. It is pure: Decide performs no I/O,
// reads no clock, and depends only on its inputs and the validated config
// captured at construction.
type Engine struct {
	cfg config.Config
}

// New creates an engine over a validated config. Configuration validation
// errors are the only errors the engine can ever produce.
func New(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decision config: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Input is everything one decision needs. History holds the samples that
// preceded Sample, oldest first; Sample is the current tick's reading and
// is not yet part of History. Count is the observed worker count from the
// provider inventory, which outranks the stored desired count.
type Input struct {
	State      *types.ClusterState
	Count      int
	Sample     types.MetricSample
	History    []types.MetricSample
	Historical []types.HistoricalMetric
	InProgress bool
	Now        time.Time
}

// window returns the last k distinct samples including the current one, or
// nil if fewer than k exist. A cached fallback re-serves the newest history
// entry; counting the same observation twice would fake a sustained signal.
func (in Input) window(k int) []types.MetricSample {
	all := append([]types.MetricSample(nil), in.History...)
	if n := len(all); n == 0 || !all[n-1].CapturedAt.Equal(in.Sample.CapturedAt) {
		all = append(all, in.Sample)
	}
	if len(all) < k {
		return nil
	}
	return all[len(all)-k:]
}

// known reports whether a sample carries a usable value for q. Samples
// rehydrated from the state store have no Known map; anything persisted was
// resolved when captured.
func known(m types.MetricSample, q types.Query) bool {
	return m.Known == nil || m.Known[q]
}

// Decide evaluates the rule chain in its fixed order: in-progress guard,
// critical up, reactive up, custom up, predictive up, reactive down. The
// hard cap and floor convert out-of-bounds intents to noops and clamp
// magnitudes so the bounds invariant holds at every settled state.
func (e *Engine) Decide(in Input) types.ScalingIntent {
	if in.InProgress {
		return types.Noop(types.ReasonStabilizing)
	}

	if intent, ok := e.criticalUp(in); ok {
		return e.capUp(in, intent)
	}

	upCooldownActive := in.Now.Before(in.State.CooldownUpUntil)
	blockedByCooldown := false

	if intent, ok := e.reactiveUp(in); ok {
		if upCooldownActive {
			blockedByCooldown = true
		} else {
			return e.capUp(in, intent)
		}
	}
	if e.cfg.EnableCustomMetrics {
		if intent, ok := e.customUp(in); ok {
			if upCooldownActive {
				blockedByCooldown = true
			} else {
				return e.capUp(in, intent)
			}
		}
	}
	if e.cfg.EnablePredictive {
		if intent, ok := e.predictiveUp(in); ok {
			if upCooldownActive {
				blockedByCooldown = true
			} else {
				return e.capUp(in, intent)
			}
		}
	}

	if in.Now.Before(in.State.CooldownDownUntil) {
		if _, reason, ok := e.reactiveDown(in); ok && reason == types.ReasonLowUtilization {
			return types.Noop(types.ReasonCooldownActive)
		}
	} else if intent, reason, ok := e.reactiveDown(in); ok {
		if reason == types.ReasonLowUtilization {
			return e.capDown(in, intent)
		}
		return types.Noop(reason)
	}

	if blockedByCooldown {
		return types.Noop(types.ReasonCooldownActive)
	}
	return types.Noop(types.ReasonSteady)
}

// criticalUp fires on severe pressure and ignores the up-cooldown: pending
// pods piling up or CPU near saturation cost more than an extra launch.
func (e *Engine) criticalUp(in Input) (types.ScalingIntent, bool) {
	m := in.Sample
	if known(m, types.QueryPending) && m.PendingPods > e.cfg.UrgencyPendingPods {
		return types.ScalingIntent{
			Action:    types.ActionUp,
			Magnitude: 2,
			Urgency:   types.UrgencyCritical,
			Reason:    types.ReasonCritPending,
		}, true
	}
	if known(m, types.QueryCPU) && m.CPUPct > e.cfg.UrgencyCPUPct {
		return types.ScalingIntent{
			Action:    types.ActionUp,
			Magnitude: 2,
			Urgency:   types.UrgencyCritical,
			Reason:    types.ReasonCritCPU,
		}, true
	}
	return types.ScalingIntent{}, false
}

// reactiveUp requires the sustained-over-threshold predicate: the most
// recent sustained_samples readings must each exceed the relevant
// threshold. A single spike never launches; its join latency would outlast
// the spike itself.
func (e *Engine) reactiveUp(in Input) (types.ScalingIntent, bool) {
	win := in.window(e.cfg.SustainedSamples)

	if win != nil && allSamples(win, func(m types.MetricSample) bool {
		return known(m, types.QueryCPU) && m.CPUPct > e.cfg.CPUUpPct
	}) {
		return normalUp(types.ReasonCPUSustained), true
	}
	if win != nil && allSamples(win, func(m types.MetricSample) bool {
		return known(m, types.QueryPending) && m.PendingPods > 0
	}) {
		return normalUp(types.ReasonPendingSustained), true
	}
	if known(in.Sample, types.QueryMem) && in.Sample.MemPct > e.cfg.MemUpPct {
		return normalUp(types.ReasonMemHigh), true
	}
	return types.ScalingIntent{}, false
}

// reactiveDown evaluates the scale-down predicate over the entire history
// window. The strict variant is deliberate: every sample in the window must
// be quiet before a node is removed, and only one node goes per tick.
// Returns (intent, LOW_UTILIZATION, true) on a firing decision, or
// (zero, blockingReason, true) when utilization is low but a veto applies.
func (e *Engine) reactiveDown(in Input) (types.ScalingIntent, types.Reason, bool) {
	win := in.window(e.cfg.HistorySize)
	if win == nil {
		return types.ScalingIntent{}, types.ReasonWindowShort, false
	}

	cpuQuiet := allSamples(win, func(m types.MetricSample) bool {
		return known(m, types.QueryCPU) && m.CPUPct < e.cfg.CPUDownPct
	})
	if !cpuQuiet {
		return types.ScalingIntent{}, types.ReasonSteady, false
	}

	if !allSamples(win, func(m types.MetricSample) bool {
		return m.PendingPods == 0
	}) {
		return types.ScalingIntent{}, types.ReasonPendingPresent, true
	}

	if !known(in.Sample, types.QueryMem) || in.Sample.MemPct >= e.cfg.MemDownPct {
		return types.ScalingIntent{}, types.ReasonSteady, false
	}

	if e.cfg.EnableCustomMetrics && !e.customQuiet(in.Sample) {
		return types.ScalingIntent{}, types.ReasonSteady, false
	}

	return types.ScalingIntent{
		Action:    types.ActionDown,
		Magnitude: 1,
		Urgency:   types.UrgencyNormal,
		Reason:    types.ReasonLowUtilization,
	}, types.ReasonLowUtilization, true
}

// capUp applies the hard ceiling: at max the intent downgrades to a
// capacity-ceiling noop, otherwise the magnitude is clamped into bounds.
func (e *Engine) capUp(in Input, intent types.ScalingIntent) types.ScalingIntent {
	if in.Count >= e.cfg.MaxWorkers {
		return types.Noop(types.ReasonAtCapacity)
	}
	if room := e.cfg.MaxWorkers - in.Count; intent.Magnitude > room {
		intent.Magnitude = room
	}
	return intent
}

// capDown applies the hard floor symmetrically.
func (e *Engine) capDown(in Input, intent types.ScalingIntent) types.ScalingIntent {
	if in.Count <= e.cfg.MinWorkers {
		return types.Noop(types.ReasonAtFloor)
	}
	if room := in.Count - e.cfg.MinWorkers; intent.Magnitude > room {
		intent.Magnitude = room
	}
	return intent
}

func normalUp(reason types.Reason) types.ScalingIntent {
	return types.ScalingIntent{
		Action:    types.ActionUp,
		Magnitude: 1,
		Urgency:   types.UrgencyNormal,
		Reason:    reason,
	}
}

func allSamples(samples []types.MetricSample, pred func(types.MetricSample) bool) bool {
	for _, m := range samples {
		if !pred(m) {
			return false
		}
	}
	return true
}

package decision

import (
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// customUp evaluates the optional workload signals, each under the same
// sustained predicate as the reactive CPU trigger. Unknown values never
// fire a trigger.
func (e *Engine) customUp(in Input) (types.ScalingIntent, bool) {
	win := in.window(e.cfg.SustainedSamples)
	if win == nil {
		return types.ScalingIntent{}, false
	}

	checks := []struct {
		reason types.Reason
		pred   func(types.MetricSample) bool
	}{
		{types.ReasonLatencyHigh, func(m types.MetricSample) bool {
			return known(m, types.QueryLatencyP95) && m.APILatencyP95 > e.cfg.LatencyP95HighSec
		}},
		{types.ReasonErrorRateHigh, func(m types.MetricSample) bool {
			return known(m, types.QueryErrorRate) && m.ErrorRate > e.cfg.ErrorRateHigh
		}},
		{types.ReasonQueueDepthHigh, func(m types.MetricSample) bool {
			return known(m, types.QueryQueueDepth) && m.QueueDepth > e.cfg.QueueDepthHigh
		}},
	}
	for _, c := range checks {
		if allSamples(win, c.pred) {
			return types.ScalingIntent{
				Action:    types.ActionUp,
				Magnitude: 1,
				Urgency:   types.UrgencyCustom,
				Reason:    c.reason,
			}, true
		}
	}
	return types.ScalingIntent{}, false
}

// customQuiet reports whether every custom signal sits below its low-water
// mark. An unknown value vetoes scale-down rather than permitting it.
func (e *Engine) customQuiet(m types.MetricSample) bool {
	if !known(m, types.QueryLatencyP95) || m.APILatencyP95 >= e.cfg.LatencyP95LowSec {
		return false
	}
	if !known(m, types.QueryErrorRate) || m.ErrorRate >= e.cfg.ErrorRateLow {
		return false
	}
	if !known(m, types.QueryQueueDepth) || m.QueueDepth >= e.cfg.QueueDepthLow {
		return false
	}
	return true
}

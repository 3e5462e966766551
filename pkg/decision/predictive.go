package decision

import (
	"time"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

const (
	// predictiveLeadMinute is the minute of the hour from which the engine
	// starts considering next-hour predictions, giving new workers time to
	// join before the predicted load arrives.
	predictiveLeadMinute = 50

	// predictiveMarginPct is how far current CPU must sit below the up
	// threshold for a predictive launch to add anything: if load is already
	// near the threshold the reactive rule will handle it.
	predictiveMarginPct = 10
)

// predictiveUp pre-scales by one when the historical mean CPU for the
// upcoming hour, same hour-of-day and day-of-week, exceeds the up
// threshold while current load is still well below it.
func (e *Engine) predictiveUp(in Input) (types.ScalingIntent, bool) {
	if in.Now.Minute() < predictiveLeadMinute {
		return types.ScalingIntent{}, false
	}
	predicted, ok := Predict(in.Historical, in.Now)
	if !ok {
		return types.ScalingIntent{}, false
	}
	if predicted <= e.cfg.CPUUpPct {
		return types.ScalingIntent{}, false
	}
	if !known(in.Sample, types.QueryCPU) || in.Sample.CPUPct >= e.cfg.CPUUpPct-predictiveMarginPct {
		return types.ScalingIntent{}, false
	}
	return types.ScalingIntent{
		Action:    types.ActionUp,
		Magnitude: 1,
		Urgency:   types.UrgencyPredictive,
		Reason:    types.ReasonPredictedLoad,
	}, true
}

// Predict returns the mean CPU across historical rows matching the next
// hour's hour-of-day and day-of-week. The 7-day hour-of-day average is a
// forecast signal, not an oracle; richer models can replace this function
// as long as the signature holds.
func Predict(rows []types.HistoricalMetric, now time.Time) (float64, bool) {
	next := now.UTC().Add(time.Hour)
	hour := next.Hour()
	day := int(next.Weekday())

	var sum float64
	var n int
	for _, r := range rows {
		if r.HourOfDay == hour && r.DayOfWeek == day {
			sum += r.CPUPct
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

/*
Package decision implements the scaling decision engine.

The engine is a pure function over (state, sample, history, config, now).
Rules evaluate in a fixed order with first match winning: in-progress
guard, critical up, reactive up, custom-metric up, predictive up, reactive
down. The hard worker-count cap and floor convert out-of-bounds intents
into noops and clamp magnitudes.

Reactive triggers use sustained thresholds: a scale-up needs the last
sustained_samples readings over threshold, a scale-down needs the entire
history window quiet. This is the core defence against oscillation; a
single spike shorter than a worker's join latency never causes a launch.
*/
package decision

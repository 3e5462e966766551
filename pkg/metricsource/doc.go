/*
Package metricsource resolves named Prometheus queries into the metric
samples the decision engine consumes.

Core signals (cpu, memory, pending pods) are mandatory; the adapter falls
back to its last good sample for up to five minutes when the source is
unreachable, and reports MetricsUnavailable only when both live and
cached data are gone. Per-query success is tracked so a zero reading is
distinguishable from a missing one.
*/
package metricsource

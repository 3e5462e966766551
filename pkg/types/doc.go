/*
Package types defines the core entities shared across the autoscaler:
cluster state, metric samples, scaling intents, worker instances, and the
historical metric rows used for predictive scaling.

All types here are plain data. Behavior lives in the components that
produce and consume them (pkg/decision, pkg/reconciler, pkg/provisioner,
pkg/drainer). JSON tags on ClusterState and MetricSample match the state
store record layout, so a round-trip through the store preserves structure
and history order.
*/
package types

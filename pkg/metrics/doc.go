/*
Package metrics exposes the autoscaler's own operational metrics in
Prometheus format: tick counts and durations, scale actions, lock
contention, and launch/drain failures. Metrics register at package init
and are served by Handler.
*/
package metrics

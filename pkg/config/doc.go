/*
Package config loads and validates the autoscaler configuration.

Configuration is a single immutable struct built at process start from a
YAML file layered over documented defaults. Validation enforces the
relative-ordering constraints the decision algorithm depends on
(tick_interval < cooldown_up < cooldown_down, lock_ttl covering the join
deadline) so no component needs to re-check them later.
*/
package config

/*
Package drainer removes workers from the cluster without disrupting
workloads.

Victim selection drains the most populated zones first, keeps every zone
above the zone floor, and refuses nodes hosting singleton workloads or
pods protected by exhausted disruption budgets. The per-victim protocol
is cordon, evict, verify, terminate; a drain that misses its deadline is
rolled back with an uncordon and the instance keeps running.
*/
package drainer

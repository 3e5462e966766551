/*
Package reconciler drives the autoscaling control loop.

Each tick runs under the distributed lock: read inventory, heal stored
state against it, sample metrics, decide, dispatch to the provisioner or
drainer, then record the outcome in a single conditional write before
releasing the lock. A tick that fails after dispatching leaves the lock
to expire so the next holder re-reads inventory instead of trusting a
stale intent. Lock contention is a clean skip, never an error.
*/
package reconciler

/*
Package statestore provides the durable cluster state record and the
distributed lock that serializes reconcilers across hosts.

The DynamoDB implementation keeps one state item per cluster and relies on
conditional updates for correctness: the lock is acquired only when absent
or expired, and every consequential state write is conditional on the
caller still holding the lock. A rejected condition is surfaced as
LockContended or StateConflict and never retried blindly.

Predictive history lives in a separate append-only table with a 30-day TTL
attribute; appends take no lock. The in-memory implementation mirrors the
same semantics for tests and local runs.
*/
package statestore

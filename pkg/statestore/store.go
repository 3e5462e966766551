package statestore

import (
	"context"
	"time"

	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// Acquisition is the result of a successful lock acquire: the state as it
// stood before this holder took over with the caller's fresh lock
// installed, and whether the lock was taken from an expired holder rather
// than found free. The latter is the reconciler's cue to suspect partial
// work from a crashed predecessor.
type Acquisition struct {
	State            *types.ClusterState
	TakenFromExpired bool
}

// Store is the durable cluster state record with a compare-and-set
// discipline strong enough to serialize reconcilers across hosts.
//
// All consequential writes go through Update, which is atomic and
// conditional on lock ownership. Historical metrics are append-only and
// take no lock.
type Store interface {
	// Get returns the state for a cluster, or an empty state if the record
	// does not exist yet.
	Get(ctx context.Context, clusterID string) (*types.ClusterState, error)

	// AcquireLock takes the distributed lock for holderID. It succeeds only
	// if no lock exists or the existing lock has expired. Failure to acquire
	// returns a LockContended error.
	AcquireLock(ctx context.Context, clusterID, holderID string, ttl time.Duration, now time.Time) (*Acquisition, error)

	// ReleaseLock clears the lock if holderID still owns it. Losing the lock
	// before release returns a StateConflict error.
	ReleaseLock(ctx context.Context, clusterID, holderID string) error

	// Update atomically writes the full state record, conditional on
	// holderID owning the lock. A rejected condition returns StateConflict
	// and must be treated as lock lost.
	Update(ctx context.Context, state *types.ClusterState, holderID string) error

	// AppendHistorical appends one row to the 30-day predictive history.
	AppendHistorical(ctx context.Context, m types.HistoricalMetric) error

	// HistoricalWindow returns rows for the cluster captured at or after
	// since, ordered by timestamp.
	HistoricalWindow(ctx context.Context, clusterID string, since time.Time) ([]types.HistoricalMetric, error)

	Close() error
}

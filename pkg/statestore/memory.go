package statestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BayajidAlam/node-fleet/pkg/errdefs"
	"github.com/BayajidAlam/node-fleet/pkg/types"
)

// MemoryStore implements Store in process memory with the same lock and
// conditional-write semantics as the DynamoDB store. It backs tests and
// local single-replica runs.
type MemoryStore struct {
	mu         sync.Mutex
	states     map[string]*types.ClusterState
	historical map[string][]types.HistoricalMetric
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:     make(map[string]*types.ClusterState),
		historical: make(map[string][]types.HistoricalMetric),
	}
}

func copyState(s *types.ClusterState) *types.ClusterState {
	cp := *s
	if s.Lock != nil {
		lk := *s.Lock
		cp.Lock = &lk
	}
	cp.MetricHistory = append([]types.MetricSample(nil), s.MetricHistory...)
	return &cp
}

func (s *MemoryStore) Get(_ context.Context, clusterID string) (*types.ClusterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[clusterID]
	if !ok {
		return &types.ClusterState{ClusterID: clusterID}, nil
	}
	return copyState(st), nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, clusterID, holderID string, ttl time.Duration, now time.Time) (*Acquisition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[clusterID]
	if !ok {
		st = &types.ClusterState{ClusterID: clusterID}
		s.states[clusterID] = st
	}
	if st.Lock != nil && !st.Lock.Expired(now) {
		return nil, errdefs.New(errdefs.KindLockContended, "statestore.AcquireLock")
	}
	takenFromExpired := st.Lock != nil

	prior := copyState(st)
	st.Lock = &types.Lock{HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	prior.Lock = &types.Lock{HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}

	return &Acquisition{State: prior, TakenFromExpired: takenFromExpired}, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, clusterID, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[clusterID]
	if !ok || st.Lock == nil || st.Lock.HolderID != holderID {
		return errdefs.New(errdefs.KindStateConflict, "statestore.ReleaseLock")
	}
	st.Lock = nil
	return nil
}

func (s *MemoryStore) Update(_ context.Context, state *types.ClusterState, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[state.ClusterID]
	if !ok || st.Lock == nil || st.Lock.HolderID != holderID {
		return errdefs.New(errdefs.KindStateConflict, "statestore.Update")
	}
	cp := copyState(state)
	cp.Lock = &types.Lock{
		HolderID:   st.Lock.HolderID,
		AcquiredAt: st.Lock.AcquiredAt,
		ExpiresAt:  st.Lock.ExpiresAt,
	}
	s.states[state.ClusterID] = cp
	return nil
}

func (s *MemoryStore) AppendHistorical(_ context.Context, m types.HistoricalMetric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historical[m.ClusterID] = append(s.historical[m.ClusterID], m)
	return nil
}

func (s *MemoryStore) HistoricalWindow(_ context.Context, clusterID string, since time.Time) ([]types.HistoricalMetric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []types.HistoricalMetric
	for _, m := range s.historical[clusterID] {
		if !m.Timestamp.Before(since) {
			rows = append(rows, m)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	return rows, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

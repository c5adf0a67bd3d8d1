package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/renalwatch/renalwatch/internal/domain/classification"
	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

// MemStore is a thread-safe in-memory Store used by tests and single-node
// deployments without Postgres.
type MemStore struct {
	mu          sync.RWMutex
	snapshots   map[uuid.UUID][]*classification.Snapshot
	transitions map[uuid.UUID][]*transition.Transition
	byID        map[uuid.UUID]*transition.Transition
}

func NewMemStore() *MemStore {
	return &MemStore{
		snapshots:   make(map[uuid.UUID][]*classification.Snapshot),
		transitions: make(map[uuid.UUID][]*transition.Transition),
		byID:        make(map[uuid.UUID]*transition.Transition),
	}
}

func (s *MemStore) Append(_ context.Context, expectedPrior int64, snap *classification.Snapshot, tr *transition.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.snapshots[snap.EntityID]
	var current int64 = NoPriorSequence
	if len(existing) > 0 {
		current = existing[len(existing)-1].Sequence
	}
	if current != expectedPrior {
		return fmt.Errorf("expected prior %d, current %d: %w", expectedPrior, current, ErrSequenceConflict)
	}

	now := time.Now().UTC()

	sc := *snap
	sc.Sequence = expectedPrior + 1
	sc.CreatedAt = now

	tc := *tr
	tc.ID = uuid.New()
	tc.FromSequence = expectedPrior
	tc.ToSequence = sc.Sequence
	tc.CreatedAt = now

	s.snapshots[snap.EntityID] = append(existing, &sc)
	s.transitions[tr.EntityID] = append(s.transitions[tr.EntityID], &tc)
	s.byID[tc.ID] = &tc

	// Reflect assigned identity back to the caller.
	*snap = sc
	*tr = tc
	return nil
}

func (s *MemStore) Latest(_ context.Context, entityID uuid.UUID) (*classification.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[entityID]
	if len(snaps) == 0 {
		return nil, nil
	}
	cp := *snaps[len(snaps)-1]
	return &cp, nil
}

func (s *MemStore) ListSnapshots(_ context.Context, entityID uuid.UUID, limit, offset int) ([]*classification.Snapshot, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[entityID]
	total := len(snaps)
	page := paginate(len(snaps), limit, offset)
	out := make([]*classification.Snapshot, 0, len(page))
	for _, i := range page {
		cp := *snaps[i]
		out = append(out, &cp)
	}
	return out, total, nil
}

func (s *MemStore) ListTransitions(_ context.Context, entityID uuid.UUID, limit, offset int) ([]*transition.Transition, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trs := s.transitions[entityID]
	total := len(trs)
	page := paginate(len(trs), limit, offset)
	out := make([]*transition.Transition, 0, len(page))
	for _, i := range page {
		cp := *trs[i]
		out = append(out, &cp)
	}
	return out, total, nil
}

func (s *MemStore) GetTransition(_ context.Context, id uuid.UUID) (*transition.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	cp := *tr
	return &cp, nil
}

func paginate(total, limit, offset int) []int {
	if offset >= total {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	idx := make([]int, 0, end-offset)
	for i := offset; i < end; i++ {
		idx = append(idx, i)
	}
	return idx
}

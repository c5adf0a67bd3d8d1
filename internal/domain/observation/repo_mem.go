package observation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepo is a thread-safe in-memory Repository for tests.
type MemRepo struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]*Observation
}

func NewMemRepo() *MemRepo {
	return &MemRepo{data: make(map[uuid.UUID][]*Observation)}
}

func (r *MemRepo) Create(_ context.Context, o *Observation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now().UTC()
	cp := *o
	r.data[o.EntityID] = append(r.data[o.EntityID], &cp)
	return nil
}

func (r *MemRepo) Latest(_ context.Context, entityID uuid.UUID) (map[string]*Observation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	latest := make(map[string]*Observation)
	for _, o := range r.data[entityID] {
		cur, ok := latest[o.Type]
		if !ok || o.ObservedAt.After(cur.ObservedAt) {
			cp := *o
			latest[o.Type] = &cp
		}
	}
	return latest, nil
}

func (r *MemRepo) ListByEntity(_ context.Context, entityID uuid.UUID, limit, offset int) ([]*Observation, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := r.data[entityID]
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	out := make([]*Observation, 0, end-offset)
	for _, o := range all[offset:end] {
		cp := *o
		out = append(out, &cp)
	}
	return out, total, nil
}

package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepo is a thread-safe in-memory Repository for tests.
type MemRepo struct {
	mu    sync.RWMutex
	data  map[uuid.UUID]*ActionItem
	order []uuid.UUID
}

func NewMemRepo() *MemRepo {
	return &MemRepo{data: make(map[uuid.UUID]*ActionItem)}
}

func (r *MemRepo) Create(_ context.Context, a *ActionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	r.data[a.ID] = &cp
	r.order = append(r.order, a.ID)
	return nil
}

func (r *MemRepo) GetByID(_ context.Context, id uuid.UUID) (*ActionItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.data[id]
	if !ok {
		return nil, fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (r *MemRepo) Update(_ context.Context, a *ActionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[a.ID]; !ok {
		return fmt.Errorf("action item %s: %w", a.ID, ErrNotFound)
	}
	cp := *a
	r.data[a.ID] = &cp
	return nil
}

func (r *MemRepo) ListPendingPastDue(_ context.Context, now time.Time) ([]*ActionItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*ActionItem
	for _, id := range r.order {
		a := r.data[id]
		if a.Status == StatusPending && a.DueAt.Before(now) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*ActionItem, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var filtered []*ActionItem
	for _, id := range r.order {
		a := r.data[id]
		if f.EntityID != uuid.Nil && a.EntityID != f.EntityID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		filtered = append(filtered, &cp)
	}
	total := len(filtered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

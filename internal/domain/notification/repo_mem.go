package notification

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
	data  map[uuid.UUID]*Notification
	order []uuid.UUID
}

func NewMemRepo() *MemRepo {
	return &MemRepo{data: make(map[uuid.UUID]*Notification)}
}

func (r *MemRepo) Create(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	r.data[n.ID] = &cp
	r.order = append(r.order, n.ID)
	return nil
}

func (r *MemRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.data[id]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	cp := *n
	return &cp, nil
}

func (r *MemRepo) Update(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[n.ID]; !ok {
		return fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
	}
	cp := *n
	r.data[n.ID] = &cp
	return nil
}

func (r *MemRepo) FindActiveByTransition(_ context.Context, entityID, transitionID uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		n := r.data[id]
		if n.EntityID == entityID && n.TransitionID != nil && *n.TransitionID == transitionID && n.Active() {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemRepo) FindActiveEscalation(_ context.Context, entityID uuid.UUID) (*Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		n := r.data[id]
		if n.EntityID == entityID && n.TransitionID == nil &&
			n.Status != StatusResolved && n.Status != StatusFailed {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Notification, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var filtered []*Notification
	for _, id := range r.order {
		n := r.data[id]
		if f.EntityID != uuid.Nil && n.EntityID != f.EntityID {
			continue
		}
		if f.Status != "" && n.Status != f.Status {
			continue
		}
		if f.Priority != "" && n.Priority != f.Priority {
			continue
		}
		cp := *n
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

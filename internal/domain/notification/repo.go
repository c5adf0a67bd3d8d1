package notification

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a notification id is unknown.
var ErrNotFound = errors.New("notification not found")

// ListFilter narrows list queries; zero values mean "any".
type ListFilter struct {
	EntityID uuid.UUID
	Status   Status
	Priority Priority
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	Update(ctx context.Context, n *Notification) error
	// FindActiveByTransition returns the non-resolved notification for the
	// (entity, transition) pair, or nil if none exists.
	FindActiveByTransition(ctx context.Context, entityID, transitionID uuid.UUID) (*Notification, error)
	// FindActiveEscalation returns the entity's escalation notification (nil
	// transition id) that is still in flight or awaiting a doctor, or nil.
	// Failed and resolved escalations do not count: a failed one no longer
	// demands attention and must not block a fresh re-raise.
	FindActiveEscalation(ctx context.Context, entityID uuid.UUID) (*Notification, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Notification, int, error)
}

package action

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an action item id is unknown.
var ErrNotFound = errors.New("action item not found")

// ListFilter narrows list queries; zero values mean "any".
type ListFilter struct {
	EntityID uuid.UUID
	Status   Status
}

type Repository interface {
	Create(ctx context.Context, a *ActionItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*ActionItem, error)
	Update(ctx context.Context, a *ActionItem) error
	// ListPendingPastDue returns pending items whose due date has passed.
	ListPendingPastDue(ctx context.Context, now time.Time) ([]*ActionItem, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*ActionItem, int, error)
}

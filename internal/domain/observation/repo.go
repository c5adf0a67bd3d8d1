package observation

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the durable append log of observations. The pipeline appends
// through Create (ingestion) and reads fresh through Latest on every change
// event; it never trusts event payloads.
type Repository interface {
	Create(ctx context.Context, o *Observation) error
	// Latest returns the most recent observation per type for the entity,
	// keyed by observation type.
	Latest(ctx context.Context, entityID uuid.UUID) (map[string]*Observation, error)
	ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*Observation, int, error)
}

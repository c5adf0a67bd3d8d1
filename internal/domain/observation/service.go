// Package observation owns the lab-reading append log and its ingestion
// surface. Ingesting a reading persists it and publishes a change event; the
// event carries only identity, never values.
package observation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/renalwatch/renalwatch/internal/platform/bus"
)

var validTypes = map[string]bool{
	TypeFiltrationRate: true,
	TypeAlbuminRatio:   true,
}

type Service struct {
	repo      Repository
	publisher bus.Publisher
}

func NewService(repo Repository, publisher bus.Publisher) *Service {
	return &Service{repo: repo, publisher: publisher}
}

// Ingest validates and stores a reading, then signals the pipeline. A failed
// publish does not roll back the write: the reading is durable and the next
// event for the entity will pick it up.
func (s *Service) Ingest(ctx context.Context, o *Observation) error {
	if o.EntityID == uuid.Nil {
		return fmt.Errorf("entity_id is required")
	}
	if !validTypes[o.Type] {
		return fmt.Errorf("unknown observation type: %s", o.Type)
	}
	if o.Value < 0 {
		return fmt.Errorf("value must not be negative: %v", o.Value)
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = time.Now().UTC()
	}

	if err := s.repo.Create(ctx, o); err != nil {
		return fmt.Errorf("store observation: %w", err)
	}

	ev := bus.Event{
		EntityID:    o.EntityID,
		SourceTable: "observations",
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// ListByEntity returns a page of the patient's observations, newest first.
func (s *Service) ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*Observation, int, error) {
	return s.repo.ListByEntity(ctx, entityID, limit, offset)
}

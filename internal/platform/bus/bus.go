// Package bus abstracts the change-event channel between the observation
// store and the pipeline consumer. Delivery is at-least-once and unordered
// across entities; per-entity ordering is the consumer's job, not the bus's.
// Events carry no biomarker values — consumers always re-read fresh state.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event signals that an entity's underlying data changed.
type Event struct {
	EntityID    uuid.UUID `json:"entity_id"`
	SourceTable string    `json:"source_table"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher emits change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Handler consumes a change event. Returning an error re-queues the event
// (at-least-once delivery); handlers must therefore be idempotent.
type Handler func(ctx context.Context, ev Event) error

// Bus is a change-event channel with at-least-once delivery.
type Bus interface {
	Publisher
	// Subscribe registers the handler and starts delivery. Blocks until ctx
	// is cancelled.
	Subscribe(ctx context.Context, h Handler) error
}

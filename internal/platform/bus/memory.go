package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// MemoryBus is an in-process Bus backed by a buffered channel. Used by tests
// and single-node deployments. Failed deliveries are re-queued, preserving
// the at-least-once contract; cross-entity ordering is not guaranteed.
type MemoryBus struct {
	ch     chan Event
	log    zerolog.Logger
	closed sync.Once
	done   chan struct{}
}

func NewMemoryBus(buffer int, log zerolog.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBus{
		ch:   make(chan Event, buffer),
		log:  log,
		done: make(chan struct{}),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	select {
	case <-b.done:
		return fmt.Errorf("bus closed")
	default:
	}
	select {
	case b.ch <- ev:
		return nil
	case <-b.done:
		return fmt.Errorf("bus closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-b.ch:
			if err := h(ctx, ev); err != nil {
				b.log.Warn().Err(err).Str("entity_id", ev.EntityID.String()).Msg("event handler failed, re-queueing")
				// Re-queue without blocking the delivery loop; drop only if
				// the bus is shutting down.
				select {
				case b.ch <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Close stops accepting publishes.
func (b *MemoryBus) Close() {
	b.closed.Do(func() { close(b.done) })
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spaolacci/murmur3"

	"github.com/renalwatch/renalwatch/internal/platform/bus"
)

// EntityProcessor runs one full classification cycle for an entity.
type EntityProcessor interface {
	Process(ctx context.Context, entityID uuid.UUID) error
}

type runState int

const (
	// stateQueued: the entity sits in a shard queue awaiting a worker.
	stateQueued runState = iota
	// stateRunning: a worker is mid-cycle for the entity.
	stateRunning
	// stateRunningDirty: events arrived mid-cycle; rerun when it finishes.
	stateRunningDirty
)

// shard owns a slice of the entity space. One goroutine drains its queue, so
// cycles for entities on the same shard never overlap.
type shard struct {
	mu     sync.Mutex
	states map[uuid.UUID]runState
	queue  chan uuid.UUID
}

// Consumer fans change events out to a fixed pool of shard workers. Entities
// hash to shards, which gives per-entity serialization for free; bursts of
// events for one entity coalesce into a single pending rerun because the
// processor always re-reads fresh state anyway.
type Consumer struct {
	proc   EntityProcessor
	shards []*shard
	log    zerolog.Logger
	wg     sync.WaitGroup

	// Requeue, when set, returns entities whose cycle failed even after the
	// processor's retry budget to the bus, preserving at-least-once delivery.
	Requeue bus.Publisher
}

func NewConsumer(proc EntityProcessor, workers, queueDepth int, log zerolog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	shards := make([]*shard, workers)
	for i := range shards {
		shards[i] = &shard{
			states: make(map[uuid.UUID]runState),
			queue:  make(chan uuid.UUID, queueDepth),
		}
	}
	return &Consumer{proc: proc, shards: shards, log: log}
}

// Start launches the shard workers. They run until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for _, s := range c.shards {
		c.wg.Add(1)
		go func(s *shard) {
			defer c.wg.Done()
			c.runShard(ctx, s)
		}(s)
	}
}

// Wait blocks until every shard worker has exited.
func (c *Consumer) Wait() { c.wg.Wait() }

// Handle is the bus handler: it routes the event's entity to its shard and
// coalesces with any work already queued or running for that entity. A full
// shard queue blocks, which is the intended backpressure toward the bus.
func (c *Consumer) Handle(ctx context.Context, ev bus.Event) error {
	s := c.shards[c.shardFor(ev.EntityID)]

	s.mu.Lock()
	state, tracked := s.states[ev.EntityID]
	if tracked {
		if state == stateRunning {
			s.states[ev.EntityID] = stateRunningDirty
		}
		// Queued or already dirty: this event is covered by the pending run.
		s.mu.Unlock()
		return nil
	}
	s.states[ev.EntityID] = stateQueued
	s.mu.Unlock()

	select {
	case s.queue <- ev.EntityID:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.states, ev.EntityID)
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (c *Consumer) shardFor(entityID uuid.UUID) uint32 {
	return murmur3.Sum32(entityID[:]) % uint32(len(c.shards))
}

func (c *Consumer) runShard(ctx context.Context, s *shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case entityID := <-s.queue:
			c.drainEntity(ctx, s, entityID)
		}
	}
}

// drainEntity processes the entity repeatedly until no event arrived during
// the cycle, then releases its state slot. Shutdown cancels queue pulls only:
// a cycle that already started runs to completion, so the processing context
// is detached from the intake context's cancellation.
func (c *Consumer) drainEntity(ctx context.Context, s *shard, entityID uuid.UUID) {
	procCtx := context.WithoutCancel(ctx)
	for {
		s.mu.Lock()
		s.states[entityID] = stateRunning
		s.mu.Unlock()

		if err := c.proc.Process(procCtx, entityID); err != nil {
			c.log.Error().Err(err).
				Str("entity_id", entityID.String()).
				Msg("entity cycle failed")
			c.requeue(procCtx, entityID)
		}

		s.mu.Lock()
		if s.states[entityID] == stateRunningDirty {
			s.mu.Unlock()
			continue
		}
		delete(s.states, entityID)
		s.mu.Unlock()
		return
	}
}

// requeue hands a failed entity back to the bus so the event is redelivered
// rather than dropped.
func (c *Consumer) requeue(ctx context.Context, entityID uuid.UUID) {
	if c.Requeue == nil {
		return
	}
	ev := bus.Event{EntityID: entityID, SourceTable: "requeue", OccurredAt: time.Now().UTC()}
	if err := c.Requeue.Publish(ctx, ev); err != nil {
		c.log.Error().Err(err).
			Str("entity_id", entityID.String()).
			Msg("requeue of failed entity cycle dropped")
	}
}

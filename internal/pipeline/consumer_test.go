package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalwatch/renalwatch/internal/platform/bus"
)

// trackingProcessor counts cycles per entity and checks that cycles for the
// same entity never overlap.
type trackingProcessor struct {
	mu       sync.Mutex
	cycles   map[uuid.UUID]int
	inFlight map[uuid.UUID]bool
	overlap  atomic.Bool
	delay    time.Duration
	started  chan uuid.UUID
	ctxErr   error
}

func newTrackingProcessor(delay time.Duration) *trackingProcessor {
	return &trackingProcessor{
		cycles:   make(map[uuid.UUID]int),
		inFlight: make(map[uuid.UUID]bool),
		delay:    delay,
		started:  make(chan uuid.UUID, 128),
	}
}

func (p *trackingProcessor) Process(ctx context.Context, entityID uuid.UUID) error {
	p.mu.Lock()
	if p.inFlight[entityID] {
		p.overlap.Store(true)
	}
	p.inFlight[entityID] = true
	p.cycles[entityID]++
	p.mu.Unlock()

	select {
	case p.started <- entityID:
	default:
	}
	time.Sleep(p.delay)

	p.mu.Lock()
	p.inFlight[entityID] = false
	p.ctxErr = ctx.Err()
	p.mu.Unlock()
	return nil
}

func (p *trackingProcessor) cycleCount(entityID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cycles[entityID]
}

func (p *trackingProcessor) lastCtxErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctxErr
}

func event(entityID uuid.UUID) bus.Event {
	return bus.Event{EntityID: entityID, SourceTable: "observations", OccurredAt: time.Now().UTC()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestConsumerProcessesEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := newTrackingProcessor(0)
	c := NewConsumer(proc, 4, 16, zerolog.Nop())
	c.Start(ctx)

	entityID := uuid.New()
	require.NoError(t, c.Handle(ctx, event(entityID)))

	waitFor(t, func() bool { return proc.cycleCount(entityID) == 1 })

	cancel()
	c.Wait()
}

func TestConsumerSerializesPerEntity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := newTrackingProcessor(10 * time.Millisecond)
	c := NewConsumer(proc, 8, 64, zerolog.Nop())
	c.Start(ctx)

	entities := make([]uuid.UUID, 10)
	for i := range entities {
		entities[i] = uuid.New()
	}
	for round := 0; round < 5; round++ {
		for _, id := range entities {
			require.NoError(t, c.Handle(ctx, event(id)))
		}
		time.Sleep(15 * time.Millisecond)
	}

	waitFor(t, func() bool {
		for _, id := range entities {
			if proc.cycleCount(id) == 0 {
				return false
			}
		}
		return true
	})
	cancel()
	c.Wait()

	assert.False(t, proc.overlap.Load(), "cycles for one entity must never overlap")
}

func TestConsumerCoalescesBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := newTrackingProcessor(20 * time.Millisecond)
	c := NewConsumer(proc, 2, 16, zerolog.Nop())
	c.Start(ctx)

	entityID := uuid.New()
	require.NoError(t, c.Handle(ctx, event(entityID)))
	<-proc.started // first cycle is underway

	// A burst of events during the running cycle collapses into one rerun.
	for i := 0; i < 20; i++ {
		require.NoError(t, c.Handle(ctx, event(entityID)))
	}

	waitFor(t, func() bool { return proc.cycleCount(entityID) >= 2 })
	time.Sleep(50 * time.Millisecond)

	got := proc.cycleCount(entityID)
	assert.LessOrEqual(t, got, 3, "burst of 20 events ran %d cycles", got)

	cancel()
	c.Wait()
}

func TestConsumerShardIsStable(t *testing.T) {
	c := NewConsumer(newTrackingProcessor(0), 8, 16, zerolog.Nop())
	for i := 0; i < 50; i++ {
		id := uuid.New()
		first := c.shardFor(id)
		assert.Equal(t, first, c.shardFor(id))
		assert.Less(t, int(first), 8)
	}
}

// faultyProcessor fails the first failures cycles, then succeeds.
type faultyProcessor struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *faultyProcessor) Process(context.Context, uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return errors.New("database unavailable")
	}
	return nil
}

func (p *faultyProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestConsumerRequeuesFailedCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc := &faultyProcessor{failures: 1}
	b := bus.NewMemoryBus(8, zerolog.Nop())
	defer b.Close()

	c := NewConsumer(proc, 1, 8, zerolog.Nop())
	c.Requeue = b
	c.Start(ctx)
	go func() { _ = b.Subscribe(ctx, c.Handle) }()

	require.NoError(t, b.Publish(ctx, event(uuid.New())))

	// The failed first cycle goes back to the bus and runs again.
	waitFor(t, func() bool { return proc.callCount() == 2 })

	cancel()
	c.Wait()
}

func TestConsumerFinishesInFlightCycleOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	proc := newTrackingProcessor(50 * time.Millisecond)
	c := NewConsumer(proc, 1, 8, zerolog.Nop())
	c.Start(ctx)

	entityID := uuid.New()
	require.NoError(t, c.Handle(ctx, event(entityID)))
	<-proc.started

	// Shutdown arrives mid-cycle. The worker stops pulling, but the running
	// cycle must complete with a live context.
	cancel()
	c.Wait()

	assert.Equal(t, 1, proc.cycleCount(entityID))
	assert.NoError(t, proc.lastCtxErr(), "in-flight cycle must not be cancelled by shutdown")
}

func TestConsumerHandleHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Workers never started: a full queue send can only exit via ctx.
	c := NewConsumer(newTrackingProcessor(0), 1, 1, zerolog.Nop())
	id1 := uuid.New()
	require.NoError(t, c.Handle(context.Background(), event(id1)))

	var id2 uuid.UUID
	for {
		id2 = uuid.New()
		if id2 != id1 && c.shardFor(id2) == c.shardFor(id1) {
			break
		}
	}
	assert.ErrorIs(t, c.Handle(ctx, event(id2)), context.Canceled)
}

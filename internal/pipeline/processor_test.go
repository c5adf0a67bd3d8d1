package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renalwatch/renalwatch/internal/domain/classification"
	"github.com/renalwatch/renalwatch/internal/domain/history"
	"github.com/renalwatch/renalwatch/internal/domain/notification"
	"github.com/renalwatch/renalwatch/internal/domain/observation"
	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

// captureDeliverer records dispatched notifications without touching a repo.
type captureDeliverer struct {
	mu         sync.Mutex
	dispatched []*notification.Notification
}

func (c *captureDeliverer) Dispatch(_ context.Context, n *notification.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatched = append(c.dispatched, n)
	return nil
}

func (c *captureDeliverer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dispatched)
}

type fixture struct {
	observations *observation.MemRepo
	store        *history.MemStore
	notifs       *notification.MemRepo
	deliverer    *captureDeliverer
	proc         *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	engine := classification.NewEngine(classification.DefaultBands())
	obs := observation.NewMemRepo()
	store := history.NewMemStore()
	notifs := notification.NewMemRepo()
	svc := notification.NewService(notifs, zerolog.Nop())
	deliverer := &captureDeliverer{}
	proc := NewProcessor(obs, engine, transition.NewDetector(engine, 2.0),
		store, svc, deliverer, 3, time.Millisecond, zerolog.Nop())
	proc.sleep = func(context.Context, time.Duration) error { return nil }
	return &fixture{
		observations: obs,
		store:        store,
		notifs:       notifs,
		deliverer:    deliverer,
		proc:         proc,
	}
}

func (f *fixture) observe(t *testing.T, entityID uuid.UUID, typ string, value float64, at time.Time) {
	t.Helper()
	err := f.observations.Create(context.Background(), &observation.Observation{
		EntityID:   entityID,
		Type:       typ,
		Value:      value,
		ObservedAt: at,
	})
	require.NoError(t, err)
}

func TestProcessFirstObservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entityID := uuid.New()
	now := time.Now().UTC()

	f.observe(t, entityID, observation.TypeFiltrationRate, 72, now)
	f.observe(t, entityID, observation.TypeAlbuminRatio, 12, now)

	require.NoError(t, f.proc.Process(ctx, entityID))

	snap, err := f.store.Latest(ctx, entityID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Sequence)
	assert.Equal(t, classification.PrimaryG2, snap.CategoryPrimary)
	assert.Equal(t, classification.RiskLow, snap.CombinedRiskLevel)

	// A stable low-risk first observation notifies no one.
	assert.Equal(t, 0, f.deliverer.count())
}

func TestProcessMissingBiomarkerIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entityID := uuid.New()

	f.observe(t, entityID, observation.TypeFiltrationRate, 72, time.Now().UTC())

	require.NoError(t, f.proc.Process(ctx, entityID))

	snap, err := f.store.Latest(ctx, entityID)
	require.NoError(t, err)
	assert.Nil(t, snap, "no snapshot without both biomarkers")
}

func TestProcessWorseningNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entityID := uuid.New()
	now := time.Now().UTC()

	f.observe(t, entityID, observation.TypeFiltrationRate, 65, now)
	f.observe(t, entityID, observation.TypeAlbuminRatio, 20, now)
	require.NoError(t, f.proc.Process(ctx, entityID))

	// Drop across the critical 30 edge.
	f.observe(t, entityID, observation.TypeFiltrationRate, 22, now.Add(time.Hour))
	require.NoError(t, f.proc.Process(ctx, entityID))

	snap, err := f.store.Latest(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Sequence)
	assert.Equal(t, classification.PrimaryG4, snap.CategoryPrimary)

	trs, _, err := f.store.ListTransitions(ctx, entityID, 10, 0)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, transition.ChangeWorsened, trs[1].ChangeType)
	assert.Equal(t, transition.SeverityCritical, trs[1].Severity)
	assert.True(t, trs[1].CrossedCriticalThreshold)

	require.Equal(t, 1, f.deliverer.count())
	assert.Equal(t, notification.PriorityCritical, f.deliverer.dispatched[0].Priority)
}

func TestProcessNoiseSuppressed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entityID := uuid.New()
	now := time.Now().UTC()

	f.observe(t, entityID, observation.TypeFiltrationRate, 72, now)
	f.observe(t, entityID, observation.TypeAlbuminRatio, 12, now)
	require.NoError(t, f.proc.Process(ctx, entityID))

	// Tiny within-band wobble below the noise threshold.
	f.observe(t, entityID, observation.TypeFiltrationRate, 71.2, now.Add(time.Hour))
	require.NoError(t, f.proc.Process(ctx, entityID))

	snap, err := f.store.Latest(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Sequence, "suppressed change must append nothing")

	trs, _, err := f.store.ListTransitions(ctx, entityID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, trs, 1)
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entityID := uuid.New()
	now := time.Now().UTC()

	f.observe(t, entityID, observation.TypeFiltrationRate, 40, now)
	f.observe(t, entityID, observation.TypeAlbuminRatio, 400, now)

	// The same change event delivered three times.
	for i := 0; i < 3; i++ {
		require.NoError(t, f.proc.Process(ctx, entityID))
	}

	snap, err := f.store.Latest(ctx, entityID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Sequence, "replays must not duplicate snapshots")

	trs, _, err := f.store.ListTransitions(ctx, entityID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, trs, 1)

	// One notification despite three deliveries.
	ns, _, err := f.notifs.List(ctx, notification.ListFilter{EntityID: entityID}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
}

func TestProcessInvalidStoredValueIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	entityID := uuid.New()
	now := time.Now().UTC()

	f.observe(t, entityID, observation.TypeFiltrationRate, -5, now)
	f.observe(t, entityID, observation.TypeAlbuminRatio, 12, now)

	require.NoError(t, f.proc.Process(ctx, entityID))

	snap, err := f.store.Latest(ctx, entityID)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

// flakyObsRepo fails the first failures Latest calls, then delegates.
type flakyObsRepo struct {
	observation.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyObsRepo) Latest(ctx context.Context, entityID uuid.UUID) (map[string]*observation.Observation, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	return r.Repository.Latest(ctx, entityID)
}

func TestProcessRetriesTransientReadError(t *testing.T) {
	ctx := context.Background()
	engine := classification.NewEngine(classification.DefaultBands())
	obs := &flakyObsRepo{Repository: observation.NewMemRepo(), failures: 1}
	store := history.NewMemStore()
	deliverer := &captureDeliverer{}
	svc := notification.NewService(notification.NewMemRepo(), zerolog.Nop())
	proc := NewProcessor(obs, engine, transition.NewDetector(engine, 2.0),
		store, svc, deliverer, 3, time.Millisecond, zerolog.Nop())
	var backoffs []time.Duration
	proc.sleep = func(_ context.Context, d time.Duration) error {
		backoffs = append(backoffs, d)
		return nil
	}

	entityID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, obs.Create(ctx, &observation.Observation{
		EntityID: entityID, Type: observation.TypeFiltrationRate, Value: 22, ObservedAt: now,
	}))
	require.NoError(t, obs.Create(ctx, &observation.Observation{
		EntityID: entityID, Type: observation.TypeAlbuminRatio, Value: 400, ObservedAt: now,
	}))

	// One dropped read must not swallow a very-high-risk patient's event.
	require.NoError(t, proc.Process(ctx, entityID))

	snap, err := store.Latest(ctx, entityID)
	require.NoError(t, err)
	require.NotNil(t, snap, "cycle must succeed on the retry after a transient read failure")
	assert.Equal(t, classification.RiskVeryHigh, snap.CombinedRiskLevel)
	assert.Equal(t, 2, obs.calls)
	assert.Equal(t, []time.Duration{time.Millisecond}, backoffs)
	assert.Equal(t, 1, deliverer.count())
}

func TestProcessReturnsErrorAfterTransientExhaustion(t *testing.T) {
	ctx := context.Background()
	engine := classification.NewEngine(classification.DefaultBands())
	obs := &flakyObsRepo{Repository: observation.NewMemRepo(), failures: 100}
	svc := notification.NewService(notification.NewMemRepo(), zerolog.Nop())
	proc := NewProcessor(obs, engine, transition.NewDetector(engine, 2.0),
		history.NewMemStore(), svc, &captureDeliverer{}, 3, time.Millisecond, zerolog.Nop())
	proc.sleep = func(context.Context, time.Duration) error { return nil }

	err := proc.Process(ctx, uuid.New())
	require.Error(t, err, "a persistently failing store must surface, not vanish")
	assert.Equal(t, 3, obs.calls, "retry budget must bound the attempts")
}

// conflictStore fails the first append with a sequence conflict, simulating a
// racing worker, then delegates.
type conflictStore struct {
	history.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictStore) Append(ctx context.Context, expectedPrior int64, snap *classification.Snapshot, tr *transition.Transition) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return history.ErrSequenceConflict
	}
	s.mu.Unlock()
	return s.Store.Append(ctx, expectedPrior, snap, tr)
}

func TestProcessRetriesOnSequenceConflict(t *testing.T) {
	ctx := context.Background()
	engine := classification.NewEngine(classification.DefaultBands())
	obs := observation.NewMemRepo()
	store := &conflictStore{Store: history.NewMemStore(), conflicts: 2}
	svc := notification.NewService(notification.NewMemRepo(), zerolog.Nop())
	proc := NewProcessor(obs, engine, transition.NewDetector(engine, 2.0),
		store, svc, &captureDeliverer{}, 3, time.Millisecond, zerolog.Nop())
	proc.sleep = func(context.Context, time.Duration) error { return nil }

	entityID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, obs.Create(ctx, &observation.Observation{
		EntityID: entityID, Type: observation.TypeFiltrationRate, Value: 50, ObservedAt: now,
	}))
	require.NoError(t, obs.Create(ctx, &observation.Observation{
		EntityID: entityID, Type: observation.TypeAlbuminRatio, Value: 10, ObservedAt: now,
	}))

	require.NoError(t, proc.Process(ctx, entityID))

	snap, err := store.Latest(ctx, entityID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Sequence)
}

func TestProcessGivesUpAfterRetryBudget(t *testing.T) {
	ctx := context.Background()
	engine := classification.NewEngine(classification.DefaultBands())
	obs := observation.NewMemRepo()
	store := &conflictStore{Store: history.NewMemStore(), conflicts: 100}
	svc := notification.NewService(notification.NewMemRepo(), zerolog.Nop())
	proc := NewProcessor(obs, engine, transition.NewDetector(engine, 2.0),
		store, svc, &captureDeliverer{}, 3, time.Millisecond, zerolog.Nop())
	proc.sleep = func(context.Context, time.Duration) error { return nil }

	entityID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, obs.Create(ctx, &observation.Observation{
		EntityID: entityID, Type: observation.TypeFiltrationRate, Value: 50, ObservedAt: now,
	}))
	require.NoError(t, obs.Create(ctx, &observation.Observation{
		EntityID: entityID, Type: observation.TypeAlbuminRatio, Value: 10, ObservedAt: now,
	}))

	assert.Error(t, proc.Process(ctx, entityID))
}

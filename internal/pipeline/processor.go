// Package pipeline turns change events into recorded transitions and
// notifications. The consumer serializes work per entity across a sharded
// worker pool; the processor runs one full read-classify-detect-append cycle
// per invocation, always from fresh reads, so replayed or coalesced events
// converge on the same history.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renalwatch/renalwatch/internal/domain/classification"
	"github.com/renalwatch/renalwatch/internal/domain/history"
	"github.com/renalwatch/renalwatch/internal/domain/notification"
	"github.com/renalwatch/renalwatch/internal/domain/observation"
	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

// Notifier raises a notification for a freshly recorded transition.
type Notifier interface {
	CreateForTransition(ctx context.Context, tr *transition.Transition) (*notification.Notification, error)
}

// Deliverer drives delivery of a raised notification.
type Deliverer interface {
	Dispatch(ctx context.Context, n *notification.Notification) error
}

// Processor recomputes one entity's classification from its latest
// observations and conditionally appends the outcome. Stateless; safe for
// concurrent use across distinct entities.
type Processor struct {
	observations observation.Repository
	engine       *classification.Engine
	detector     *transition.Detector
	store        history.Store
	notifier     Notifier
	deliverer    Deliverer
	maxRetries   int
	backoffBase  time.Duration
	log          zerolog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewProcessor(
	observations observation.Repository,
	engine *classification.Engine,
	detector *transition.Detector,
	store history.Store,
	notifier Notifier,
	deliverer Deliverer,
	maxRetries int,
	backoffBase time.Duration,
	log zerolog.Logger,
) *Processor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Processor{
		observations: observations,
		engine:       engine,
		detector:     detector,
		store:        store,
		notifier:     notifier,
		deliverer:    deliverer,
		maxRetries:   maxRetries,
		backoffBase:  backoffBase,
		log:          log,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs one classification cycle for the entity. A sequence conflict
// means another worker appended first; the cycle re-reads and retries
// immediately. Transient store failures retry with exponential backoff.
// Either way the retry budget bounds the attempts; the caller re-queues the
// event when it is spent. Missing biomarkers and noise-suppressed changes are
// quiet no-ops.
func (p *Processor) Process(ctx context.Context, entityID uuid.UUID) error {
	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		_, err := p.cycle(ctx, entityID)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, history.ErrSequenceConflict) {
			p.log.Debug().
				Str("entity_id", entityID.String()).
				Int("attempt", attempt).
				Msg("sequence conflict, retrying cycle")
			continue
		}
		if attempt == p.maxRetries {
			break
		}
		backoff := p.backoffBase << (attempt - 1)
		p.log.Warn().Err(err).
			Str("entity_id", entityID.String()).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("cycle failed, backing off")
		if serr := p.sleep(ctx, backoff); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("entity %s: cycle still failing after %d attempts: %w", entityID, p.maxRetries, lastErr)
}

// cycle is a single read-classify-detect-append pass. Reports whether a
// snapshot was appended.
func (p *Processor) cycle(ctx context.Context, entityID uuid.UUID) (bool, error) {
	latest, err := p.observations.Latest(ctx, entityID)
	if err != nil {
		return false, fmt.Errorf("read latest observations: %w", err)
	}
	primary, okPrimary := latest[observation.TypeFiltrationRate]
	secondary, okSecondary := latest[observation.TypeAlbuminRatio]
	if !okPrimary || !okSecondary {
		// Classification needs both biomarkers; wait for the missing one.
		p.log.Debug().
			Str("entity_id", entityID.String()).
			Bool("has_primary", okPrimary).
			Bool("has_secondary", okSecondary).
			Msg("incomplete biomarker set, skipping cycle")
		return false, nil
	}

	result, err := p.engine.Classify(classification.Input{
		Primary:   primary.Value,
		Secondary: secondary.Value,
	})
	if err != nil {
		var verr *classification.ValidationError
		if errors.As(err, &verr) {
			// Bad stored data will not improve on retry.
			p.log.Warn().Err(err).
				Str("entity_id", entityID.String()).
				Msg("observations failed validation, skipping cycle")
			return false, nil
		}
		return false, fmt.Errorf("classify: %w", err)
	}

	prev, err := p.store.Latest(ctx, entityID)
	if err != nil {
		return false, fmt.Errorf("read latest snapshot: %w", err)
	}

	observedAt := primary.ObservedAt
	if secondary.ObservedAt.After(observedAt) {
		observedAt = secondary.ObservedAt
	}
	snap := &classification.Snapshot{
		EntityID:          entityID,
		ObservedAt:        observedAt,
		CategoryPrimary:   result.CategoryPrimary,
		CategorySecondary: result.CategorySecondary,
		CombinedRiskLevel: result.CombinedRiskLevel,
		NumericScore:      result.NumericScore,
		PrimaryValue:      primary.Value,
		SecondaryValue:    secondary.Value,
	}

	tr := p.detector.Detect(prev, snap)
	if tr == nil {
		// Below the noise threshold: no snapshot, no transition.
		return false, nil
	}

	expected := history.NoPriorSequence
	if prev != nil {
		expected = prev.Sequence
	}
	if err := p.store.Append(ctx, expected, snap, tr); err != nil {
		return false, err
	}

	p.log.Info().
		Str("entity_id", entityID.String()).
		Int64("sequence", snap.Sequence).
		Str("change", string(tr.ChangeType)).
		Str("severity", string(tr.Severity)).
		Msg("transition recorded")

	n, err := p.notifier.CreateForTransition(ctx, tr)
	if err != nil {
		return true, fmt.Errorf("raise notification: %w", err)
	}
	if n != nil {
		if err := p.deliverer.Dispatch(ctx, n); err != nil {
			// Delivery failure is handled inside the dispatcher (retries,
			// failed status, escalation hook); the append already succeeded.
			p.log.Error().Err(err).
				Str("entity_id", entityID.String()).
				Str("notification_id", n.ID.String()).
				Msg("notification dispatch failed")
		}
	}
	return true, nil
}

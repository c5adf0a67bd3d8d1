// Package history is the append-only source of truth for classification
// snapshots and transitions. Appends are conditional on the caller's view of
// the patient's current sequence (optimistic concurrency): two racing
// recomputations cannot both succeed, and the loser re-reads and retries.
package history

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/renalwatch/renalwatch/internal/domain/classification"
	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

// ErrSequenceConflict is returned when the patient's current max sequence no
// longer matches the expected prior sequence. Routine under concurrent
// processing; callers re-read and retry the whole cycle.
var ErrSequenceConflict = errors.New("history: sequence conflict")

// ErrNotFound is returned for lookups of transitions that do not exist.
var ErrNotFound = errors.New("history: not found")

// NoPriorSequence is the expected-prior-sequence sentinel for a patient with
// no snapshots yet.
const NoPriorSequence int64 = 0

// Store persists snapshots and their transitions.
type Store interface {
	// Append writes the snapshot and its transition as one atomic unit,
	// assigning sequence expectedPrior+1, but only if the patient's current
	// max sequence equals expectedPrior (NoPriorSequence when the patient
	// has no snapshots). Returns ErrSequenceConflict otherwise; nothing is
	// ever half-written.
	Append(ctx context.Context, expectedPrior int64, snap *classification.Snapshot, tr *transition.Transition) error

	// Latest returns the patient's current snapshot, or nil if none exists.
	Latest(ctx context.Context, entityID uuid.UUID) (*classification.Snapshot, error)

	// ListSnapshots returns snapshots for a patient in ascending sequence
	// order.
	ListSnapshots(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*classification.Snapshot, int, error)

	// ListTransitions returns transitions for a patient in ascending
	// to-sequence order.
	ListTransitions(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*transition.Transition, int, error)

	// GetTransition looks up a transition by id.
	GetTransition(ctx context.Context, id uuid.UUID) (*transition.Transition, error)
}

package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renalwatch/renalwatch/internal/domain/classification"
	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store {
	return &storePG{pool: pool}
}

const snapshotCols = `entity_id, sequence, observed_at, category_primary, category_secondary,
	combined_risk_level, numeric_score, primary_value, secondary_value, created_at`

const transitionCols = `id, entity_id, from_sequence, to_sequence, change_type,
	crossed_critical_threshold, severity, created_at`

// Append inserts the snapshot and transition in one transaction. The insert
// itself re-checks the current max sequence, so the compare and the write are
// a single atomic step even across concurrent connections; the unique primary
// key on (entity_id, sequence) backstops the check.
func (s *storePG) Append(ctx context.Context, expectedPrior int64, snap *classification.Snapshot, tr *transition.Transition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	seq := expectedPrior + 1

	tag, err := tx.Exec(ctx, `
		INSERT INTO snapshots (entity_id, sequence, observed_at, category_primary,
			category_secondary, combined_risk_level, numeric_score,
			primary_value, secondary_value, created_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE COALESCE((SELECT MAX(sequence) FROM snapshots WHERE entity_id = $1), 0) = $11`,
		snap.EntityID, seq, snap.ObservedAt, snap.CategoryPrimary,
		snap.CategorySecondary, snap.CombinedRiskLevel, snap.NumericScore,
		snap.PrimaryValue, snap.SecondaryValue, now, expectedPrior)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s expected prior %d: %w", snap.EntityID, expectedPrior, ErrSequenceConflict)
	}

	id := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO transitions (id, entity_id, from_sequence, to_sequence,
			change_type, crossed_critical_threshold, severity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, tr.EntityID, expectedPrior, seq,
		tr.ChangeType, tr.CrossedCriticalThreshold, tr.Severity, now)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}

	snap.Sequence = seq
	snap.CreatedAt = now
	tr.ID = id
	tr.FromSequence = expectedPrior
	tr.ToSequence = seq
	tr.CreatedAt = now
	return nil
}

func scanSnapshot(row pgx.Row) (*classification.Snapshot, error) {
	var sn classification.Snapshot
	err := row.Scan(&sn.EntityID, &sn.Sequence, &sn.ObservedAt, &sn.CategoryPrimary,
		&sn.CategorySecondary, &sn.CombinedRiskLevel, &sn.NumericScore,
		&sn.PrimaryValue, &sn.SecondaryValue, &sn.CreatedAt)
	return &sn, err
}

func scanTransition(row pgx.Row) (*transition.Transition, error) {
	var tr transition.Transition
	err := row.Scan(&tr.ID, &tr.EntityID, &tr.FromSequence, &tr.ToSequence,
		&tr.ChangeType, &tr.CrossedCriticalThreshold, &tr.Severity, &tr.CreatedAt)
	return &tr, err
}

func (s *storePG) Latest(ctx context.Context, entityID uuid.UUID) (*classification.Snapshot, error) {
	sn, err := scanSnapshot(s.pool.QueryRow(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE entity_id = $1 ORDER BY sequence DESC LIMIT 1`, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sn, nil
}

func (s *storePG) ListSnapshots(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*classification.Snapshot, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots WHERE entity_id = $1`, entityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotCols+` FROM snapshots
		WHERE entity_id = $1 ORDER BY sequence ASC LIMIT $2 OFFSET $3`, entityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*classification.Snapshot
	for rows.Next() {
		sn, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, sn)
	}
	return items, total, rows.Err()
}

func (s *storePG) ListTransitions(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*transition.Transition, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transitions WHERE entity_id = $1`, entityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+transitionCols+` FROM transitions
		WHERE entity_id = $1 ORDER BY to_sequence ASC LIMIT $2 OFFSET $3`, entityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*transition.Transition
	for rows.Next() {
		tr, err := scanTransition(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, tr)
	}
	return items, total, rows.Err()
}

func (s *storePG) GetTransition(ctx context.Context, id uuid.UUID) (*transition.Transition, error) {
	tr, err := scanTransition(s.pool.QueryRow(ctx, `
		SELECT `+transitionCols+` FROM transitions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	return tr, err
}

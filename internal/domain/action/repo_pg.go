package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const actionCols = `id, entity_id, source_notification_id, source_priority, due_at,
	status, escalation_level, created_at, completed_at`

func scanAction(row pgx.Row) (*ActionItem, error) {
	var a ActionItem
	err := row.Scan(&a.ID, &a.EntityID, &a.SourceNotificationID, &a.SourcePriority,
		&a.DueAt, &a.Status, &a.EscalationLevel, &a.CreatedAt, &a.CompletedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *ActionItem) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO action_items (id, entity_id, source_notification_id,
			source_priority, due_at, status, escalation_level, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.EntityID, a.SourceNotificationID, a.SourcePriority,
		a.DueAt, a.Status, a.EscalationLevel, a.CreatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*ActionItem, error) {
	a, err := scanAction(r.pool.QueryRow(ctx, `
		SELECT `+actionCols+` FROM action_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("action item %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (r *repoPG) Update(ctx context.Context, a *ActionItem) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE action_items SET status=$2, escalation_level=$3, completed_at=$4
		WHERE id = $1`,
		a.ID, a.Status, a.EscalationLevel, a.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("action item %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

func (r *repoPG) ListPendingPastDue(ctx context.Context, now time.Time) ([]*ActionItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+actionCols+` FROM action_items
		WHERE status = 'pending' AND due_at < $1
		ORDER BY due_at ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ActionItem
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*ActionItem, int, error) {
	where := `WHERE ($1::uuid IS NULL OR entity_id = $1)
		AND ($2::text IS NULL OR status = $2)`

	var entityID *uuid.UUID
	if f.EntityID != uuid.Nil {
		entityID = &f.EntityID
	}
	var status *string
	if f.Status != "" {
		s := string(f.Status)
		status = &s
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM action_items `+where,
		entityID, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+actionCols+` FROM action_items `+where+`
		ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		entityID, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ActionItem
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

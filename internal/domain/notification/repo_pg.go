package notification

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

const notificationCols = `id, entity_id, transition_id, priority, status, retry_count,
	last_error, created_at, sent_at, acked_at, resolved_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.EntityID, &n.TransitionID, &n.Priority, &n.Status,
		&n.RetryCount, &n.LastError, &n.CreatedAt, &n.SentAt, &n.AckedAt, &n.ResolvedAt)
	return &n, err
}

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (id, entity_id, transition_id, priority, status,
			retry_count, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.EntityID, n.TransitionID, n.Priority, n.Status,
		n.RetryCount, n.LastError, n.CreatedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		SELECT `+notificationCols+` FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, err
}

func (r *repoPG) Update(ctx context.Context, n *Notification) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET status=$2, retry_count=$3, last_error=$4,
			sent_at=$5, acked_at=$6, resolved_at=$7
		WHERE id = $1`,
		n.ID, n.Status, n.RetryCount, n.LastError, n.SentAt, n.AckedAt, n.ResolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, ErrNotFound)
	}
	return nil
}

func (r *repoPG) FindActiveByTransition(ctx context.Context, entityID, transitionID uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		SELECT `+notificationCols+` FROM notifications
		WHERE entity_id = $1 AND transition_id = $2 AND status <> 'resolved'
		ORDER BY created_at DESC LIMIT 1`, entityID, transitionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (r *repoPG) FindActiveEscalation(ctx context.Context, entityID uuid.UUID) (*Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		SELECT `+notificationCols+` FROM notifications
		WHERE entity_id = $1 AND transition_id IS NULL
			AND status NOT IN ('resolved', 'failed')
		ORDER BY created_at DESC LIMIT 1`, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Notification, int, error) {
	where := `WHERE ($1::uuid IS NULL OR entity_id = $1)
		AND ($2::text IS NULL OR status = $2)
		AND ($3::text IS NULL OR priority = $3)`

	var entityID *uuid.UUID
	if f.EntityID != uuid.Nil {
		entityID = &f.EntityID
	}
	var status, priority *string
	if f.Status != "" {
		s := string(f.Status)
		status = &s
	}
	if f.Priority != "" {
		p := string(f.Priority)
		priority = &p
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications `+where,
		entityID, status, priority).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationCols+` FROM notifications `+where+`
		ORDER BY created_at DESC LIMIT $4 OFFSET $5`,
		entityID, status, priority, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

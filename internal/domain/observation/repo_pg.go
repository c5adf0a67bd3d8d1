package observation

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const observationCols = `id, entity_id, type, value, unit, observed_at, created_at`

func scanObservation(row pgx.Row) (*Observation, error) {
	var o Observation
	err := row.Scan(&o.ID, &o.EntityID, &o.Type, &o.Value, &o.Unit, &o.ObservedAt, &o.CreatedAt)
	return &o, err
}

func (r *repoPG) Create(ctx context.Context, o *Observation) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO observations (id, entity_id, type, value, unit, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.EntityID, o.Type, o.Value, o.Unit, o.ObservedAt)
	return err
}

func (r *repoPG) Latest(ctx context.Context, entityID uuid.UUID) (map[string]*Observation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (type) `+observationCols+`
		FROM observations WHERE entity_id = $1
		ORDER BY type, observed_at DESC`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	latest := make(map[string]*Observation)
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		latest[o.Type] = o
	}
	return latest, rows.Err()
}

func (r *repoPG) ListByEntity(ctx context.Context, entityID uuid.UUID, limit, offset int) ([]*Observation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM observations WHERE entity_id = $1`, entityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+observationCols+` FROM observations
		WHERE entity_id = $1 ORDER BY observed_at DESC LIMIT $2 OFFSET $3`, entityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, rows.Err()
}

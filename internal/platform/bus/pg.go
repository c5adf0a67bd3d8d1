package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// channelName is the Postgres NOTIFY channel carrying change events.
const channelName = "entity_changed"

// PGBus is a Bus on Postgres LISTEN/NOTIFY via pgx. Publishes go through the
// shared pool; the subscriber holds a dedicated connection for LISTEN.
// NOTIFY gives at-least-once semantics only while a listener is connected, so
// deployments pair it with a startup re-sweep of recent observations.
type PGBus struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPGBus(pool *pgxpool.Pool, log zerolog.Logger) *PGBus {
	return &PGBus{pool: pool, log: log}
}

func (b *PGBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, channelName, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

func (b *PGBus) Subscribe(ctx context.Context, h Handler) error {
	for {
		if err := b.listen(ctx, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn().Err(err).Msg("listener connection lost, reconnecting")
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (b *PGBus) listen(ctx context.Context, h Handler) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+channelName); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}

		var ev Event
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			b.log.Error().Err(err).Str("payload", n.Payload).Msg("malformed change event dropped")
			continue
		}
		if err := h(ctx, ev); err != nil {
			// Handlers own their retries; a persistent failure here is
			// re-raised by the caller's requeue policy.
			b.log.Warn().Err(err).Str("entity_id", ev.EntityID.String()).Msg("event handler failed")
		}
	}
}

// Package action maintains the doctor-facing action queue. High-severity
// notifications become due-dated work items; a background sweep expires
// overdue items, bumps their escalation level, and re-raises a notification
// one priority tier higher so nothing pending is silently dropped.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renalwatch/renalwatch/internal/domain/notification"
)

// Raiser creates a fresh escalation notification.
type Raiser interface {
	RaiseEscalation(ctx context.Context, entityID uuid.UUID, from notification.Priority) (*notification.Notification, error)
}

// Deliverer drives delivery of a newly raised notification.
type Deliverer interface {
	Dispatch(ctx context.Context, n *notification.Notification) error
}

// Manager owns action item creation, completion, expiry, and the escalation
// loop.
type Manager struct {
	repo      Repository
	raiser    Raiser
	deliverer Deliverer
	sla       time.Duration
	log       zerolog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewManager(repo Repository, raiser Raiser, deliverer Deliverer, sla time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		repo:      repo,
		raiser:    raiser,
		deliverer: deliverer,
		sla:       sla,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateFromNotification derives an action item from a notification that
// reached sent. Only critical and high priorities produce items.
func (m *Manager) CreateFromNotification(ctx context.Context, n *notification.Notification) (*ActionItem, error) {
	if n.Priority != notification.PriorityCritical && n.Priority != notification.PriorityHigh {
		return nil, nil
	}

	nid := n.ID
	now := m.now()
	item := &ActionItem{
		EntityID:             n.EntityID,
		SourceNotificationID: &nid,
		SourcePriority:       n.Priority,
		DueAt:                now.Add(m.sla),
		Status:               StatusPending,
		CreatedAt:            now,
	}
	if err := m.repo.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("create action item: %w", err)
	}
	m.log.Info().
		Str("entity_id", n.EntityID.String()).
		Str("action_id", item.ID.String()).
		Time("due_at", item.DueAt).
		Msg("action item created")
	return item, nil
}

// Complete marks a pending or expired item done.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (*ActionItem, error) {
	item, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.Status == StatusCompleted {
		return nil, fmt.Errorf("action item %s already completed", id)
	}
	item.Status = StatusCompleted
	now := m.now()
	item.CompletedAt = &now
	if err := m.repo.Update(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Sweep expires pending items past their due date, bumping the escalation
// level and re-raising a notification one priority tier higher (capped at
// critical). Returns the number of items expired.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	overdue, err := m.repo.ListPendingPastDue(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("query overdue items: %w", err)
	}

	expired := 0
	for _, item := range overdue {
		item.Status = StatusExpired
		item.EscalationLevel++
		if err := m.repo.Update(ctx, item); err != nil {
			m.log.Error().Err(err).Str("action_id", item.ID.String()).Msg("expire action item")
			continue
		}
		expired++

		if err := m.Escalate(ctx, item.EntityID, item.SourcePriority); err != nil {
			m.log.Error().Err(err).Str("action_id", item.ID.String()).Msg("escalate expired action item")
		}
	}
	return expired, nil
}

// Escalate raises and dispatches a notification one tier above from. The
// same path serves expired action items and failed critical/high deliveries.
// A nil raise means an escalation is already in flight for the entity.
func (m *Manager) Escalate(ctx context.Context, entityID uuid.UUID, from notification.Priority) error {
	n, err := m.raiser.RaiseEscalation(ctx, entityID, from)
	if err != nil {
		return fmt.Errorf("raise escalation: %w", err)
	}
	if n == nil {
		return nil
	}
	if err := m.deliverer.Dispatch(ctx, n); err != nil {
		// The dispatcher has already recorded the failure; the next sweep
		// picks the entity up again.
		return fmt.Errorf("dispatch escalation: %w", err)
	}
	return nil
}

// RunSweeper runs Sweep on a fixed interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := m.Sweep(ctx)
			if err != nil {
				m.log.Error().Err(err).Msg("action sweep failed")
				continue
			}
			if expired > 0 {
				m.log.Info().Int("expired", expired).Msg("action sweep expired overdue items")
			}
		}
	}
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*ActionItem, error) {
	return m.repo.GetByID(ctx, id)
}

func (m *Manager) List(ctx context.Context, f ListFilter, limit, offset int) ([]*ActionItem, int, error) {
	return m.repo.List(ctx, f, limit, offset)
}

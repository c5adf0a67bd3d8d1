package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

// Service owns notification creation and the doctor-triggered lifecycle
// writes (acknowledge, resolve).
type Service struct {
	repo Repository
	log  zerolog.Logger
}

func NewService(repo Repository, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// CreateForTransition applies the policy decision table and creates a pending
// notification, unless one already exists for the same transition (idempotent
// under event replay). Returns nil when the policy suppresses the transition.
func (s *Service) CreateForTransition(ctx context.Context, tr *transition.Transition) (*Notification, error) {
	priority, notify := Decide(tr)
	if !notify {
		return nil, nil
	}

	existing, err := s.repo.FindActiveByTransition(ctx, tr.EntityID, tr.ID)
	if err != nil {
		return nil, fmt.Errorf("check existing notification: %w", err)
	}
	if existing != nil {
		s.log.Debug().
			Str("entity_id", tr.EntityID.String()).
			Str("transition_id", tr.ID.String()).
			Msg("active notification already exists, skipping")
		return nil, nil
	}

	tid := tr.ID
	n := &Notification{
		EntityID:     tr.EntityID,
		TransitionID: &tid,
		Priority:     priority,
		Status:       StatusPending,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return n, nil
}

// RaiseEscalation creates a pending notification one priority tier above
// from, capped at critical. Escalations reference the entity only; they have
// no transition of their own. At most one escalation is in flight per entity:
// while one is pending, sent, delivered, or acknowledged, further raises
// return nil instead of stacking rows.
func (s *Service) RaiseEscalation(ctx context.Context, entityID uuid.UUID, from Priority) (*Notification, error) {
	existing, err := s.repo.FindActiveEscalation(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("check existing escalation: %w", err)
	}
	if existing != nil {
		s.log.Debug().
			Str("entity_id", entityID.String()).
			Str("escalation_id", existing.ID.String()).
			Msg("active escalation already exists, skipping")
		return nil, nil
	}

	n := &Notification{
		EntityID: entityID,
		Priority: from.Bump(),
		Status:   StatusPending,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create escalation notification: %w", err)
	}
	s.log.Info().
		Str("entity_id", entityID.String()).
		Str("priority", string(n.Priority)).
		Msg("escalation notification raised")
	return n, nil
}

// Acknowledge records a doctor acknowledging the notification.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.advance(ctx, id, StatusAcknowledged)
}

// Resolve closes the notification.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.advance(ctx, id, StatusResolved)
}

func (s *Service) advance(ctx context.Context, id uuid.UUID, to Status) (*Notification, error) {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := n.Advance(to, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Notification, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

package notification

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority of a notification.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityModerate Priority = "moderate"
)

// Bump returns the next priority tier up, capped at critical.
func (p Priority) Bump() Priority {
	switch p {
	case PriorityModerate:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// Status of a notification in its delivery lifecycle.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusFailed       Status = "failed"
)

// statusOrder encodes the forward-only lifecycle. failed is terminal and
// reachable only from sent, after the retry budget is spent.
var statusOrder = map[Status]int{
	StatusPending:      1,
	StatusSent:         2,
	StatusDelivered:    3,
	StatusAcknowledged: 4,
	StatusResolved:     5,
}

// CanTransition reports whether a status change is legal: strictly forward
// through the lifecycle, or into failed from sent.
func CanTransition(from, to Status) bool {
	if from == StatusFailed || to == from {
		return false
	}
	if to == StatusFailed {
		return from == StatusSent
	}
	fromRank, ok1 := statusOrder[from]
	toRank, ok2 := statusOrder[to]
	return ok1 && ok2 && toRank > fromRank
}

// Notification is one alert raised for a patient. At most one non-resolved
// notification exists per (entity, transition). TransitionID is nil for
// escalation re-raises, which reference the entity only.
type Notification struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	EntityID     uuid.UUID  `db:"entity_id" json:"entity_id"`
	TransitionID *uuid.UUID `db:"transition_id" json:"transition_id,omitempty"`
	Priority     Priority   `db:"priority" json:"priority"`
	Status       Status     `db:"status" json:"status"`
	RetryCount   int        `db:"retry_count" json:"retry_count"`
	LastError    string     `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	SentAt       *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	AckedAt      *time.Time `db:"acked_at" json:"acked_at,omitempty"`
	ResolvedAt   *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Active reports whether the notification still demands attention for
// duplicate-suppression purposes.
func (n *Notification) Active() bool {
	return n.Status != StatusResolved
}

// Advance moves the notification to the given status, enforcing the
// forward-only lifecycle and stamping the relevant timestamp.
func (n *Notification) Advance(to Status, now time.Time) error {
	if !CanTransition(n.Status, to) {
		return fmt.Errorf("illegal status transition %s -> %s", n.Status, to)
	}
	n.Status = to
	switch to {
	case StatusSent:
		t := now
		n.SentAt = &t
	case StatusAcknowledged:
		t := now
		n.AckedAt = &t
	case StatusResolved:
		t := now
		n.ResolvedAt = &t
	}
	return nil
}

package action

import (
	"time"

	"github.com/google/uuid"

	"github.com/renalwatch/renalwatch/internal/domain/notification"
)

// Status of an action item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// ActionItem is a doctor-facing work item derived from a critical/high
// notification. Pending items past DueAt are expired by the background sweep,
// which bumps the escalation level and re-raises a notification one priority
// tier higher.
type ActionItem struct {
	ID                   uuid.UUID             `db:"id" json:"id"`
	EntityID             uuid.UUID             `db:"entity_id" json:"entity_id"`
	SourceNotificationID *uuid.UUID            `db:"source_notification_id" json:"source_notification_id,omitempty"`
	SourcePriority       notification.Priority `db:"source_priority" json:"source_priority"`
	DueAt                time.Time             `db:"due_at" json:"due_at"`
	Status               Status                `db:"status" json:"status"`
	EscalationLevel      int                   `db:"escalation_level" json:"escalation_level"`
	CreatedAt            time.Time             `db:"created_at" json:"created_at"`
	CompletedAt          *time.Time            `db:"completed_at" json:"completed_at,omitempty"`
}

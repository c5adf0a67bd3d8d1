package transition

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType describes the direction of a classification change.
type ChangeType string

const (
	ChangeImproved ChangeType = "improved"
	ChangeWorsened ChangeType = "worsened"
	ChangeStable   ChangeType = "stable"
)

// Severity grades how urgently a transition needs clinical attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Transition is the computed diff between two consecutive snapshots of the
// same patient. FromSequence is 0 for a first observation. Exactly one
// transition exists per (entity, to_sequence); it is written atomically with
// its snapshot by the history store.
type Transition struct {
	ID                       uuid.UUID  `db:"id" json:"id"`
	EntityID                 uuid.UUID  `db:"entity_id" json:"entity_id"`
	FromSequence             int64      `db:"from_sequence" json:"from_sequence"`
	ToSequence               int64      `db:"to_sequence" json:"to_sequence"`
	ChangeType               ChangeType `db:"change_type" json:"change_type"`
	CrossedCriticalThreshold bool       `db:"crossed_critical_threshold" json:"crossed_critical_threshold"`
	Severity                 Severity   `db:"severity" json:"severity"`
	CreatedAt                time.Time  `db:"created_at" json:"created_at"`
}

// FirstObservation reports whether this transition introduced the patient's
// first snapshot.
func (t *Transition) FirstObservation() bool { return t.FromSequence == 0 }

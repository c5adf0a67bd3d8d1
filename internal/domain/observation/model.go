package observation

import (
	"time"

	"github.com/google/uuid"
)

// Known observation types tracked by the pipeline.
const (
	TypeFiltrationRate = "egfr" // mL/min/1.73m²
	TypeAlbuminRatio   = "acr"  // mg/g
)

// Observation is a single timestamped lab reading for a patient. Immutable
// once written; the pipeline reads observations but never modifies them.
type Observation struct {
	ID         uuid.UUID `db:"id" json:"id"`
	EntityID   uuid.UUID `db:"entity_id" json:"entity_id"`
	Type       string    `db:"type" json:"type"`
	Value      float64   `db:"value" json:"value"`
	Unit       string    `db:"unit" json:"unit"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

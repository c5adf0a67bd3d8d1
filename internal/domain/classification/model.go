package classification

import (
	"time"

	"github.com/google/uuid"
)

// PrimaryCategory is the filtration-rate band (best to worst).
type PrimaryCategory string

const (
	PrimaryG1  PrimaryCategory = "G1"
	PrimaryG2  PrimaryCategory = "G2"
	PrimaryG3a PrimaryCategory = "G3a"
	PrimaryG3b PrimaryCategory = "G3b"
	PrimaryG4  PrimaryCategory = "G4"
	PrimaryG5  PrimaryCategory = "G5"
)

// SecondaryCategory is the albuminuria band.
type SecondaryCategory string

const (
	SecondaryA1 SecondaryCategory = "A1"
	SecondaryA2 SecondaryCategory = "A2"
	SecondaryA3 SecondaryCategory = "A3"
)

// RiskLevel is the combined risk from the primary × secondary matrix.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
)

// Rank returns the ordinal severity of a risk level, low=1 … very_high=4.
// Unknown levels rank 0.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskModerate:
		return 2
	case RiskHigh:
		return 3
	case RiskVeryHigh:
		return 4
	}
	return 0
}

// primaryRank orders primary categories best=1 … worst=6.
var primaryRank = map[PrimaryCategory]int{
	PrimaryG1: 1, PrimaryG2: 2, PrimaryG3a: 3, PrimaryG3b: 4, PrimaryG4: 5, PrimaryG5: 6,
}

// Rank returns the ordinal severity of a primary category, G1=1 … G5=6.
func (p PrimaryCategory) Rank() int { return primaryRank[p] }

var secondaryRank = map[SecondaryCategory]int{
	SecondaryA1: 1, SecondaryA2: 2, SecondaryA3: 3,
}

// Rank returns the ordinal severity of a secondary category, A1=1 … A3=3.
func (s SecondaryCategory) Rank() int { return secondaryRank[s] }

// Snapshot is one immutable, sequenced classification result for a patient.
// Sequence is assigned by the history store at append time and is strictly
// increasing per patient; the snapshot with the highest sequence is current.
type Snapshot struct {
	EntityID          uuid.UUID         `db:"entity_id" json:"entity_id"`
	Sequence          int64             `db:"sequence" json:"sequence"`
	ObservedAt        time.Time         `db:"observed_at" json:"observed_at"`
	CategoryPrimary   PrimaryCategory   `db:"category_primary" json:"category_primary"`
	CategorySecondary SecondaryCategory `db:"category_secondary" json:"category_secondary"`
	CombinedRiskLevel RiskLevel         `db:"combined_risk_level" json:"combined_risk_level"`
	NumericScore      float64           `db:"numeric_score" json:"numeric_score"`
	PrimaryValue      float64           `db:"primary_value" json:"primary_value"`
	SecondaryValue    float64           `db:"secondary_value" json:"secondary_value"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
}

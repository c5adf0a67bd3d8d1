// Package transition derives clinically meaningful change records from pairs
// of consecutive classification snapshots. The detector is the first of two
// suppression gates against alert fatigue: magnitude-only fluctuations below
// the noise threshold produce no transition at all.
package transition

import (
	"github.com/renalwatch/renalwatch/internal/domain/classification"
)

// Detector computes transitions between snapshots. Safe for concurrent use;
// all state is read-only configuration.
type Detector struct {
	engine *classification.Engine
	// noiseThreshold is the minimum numeric-score delta a magnitude-only
	// change must exceed to produce a transition.
	noiseThreshold float64
}

func NewDetector(engine *classification.Engine, noiseThreshold float64) *Detector {
	return &Detector{engine: engine, noiseThreshold: noiseThreshold}
}

// Detect compares the previous snapshot (nil for a brand-new patient) with
// the newly computed one and returns the transition to record, or nil when
// the change is below the noise threshold and nothing should be appended.
func (d *Detector) Detect(prev, next *classification.Snapshot) *Transition {
	if prev == nil {
		return d.firstObservation(next)
	}

	oldRank := prev.CombinedRiskLevel.Rank()
	newRank := next.CombinedRiskLevel.Rank()
	primaryDelta := next.CategoryPrimary.Rank() - prev.CategoryPrimary.Rank()
	secondaryDelta := next.CategorySecondary.Rank() - prev.CategorySecondary.Rank()

	change := ChangeStable
	switch {
	case newRank > oldRank || primaryDelta > 0 || secondaryDelta > 0:
		change = ChangeWorsened
	case newRank < oldRank || primaryDelta < 0 || secondaryDelta < 0:
		change = ChangeImproved
	}

	crossedPrimary, crossedSecondary := d.engine.CrossedEdges(
		prev.PrimaryValue, next.PrimaryValue, prev.SecondaryValue, next.SecondaryValue)
	crossed := len(crossedPrimary) > 0 || len(crossedSecondary) > 0

	categoryChanged := primaryDelta != 0 || secondaryDelta != 0 || newRank != oldRank

	// Suppress pure noise: no categorical movement, no boundary crossing,
	// and a score delta below the configured threshold.
	if !categoryChanged && !crossed {
		delta := next.NumericScore - prev.NumericScore
		if delta < 0 {
			delta = -delta
		}
		if delta < d.noiseThreshold {
			return nil
		}
	}

	severity := SeverityInfo
	switch {
	case d.crossedCriticalEdge(crossedPrimary) || next.CombinedRiskLevel == classification.RiskVeryHigh:
		severity = SeverityCritical
	case categoryChanged:
		severity = SeverityWarning
	}

	return &Transition{
		EntityID:                 next.EntityID,
		FromSequence:             prev.Sequence,
		ToSequence:               prev.Sequence + 1,
		ChangeType:               change,
		CrossedCriticalThreshold: crossed,
		Severity:                 severity,
	}
}

// firstObservation handles the no-previous-snapshot case: a first-ever
// high or very-high classification is always reported as critical.
func (d *Detector) firstObservation(next *classification.Snapshot) *Transition {
	severity := SeverityInfo
	if next.CombinedRiskLevel == classification.RiskHigh ||
		next.CombinedRiskLevel == classification.RiskVeryHigh {
		severity = SeverityCritical
	}
	return &Transition{
		EntityID:     next.EntityID,
		FromSequence: 0,
		ToSequence:   1,
		ChangeType:   ChangeStable,
		Severity:     severity,
	}
}

func (d *Detector) crossedCriticalEdge(crossedPrimary []float64) bool {
	for _, edge := range crossedPrimary {
		for _, critical := range d.engine.Bands().CriticalPrimaryEdges() {
			if edge == critical {
				return true
			}
		}
	}
	return false
}

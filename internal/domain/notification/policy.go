// Package notification raises, delivers, and tracks alerts derived from
// classification transitions. The policy engine is the second suppression
// gate after the transition detector: it maps transition severity to a
// notification priority and refuses duplicates for the same transition.
package notification

import (
	"github.com/renalwatch/renalwatch/internal/domain/transition"
)

// Decide maps a transition to a notification priority. The bool is false
// when no notification is warranted.
func Decide(tr *transition.Transition) (Priority, bool) {
	switch tr.Severity {
	case transition.SeverityCritical:
		return PriorityCritical, true
	case transition.SeverityWarning:
		switch tr.ChangeType {
		case transition.ChangeWorsened:
			return PriorityHigh, true
		case transition.ChangeImproved:
			// Informational improvement notice.
			return PriorityModerate, true
		}
	}
	return "", false
}

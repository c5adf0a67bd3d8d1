package classification

import (
	"errors"
	"testing"

	"pgregory.net/rapid"
)

func TestClassifyBands(t *testing.T) {
	e := NewEngine(DefaultBands())

	tests := []struct {
		name      string
		primary   float64
		secondary float64
		wantP     PrimaryCategory
		wantS     SecondaryCategory
		wantRisk  RiskLevel
	}{
		{"normal", 95, 10, PrimaryG1, SecondaryA1, RiskLow},
		{"primary edge G1", 90, 10, PrimaryG1, SecondaryA1, RiskLow},
		{"mild decrease", 75, 10, PrimaryG2, SecondaryA1, RiskLow},
		{"just below G2", 59.9, 10, PrimaryG3a, SecondaryA1, RiskModerate},
		{"G3a with A2", 50, 100, PrimaryG3a, SecondaryA2, RiskHigh},
		{"G3b", 35, 10, PrimaryG3b, SecondaryA1, RiskHigh},
		{"G3b with A2", 35, 100, PrimaryG3b, SecondaryA2, RiskVeryHigh},
		{"G4", 20, 10, PrimaryG4, SecondaryA1, RiskVeryHigh},
		{"failure band", 10, 10, PrimaryG5, SecondaryA1, RiskVeryHigh},
		{"secondary edge A1/A2", 95, 30, PrimaryG1, SecondaryA2, RiskModerate},
		{"secondary upper A2", 95, 300, PrimaryG1, SecondaryA2, RiskModerate},
		{"severely increased", 95, 301, PrimaryG1, SecondaryA3, RiskHigh},
		{"zero values", 0, 0, PrimaryG5, SecondaryA1, RiskVeryHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Classify(Input{Primary: tt.primary, Secondary: tt.secondary})
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.CategoryPrimary != tt.wantP {
				t.Errorf("primary = %s, want %s", got.CategoryPrimary, tt.wantP)
			}
			if got.CategorySecondary != tt.wantS {
				t.Errorf("secondary = %s, want %s", got.CategorySecondary, tt.wantS)
			}
			if got.CombinedRiskLevel != tt.wantRisk {
				t.Errorf("risk = %s, want %s", got.CombinedRiskLevel, tt.wantRisk)
			}
		})
	}
}

func TestClassifyRejectsOutOfRange(t *testing.T) {
	e := NewEngine(DefaultBands())

	tests := []struct {
		name      string
		primary   float64
		secondary float64
	}{
		{"negative primary", -1, 10},
		{"primary above max", 301, 10},
		{"negative secondary", 60, -0.5},
		{"secondary above max", 60, 25001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Classify(Input{Primary: tt.primary, Secondary: tt.secondary})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestScoreReflectsWithinBandMovement(t *testing.T) {
	e := NewEngine(DefaultBands())

	a := e.Score(Input{Primary: 70, Secondary: 10})
	b := e.Score(Input{Primary: 65, Secondary: 10})
	if b <= a {
		t.Errorf("score should rise as the primary metric falls within a band: %v -> %v", a, b)
	}
}

func TestCrossedEdges(t *testing.T) {
	e := NewEngine(DefaultBands())

	primary, secondary := e.CrossedEdges(62, 58, 10, 10)
	if len(primary) != 1 || primary[0] != 60 {
		t.Errorf("primary crossings = %v, want [60]", primary)
	}
	if len(secondary) != 0 {
		t.Errorf("secondary crossings = %v, want none", secondary)
	}

	// A sharp drop crosses several edges at once.
	primary, _ = e.CrossedEdges(50, 12, 10, 10)
	if len(primary) != 3 {
		t.Errorf("primary crossings = %v, want [45 30 15]", primary)
	}

	// Secondary worsening across both edges.
	_, secondary = e.CrossedEdges(60, 60, 20, 400)
	if len(secondary) != 2 {
		t.Errorf("secondary crossings = %v, want [30 300]", secondary)
	}

	// Improvement crosses nothing.
	primary, secondary = e.CrossedEdges(40, 70, 400, 20)
	if len(primary) != 0 || len(secondary) != 0 {
		t.Errorf("improving movement crossed %v %v", primary, secondary)
	}
}

// The combined risk matrix must be monotonic: worsening either category alone
// never decreases the combined risk level.
func TestMatrixMonotonicity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := rapid.IntRange(1, 6).Draw(t, "primary")
		s := rapid.IntRange(1, 3).Draw(t, "secondary")

		risk := riskMatrix[p-1][s-1]
		if p < 6 {
			if worse := riskMatrix[p][s-1]; worse.Rank() < risk.Rank() {
				t.Fatalf("worsening primary %d->%d lowered risk %s->%s", p, p+1, risk, worse)
			}
		}
		if s < 3 {
			if worse := riskMatrix[p-1][s]; worse.Rank() < risk.Rank() {
				t.Fatalf("worsening secondary %d->%d lowered risk %s->%s", s, s+1, risk, worse)
			}
		}
	})
}

// Classify must be deterministic: the same input always yields the same
// result, and band assignment must agree with the configured edges.
func TestClassifyDeterministic(t *testing.T) {
	e := NewEngine(DefaultBands())
	rapid.Check(t, func(t *rapid.T) {
		in := Input{
			Primary:   rapid.Float64Range(0, 300).Draw(t, "primary"),
			Secondary: rapid.Float64Range(0, 25000).Draw(t, "secondary"),
		}
		first, err := e.Classify(in)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		second, err := e.Classify(in)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if *first != *second {
			t.Fatalf("Classify not deterministic: %+v vs %+v", first, second)
		}
	})
}

// Package classification implements the pure risk-classification engine for
// the monitoring pipeline. It maps a patient's current filtration-rate and
// albuminuria values to discrete category bands and a combined risk level via
// a fixed primary × secondary matrix. The engine performs no I/O; band edges
// and the matrix are loaded once at process start and shared read-only.
package classification

import "fmt"

// ValidationError reports an out-of-range or missing biomarker input.
// Inputs never silently default; the ingestion collaborator sees the error.
type ValidationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value %v: %s", e.Field, e.Value, e.Reason)
}

// Input carries the current biomarker values for a patient.
type Input struct {
	// Primary is the filtration rate (eGFR, mL/min/1.73m²).
	Primary float64
	// Secondary is the albumin-creatinine ratio (ACR, mg/g).
	Secondary float64
}

// Result is the classification output; the caller fills in sequence and
// observation time before appending to history.
type Result struct {
	CategoryPrimary   PrimaryCategory
	CategorySecondary SecondaryCategory
	CombinedRiskLevel RiskLevel
	NumericScore      float64
}

// Bands holds the tunable band edges. Edges are lower bounds for the primary
// metric (a value at or above the edge is in that band or better) and upper
// bounds for the secondary metric.
type Bands struct {
	// PrimaryEdges are the descending lower edges of the five best primary
	// bands; a value below the last edge falls in the worst band.
	PrimaryEdges [5]float64
	// SecondaryEdges are the ascending upper edges of the two best secondary
	// bands; a value above the last edge falls in the worst band.
	SecondaryEdges [2]float64
	// PrimaryMax and SecondaryMax bound the legal input ranges.
	PrimaryMax   float64
	SecondaryMax float64
}

// DefaultBands returns the standard band edges. These mirror the source
// deployment's configuration and are not clinically authoritative; override
// them per deployment if needed.
func DefaultBands() Bands {
	return Bands{
		PrimaryEdges:   [5]float64{90, 60, 45, 30, 15},
		SecondaryEdges: [2]float64{30, 300},
		PrimaryMax:     300,
		SecondaryMax:   25000,
	}
}

// CriticalPrimaryEdges returns the primary band edges whose worsening
// crossing is always critical: the lower edges of the two most severe bands.
func (b Bands) CriticalPrimaryEdges() []float64 {
	return []float64{b.PrimaryEdges[3], b.PrimaryEdges[4]}
}

var primaryByRank = [6]PrimaryCategory{PrimaryG1, PrimaryG2, PrimaryG3a, PrimaryG3b, PrimaryG4, PrimaryG5}
var secondaryByRank = [3]SecondaryCategory{SecondaryA1, SecondaryA2, SecondaryA3}

// riskMatrix is the fixed 18-cell combined risk lookup, indexed by
// [primary rank − 1][secondary rank − 1]. It is monotonic: worsening either
// category never lowers the result.
var riskMatrix = [6][3]RiskLevel{
	{RiskLow, RiskModerate, RiskHigh},          // G1
	{RiskLow, RiskModerate, RiskHigh},          // G2
	{RiskModerate, RiskHigh, RiskVeryHigh},     // G3a
	{RiskHigh, RiskVeryHigh, RiskVeryHigh},     // G3b
	{RiskVeryHigh, RiskVeryHigh, RiskVeryHigh}, // G4
	{RiskVeryHigh, RiskVeryHigh, RiskVeryHigh}, // G5
}

// Engine classifies biomarker inputs. Safe for concurrent use.
type Engine struct {
	bands Bands
}

func NewEngine(bands Bands) *Engine {
	return &Engine{bands: bands}
}

// Classify maps the input values to category bands, the combined risk level,
// and a numeric severity score. Pure and total: every legal input maps to
// exactly one result; out-of-range inputs return a *ValidationError.
func (e *Engine) Classify(in Input) (*Result, error) {
	if in.Primary < 0 || in.Primary > e.bands.PrimaryMax {
		return nil, &ValidationError{Field: "primary", Value: in.Primary,
			Reason: fmt.Sprintf("must be within [0, %v]", e.bands.PrimaryMax)}
	}
	if in.Secondary < 0 || in.Secondary > e.bands.SecondaryMax {
		return nil, &ValidationError{Field: "secondary", Value: in.Secondary,
			Reason: fmt.Sprintf("must be within [0, %v]", e.bands.SecondaryMax)}
	}

	p := e.primaryBand(in.Primary)
	s := e.secondaryBand(in.Secondary)

	return &Result{
		CategoryPrimary:   p,
		CategorySecondary: s,
		CombinedRiskLevel: riskMatrix[p.Rank()-1][s.Rank()-1],
		NumericScore:      e.Score(in),
	}, nil
}

// Score derives the numeric severity score from the raw inputs. The score is
// used only for trend magnitude (noise suppression), never for the
// categorical decision, so within-band movement still shifts it.
func (e *Engine) Score(in Input) float64 {
	p := in.Primary
	if p > 120 {
		p = 120
	}
	if p < 0 {
		p = 0
	}
	return (120 - p) + 15*float64(e.secondaryBand(in.Secondary).Rank()-1)
}

func (e *Engine) primaryBand(v float64) PrimaryCategory {
	for i, edge := range e.bands.PrimaryEdges {
		if v >= edge {
			return primaryByRank[i]
		}
	}
	return primaryByRank[5]
}

func (e *Engine) secondaryBand(v float64) SecondaryCategory {
	// A1 upper edge is exclusive (<30), A2 upper edge inclusive (≤300).
	switch {
	case v < e.bands.SecondaryEdges[0]:
		return SecondaryA1
	case v <= e.bands.SecondaryEdges[1]:
		return SecondaryA2
	default:
		return SecondaryA3
	}
}

// CrossedEdges reports the band edges crossed in the worsening direction when
// the primary metric moves from prevPrimary to curPrimary (falling) and the
// secondary from prevSecondary to curSecondary (rising). Used by the
// transition detector for threshold-crossing detection.
func (e *Engine) CrossedEdges(prevPrimary, curPrimary, prevSecondary, curSecondary float64) (primary, secondary []float64) {
	for _, edge := range e.bands.PrimaryEdges {
		if prevPrimary >= edge && curPrimary < edge {
			primary = append(primary, edge)
		}
	}
	prevRank := e.secondaryBand(prevSecondary).Rank()
	curRank := e.secondaryBand(curSecondary).Rank()
	for i, edge := range e.bands.SecondaryEdges {
		if prevRank <= i+1 && curRank > i+1 {
			secondary = append(secondary, edge)
		}
	}
	return primary, secondary
}

// Bands returns the engine's band configuration.
func (e *Engine) Bands() Bands { return e.bands }

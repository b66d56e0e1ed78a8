// Package conflict detects and resolves disagreement among worker results
// before aggregation. Detection is pairwise and symmetric; resolution always
// produces a single winning value plus an audit record of which agents lost
// and why.
package conflict

import (
	"fmt"
	"math"
	"strings"

	"github.com/hupe1980/agentroute/core"
)

// Severity ranks how serious a disagreement is. Type mismatches are the most
// severe; case-only string differences the least.
type Severity int

const (
	// SeverityLow covers string differences beyond case-insensitive equality.
	SeverityLow Severity = iota
	// SeverityMedium covers numeric values differing beyond tolerance.
	SeverityMedium
	// SeverityHigh covers type-tag mismatches.
	SeverityHigh
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Participant is one side of a detected conflict.
type Participant struct {
	AgentID    string     `json:"agent_id"`
	Value      core.Value `json:"-"`
	Confidence float64    `json:"confidence"`
	Priority   int        `json:"priority"`
}

// Conflict is a detected disagreement between two results for the same
// logical field.
type Conflict struct {
	Field        string        `json:"field"`
	Participants []Participant `json:"participants"`
	Severity     Severity      `json:"severity"`
	Reason       string        `json:"reason"`
}

// DefaultTolerance is the numeric tolerance applied when none is configured.
const DefaultTolerance = 1e-9

// Analyzer performs pairwise comparison across worker results.
type Analyzer struct {
	tolerance float64
}

// AnalyzerOption customizes an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithTolerance sets the absolute numeric tolerance below which two numbers
// are considered to agree.
func WithTolerance(tol float64) AnalyzerOption {
	return func(a *Analyzer) { a.tolerance = tol }
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{tolerance: DefaultTolerance}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Compare classifies the disagreement between two values. It returns false
// when the values agree. Compare is symmetric: swapping x and y yields the
// same severity.
func (a *Analyzer) Compare(x, y core.Value) (Severity, bool) {
	if x.Kind() != y.Kind() {
		return SeverityHigh, true
	}
	switch x.Kind() {
	case core.KindNumber:
		xn, _ := x.Number()
		yn, _ := y.Number()
		if math.Abs(xn-yn) > a.tolerance {
			return SeverityMedium, true
		}
		return 0, false
	case core.KindString:
		xs, _ := x.Str()
		ys, _ := y.Str()
		if xs == ys || strings.EqualFold(xs, ys) {
			return 0, false
		}
		return SeverityLow, true
	default:
		if x.Equal(y) {
			return 0, false
		}
		// Structured or boolean values either match or they do not; without a
		// finer metric the disagreement ranks medium.
		return SeverityMedium, true
	}
}

// Analyze compares every pair of successful results for field and returns
// the detected conflicts. Failed results never participate.
func (a *Analyzer) Analyze(field string, results []core.AgentResult) []Conflict {
	var conflicts []Conflict
	for i := 0; i < len(results); i++ {
		if !results[i].Succeeded {
			continue
		}
		for j := i + 1; j < len(results); j++ {
			if !results[j].Succeeded {
				continue
			}
			sev, conflicting := a.Compare(results[i].Value, results[j].Value)
			if !conflicting {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Field: field,
				Participants: []Participant{
					participantOf(results[i]),
					participantOf(results[j]),
				},
				Severity: sev,
				Reason: fmt.Sprintf("%s: %s (%s) vs %s (%s)",
					sev, results[i].Value.String(), results[i].AgentID,
					results[j].Value.String(), results[j].AgentID),
			})
		}
	}
	return conflicts
}

func participantOf(r core.AgentResult) Participant {
	return Participant{AgentID: r.AgentID, Value: r.Value, Confidence: r.Confidence, Priority: r.Priority}
}

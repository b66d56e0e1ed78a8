package routing

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentroute/core"
)

// Condition is a pure, stateless predicate over an execution context.
//
// Implementations must be total: any input, including the zero
// ExecutionContext, evaluates to a boolean and never panics. An unevaluable
// input (missing field, nil member) evaluates to false.
type Condition interface {
	// Evaluate reports whether the context satisfies the condition.
	Evaluate(execCtx core.ExecutionContext) bool
	// Describe returns a short human-readable form used in decision traces.
	Describe() string
}

// TokenThreshold matches contexts whose token-count estimate exceeds Limit.
type TokenThreshold struct {
	Limit int
}

// Evaluate implements Condition.
func (c TokenThreshold) Evaluate(execCtx core.ExecutionContext) bool {
	return execCtx.TokenCount > c.Limit
}

// Describe implements Condition.
func (c TokenThreshold) Describe() string { return fmt.Sprintf("tokens > %d", c.Limit) }

// ConfidenceThreshold matches contexts whose confidence score is at least Min.
type ConfidenceThreshold struct {
	Min float64
}

// Evaluate implements Condition.
func (c ConfidenceThreshold) Evaluate(execCtx core.ExecutionContext) bool {
	return execCtx.Confidence >= c.Min
}

// Describe implements Condition.
func (c ConfidenceThreshold) Describe() string { return fmt.Sprintf("confidence >= %g", c.Min) }

// CapabilitySubset matches contexts whose available capability set contains
// every required capability. An empty requirement always matches.
type CapabilitySubset struct {
	Required []string
}

// Evaluate implements Condition.
func (c CapabilitySubset) Evaluate(execCtx core.ExecutionContext) bool {
	for _, req := range c.Required {
		if !execCtx.HasCapability(req) {
			return false
		}
	}
	return true
}

// Describe implements Condition.
func (c CapabilitySubset) Describe() string {
	return "capabilities contains {" + strings.Join(c.Required, ", ") + "}"
}

// ModelCapability matches contexts that advertise a single named model
// capability (vision, tools, long-context, ...).
type ModelCapability struct {
	Name string
}

// Evaluate implements Condition.
func (c ModelCapability) Evaluate(execCtx core.ExecutionContext) bool {
	if c.Name == "" {
		return false
	}
	return execCtx.HasCapability(c.Name)
}

// Describe implements Condition.
func (c ModelCapability) Describe() string { return "model capability " + c.Name }

// CostCeiling matches contexts whose declared cost budget does not exceed
// Limit. It routes tightly budgeted requests toward cheap paths; a context
// without a declared budget (zero) matches.
type CostCeiling struct {
	Limit float64
}

// Evaluate implements Condition.
func (c CostCeiling) Evaluate(execCtx core.ExecutionContext) bool {
	return execCtx.CostBudget <= c.Limit
}

// Describe implements Condition.
func (c CostCeiling) Describe() string { return fmt.Sprintf("cost budget <= %g", c.Limit) }

// ContextType matches contexts whose declared type tag equals Type.
type ContextType struct {
	Type string
}

// Evaluate implements Condition.
func (c ContextType) Evaluate(execCtx core.ExecutionContext) bool {
	if c.Type == "" {
		return false
	}
	return execCtx.ContextType == c.Type
}

// Describe implements Condition.
func (c ContextType) Describe() string { return "context type == " + c.Type }

// And matches when every member condition matches. Nil members are skipped;
// an empty member list matches.
type And struct {
	Members []Condition
}

// Evaluate implements Condition.
func (c And) Evaluate(execCtx core.ExecutionContext) bool {
	for _, m := range c.Members {
		if m == nil {
			continue
		}
		if !m.Evaluate(execCtx) {
			return false
		}
	}
	return true
}

// Describe implements Condition.
func (c And) Describe() string { return describeCompound("AND", c.Members) }

// Or matches when at least one member condition matches. Nil members are
// skipped; an empty member list does not match.
type Or struct {
	Members []Condition
}

// Evaluate implements Condition.
func (c Or) Evaluate(execCtx core.ExecutionContext) bool {
	for _, m := range c.Members {
		if m == nil {
			continue
		}
		if m.Evaluate(execCtx) {
			return true
		}
	}
	return false
}

// Describe implements Condition.
func (c Or) Describe() string { return describeCompound("OR", c.Members) }

// Not inverts its member condition. A nil member evaluates to false, keeping
// the predicate total.
type Not struct {
	Member Condition
}

// Evaluate implements Condition.
func (c Not) Evaluate(execCtx core.ExecutionContext) bool {
	if c.Member == nil {
		return false
	}
	return !c.Member.Evaluate(execCtx)
}

// Describe implements Condition.
func (c Not) Describe() string {
	if c.Member == nil {
		return "NOT(<nil>)"
	}
	return "NOT(" + c.Member.Describe() + ")"
}

func describeCompound(op string, members []Condition) string {
	parts := make([]string, 0, len(members))
	for _, m := range members {
		if m == nil {
			continue
		}
		parts = append(parts, m.Describe())
	}
	return op + "(" + strings.Join(parts, "; ") + ")"
}

// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing core model objects (worker results, agent
// definitions, execution contexts). These helpers are intentionally minimal
// and are not intended for production usage.
package testutil

import (
	"time"

	"github.com/hupe1980/agentroute/core"
)

// Result returns a successful worker result with the given value, confidence
// and priority.
func Result(agentID string, v core.Value, confidence float64, priority int) core.AgentResult {
	return core.AgentResult{
		AgentID:    agentID,
		Value:      v,
		Confidence: confidence,
		Priority:   priority,
		Succeeded:  true,
	}
}

// FailedResult returns an unsuccessful worker result carrying err.
func FailedResult(agentID string, err error) core.AgentResult {
	return core.AgentResult{AgentID: agentID, Value: core.Null(), Succeeded: false, Err: err}
}

// ResultBuilder helps construct results with fluent chaining for tests.
// Example:
//
//	r := NewResult("a1").String("yes").Confidence(0.8).Build()
type ResultBuilder struct {
	r core.AgentResult
}

// NewResult creates a builder for a successful result from the given agent.
func NewResult(agentID string) *ResultBuilder {
	return &ResultBuilder{r: core.AgentResult{AgentID: agentID, Value: core.Null(), Succeeded: true}}
}

// Value sets the result value (chainable).
func (b *ResultBuilder) Value(v core.Value) *ResultBuilder {
	b.r.Value = v
	return b
}

// String sets a string result value (chainable).
func (b *ResultBuilder) String(s string) *ResultBuilder {
	b.r.Value = core.StringValue(s)
	return b
}

// Confidence sets the confidence score (chainable).
func (b *ResultBuilder) Confidence(c float64) *ResultBuilder {
	b.r.Confidence = c
	return b
}

// Priority sets the agent priority (chainable).
func (b *ResultBuilder) Priority(p int) *ResultBuilder {
	b.r.Priority = p
	return b
}

// Cost sets the cost and token usage (chainable).
func (b *ResultBuilder) Cost(cost float64, tokens int) *ResultBuilder {
	b.r.Cost = cost
	b.r.Tokens = tokens
	return b
}

// Duration sets the invocation duration (chainable).
func (b *ResultBuilder) Duration(d time.Duration) *ResultBuilder {
	b.r.Duration = d
	return b
}

// Failed marks the result unsuccessful with err (chainable).
func (b *ResultBuilder) Failed(err error) *ResultBuilder {
	b.r.Succeeded = false
	b.r.Err = err
	return b
}

// Build returns the assembled result.
func (b *ResultBuilder) Build() core.AgentResult { return b.r }

// Agent returns an agent definition with the given id and priority.
func Agent(id string, priority int, capabilities ...string) core.AgentDefinition {
	return core.AgentDefinition{ID: id, Priority: priority, Capabilities: capabilities}
}

// Context returns an execution context with the given token count; the
// remaining fields stay zero.
func Context(tokens int) core.ExecutionContext {
	return core.ExecutionContext{TokenCount: tokens}
}

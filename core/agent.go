package core

import (
	"time"
)

// AgentDefinition is the registration record for a worker agent taking part
// in coordination rounds. Priority breaks ties during conflict resolution;
// Timeout and MaxRetries bound a single dispatch.
type AgentDefinition struct {
	ID           string            `json:"id"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Priority     int               `json:"priority"`
	Timeout      time.Duration     `json:"timeout,omitempty"`
	MaxRetries   int               `json:"max_retries,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HasCapability reports whether the agent declares the named capability.
func (d AgentDefinition) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}

// AgentResult is one worker's output for a coordination round. Priority is
// inherited from the AgentDefinition at dispatch time so the conflict
// resolver does not need the registry.
type AgentResult struct {
	AgentID    string        `json:"agent_id"`
	Value      Value         `json:"-"`
	Confidence float64       `json:"confidence"`
	Priority   int           `json:"priority"`
	Succeeded  bool          `json:"succeeded"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
	Cost       float64       `json:"cost"`
	Tokens     int           `json:"tokens"`
}

// Task is the unit of work handed to a worker backend. Input is opaque to the
// engine; Metadata carries routing hints that workers may inspect.
type Task struct {
	ID       string            `json:"id"`
	Input    string            `json:"input"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExecutionContext is the immutable snapshot routing conditions evaluate
// against. A zero ExecutionContext is valid: every condition treats missing
// fields as non-matching rather than erroring.
type ExecutionContext struct {
	TokenCount   int            `json:"token_count"`
	Confidence   float64        `json:"confidence"`
	Capabilities []string       `json:"capabilities,omitempty"`
	CostBudget   float64        `json:"cost_budget"`
	TimeBudget   time.Duration  `json:"time_budget,omitempty"`
	Reliability  float64        `json:"reliability,omitempty"`
	ContextType  string         `json:"context_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// HasCapability reports whether the context's available capability set
// contains the named capability.
func (c ExecutionContext) HasCapability(name string) bool {
	for _, cap := range c.Capabilities {
		if cap == name {
			return true
		}
	}
	return false
}

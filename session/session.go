package session

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/agentroute/core"
)

// Status is the lifecycle state of a coordination session. Transitions only
// move forward: once a session reaches a terminal status it never changes
// again.
type Status int

const (
	// StatusCreated is the initial state after CreateSession.
	StatusCreated Status = iota
	// StatusStarted means routing has begun but no agent is executing yet.
	StatusStarted
	// StatusExecuting means at least one agent dispatch is in flight.
	StatusExecuting
	// StatusPaused suspends execution; Resume returns to StatusExecuting.
	StatusPaused
	// StatusCompleted is terminal: the round produced an aggregated result.
	StatusCompleted
	// StatusFailed is terminal: the round ended with an error.
	StatusFailed
	// StatusCancelled is terminal: the caller aborted the round.
	StatusCancelled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusStarted:
		return "started"
	case StatusExecuting:
		return "executing"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ParseStatus maps a status name back to its enum value.
func ParseStatus(name string) Status {
	switch name {
	case "started":
		return StatusStarted
	case "executing":
		return StatusExecuting
	case "paused":
		return StatusPaused
	case "completed":
		return StatusCompleted
	case "failed":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	default:
		return StatusCreated
	}
}

// MarshalJSON encodes the status by name so stored sessions stay readable.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*s = ParseStatus(name)
	return nil
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// transitions enumerates the legal state machine edges.
var transitions = map[Status][]Status{
	StatusCreated:   {StatusStarted, StatusCancelled, StatusFailed},
	StatusStarted:   {StatusExecuting, StatusCompleted, StatusFailed, StatusCancelled},
	StatusExecuting: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:    {StatusExecuting, StatusCancelled, StatusFailed},
}

// CanTransition reports whether the edge from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AgentSession is the durable record of one coordination round: lifecycle
// status, the results recorded so far and the cost/token rollup. All fields
// are owned by the Manager; callers only ever see clones.
type AgentSession struct {
	ID          string             `json:"id"`
	TaskID      string             `json:"task_id,omitempty"`
	Status      Status             `json:"status"`
	PathID      string             `json:"path_id,omitempty"`
	Strategy    string             `json:"strategy,omitempty"`
	Results     []core.AgentResult `json:"-"`
	Error       string             `json:"error,omitempty"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   time.Time          `json:"started_at,omitzero"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt time.Time          `json:"completed_at,omitzero"`
}

// Clone returns a deep copy safe to hand outside the manager.
func (s *AgentSession) Clone() *AgentSession {
	cp := *s
	cp.Results = make([]core.AgentResult, len(s.Results))
	copy(cp.Results, s.Results)
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Statistics computes the cost, token and per-agent rollup from the recorded
// results. It is valid at any point in the lifecycle.
func (s *AgentSession) Statistics() core.SessionStatistics {
	stats := core.SessionStatistics{
		SessionID: s.ID,
		Status:    s.Status.String(),
		PerAgent:  make(map[string]core.AgentStats, len(s.Results)),
	}
	for _, r := range s.Results {
		agent := stats.PerAgent[r.AgentID]
		agent.Attempts++
		if r.Succeeded && r.Err == nil {
			agent.Successes++
		} else {
			agent.Failures++
		}
		agent.Cost += r.Cost
		agent.Tokens += r.Tokens
		agent.Duration += r.Duration
		stats.PerAgent[r.AgentID] = agent
		stats.TotalCost += r.Cost
		stats.TotalTokens += r.Tokens
	}
	switch {
	case !s.CompletedAt.IsZero() && !s.StartedAt.IsZero():
		stats.Duration = s.CompletedAt.Sub(s.StartedAt)
	case !s.StartedAt.IsZero():
		stats.Duration = s.UpdatedAt.Sub(s.StartedAt)
	}
	return stats
}

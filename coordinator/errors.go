package coordinator

import "fmt"

// DispatchError reports that a worker invocation failed after exhausting its
// retry budget. It carries the agent id so callers can tell which worker in a
// round misbehaved.
type DispatchError struct {
	AgentID  string
	Attempts int
	Err      error
}

// Error implements error.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to agent %s failed after %d attempt(s): %v", e.AgentID, e.Attempts, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *DispatchError) Unwrap() error { return e.Err }

// QuorumError reports that a consensus round ended without enough agreeing
// agents.
type QuorumError struct {
	Required float64
	Achieved float64
	Workers  int
}

// Error implements error.
func (e *QuorumError) Error() string {
	return fmt.Sprintf("consensus quorum not reached: required %.2f, achieved %.2f across %d worker(s)", e.Required, e.Achieved, e.Workers)
}

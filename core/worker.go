package core

import "context"

// Worker is the backend that executes a single agent invocation. It is the
// boundary to model providers, local tools or remote services.
//
// Implementations must respect ctx cancellation and deadlines: the
// coordinator derives a per-call deadline from the AgentDefinition timeout
// and treats calls that outlive deadline plus a grace period as hung.
// Returning a non-nil error marks the attempt failed; returning an
// AgentResult with Succeeded=false has the same effect but preserves partial
// cost/token accounting.
type Worker interface {
	Invoke(ctx context.Context, agent AgentDefinition, task Task) (AgentResult, error)
}

// WorkerFunc adapts a plain function to the Worker interface.
type WorkerFunc func(ctx context.Context, agent AgentDefinition, task Task) (AgentResult, error)

// Invoke implements Worker.
func (f WorkerFunc) Invoke(ctx context.Context, agent AgentDefinition, task Task) (AgentResult, error) {
	return f(ctx, agent, task)
}

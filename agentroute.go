// Package agentroute provides a high-level façade over the routing tree,
// strategy selection, dispatch, conflict resolution and session tracking that
// make up the coordination engine. Most applications interact with this
// package by:
//  1. Creating an AgentRoute via New() with a routing tree and a worker
//     backend (optionally overriding the default in-memory services)
//  2. Registering one or more worker agents
//  3. Calling Route for a pure routing decision or Coordinate for a full
//     multi-agent round
//
// The façade delegates orchestration to coordinator.Orchestrator while
// keeping setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a durable
// session store and a structured logger.
package agentroute

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentroute/aggregate"
	"github.com/hupe1980/agentroute/bus"
	"github.com/hupe1980/agentroute/conflict"
	"github.com/hupe1980/agentroute/coordinator"
	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
	"github.com/hupe1980/agentroute/routing"
	"github.com/hupe1980/agentroute/session"
)

// Options configures the AgentRoute instance.
type Options struct {
	// MaxConcurrency limits the number of worker invocations that can execute
	// simultaneously. This prevents resource exhaustion and provides
	// backpressure.
	MaxConcurrency int

	// AggregationStrategy combines each round's results.
	AggregationStrategy aggregate.Strategy

	// ConflictResolver settles disagreement before aggregation. Nil leaves
	// conflicts to the aggregation strategy.
	ConflictResolver *conflict.Resolver

	// Quorum is the agreement fraction consensus rounds must reach.
	Quorum float64

	// SessionStore persists round lifecycle snapshots (defaults to an
	// in-memory implementation if not provided).
	SessionStore session.Store

	// Sink receives routing and session telemetry.
	Sink core.MetricsSink

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// AgentRoute is the high-level façade aggregating the orchestrator and its
// services plus a registry of worker agents.
type AgentRoute struct {
	orchestrator *coordinator.Orchestrator

	mu     sync.RWMutex
	agents map[string]core.AgentDefinition
	order  []string
}

// New creates an AgentRoute over a validated routing tree and a worker
// backend. Any unset service is initialized with an in-memory implementation.
func New(tree *routing.Tree, worker core.Worker, optFns ...func(o *Options)) (*AgentRoute, error) {
	if err := tree.Validate(); err != nil {
		return nil, fmt.Errorf("routing tree: %w", err)
	}

	opts := Options{
		MaxConcurrency:      8,
		AggregationStrategy: aggregate.FirstSuccess,
		Quorum:              0.5,
		SessionStore:        session.NewInMemoryStore(),
		Sink:                core.NoopSink{},
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	orch := coordinator.New(tree, worker, func(o *coordinator.Options) {
		o.MaxConcurrency = opts.MaxConcurrency
		o.AggregationStrategy = opts.AggregationStrategy
		o.Resolver = opts.ConflictResolver
		o.Quorum = opts.Quorum
		o.Sessions = session.NewManager(
			session.WithStore(opts.SessionStore),
			session.WithManagerLogger(opts.Logger),
		)
		o.Sink = opts.Sink
		o.Logger = opts.Logger
	})

	return &AgentRoute{
		orchestrator: orch,
		agents:       make(map[string]core.AgentDefinition),
	}, nil
}

// RegisterAgent adds a worker agent to the roster used by Coordinate.
// Registering an existing id replaces the definition but keeps its position.
func (a *AgentRoute) RegisterAgent(def core.AgentDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("agent id is empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.agents[def.ID]; !exists {
		a.order = append(a.order, def.ID)
	}
	a.agents[def.ID] = def
	return nil
}

// Agents returns the registered agents in registration order.
func (a *AgentRoute) Agents() []core.AgentDefinition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	defs := make([]core.AgentDefinition, 0, len(a.order))
	for _, id := range a.order {
		defs = append(defs, a.agents[id])
	}
	return defs
}

// Route evaluates the decision tree for the given task and context without
// dispatching any worker.
func (a *AgentRoute) Route(ctx context.Context, task core.Task, execCtx core.ExecutionContext) (routing.Decision, error) {
	return a.orchestrator.Route(ctx, task, execCtx)
}

// Coordinate runs a full coordination round across the registered agents.
func (a *AgentRoute) Coordinate(ctx context.Context, task core.Task, execCtx core.ExecutionContext) (aggregate.Result, *session.AgentSession, error) {
	return a.orchestrator.Coordinate(ctx, task, execCtx, a.Agents())
}

// Sessions exposes the session manager for callers that inspect rounds.
func (a *AgentRoute) Sessions() *session.Manager { return a.orchestrator.Sessions() }

// Bus exposes the message bus so external agents can subscribe to round
// status and result messages.
func (a *AgentRoute) Bus() *bus.Bus { return a.orchestrator.Bus() }

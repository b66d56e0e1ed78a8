// Package coordinator wires the routing tree, strategy selector, message
// bus, conflict resolution, aggregation and session tracking into a single
// coordination engine. The Orchestrator is the entry point: Route answers
// "which path", Coordinate runs a full round against a set of worker agents.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentroute/aggregate"
	"github.com/hupe1980/agentroute/bus"
	"github.com/hupe1980/agentroute/conflict"
	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
	"github.com/hupe1980/agentroute/routing"
	"github.com/hupe1980/agentroute/session"
)

// orchestratorID is the bus identity coordination messages are sent from.
const orchestratorID = "orchestrator"

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// MaxConcurrency bounds the number of worker invocations in flight.
	MaxConcurrency int
	// DefaultTimeout bounds a single attempt when the agent declares none.
	DefaultTimeout time.Duration
	// RetryBackoff is the base delay between attempts; attempt n waits n*backoff.
	RetryBackoff time.Duration
	// GracePeriod is how long cancellation waits for in-flight workers before
	// marking them failed.
	GracePeriod time.Duration
	// Quorum is the agreement fraction a consensus round must reach.
	Quorum float64
	// CascadeConfidence is the confidence bar a cascade stops at.
	CascadeConfidence float64
	// AggregationStrategy combines the round's results.
	AggregationStrategy aggregate.Strategy
	// Sessions tracks round lifecycle; defaults to an in-memory manager.
	Sessions *session.Manager
	// Bus carries status/result messages between round participants.
	Bus *bus.Bus
	// Selector picks the execution strategy; defaults to the built-in policy.
	Selector *routing.Selector
	// Aggregator combines results; defaults to one with a priority resolver.
	Aggregator *aggregate.Aggregator
	// Analyzer detects conflicts between worker results.
	Analyzer *conflict.Analyzer
	// Resolver settles detected conflicts before aggregation. Nil means
	// conflicts pass through to the aggregation strategy unresolved.
	Resolver *conflict.Resolver
	// Sink receives routing and session telemetry.
	Sink core.MetricsSink
	// Logger receives structured engine logs.
	Logger logging.Logger
}

// Orchestrator executes coordination rounds. Public methods are safe for
// concurrent use once the routing tree is frozen.
type Orchestrator struct {
	tree   *routing.Tree
	worker core.Worker

	defaultTimeout    time.Duration
	retryBackoff      time.Duration
	gracePeriod       time.Duration
	quorum            float64
	cascadeConfidence float64
	aggStrategy       aggregate.Strategy

	sessions   *session.Manager
	bus        *bus.Bus
	selector   *routing.Selector
	aggregator *aggregate.Aggregator
	analyzer   *conflict.Analyzer
	resolver   *conflict.Resolver
	sink       core.MetricsSink
	logger     logging.Logger
	rich       *logging.AgentRouteLogger

	sem      chan struct{}
	rrCursor uint64
}

// New constructs an Orchestrator over a routing tree and a worker backend.
func New(tree *routing.Tree, worker core.Worker, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxConcurrency:      8,
		DefaultTimeout:      30 * time.Second,
		RetryBackoff:        100 * time.Millisecond,
		GracePeriod:         2 * time.Second,
		Quorum:              0.5,
		CascadeConfidence:   0.8,
		AggregationStrategy: aggregate.FirstSuccess,
		Sessions:            session.NewManager(),
		Bus:                 bus.New(),
		Selector:            routing.NewSelector(),
		Analyzer:            conflict.NewAnalyzer(),
		Sink:                core.NoopSink{},
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	// A structured engine logger unlocks the richer domain log surface.
	rich, _ := opts.Logger.(*logging.AgentRouteLogger)
	if rich != nil {
		rich = rich.WithComponent("coordinator")
		opts.Logger = rich
	}
	if opts.Aggregator == nil {
		opts.Aggregator = aggregate.New(
			aggregate.WithResolver(conflict.NewResolver(conflict.PriorityBased)),
			aggregate.WithLogger(opts.Logger),
		)
	}

	return &Orchestrator{
		tree:              tree,
		worker:            worker,
		defaultTimeout:    opts.DefaultTimeout,
		retryBackoff:      opts.RetryBackoff,
		gracePeriod:       opts.GracePeriod,
		quorum:            opts.Quorum,
		cascadeConfidence: opts.CascadeConfidence,
		aggStrategy:       opts.AggregationStrategy,
		sessions:          opts.Sessions,
		bus:               opts.Bus,
		selector:          opts.Selector,
		aggregator:        opts.Aggregator,
		analyzer:          opts.Analyzer,
		resolver:          opts.Resolver,
		sink:              opts.Sink,
		logger:            opts.Logger,
		rich:              rich,
		sem:               make(chan struct{}, opts.MaxConcurrency),
	}
}

// Sessions exposes the session manager for callers that inspect rounds.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// Bus exposes the message bus so external agents can subscribe.
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Route evaluates the routing tree against the execution context and records
// decision telemetry. A NoRoute decision is returned as a RoutingError.
func (o *Orchestrator) Route(ctx context.Context, task core.Task, execCtx core.ExecutionContext) (routing.Decision, error) {
	if err := ctx.Err(); err != nil {
		return routing.Decision{}, err
	}

	start := time.Now()
	decision := o.tree.Evaluate(execCtx)
	latency := time.Since(start)

	o.sink.RecordDecision(core.RoutingMetrics{
		PathID:              decision.PathID,
		DecisionLatency:     latency,
		ConditionsEvaluated: decision.ConditionsEvaluated,
		PathsEvaluated:      decision.PathsEvaluated,
		EstimatedTokens:     execCtx.TokenCount,
		EstimatedCost:       execCtx.CostBudget,
	})
	if o.rich != nil {
		o.rich.LogRoutingDecision(decision.PathID, decision.NoRoute, decision.ConditionsEvaluated, latency)
	} else {
		o.logger.Debug("routing decision",
			"task_id", task.ID, "path_id", decision.PathID, "target", decision.Target,
			"no_route", decision.NoRoute, "latency", latency.String())
	}

	if decision.NoRoute {
		return decision, routing.NewRoutingError(decision)
	}
	return decision, nil
}

// Coordinate runs a full coordination round: route, select a strategy,
// dispatch the agents, resolve conflicts and aggregate. The returned session
// snapshot reflects the final lifecycle state even when the round fails. A
// cancelled round never produces an aggregation result, regardless of how
// many workers had already succeeded.
func (o *Orchestrator) Coordinate(ctx context.Context, task core.Task, execCtx core.ExecutionContext, agents []core.AgentDefinition) (aggregate.Result, *session.AgentSession, error) {
	if o.rich != nil {
		defer o.rich.StartTimer("coordinate")()
	}

	sess, err := o.sessions.CreateSession(ctx, "", task.ID)
	if err != nil {
		return aggregate.Result{}, nil, err
	}
	if err := o.sessions.Start(ctx, sess.ID); err != nil {
		return aggregate.Result{}, sess, err
	}

	decision, err := o.Route(ctx, task, execCtx)
	if err != nil {
		return aggregate.Result{}, o.fail(ctx, sess.ID, decision.PathID, "", err), err
	}
	if len(agents) == 0 {
		err := fmt.Errorf("no agents registered for round")
		return aggregate.Result{}, o.fail(ctx, sess.ID, decision.PathID, "", err), err
	}

	strategy := o.selector.Select(decision, execCtx)
	if err := o.sessions.MarkExecuting(ctx, sess.ID, decision.PathID, strategy.String()); err != nil {
		return aggregate.Result{}, sess, err
	}
	o.publishStatus(sess.ID, fmt.Sprintf("round started: path=%s strategy=%s agents=%d", decision.PathID, strategy, len(agents)))

	results := o.dispatch(ctx, sess.ID, task, strategy, decision, agents)
	for _, r := range results {
		if recErr := o.sessions.RecordAgentResult(ctx, sess.ID, r); recErr != nil {
			o.logger.Warn("record result failed", "session_id", sess.ID, "agent_id", r.AgentID, "error", recErr)
		}
	}

	// Cancellation overrides everything, including in-flight successes.
	if ctx.Err() != nil {
		if cancelErr := o.sessions.Cancel(context.WithoutCancel(ctx), sess.ID); cancelErr != nil {
			o.logger.Warn("cancel session failed", "session_id", sess.ID, "error", cancelErr)
		}
		o.publishStatus(sess.ID, "round cancelled")
		snap, _ := o.sessions.Get(context.WithoutCancel(ctx), sess.ID)
		o.finishTelemetry(context.WithoutCancel(ctx), sess.ID, decision.PathID, strategy.String(), false)
		return aggregate.Result{}, snap, ctx.Err()
	}

	cleaned, err := o.resolveConflicts(task, results)
	if err != nil {
		return aggregate.Result{}, o.fail(ctx, sess.ID, decision.PathID, strategy.String(), err), err
	}

	aggStart := time.Now()
	agg, err := o.aggregator.Aggregate(cleaned, o.aggStrategy)
	if err != nil {
		if o.rich != nil {
			o.rich.WithSession(sess.ID, task.ID).LogAggregation(o.aggStrategy.String(), len(cleaned), 0, time.Since(aggStart), err)
		}
		return aggregate.Result{}, o.fail(ctx, sess.ID, decision.PathID, strategy.String(), err), err
	}
	// Agreement is reported against the round's successful results, not the
	// post-resolution survivor set.
	agg.AgreementScore = agreementAcross(results, agg.Primary)
	if o.rich != nil {
		o.rich.WithSession(sess.ID, task.ID).LogAggregation(o.aggStrategy.String(), len(cleaned), agg.AgreementScore, time.Since(aggStart), nil)
	}

	if strategy == routing.StrategyConsensus && agg.AgreementScore < o.quorum {
		qErr := &QuorumError{
			Required: o.quorum,
			Achieved: agg.AgreementScore,
			Workers:  len(agents),
		}
		return aggregate.Result{}, o.fail(ctx, sess.ID, decision.PathID, strategy.String(), qErr), qErr
	}

	if err := o.sessions.Complete(ctx, sess.ID); err != nil {
		return aggregate.Result{}, sess, err
	}
	o.publishStatus(sess.ID, "round completed")
	snap, _ := o.sessions.Get(ctx, sess.ID)
	o.finishTelemetry(ctx, sess.ID, decision.PathID, strategy.String(), true)
	o.logger.Info("round completed",
		"session_id", sess.ID, "strategy", strategy.String(),
		"agreement", agg.AgreementScore, "results", len(results))
	return agg, snap, nil
}

// resolveConflicts analyzes the round's results and, when a resolver is
// configured, collapses disagreement to the winner plus everything that
// agrees with it. Without a resolver the results pass through untouched. An
// unresolvable conflict set is returned as an error; the round must not
// proceed on results the resolver could not settle.
func (o *Orchestrator) resolveConflicts(task core.Task, results []core.AgentResult) ([]core.AgentResult, error) {
	if o.resolver == nil {
		return results, nil
	}
	conflicts := o.analyzer.Analyze(task.ID, results)
	if len(conflicts) == 0 {
		return results, nil
	}
	resolution, err := o.resolver.Resolve(conflicts, results)
	if err != nil {
		return nil, fmt.Errorf("resolve conflicts: %w", err)
	}

	var cleaned []core.AgentResult
	for _, r := range results {
		if r.Succeeded && r.Err == nil && r.Value.Equal(resolution.Winner.Value) {
			cleaned = append(cleaned, r)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []core.AgentResult{{
			AgentID:    resolution.Winner.AgentID,
			Value:      resolution.Winner.Value,
			Confidence: resolution.Winner.Confidence,
			Priority:   resolution.Winner.Priority,
			Succeeded:  true,
		}}
	}
	o.logger.Debug("conflicts resolved",
		"task_id", task.ID, "conflicts", len(conflicts),
		"winner", resolution.Winner.AgentID, "losers", len(resolution.Losers))
	return cleaned, nil
}

// agreementAcross counts how many successful results equal the primary,
// relative to every successful result in the round. Failed workers are
// excluded from both sides of the ratio.
func agreementAcross(results []core.AgentResult, primary core.Value) float64 {
	agreeing, succeeded := 0, 0
	for _, r := range results {
		if !r.Succeeded || r.Err != nil {
			continue
		}
		succeeded++
		if r.Value.Equal(primary) {
			agreeing++
		}
	}
	if succeeded == 0 {
		return 0
	}
	return float64(agreeing) / float64(succeeded)
}

func (o *Orchestrator) fail(ctx context.Context, sessionID, pathID, strategy string, cause error) *session.AgentSession {
	ctx = context.WithoutCancel(ctx)
	if err := o.sessions.Fail(ctx, sessionID, cause); err != nil {
		o.logger.Warn("fail session", "session_id", sessionID, "error", err)
	}
	o.publishStatus(sessionID, "round failed: "+cause.Error())
	o.finishTelemetry(ctx, sessionID, pathID, strategy, false)
	snap, _ := o.sessions.Get(ctx, sessionID)
	return snap
}

func (o *Orchestrator) finishTelemetry(ctx context.Context, sessionID, pathID, strategy string, success bool) {
	if pathID != "" {
		o.sink.RecordOutcome(core.RoutingOutcome{PathID: pathID, Strategy: strategy, Success: success})
	}
	if stats, err := o.sessions.Statistics(ctx, sessionID); err == nil {
		o.sink.RecordSessionStats(stats)
	}
}

func (o *Orchestrator) publishStatus(sessionID, text string) {
	msg := bus.NewMessage(orchestratorID, "", bus.TypeStatus, text)
	msg.Broadcast = true
	msg.CorrelationID = sessionID
	o.bus.Publish(msg)
}

func (o *Orchestrator) publishResult(sessionID string, r core.AgentResult) {
	typ := bus.TypeResult
	priority := bus.PriorityNormal
	var payload any = r.Value.Any()
	if !r.Succeeded || r.Err != nil {
		typ = bus.TypeError
		priority = bus.PriorityHigh
		if r.Err != nil {
			payload = r.Err.Error()
		}
	}
	msg := bus.NewMessage(r.AgentID, orchestratorID, typ, payload)
	msg.Priority = priority
	msg.CorrelationID = sessionID
	o.bus.Publish(msg)
}

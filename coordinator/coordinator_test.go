package coordinator

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentroute/aggregate"
	"github.com/hupe1980/agentroute/conflict"
	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
	"github.com/hupe1980/agentroute/routing"
	"github.com/hupe1980/agentroute/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree(t *testing.T) *routing.Tree {
	t.Helper()
	tree := routing.NewTree()
	require.NoError(t, tree.AddPath(routing.Path{ID: "path_fast", Target: "fast"}))
	require.NoError(t, tree.AddPath(routing.Path{ID: "path_deep", Target: "deep"}))
	require.NoError(t, tree.AddNode(&routing.Node{
		ID:        "root",
		Condition: routing.TokenThreshold{Limit: 1000},
		True:      routing.Branch{PathID: "path_deep"},
		False:     routing.Branch{PathID: "path_fast"},
	}))
	require.NoError(t, tree.Validate())
	return tree
}

// answerWorker returns a fixed string answer per agent id.
func answerWorker(answers map[string]string, confidence float64) core.WorkerFunc {
	return func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		answer, ok := answers[agent.ID]
		if !ok {
			return core.AgentResult{}, errors.New("unknown agent")
		}
		return core.AgentResult{
			AgentID:    agent.ID,
			Value:      core.StringValue(answer),
			Confidence: confidence,
			Succeeded:  true,
		}, nil
	}
}

func agents(ids ...string) []core.AgentDefinition {
	defs := make([]core.AgentDefinition, 0, len(ids))
	for _, id := range ids {
		defs = append(defs, core.AgentDefinition{ID: id})
	}
	return defs
}

func forceStrategy(s routing.ExecutionStrategy) func(o *Options) {
	return func(o *Options) {
		o.Selector = routing.NewSelector(routing.WithRules(routing.Rule{
			Name:      "always",
			Predicate: func(routing.Decision, core.ExecutionContext) bool { return true },
			Strategy:  s,
		}))
	}
}

func TestOrchestrator_Route(t *testing.T) {
	o := New(testTree(t), answerWorker(nil, 0))

	d, err := o.Route(context.Background(), core.Task{ID: "t1"}, core.ExecutionContext{TokenCount: 500})
	require.NoError(t, err)
	assert.Equal(t, "path_fast", d.PathID)

	d, err = o.Route(context.Background(), core.Task{ID: "t2"}, core.ExecutionContext{TokenCount: 5000})
	require.NoError(t, err)
	assert.Equal(t, "path_deep", d.PathID)
}

func TestOrchestrator_RouteNoRoute(t *testing.T) {
	tree := routing.NewTree()
	require.NoError(t, tree.AddPath(routing.Path{ID: "p", Target: "a"}))
	require.NoError(t, tree.AddNode(&routing.Node{
		ID:        "root",
		Condition: routing.TokenThreshold{Limit: 100},
		True:      routing.Branch{PathID: "p"},
	}))

	o := New(tree, answerWorker(nil, 0))
	_, err := o.Route(context.Background(), core.Task{}, core.ExecutionContext{TokenCount: 1})
	var routeErr *routing.RoutingError
	require.True(t, errors.As(err, &routeErr))
}

func TestCoordinate_ParallelMajority(t *testing.T) {
	worker := answerWorker(map[string]string{"a1": "yes", "a2": "yes", "a3": "no"}, 0.8)
	o := New(testTree(t), worker, forceStrategy(routing.StrategyParallel), func(o *Options) {
		o.AggregationStrategy = aggregate.MajorityVote
	})

	res, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t1", Input: "vote"}, core.ExecutionContext{TokenCount: 500}, agents("a1", "a2", "a3"))
	require.NoError(t, err)

	got, _ := res.Primary.Str()
	assert.Equal(t, "yes", got)
	assert.InDelta(t, 2.0/3.0, res.AgreementScore, 1e-9)

	require.NotNil(t, sess)
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Equal(t, "path_fast", sess.PathID)
	assert.Len(t, sess.Results, 3)
}

func TestCoordinate_NoRouteFailsSession(t *testing.T) {
	tree := routing.NewTree()
	require.NoError(t, tree.AddPath(routing.Path{ID: "p", Target: "a"}))
	require.NoError(t, tree.AddNode(&routing.Node{
		ID:        "root",
		Condition: routing.TokenThreshold{Limit: 100},
		True:      routing.Branch{PathID: "p"},
	}))

	o := New(tree, answerWorker(map[string]string{"a1": "x"}, 0.5))
	_, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 1}, agents("a1"))
	var routeErr *routing.RoutingError
	require.True(t, errors.As(err, &routeErr))
	require.NotNil(t, sess)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.NotEmpty(t, sess.Error)
}

// A consensus round where one worker hangs past its timeout must end Failed
// with a quorum error when the survivors cannot reach the bar.
func TestCoordinate_ConsensusQuorumNotReached(t *testing.T) {
	worker := core.WorkerFunc(func(ctx context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		if agent.ID == "hung" {
			<-ctx.Done() // never answers inside its timeout
			return core.AgentResult{}, ctx.Err()
		}
		answer := "yes"
		if agent.ID == "a2" {
			answer = "no"
		}
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue(answer), Confidence: 0.9, Succeeded: true}, nil
	})

	o := New(testTree(t), worker, forceStrategy(routing.StrategyConsensus), func(o *Options) {
		o.AggregationStrategy = aggregate.MajorityVote
		o.Quorum = 0.75
	})

	defs := agents("a1", "a2")
	defs = append(defs, core.AgentDefinition{ID: "hung", Timeout: 50 * time.Millisecond})

	_, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, defs)
	var quorumErr *QuorumError
	require.True(t, errors.As(err, &quorumErr))
	assert.Equal(t, 0.75, quorumErr.Required)
	assert.Less(t, quorumErr.Achieved, 0.75)

	require.NotNil(t, sess)
	assert.Equal(t, session.StatusFailed, sess.Status)
}

// Cancellation mid-round overrides in-flight successes: the session ends
// Cancelled and no aggregation result is produced.
func TestCoordinate_CancellationProducesNoResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	worker := core.WorkerFunc(func(ctx context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		if agent.ID == "fast" {
			return core.AgentResult{AgentID: agent.ID, Value: core.StringValue("done"), Confidence: 1, Succeeded: true}, nil
		}
		close(started)
		<-ctx.Done()
		return core.AgentResult{}, ctx.Err()
	})

	o := New(testTree(t), worker, forceStrategy(routing.StrategyParallel), func(o *Options) {
		o.GracePeriod = 50 * time.Millisecond
	})

	go func() {
		<-started
		cancel()
	}()

	res, sess, err := o.Coordinate(ctx, core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, agents("fast", "slow"))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Primary.IsNull()) // no aggregation result

	require.NotNil(t, sess)
	assert.Equal(t, session.StatusCancelled, sess.Status)
}

func TestCoordinate_FailoverStopsAtFirstSuccess(t *testing.T) {
	var calls atomic.Int32
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		calls.Add(1)
		if agent.ID == "fast" {
			return core.AgentResult{}, errors.New("primary down")
		}
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue("backup answer"), Confidence: 0.7, Succeeded: true}, nil
	})

	o := New(testTree(t), worker, forceStrategy(routing.StrategyFailover))

	res, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, agents("fast", "backup", "never"))
	require.NoError(t, err)
	got, _ := res.Primary.Str()
	assert.Equal(t, "backup answer", got)
	assert.Equal(t, int32(2), calls.Load()) // "never" was not tried
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Len(t, sess.Results, 2)
}

func TestCoordinate_ConflictResolutionBeforeAggregation(t *testing.T) {
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		answer := "yes"
		confidence := 0.6
		if agent.ID == "a3" {
			answer = "no"
			confidence = 0.9
		}
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue(answer), Confidence: confidence, Succeeded: true}, nil
	})

	o := New(testTree(t), worker, forceStrategy(routing.StrategyParallel), func(o *Options) {
		o.Resolver = conflict.NewResolver(conflict.ConfidenceBased)
		o.AggregationStrategy = aggregate.FirstSuccess
	})

	res, _, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, agents("a1", "a2", "a3"))
	require.NoError(t, err)
	got, _ := res.Primary.Str()
	assert.Equal(t, "no", got)
	// One of three round results matches the resolved winner.
	assert.InDelta(t, 1.0/3.0, res.AgreementScore, 1e-9)
}

// A failed worker must not dilute the agreement score of the survivors.
func TestCoordinate_AgreementIgnoresFailedWorkers(t *testing.T) {
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		if agent.ID == "down" {
			return core.AgentResult{}, errors.New("backend down")
		}
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue("yes"), Confidence: 0.8, Succeeded: true}, nil
	})

	o := New(testTree(t), worker, forceStrategy(routing.StrategyParallel), func(o *Options) {
		o.AggregationStrategy = aggregate.MajorityVote
		o.RetryBackoff = time.Millisecond
	})

	res, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, agents("a1", "a2", "down"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.AgreementScore) // two of two successes agree
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Len(t, sess.Results, 3)
}

// A resolver that cannot settle the round surfaces the typed error and fails
// the session rather than passing conflicting results through.
func TestCoordinate_UnresolvableConflictFailsRound(t *testing.T) {
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		answer := "yes"
		if agent.ID == "a2" {
			answer = "no"
		}
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue(answer), Confidence: 0.8, Succeeded: true}, nil
	})

	o := New(testTree(t), worker, forceStrategy(routing.StrategyParallel), func(o *Options) {
		o.Resolver = conflict.NewResolver(conflict.MergeMaps) // strings cannot merge
	})

	_, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, agents("a1", "a2"))
	var unresolvable *conflict.UnresolvableError
	require.True(t, errors.As(err, &unresolvable))
	require.NotNil(t, sess)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.NotEmpty(t, sess.Error)
}

// The structured engine logger receives routing, dispatch and aggregation
// records during a round.
func TestCoordinate_StructuredLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})

	worker := answerWorker(map[string]string{"a1": "yes"}, 0.9)
	o := New(testTree(t), worker, forceStrategy(routing.StrategyDirect), func(o *Options) {
		o.Logger = logger
	})

	_, _, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, agents("a1"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Routing decision")
	assert.Contains(t, out, "Dispatch completed")
	assert.Contains(t, out, "Aggregation completed")
	assert.Contains(t, out, `"component":"coordinator"`)
}

func TestInvokeAgent_RetriesThenDispatchError(t *testing.T) {
	var calls atomic.Int32
	worker := core.WorkerFunc(func(context.Context, core.AgentDefinition, core.Task) (core.AgentResult, error) {
		calls.Add(1)
		return core.AgentResult{}, errors.New("flaky backend")
	})

	o := New(testTree(t), worker, func(o *Options) {
		o.RetryBackoff = time.Millisecond
	})

	r := o.invokeAgent(context.Background(), "s1", core.AgentDefinition{ID: "a1", MaxRetries: 2}, core.Task{})
	assert.False(t, r.Succeeded)
	assert.Equal(t, int32(3), calls.Load())

	var dispatchErr *DispatchError
	require.True(t, errors.As(r.Err, &dispatchErr))
	assert.Equal(t, "a1", dispatchErr.AgentID)
	assert.Equal(t, 3, dispatchErr.Attempts)
}

func TestInvokeAgent_PanicContained(t *testing.T) {
	worker := core.WorkerFunc(func(context.Context, core.AgentDefinition, core.Task) (core.AgentResult, error) {
		panic("worker bug")
	})

	o := New(testTree(t), worker, func(o *Options) {
		o.RetryBackoff = time.Millisecond
	})

	var r core.AgentResult
	assert.NotPanics(t, func() {
		r = o.invokeAgent(context.Background(), "s1", core.AgentDefinition{ID: "a1"}, core.Task{})
	})
	assert.False(t, r.Succeeded)
	assert.ErrorContains(t, r.Err, "panicked")
}

func TestDispatch_RoundRobinRotates(t *testing.T) {
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue(agent.ID), Succeeded: true}, nil
	})
	o := New(testTree(t), worker)
	defs := agents("a1", "a2")

	first := o.dispatch(context.Background(), "s", core.Task{}, routing.StrategyRoundRobin, routing.Decision{}, defs)
	second := o.dispatch(context.Background(), "s", core.Task{}, routing.StrategyRoundRobin, routing.Decision{}, defs)
	third := o.dispatch(context.Background(), "s", core.Task{}, routing.StrategyRoundRobin, routing.Decision{}, defs)

	require.Len(t, first, 1)
	assert.Equal(t, "a1", first[0].AgentID)
	assert.Equal(t, "a2", second[0].AgentID)
	assert.Equal(t, "a1", third[0].AgentID)
}

func TestDispatch_CascadeStopsAtConfidenceBar(t *testing.T) {
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		confidence := 0.4
		if agent.ID == "a2" {
			confidence = 0.95
		}
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue(agent.ID), Confidence: confidence, Succeeded: true}, nil
	})
	o := New(testTree(t), worker)

	results := o.dispatch(context.Background(), "s", core.Task{}, routing.StrategyCascade, routing.Decision{}, agents("a1", "a2", "a3"))
	require.Len(t, results, 2) // a3 never ran
	assert.Equal(t, "a2", results[1].AgentID)
}

func TestDispatch_HierarchicalSupervisorOutranks(t *testing.T) {
	worker := core.WorkerFunc(func(_ context.Context, agent core.AgentDefinition, _ core.Task) (core.AgentResult, error) {
		return core.AgentResult{AgentID: agent.ID, Value: core.StringValue(agent.ID), Succeeded: true}, nil
	})
	o := New(testTree(t), worker)

	defs := []core.AgentDefinition{
		{ID: "w1", Priority: 3},
		{ID: "boss", Priority: 10},
		{ID: "w2", Priority: 5},
	}
	results := o.dispatch(context.Background(), "s", core.Task{}, routing.StrategyHierarchical, routing.Decision{}, defs)
	require.Len(t, results, 3)

	last := results[len(results)-1]
	assert.Equal(t, "boss", last.AgentID)
	for _, r := range results[:len(results)-1] {
		assert.Less(t, r.Priority, last.Priority)
	}
}

func TestCoordinate_NoAgents(t *testing.T) {
	o := New(testTree(t), answerWorker(nil, 0))
	_, sess, err := o.Coordinate(context.Background(), core.Task{ID: "t"}, core.ExecutionContext{TokenCount: 500}, nil)
	require.Error(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
}

package coordinator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/routing"
)

// dispatch fans the task out to the agents according to the execution
// strategy. It always returns the results it managed to collect; failures are
// embedded as unsuccessful results rather than aborting the round.
func (o *Orchestrator) dispatch(ctx context.Context, sessionID string, task core.Task, strategy routing.ExecutionStrategy, decision routing.Decision, agents []core.AgentDefinition) []core.AgentResult {
	switch strategy {
	case routing.StrategyParallel, routing.StrategyConsensus:
		return o.dispatchParallel(ctx, sessionID, task, agents)
	case routing.StrategyCompetitive:
		return o.dispatchCompetitive(ctx, sessionID, task, agents)
	case routing.StrategySequential:
		return o.dispatchSequential(ctx, sessionID, task, agents)
	case routing.StrategyFailover:
		return o.dispatchFailover(ctx, sessionID, task, decision, agents)
	case routing.StrategyCascade:
		return o.dispatchCascade(ctx, sessionID, task, agents)
	case routing.StrategyRoundRobin:
		idx := int((atomic.AddUint64(&o.rrCursor, 1) - 1) % uint64(len(agents)))
		return []core.AgentResult{o.invokeAgent(ctx, sessionID, agents[idx], task)}
	case routing.StrategyRandom:
		return []core.AgentResult{o.invokeAgent(ctx, sessionID, agents[rand.IntN(len(agents))], task)}
	case routing.StrategyHierarchical:
		return o.dispatchHierarchical(ctx, sessionID, task, agents)
	default: // StrategyDirect
		return []core.AgentResult{o.invokeAgent(ctx, sessionID, o.preferTarget(decision, agents)[0], task)}
	}
}

// dispatchParallel runs every agent concurrently. On cancellation it drains
// whatever finishes within the grace period and synthesizes timeout failures
// for the rest, so hung workers never block the round and never contribute a
// value.
func (o *Orchestrator) dispatchParallel(ctx context.Context, sessionID string, task core.Task, agents []core.AgentDefinition) []core.AgentResult {
	resCh := make(chan core.AgentResult, len(agents))
	for _, agent := range agents {
		go func(a core.AgentDefinition) {
			resCh <- o.invokeAgent(ctx, sessionID, a, task)
		}(agent)
	}

	pending := make(map[string]core.AgentDefinition, len(agents))
	for _, a := range agents {
		pending[a.ID] = a
	}

	results := make([]core.AgentResult, 0, len(agents))
	for len(pending) > 0 {
		select {
		case r := <-resCh:
			delete(pending, r.AgentID)
			results = append(results, r)
		case <-ctx.Done():
			return o.drainWithGrace(resCh, pending, results, ctx.Err())
		}
	}
	return results
}

// drainWithGrace collects late results for up to the grace period, then marks
// every still-pending agent failed with the cancellation cause.
func (o *Orchestrator) drainWithGrace(resCh <-chan core.AgentResult, pending map[string]core.AgentDefinition, results []core.AgentResult, cause error) []core.AgentResult {
	deadline := time.NewTimer(o.gracePeriod)
	defer deadline.Stop()
	for len(pending) > 0 {
		select {
		case r := <-resCh:
			delete(pending, r.AgentID)
			results = append(results, r)
		case <-deadline.C:
			for id, a := range pending {
				o.logger.Warn("worker abandoned after grace period", "agent_id", id)
				results = append(results, core.AgentResult{
					AgentID:   id,
					Value:     core.Null(),
					Priority:  a.Priority,
					Succeeded: false,
					Err:       fmt.Errorf("abandoned after grace period: %w", cause),
				})
			}
			return results
		}
	}
	return results
}

// dispatchCompetitive races all agents; the first success cancels the rest.
func (o *Orchestrator) dispatchCompetitive(ctx context.Context, sessionID string, task core.Task, agents []core.AgentDefinition) []core.AgentResult {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resCh := make(chan core.AgentResult, len(agents))
	for _, agent := range agents {
		go func(a core.AgentDefinition) {
			resCh <- o.invokeAgent(raceCtx, sessionID, a, task)
		}(agent)
	}

	results := make([]core.AgentResult, 0, len(agents))
	for i := 0; i < len(agents); i++ {
		r := <-resCh
		results = append(results, r)
		if r.Succeeded && r.Err == nil {
			cancel()
		}
	}
	return results
}

func (o *Orchestrator) dispatchSequential(ctx context.Context, sessionID string, task core.Task, agents []core.AgentDefinition) []core.AgentResult {
	results := make([]core.AgentResult, 0, len(agents))
	for _, agent := range agents {
		if ctx.Err() != nil {
			break
		}
		results = append(results, o.invokeAgent(ctx, sessionID, agent, task))
	}
	return results
}

// dispatchFailover tries the decision's target first, then each remaining
// agent in order, stopping at the first success.
func (o *Orchestrator) dispatchFailover(ctx context.Context, sessionID string, task core.Task, decision routing.Decision, agents []core.AgentDefinition) []core.AgentResult {
	ordered := o.preferTarget(decision, agents)
	results := make([]core.AgentResult, 0, len(ordered))
	for _, agent := range ordered {
		if ctx.Err() != nil {
			break
		}
		r := o.invokeAgent(ctx, sessionID, agent, task)
		results = append(results, r)
		if r.Succeeded && r.Err == nil {
			break
		}
	}
	return results
}

// dispatchCascade runs agents in order until one succeeds with confidence at
// or above the cascade bar.
func (o *Orchestrator) dispatchCascade(ctx context.Context, sessionID string, task core.Task, agents []core.AgentDefinition) []core.AgentResult {
	results := make([]core.AgentResult, 0, len(agents))
	for _, agent := range agents {
		if ctx.Err() != nil {
			break
		}
		r := o.invokeAgent(ctx, sessionID, agent, task)
		results = append(results, r)
		if r.Succeeded && r.Err == nil && r.Confidence >= o.cascadeConfidence {
			break
		}
	}
	return results
}

// dispatchHierarchical runs every agent except the supervisor in parallel,
// then the supervisor. The supervisor is the highest-priority agent and its
// result outranks all workers during conflict resolution.
func (o *Orchestrator) dispatchHierarchical(ctx context.Context, sessionID string, task core.Task, agents []core.AgentDefinition) []core.AgentResult {
	if len(agents) == 1 {
		return []core.AgentResult{o.invokeAgent(ctx, sessionID, agents[0], task)}
	}

	supIdx := 0
	for i, a := range agents {
		if a.Priority > agents[supIdx].Priority {
			supIdx = i
		}
	}
	supervisor := agents[supIdx]
	workers := make([]core.AgentDefinition, 0, len(agents)-1)
	maxPriority := supervisor.Priority
	for i, a := range agents {
		if i == supIdx {
			continue
		}
		if a.Priority > maxPriority {
			maxPriority = a.Priority
		}
		workers = append(workers, a)
	}

	results := o.dispatchParallel(ctx, sessionID, task, workers)
	if ctx.Err() != nil {
		return results
	}

	supResult := o.invokeAgent(ctx, sessionID, supervisor, task)
	supResult.Priority = maxPriority + 1
	return append(results, supResult)
}

// preferTarget orders agents so the one matching the decision's target comes
// first; the rest keep their registration order.
func (o *Orchestrator) preferTarget(decision routing.Decision, agents []core.AgentDefinition) []core.AgentDefinition {
	ordered := make([]core.AgentDefinition, 0, len(agents))
	for _, a := range agents {
		if a.ID == decision.Target {
			ordered = append(ordered, a)
		}
	}
	for _, a := range agents {
		if a.ID != decision.Target {
			ordered = append(ordered, a)
		}
	}
	return ordered
}

// invokeAgent runs one worker with the agent's timeout and retry budget.
// Worker panics are contained and reported as failed results. The semaphore
// bounds concurrent invocations engine-wide.
func (o *Orchestrator) invokeAgent(ctx context.Context, sessionID string, agent core.AgentDefinition, task core.Task) core.AgentResult {
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		return core.AgentResult{AgentID: agent.ID, Value: core.Null(), Priority: agent.Priority, Err: ctx.Err()}
	}

	timeout := agent.Timeout
	if timeout <= 0 {
		timeout = o.defaultTimeout
	}
	attempts := agent.MaxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			// Linear backoff between attempts.
			wait := time.NewTimer(time.Duration(attempt-1) * o.retryBackoff)
			select {
			case <-wait.C:
			case <-ctx.Done():
				wait.Stop()
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}

		start := time.Now()
		result, err := o.invokeOnce(ctx, agent, task, timeout)
		dur := time.Since(start)
		if o.rich != nil {
			o.rich.LogDispatch(agent.ID, attempt, dur, err == nil && result.Succeeded, err)
		} else {
			o.logger.Debug("dispatch attempt",
				"session_id", sessionID, "agent_id", agent.ID, "attempt", attempt,
				"duration", dur.String(), "success", err == nil && result.Succeeded)
		}

		if err == nil && result.Succeeded {
			result.AgentID = agent.ID
			result.Priority = agent.Priority
			result.Duration = dur
			o.publishResult(sessionID, result)
			return result
		}
		if err == nil {
			err = result.Err
			if err == nil {
				err = fmt.Errorf("worker reported failure")
			}
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}

	failed := core.AgentResult{
		AgentID:   agent.ID,
		Value:     core.Null(),
		Priority:  agent.Priority,
		Succeeded: false,
		Err:       &DispatchError{AgentID: agent.ID, Attempts: attempts, Err: lastErr},
	}
	o.publishResult(sessionID, failed)
	return failed
}

// invokeOnce runs a single attempt under the per-attempt timeout, containing
// worker panics.
func (o *Orchestrator) invokeOnce(ctx context.Context, agent core.AgentDefinition, task core.Task, timeout time.Duration) (result core.AgentResult, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker panicked: %v", rec)
			if o.rich != nil {
				o.rich.ErrorWithStack(err, "worker panicked: agent %s", agent.ID)
			} else {
				o.logger.Error("worker panicked", "agent_id", agent.ID, "panic", rec)
			}
			result = core.AgentResult{AgentID: agent.ID}
		}
	}()
	return o.worker.Invoke(attemptCtx, agent, task)
}

package routing

import (
	"testing"
	"time"

	"github.com/hupe1980/agentroute/core"
	"github.com/stretchr/testify/assert"
)

func TestSelector_DefaultPolicy(t *testing.T) {
	s := NewSelector()

	// High reliability requirement prefers failover when alternatives exist.
	got := s.Select(Decision{PathID: "p", Alternatives: []string{"alt"}}, core.ExecutionContext{Reliability: 0.95})
	assert.Equal(t, StrategyFailover, got)

	// High reliability without alternatives falls back to sequential.
	got = s.Select(Decision{PathID: "p"}, core.ExecutionContext{Reliability: 0.95})
	assert.Equal(t, StrategySequential, got)

	// Ample budget and tight time budget prefers parallel.
	got = s.Select(Decision{PathID: "p"}, core.ExecutionContext{CostBudget: 10, TimeBudget: 5 * time.Second})
	assert.Equal(t, StrategyParallel, got)

	// Tight budget, no latency pressure: direct.
	got = s.Select(Decision{PathID: "p"}, core.ExecutionContext{CostBudget: 0.01})
	assert.Equal(t, StrategyDirect, got)
}

func TestSelector_CustomRuleWins(t *testing.T) {
	s := NewSelector(WithRules(Rule{
		Name:      "batch-consensus",
		Predicate: func(_ Decision, execCtx core.ExecutionContext) bool { return execCtx.ContextType == "batch" },
		Strategy:  StrategyConsensus,
	}))

	got := s.Select(Decision{PathID: "p"}, core.ExecutionContext{ContextType: "batch"})
	assert.Equal(t, StrategyConsensus, got)

	// Non-matching rule falls through to the default policy.
	got = s.Select(Decision{PathID: "p"}, core.ExecutionContext{ContextType: "chat", CostBudget: 0.01})
	assert.Equal(t, StrategyDirect, got)
}

func TestSelector_PanickingRuleFallsThrough(t *testing.T) {
	s := NewSelector(WithRules(
		Rule{
			Name:      "broken",
			Predicate: func(Decision, core.ExecutionContext) bool { panic("boom") },
			Strategy:  StrategyRandom,
		},
		Rule{
			Name:      "second",
			Predicate: func(Decision, core.ExecutionContext) bool { return true },
			Strategy:  StrategyCascade,
		},
	))

	var got ExecutionStrategy
	assert.NotPanics(t, func() {
		got = s.Select(Decision{PathID: "p"}, core.ExecutionContext{})
	})
	assert.Equal(t, StrategyCascade, got)
}

func TestExecutionStrategy_StringRoundTrip(t *testing.T) {
	strategies := []ExecutionStrategy{
		StrategyDirect, StrategyParallel, StrategySequential, StrategyFailover,
		StrategyRoundRobin, StrategyRandom, StrategyCascade, StrategyCompetitive,
		StrategyConsensus, StrategyHierarchical,
	}
	for _, st := range strategies {
		assert.Equal(t, st, ParseStrategy(st.String()), st.String())
	}
	assert.Equal(t, StrategyDirect, ParseStrategy("nonsense"))
}

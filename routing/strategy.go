package routing

import (
	"time"

	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
)

// ExecutionStrategy determines the dispatch shape of a coordination round.
// It is not selected by the tree itself but derived from the decision plus
// context hints (cost budget, time budget, reliability requirement).
type ExecutionStrategy int

const (
	// StrategyDirect dispatches the single chosen path once.
	StrategyDirect ExecutionStrategy = iota
	// StrategyParallel dispatches all agents concurrently and aggregates.
	StrategyParallel
	// StrategySequential dispatches agents one after another.
	StrategySequential
	// StrategyFailover tries the chosen path then each alternative in order.
	StrategyFailover
	// StrategyRoundRobin rotates single-target dispatch across agents.
	StrategyRoundRobin
	// StrategyRandom picks one agent pseudo-randomly.
	StrategyRandom
	// StrategyCascade runs agents in order until one succeeds with enough
	// confidence.
	StrategyCascade
	// StrategyCompetitive runs all agents concurrently; the first success wins.
	StrategyCompetitive
	// StrategyConsensus runs all agents concurrently and requires a quorum of
	// successes before aggregation.
	StrategyConsensus
	// StrategyHierarchical runs workers concurrently with a supervisor agent
	// whose result arbitrates disagreements.
	StrategyHierarchical
)

// String returns the strategy name.
func (s ExecutionStrategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyParallel:
		return "parallel"
	case StrategySequential:
		return "sequential"
	case StrategyFailover:
		return "failover"
	case StrategyRoundRobin:
		return "round_robin"
	case StrategyRandom:
		return "random"
	case StrategyCascade:
		return "cascade"
	case StrategyCompetitive:
		return "competitive"
	case StrategyConsensus:
		return "consensus"
	case StrategyHierarchical:
		return "hierarchical"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a strategy name to its enum value. Unknown names fall
// back to StrategyDirect.
func ParseStrategy(name string) ExecutionStrategy {
	switch name {
	case "parallel":
		return StrategyParallel
	case "sequential":
		return StrategySequential
	case "failover":
		return StrategyFailover
	case "round_robin":
		return StrategyRoundRobin
	case "random":
		return StrategyRandom
	case "cascade":
		return StrategyCascade
	case "competitive":
		return StrategyCompetitive
	case "consensus":
		return StrategyConsensus
	case "hierarchical":
		return StrategyHierarchical
	default:
		return StrategyDirect
	}
}

// Rule is a custom predicate to strategy mapping evaluated before the default
// policy. A rule whose predicate panics is recovered, logged and skipped.
type Rule struct {
	Name      string
	Predicate func(d Decision, execCtx core.ExecutionContext) bool
	Strategy  ExecutionStrategy
}

// Selector is the pluggable decision step that turns a routing decision plus
// budget/time/reliability hints into one execution strategy.
type Selector struct {
	rules  []Rule
	logger logging.Logger
}

// SelectorOption customizes a Selector.
type SelectorOption func(*Selector)

// WithRules registers custom rules evaluated in order before the default
// policy.
func WithRules(rules ...Rule) SelectorOption {
	return func(s *Selector) { s.rules = append(s.rules, rules...) }
}

// WithSelectorLogger sets the logger used to report misbehaving rules.
func WithSelectorLogger(l logging.Logger) SelectorOption {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSelector constructs a Selector with the default policy and optional
// custom rules.
func NewSelector(opts ...SelectorOption) *Selector {
	s := &Selector{logger: logging.NoOpLogger{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Reliability level above which the default policy prefers failover over
// latency-optimized dispatch.
const reliabilityPreferred = 0.9

// Select returns the execution strategy for a decision. Custom rules run
// first; a panicking rule falls through to the next rule and ultimately the
// default policy rather than aborting selection.
func (s *Selector) Select(d Decision, execCtx core.ExecutionContext) ExecutionStrategy {
	for _, r := range s.rules {
		if r.Predicate == nil {
			continue
		}
		matched, err := s.safeEvaluate(r, d, execCtx)
		if err != nil {
			s.logger.Warn("strategy rule panicked, skipping", "rule", r.Name, "error", err)
			continue
		}
		if matched {
			return r.Strategy
		}
	}
	return defaultPolicy(d, execCtx)
}

func (s *Selector) safeEvaluate(r Rule, d Decision, execCtx core.ExecutionContext) (matched bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			matched = false
			err = &ruleError{rule: r.Name, cause: rec}
		}
	}()
	return r.Predicate(d, execCtx), nil
}

type ruleError struct {
	rule  string
	cause any
}

func (e *ruleError) Error() string {
	return "rule " + e.rule + " panicked"
}

// defaultPolicy prefers parallel dispatch when the cost budget is ample and
// the request is latency sensitive, and sequential/failover dispatch when
// reliability is prioritized over latency.
func defaultPolicy(d Decision, execCtx core.ExecutionContext) ExecutionStrategy {
	if execCtx.Reliability >= reliabilityPreferred {
		if len(d.Alternatives) > 0 {
			return StrategyFailover
		}
		return StrategySequential
	}
	latencySensitive := execCtx.TimeBudget > 0 && execCtx.TimeBudget < 30*time.Second
	budgetAmple := execCtx.CostBudget == 0 || execCtx.CostBudget >= 1.0
	if budgetAmple && (latencySensitive || len(d.Alternatives) > 0) {
		return StrategyParallel
	}
	return StrategyDirect
}

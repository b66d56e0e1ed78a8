package conflict

import (
	"fmt"
	"sort"

	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
)

// Strategy selects how a disagreement is collapsed to a single winner.
type Strategy int

const (
	// PriorityBased picks the result from the highest-priority agent.
	PriorityBased Strategy = iota
	// ConfidenceBased picks the result with the highest confidence.
	ConfidenceBased
	// Voting picks the plurality value; ties fall back to priority.
	Voting
	// MergeMaps shallow-merges map values; colliding keys fall back to
	// priority.
	MergeMaps
	// Custom delegates to a caller-supplied function.
	Custom
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case PriorityBased:
		return "priority"
	case ConfidenceBased:
		return "confidence"
	case Voting:
		return "voting"
	case MergeMaps:
		return "merge"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a strategy name to its enum value. Unknown names fall
// back to PriorityBased.
func ParseStrategy(name string) Strategy {
	switch name {
	case "confidence":
		return ConfidenceBased
	case "voting":
		return Voting
	case "merge":
		return MergeMaps
	case "custom":
		return Custom
	default:
		return PriorityBased
	}
}

// Loser records why an agent's value was not chosen, for auditability.
type Loser struct {
	AgentID string     `json:"agent_id"`
	Value   core.Value `json:"-"`
	Reason  string     `json:"reason"`
}

// Resolution is the outcome of resolving a conflict set: one winning value
// plus the audit trail of losing agents.
type Resolution struct {
	Winner   Participant `json:"winner"`
	Losers   []Loser     `json:"losers"`
	Strategy Strategy    `json:"strategy"`
	Resolved bool        `json:"resolved"`
}

// UnresolvableError reports that the configured strategy could not produce a
// single winner. It carries the full conflict set for the caller.
type UnresolvableError struct {
	Strategy  Strategy
	Conflicts []Conflict
	Reason    string
}

// Error implements error.
func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("conflict unresolvable with %s strategy: %s", e.Strategy, e.Reason)
}

// CustomResolver is a caller-supplied resolution function. Panics are
// recovered at the call site and surface as an UnresolvableError.
type CustomResolver func(conflicts []Conflict, results []core.AgentResult) (Resolution, error)

// Resolver applies one resolution strategy to a conflict set.
type Resolver struct {
	strategy Strategy
	custom   CustomResolver
	logger   logging.Logger
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithCustomResolver installs the function used by the Custom strategy.
func WithCustomResolver(fn CustomResolver) ResolverOption {
	return func(r *Resolver) { r.custom = fn }
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver constructs a Resolver for the given strategy.
func NewResolver(strategy Strategy, opts ...ResolverOption) *Resolver {
	r := &Resolver{strategy: strategy, logger: logging.NoOpLogger{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy { return r.strategy }

// Resolve collapses the conflicting results to a single winner. With an
// empty conflict set it is a no-op pass-through: the first successful result
// wins with no losers recorded. Only successful results are considered.
func (r *Resolver) Resolve(conflicts []Conflict, results []core.AgentResult) (Resolution, error) {
	candidates := successful(results)
	if len(candidates) == 0 {
		return Resolution{}, &UnresolvableError{Strategy: r.strategy, Conflicts: conflicts, Reason: "no successful results"}
	}

	if len(conflicts) == 0 {
		return Resolution{Winner: participantOf(candidates[0]), Strategy: r.strategy, Resolved: true}, nil
	}

	switch r.strategy {
	case PriorityBased:
		return r.resolveBy(conflicts, candidates, byPriority, "lower priority"), nil
	case ConfidenceBased:
		return r.resolveBy(conflicts, candidates, byConfidence, "lower confidence"), nil
	case Voting:
		return r.resolveVoting(conflicts, candidates), nil
	case MergeMaps:
		return r.resolveMerge(conflicts, candidates)
	case Custom:
		return r.resolveCustom(conflicts, results)
	default:
		return Resolution{}, &UnresolvableError{Strategy: r.strategy, Conflicts: conflicts, Reason: "unknown strategy"}
	}
}

type ranking func(a, b core.AgentResult) bool

// byPriority prefers higher priority, then higher confidence, then agent id
// for determinism.
func byPriority(a, b core.AgentResult) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.AgentID < b.AgentID
}

// byConfidence prefers higher confidence, then higher priority, then agent id.
func byConfidence(a, b core.AgentResult) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.AgentID < b.AgentID
}

func (r *Resolver) resolveBy(conflicts []Conflict, candidates []core.AgentResult, rank ranking, reason string) Resolution {
	ranked := make([]core.AgentResult, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return rank(ranked[i], ranked[j]) })

	winner := ranked[0]
	res := Resolution{Winner: participantOf(winner), Strategy: r.strategy, Resolved: true}
	for _, c := range ranked[1:] {
		if c.Value.Equal(winner.Value) {
			continue
		}
		res.Losers = append(res.Losers, Loser{AgentID: c.AgentID, Value: c.Value, Reason: reason})
	}
	r.logger.Debug("conflict resolved", "strategy", r.strategy.String(), "winner", winner.AgentID, "losers", len(res.Losers), "conflicts", len(conflicts))
	return res
}

// resolveVoting picks the plurality value; ties fall back to priority.
func (r *Resolver) resolveVoting(conflicts []Conflict, candidates []core.AgentResult) Resolution {
	votes := map[string]int{}
	byKey := map[string][]core.AgentResult{}
	for _, c := range candidates {
		k := c.Value.Key()
		votes[k]++
		byKey[k] = append(byKey[k], c)
	}

	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if votes[keys[i]] != votes[keys[j]] {
			return votes[keys[i]] > votes[keys[j]]
		}
		// Tie: the block containing the highest-priority agent wins.
		return byPriority(bestOf(byKey[keys[i]]), bestOf(byKey[keys[j]]))
	})

	winnerBlock := byKey[keys[0]]
	winner := bestOf(winnerBlock)
	res := Resolution{Winner: participantOf(winner), Strategy: r.strategy, Resolved: true}
	for _, k := range keys[1:] {
		for _, c := range byKey[k] {
			res.Losers = append(res.Losers, Loser{AgentID: c.AgentID, Value: c.Value, Reason: fmt.Sprintf("outvoted %d to %d", votes[k], votes[keys[0]])})
		}
	}
	r.logger.Debug("conflict resolved by vote", "winner", winner.AgentID, "votes", votes[keys[0]], "conflicts", len(conflicts))
	return res
}

func bestOf(results []core.AgentResult) core.AgentResult {
	best := results[0]
	for _, c := range results[1:] {
		if byPriority(c, best) {
			best = c
		}
	}
	return best
}

// resolveMerge shallow-merges map values. Non-colliding keys are unioned;
// colliding keys fall back to the highest-priority agent's entry.
func (r *Resolver) resolveMerge(conflicts []Conflict, candidates []core.AgentResult) (Resolution, error) {
	ranked := make([]core.AgentResult, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool { return byPriority(ranked[i], ranked[j]) })

	merged := map[string]core.Value{}
	owners := map[string]core.AgentResult{}
	var res Resolution
	res.Strategy = r.strategy

	for _, c := range ranked {
		m, ok := c.Value.Map()
		if !ok {
			return Resolution{}, &UnresolvableError{
				Strategy:  r.strategy,
				Conflicts: conflicts,
				Reason:    fmt.Sprintf("agent %s produced %s, merge requires maps", c.AgentID, c.Value.Kind()),
			}
		}
		for k, v := range m {
			existing, taken := merged[k]
			if !taken {
				merged[k] = v
				owners[k] = c
				continue
			}
			if !existing.Equal(v) {
				// Collision: the earlier (higher priority) entry stands.
				res.Losers = append(res.Losers, Loser{
					AgentID: c.AgentID,
					Value:   v,
					Reason:  fmt.Sprintf("key %q lost to %s by priority", k, owners[k].AgentID),
				})
			}
		}
	}

	res.Winner = Participant{AgentID: ranked[0].AgentID, Value: core.MapValue(merged), Confidence: ranked[0].Confidence, Priority: ranked[0].Priority}
	res.Resolved = true
	return res, nil
}

func (r *Resolver) resolveCustom(conflicts []Conflict, results []core.AgentResult) (res Resolution, err error) {
	if r.custom == nil {
		return Resolution{}, &UnresolvableError{Strategy: r.strategy, Conflicts: conflicts, Reason: "no custom resolver installed"}
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("custom resolver panicked", "panic", rec)
			res = Resolution{}
			err = &UnresolvableError{Strategy: r.strategy, Conflicts: conflicts, Reason: fmt.Sprintf("custom resolver panicked: %v", rec)}
		}
	}()
	return r.custom(conflicts, results)
}

func successful(results []core.AgentResult) []core.AgentResult {
	out := make([]core.AgentResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded {
			out = append(out, r)
		}
	}
	return out
}

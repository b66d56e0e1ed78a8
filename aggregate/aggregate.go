// Package aggregate combines multiple worker results into one logical
// result. Strategies are selectable per coordination round and must never
// panic on heterogeneous input: type mismatches surface as an
// AggregationError, not a crash.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/hupe1980/agentroute/conflict"
	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
)

// Strategy selects how results are combined.
type Strategy int

const (
	// FirstSuccess picks the first non-error, non-empty value.
	FirstSuccess Strategy = iota
	// MajorityVote picks the most frequent normalized value; ties break by
	// highest cumulative confidence.
	MajorityVote
	// Unanimous fails unless all non-error results are equal.
	Unanimous
	// Average averages numeric results; non-numeric inputs are rejected.
	Average
	// Concat concatenates list-valued results preserving per-agent order.
	Concat
	// Merge shallow-merges map-valued results; key collisions are conflicts,
	// not silent overwrites.
	Merge
	// Custom delegates to a caller-supplied reducer.
	Custom
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case FirstSuccess:
		return "first_success"
	case MajorityVote:
		return "majority_vote"
	case Unanimous:
		return "unanimous"
	case Average:
		return "average"
	case Concat:
		return "concat"
	case Merge:
		return "merge"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a strategy name to its enum value. Unknown names fall
// back to FirstSuccess.
func ParseStrategy(name string) Strategy {
	switch name {
	case "majority_vote":
		return MajorityVote
	case "unanimous":
		return Unanimous
	case "average":
		return Average
	case "concat":
		return Concat
	case "merge":
		return Merge
	case "custom":
		return Custom
	default:
		return FirstSuccess
	}
}

// Result is the reconciled outcome of one coordination round.
// AgreementScore is the fraction of non-error results equal to the primary.
type Result struct {
	Primary        core.Value   `json:"-"`
	PrimaryAgent   string       `json:"primary_agent,omitempty"`
	Alternatives   []core.Value `json:"-"`
	AgreementScore float64      `json:"agreement_score"`
	Strategy       Strategy     `json:"strategy"`
	Confidence     float64      `json:"confidence"`
}

// AggregationError reports inputs incompatible with the chosen strategy.
type AggregationError struct {
	Strategy Strategy
	Reason   string
}

// Error implements error.
func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregation with %s strategy failed: %s", e.Strategy, e.Reason)
}

// Reducer is a caller-supplied aggregation function for the Custom strategy.
type Reducer func(results []core.AgentResult) (core.Value, error)

// Aggregator combines worker results. A zero Aggregator is not usable;
// construct with New.
type Aggregator struct {
	custom   Reducer
	resolver *conflict.Resolver
	logger   logging.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithReducer installs the reducer used by the Custom strategy. Panics in
// the reducer are recovered and surface as an AggregationError.
func WithReducer(r Reducer) Option {
	return func(a *Aggregator) { a.custom = r }
}

// WithResolver installs the conflict resolver used to settle Merge key
// collisions. Without one, collisions are an AggregationError.
func WithResolver(r *conflict.Resolver) Option {
	return func(a *Aggregator) { a.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New constructs an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{logger: logging.NoOpLogger{}}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Aggregate combines results using the given strategy. Failed results are
// excluded before any strategy runs; an input with no successful results is
// an AggregationError for every strategy.
func (a *Aggregator) Aggregate(results []core.AgentResult, strategy Strategy) (Result, error) {
	ok := successful(results)
	if len(ok) == 0 {
		return Result{}, &AggregationError{Strategy: strategy, Reason: "no successful results"}
	}

	switch strategy {
	case FirstSuccess:
		return a.firstSuccess(ok), nil
	case MajorityVote:
		return a.majorityVote(ok), nil
	case Unanimous:
		return a.unanimous(ok)
	case Average:
		return a.average(ok)
	case Concat:
		return a.concat(ok), nil
	case Merge:
		return a.merge(ok)
	case Custom:
		return a.customReduce(ok)
	default:
		return Result{}, &AggregationError{Strategy: strategy, Reason: "unknown strategy"}
	}
}

func (a *Aggregator) firstSuccess(ok []core.AgentResult) Result {
	for _, r := range ok {
		if r.Value.IsNull() {
			continue
		}
		return a.finish(ok, r.Value, r.AgentID, FirstSuccess)
	}
	// All values empty: the first result still wins so singleton rounds are
	// idempotent.
	return a.finish(ok, ok[0].Value, ok[0].AgentID, FirstSuccess)
}

func (a *Aggregator) majorityVote(ok []core.AgentResult) Result {
	votes := map[string]int{}
	confidence := map[string]float64{}
	sample := map[string]core.AgentResult{}
	for _, r := range ok {
		k := r.Value.Key()
		votes[k]++
		confidence[k] += r.Confidence
		if _, seen := sample[k]; !seen {
			sample[k] = r
		}
	}

	keys := make([]string, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if votes[keys[i]] != votes[keys[j]] {
			return votes[keys[i]] > votes[keys[j]]
		}
		if confidence[keys[i]] != confidence[keys[j]] {
			return confidence[keys[i]] > confidence[keys[j]]
		}
		return keys[i] < keys[j]
	})

	winner := sample[keys[0]]
	return a.finish(ok, winner.Value, winner.AgentID, MajorityVote)
}

func (a *Aggregator) unanimous(ok []core.AgentResult) (Result, error) {
	first := ok[0]
	for _, r := range ok[1:] {
		if !r.Value.Equal(first.Value) {
			analyzer := conflict.NewAnalyzer()
			return Result{}, &conflict.UnresolvableError{
				Strategy:  conflict.Voting,
				Conflicts: analyzer.Analyze("result", ok),
				Reason:    fmt.Sprintf("agents %s and %s disagree", first.AgentID, r.AgentID),
			}
		}
	}
	return a.finish(ok, first.Value, first.AgentID, Unanimous), nil
}

func (a *Aggregator) average(ok []core.AgentResult) (Result, error) {
	var sum float64
	for _, r := range ok {
		n, isNum := r.Value.Number()
		if !isNum {
			return Result{}, &AggregationError{
				Strategy: Average,
				Reason:   fmt.Sprintf("agent %s produced %s, average requires numbers", r.AgentID, r.Value.Kind()),
			}
		}
		sum += n
	}
	avg := core.NumberValue(sum / float64(len(ok)))
	res := a.finish(ok, avg, "", Average)
	return res, nil
}

func (a *Aggregator) concat(ok []core.AgentResult) Result {
	var items []core.Value
	for _, r := range ok {
		if list, isList := r.Value.List(); isList {
			items = append(items, list...)
			continue
		}
		if r.Value.IsNull() {
			continue
		}
		// Scalars contribute themselves, keeping the strategy total.
		items = append(items, r.Value)
	}
	if len(ok) == 1 {
		// Singleton rounds return the original value unchanged.
		return a.finish(ok, ok[0].Value, ok[0].AgentID, Concat)
	}
	return a.finish(ok, core.ListValue(items...), "", Concat)
}

func (a *Aggregator) merge(ok []core.AgentResult) (Result, error) {
	merged := map[string]core.Value{}
	owners := map[string][]core.AgentResult{}
	var collisions []string

	for _, r := range ok {
		m, isMap := r.Value.Map()
		if !isMap {
			return Result{}, &AggregationError{
				Strategy: Merge,
				Reason:   fmt.Sprintf("agent %s produced %s, merge requires maps", r.AgentID, r.Value.Kind()),
			}
		}
		for k, v := range m {
			owners[k] = append(owners[k], core.AgentResult{AgentID: r.AgentID, Value: v, Confidence: r.Confidence, Priority: r.Priority, Succeeded: true})
			existing, taken := merged[k]
			if !taken {
				merged[k] = v
				continue
			}
			if !existing.Equal(v) {
				collisions = append(collisions, k)
			}
		}
	}

	if len(collisions) > 0 {
		if a.resolver == nil {
			sort.Strings(collisions)
			return Result{}, &AggregationError{
				Strategy: Merge,
				Reason:   fmt.Sprintf("key collisions on %v and no conflict resolver configured", collisions),
			}
		}
		analyzer := conflict.NewAnalyzer()
		for _, k := range collisions {
			conflicts := analyzer.Analyze(k, owners[k])
			resolution, err := a.resolver.Resolve(conflicts, owners[k])
			if err != nil {
				return Result{}, err
			}
			merged[k] = resolution.Winner.Value
			a.logger.Debug("merge collision resolved", "key", k, "winner", resolution.Winner.AgentID)
		}
	}

	return a.finish(ok, core.MapValue(merged), "", Merge), nil
}

func (a *Aggregator) customReduce(ok []core.AgentResult) (res Result, err error) {
	if a.custom == nil {
		return Result{}, &AggregationError{Strategy: Custom, Reason: "no reducer installed"}
	}
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Warn("custom reducer panicked", "panic", rec)
			res = Result{}
			err = &AggregationError{Strategy: Custom, Reason: fmt.Sprintf("reducer panicked: %v", rec)}
		}
	}()
	value, err := a.custom(ok)
	if err != nil {
		return Result{}, &AggregationError{Strategy: Custom, Reason: err.Error()}
	}
	return a.finish(ok, value, "", Custom), nil
}

// finish computes the agreement score and confidence for the chosen primary.
// Agreement is (results equal to primary) / (total non-error results);
// confidence is the mean confidence of the agreeing results, or the overall
// mean for synthetic primaries nothing equals.
func (a *Aggregator) finish(ok []core.AgentResult, primary core.Value, primaryAgent string, strategy Strategy) Result {
	agreeing := 0
	var agreeingConfidence float64
	var alternatives []core.Value
	seen := map[string]bool{}

	for _, r := range ok {
		if r.Value.Equal(primary) {
			agreeing++
			agreeingConfidence += r.Confidence
			continue
		}
		if k := r.Value.Key(); !seen[k] {
			seen[k] = true
			alternatives = append(alternatives, r.Value)
		}
	}

	confidence := 0.0
	if agreeing > 0 {
		confidence = agreeingConfidence / float64(agreeing)
	} else {
		for _, r := range ok {
			confidence += r.Confidence
		}
		confidence /= float64(len(ok))
	}

	return Result{
		Primary:        primary,
		PrimaryAgent:   primaryAgent,
		Alternatives:   alternatives,
		AgreementScore: float64(agreeing) / float64(len(ok)),
		Strategy:       strategy,
		Confidence:     confidence,
	}
}

func successful(results []core.AgentResult) []core.AgentResult {
	out := make([]core.AgentResult, 0, len(results))
	for _, r := range results {
		if r.Succeeded && r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}

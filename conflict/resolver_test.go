package conflict

import (
	"errors"
	"testing"

	"github.com/hupe1980/agentroute/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yesYesNo() []core.AgentResult {
	return []core.AgentResult{
		result("a1", core.StringValue("yes"), 0.6, 1),
		result("a2", core.StringValue("yes"), 0.6, 1),
		result("a3", core.StringValue("no"), 0.9, 2),
	}
}

func TestResolver_NoConflictsIsPassThrough(t *testing.T) {
	r := NewResolver(ConfidenceBased)

	res, err := r.Resolve(nil, yesYesNo())
	require.NoError(t, err)
	assert.True(t, res.Resolved)
	assert.Equal(t, "a1", res.Winner.AgentID)
	assert.Empty(t, res.Losers)
}

func TestResolver_ConfidenceBased(t *testing.T) {
	a := NewAnalyzer()
	results := yesYesNo()
	conflicts := a.Analyze("answer", results)
	require.NotEmpty(t, conflicts)

	// Spec scenario: confidences 0.6/0.6/0.9 resolve to "no".
	res, err := NewResolver(ConfidenceBased).Resolve(conflicts, results)
	require.NoError(t, err)
	assert.Equal(t, "a3", res.Winner.AgentID)
	winner, _ := res.Winner.Value.Str()
	assert.Equal(t, "no", winner)
	assert.Len(t, res.Losers, 2)
	for _, l := range res.Losers {
		assert.Equal(t, "lower confidence", l.Reason)
	}
}

func TestResolver_PriorityBased(t *testing.T) {
	results := []core.AgentResult{
		result("low", core.StringValue("a"), 0.9, 1),
		result("high", core.StringValue("b"), 0.2, 10),
	}
	conflicts := NewAnalyzer().Analyze("f", results)

	res, err := NewResolver(PriorityBased).Resolve(conflicts, results)
	require.NoError(t, err)
	assert.Equal(t, "high", res.Winner.AgentID)
	require.Len(t, res.Losers, 1)
	assert.Equal(t, "low", res.Losers[0].AgentID)
}

func TestResolver_Voting(t *testing.T) {
	results := yesYesNo()
	conflicts := NewAnalyzer().Analyze("f", results)

	res, err := NewResolver(Voting).Resolve(conflicts, results)
	require.NoError(t, err)
	winner, _ := res.Winner.Value.Str()
	assert.Equal(t, "yes", winner)
	require.Len(t, res.Losers, 1)
	assert.Equal(t, "a3", res.Losers[0].AgentID)
}

func TestResolver_VotingTieFallsBackToPriority(t *testing.T) {
	results := []core.AgentResult{
		result("a1", core.StringValue("x"), 0.5, 1),
		result("a2", core.StringValue("y"), 0.5, 9),
	}
	conflicts := NewAnalyzer().Analyze("f", results)

	res, err := NewResolver(Voting).Resolve(conflicts, results)
	require.NoError(t, err)
	assert.Equal(t, "a2", res.Winner.AgentID)
}

func TestResolver_MergeMaps(t *testing.T) {
	results := []core.AgentResult{
		result("high", core.MapValue(map[string]core.Value{
			"name": core.StringValue("alpha"),
			"size": core.NumberValue(1),
		}), 0.5, 10),
		result("low", core.MapValue(map[string]core.Value{
			"size":  core.NumberValue(2),
			"extra": core.BoolValue(true),
		}), 0.5, 1),
	}
	conflicts := NewAnalyzer().Analyze("f", results)

	res, err := NewResolver(MergeMaps).Resolve(conflicts, results)
	require.NoError(t, err)

	merged, ok := res.Winner.Value.Map()
	require.True(t, ok)
	assert.Len(t, merged, 3)
	size, _ := merged["size"].Number()
	assert.Equal(t, 1.0, size) // colliding key goes to the higher priority agent
	require.Len(t, res.Losers, 1)
	assert.Equal(t, "low", res.Losers[0].AgentID)
}

func TestResolver_MergeRequiresMaps(t *testing.T) {
	results := []core.AgentResult{
		result("a1", core.MapValue(map[string]core.Value{"k": core.NumberValue(1)}), 0.5, 1),
		result("a2", core.StringValue("not a map"), 0.5, 2),
	}
	conflicts := NewAnalyzer().Analyze("f", results)

	_, err := NewResolver(MergeMaps).Resolve(conflicts, results)
	var unresolvable *UnresolvableError
	require.True(t, errors.As(err, &unresolvable))
	assert.Equal(t, MergeMaps, unresolvable.Strategy)
	assert.NotEmpty(t, unresolvable.Conflicts)
}

func TestResolver_CustomPanicsAreRecovered(t *testing.T) {
	r := NewResolver(Custom, WithCustomResolver(func([]Conflict, []core.AgentResult) (Resolution, error) {
		panic("bad resolver")
	}))

	results := yesYesNo()
	conflicts := NewAnalyzer().Analyze("f", results)

	var res Resolution
	var err error
	assert.NotPanics(t, func() {
		res, err = r.Resolve(conflicts, results)
	})
	var unresolvable *UnresolvableError
	require.True(t, errors.As(err, &unresolvable))
	assert.False(t, res.Resolved)
}

func TestResolver_NoSuccessfulResults(t *testing.T) {
	r := NewResolver(PriorityBased)
	_, err := r.Resolve(nil, []core.AgentResult{{AgentID: "a1", Succeeded: false}})
	var unresolvable *UnresolvableError
	assert.True(t, errors.As(err, &unresolvable))
}

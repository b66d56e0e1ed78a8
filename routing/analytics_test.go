package routing

import (
	"testing"

	"github.com/hupe1980/agentroute/core"
	"github.com/stretchr/testify/assert"
)

func TestAnalytics_SuccessRates(t *testing.T) {
	a := NewAnalytics()

	a.RecordDecision(core.RoutingMetrics{PathID: "fast", Strategy: "direct"})
	a.RecordDecision(core.RoutingMetrics{PathID: "fast", Strategy: "direct"})
	a.RecordDecision(core.RoutingMetrics{PathID: "heavy", Strategy: "parallel"})

	a.RecordOutcome(core.RoutingOutcome{PathID: "fast", Strategy: "direct", Success: true})
	a.RecordOutcome(core.RoutingOutcome{PathID: "fast", Strategy: "direct", Success: false})
	a.RecordOutcome(core.RoutingOutcome{PathID: "heavy", Strategy: "parallel", Success: true})

	fast := a.PathStats("fast")
	assert.Equal(t, 2, fast.Decisions)
	assert.Equal(t, 0.5, fast.SuccessRate())

	heavy := a.PathStats("heavy")
	assert.Equal(t, 1.0, heavy.SuccessRate())

	assert.Equal(t, 1.0, a.StrategyStats("parallel").SuccessRate())
	assert.Equal(t, []string{"heavy", "fast"}, a.TopPaths())

	// Unknown path has zero stats, not a panic.
	assert.Equal(t, PathStats{}, a.PathStats("missing"))
}

func TestMultiSink_PanicIsolated(t *testing.T) {
	a := NewAnalytics()
	m := NewMultiSink(panicSink{}, a, nil)

	assert.NotPanics(t, func() {
		m.RecordDecision(core.RoutingMetrics{PathID: "p", Strategy: "direct"})
		m.RecordOutcome(core.RoutingOutcome{PathID: "p", Strategy: "direct", Success: true})
		m.RecordSessionStats(core.SessionStatistics{SessionID: "s"})
	})

	// The healthy sink still received the records.
	assert.Equal(t, 1, a.PathStats("p").Decisions)
	assert.Equal(t, 1.0, a.PathStats("p").SuccessRate())
}

type panicSink struct{}

func (panicSink) RecordDecision(core.RoutingMetrics)        { panic("sink down") }
func (panicSink) RecordOutcome(core.RoutingOutcome)         { panic("sink down") }
func (panicSink) RecordSessionStats(core.SessionStatistics) { panic("sink down") }

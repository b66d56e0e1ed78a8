package routing

import (
	"sort"
	"sync"

	"github.com/hupe1980/agentroute/core"
)

// PathStats tracks decision and outcome counts for one path or strategy.
type PathStats struct {
	Decisions int `json:"decisions"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// SuccessRate returns successes over reported outcomes, or zero when no
// outcome has been reported yet.
func (s PathStats) SuccessRate() float64 {
	total := s.Successes + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Successes) / float64(total)
}

// Analytics tracks per-path and per-strategy success rates from routing
// telemetry. It implements core.MetricsSink so it can be wired directly into
// the orchestrator, alone or fanned out next to an external sink.
type Analytics struct {
	mu         sync.RWMutex
	paths      map[string]*PathStats
	strategies map[string]*PathStats
}

// NewAnalytics constructs an empty analytics accumulator.
func NewAnalytics() *Analytics {
	return &Analytics{paths: map[string]*PathStats{}, strategies: map[string]*PathStats{}}
}

// RecordDecision implements core.MetricsSink.
func (a *Analytics) RecordDecision(m core.RoutingMetrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pathLocked(m.PathID).Decisions++
	a.strategyLocked(m.Strategy).Decisions++
}

// RecordOutcome implements core.MetricsSink.
func (a *Analytics) RecordOutcome(o core.RoutingOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.pathLocked(o.PathID)
	s := a.strategyLocked(o.Strategy)
	if o.Success {
		p.Successes++
		s.Successes++
	} else {
		p.Failures++
		s.Failures++
	}
}

// RecordSessionStats implements core.MetricsSink. Session rollups carry no
// path attribution, so analytics ignores them.
func (a *Analytics) RecordSessionStats(core.SessionStatistics) {}

// PathStats returns a copy of the stats for one path.
func (a *Analytics) PathStats(pathID string) PathStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.paths[pathID]; ok {
		return *s
	}
	return PathStats{}
}

// StrategyStats returns a copy of the stats for one strategy.
func (a *Analytics) StrategyStats(strategy string) PathStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.strategies[strategy]; ok {
		return *s
	}
	return PathStats{}
}

// TopPaths returns path IDs ordered by success rate (highest first), ties
// broken by decision count then id.
func (a *Analytics) TopPaths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.paths))
	for id := range a.paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := a.paths[ids[i]], a.paths[ids[j]]
		if si.SuccessRate() != sj.SuccessRate() {
			return si.SuccessRate() > sj.SuccessRate()
		}
		if si.Decisions != sj.Decisions {
			return si.Decisions > sj.Decisions
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (a *Analytics) pathLocked(id string) *PathStats {
	s, ok := a.paths[id]
	if !ok {
		s = &PathStats{}
		a.paths[id] = s
	}
	return s
}

func (a *Analytics) strategyLocked(name string) *PathStats {
	s, ok := a.strategies[name]
	if !ok {
		s = &PathStats{}
		a.strategies[name] = s
	}
	return s
}

// MultiSink fans telemetry out to several sinks. Delivery is best effort and
// panic-isolated per sink so a misbehaving sink never fails the round.
type MultiSink struct {
	sinks []core.MetricsSink
}

// NewMultiSink combines sinks; nil entries are dropped.
func NewMultiSink(sinks ...core.MetricsSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// RecordDecision implements core.MetricsSink.
func (m *MultiSink) RecordDecision(rm core.RoutingMetrics) {
	for _, s := range m.sinks {
		safeRecord(func() { s.RecordDecision(rm) })
	}
}

// RecordOutcome implements core.MetricsSink.
func (m *MultiSink) RecordOutcome(o core.RoutingOutcome) {
	for _, s := range m.sinks {
		safeRecord(func() { s.RecordOutcome(o) })
	}
}

// RecordSessionStats implements core.MetricsSink.
func (m *MultiSink) RecordSessionStats(st core.SessionStatistics) {
	for _, s := range m.sinks {
		safeRecord(func() { s.RecordSessionStats(st) })
	}
}

func safeRecord(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

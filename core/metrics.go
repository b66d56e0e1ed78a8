package core

import "time"

// RoutingMetrics is the per-decision telemetry record handed to the metrics
// sink after every tree evaluation.
type RoutingMetrics struct {
	PathID              string        `json:"path_id"`
	Strategy            string        `json:"strategy"`
	DecisionLatency     time.Duration `json:"decision_latency"`
	ConditionsEvaluated int           `json:"conditions_evaluated"`
	PathsEvaluated      int           `json:"paths_evaluated"`
	EstimatedCost       float64       `json:"estimated_cost"`
	EstimatedTokens     int           `json:"estimated_tokens"`
}

// RoutingOutcome reports, after the fact, whether the chosen path succeeded.
// It feeds path/strategy success-rate tracking.
type RoutingOutcome struct {
	PathID   string `json:"path_id"`
	Strategy string `json:"strategy"`
	Success  bool   `json:"success"`
}

// AgentStats is the per-agent slice of a session's statistics rollup.
type AgentStats struct {
	Attempts  int           `json:"attempts"`
	Successes int           `json:"successes"`
	Failures  int           `json:"failures"`
	Cost      float64       `json:"cost"`
	Tokens    int           `json:"tokens"`
	Duration  time.Duration `json:"duration"`
}

// SessionStatistics is the rollup computed from a session's snapshots. It is
// available at any point in the lifecycle, including mid-execution.
type SessionStatistics struct {
	SessionID   string                `json:"session_id"`
	Status      string                `json:"status"`
	TotalCost   float64               `json:"total_cost"`
	TotalTokens int                   `json:"total_tokens"`
	Duration    time.Duration         `json:"duration"`
	PerAgent    map[string]AgentStats `json:"per_agent"`
}

// MetricsSink accepts routing and session telemetry. Sinks are fire-and-
// forget: implementations must not block the caller and must never return an
// error into the coordination path.
type MetricsSink interface {
	RecordDecision(m RoutingMetrics)
	RecordOutcome(o RoutingOutcome)
	RecordSessionStats(s SessionStatistics)
}

// NoopSink discards all telemetry. It is the default when no sink is wired.
type NoopSink struct{}

// RecordDecision discards the record.
func (NoopSink) RecordDecision(RoutingMetrics) {}

// RecordOutcome discards the record.
func (NoopSink) RecordOutcome(RoutingOutcome) {}

// RecordSessionStats discards the record.
func (NoopSink) RecordSessionStats(SessionStatistics) {}

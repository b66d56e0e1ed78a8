package logging

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newBufLogger(level LogLevel) (*AgentRouteLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: level, Format: "json", Output: &buf})
	return l, &buf
}

func TestLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufLogger(LogLevelWarn)

	l.Debug("quiet")
	l.Info("quiet")
	assert.Empty(t, buf.String())

	l.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestLogger_WithComponentAndSession(t *testing.T) {
	l, buf := newBufLogger(LogLevelInfo)

	l.WithComponent("coordinator").WithSession("s1", "t1").Info("hello")

	out := buf.String()
	assert.Contains(t, out, `"component":"coordinator"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, `"task_id":"t1"`)

	// The parent logger is unchanged by the With* clones.
	buf.Reset()
	l.Info("plain")
	assert.NotContains(t, buf.String(), "component")
}

func TestLogger_LogRoutingDecision(t *testing.T) {
	l, buf := newBufLogger(LogLevelInfo)

	l.LogRoutingDecision("path_fast", false, 3, 2*time.Millisecond)

	out := buf.String()
	assert.Contains(t, out, "Routing decision")
	assert.Contains(t, out, `"path_id":"path_fast"`)
	assert.Contains(t, out, `"conditions_evaluated":3`)
}

func TestLogger_LogDispatch(t *testing.T) {
	l, buf := newBufLogger(LogLevelInfo)

	l.LogDispatch("a1", 1, time.Millisecond, true, nil)
	assert.Contains(t, buf.String(), "Dispatch completed")

	buf.Reset()
	l.LogDispatch("a1", 2, time.Millisecond, false, errors.New("backend down"))
	out := buf.String()
	assert.Contains(t, out, "Dispatch failed")
	assert.Contains(t, out, "backend down")
	assert.Contains(t, out, `"attempt":2`)
}

func TestLogger_LogAggregation(t *testing.T) {
	l, buf := newBufLogger(LogLevelInfo)

	l.LogAggregation("majority_vote", 3, 0.67, time.Millisecond, nil)
	assert.Contains(t, buf.String(), "Aggregation completed")

	buf.Reset()
	l.LogAggregation("merge", 2, 0, time.Millisecond, errors.New("key collision"))
	out := buf.String()
	assert.Contains(t, out, "Aggregation failed")
	assert.Contains(t, out, "key collision")
}

func TestLogger_ErrorWithStack(t *testing.T) {
	l, buf := newBufLogger(LogLevelInfo)

	l.ErrorWithStack(errors.New("boom"), "worker panicked: agent %s", "a1")

	out := buf.String()
	assert.Contains(t, out, "worker panicked: agent a1")
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, "stack_trace")
}

func TestLogger_StartTimer(t *testing.T) {
	l, buf := newBufLogger(LogLevelInfo)

	done := l.StartTimer("coordinate")
	done()

	out := buf.String()
	assert.Contains(t, out, "Operation completed")
	assert.Contains(t, out, "coordinate")
}

package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentroute/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	sess, err := m.CreateSession(ctx, "s1", "task-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, sess.Status)
	assert.Equal(t, "task-1", sess.TaskID)

	require.NoError(t, m.Start(ctx, "s1"))
	require.NoError(t, m.MarkExecuting(ctx, "s1", "path_fast", "parallel"))
	require.NoError(t, m.Pause(ctx, "s1"))
	require.NoError(t, m.Resume(ctx, "s1"))
	require.NoError(t, m.Complete(ctx, "s1"))

	sess, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Equal(t, "path_fast", sess.PathID)
	assert.Equal(t, "parallel", sess.Strategy)
	assert.False(t, sess.StartedAt.IsZero())
	assert.False(t, sess.CompletedAt.IsZero())
}

func TestManager_GeneratesID(t *testing.T) {
	m := NewManager()
	sess, err := m.CreateSession(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
}

func TestManager_IllegalTransition(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)

	// Created cannot pause.
	err = m.Pause(ctx, "s1")
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StatusCreated, te.From)
	assert.Equal(t, StatusPaused, te.To)
	assert.False(t, te.Terminal)
}

func TestManager_TerminalSessionsAreImmutable(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, "s1"))
	require.NoError(t, m.Cancel(ctx, "s1"))

	var te *TransitionError
	err = m.Start(ctx, "s1")
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Terminal)

	err = m.RecordAgentResult(ctx, "s1", core.AgentResult{AgentID: "a1", Succeeded: true})
	require.True(t, errors.As(err, &te))
	assert.True(t, te.Terminal)

	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, sess.Status)
	assert.Empty(t, sess.Results)
}

// UpdatedAt must never move backwards, even when the wall clock does.
func TestManager_UpdatedAtIsMonotonic(t *testing.T) {
	now := time.Unix(1000, 0)
	m := NewManager(withClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)

	now = now.Add(-time.Minute) // clock skew
	require.NoError(t, m.Start(ctx, "s1"))

	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1000, 0), sess.UpdatedAt)

	now = time.Unix(2000, 0)
	require.NoError(t, m.MarkExecuting(ctx, "s1", "p", "direct"))
	sess, err = m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, time.Unix(2000, 0), sess.UpdatedAt)
}

func TestManager_Statistics(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, "s1"))
	require.NoError(t, m.MarkExecuting(ctx, "s1", "p", "parallel"))

	require.NoError(t, m.RecordAgentResult(ctx, "s1", core.AgentResult{
		AgentID: "a1", Succeeded: true, Cost: 0.5, Tokens: 100, Duration: time.Second,
	}))
	require.NoError(t, m.RecordAgentResult(ctx, "s1", core.AgentResult{
		AgentID: "a1", Succeeded: false, Err: errors.New("boom"), Cost: 0.1, Tokens: 20,
	}))
	require.NoError(t, m.RecordAgentResult(ctx, "s1", core.AgentResult{
		AgentID: "a2", Succeeded: true, Cost: 1.0, Tokens: 300,
	}))

	// Statistics are available mid-execution.
	stats, err := m.Statistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "executing", stats.Status)
	assert.InDelta(t, 1.6, stats.TotalCost, 1e-9)
	assert.Equal(t, 420, stats.TotalTokens)
	assert.Equal(t, 2, stats.PerAgent["a1"].Attempts)
	assert.Equal(t, 1, stats.PerAgent["a1"].Failures)
	assert.Equal(t, 1, stats.PerAgent["a2"].Successes)

	require.NoError(t, m.Complete(ctx, "s1"))
	stats, err = m.Statistics(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", stats.Status)
}

func TestManager_FailRecordsError(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Fail(ctx, "s1", errors.New("quorum not reached")))

	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, sess.Status)
	assert.Equal(t, "quorum not reached", sess.Error)
}

func TestManager_UnknownSession(t *testing.T) {
	m := NewManager()
	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusCreated.CanTransition(StatusStarted))
	assert.True(t, StatusExecuting.CanTransition(StatusPaused))
	assert.True(t, StatusPaused.CanTransition(StatusExecuting))
	assert.False(t, StatusCreated.CanTransition(StatusExecuting))
	assert.False(t, StatusCompleted.CanTransition(StatusStarted))
	assert.True(t, StatusFailed.Terminal())
}

// countingStore wraps a store and counts Save calls.
type countingStore struct {
	Store
	saves int
}

func (s *countingStore) Save(ctx context.Context, sess *AgentSession) error {
	s.saves++
	return s.Store.Save(ctx, sess)
}

// The store is a boundary concern: creation and terminal transitions flush,
// everything in between stays in memory.
func TestManager_StoreTouchedOnlyAtBoundaries(t *testing.T) {
	cs := &countingStore{Store: NewInMemoryStore()}
	m := NewManager(WithStore(cs))
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, "s1"))
	require.NoError(t, m.MarkExecuting(ctx, "s1", "p", "parallel"))
	require.NoError(t, m.RecordAgentResult(ctx, "s1", core.AgentResult{AgentID: "a1", Succeeded: true}))
	assert.Equal(t, 1, cs.saves) // creation only

	require.NoError(t, m.Complete(ctx, "s1"))
	assert.Equal(t, 2, cs.saves) // terminal flush

	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Len(t, sess.Results, 1) // results survive the terminal flush
}

// flakyStore accepts the first Save and fails every later one.
type flakyStore struct {
	Store
	saves int
}

func (s *flakyStore) Save(ctx context.Context, sess *AgentSession) error {
	s.saves++
	if s.saves > 1 {
		return errors.New("store unavailable")
	}
	return s.Store.Save(ctx, sess)
}

func TestManager_MidRoundSurvivesStoreOutage(t *testing.T) {
	fs := &flakyStore{Store: NewInMemoryStore()}
	m := NewManager(WithStore(fs))
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, "s1"))
	require.NoError(t, m.MarkExecuting(ctx, "s1", "p", "direct"))
	require.NoError(t, m.RecordAgentResult(ctx, "s1", core.AgentResult{AgentID: "a1", Succeeded: true}))

	// The terminal flush does hit the store and surfaces its error.
	require.Error(t, m.Complete(ctx, "s1"))

	// The live session is untouched, so the transition can be retried.
	sess, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, sess.Status)
	assert.Len(t, sess.Results, 1)
}

func TestManager_ClonesAreIndependent(t *testing.T) {
	m := NewManager()
	ctx := context.Background()
	sess, err := m.CreateSession(ctx, "s1", "")
	require.NoError(t, err)

	sess.Status = StatusCompleted // mutating the clone must not leak back
	got, err := m.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, got.Status)
}

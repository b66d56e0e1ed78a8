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

func TestInMemoryStore_Roundtrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	sess := &AgentSession{ID: "s1", Status: StatusExecuting, Metadata: map[string]string{"k": "v"}}
	require.NoError(t, s.Save(ctx, sess))

	// The store must not alias the saved pointer.
	sess.Status = StatusFailed

	got, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)
	assert.Equal(t, "v", got.Metadata["k"])

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, s.Delete(ctx, "s1"))
	_, err = s.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncodeDecodeSession(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sess := &AgentSession{
		ID:        "s1",
		TaskID:    "t1",
		Status:    StatusExecuting,
		PathID:    "path_fast",
		Strategy:  "parallel",
		CreatedAt: created,
		UpdatedAt: created.Add(time.Second),
		StartedAt: created,
		Results: []core.AgentResult{
			{
				AgentID:    "a1",
				Value:      core.MapValue(map[string]core.Value{"answer": core.StringValue("yes")}),
				Confidence: 0.8,
				Priority:   2,
				Succeeded:  true,
				Duration:   250 * time.Millisecond,
				Cost:       0.02,
				Tokens:     120,
			},
			{
				AgentID:   "a2",
				Value:     core.Null(),
				Succeeded: false,
				Err:       errors.New("timeout"),
			},
		},
	}

	data, err := encodeSession(sess)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"executing"`)

	got, err := decodeSession(data)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)
	assert.Equal(t, "path_fast", got.PathID)
	require.Len(t, got.Results, 2)

	m, ok := got.Results[0].Value.Map()
	require.True(t, ok)
	answer, _ := m["answer"].Str()
	assert.Equal(t, "yes", answer)
	assert.Equal(t, 120, got.Results[0].Tokens)

	require.Error(t, got.Results[1].Err)
	assert.Equal(t, "timeout", got.Results[1].Err.Error())
	assert.True(t, got.Results[1].Value.IsNull())
}

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hupe1980/agentroute/core"
)

// storedResult is the JSON form of a core.AgentResult. Value round-trips
// through plain Go types and the error collapses to its message.
type storedResult struct {
	AgentID    string        `json:"agent_id"`
	Value      any           `json:"value,omitempty"`
	Confidence float64       `json:"confidence"`
	Priority   int           `json:"priority"`
	Succeeded  bool          `json:"succeeded"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Cost       float64       `json:"cost"`
	Tokens     int           `json:"tokens"`
}

// storedSession is the JSON form persisted to Redis.
type storedSession struct {
	AgentSession
	Results []storedResult `json:"results,omitempty"`
}

func encodeSession(sess *AgentSession) ([]byte, error) {
	stored := storedSession{AgentSession: *sess}
	for _, r := range sess.Results {
		rec := storedResult{
			AgentID:    r.AgentID,
			Value:      r.Value.Any(),
			Confidence: r.Confidence,
			Priority:   r.Priority,
			Succeeded:  r.Succeeded,
			Duration:   r.Duration,
			Cost:       r.Cost,
			Tokens:     r.Tokens,
		}
		if r.Err != nil {
			rec.Error = r.Err.Error()
		}
		stored.Results = append(stored.Results, rec)
	}
	return json.Marshal(stored)
}

func decodeSession(data []byte) (*AgentSession, error) {
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	sess := stored.AgentSession
	sess.Results = make([]core.AgentResult, 0, len(stored.Results))
	for _, rec := range stored.Results {
		r := core.AgentResult{
			AgentID:    rec.AgentID,
			Value:      core.FromAny(rec.Value),
			Confidence: rec.Confidence,
			Priority:   rec.Priority,
			Succeeded:  rec.Succeeded,
			Duration:   rec.Duration,
			Cost:       rec.Cost,
			Tokens:     rec.Tokens,
		}
		if rec.Error != "" {
			r.Err = errors.New(rec.Error)
		}
		sess.Results = append(sess.Results, r)
	}
	return &sess, nil
}

// RedisStore persists sessions as JSON blobs in Redis, one key per session.
// It lets coordination survive process restarts and be inspected with plain
// redis-cli.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the default "agentroute:session:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithTTL expires session keys after d. Zero means keys never expire.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore constructs a store on top of an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, keyPrefix: "agentroute:session:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) key(id string) string { return s.keyPrefix + id }

// Save writes the session snapshot.
func (s *RedisStore) Save(ctx context.Context, sess *AgentSession) error {
	data, err := encodeSession(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load reads and decodes the session or returns ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, id string) (*AgentSession, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeSession(data)
}

// Delete removes the session key.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// List scans for all session keys under the prefix.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(s.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return ids, nil
}

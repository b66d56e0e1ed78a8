package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentroute/core"
	"github.com/hupe1980/agentroute/logging"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// TransitionError reports an illegal state machine edge. Transitions out of a
// terminal status always fail with Terminal set.
type TransitionError struct {
	SessionID string
	From      Status
	To        Status
	Terminal  bool
}

// Error implements error.
func (e *TransitionError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("session %s is terminal (%s), cannot transition to %s", e.SessionID, e.From, e.To)
	}
	return fmt.Sprintf("session %s: illegal transition %s -> %s", e.SessionID, e.From, e.To)
}

// Manager owns session lifecycle state. It is the sole writer: every mutation
// goes through the manager under its lock, and concurrent readers only ever
// observe clones of consistent snapshots. Live sessions are held in memory
// and are authoritative during execution; the store is touched only at
// session boundaries (creation and terminal transitions), so a transient
// store outage cannot fail a round in flight.
type Manager struct {
	mu     sync.Mutex
	live   map[string]*AgentSession
	store  Store
	logger logging.Logger
	clock  func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithStore sets the persistence backend. Default is an InMemoryStore.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// withClock overrides the time source in tests.
func withClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager constructs a Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		live:   map[string]*AgentSession{},
		store:  NewInMemoryStore(),
		logger: logging.NoOpLogger{},
		clock:  time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// CreateSession allocates a new session in StatusCreated. An empty id gets a
// generated one.
func (m *Manager) CreateSession(ctx context.Context, id, taskID string) (*AgentSession, error) {
	if id == "" {
		id = core.NewID()
	}
	now := m.clock()
	sess := &AgentSession{
		ID:        id,
		TaskID:    taskID,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	m.live[id] = sess
	m.logger.Info("session created", "session_id", id, "task_id", taskID)
	return sess.Clone(), nil
}

// Get returns a clone of the session.
func (m *Manager) Get(ctx context.Context, id string) (*AgentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// lookup returns the tracked session, falling back to the store for sessions
// that are no longer live. Non-terminal store sessions are adopted back into
// the live set so a restarted manager can resume them. Caller holds the lock.
func (m *Manager) lookup(ctx context.Context, id string) (*AgentSession, error) {
	if sess, ok := m.live[id]; ok {
		return sess, nil
	}
	sess, err := m.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Status.Terminal() {
		m.live[id] = sess
	}
	return sess, nil
}

// Start moves the session to StatusStarted and stamps StartedAt.
func (m *Manager) Start(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusStarted, func(s *AgentSession) {
		s.StartedAt = s.UpdatedAt
	})
}

// MarkExecuting moves the session to StatusExecuting. It records the routing
// decision that led to execution.
func (m *Manager) MarkExecuting(ctx context.Context, id, pathID, strategy string) error {
	return m.transition(ctx, id, StatusExecuting, func(s *AgentSession) {
		s.PathID = pathID
		s.Strategy = strategy
	})
}

// Pause suspends an executing session.
func (m *Manager) Pause(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusPaused, nil)
}

// Resume returns a paused session to StatusExecuting.
func (m *Manager) Resume(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusExecuting, nil)
}

// Complete marks the session terminal with success.
func (m *Manager) Complete(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusCompleted, func(s *AgentSession) {
		s.CompletedAt = s.UpdatedAt
	})
}

// Fail marks the session terminal with the given error.
func (m *Manager) Fail(ctx context.Context, id string, cause error) error {
	return m.transition(ctx, id, StatusFailed, func(s *AgentSession) {
		s.CompletedAt = s.UpdatedAt
		if cause != nil {
			s.Error = cause.Error()
		}
	})
}

// Cancel marks the session terminal as cancelled.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.transition(ctx, id, StatusCancelled, func(s *AgentSession) {
		s.CompletedAt = s.UpdatedAt
	})
}

// RecordAgentResult appends a worker result to a live session. Results cannot
// be recorded on terminal sessions. The append is in-memory only; results
// reach the store with the terminal flush.
func (m *Manager) RecordAgentResult(ctx context.Context, id string, result core.AgentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return &TransitionError{SessionID: id, From: sess.Status, To: sess.Status, Terminal: true}
	}
	sess.Results = append(sess.Results, result)
	if now := m.clock(); now.After(sess.UpdatedAt) {
		sess.UpdatedAt = now
	}
	return nil
}

// Statistics returns the rollup for the session, valid mid-execution.
func (m *Manager) Statistics(ctx context.Context, id string) (core.SessionStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, err := m.lookup(ctx, id)
	if err != nil {
		return core.SessionStatistics{}, err
	}
	return sess.Statistics(), nil
}

func (m *Manager) transition(ctx context.Context, id string, to Status, mutate func(*AgentSession)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.Terminal() {
		return &TransitionError{SessionID: id, From: sess.Status, To: to, Terminal: true}
	}
	if !sess.Status.CanTransition(to) {
		return &TransitionError{SessionID: id, From: sess.Status, To: to}
	}

	next := sess.Clone()
	next.Status = to
	now := m.clock()
	// UpdatedAt never moves backwards, even with a skewed clock.
	if now.After(next.UpdatedAt) {
		next.UpdatedAt = now
	}
	if mutate != nil {
		mutate(next)
	}
	if to.Terminal() {
		// Terminal transitions are a persistence boundary: the full session,
		// results included, is flushed to the store. A flush failure leaves
		// the live session untouched so the transition can be retried.
		if err := m.store.Save(ctx, next); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		delete(m.live, id)
	} else {
		m.live[id] = next
	}
	m.logger.Debug("session transition", "session_id", id, "from", sess.Status.String(), "to", to.String())
	return nil
}

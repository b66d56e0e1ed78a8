// Package session tracks the lifecycle of coordination rounds. The Manager
// is the sole writer; Store implementations only persist snapshots it hands
// them.
//
// Additional backends (Postgres, Firestore, etc.) can be added without
// changing any calling code, only the wiring layer picks the implementation.
package session

import (
	"context"
	"sync"
)

// Store persists session snapshots. Implementations must be safe for
// concurrent use and must not retain the pointer passed to Save.
type Store interface {
	Save(ctx context.Context, sess *AgentSession) error
	Load(ctx context.Context, id string) (*AgentSession, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// InMemoryStore is a volatile Store keeping sessions in a process local map.
// It is the default backend and the one used in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*AgentSession
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*AgentSession)}
}

// Save stores a clone of the snapshot.
func (s *InMemoryStore) Save(_ context.Context, sess *AgentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Load returns a clone of the stored session or ErrNotFound.
func (s *InMemoryStore) Load(_ context.Context, id string) (*AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Delete removes the session; deleting an unknown id is a no-op.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// List returns the ids of all stored sessions.
func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

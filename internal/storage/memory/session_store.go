package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
)

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]storage.Session // key: user
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]storage.Session)}
}

// Open records a new session unless the user already has one
func (s *sessionStore) Open(ctx context.Context, session storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.User]; exists {
		return storage.ErrSessionExists
	}

	s.sessions[session.User] = session
	return nil
}

// Close removes the user's session and reports how long it was open
func (s *sessionStore) Close(ctx context.Context, user string, now time.Time) (*storage.ClosedSession, error) {
	s.mu.Lock()
	session, exists := s.sessions[user]
	if exists {
		delete(s.sessions, user)
	}
	s.mu.Unlock()

	if !exists {
		return nil, storage.ErrNoSession
	}

	d, skewed := storage.Elapsed(session.StartedAt, now)
	return &storage.ClosedSession{
		Session:  session,
		EndedAt:  now,
		Duration: d,
		Skewed:   skewed,
	}, nil
}

// Peek returns the user's open session without modifying it
func (s *sessionStore) Peek(ctx context.Context, user string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[user]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &session, nil
}

// List returns all open sessions ordered by start time
func (s *sessionStore) List(ctx context.Context) ([]storage.Session, error) {
	s.mu.RLock()
	sessions := make([]storage.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].User < sessions[j].User
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	return sessions, nil
}

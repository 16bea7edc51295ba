package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
	keys   keys
}

// Open atomically creates a session unless the user already has one
func (s *sessionStore) Open(ctx context.Context, session storage.Session) error {
	keys := []string{s.keys.session(session.User), s.keys.openSessions()}
	args := []interface{}{
		session.ID,
		session.User,
		session.Task,
		session.StartedAt.Format(time.RFC3339Nano),
	}

	created, err := openSession.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if created == 0 {
		return storage.ErrSessionExists
	}
	return nil
}

// Close atomically removes the user's session and computes its duration
func (s *sessionStore) Close(ctx context.Context, user string, now time.Time) (*storage.ClosedSession, error) {
	keys := []string{s.keys.session(user), s.keys.openSessions()}

	reply, err := closeSession.Run(ctx, s.client, keys, user).Slice()
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if len(reply) == 0 {
		return nil, storage.ErrNoSession
	}

	data, err := pairsToMap(reply)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}

	session, err := parseSession(data)
	if err != nil {
		return nil, err
	}

	d, skewed := storage.Elapsed(session.StartedAt, now)
	return &storage.ClosedSession{
		Session:  *session,
		EndedAt:  now,
		Duration: d,
		Skewed:   skewed,
	}, nil
}

// Peek retrieves the user's open session
func (s *sessionStore) Peek(ctx context.Context, user string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, s.keys.session(user)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseSession(data)
}

// List returns all open sessions ordered by start time
func (s *sessionStore) List(ctx context.Context) ([]storage.Session, error) {
	users, err := s.client.SMembers(ctx, s.keys.openSessions()).Result()
	if err != nil {
		return nil, err
	}

	if len(users) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(users))

	for i, user := range users {
		cmds[i] = pipe.HGetAll(ctx, s.keys.session(user))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.Session, 0, len(users))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			// Closed between SMEMBERS and HGETALL
			continue
		}

		session, err := parseSession(data)
		if err == nil {
			sessions = append(sessions, *session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].User < sessions[j].User
		}
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	return sessions, nil
}

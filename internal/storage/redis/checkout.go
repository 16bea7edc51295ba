package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
)

// Checkout closes the user's session and adds its duration to the ledger in
// one script call, so no other client ever sees the session gone but its
// time missing. The session is read first to compute the duration in Go;
// the script then only commits if that same session is still open.
func (s *sessionStore) Checkout(ctx context.Context, user string, now time.Time) (*storage.ClosedSession, error) {
	for attempt := 0; attempt < maxScriptAttempts; attempt++ {
		data, err := s.client.HGetAll(ctx, s.keys.session(user)).Result()
		if err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
		if len(data) == 0 {
			return nil, storage.ErrNoSession
		}

		session, err := parseSession(data)
		if err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}

		d, skewed := storage.Elapsed(session.StartedAt, now)

		keys := []string{
			s.keys.session(user),
			s.keys.openSessions(),
			s.keys.ledgerUsers(),
			s.keys.ledgerTotals(user),
			s.keys.ledgerTasks(user),
		}
		done, err := checkout.Run(ctx, s.client, keys, user, session.ID, session.Task, int64(d)).Int()
		if err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
		if done == 0 {
			// Closed or replaced by another client since the read
			continue
		}

		return &storage.ClosedSession{
			Session:  *session,
			EndedAt:  now,
			Duration: d,
			Skewed:   skewed,
		}, nil
	}

	return nil, fmt.Errorf("checkout %s: session kept changing after %d attempts", user, maxScriptAttempts)
}

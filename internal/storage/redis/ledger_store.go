package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/redis/go-redis/v9"
)

// maxScriptAttempts bounds the read-then-run loops that retry when another
// client changes the data between the read and the script.
const maxScriptAttempts = 10

type ledgerStore struct {
	client *redis.Client
	keys   keys
}

// Accumulate atomically increments (or creates) the (user, task) total
func (s *ledgerStore) Accumulate(ctx context.Context, user, task string, d time.Duration) error {
	keys := []string{s.keys.ledgerUsers(), s.keys.ledgerTotals(user), s.keys.ledgerTasks(user)}
	args := []interface{}{user, task, int64(d)}

	if err := accumulate.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("accumulate %s/%s: %w", user, task, err)
	}
	return nil
}

// Snapshot reads the whole ledger in a single script call. The user list
// is read first so the script can declare every key it touches; if a new
// user lands in between, the script refuses and the read is retried.
func (s *ledgerStore) Snapshot(ctx context.Context) ([]storage.UserLedger, error) {
	for attempt := 0; attempt < maxScriptAttempts; attempt++ {
		users, err := s.client.LRange(ctx, s.keys.ledgerUsers(), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("ledger snapshot: %w", err)
		}

		keys := make([]string, 0, 1+2*len(users))
		keys = append(keys, s.keys.ledgerUsers())
		for _, user := range users {
			keys = append(keys, s.keys.ledgerTotals(user), s.keys.ledgerTasks(user))
		}

		reply, err := snapshot.Run(ctx, s.client, keys, len(users)).Slice()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ledger snapshot: %w", err)
		}

		return parseSnapshot(reply)
	}

	return nil, fmt.Errorf("ledger snapshot: user list kept changing after %d attempts", maxScriptAttempts)
}

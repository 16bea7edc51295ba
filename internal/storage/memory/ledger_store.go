package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
)

// userLedger keeps one user's totals in order of first completion.
type userLedger struct {
	index  map[string]int // task -> position in totals
	totals []storage.TaskTotal
}

type ledgerStore struct {
	mu    sync.RWMutex
	users map[string]*userLedger
	order []string // users in order of first completion
}

func newLedgerStore() *ledgerStore {
	return &ledgerStore{users: make(map[string]*userLedger)}
}

// Accumulate adds d to the (user, task) entry, creating it if needed
func (s *ledgerStore) Accumulate(ctx context.Context, user, task string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ul, exists := s.users[user]
	if !exists {
		ul = &userLedger{index: make(map[string]int)}
		s.users[user] = ul
		s.order = append(s.order, user)
	}

	if i, ok := ul.index[task]; ok {
		ul.totals[i].Accumulated += d
		return nil
	}

	ul.index[task] = len(ul.totals)
	ul.totals = append(ul.totals, storage.TaskTotal{Task: task, Accumulated: d})
	return nil
}

// Snapshot returns a deep copy of the ledger grouped by user
func (s *ledgerStore) Snapshot(ctx context.Context) ([]storage.UserLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make([]storage.UserLedger, 0, len(s.order))
	for _, user := range s.order {
		ul := s.users[user]
		tasks := make([]storage.TaskTotal, len(ul.totals))
		copy(tasks, ul.totals)
		snapshot = append(snapshot, storage.UserLedger{User: user, Tasks: tasks})
	}

	return snapshot, nil
}

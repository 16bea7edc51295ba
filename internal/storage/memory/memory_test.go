package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
)

func TestSessionStoreOpenConflict(t *testing.T) {
	store := Open()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	if err := store.Sessions().Open(ctx, storage.Session{ID: "s1", User: "alice", Task: "writing", StartedAt: start}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	err := store.Sessions().Open(ctx, storage.Session{ID: "s2", User: "alice", Task: "reading", StartedAt: start})
	if !errors.Is(err, storage.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	session, err := store.Sessions().Peek(ctx, "alice")
	if err != nil {
		t.Fatalf("peek session: %v", err)
	}
	if session.Task != "writing" {
		t.Fatalf("expected task writing, got %s", session.Task)
	}
}

func TestSessionStoreClose(t *testing.T) {
	store := Open()
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	if _, err := store.Sessions().Close(ctx, "bob", start); !errors.Is(err, storage.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	if err := store.Sessions().Open(ctx, storage.Session{ID: "s1", User: "bob", Task: "cooking", StartedAt: start}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	closed, err := store.Sessions().Close(ctx, "bob", start.Add(90*time.Second))
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if closed.Task != "cooking" {
		t.Fatalf("expected task cooking, got %s", closed.Task)
	}
	if closed.Duration != 90*time.Second {
		t.Fatalf("expected 90s, got %s", closed.Duration)
	}

	if _, err := store.Sessions().Peek(ctx, "bob"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after close, got %v", err)
	}
}

func TestSessionStoreCloseClampsSkew(t *testing.T) {
	store := Open()
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	if err := store.Sessions().Open(ctx, storage.Session{ID: "s1", User: "carol", Task: "t", StartedAt: start}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	closed, err := store.Sessions().Close(ctx, "carol", start.Add(-time.Minute))
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if closed.Duration != 0 || !closed.Skewed {
		t.Fatalf("expected clamped zero duration, got %s (skewed=%v)", closed.Duration, closed.Skewed)
	}
}

func TestSessionStoreList(t *testing.T) {
	store := Open()
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	_ = store.Sessions().Open(ctx, storage.Session{ID: "s2", User: "bob", Task: "b", StartedAt: start.Add(time.Minute)})
	_ = store.Sessions().Open(ctx, storage.Session{ID: "s1", User: "alice", Task: "a", StartedAt: start})

	sessions, err := store.Sessions().List(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].User != "alice" || sessions[1].User != "bob" {
		t.Fatalf("expected sessions ordered by start, got %s, %s", sessions[0].User, sessions[1].User)
	}
}

func TestLedgerStoreAccumulateOrder(t *testing.T) {
	store := Open()
	ctx := context.Background()
	ledger := store.Ledger()

	snapshot, err := ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 0 {
		t.Fatalf("expected empty snapshot, got %d users", len(snapshot))
	}

	steps := []struct {
		user, task string
		d          time.Duration
	}{
		{"mary", "zebra", 10 * time.Second},
		{"bob", "eat banana", 20 * time.Second},
		{"mary", "apple", 5 * time.Second},
		{"mary", "zebra", 30 * time.Second},
	}
	for _, s := range steps {
		if err := ledger.Accumulate(ctx, s.user, s.task, s.d); err != nil {
			t.Fatalf("accumulate: %v", err)
		}
	}

	snapshot, err = ledger.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	want := []storage.UserLedger{
		{User: "mary", Tasks: []storage.TaskTotal{
			{Task: "zebra", Accumulated: 40 * time.Second},
			{Task: "apple", Accumulated: 5 * time.Second},
		}},
		{User: "bob", Tasks: []storage.TaskTotal{
			{Task: "eat banana", Accumulated: 20 * time.Second},
		}},
	}
	if len(snapshot) != len(want) {
		t.Fatalf("expected %d users, got %d", len(want), len(snapshot))
	}
	for i := range want {
		if snapshot[i].User != want[i].User {
			t.Fatalf("user %d: expected %s, got %s", i, want[i].User, snapshot[i].User)
		}
		if len(snapshot[i].Tasks) != len(want[i].Tasks) {
			t.Fatalf("user %s: expected %d tasks, got %d", want[i].User, len(want[i].Tasks), len(snapshot[i].Tasks))
		}
		for j := range want[i].Tasks {
			if snapshot[i].Tasks[j] != want[i].Tasks[j] {
				t.Errorf("user %s task %d: expected %+v, got %+v", want[i].User, j, want[i].Tasks[j], snapshot[i].Tasks[j])
			}
		}
	}
}

func TestLedgerStoreSnapshotIsCopy(t *testing.T) {
	store := Open()
	ctx := context.Background()

	_ = store.Ledger().Accumulate(ctx, "alice", "writing", time.Minute)

	first, _ := store.Ledger().Snapshot(ctx)
	first[0].Tasks[0].Accumulated = time.Hour

	second, _ := store.Ledger().Snapshot(ctx)
	if second[0].Tasks[0].Accumulated != time.Minute {
		t.Fatalf("snapshot mutation leaked into store: %s", second[0].Tasks[0].Accumulated)
	}
}

func TestSessionStoreConcurrentClose(t *testing.T) {
	store := Open()
	ctx := context.Background()
	start := time.Now()

	if err := store.Sessions().Open(ctx, storage.Session{ID: "s1", User: "bob", Task: "t", StartedAt: start}); err != nil {
		t.Fatalf("open session: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Sessions().Close(ctx, "bob", start.Add(time.Second))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, storage.ErrNoSession):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one successful close, got %d", succeeded)
	}
}

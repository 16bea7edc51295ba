package tracking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/goodtune/tasktracker/internal/metrics"
	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const stripeCount = 64

// Report is a point-in-time view of the ledger, grouped by user in order
// of first completion.
type Report struct {
	Users []storage.UserLedger
}

// Empty reports whether no session has ever been completed.
func (r Report) Empty() bool {
	return len(r.Users) == 0
}

// Tracker coordinates check-ins and check-outs against the session and
// ledger stores. It holds no tracking state of its own.
type Tracker struct {
	sessions storage.SessionStore
	ledger   storage.LedgerStore
	clock    Clock

	// checkouter is set when the session store can close and accumulate
	// in one step on the ledger's backend.
	checkouter storage.Checkouter

	logger   zerolog.Logger

	// stripes serialize operations per user.
	stripes [stripeCount]sync.Mutex

	// commit is held shared across close+accumulate and exclusively while
	// a report is copied, so reports never observe half a checkout.
	commit sync.RWMutex
}

// NewTracker creates a new tracker. A nil clock uses the system time.
// If sessions implements storage.Checkouter it must write to the same
// backend as ledger; checkouts then go through it instead of separate
// Close and Accumulate calls.
func NewTracker(sessions storage.SessionStore, ledger storage.LedgerStore, clock Clock, logger zerolog.Logger) *Tracker {
	if clock == nil {
		clock = RealClock{}
	}

	t := &Tracker{
		sessions: sessions,
		ledger:   ledger,
		clock:    clock,
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
	if c, ok := sessions.(storage.Checkouter); ok {
		t.checkouter = c
	}
	return t
}

// Checkin starts a session for user on task.
func (t *Tracker) Checkin(ctx context.Context, user, task string) (*storage.Session, error) {
	user = strings.TrimSpace(user)
	task = strings.TrimSpace(task)
	if user == "" || task == "" {
		metrics.CheckinsTotal.WithLabelValues("invalid").Inc()
		return nil, newError(ErrInvalidInput, "either user or task is an empty string")
	}

	mu := t.stripe(user)
	mu.Lock()
	defer mu.Unlock()

	session := storage.Session{
		ID:        uuid.NewString(),
		User:      user,
		Task:      task,
		StartedAt: t.clock.Now(),
	}

	if err := t.sessions.Open(ctx, session); err != nil {
		if errors.Is(err, storage.ErrSessionExists) {
			metrics.CheckinsTotal.WithLabelValues("conflict").Inc()
			t.logger.Debug().
				Str("user", user).
				Str("task", task).
				Msg("Check-in rejected, user already has an active task")
			return nil, newError(ErrAlreadyCheckedIn, fmt.Sprintf("%s already has an active task", user))
		}
		metrics.CheckinsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	metrics.CheckinsTotal.WithLabelValues("ok").Inc()

	t.logger.Info().
		Str("session_id", session.ID).
		Str("user", user).
		Str("task", task).
		Msg("Checked in")

	return &session, nil
}

// Checkout closes the user's session and adds its duration to the ledger.
func (t *Tracker) Checkout(ctx context.Context, user string) (*storage.ClosedSession, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		metrics.CheckoutsTotal.WithLabelValues("invalid").Inc()
		return nil, newError(ErrInvalidInput, "user is an empty string")
	}

	mu := t.stripe(user)
	mu.Lock()
	defer mu.Unlock()

	closed, err := t.closeAndAccumulate(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrNoSession) {
			metrics.CheckoutsTotal.WithLabelValues("not_checked_in").Inc()
			return nil, newError(ErrNotCheckedIn, fmt.Sprintf("%s doesn't have an active task", user))
		}
		metrics.CheckoutsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if closed.Skewed {
		metrics.ClockSkew.Inc()
		t.logger.Warn().
			Str("session_id", closed.ID).
			Str("user", user).
			Time("started_at", closed.StartedAt).
			Time("ended_at", closed.EndedAt).
			Msg("Clock went backwards during session, duration clamped to zero")
	}

	metrics.CheckoutsTotal.WithLabelValues("ok").Inc()
	metrics.TrackedSeconds.Add(closed.Duration.Seconds())

	t.logger.Info().
		Str("session_id", closed.ID).
		Str("user", user).
		Str("task", closed.Task).
		Dur("duration", closed.Duration).
		Msg("Checked out")

	return closed, nil
}

// closeAndAccumulate must be called with the user's stripe held.
func (t *Tracker) closeAndAccumulate(ctx context.Context, user string) (*storage.ClosedSession, error) {
	t.commit.RLock()
	defer t.commit.RUnlock()

	if t.checkouter != nil {
		closed, err := t.checkouter.Checkout(ctx, user, t.clock.Now())
		if err != nil && !errors.Is(err, storage.ErrNoSession) {
			return nil, fmt.Errorf("failed to check out: %w", err)
		}
		return closed, err
	}

	closed, err := t.sessions.Close(ctx, user, t.clock.Now())
	if err != nil {
		if errors.Is(err, storage.ErrNoSession) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to close session: %w", err)
	}

	if err := t.ledger.Accumulate(ctx, user, closed.Task, closed.Duration); err != nil {
		// Put the session back so the user can retry the checkout.
		if rerr := t.sessions.Open(ctx, closed.Session); rerr != nil {
			t.logger.Error().
				Err(rerr).
				Str("session_id", closed.ID).
				Str("user", user).
				Msg("Failed to restore session after ledger failure, session lost")
		}
		return nil, fmt.Errorf("failed to accumulate duration: %w", err)
	}

	return closed, nil
}

// Report returns a consistent snapshot of all accumulated time.
func (t *Tracker) Report(ctx context.Context) (Report, error) {
	t.commit.Lock()
	users, err := t.ledger.Snapshot(ctx)
	t.commit.Unlock()

	if err != nil {
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		return Report{}, fmt.Errorf("failed to snapshot ledger: %w", err)
	}

	metrics.ReportsTotal.WithLabelValues("ok").Inc()
	return Report{Users: users}, nil
}

// Peek returns the user's open session without side effects.
func (t *Tracker) Peek(ctx context.Context, user string) (*storage.Session, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return nil, newError(ErrInvalidInput, "user is an empty string")
	}

	session, err := t.sessions.Peek(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newError(ErrNotCheckedIn, fmt.Sprintf("%s doesn't have an active task", user))
		}
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	return session, nil
}

// OpenSessions lists every session currently checked in.
func (t *Tracker) OpenSessions(ctx context.Context) ([]storage.Session, error) {
	sessions, err := t.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

func (t *Tracker) stripe(user string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(user))
	return &t.stripes[h.Sum32()%stripeCount]
}

package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrSessionExists is returned by SessionStore.Open when the user already
	// has an open session.
	ErrSessionExists = errors.New("storage: session already open")

	// ErrNoSession is returned by SessionStore.Close when the user has no
	// open session.
	ErrNoSession = errors.New("storage: no open session")
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Ledger() LedgerStore
}

// SessionStore owns open check-in sessions, at most one per user.
type SessionStore interface {
	Open(ctx context.Context, session Session) error
	Close(ctx context.Context, user string, now time.Time) (*ClosedSession, error)
	Peek(ctx context.Context, user string) (*Session, error)
	List(ctx context.Context) ([]Session, error)
}

// Checkouter is implemented by session stores that can close a session and
// add its duration to the ledger of the same backend in one atomic step.
// The tracker prefers it over separate Close and Accumulate calls, which
// are only atomic within one process.
type Checkouter interface {
	Checkout(ctx context.Context, user string, now time.Time) (*ClosedSession, error)
}

// LedgerStore owns accumulated durations keyed by (user, task).
type LedgerStore interface {
	Accumulate(ctx context.Context, user, task string, d time.Duration) error
	Snapshot(ctx context.Context) ([]UserLedger, error)
}

// Package memory implements storage.Store with in-process maps. State lives
// for the lifetime of the process.
package memory

import (
	"github.com/goodtune/tasktracker/internal/storage"
)

// Store implements the storage.Store interface in memory
type Store struct {
	sessionStore *sessionStore
	ledgerStore  *ledgerStore
}

// Open creates a new in-memory storage instance
func Open() *Store {
	return &Store{
		sessionStore: newSessionStore(),
		ledgerStore:  newLedgerStore(),
	}
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error {
	return nil
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Ledger returns the LedgerStore implementation
func (s *Store) Ledger() storage.LedgerStore {
	return s.ledgerStore
}

package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goodtune/tasktracker/internal/config"
	"github.com/goodtune/tasktracker/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	sessionStore *sessionStore
	ledgerStore  *ledgerStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := redisAddr(cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "tasktracker"
	}
	k := keys{prefix: prefix}

	return &Store{
		client:       client,
		sessionStore: &sessionStore{client: client, keys: k},
		ledgerStore:  &ledgerStore{client: client, keys: k},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Ledger returns the LedgerStore implementation
func (s *Store) Ledger() storage.LedgerStore {
	return s.ledgerStore
}

// redisAddr joins host and port unless host already carries a port
// (e.g. "127.0.0.1:6379").
func redisAddr(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil || port <= 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// keys builds Redis key names under a common prefix. The prefix is wrapped
// in a hash tag so every key lands in one cluster slot, which the
// multi-key scripts need.
type keys struct {
	prefix string
}

func (k keys) tag() string                { return "{" + k.prefix + "}" }
func (k keys) session(user string) string { return k.tag() + ":session:" + user }
func (k keys) openSessions() string       { return k.tag() + ":sessions:open" }
func (k keys) ledgerUsers() string        { return k.tag() + ":ledger:users" }
func (k keys) ledgerTotals(user string) string {
	return k.tag() + ":ledger:totals:" + user
}
func (k keys) ledgerTasks(user string) string {
	return k.tag() + ":ledger:tasks:" + user
}

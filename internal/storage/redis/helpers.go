package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/tasktracker/internal/storage"
)

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, data["started_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}

	return &storage.Session{
		ID:        data["id"],
		User:      data["user"],
		Task:      data["task"],
		StartedAt: startedAt,
	}, nil
}

// pairsToMap converts a flat HGETALL-style script reply to a map
func pairsToMap(reply []interface{}) (map[string]string, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("odd number of hash fields: %d", len(reply))
	}

	data := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		field, ok := reply[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected field type %T", reply[i])
		}
		value, ok := reply[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected value type %T for %s", reply[i+1], field)
		}
		data[field] = value
	}
	return data, nil
}

// parseSnapshot converts the snapshot script reply to ledger entries
func parseSnapshot(reply []interface{}) ([]storage.UserLedger, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("malformed snapshot reply: %d elements", len(reply))
	}

	ledgers := make([]storage.UserLedger, 0, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		user, ok := reply[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected user type %T", reply[i])
		}

		entries, ok := reply[i+1].([]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected entries type %T for user %s", reply[i+1], user)
		}
		if len(entries)%2 != 0 {
			return nil, fmt.Errorf("malformed entries for user %s", user)
		}

		tasks := make([]storage.TaskTotal, 0, len(entries)/2)
		for j := 0; j < len(entries); j += 2 {
			task, ok := entries[j].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected task type %T for user %s", entries[j], user)
			}
			raw, ok := entries[j+1].(string)
			if !ok {
				return nil, fmt.Errorf("unexpected total type %T for %s/%s", entries[j+1], user, task)
			}
			nanos, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse total for %s/%s: %w", user, task, err)
			}
			tasks = append(tasks, storage.TaskTotal{Task: task, Accumulated: time.Duration(nanos)})
		}

		ledgers = append(ledgers, storage.UserLedger{User: user, Tasks: tasks})
	}

	return ledgers, nil
}

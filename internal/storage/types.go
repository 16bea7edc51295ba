package storage

import (
	"time"
)

// Session is an open check-in.
type Session struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Task      string    `json:"task"`
	StartedAt time.Time `json:"started_at"`
}

// ClosedSession is the result of closing a session.
type ClosedSession struct {
	Session
	EndedAt  time.Time     `json:"ended_at"`
	Duration time.Duration `json:"duration"`

	// Skewed is set when EndedAt was before StartedAt and Duration was
	// clamped to zero.
	Skewed bool `json:"skewed,omitempty"`
}

// Elapsed returns the time between start and end of a session, clamped to
// zero when the clock went backwards.
func Elapsed(startedAt, endedAt time.Time) (time.Duration, bool) {
	d := endedAt.Sub(startedAt)
	if d < 0 {
		return 0, true
	}
	return d, false
}

// TaskTotal is the accumulated duration of one task.
type TaskTotal struct {
	Task        string        `json:"task"`
	Accumulated time.Duration `json:"accumulated"`
}

// UserLedger groups the task totals of one user in order of first
// completion.
type UserLedger struct {
	User  string      `json:"user"`
	Tasks []TaskTotal `json:"tasks"`
}

package queue

import (
	"time"

	"github.com/rotblauer/trackd/conceptual"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateRetrying, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Finished reports whether the job will never run again.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is the durable record of one track file's background processing.
type Job struct {
	ID          string            `json:"id"`
	TrackFileID int64             `json:"track_file_id"`
	TripID      conceptual.TripID `json:"trip_id"`
	StorageKey  string            `json:"storage_key"`

	State       State     `json:"state"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	NextRunAt   time.Time `json:"next_run_at"`
	LastError   string    `json:"last_error,omitempty"`

	// Note explains a completion that did no work, eg. "parent gone".
	Note string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// due reports whether the job may be claimed at now.
func (j *Job) due(now time.Time) bool {
	return (j.State == StateQueued || j.State == StateRetrying) && !j.NextRunAt.After(now)
}

// AttemptsLeft reports whether another attempt is allowed.
func (j *Job) AttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}

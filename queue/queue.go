// Package queue is a durable job queue stored in a bbolt file.
// Jobs survive restarts; jobs found running at startup are requeued by Recover.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/trackerr"
	"go.etcd.io/bbolt"
)

var jobsBucket = []byte("jobs")

type Queue struct {
	db          *bbolt.DB
	maxAttempts int
	notify      chan struct{}
	now         func() time.Time
	logger      *slog.Logger
}

// Open opens (creating if needed) the queue file at path.
// New jobs get maxAttempts attempts.
func Open(path string, maxAttempts int) (*Queue, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("queue: max attempts must be positive, got %d", maxAttempts)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(jobsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Queue{
		db:          db,
		maxAttempts: maxAttempts,
		notify:      make(chan struct{}, 1),
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.With("queue", path),
	}, nil
}

// OpenReadOnly opens an existing queue file for inspection. It shares the
// file with other readers but waits for a writer holding it.
func OpenReadOnly(path string) (*Queue, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true, Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	err = db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(jobsBucket) == nil {
			return fmt.Errorf("queue: %s has no jobs bucket", path)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Queue{
		db:     db,
		notify: make(chan struct{}, 1),
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.With("queue", path),
	}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Notify receives a value when a job may have become claimable.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func getJob(b *bbolt.Bucket, id string) (*Job, error) {
	v := b.Get([]byte(id))
	if v == nil {
		return nil, fmt.Errorf("job %s: %w", id, trackerr.ErrNotFound)
	}
	j := &Job{}
	if err := json.Unmarshal(v, j); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	return j, nil
}

func putJob(b *bbolt.Bucket, j *Job) error {
	v, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return b.Put([]byte(j.ID), v)
}

// Enqueue stores a new queued job, due immediately.
func (q *Queue) Enqueue(trackFileID int64, trip conceptual.TripID, storageKey string) (*Job, error) {
	// Version 7 ids sort by creation time, so bucket order is FIFO.
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := q.now()
	j := &Job{
		ID:          id.String(),
		TrackFileID: trackFileID,
		TripID:      trip,
		StorageKey:  storageKey,
		State:       StateQueued,
		MaxAttempts: q.maxAttempts,
		NextRunAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = q.db.Update(func(tx *bbolt.Tx) error {
		return putJob(tx.Bucket(jobsBucket), j)
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	q.wake()
	return j, nil
}

// ClaimNext moves the oldest due job to running and counts the attempt.
// It returns nil when no job is due.
func (q *Queue) ClaimNext() (*Job, error) {
	var claimed *Job
	now := q.now()
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			j := &Job{}
			if err := json.Unmarshal(v, j); err != nil {
				q.logger.Error("Skipping undecodable job", "job", string(k), "error", err)
				continue
			}
			if !j.due(now) {
				continue
			}
			j.State = StateRunning
			j.Attempts++
			j.UpdatedAt = now
			claimed = j
			return putJob(b, j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return claimed, nil
}

// update applies fn to the job and stores it, returning the stored copy.
func (q *Queue) update(id string, fn func(j *Job) error) (*Job, error) {
	var out *Job
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		j, err := getJob(b, id)
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}
		j.UpdatedAt = q.now()
		out = j
		return putJob(b, j)
	})
	return out, err
}

func requireRunning(j *Job) error {
	if j.State != StateRunning {
		return fmt.Errorf("job %s is %s, not running: %w", j.ID, j.State, trackerr.ErrConflict)
	}
	return nil
}

// Complete finishes a running job. A non-empty note records why it did no work.
func (q *Queue) Complete(id, note string) (*Job, error) {
	return q.update(id, func(j *Job) error {
		if err := requireRunning(j); err != nil {
			return err
		}
		j.State = StateCompleted
		j.Note = note
		j.LastError = ""
		return nil
	})
}

// Retry schedules a running job to run again after delay.
func (q *Queue) Retry(id string, cause error, delay time.Duration) (*Job, error) {
	j, err := q.update(id, func(j *Job) error {
		if err := requireRunning(j); err != nil {
			return err
		}
		j.State = StateRetrying
		j.NextRunAt = q.now().Add(delay)
		if cause != nil {
			j.LastError = cause.Error()
		}
		return nil
	})
	if err == nil {
		q.wake()
	}
	return j, err
}

// Fail finishes a running job permanently.
func (q *Queue) Fail(id string, cause error) (*Job, error) {
	return q.update(id, func(j *Job) error {
		if err := requireRunning(j); err != nil {
			return err
		}
		j.State = StateFailed
		if cause != nil {
			j.LastError = cause.Error()
		}
		return nil
	})
}

func (q *Queue) Get(id string) (*Job, error) {
	var j *Job
	err := q.db.View(func(tx *bbolt.Tx) error {
		var err error
		j, err = getJob(tx.Bucket(jobsBucket), id)
		return err
	})
	return j, err
}

// List returns jobs in creation order, filtered by state unless state is empty.
func (q *Queue) List(state State) ([]Job, error) {
	var out []Job
	err := q.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(k, v []byte) error {
			j := Job{}
			if err := json.Unmarshal(v, &j); err != nil {
				return fmt.Errorf("job %s: %w", k, err)
			}
			if state == "" || j.State == state {
				out = append(out, j)
			}
			return nil
		})
	})
	return out, err
}

// Counts returns the number of jobs in each state.
func (q *Queue) Counts() (map[State]int, error) {
	jobs, err := q.List("")
	if err != nil {
		return nil, err
	}
	out := map[State]int{}
	for _, j := range jobs {
		out[j.State]++
	}
	return out, nil
}

// Recover requeues jobs left running by a previous process.
// The attempt they were on is not refunded.
func (q *Queue) Recover() (int, error) {
	n := 0
	now := q.now()
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		var stale []*Job
		err := b.ForEach(func(k, v []byte) error {
			j := &Job{}
			if err := json.Unmarshal(v, j); err != nil {
				return fmt.Errorf("job %s: %w", k, err)
			}
			if j.State == StateRunning {
				stale = append(stale, j)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, j := range stale {
			j.State = StateQueued
			j.NextRunAt = now
			j.UpdatedAt = now
			if err := putJob(b, j); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if n > 0 {
		q.wake()
	}
	return n, err
}

// Prune deletes finished jobs last updated before cutoff.
func (q *Queue) Prune(cutoff time.Time) (int, error) {
	n := 0
	err := q.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(jobsBucket)
		var dead [][]byte
		err := b.ForEach(func(k, v []byte) error {
			j := Job{}
			if err := json.Unmarshal(v, &j); err != nil {
				return fmt.Errorf("job %s: %w", k, err)
			}
			if j.State.Finished() && j.UpdatedAt.Before(cutoff) {
				dead = append(dead, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(dead)
		return nil
	})
	return n, err
}

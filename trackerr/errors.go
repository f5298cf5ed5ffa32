// Package trackerr defines the failure taxonomy for track file ingestion.
// Callers match errors with errors.As and errors.Is; Retryable and HTTPStatus
// classify them for the job worker and the web daemon.
package trackerr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	ErrNotFound = errors.New("track file not found")
	ErrConflict = errors.New("a track file already exists for this trip")
	ErrNotReady = errors.New("track file processing has not completed")

	// ErrParentGone is returned by persistence when the track file (or its trip)
	// was deleted while a job was working on it.
	ErrParentGone = errors.New("track file no longer exists")

	// ErrTripNotFound is returned when the trip directory does not know the trip.
	ErrTripNotFound = errors.New("trip not found")

	// ErrClaimConflict is returned when a job tries to move a track file it
	// does not own, or one already in a terminal state.
	ErrClaimConflict = errors.New("track file is not claimable by this job")
)

// Stage names a pipeline step.
type Stage string

const (
	StageRead     Stage = "read"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
	StageCompute  Stage = "compute"
	StageSimplify Stage = "simplify"
	StagePersist  Stage = "persist"
)

// MalformedInputError means the upload could not be decoded as a GPS track,
// or decoded to nothing usable. It is never retried.
type MalformedInputError struct {
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed track file: %s: %v", e.Reason, e.Err)
	}
	return "malformed track file: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// OutOfRangeError summarises every point whose Field fell outside [Min, Max].
type OutOfRangeError struct {
	Field      string
	Count      int
	FirstIndex int
	Value      float64
	Min        float64
	Max        float64
}

func (e *OutOfRangeError) Error() string {
	noun := "points have"
	if e.Count == 1 {
		noun = "point has"
	}
	return fmt.Sprintf("%d %s %s outside [%g, %g]; first at point %d (%g)",
		e.Count, noun, e.Field, e.Min, e.Max, e.FirstIndex, e.Value)
}

// SizeLimitExceededError is returned before any parsing when an upload
// is larger than the hard cap.
type SizeLimitExceededError struct {
	Size  int64
	Limit int64
}

func (e *SizeLimitExceededError) Error() string {
	if e.Size < 0 {
		return fmt.Sprintf("track file exceeds the %s upload limit", humanize.IBytes(uint64(e.Limit)))
	}
	return fmt.Sprintf("track file is %s, exceeds the %s upload limit",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

// ProcessingTimeoutError is returned when a pipeline run exceeds its deadline.
// On the synchronous path the client is told to retry; the retry is routed
// to background processing.
type ProcessingTimeoutError struct {
	Stage Stage
	After time.Duration
}

func (e *ProcessingTimeoutError) Error() string {
	return fmt.Sprintf("processing timed out after %s (stage %s); retry the upload and it will be processed in the background",
		e.After, e.Stage)
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// StageError tags an error with the pipeline stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// AtStage wraps err with stage, leaving nil alone.
func AtStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the innermost stage recorded on err, or "".
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Permanent reports whether err can never succeed on retry.
func Permanent(err error) bool {
	var malformed *MalformedInputError
	var outOfRange *OutOfRangeError
	var tooBig *SizeLimitExceededError
	switch {
	case errors.As(err, &malformed),
		errors.As(err, &outOfRange),
		errors.As(err, &tooBig),
		errors.Is(err, ErrParentGone),
		errors.Is(err, ErrTripNotFound),
		errors.Is(err, ErrClaimConflict):
		return true
	}
	return false
}

// Retryable reports whether a background job failing with err should be
// attempted again. Unknown errors are treated as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !Permanent(err)
}

// IsTimeout reports whether err is, or was caused by, a processing deadline.
func IsTimeout(err error) bool {
	var pte *ProcessingTimeoutError
	return errors.As(err, &pte) || errors.Is(err, context.DeadlineExceeded)
}

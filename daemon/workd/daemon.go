// Package workd runs queued track file processing on a bounded pool of workers.
package workd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackerr"
)

// JobQueue is the durable store of jobs.
type JobQueue interface {
	ClaimNext() (*queue.Job, error)
	Complete(id, note string) (*queue.Job, error)
	Retry(id string, cause error, delay time.Duration) (*queue.Job, error)
	Fail(id string, cause error) (*queue.Job, error)
	Recover() (int, error)
	Prune(cutoff time.Time) (int, error)
	Notify() <-chan struct{}
}

// JobHandler does the work of a job.
type JobHandler interface {
	ProcessJob(ctx context.Context, job *queue.Job) error
	MarkFailed(ctx context.Context, job *queue.Job, msg string) error
	DiscardRaw(ctx context.Context, key string)

	// RequeueOrphans queues work stored without a job.
	RequeueOrphans(ctx context.Context) (int, error)
}

const NoteParentGone = "parent gone"

// ErrInterrupted fails a job whose attempts were all cut short by restarts.
var ErrInterrupted = errors.New("interrupted too many times")

type WorkDaemon struct {
	Config *params.WorkDaemonConfig

	queue   JobQueue
	handler JobHandler
	logger  *slog.Logger

	running   sync.WaitGroup
	startedAt time.Time
	busy      atomic.Int32
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

func NewWorkDaemon(config *params.WorkDaemonConfig, q JobQueue, h JobHandler) *WorkDaemon {
	logger := slog.With("d", "work")
	if config == nil {
		logger.Warn("No config provided, using default")
		config = params.DefaultWorkDaemonConfig()
	}
	return &WorkDaemon{
		Config:  config,
		queue:   q,
		handler: h,
		logger:  logger,
	}
}

// Start requeues jobs abandoned by a previous run, queues stored uploads
// that never got a job, and starts the workers.
// They stop when ctx is done; Wait blocks until they have.
func (d *WorkDaemon) Start(ctx context.Context) error {
	n, err := d.queue.Recover()
	if err != nil {
		return fmt.Errorf("recover jobs: %w", err)
	}
	if n > 0 {
		d.logger.Info("Requeued interrupted jobs", "count", n)
	}
	n, err = d.handler.RequeueOrphans(ctx)
	if err != nil {
		return fmt.Errorf("requeue orphans: %w", err)
	}
	if n > 0 {
		d.logger.Info("Queued track files missing a job", "count", n)
	}
	d.startedAt = time.Now()
	for i := 0; i < d.Config.Workers; i++ {
		d.running.Add(1)
		go d.work(ctx, i)
	}
	d.running.Add(1)
	go d.prune(ctx)
	d.logger.Info("Work daemon started", "workers", d.Config.Workers)
	return nil
}

func (d *WorkDaemon) Wait() {
	d.running.Wait()
	d.logger.Info("Work daemon stopped")
}

func (d *WorkDaemon) work(ctx context.Context, n int) {
	defer d.running.Done()
	ticker := time.NewTicker(d.Config.PollInterval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := d.queue.ClaimNext()
		if err != nil {
			d.logger.Error("Claim failed", "worker", n, "error", err)
		}
		if job != nil {
			d.handle(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.queue.Notify():
		case <-ticker.C:
		}
	}
}

// Backoff returns the delay after the given failed attempt (1-based).
func (d *WorkDaemon) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return d.Config.BackoffBase * time.Duration(1<<(attempt-1))
}

func (d *WorkDaemon) handle(ctx context.Context, job *queue.Job) {
	d.busy.Add(1)
	defer d.busy.Add(-1)

	log := d.logger.With("job", job.ID, "trackfile", job.TrackFileID, "attempt", job.Attempts)
	bctx := context.WithoutCancel(ctx)

	// Recovered jobs keep the attempts spent before a crash.
	if job.MaxAttempts > 0 && job.Attempts > job.MaxAttempts {
		log.Error("Job out of attempts after interruptions")
		msg := fmt.Sprintf("processing failed after %d attempts", job.MaxAttempts)
		if merr := d.handler.MarkFailed(bctx, job, msg); merr != nil {
			log.Error("Failed to record track file error", "error", merr)
		}
		d.finish(log)(d.queue.Fail(job.ID, ErrInterrupted))
		d.failed.Add(1)
		return
	}

	jctx, cancel := context.WithTimeout(ctx, d.Config.JobTimeout)
	err := d.handler.ProcessJob(jctx, job)
	cancel()

	// Bookkeeping must land even while shutting down.
	switch {
	case err == nil:
		d.finish(log)(d.queue.Complete(job.ID, ""))
		d.completed.Add(1)

	case errors.Is(err, trackerr.ErrParentGone):
		log.Info("Track file gone, nothing to do")
		d.handler.DiscardRaw(bctx, job.StorageKey)
		d.finish(log)(d.queue.Complete(job.ID, NoteParentGone))
		d.completed.Add(1)

	case ctx.Err() != nil:
		// Left running; Recover requeues it on the next start.
		log.Warn("Job interrupted by shutdown", "error", err)

	case trackerr.Permanent(err):
		log.Warn("Job failed permanently", "stage", trackerr.StageOf(err), "error", err)
		if merr := d.handler.MarkFailed(bctx, job, trackerr.UserMessage(err)); merr != nil {
			log.Error("Failed to record track file error", "error", merr)
		}
		d.finish(log)(d.queue.Fail(job.ID, err))
		d.failed.Add(1)

	case job.AttemptsLeft():
		delay := d.Backoff(job.Attempts)
		log.Warn("Job failed, will retry", "stage", trackerr.StageOf(err), "in", delay, "error", err)
		d.finish(log)(d.queue.Retry(job.ID, err, delay))
		d.retried.Add(1)

	default:
		log.Error("Job failed, out of attempts", "stage", trackerr.StageOf(err), "error", err)
		msg := fmt.Sprintf("processing failed after %d attempts", job.Attempts)
		if merr := d.handler.MarkFailed(bctx, job, msg); merr != nil {
			log.Error("Failed to record track file error", "error", merr)
		}
		d.finish(log)(d.queue.Fail(job.ID, err))
		d.failed.Add(1)
	}
}

// finish logs the outcome of a job state update.
func (d *WorkDaemon) finish(log *slog.Logger) func(*queue.Job, error) {
	return func(j *queue.Job, err error) {
		if err != nil {
			log.Error("Failed to update job", "error", err)
			return
		}
		log.Debug("Job updated", "state", j.State)
	}
}

func (d *WorkDaemon) prune(ctx context.Context) {
	defer d.running.Done()
	if d.Config.Retention <= 0 {
		return
	}
	interval := d.Config.Retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.queue.Prune(time.Now().Add(-d.Config.Retention))
			if err != nil {
				d.logger.Error("Prune failed", "error", err)
			} else if n > 0 {
				d.logger.Info("Pruned finished jobs", "count", n)
			}
		}
	}
}

type Status struct {
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime"`
	Workers   int           `json:"workers"`
	Busy      int32         `json:"busy"`
	Completed int64         `json:"completed"`
	Retried   int64         `json:"retried"`
	Failed    int64         `json:"failed"`
}

func (d *WorkDaemon) Status() Status {
	return Status{
		StartedAt: d.startedAt,
		Uptime:    time.Since(d.startedAt),
		Workers:   d.Config.Workers,
		Busy:      d.busy.Load(),
		Completed: d.completed.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
	}
}

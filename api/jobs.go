package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackdb/blob"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
)

// ProcessJob runs background processing for one job attempt.
//
// It returns ErrParentGone when the track file or its trip was deleted;
// the caller should finish the job without error. A track file already
// completed or errored is left as is. Running the same job twice stores
// the same points once.
func (s *Service) ProcessJob(ctx context.Context, job *queue.Job) error {
	log := s.logger.With("job", job.ID, "trackfile", job.TrackFileID, "trip", job.TripID, "attempt", job.Attempts)
	start := time.Now()

	tf, err := s.store.Get(ctx, job.TrackFileID)
	if errors.Is(err, trackerr.ErrNotFound) {
		return trackerr.ErrParentGone
	}
	if err != nil {
		return err
	}
	if !belongsTo(tf, job) {
		return trackerr.ErrParentGone
	}
	if tf.Status.Terminal() {
		log.Debug("Track file already finished", "status", tf.Status)
		return nil
	}
	if err := s.store.Claim(ctx, tf.ID, job.ID); err != nil {
		if errors.Is(err, trackerr.ErrNotFound) {
			return trackerr.ErrParentGone
		}
		return err
	}
	if err := s.tripStillExists(ctx, job.TripID); err != nil {
		return err
	}

	raw, err := s.raw.Get(ctx, job.StorageKey)
	if errors.Is(err, blob.ErrNotFound) {
		// A delete removes the row before the raw file.
		if _, gerr := s.store.Get(ctx, tf.ID); errors.Is(gerr, trackerr.ErrNotFound) {
			return trackerr.ErrParentGone
		}
	}
	if err != nil {
		return trackerr.AtStage(trackerr.StageRead, err)
	}

	res, err := s.processor.Process(ctx, raw)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		log.Info("Track warning", "warning", w)
	}

	if err := s.tripStillExists(ctx, job.TripID); err != nil {
		return err
	}
	if err := s.store.Finalize(ctx, tf.ID, job.ID, res.Telemetry, res.Points); err != nil {
		return trackerr.AtStage(trackerr.StagePersist, err)
	}

	done, err := s.store.Get(ctx, tf.ID)
	if err != nil {
		// Deleted right after finalizing.
		if errors.Is(err, trackerr.ErrNotFound) {
			return nil
		}
		return err
	}
	s.points.Remove(done.ID)
	log.Info("Track file completed",
		"points", fmt.Sprintf("%d/%d", done.SimplifiedCount, done.TrackpointCount),
		"distance_km", done.DistanceKm,
		"elapsed", time.Since(start).Round(time.Millisecond))
	s.bus.Emit(events.KindCompleted, *done)
	return nil
}

// belongsTo reports whether tf is the upload job was queued for, and not a
// later upload that reuses its trip after a delete.
func belongsTo(tf *trackfile.TrackFile, job *queue.Job) bool {
	return tf.TripID == job.TripID && tf.StorageKey == job.StorageKey
}

func (s *Service) tripStillExists(ctx context.Context, trip conceptual.TripID) error {
	var ok bool
	var err error
	if fc, isFresh := s.trips.(freshChecker); isFresh {
		ok, err = fc.Fresh(ctx, trip)
	} else {
		ok, err = s.trips.TripExists(ctx, trip)
	}
	if err != nil {
		return fmt.Errorf("trip lookup: %w", err)
	}
	if !ok {
		return trackerr.ErrParentGone
	}
	return nil
}

// MarkFailed records msg on the job's track file as a terminal error.
// A track file that is gone, or owned by another job, is left alone.
func (s *Service) MarkFailed(ctx context.Context, job *queue.Job, msg string) error {
	current, err := s.store.Get(ctx, job.TrackFileID)
	if errors.Is(err, trackerr.ErrNotFound) || (err == nil && !belongsTo(current, job)) {
		s.logger.Debug("Track file not marked failed", "job", job.ID, "trackfile", job.TrackFileID, "reason", "gone")
		return nil
	}
	if err != nil {
		return err
	}
	err = s.store.Fail(ctx, job.TrackFileID, job.ID, msg)
	switch {
	case errors.Is(err, trackerr.ErrParentGone), errors.Is(err, trackerr.ErrClaimConflict):
		s.logger.Debug("Track file not marked failed", "job", job.ID, "trackfile", job.TrackFileID, "reason", err)
		return nil
	case err != nil:
		return err
	}
	tf, err := s.store.Get(ctx, job.TrackFileID)
	if err == nil {
		s.bus.Emit(events.KindFailed, *tf)
	}
	return nil
}

// RequeueOrphans enqueues a job for every pending track file that no queued,
// running or retrying job refers to. Such files are left behind when the
// process stops between storing an upload and queueing its job. It must run
// before uploads are accepted.
func (s *Service) RequeueOrphans(ctx context.Context) (int, error) {
	live := map[int64]bool{}
	for _, state := range []queue.State{queue.StateQueued, queue.StateRunning, queue.StateRetrying} {
		jobs, err := s.jobs.List(state)
		if err != nil {
			return 0, fmt.Errorf("list %s jobs: %w", state, err)
		}
		for _, j := range jobs {
			live[j.TrackFileID] = true
		}
	}
	pending, err := s.store.ListByStatus(ctx, trackfile.StatusPending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, tf := range pending {
		if live[tf.ID] {
			continue
		}
		job, err := s.jobs.Enqueue(tf.ID, tf.TripID, tf.StorageKey)
		if err != nil {
			return n, &trackerr.PersistenceError{Op: "enqueue job", Err: err}
		}
		s.logger.Warn("Requeued track file with no job", "trackfile", tf.ID, "trip", tf.TripID, "job", job.ID)
		n++
	}
	return n, nil
}

// Package api implements track file ingestion: routing uploads to inline or
// background processing, running the processing pipeline, and the reads and
// deletes behind the web daemon.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/trackdb/blob"
	"github.com/rotblauer/trackd/trackdb/cache"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/tripdir"
	"github.com/rotblauer/trackd/types/trackfile"
	"github.com/rotblauer/trackd/types/trackpoint"
)

// TrackStore persists track files and their simplified points.
type TrackStore interface {
	CreatePending(ctx context.Context, tf *trackfile.TrackFile) (*trackfile.TrackFile, error)
	CreateCompleted(ctx context.Context, tf *trackfile.TrackFile, tel trackfile.Telemetry, pts []trackpoint.TrackPoint) (*trackfile.TrackFile, error)
	Get(ctx context.Context, id int64) (*trackfile.TrackFile, error)
	GetByTrip(ctx context.Context, trip conceptual.TripID) (*trackfile.TrackFile, error)
	Claim(ctx context.Context, id int64, jobID string) error
	Finalize(ctx context.Context, id int64, jobID string, tel trackfile.Telemetry, pts []trackpoint.TrackPoint) error
	Fail(ctx context.Context, id int64, jobID string, msg string) error
	Delete(ctx context.Context, id int64) (*trackfile.TrackFile, error)
	Points(ctx context.Context, id int64) ([]trackpoint.TrackPoint, error)
	CountByStatus(ctx context.Context) (map[trackfile.Status]int, error)
	ListByStatus(ctx context.Context, status trackfile.Status) ([]*trackfile.TrackFile, error)
}

// JobQueue schedules background processing of stored uploads.
type JobQueue interface {
	Enqueue(trackFileID int64, trip conceptual.TripID, storageKey string) (*queue.Job, error)
	List(state queue.State) ([]queue.Job, error)
}

// freshChecker is implemented by trip directories that cache answers.
type freshChecker interface {
	Fresh(ctx context.Context, trip conceptual.TripID) (bool, error)
}

type Service struct {
	config    *params.ProcessingConfig
	store     TrackStore
	raw       blob.Store
	jobs      JobQueue
	trips     tripdir.Directory
	bus       *events.Bus
	router    *Router
	processor *Processor
	points    *cache.Points
	logger    *slog.Logger
}

func NewService(config *params.ProcessingConfig, store TrackStore, raw blob.Store, jobs JobQueue, trips tripdir.Directory, bus *events.Bus) (*Service, error) {
	if config == nil {
		config = params.DefaultProcessingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	points, err := cache.NewPoints(params.CachePointsSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		config:    config,
		store:     store,
		raw:       raw,
		jobs:      jobs,
		trips:     trips,
		bus:       bus,
		router:    NewRouter(config),
		processor: NewProcessor(config),
		points:    points,
		logger:    slog.With("svc", "trackfiles"),
	}, nil
}

func (s *Service) Router() *Router { return s.router }

func (s *Service) Processor() *Processor { return s.processor }

// Upload is a received track file.
type Upload struct {
	TripID   conceptual.TripID
	Filename string
	Body     []byte
}

// UploadResult reports how an upload was handled.
// Job is set only for background processing. Warnings come from validation,
// which runs on both paths before anything is stored.
type UploadResult struct {
	TrackFile *trackfile.TrackFile
	Path      trackfile.ProcessingPath
	Job       *queue.Job
	Warnings  []string
}

// CheckSize rejects a declared upload size over the hard cap before the body is read.
func (s *Service) CheckSize(size int64) error {
	return s.router.CheckSize(size)
}

// Upload accepts the trip's one track file. Small uploads are processed
// inline and come back completed; large ones come back pending with a job.
func (s *Service) Upload(ctx context.Context, up Upload) (*UploadResult, error) {
	size := int64(len(up.Body))
	path, err := s.router.Decide(size, up.TripID)
	if err != nil {
		return nil, err
	}
	if err := s.requireTrip(ctx, up.TripID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetByTrip(ctx, up.TripID); err == nil {
		return nil, trackerr.ErrConflict
	} else if !errors.Is(err, trackerr.ErrNotFound) {
		return nil, err
	}

	log := s.logger.With("trip", up.TripID, "size", humanize.IBytes(uint64(size)), "path", path)
	if path == trackfile.PathSync {
		return s.uploadSync(ctx, log, up)
	}
	return s.uploadAsync(ctx, log, up)
}

func (s *Service) requireTrip(ctx context.Context, trip conceptual.TripID) error {
	ok, err := s.trips.TripExists(ctx, trip)
	if err != nil {
		return fmt.Errorf("trip lookup: %w", err)
	}
	if !ok {
		return trackerr.ErrTripNotFound
	}
	return nil
}

func (s *Service) uploadSync(ctx context.Context, log *slog.Logger, up Upload) (*UploadResult, error) {
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	res, err := s.processor.Process(pctx, up.Body)
	cancel()
	if err != nil {
		if trackerr.IsTimeout(err) {
			s.router.ForceAsync(up.TripID)
			log.Warn("Inline processing timed out, trip forced to background", "stage", trackerr.StageOf(err))
		} else {
			log.Info("Upload rejected", "stage", trackerr.StageOf(err), "error", err)
		}
		return nil, err
	}

	key := blob.NewKey(up.TripID, up.Filename)
	if err := s.raw.Put(ctx, key, up.Body); err != nil {
		return nil, &trackerr.PersistenceError{Op: "store raw file", Err: err}
	}
	tf := &trackfile.TrackFile{
		TripID:     up.TripID,
		Filename:   up.Filename,
		SizeBytes:  int64(len(up.Body)),
		StorageKey: key,
		Path:       trackfile.PathSync,
		JobID:      "sync-" + uuid.NewString(),
	}
	created, err := s.store.CreateCompleted(ctx, tf, res.Telemetry, res.Points)
	if err != nil {
		s.discardRaw(context.WithoutCancel(ctx), key)
		return nil, err
	}
	if _, err := s.points.Add(created.ID, res.Points); err != nil {
		log.Debug("Points not cached", "error", err)
	}
	log.Info("Track file completed",
		"trackfile", created.ID,
		"points", fmt.Sprintf("%d/%d", created.SimplifiedCount, created.TrackpointCount),
		"distance_km", created.DistanceKm,
		"elapsed", time.Since(start).Round(time.Millisecond))
	s.bus.Emit(events.KindCompleted, *created)
	return &UploadResult{TrackFile: created, Path: trackfile.PathSync, Warnings: res.Warnings}, nil
}

func (s *Service) uploadAsync(ctx context.Context, log *slog.Logger, up Upload) (*UploadResult, error) {
	// Bad input is rejected before anything is stored; the costly stages
	// run in the background.
	warnings, err := s.processor.Check(up.Body)
	if err != nil {
		log.Info("Upload rejected", "stage", trackerr.StageOf(err), "error", err)
		return nil, err
	}

	key := blob.NewKey(up.TripID, up.Filename)
	if err := s.raw.Put(ctx, key, up.Body); err != nil {
		return nil, &trackerr.PersistenceError{Op: "store raw file", Err: err}
	}
	cleanup := context.WithoutCancel(ctx)
	tf, err := s.store.CreatePending(ctx, &trackfile.TrackFile{
		TripID:     up.TripID,
		Filename:   up.Filename,
		SizeBytes:  int64(len(up.Body)),
		StorageKey: key,
		Path:       trackfile.PathAsync,
	})
	if err != nil {
		s.discardRaw(cleanup, key)
		return nil, err
	}
	job, err := s.jobs.Enqueue(tf.ID, tf.TripID, key)
	if err != nil {
		if _, derr := s.store.Delete(cleanup, tf.ID); derr != nil {
			log.Error("Failed to remove unqueued track file", "trackfile", tf.ID, "error", derr)
		}
		s.discardRaw(cleanup, key)
		return nil, &trackerr.PersistenceError{Op: "enqueue job", Err: err}
	}
	log.Info("Track file queued", "trackfile", tf.ID, "job", job.ID)
	return &UploadResult{TrackFile: tf, Path: trackfile.PathAsync, Job: job, Warnings: warnings}, nil
}

// DiscardRaw removes a raw file, logging rather than returning failures.
func (s *Service) DiscardRaw(ctx context.Context, key string) {
	s.discardRaw(ctx, key)
}

func (s *Service) discardRaw(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.raw.Delete(ctx, key); err != nil {
		s.logger.Warn("Failed to remove raw file", "key", key, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, id int64) (*trackfile.TrackFile, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByTrip(ctx context.Context, trip conceptual.TripID) (*trackfile.TrackFile, error) {
	return s.store.GetByTrip(ctx, trip)
}

// Points returns the simplified points of a completed track file with their ETag.
// It returns ErrNotReady until processing completes.
func (s *Service) Points(ctx context.Context, id int64) (cache.PointsEntry, error) {
	if e, ok := s.points.Get(id); ok {
		return e, nil
	}
	tf, err := s.store.Get(ctx, id)
	if err != nil {
		return cache.PointsEntry{}, err
	}
	if tf.Status != trackfile.StatusCompleted {
		return cache.PointsEntry{}, trackerr.ErrNotReady
	}
	pts, err := s.store.Points(ctx, id)
	if err != nil {
		return cache.PointsEntry{}, err
	}
	return s.points.Add(id, pts)
}

// Delete removes the track file, its points and its raw file. Processing
// still in flight for it finishes as a no-op. Nothing recorded on the trip
// itself is changed.
func (s *Service) Delete(ctx context.Context, id int64) (*trackfile.TrackFile, error) {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	s.points.Remove(id)
	s.discardRaw(ctx, removed.StorageKey)
	s.logger.Info("Track file deleted", "trackfile", id, "trip", removed.TripID, "status", removed.Status)
	s.bus.Emit(events.KindDeleted, *removed)
	return removed, nil
}

func (s *Service) DeleteByTrip(ctx context.Context, trip conceptual.TripID) (*trackfile.TrackFile, error) {
	tf, err := s.store.GetByTrip(ctx, trip)
	if err != nil {
		return nil, err
	}
	return s.Delete(ctx, tf.ID)
}

func (s *Service) Counts(ctx context.Context) (map[trackfile.Status]int, error) {
	return s.store.CountByStatus(ctx)
}

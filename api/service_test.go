package api

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rotblauer/trackd/events"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/queue"
	"github.com/rotblauer/trackd/testing/testdata"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
)

func TestUpload_SyncLargeTrack(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()

	pts := testdata.ZigZag(10_000, 46.5, 7.9, 5, 50, 20)
	body := testdata.Pad(testdata.GPX("zigzag", pts), 4_000_000)
	if len(body) != 4_000_000 {
		t.Fatalf("fixture is %d bytes", len(body))
	}

	ch := make(chan events.TrackFileEvent, 1)
	sub := ts.bus.Subscribe(ch)
	defer sub.Unsubscribe()

	res, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "zigzag.gpx", Body: body})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != trackfile.PathSync || res.Job != nil {
		t.Fatalf("path = %s, job = %v", res.Path, res.Job)
	}
	tf := res.TrackFile
	if tf.Status != trackfile.StatusCompleted {
		t.Fatalf("status = %s", tf.Status)
	}
	want := testdata.PathLength(pts) / 1000
	if math.Abs(tf.DistanceKm-want)/want > 0.001 {
		t.Errorf("distance %v km, independent %v km", tf.DistanceKm, want)
	}
	if tf.TrackpointCount != 10_000 {
		t.Errorf("trackpoints = %d", tf.TrackpointCount)
	}
	if tf.SimplifiedCount < 100 || tf.SimplifiedCount > 1000 {
		t.Errorf("simplified to %d points", tf.SimplifiedCount)
	}
	if tf.SizeBytes != 4_000_000 || tf.Path != trackfile.PathSync {
		t.Errorf("size = %d, path = %s", tf.SizeBytes, tf.Path)
	}

	n, err := ts.store.CountPoints(ctx, tf.ID)
	if err != nil || n != tf.SimplifiedCount {
		t.Errorf("stored points = %d, %v", n, err)
	}
	if ts.rawFileCount(t) != 1 {
		t.Errorf("raw files = %d", ts.rawFileCount(t))
	}

	ev := <-ch
	if ev.Kind != events.KindCompleted || ev.TrackFile.ID != tf.ID {
		t.Errorf("event = %+v", ev)
	}

	_, err = ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "again.gpx", Body: body})
	if !errors.Is(err, trackerr.ErrConflict) {
		t.Errorf("second upload: %v", err)
	}
}

func TestUpload_OutOfRangeNothingPersisted(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()

	pts := testdata.Line(50, 46.5, 7.9, 10)
	pts[12].Ele = testdata.Ptr(15000.0)
	_, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "bad.gpx", Body: testdata.GPX("bad", pts)})
	var oor *trackerr.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("want OutOfRangeError, got %v", err)
	}
	if _, err := ts.GetByTrip(ctx, tripAlps); !errors.Is(err, trackerr.ErrNotFound) {
		t.Errorf("track file persisted: %v", err)
	}
	if n := ts.rawFileCount(t); n != 0 {
		t.Errorf("raw files = %d", n)
	}
}

func TestUpload_UnknownTrip(t *testing.T) {
	ts := newTestService(t, nil)
	_, err := ts.Upload(context.Background(), Upload{TripID: "nowhere", Filename: "a.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)})
	if !errors.Is(err, trackerr.ErrTripNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestUpload_Oversized(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1000
	cfg.MaxUploadBytes = 2000
	ts := newTestService(t, cfg)
	body := testdata.Pad(testdata.GPX("x", testdata.Line(3, 46, 7, 10)), 2001)
	_, err := ts.Upload(context.Background(), Upload{TripID: tripAlps, Filename: "x.gpx", Body: body})
	var tooBig *trackerr.SizeLimitExceededError
	if !errors.As(err, &tooBig) {
		t.Fatalf("got %v", err)
	}
}

// claimJob takes the next job off the queue, as a worker would.
func claimJob(t *testing.T, ts *testService) *queue.Job {
	t.Helper()
	job, err := ts.jobs.ClaimNext()
	if err != nil {
		t.Fatal(err)
	}
	if job == nil {
		t.Fatal("no job due")
	}
	return job
}

func TestUpload_AsyncThenProcess(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()

	pts := testdata.ZigZag(10_000, 46.5, 7.9, 5, 50, 20)
	body := testdata.Pad(testdata.GPX("zigzag", pts), 11_000_000)
	res, err := ts.Upload(ctx, Upload{TripID: tripCoast, Filename: "big.gpx", Body: body})
	if err != nil {
		t.Fatal(err)
	}
	if res.Path != trackfile.PathAsync || res.Job == nil {
		t.Fatalf("path = %s", res.Path)
	}
	if res.TrackFile.Status != trackfile.StatusPending {
		t.Fatalf("status = %s", res.TrackFile.Status)
	}
	if _, err := ts.Points(ctx, res.TrackFile.ID); !errors.Is(err, trackerr.ErrNotReady) {
		t.Errorf("points before completion: %v", err)
	}

	job := claimJob(t, ts)
	if job.TrackFileID != res.TrackFile.ID {
		t.Fatalf("job for %d", job.TrackFileID)
	}
	if err := ts.ProcessJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	tf, err := ts.Get(ctx, res.TrackFile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tf.Status != trackfile.StatusCompleted || tf.JobID != job.ID {
		t.Fatalf("after processing: status %s, job %q", tf.Status, tf.JobID)
	}
	entry, err := ts.Points(ctx, tf.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entry.Points) != tf.SimplifiedCount || entry.ETag == "" {
		t.Errorf("points = %d, etag %q", len(entry.Points), entry.ETag)
	}

	// A repeated delivery of the same job changes nothing.
	if err := ts.ProcessJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	n, _ := ts.store.CountPoints(ctx, tf.ID)
	if n != tf.SimplifiedCount {
		t.Errorf("points after redelivery = %d, want %d", n, tf.SimplifiedCount)
	}
}

func TestProcessJob_RetryAfterCrashDoesNotDuplicate(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1
	ts := newTestService(t, cfg)
	ctx := context.Background()

	res, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)})
	if err != nil {
		t.Fatal(err)
	}
	job := claimJob(t, ts)

	// The first attempt claimed the track file and died before finalizing.
	if err := ts.store.Claim(ctx, res.TrackFile.ID, job.ID); err != nil {
		t.Fatal(err)
	}
	if err := ts.ProcessJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	first, _ := ts.store.CountPoints(ctx, res.TrackFile.ID)

	// Finalize once more under the same claim, as a duplicate delivery
	// racing the first would.
	if err := ts.store.Claim(ctx, res.TrackFile.ID, job.ID); !errors.Is(err, trackerr.ErrClaimConflict) {
		t.Errorf("completed track file re-claimed: %v", err)
	}
	second, _ := ts.store.CountPoints(ctx, res.TrackFile.ID)
	if first == 0 || first != second {
		t.Errorf("points %d then %d", first, second)
	}
}

func TestProcessJob_DeletedDuringProcessing(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1
	ts := newTestService(t, cfg)
	ctx := context.Background()

	res, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)})
	if err != nil {
		t.Fatal(err)
	}
	job := claimJob(t, ts)
	if _, err := ts.Delete(ctx, res.TrackFile.ID); err != nil {
		t.Fatal(err)
	}
	err = ts.ProcessJob(ctx, job)
	if !errors.Is(err, trackerr.ErrParentGone) {
		t.Fatalf("want ErrParentGone, got %v", err)
	}
	if n, _ := ts.store.CountPoints(ctx, res.TrackFile.ID); n != 0 {
		t.Errorf("orphan points: %d", n)
	}
	if n := ts.rawFileCount(t); n != 0 {
		t.Errorf("orphan raw files: %d", n)
	}
}

func TestProcessJob_TripDeleted(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1
	ts := newTestService(t, cfg)
	ctx := context.Background()

	if _, err := ts.Upload(ctx, Upload{TripID: tripCoast, Filename: "r.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)}); err != nil {
		t.Fatal(err)
	}
	job := claimJob(t, ts)
	ts.trips.Remove(tripCoast)
	if err := ts.ProcessJob(ctx, job); !errors.Is(err, trackerr.ErrParentGone) {
		t.Fatalf("want ErrParentGone, got %v", err)
	}
}

func TestMarkFailed(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1
	ts := newTestService(t, cfg)
	ctx := context.Background()

	res, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)})
	if err != nil {
		t.Fatal(err)
	}
	// The stored file no longer passes validation when the worker reads it.
	pts := testdata.Line(10, 46.5, 7.9, 10)
	pts[3].Ele = testdata.Ptr(15000.0)
	if err := ts.raw.Put(ctx, res.TrackFile.StorageKey, testdata.GPX("bad", pts)); err != nil {
		t.Fatal(err)
	}

	job := claimJob(t, ts)
	perr := ts.ProcessJob(ctx, job)
	if perr == nil || trackerr.Retryable(perr) {
		t.Fatalf("want permanent failure, got %v", perr)
	}
	if err := ts.MarkFailed(ctx, job, trackerr.UserMessage(perr)); err != nil {
		t.Fatal(err)
	}
	tf, _ := ts.Get(ctx, res.TrackFile.ID)
	if tf.Status != trackfile.StatusError || tf.ErrorMessage == "" {
		t.Errorf("status = %s, message %q", tf.Status, tf.ErrorMessage)
	}
	if n, _ := ts.store.CountPoints(ctx, tf.ID); n != 0 {
		t.Errorf("points stored for failed file: %d", n)
	}
}

func TestUpload_AsyncRejectsInvalidBeforeStoring(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1000
	ts := newTestService(t, cfg)
	ctx := context.Background()

	pts := testdata.Line(50, 46.5, 7.9, 10)
	pts[20].Ele = testdata.Ptr(15000.0)
	body := testdata.Pad(testdata.GPX("bad", pts), 20_000)
	_, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "bad.gpx", Body: body})
	var oor *trackerr.OutOfRangeError
	if !errors.As(err, &oor) {
		t.Fatalf("want OutOfRangeError, got %v", err)
	}

	malformed := testdata.Pad([]byte("<gpx><trk>"), 20_000)
	_, err = ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "broken.gpx", Body: malformed})
	var mal *trackerr.MalformedInputError
	if !errors.As(err, &mal) {
		t.Fatalf("want MalformedInputError, got %v", err)
	}

	if _, err := ts.GetByTrip(ctx, tripAlps); !errors.Is(err, trackerr.ErrNotFound) {
		t.Errorf("track file persisted: %v", err)
	}
	if n := ts.rawFileCount(t); n != 0 {
		t.Errorf("raw files = %d", n)
	}
	if jobs, _ := ts.jobs.List(""); len(jobs) != 0 {
		t.Errorf("jobs queued: %d", len(jobs))
	}
}

func TestProcessJob_StaleJobAfterReupload(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1
	ts := newTestService(t, cfg)
	ctx := context.Background()
	ridge := testdata.MustRead(testdata.Source_RidgeWalk)

	first, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: ridge})
	if err != nil {
		t.Fatal(err)
	}
	stale := claimJob(t, ts)
	if _, err := ts.Delete(ctx, first.TrackFile.ID); err != nil {
		t.Fatal(err)
	}
	second, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: ridge})
	if err != nil {
		t.Fatal(err)
	}
	if second.TrackFile.ID == first.TrackFile.ID {
		t.Fatalf("re-upload reused id %d", first.TrackFile.ID)
	}

	// The old job finishes as a no-op, even if it were pointed at the new row.
	if err := ts.ProcessJob(ctx, stale); !errors.Is(err, trackerr.ErrParentGone) {
		t.Fatalf("stale job: %v", err)
	}
	misdirected := *stale
	misdirected.TrackFileID = second.TrackFile.ID
	if err := ts.ProcessJob(ctx, &misdirected); !errors.Is(err, trackerr.ErrParentGone) {
		t.Fatalf("misdirected job: %v", err)
	}
	if err := ts.MarkFailed(ctx, &misdirected, "processing failed after 3 attempts"); err != nil {
		t.Fatal(err)
	}
	tf, _ := ts.Get(ctx, second.TrackFile.ID)
	if tf.Status != trackfile.StatusPending || tf.JobID != "" {
		t.Fatalf("re-upload touched by the old job: status %s, job %q", tf.Status, tf.JobID)
	}

	fresh := claimJob(t, ts)
	if fresh.TrackFileID != second.TrackFile.ID {
		t.Fatalf("job for %d", fresh.TrackFileID)
	}
	if err := ts.ProcessJob(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	tf, _ = ts.Get(ctx, second.TrackFile.ID)
	if tf.Status != trackfile.StatusCompleted || tf.JobID != fresh.ID {
		t.Errorf("status %s, job %q", tf.Status, tf.JobID)
	}
}

func TestRequeueOrphans(t *testing.T) {
	cfg := params.DefaultProcessingConfig()
	cfg.SyncThresholdBytes = 1
	ts := newTestService(t, cfg)
	ctx := context.Background()
	ridge := testdata.MustRead(testdata.Source_RidgeWalk)

	// A queued upload is left alone.
	if _, err := ts.Upload(ctx, Upload{TripID: tripCoast, Filename: "r.gpx", Body: ridge}); err != nil {
		t.Fatal(err)
	}
	// Stored, but the process stopped before queueing it.
	key := "trips/alps/orphan.gpx"
	if err := ts.raw.Put(ctx, key, ridge); err != nil {
		t.Fatal(err)
	}
	orphan, err := ts.store.CreatePending(ctx, &trackfile.TrackFile{TripID: tripAlps, Filename: "r.gpx", StorageKey: key, Path: trackfile.PathAsync})
	if err != nil {
		t.Fatal(err)
	}

	n, err := ts.RequeueOrphans(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("requeued %d", n)
	}
	if n, _ := ts.RequeueOrphans(ctx); n != 0 {
		t.Errorf("second pass requeued %d", n)
	}

	var job *queue.Job
	for _, j := range []*queue.Job{claimJob(t, ts), claimJob(t, ts)} {
		if j.TrackFileID == orphan.ID {
			job = j
		}
	}
	if job == nil {
		t.Fatal("no job for the orphaned track file")
	}
	if err := ts.ProcessJob(ctx, job); err != nil {
		t.Fatal(err)
	}
	tf, _ := ts.Get(ctx, orphan.ID)
	if tf.Status != trackfile.StatusCompleted {
		t.Errorf("status = %s", tf.Status)
	}
}

func TestDeleteByTrip(t *testing.T) {
	ts := newTestService(t, nil)
	ctx := context.Background()
	res, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Points(ctx, res.TrackFile.ID); err != nil {
		t.Fatal(err)
	}
	removed, err := ts.DeleteByTrip(ctx, tripAlps)
	if err != nil {
		t.Fatal(err)
	}
	if removed.ID != res.TrackFile.ID {
		t.Errorf("removed %d", removed.ID)
	}
	if _, err := ts.Points(ctx, removed.ID); !errors.Is(err, trackerr.ErrNotFound) {
		t.Errorf("points after delete: %v", err)
	}
	if _, err := ts.DeleteByTrip(ctx, tripAlps); !errors.Is(err, trackerr.ErrNotFound) {
		t.Errorf("second delete: %v", err)
	}
	// The trip can take a new upload.
	if _, err := ts.Upload(ctx, Upload{TripID: tripAlps, Filename: "r.gpx", Body: testdata.MustRead(testdata.Source_RidgeWalk)}); err != nil {
		t.Errorf("re-upload: %v", err)
	}
}

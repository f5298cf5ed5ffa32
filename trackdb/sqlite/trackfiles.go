package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rotblauer/trackd/conceptual"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackfile"
	"github.com/rotblauer/trackd/types/trackpoint"
)

const trackFileColumns = `id, trip_id, filename, processing_status, error_message, job_id,
	processing_path, size_bytes, storage_key,
	distance_km, ascent_m, descent_m, max_elevation_m, min_elevation_m,
	has_elevation, has_timestamps, trackpoint_count, simplified_count,
	start_time, end_time, difficulty, min_lat, min_lon, max_lat, max_lon, start_cell,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackFile(row rowScanner) (*trackfile.TrackFile, error) {
	tf := &trackfile.TrackFile{}
	var (
		tripID, status, path                      string
		errMsg, jobID, difficulty, cell           sql.NullString
		startTime, endTime                        sql.NullString
		createdAt, updatedAt                      string
		distance, ascent, descent, maxEle, minEle sql.NullFloat64
		minLat, minLon, maxLat, maxLon            sql.NullFloat64
	)
	err := row.Scan(&tf.ID, &tripID, &tf.Filename, &status, &errMsg, &jobID,
		&path, &tf.SizeBytes, &tf.StorageKey,
		&distance, &ascent, &descent, &maxEle, &minEle,
		&tf.HasElevation, &tf.HasTimestamps, &tf.TrackpointCount, &tf.SimplifiedCount,
		&startTime, &endTime, &difficulty, &minLat, &minLon, &maxLat, &maxLon, &cell,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	tf.TripID = conceptual.TripID(tripID)
	tf.Status = trackfile.Status(status)
	tf.ErrorMessage = errMsg.String
	tf.JobID = jobID.String
	tf.Path = trackfile.ProcessingPath(path)
	tf.DistanceKm = distance.Float64
	tf.AscentM = ascent.Float64
	tf.DescentM = descent.Float64
	tf.MaxElevationM = floatPtr(maxEle)
	tf.MinElevationM = floatPtr(minEle)
	tf.Difficulty = trackfile.Difficulty(difficulty.String)
	tf.MinLat, tf.MinLon = minLat.Float64, minLon.Float64
	tf.MaxLat, tf.MaxLon = maxLat.Float64, maxLon.Float64
	tf.StartCell = cell.String
	if tf.StartTime, err = parseTimePtr(startTime); err != nil {
		return nil, err
	}
	if tf.EndTime, err = parseTimePtr(endTime); err != nil {
		return nil, err
	}
	if tf.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tf.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return tf, nil
}

// CreatePending inserts tf as a new pending track file and returns it with
// its assigned ID. It returns trackerr.ErrConflict if the trip already has one.
func (s *Store) CreatePending(ctx context.Context, tf *trackfile.TrackFile) (*trackfile.TrackFile, error) {
	var created *trackfile.TrackFile
	err := s.Write(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = insertPending(ctx, tx, tf)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateCompleted inserts tf and its processing result in one transaction,
// walking it through pending and processing to completed under tf.JobID.
// Either all of it is stored or none of it is.
func (s *Store) CreateCompleted(ctx context.Context, tf *trackfile.TrackFile, tel trackfile.Telemetry, pts []trackpoint.TrackPoint) (*trackfile.TrackFile, error) {
	if tf.JobID == "" {
		return nil, errors.New("create completed: job id required")
	}
	var created *trackfile.TrackFile
	err := s.Write(ctx, func(tx *sql.Tx) error {
		pending, err := insertPending(ctx, tx, tf)
		if err != nil {
			return err
		}
		if err := claim(ctx, tx, pending.ID, tf.JobID); err != nil {
			return err
		}
		if err := finalize(ctx, tx, pending.ID, tf.JobID, tel, pts); err != nil {
			return err
		}
		created, err = getTrackFile(ctx, tx, pending.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertPending(ctx context.Context, db DBorTx, tf *trackfile.TrackFile) (*trackfile.TrackFile, error) {
	now := time.Now().UTC()
	path := tf.Path
	if path == "" {
		path = trackfile.PathSync
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO track_files (trip_id, filename, processing_status, processing_path,
			size_bytes, storage_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		tf.TripID.String(), tf.Filename, string(trackfile.StatusPending), string(path),
		tf.SizeBytes, tf.StorageKey, formatTime(now), formatTime(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, trackerr.ErrConflict
		}
		return nil, &trackerr.PersistenceError{Op: "insert track file", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, &trackerr.PersistenceError{Op: "insert track file", Err: err}
	}
	return getTrackFile(ctx, db, id)
}

func getTrackFile(ctx context.Context, db DBorTx, id int64) (*trackfile.TrackFile, error) {
	row := db.QueryRowContext(ctx, `SELECT `+trackFileColumns+` FROM track_files WHERE id = ?;`, id)
	tf, err := scanTrackFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trackerr.ErrNotFound
	}
	if err != nil {
		return nil, &trackerr.PersistenceError{Op: "get track file", Err: err}
	}
	return tf, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*trackfile.TrackFile, error) {
	return getTrackFile(ctx, s.db, id)
}

func (s *Store) GetByTrip(ctx context.Context, trip conceptual.TripID) (*trackfile.TrackFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackFileColumns+` FROM track_files WHERE trip_id = ?;`, trip.String())
	tf, err := scanTrackFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, trackerr.ErrNotFound
	}
	if err != nil {
		return nil, &trackerr.PersistenceError{Op: "get track file by trip", Err: err}
	}
	return tf, nil
}

// ListByStatus returns the track files in status, oldest first.
func (s *Store) ListByStatus(ctx context.Context, status trackfile.Status) ([]*trackfile.TrackFile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trackFileColumns+` FROM track_files WHERE processing_status = ? ORDER BY id;`, string(status))
	if err != nil {
		return nil, &trackerr.PersistenceError{Op: "list track files", Err: err}
	}
	defer rows.Close()
	var out []*trackfile.TrackFile
	for rows.Next() {
		tf, err := scanTrackFile(rows)
		if err != nil {
			return nil, &trackerr.PersistenceError{Op: "list track files", Err: err}
		}
		out = append(out, tf)
	}
	if err := rows.Err(); err != nil {
		return nil, &trackerr.PersistenceError{Op: "list track files", Err: err}
	}
	return out, nil
}

// Claim moves a pending track file to processing, owned by jobID.
// A job may re-claim a track file it already owns, which is how a job
// recovered after a crash resumes. Any other state is ErrClaimConflict.
func (s *Store) Claim(ctx context.Context, id int64, jobID string) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		return claim(ctx, tx, id, jobID)
	})
}

func claim(ctx context.Context, db DBorTx, id int64, jobID string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE track_files
		SET processing_status = ?, job_id = ?, updated_at = ?
		WHERE id = ? AND (processing_status = ? OR (processing_status = ? AND job_id = ?));`,
		string(trackfile.StatusProcessing), jobID, formatTime(time.Now().UTC()),
		id, string(trackfile.StatusPending), string(trackfile.StatusProcessing), jobID)
	if err != nil {
		return &trackerr.PersistenceError{Op: "claim track file", Err: err}
	}
	return checkGuarded(ctx, db, res, id, trackerr.ErrNotFound)
}

// checkGuarded turns a guarded UPDATE that touched no rows into either
// missing (the row is gone) or ErrClaimConflict (the guard failed).
func checkGuarded(ctx context.Context, db DBorTx, res sql.Result, id int64, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &trackerr.PersistenceError{Op: "rows affected", Err: err}
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM track_files WHERE id = ?;`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	if err != nil {
		return &trackerr.PersistenceError{Op: "check track file", Err: err}
	}
	return trackerr.ErrClaimConflict
}

// Finalize replaces the track file's points with pts and records tel,
// marking it completed, all in one transaction. Running it twice leaves the
// same result. If the track file was deleted it returns ErrParentGone and
// writes nothing.
func (s *Store) Finalize(ctx context.Context, id int64, jobID string, tel trackfile.Telemetry, pts []trackpoint.TrackPoint) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		return finalize(ctx, tx, id, jobID, tel, pts)
	})
}

// checkTransition returns ErrParentGone if the track file is missing and
// ErrClaimConflict unless jobID owns it and it may move to next.
func checkTransition(ctx context.Context, db DBorTx, id int64, jobID string, next trackfile.Status) error {
	var status string
	var owner sql.NullString
	err := db.QueryRowContext(ctx, `SELECT processing_status, job_id FROM track_files WHERE id = ?;`, id).Scan(&status, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return trackerr.ErrParentGone
	}
	if err != nil {
		return &trackerr.PersistenceError{Op: "check track file", Err: err}
	}
	if !trackfile.Status(status).CanTransition(next) || owner.String != jobID {
		return trackerr.ErrClaimConflict
	}
	return nil
}

func finalize(ctx context.Context, db DBorTx, id int64, jobID string, tel trackfile.Telemetry, pts []trackpoint.TrackPoint) error {
	if err := checkTransition(ctx, db, id, jobID, trackfile.StatusCompleted); err != nil {
		return err
	}

	if err := replacePoints(ctx, db, id, pts); err != nil {
		return err
	}

	tel.SimplifiedCount = len(pts)
	_, err := db.ExecContext(ctx, `
		UPDATE track_files SET
			processing_status = ?, error_message = NULL,
			distance_km = ?, ascent_m = ?, descent_m = ?, max_elevation_m = ?, min_elevation_m = ?,
			has_elevation = ?, has_timestamps = ?, trackpoint_count = ?, simplified_count = ?,
			start_time = ?, end_time = ?, difficulty = ?,
			min_lat = ?, min_lon = ?, max_lat = ?, max_lon = ?, start_cell = ?,
			updated_at = ?
		WHERE id = ? AND processing_status = ? AND job_id = ?;`,
		string(trackfile.StatusCompleted),
		tel.DistanceKm, tel.AscentM, tel.DescentM, nullFloat(tel.MaxElevationM), nullFloat(tel.MinElevationM),
		tel.HasElevation, tel.HasTimestamps, tel.TrackpointCount, tel.SimplifiedCount,
		nullTime(tel.StartTime), nullTime(tel.EndTime), string(tel.Difficulty),
		tel.MinLat, tel.MinLon, tel.MaxLat, tel.MaxLon, tel.StartCell,
		formatTime(time.Now().UTC()),
		id, string(trackfile.StatusProcessing), jobID)
	if err != nil {
		return &trackerr.PersistenceError{Op: "complete track file", Err: err}
	}
	return nil
}

// Fail marks the track file as errored with msg. A pending track file is
// claimed by jobID first, so status still moves only forward.
func (s *Store) Fail(ctx context.Context, id int64, jobID string, msg string) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		if err := claim(ctx, tx, id, jobID); err != nil {
			if errors.Is(err, trackerr.ErrNotFound) {
				return trackerr.ErrParentGone
			}
			return err
		}
		if err := checkTransition(ctx, tx, id, jobID, trackfile.StatusError); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE track_files SET processing_status = ?, error_message = ?, updated_at = ?
			WHERE id = ? AND processing_status = ? AND job_id = ?;`,
			string(trackfile.StatusError), msg, formatTime(time.Now().UTC()),
			id, string(trackfile.StatusProcessing), jobID)
		if err != nil {
			return &trackerr.PersistenceError{Op: "fail track file", Err: err}
		}
		return nil
	})
}

// Delete removes the track file and, by cascade, its points.
// It returns the removed record so the caller can clean up the raw file.
func (s *Store) Delete(ctx context.Context, id int64) (*trackfile.TrackFile, error) {
	var removed *trackfile.TrackFile
	err := s.Write(ctx, func(tx *sql.Tx) error {
		tf, err := getTrackFile(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM track_files WHERE id = ?;`, id); err != nil {
			return &trackerr.PersistenceError{Op: "delete track file", Err: err}
		}
		removed = tf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// CountByStatus returns the number of track files in each status.
func (s *Store) CountByStatus(ctx context.Context) (map[trackfile.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT processing_status, COUNT(*) FROM track_files GROUP BY processing_status;`)
	if err != nil {
		return nil, &trackerr.PersistenceError{Op: "count track files", Err: err}
	}
	defer rows.Close()
	counts := map[trackfile.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, &trackerr.PersistenceError{Op: "count track files", Err: err}
		}
		counts[trackfile.Status(status)] = n
	}
	return counts, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

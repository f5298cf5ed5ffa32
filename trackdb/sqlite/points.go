package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackpoint"
)

// pointsBatch keeps multi-row inserts under SQLite's bound parameter limit.
const pointsBatch = 500

// replacePoints deletes every point of the track file and inserts pts.
// It must run inside a transaction for the replace to be atomic.
func replacePoints(ctx context.Context, db DBorTx, id int64, pts []trackpoint.TrackPoint) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM track_points WHERE track_file_id = ?;`, id); err != nil {
		return &trackerr.PersistenceError{Op: "delete points", Err: err}
	}
	for start := 0; start < len(pts); start += pointsBatch {
		end := min(start+pointsBatch, len(pts))
		batch := pts[start:end]

		query := `INSERT INTO track_points (track_file_id, sequence, latitude, longitude,
			elevation, timestamp, distance_km, gradient) VALUES `
		args := make([]any, 0, len(batch)*8)
		for i, p := range batch {
			if i > 0 {
				query += ", "
			}
			query += "(?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, id, p.Sequence, p.Latitude, p.Longitude,
				nullFloat(p.Elevation), nullTime(p.Timestamp), p.DistanceKm, p.Gradient)
		}
		if _, err := db.ExecContext(ctx, query+";", args...); err != nil {
			return &trackerr.PersistenceError{Op: fmt.Sprintf("insert points %d-%d", start, end), Err: err}
		}
	}
	return nil
}

// Points returns the simplified points of a track file in sequence order.
func (s *Store) Points(ctx context.Context, id int64) ([]trackpoint.TrackPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, latitude, longitude, elevation, timestamp, distance_km, gradient
		FROM track_points WHERE track_file_id = ? ORDER BY sequence;`, id)
	if err != nil {
		return nil, &trackerr.PersistenceError{Op: "query points", Err: err}
	}
	defer rows.Close()

	var pts []trackpoint.TrackPoint
	for rows.Next() {
		var p trackpoint.TrackPoint
		var ele sql.NullFloat64
		var ts sql.NullString
		if err := rows.Scan(&p.Sequence, &p.Latitude, &p.Longitude, &ele, &ts, &p.DistanceKm, &p.Gradient); err != nil {
			return nil, &trackerr.PersistenceError{Op: "scan point", Err: err}
		}
		p.Elevation = floatPtr(ele)
		if p.Timestamp, err = parseTimePtr(ts); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &trackerr.PersistenceError{Op: "query points", Err: err}
	}
	return pts, nil
}

// CountPoints returns how many points are stored for the track file.
func (s *Store) CountPoints(ctx context.Context, id int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_points WHERE track_file_id = ?;`, id).Scan(&n)
	if err != nil {
		return 0, &trackerr.PersistenceError{Op: "count points", Err: err}
	}
	return n, nil
}

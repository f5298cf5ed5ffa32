package webd

import (
	"time"

	"github.com/rotblauer/trackd/types/trackfile"
	"github.com/rotblauer/trackd/types/trackpoint"
	"github.com/shopspring/decimal"
)

// round returns v rounded half away from zero to places decimals.
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func roundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := round(*v, places)
	return &r
}

type telemetryView struct {
	DistanceKm      float64              `json:"distance_km"`
	AscentM         float64              `json:"ascent_m"`
	DescentM        float64              `json:"descent_m"`
	MaxElevationM   *float64             `json:"max_elevation_m"`
	MinElevationM   *float64             `json:"min_elevation_m"`
	HasElevation    bool                 `json:"has_elevation"`
	HasTimestamps   bool                 `json:"has_timestamps"`
	TrackpointCount int                  `json:"trackpoint_count"`
	SimplifiedCount int                  `json:"simplified_count"`
	StartTime       *time.Time           `json:"start_time"`
	EndTime         *time.Time           `json:"end_time"`
	DurationS       *float64             `json:"duration_s,omitempty"`
	Difficulty      trackfile.Difficulty `json:"difficulty"`
	Bounds          [4]float64           `json:"bounds"`
	StartCell       string               `json:"start_cell,omitempty"`
}

type trackFileView struct {
	ID           int64                    `json:"id"`
	TripID       string                   `json:"trip_id"`
	Filename     string                   `json:"filename"`
	Status       trackfile.Status         `json:"processing_status"`
	Path         trackfile.ProcessingPath `json:"processing_path"`
	SizeBytes    int64                    `json:"size_bytes"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	Telemetry    *telemetryView           `json:"telemetry,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// newTrackFileView presents tf; telemetry appears only once completed.
func newTrackFileView(tf *trackfile.TrackFile) trackFileView {
	v := trackFileView{
		ID:        tf.ID,
		TripID:    tf.TripID.String(),
		Filename:  tf.Filename,
		Status:    tf.Status,
		Path:      tf.Path,
		SizeBytes: tf.SizeBytes,
		CreatedAt: tf.CreatedAt,
		UpdatedAt: tf.UpdatedAt,
	}
	if tf.Status == trackfile.StatusError {
		v.ErrorMessage = tf.ErrorMessage
	}
	if tf.Status != trackfile.StatusCompleted {
		return v
	}
	tv := &telemetryView{
		DistanceKm:      round(tf.DistanceKm, 3),
		AscentM:         round(tf.AscentM, 1),
		DescentM:        round(tf.DescentM, 1),
		MaxElevationM:   roundPtr(tf.MaxElevationM, 1),
		MinElevationM:   roundPtr(tf.MinElevationM, 1),
		HasElevation:    tf.HasElevation,
		HasTimestamps:   tf.HasTimestamps,
		TrackpointCount: tf.TrackpointCount,
		SimplifiedCount: tf.SimplifiedCount,
		StartTime:       tf.StartTime,
		EndTime:         tf.EndTime,
		Difficulty:      tf.Difficulty,
		Bounds:          [4]float64{tf.MinLon, tf.MinLat, tf.MaxLon, tf.MaxLat},
		StartCell:       tf.StartCell,
	}
	if tf.StartTime != nil && tf.EndTime != nil {
		d := tf.EndTime.Sub(*tf.StartTime).Seconds()
		tv.DurationS = &d
	}
	v.Telemetry = tv
	return v
}

type pendingView struct {
	ID       int64            `json:"id"`
	TripID   string           `json:"trip_id"`
	Status   trackfile.Status `json:"status"`
	JobID    string           `json:"job_id"`
	Warnings []string         `json:"warnings,omitempty"`
}

type pointView struct {
	Sequence   int        `json:"sequence"`
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lon"`
	Elevation  *float64   `json:"elevation,omitempty"`
	DistanceKm float64    `json:"distance_km"`
	Gradient   float64    `json:"gradient"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

type pointsView struct {
	TrackFileID int64       `json:"trackfile_id"`
	Count       int         `json:"count"`
	Points      []pointView `json:"points"`
}

func newPointsView(id int64, pts []trackpoint.TrackPoint) pointsView {
	out := pointsView{TrackFileID: id, Count: len(pts), Points: make([]pointView, len(pts))}
	for i, p := range pts {
		out.Points[i] = pointView{
			Sequence:   p.Sequence,
			Latitude:   p.Latitude,
			Longitude:  p.Longitude,
			Elevation:  roundPtr(p.Elevation, 1),
			DistanceKm: round(p.DistanceKm, 4),
			Gradient:   round(p.Gradient, 2),
			Timestamp:  p.Timestamp,
		}
	}
	return out
}

type errorView struct {
	Error string `json:"error"`
}

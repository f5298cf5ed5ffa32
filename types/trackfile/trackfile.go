package trackfile

import (
	"time"

	"github.com/rotblauer/trackd/conceptual"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusError:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// CanTransition reports whether s may move to next.
// Status only moves forward: pending -> processing -> completed|error.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusError
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy     Difficulty = "easy"
	DifficultyModerate Difficulty = "moderate"
	DifficultyHard     Difficulty = "hard"
	DifficultyExtreme  Difficulty = "extreme"
)

// ProcessingPath records which path produced the track file.
type ProcessingPath string

const (
	PathSync  ProcessingPath = "sync"
	PathAsync ProcessingPath = "async"
)

// Telemetry is the derived summary of a track.
type Telemetry struct {
	DistanceKm    float64  `json:"distance_km"`
	AscentM       float64  `json:"ascent_m"`
	DescentM      float64  `json:"descent_m"`
	MaxElevationM *float64 `json:"max_elevation_m"`
	MinElevationM *float64 `json:"min_elevation_m"`

	HasElevation  bool `json:"has_elevation"`
	HasTimestamps bool `json:"has_timestamps"`

	TrackpointCount int `json:"trackpoint_count"`
	SimplifiedCount int `json:"simplified_count"`

	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`

	Difficulty Difficulty `json:"difficulty"`

	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`

	// StartCell is the S2 cell token of the first point.
	StartCell string `json:"start_cell"`
}

// TrackFile is the one-per-trip record of an uploaded GPS track.
type TrackFile struct {
	ID       int64             `json:"id"`
	TripID   conceptual.TripID `json:"trip_id"`
	Filename string            `json:"filename"`

	Status       Status `json:"processing_status"`
	ErrorMessage string `json:"error_message,omitempty"`

	Telemetry `json:"telemetry"`

	SizeBytes  int64          `json:"size_bytes"`
	StorageKey string         `json:"storage_key"`
	Path       ProcessingPath `json:"processing_path"`

	// JobID is the owner of the current processing claim.
	JobID string `json:"job_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

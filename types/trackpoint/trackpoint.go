package trackpoint

import (
	"time"

	"github.com/paulmach/orb"
)

// RawPoint is one point as decoded from an uploaded file.
// Raw points are never persisted.
type RawPoint struct {
	Lat       float64
	Lon       float64
	Elevation *float64
	Time      *time.Time
}

// Point returns the orb point (lon, lat).
func (p RawPoint) Point() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func (p RawPoint) HasElevation() bool {
	return p.Elevation != nil
}

func (p RawPoint) HasTime() bool {
	return p.Time != nil
}

// Track is the ordered raw point sequence of one upload, with the
// capability flags derived while decoding.
type Track struct {
	Points []RawPoint

	// HasElevation is true when at least one point carries elevation.
	HasElevation bool

	// HasTimestamps is true when every point carries a timestamp and
	// the timestamps never go backwards.
	HasTimestamps bool
}

func (t *Track) Len() int {
	return len(t.Points)
}

// LineString returns the track geometry as a new orb.LineString.
func (t *Track) LineString() orb.LineString {
	ls := make(orb.LineString, len(t.Points))
	for i, p := range t.Points {
		ls[i] = p.Point()
	}
	return ls
}

// TrackPoint is one persisted point of the simplified track.
type TrackPoint struct {
	Sequence  int        `json:"sequence"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
	Elevation *float64   `json:"elevation,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`

	// DistanceKm is the cumulative raw-track distance at this point.
	DistanceKm float64 `json:"distance_km"`

	// Gradient is the signed percent slope to the next point.
	Gradient float64 `json:"gradient"`
}

func (p TrackPoint) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

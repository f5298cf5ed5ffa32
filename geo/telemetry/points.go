package telemetry

import (
	"github.com/rotblauer/trackd/common"
	"github.com/rotblauer/trackd/types/trackpoint"
)

// Points builds the persisted point set from the raw indexes kept by the
// simplifier. cum holds the cumulative distance in meters of every raw point.
// Sequence numbers start at 0 with no gaps.
func Points(track *trackpoint.Track, cum []float64, keep []int) []trackpoint.TrackPoint {
	out := make([]trackpoint.TrackPoint, len(keep))
	for seq, idx := range keep {
		raw := track.Points[idx]
		tp := trackpoint.TrackPoint{
			Sequence:   seq,
			Latitude:   raw.Lat,
			Longitude:  raw.Lon,
			DistanceKm: cum[idx] / common.MetersPerKilometer,
		}
		if raw.Elevation != nil {
			ele := *raw.Elevation
			tp.Elevation = &ele
		}
		if track.HasTimestamps && raw.Time != nil {
			ts := *raw.Time
			tp.Timestamp = &ts
		}
		if seq < len(keep)-1 {
			next := keep[seq+1]
			tp.Gradient = Gradient(raw, track.Points[next], cum[next]-cum[idx])
		}
		out[seq] = tp
	}
	return out
}

// Gradient is the signed percent slope from a to b over horizontal meters.
// It is 0 when either elevation is missing or the horizontal distance is 0.
func Gradient(a, b trackpoint.RawPoint, horizontal float64) float64 {
	if a.Elevation == nil || b.Elevation == nil || horizontal <= 0 {
		return 0
	}
	return (*b.Elevation - *a.Elevation) / horizontal * 100
}

// Package telemetry derives distance, elevation, difficulty and per-point
// gradients from a validated track.
package telemetry

import (
	"github.com/golang/geo/s2"
	"github.com/montanaflynn/stats"
	"github.com/paulmach/orb/geo"
	"github.com/rotblauer/trackd/common"
	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/types/trackfile"
	"github.com/rotblauer/trackd/types/trackpoint"
)

type Calculator struct {
	Config params.TelemetryConfig
}

func New(config *params.TelemetryConfig) *Calculator {
	if config == nil {
		config = &params.DefaultTelemetryConfig
	}
	return &Calculator{Config: *config}
}

// Summarize computes the track summary over every raw point. It also returns
// the cumulative distance in meters at each raw point, which Points uses.
// SimplifiedCount is left for the caller.
func (c *Calculator) Summarize(track *trackpoint.Track) (trackfile.Telemetry, []float64) {
	cum := CumulativeDistances(track.Points)
	tel := trackfile.Telemetry{
		HasElevation:    track.HasElevation,
		HasTimestamps:   track.HasTimestamps,
		TrackpointCount: track.Len(),
	}
	if len(cum) > 0 {
		tel.DistanceKm = cum[len(cum)-1] / common.MetersPerKilometer
	}
	tel.AscentM, tel.DescentM = AscentDescent(track.Points, c.Config.ElevationNoiseFloor)
	tel.MinElevationM, tel.MaxElevationM = ElevationBounds(track.Points)
	tel.Difficulty = Classify(tel.DistanceKm, tel.AscentM)

	if track.HasTimestamps && track.Len() > 0 {
		start := *track.Points[0].Time
		end := *track.Points[track.Len()-1].Time
		tel.StartTime, tel.EndTime = &start, &end
	}

	if track.Len() > 0 {
		b := track.LineString().Bound()
		tel.MinLon, tel.MinLat = b.Min[0], b.Min[1]
		tel.MaxLon, tel.MaxLat = b.Max[0], b.Max[1]
		tel.StartCell = CellToken(track.Points[0], c.Config.StartCellLevel)
	}
	return tel, cum
}

// CumulativeDistances returns, for each point, the haversine path length in
// meters from the first point.
func CumulativeDistances(pts []trackpoint.RawPoint) []float64 {
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + geo.DistanceHaversine(pts[i-1].Point(), pts[i].Point())
	}
	return cum
}

// AscentDescent accumulates elevation change with hysteresis. An anchor
// starts at the first elevation; a later elevation at least floor meters
// from the anchor is counted and becomes the new anchor. Smaller changes are
// ignored, so sensor jitter never accumulates while slow climbs still do.
// Descent is returned as a positive magnitude.
func AscentDescent(pts []trackpoint.RawPoint, floor float64) (ascent, descent float64) {
	var anchor float64
	anchored := false
	for _, p := range pts {
		if p.Elevation == nil {
			continue
		}
		ele := *p.Elevation
		if !anchored {
			anchor, anchored = ele, true
			continue
		}
		delta := ele - anchor
		switch {
		case delta >= floor && delta > 0:
			ascent += delta
			anchor = ele
		case -delta >= floor && delta < 0:
			descent -= delta
			anchor = ele
		}
	}
	return ascent, descent
}

// ElevationBounds returns the lowest and highest elevations, nil when no
// point has one.
func ElevationBounds(pts []trackpoint.RawPoint) (min, max *float64) {
	data := make(stats.Float64Data, 0, len(pts))
	for _, p := range pts {
		if p.Elevation != nil {
			data = append(data, *p.Elevation)
		}
	}
	if len(data) == 0 {
		return nil, nil
	}
	lo, err := data.Min()
	if err != nil {
		return nil, nil
	}
	hi, err := data.Max()
	if err != nil {
		return nil, nil
	}
	return &lo, &hi
}

type difficultyRule struct {
	difficulty    trackfile.Difficulty
	maxDistanceKm float64
	maxAscentM    float64
}

// difficultyRules are checked in order; the first rule with both
// distance and ascent strictly below its limits wins.
var difficultyRules = []difficultyRule{
	{trackfile.DifficultyEasy, 10, 300},
	{trackfile.DifficultyModerate, 20, 800},
	{trackfile.DifficultyHard, 35, 1500},
}

// Classify maps distance and ascent to a difficulty class.
func Classify(distanceKm, ascentM float64) trackfile.Difficulty {
	for _, r := range difficultyRules {
		if distanceKm < r.maxDistanceKm && ascentM < r.maxAscentM {
			return r.difficulty
		}
	}
	return trackfile.DifficultyExtreme
}

// CellToken returns the S2 cell token at level containing p.
func CellToken(p trackpoint.RawPoint, level int) string {
	if level < 0 || level > 30 {
		level = params.DefaultTelemetryConfig.StartCellLevel
	}
	leaf := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
	return leaf.Parent(level).ToToken()
}

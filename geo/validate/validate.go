// Package validate checks a decoded track against physical plausibility rules.
package validate

import (
	"fmt"

	"github.com/rotblauer/trackd/params"
	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackpoint"
)

type Validator struct {
	Config params.ValidationConfig
}

func New(config *params.ValidationConfig) *Validator {
	if config == nil {
		config = &params.DefaultValidationConfig
	}
	return &Validator{Config: *config}
}

// Validate rejects empty tracks, out-of-bounds coordinates, and elevations
// outside the configured range. Every violation of a kind is summarised in a
// single OutOfRangeError.
//
// Timestamps never fail validation. If they go backwards the track's
// HasTimestamps flag is cleared and a warning is returned.
func (v *Validator) Validate(track *trackpoint.Track) (warnings []string, err error) {
	if track == nil || track.Len() == 0 {
		return nil, &trackerr.MalformedInputError{Reason: "track has no points"}
	}
	if err := checkRange(track.Points, "latitude", -90, 90, func(p trackpoint.RawPoint) (float64, bool) {
		return p.Lat, true
	}); err != nil {
		return nil, err
	}
	if err := checkRange(track.Points, "longitude", -180, 180, func(p trackpoint.RawPoint) (float64, bool) {
		return p.Lon, true
	}); err != nil {
		return nil, err
	}
	if err := checkRange(track.Points, "elevation", v.Config.MinElevation, v.Config.MaxElevation, func(p trackpoint.RawPoint) (float64, bool) {
		if p.Elevation == nil {
			return 0, false
		}
		return *p.Elevation, true
	}); err != nil {
		return nil, err
	}

	if track.HasTimestamps {
		if i := firstBackwardsTime(track.Points); i >= 0 {
			track.HasTimestamps = false
			warnings = append(warnings, fmt.Sprintf("timestamps go backwards at point %d; start and end time ignored", i))
		}
	}
	return warnings, nil
}

func checkRange(pts []trackpoint.RawPoint, field string, min, max float64, get func(trackpoint.RawPoint) (float64, bool)) error {
	var oor *trackerr.OutOfRangeError
	for i, p := range pts {
		val, ok := get(p)
		if !ok {
			continue
		}
		// Written so NaN is out of range.
		if val >= min && val <= max {
			continue
		}
		if oor == nil {
			oor = &trackerr.OutOfRangeError{
				Field:      field,
				FirstIndex: i,
				Value:      val,
				Min:        min,
				Max:        max,
			}
		}
		oor.Count++
	}
	if oor != nil {
		return oor
	}
	return nil
}

// firstBackwardsTime returns the index of the first point earlier than its
// predecessor, or -1. Points without a time are skipped.
func firstBackwardsTime(pts []trackpoint.RawPoint) int {
	var last *trackpoint.RawPoint
	for i := range pts {
		if pts[i].Time == nil {
			continue
		}
		if last != nil && pts[i].Time.Before(*last.Time) {
			return i
		}
		last = &pts[i]
	}
	return -1
}

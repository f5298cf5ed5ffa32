// Package parse decodes uploaded GPS files into raw tracks.
package parse

import (
	"bytes"

	"github.com/rotblauer/trackd/trackerr"
	"github.com/rotblauer/trackd/types/trackpoint"
	"github.com/tkrajina/gpxgo/gpx"
)

// GPX decodes a GPX document.
// Every track segment is concatenated in document order. Routes are used
// only when the document has no track points at all, as planner exports do.
// Missing elevation or timestamps are not errors; the Track flags record them.
func GPX(b []byte) (*trackpoint.Track, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, &trackerr.MalformedInputError{Reason: "file is empty"}
	}
	doc, err := gpx.ParseBytes(b)
	if err != nil {
		return nil, &trackerr.MalformedInputError{Reason: "not a valid GPX document", Err: err}
	}

	var pts []gpx.GPXPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			pts = append(pts, seg.Points...)
		}
	}
	if len(pts) == 0 {
		for _, rte := range doc.Routes {
			pts = append(pts, rte.Points...)
		}
	}
	if len(pts) == 0 {
		if len(doc.Tracks) == 0 && len(doc.Routes) == 0 {
			return nil, &trackerr.MalformedInputError{Reason: "document has no tracks"}
		}
		return nil, &trackerr.MalformedInputError{Reason: "document has no track points"}
	}

	track := &trackpoint.Track{
		Points:        make([]trackpoint.RawPoint, 0, len(pts)),
		HasTimestamps: true,
	}
	for _, p := range pts {
		rp := trackpoint.RawPoint{
			Lat: p.Latitude,
			Lon: p.Longitude,
		}
		if p.Elevation.NotNull() {
			ele := p.Elevation.Value()
			rp.Elevation = &ele
			track.HasElevation = true
		}
		if !p.Timestamp.IsZero() {
			ts := p.Timestamp
			rp.Time = &ts
		} else {
			track.HasTimestamps = false
		}
		track.Points = append(track.Points, rp)
	}
	return track, nil
}

// Package simplifier reduces a track to the points needed to draw it
// within a tolerance, using Douglas-Peucker over a metric projection.
package simplifier

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/paulmach/orb/simplify"
	"github.com/rotblauer/trackd/params"
)

type Simplifier struct {
	Config params.SimplificationConfig
}

func New(config *params.SimplificationConfig) *Simplifier {
	if config == nil {
		config = &params.DefaultSimplificationConfig
	}
	return &Simplifier{Config: *config}
}

// Indexes returns the ascending indexes into ls of the points kept when
// simplifying with the configured tolerance in meters. The first and last
// indexes are always present. Lines of two points or fewer are kept whole.
//
// Points are projected to web mercator and the tolerance is scaled by the
// mercator scale factor at the mean latitude of the endpoints. Endpoints
// always survive, so the scale, and the result, are stable when simplifying
// an already simplified line. Lines reaching past the mercator latitude
// limit use a polar azimuthal equidistant projection instead.
func (s *Simplifier) Indexes(ls orb.LineString) []int {
	idx, _ := s.IndexesContext(context.Background(), ls)
	return idx
}

// IndexesContext is Indexes that gives up with ctx.Err() if ctx is done
// before or after the Douglas-Peucker pass. The pass itself always runs to
// completion once started.
func (s *Simplifier) IndexesContext(ctx context.Context, ls orb.LineString) ([]int, error) {
	n := len(ls)
	if n <= 2 || s.Config.DouglasPeuckerThreshold <= 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	projected, threshold := s.project(ls)

	// The simplifier compacts its input in place.
	kept := simplify.DouglasPeucker(threshold).LineString(projected.Clone())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// kept is an ordered subsequence of projected. Recover the indexes with a
	// forward scan; where identical points repeat, the earliest one after the
	// previous match is taken.
	idx := make([]int, 0, len(kept))
	j := 0
	for _, p := range kept {
		for j < n && projected[j] != p {
			j++
		}
		if j == n {
			break
		}
		idx = append(idx, j)
		j++
	}
	if len(idx) == 0 || idx[len(idx)-1] != n-1 {
		// The last point equals an earlier one; keep the true endpoint.
		if len(idx) > 0 && projected[idx[len(idx)-1]] == projected[n-1] {
			idx[len(idx)-1] = n - 1
		} else {
			idx = append(idx, n-1)
		}
	}
	return idx, nil
}

// mercatorLatitudeLimit is the latitude web mercator clamps to.
const mercatorLatitudeLimit = 85.05112878

// project returns ls in a planar projection and the tolerance in its units.
func (s *Simplifier) project(ls orb.LineString) (orb.LineString, float64) {
	polar := 0.0
	for _, p := range ls {
		if math.Abs(p[1]) > polar {
			polar = math.Abs(p[1])
		}
	}
	if polar < mercatorLatitudeLimit {
		n := len(ls)
		mid := orb.Point{0, (ls[0][1] + ls[n-1][1]) / 2}
		return project.LineString(ls.Clone(), project.WGS84.ToMercator),
			s.Config.DouglasPeuckerThreshold * project.MercatorScaleFactor(mid)
	}
	north := true
	for _, p := range ls {
		if math.Abs(p[1]) == polar {
			north = p[1] > 0
			break
		}
	}
	return project.LineString(ls.Clone(), polarEquidistant(north)), s.Config.DouglasPeuckerThreshold
}

// polarEquidistant projects to meters on a plane centered on the pole,
// keeping distances from the pole true.
func polarEquidistant(north bool) orb.Projection {
	return func(p orb.Point) orb.Point {
		colat := 90 - p[1]
		if !north {
			colat = 90 + p[1]
		}
		rho := orb.EarthRadius * colat * math.Pi / 180
		lon := p[0] * math.Pi / 180
		return orb.Point{rho * math.Sin(lon), -rho * math.Cos(lon)}
	}
}

// LineString returns the simplified copy of ls. ls is not modified.
func (s *Simplifier) LineString(ls orb.LineString) orb.LineString {
	idx := s.Indexes(ls)
	out := make(orb.LineString, len(idx))
	for i, j := range idx {
		out[i] = ls[j]
	}
	return out
}

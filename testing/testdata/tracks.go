package testdata

import (
	"math"
	"time"
)

// metersPerDegree is the length of one degree of latitude on the
// orb/geo sphere.
const metersPerDegree = 6378137.0 * math.Pi / 180

var epoch = time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)

// Line returns n points heading due north from (lat, lon), step meters apart.
// A meridian is straight in mercator, so the points are exactly collinear.
func Line(n int, lat, lon, step float64) []Point {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{
			Lat:  lat + float64(i)*step/metersPerDegree,
			Lon:  lon,
			Ele:  Ptr(100.0),
			Time: Ptr(epoch.Add(time.Duration(i) * time.Second)),
		}
	}
	return pts
}

// RightAngle returns a track of legs points heading north, then legs more
// points heading east from the corner, step meters apart.
func RightAngle(legs int, lat, lon, step float64) []Point {
	pts := Line(legs+1, lat, lon, step)
	corner := pts[len(pts)-1]
	lonStep := step / (metersPerDegree * math.Cos(corner.Lat*math.Pi/180))
	for i := 1; i <= legs; i++ {
		pts = append(pts, Point{
			Lat:  corner.Lat,
			Lon:  corner.Lon + float64(i)*lonStep,
			Ele:  Ptr(100.0),
			Time: Ptr(epoch.Add(time.Duration(legs+i) * time.Second)),
		})
	}
	return pts
}

// ZigZag returns n points heading east, step meters apart, swinging
// amplitude meters north and back as a triangle wave with an apex every
// halfPeriod points. Elevation rolls between 200 and 900 meters.
func ZigZag(n int, lat, lon, step, amplitude float64, halfPeriod int) []Point {
	lonPerMeter := 1 / (metersPerDegree * math.Cos(lat*math.Pi/180))
	pts := make([]Point, n)
	for i := range pts {
		phase := i % (2 * halfPeriod)
		north := amplitude * float64(phase) / float64(halfPeriod)
		if phase > halfPeriod {
			north = amplitude * float64(2*halfPeriod-phase) / float64(halfPeriod)
		}
		ele := 550 + 350*math.Sin(2*math.Pi*float64(i)/2500)
		pts[i] = Point{
			Lat:  lat + north/metersPerDegree,
			Lon:  lon + float64(i)*step*lonPerMeter,
			Ele:  Ptr(ele),
			Time: Ptr(epoch.Add(time.Duration(i) * time.Second)),
		}
	}
	return pts
}

// Haversine is an independent great circle distance, in meters, on the
// same sphere as orb/geo.
func Haversine(a, b Point) float64 {
	const r = 6378137.0
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * r * math.Asin(math.Sqrt(h))
}

// PathLength sums Haversine over consecutive points.
func PathLength(pts []Point) float64 {
	var d float64
	for i := 1; i < len(pts); i++ {
		d += Haversine(pts[i-1], pts[i])
	}
	return d
}

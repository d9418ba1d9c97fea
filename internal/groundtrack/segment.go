// Package groundtrack holds sub-satellite point sequences and splits them
// into antimeridian-free runs for map rendering.
package groundtrack

import "math"

// antimeridianJumpDeg is the longitude jump between consecutive points above
// which the track is treated as having wrapped across ±180°.
const antimeridianJumpDeg = 180.0

// Point is a sub-satellite position in degrees.
type Point struct {
	LatDeg float64 `json:"lat"`
	LonDeg float64 `json:"lon"`
}

// Segment is an ordered run of points with no antimeridian crossing inside it.
type Segment []Point

// Split breaks points into segments wherever consecutive longitudes differ by
// more than 180°. Concatenating the returned segments reproduces the input
// exactly. An empty input yields no segments; a single point yields one
// one-point segment.
func Split(points []Point) []Segment {
	if len(points) == 0 {
		return nil
	}

	var segments []Segment
	start := 0
	for i := 1; i < len(points); i++ {
		if math.Abs(points[i].LonDeg-points[i-1].LonDeg) > antimeridianJumpDeg {
			segments = append(segments, Segment(points[start:i:i]))
			start = i
		}
	}
	return append(segments, Segment(points[start:len(points):len(points)]))
}

// Flatten concatenates segments back into a single point sequence.
func Flatten(segments []Segment) []Point {
	var n int
	for _, s := range segments {
		n += len(s)
	}
	out := make([]Point, 0, n)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}

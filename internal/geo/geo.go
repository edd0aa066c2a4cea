// Package geo measures ellipsoidal distances and picks the closest candidate
// to a target coordinate.
package geo

import (
	"fmt"
	"math"

	"github.com/tidwall/geodesic"

	"github.com/etokosmo/pizza-shop/internal/errx"
)

// Point is a WGS-84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Validate reports coordinates outside the WGS-84 ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return errx.Invalid("geo.point", fmt.Errorf("coordinates out of range: %v, %v", p.Lat, p.Lon))
	}
	return nil
}

// Located is implemented by anything that sits at a fixed coordinate.
type Located interface {
	Location() Point
}

// Match is the candidate closest to a target together with its rounded distance.
type Match[T Located] struct {
	Item   T
	Meters int
}

// Distance returns the geodesic distance between a and b on the WGS-84 ellipsoid, in meters.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	var s12 float64
	geodesic.WGS84.Inverse(a.Lat, a.Lon, b.Lat, b.Lon, &s12, nil, nil)
	return s12
}

// Nearest returns the candidate with the smallest distance to target.
// Ties keep the first candidate in iteration order. Candidates with invalid
// coordinates are ignored; a set without a valid candidate is an error.
func Nearest[T Located](candidates []T, target Point) (Match[T], error) {
	var zero Match[T]
	best, bestDist := -1, math.Inf(1)
	for i, c := range candidates {
		if c.Location().Validate() != nil {
			continue
		}
		d := Distance(c.Location(), target)
		if math.IsNaN(d) || math.IsInf(d, 0) {
			continue
		}
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return zero, errx.NoCandidates("geo.nearest")
	}
	return Match[T]{Item: candidates[best], Meters: int(math.Round(bestDist))}, nil
}

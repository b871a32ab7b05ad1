// Package geo holds the geodesy helpers shared by the vehicle link,
// the coordination loop and the survey planner. Everything here is a
// pure function of its inputs.
package geo

import (
	"errors"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

const (
	// Mean Earth radius used by the great-circle formulas.
	earthRadiusM = 6371000.0

	// Meters per degree of latitude in the local equirectangular
	// approximation. Longitude scale shrinks with cos(latitude).
	metersPerDegreeLat = 111320.0
)

// ErrInsufficientVertices is returned when a polygon operation is
// attempted with fewer than three vertices.
var ErrInsufficientVertices = errors.New("polygon needs at least 3 vertices")

// Haversine returns the great-circle distance in meters between two
// WGS84 points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Bearing returns the initial great-circle bearing from the first
// point to the second, in degrees [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// compassPoints are ordered clockwise from north in 45 degree steps.
var compassPoints = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// CompassDirection classifies a bearing in degrees into one of the
// eight compass points.
func CompassDirection(bearing float64) string {
	idx := int(bearing/45.0+0.5) % 8
	if idx < 0 {
		idx += 8
	}
	return compassPoints[idx]
}

// OffsetMeters shifts a WGS84 position by dx meters east and dy meters
// north using the local equirectangular approximation.
func OffsetMeters(lat, lon, dx, dy float64) (float64, float64) {
	dLat := dy / metersPerDegreeLat
	dLon := dx / (metersPerDegreeLat * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}

// PolygonAreaM2 returns the approximate area in square meters of a
// polygon given as lat/lon vertex pairs. Vertices are projected to Web
// Mercator (EPSG 3857), the planar area is taken from the projected
// ring, and the Mercator scale distortion is corrected by cos^2 of the
// mean latitude. Accurate to well under a percent at survey extents.
func PolygonAreaM2(vertices [][2]float64) (float64, error) {
	if len(vertices) < 3 {
		return 0, ErrInsufficientVertices
	}

	project := wgs84.EPSG().Transform(4326, 3857)

	ring := vertices
	if ring[0] != ring[len(ring)-1] {
		ring = make([][2]float64, 0, len(vertices)+1)
		ring = append(ring, vertices...)
		ring = append(ring, vertices[0])
	}

	flat := make([]float64, 0, len(ring)*2)
	for _, v := range ring {
		x, y, _ := project(v[1], v[0], 0)
		flat = append(flat, x, y)
	}

	seq := geom.NewSequence(flat, geom.DimXY)
	poly := geom.NewPolygon([]geom.LineString{geom.NewLineString(seq)})

	var latSum float64
	for _, v := range vertices {
		latSum += v[0]
	}
	meanLat := latSum / float64(len(vertices)) * math.Pi / 180
	scale := math.Cos(meanLat)

	return poly.Area() * scale * scale, nil
}

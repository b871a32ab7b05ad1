package geo

import (
	"math"
	"testing"
)

func TestHaversine_IdenticalPoints(t *testing.T) {
	d := Haversine(0.0258, 36.9043, 0.0258, 36.9043)

	if d != 0 {
		t.Errorf("expected 0 for identical points, got %f", d)
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Haversine(0.0258, 36.9043, 0.0300, 36.9100)
	b := Haversine(0.0300, 36.9100, 0.0258, 36.9043)

	if a != b {
		t.Errorf("expected symmetric distance, got %f and %f", a, b)
	}
}

func TestHaversine_OneDegreeOfLatitude(t *testing.T) {
	// Two points one degree apart on the same meridian are about
	// 111,320 m apart.
	d := Haversine(0, 36.9, 1, 36.9)

	if math.Abs(d-111320)/111320 > 0.01 {
		t.Errorf("expected ~111320 m, got %f", d)
	}
}

func TestHaversine_ShortBaseline(t *testing.T) {
	// ~10 m of latitude.
	lat2, lon2 := OffsetMeters(0.0258, 36.9043, 0, 10)
	d := Haversine(0.0258, 36.9043, lat2, lon2)

	if math.Abs(d-10) > 0.1 {
		t.Errorf("expected ~10 m, got %f", d)
	}
}

func TestBearing_CardinalDirections(t *testing.T) {
	cases := []struct {
		name           string
		lat2, lon2     float64
		expected       float64
	}{
		{"north", 1.0, 36.9, 0},
		{"east", 0.0, 37.9, 90},
		{"south", -1.0, 36.9, 180},
		{"west", 0.0, 35.9, 270},
	}

	for _, tc := range cases {
		b := Bearing(0, 36.9, tc.lat2, tc.lon2)
		if math.Abs(b-tc.expected) > 0.5 {
			t.Errorf("%s: expected bearing %f, got %f", tc.name, tc.expected, b)
		}
	}
}

func TestCompassDirection(t *testing.T) {
	cases := []struct {
		bearing  float64
		expected string
	}{
		{0, "N"},
		{22.4, "N"},
		{22.6, "NE"},
		{90, "E"},
		{135, "SE"},
		{180, "S"},
		{225, "SW"},
		{270, "W"},
		{315, "NW"},
		{359, "N"},
	}

	for _, tc := range cases {
		got := CompassDirection(tc.bearing)
		if got != tc.expected {
			t.Errorf("bearing %f: expected %s, got %s", tc.bearing, tc.expected, got)
		}
	}
}

func TestOffsetMeters_RoundTrip(t *testing.T) {
	lat, lon := OffsetMeters(0.0258, 36.9043, 100, 50)

	dEast := Haversine(0.0258, 36.9043, 0.0258, lon)
	dNorth := Haversine(0.0258, 36.9043, lat, 36.9043)

	if math.Abs(dEast-100) > 1 {
		t.Errorf("expected ~100 m east, got %f", dEast)
	}
	if math.Abs(dNorth-50) > 1 {
		t.Errorf("expected ~50 m north, got %f", dNorth)
	}
}

func TestPolygonAreaM2_HundredMeterSquare(t *testing.T) {
	// A square of side ~100 m built from local offsets should come
	// out near 10,000 m^2.
	baseLat, baseLon := 0.0258, 36.9043

	var verts [][2]float64
	for _, off := range [][2]float64{{0, 0}, {100, 0}, {100, 100}, {0, 100}} {
		lat, lon := OffsetMeters(baseLat, baseLon, off[0], off[1])
		verts = append(verts, [2]float64{lat, lon})
	}

	area, err := PolygonAreaM2(verts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if math.Abs(area-10000)/10000 > 0.02 {
		t.Errorf("expected ~10000 m^2, got %f", area)
	}
}

func TestPolygonAreaM2_TooFewVertices(t *testing.T) {
	_, err := PolygonAreaM2([][2]float64{{0, 0}, {1, 1}})

	if err == nil {
		t.Fatal("expected error for degenerate polygon")
	}
}

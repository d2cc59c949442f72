package geo

import (
	"math"
	"testing"
	"time"
)

func TestNormalizeLon(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{179, 179},
		{180, -180},
		{181, -179},
		{-180, -180},
		{-181, 179},
		{540, -180},
		{-540, -180},
		{360, 0},
	}
	for _, c := range cases {
		if got := NormalizeLon(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("NormalizeLon(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNormalizeHeading(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0}, {360, 0}, {361, 1}, {-1, 359}, {-720, 0}, {725, 5},
	}
	for _, c := range cases {
		if got := NormalizeHeading(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("NormalizeHeading(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestHeadingDiffShortestPath(t *testing.T) {
	cases := []struct{ a, b, want float64 }{
		{0, 10, 10},
		{10, 0, -10},
		{350, 10, 20},
		{10, 350, -20},
		{0, 180, 180},
		{90, 90, 0},
	}
	for _, c := range cases {
		if got := HeadingDiff(c.a, c.b); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("HeadingDiff(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestClampLat(t *testing.T) {
	if got := ClampLat(89); got != MaxLatDeg {
		t.Fatalf("ClampLat(89) = %v", got)
	}
	if got := ClampLat(-89); got != -MaxLatDeg {
		t.Fatalf("ClampLat(-89) = %v", got)
	}
	if got := ClampLat(42.5); got != 42.5 {
		t.Fatalf("ClampLat(42.5) = %v", got)
	}
}

func TestAdvanceCardinalDirections(t *testing.T) {
	// 60 NM due north from the equator is one degree of latitude.
	lat, lon := Advance(0, 0, 0, 60)
	if math.Abs(lat-1) > 1e-9 || math.Abs(lon) > 1e-9 {
		t.Fatalf("north: %v,%v", lat, lon)
	}

	// Due east on the equator: one degree of longitude.
	lat, lon = Advance(0, 0, 90, 60)
	if math.Abs(lat) > 1e-9 || math.Abs(lon-1) > 1e-9 {
		t.Fatalf("east: %v,%v", lat, lon)
	}

	// At 60N a degree of longitude is half as wide, so the same step
	// covers two degrees.
	_, lon = Advance(60, 0, 90, 60)
	if math.Abs(lon-2) > 1e-6 {
		t.Fatalf("east at 60N: lon = %v, want 2", lon)
	}

	// Crossing the antimeridian wraps.
	_, lon = Advance(0, 179.5, 90, 60)
	if math.Abs(lon-(-179.5)) > 1e-9 {
		t.Fatalf("wrap: lon = %v, want -179.5", lon)
	}
}

func TestDistanceAndBearingRoundTrip(t *testing.T) {
	lat, lon := Advance(10, 20, 45, 30)

	if d := DistanceNM(10, 20, lat, lon); math.Abs(d-30) > 0.5 {
		t.Fatalf("distance = %v NM, want ~30", d)
	}
	if b := BearingDeg(10, 20, lat, lon); math.Abs(b-45) > 1 {
		t.Fatalf("bearing = %v, want ~45", b)
	}
}

func TestDistanceNMKnownValue(t *testing.T) {
	// One degree of latitude along a meridian is 60 NM.
	if d := DistanceNM(0, 0, 1, 0); math.Abs(d-60) > 0.1 {
		t.Fatalf("meridian degree = %v NM", d)
	}
	if d := DistanceNM(35, -40, 35, -40); d != 0 {
		t.Fatalf("zero distance = %v", d)
	}
}

func TestMagneticVariationPlausible(t *testing.T) {
	date := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	// Declination is small in central Europe, strongly west on the US
	// east coast.
	if v := MagneticVariation(50, 9, 0, date); math.Abs(v) > 10 {
		t.Fatalf("central europe declination = %v", v)
	}
	if v := MagneticVariation(40.7, -74, 0, date); v > -5 || v < -20 {
		t.Fatalf("new york declination = %v, want strongly west", v)
	}
}

func TestGeodeticToGeocentricLat(t *testing.T) {
	if got := GeodeticToGeocentricLat(0); got != 0 {
		t.Fatalf("equator = %v", got)
	}
	if got := GeodeticToGeocentricLat(90); math.Abs(got-90) > 1e-9 {
		t.Fatalf("pole = %v", got)
	}
	// At 45 degrees the correction is about -0.19 degrees.
	got := GeodeticToGeocentricLat(45)
	if got >= 45 || got < 44.7 {
		t.Fatalf("45 deg geodetic -> %v geocentric", got)
	}
}

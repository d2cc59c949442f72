package geo

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

const (
	// DegPerNM is degrees of latitude per nautical mile.
	DegPerNM = 1.0 / 60.0

	// MaxLatDeg clamps surface-unit latitude away from the poles, where
	// the flat-earth per-tick step degenerates.
	MaxLatDeg = 85.0

	KnotsToMs = 0.514444
	MsToKnots = 1.94384
	FeetToM   = 0.3048
)

// NormalizeLon wraps a longitude into [-180, 180).
func NormalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// NormalizeHeading wraps a heading into [0, 360).
func NormalizeHeading(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// ClampLat limits a latitude to the usable surface band.
func ClampLat(lat float64) float64 {
	if lat > MaxLatDeg {
		return MaxLatDeg
	}
	if lat < -MaxLatDeg {
		return -MaxLatDeg
	}
	return lat
}

// HeadingDiff returns the signed shortest angular difference from a to b
// in degrees, in (-180, 180].
func HeadingDiff(a, b float64) float64 {
	d := math.Mod(b-a, 360)
	if d > 180 {
		d -= 360
	}
	if d <= -180 {
		d += 360
	}
	return d
}

// LonDiff returns the signed shortest longitudinal difference from a to b
// in degrees, taking the shorter way around the antimeridian.
func LonDiff(a, b float64) float64 {
	return HeadingDiff(a, b)
}

// Advance moves a lat/lon by distanceNM along a compass heading using the
// flat-earth per-step approximation: latitude by cos(heading), longitude by
// sin(heading) stretched by 1/cos(lat). Acceptable for the small per-tick
// steps the feeds take. The result is clamped and wrapped.
func Advance(lat, lon, headingDeg, distanceNM float64) (float64, float64) {
	rad := headingDeg * math.Pi / 180
	newLat := lat + distanceNM*math.Cos(rad)*DegPerNM
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	newLon := lon + distanceNM*math.Sin(rad)*DegPerNM/cosLat
	return ClampLat(newLat), NormalizeLon(newLon)
}

// DistanceNM returns the great-circle distance between two points in
// nautical miles.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusNM = 3440.065
	la1 := lat1 * math.Pi / 180
	la2 := lat2 * math.Pi / 180
	dLa := (lat2 - lat1) * math.Pi / 180
	dLo := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLa/2)*math.Sin(dLa/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLo/2)*math.Sin(dLo/2)
	return earthRadiusNM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BearingDeg returns the initial compass bearing from point 1 to point 2.
func BearingDeg(lat1, lon1, lat2, lon2 float64) float64 {
	la1 := lat1 * math.Pi / 180
	la2 := lat2 * math.Pi / 180
	dLo := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLo) * math.Cos(la2)
	x := math.Cos(la1)*math.Sin(la2) - math.Sin(la1)*math.Cos(la2)*math.Cos(dLo)
	return NormalizeHeading(math.Atan2(y, x) * 180 / math.Pi)
}

// MagneticVariation returns the magnetic declination in degrees (+East)
// for a position and time, from the World Magnetic Model. Returns 0 when
// the model cannot evaluate the point.
func MagneticVariation(lat, lon, altFt float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altFt*FeetToM)
	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		return 0
	}
	return mag.D()
}

// GeodeticToGeocentricLat converts a geodetic latitude (degrees) to
// geocentric, correcting for earth oblateness. Used when orienting orbit
// paths from propagated positions.
func GeodeticToGeocentricLat(latDeg float64) float64 {
	const f = 1.0 / 298.257223563 // WGS84 flattening
	e2 := f * (2 - f)
	rad := latDeg * math.Pi / 180
	return math.Atan((1-e2)*math.Tan(rad)) * 180 / math.Pi
}

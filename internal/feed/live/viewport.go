package live

import (
	"github.com/akaris/globetrack/internal/geo"
)

// Viewport is a camera-derived geographic bounding box used to limit
// polling coverage and center spatial queries.
type Viewport struct {
	LatMin float64 `json:"lat_min"`
	LonMin float64 `json:"lon_min"`
	LatMax float64 `json:"lat_max"`
	LonMax float64 `json:"lon_max"`
}

// WorldViewport covers the whole globe; the default until the renderer
// reports a camera.
func WorldViewport() Viewport {
	return Viewport{LatMin: -90, LonMin: -180, LatMax: 90, LonMax: 180}
}

// ShiftLon translates the viewport by the current earth-rotation angle so
// a camera-frame box becomes a geographic one.
func (v Viewport) ShiftLon(earthRotationDeg float64) Viewport {
	if earthRotationDeg == 0 {
		return v
	}
	v.LonMin = geo.NormalizeLon(v.LonMin - earthRotationDeg)
	v.LonMax = geo.NormalizeLon(v.LonMax - earthRotationDeg)
	// A box that straddles the antimeridian after the shift cannot be
	// expressed as one min/max pair; cover the full longitude span.
	if v.LonMin >= v.LonMax {
		v.LonMin, v.LonMax = -180, 180
	}
	return v
}

// Valid rejects inverted or absurd boxes.
func (v Viewport) Valid() bool {
	return v.LatMin < v.LatMax &&
		v.LonMin < v.LonMax &&
		v.LatMin >= -90 && v.LatMax <= 90 &&
		v.LonMin >= -180 && v.LonMax <= 180
}

// Package interp bridges sparse network updates to display-rate rendering.
// Network reports arrive every 5-10 seconds; the renderer samples at ~60
// Hz. Simple easing visibly pauses when an update is late, so instead the
// engine dead-reckons both the displayed position and the ghost target
// forward every tick, and steers the displayed position toward the moving
// ghost by a small fixed fraction.
package interp

import (
	"math"

	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/internal/units"
)

const (
	// DefaultCorrectionFraction is the share of the remaining error
	// closed per tick. Geometric decay: the error shrinks every tick but
	// never quite reaches zero.
	DefaultCorrectionFraction = 0.05

	// DefaultSnapThresholdDeg is the positional error, in degrees, past
	// which blending gives up and snaps. Errors that large are stale or
	// teleporting reports, not something to smooth over.
	DefaultSnapThresholdDeg = 1.0

	// movedEpsilonDeg is the displacement below which a unit counts as
	// stationary for dirty-flag purposes.
	movedEpsilonDeg = 1e-9
)

// Engine advances live units between network updates. One engine serves
// one feed; it is driven from the feed's display ticker and is not safe
// for concurrent use.
type Engine struct {
	CorrectionFraction float64
	SnapThresholdDeg   float64

	dirty   bool
	version uint64
}

// NewEngine creates an engine with default tuning.
func NewEngine() *Engine {
	return &Engine{
		CorrectionFraction: DefaultCorrectionFraction,
		SnapThresholdDeg:   DefaultSnapThresholdDeg,
	}
}

// Advance runs one display tick for a single unit: extrapolate the ghost
// and the displayed position from cached heading trig, then correct the
// displayed position toward the ghost. Reports whether the unit moved.
func (e *Engine) Advance(u *units.Unit, dtSec float64) bool {
	if dtSec <= 0 {
		return false
	}
	prevLat, prevLon := u.Lat, u.Lon

	// Dead-reckon both positions forward so the ghost keeps moving even
	// without fresh network data.
	stepDeg := u.SpeedKts * dtSec / 3600.0 * geo.DegPerNM
	if stepDeg != 0 {
		u.GhostLat, u.GhostLon = extrapolate(u.GhostLat, u.GhostLon, u.HeadingSin, u.HeadingCos, stepDeg)
		u.Lat, u.Lon = extrapolate(u.Lat, u.Lon, u.HeadingSin, u.HeadingCos, stepDeg)
	}

	// Correct toward the ghost, taking the shorter way in longitude.
	dLat := u.GhostLat - u.Lat
	dLon := geo.LonDiff(u.Lon, u.GhostLon)
	if e.errDeg(u.Lat, dLat, dLon) > e.SnapThresholdDeg {
		u.Lat = u.GhostLat
		u.Lon = u.GhostLon
	} else {
		u.Lat += dLat * e.CorrectionFraction
		u.Lon = geo.NormalizeLon(u.Lon + dLon*e.CorrectionFraction)
	}
	u.Lat = geo.ClampLat(u.Lat)

	moved := math.Abs(u.Lat-prevLat) > movedEpsilonDeg ||
		math.Abs(geo.LonDiff(prevLon, u.Lon)) > movedEpsilonDeg
	if moved {
		e.dirty = true
	}
	return moved
}

// AdvanceAll ticks every unit and bumps the version once if anything
// moved, so consumers can skip re-uploads when nothing changed.
func (e *Engine) AdvanceAll(us []*units.Unit, dtSec float64) bool {
	any := false
	for _, u := range us {
		if e.Advance(u, dtSec) {
			any = true
		}
	}
	if any {
		e.version++
	}
	return any
}

// errDeg is the positional error magnitude in degrees, with longitude
// compressed by cos(lat) so a degree means the same distance both ways.
func (e *Engine) errDeg(lat, dLat, dLon float64) float64 {
	c := math.Cos(lat * math.Pi / 180)
	return math.Sqrt(dLat*dLat + dLon*dLon*c*c)
}

// extrapolate advances a position stepDeg degrees of arc along the cached
// heading trig.
func extrapolate(lat, lon, sinH, cosH, stepDeg float64) (float64, float64) {
	lat2 := geo.ClampLat(lat + stepDeg*cosH)
	c := math.Cos(lat * math.Pi / 180)
	if c < 1e-6 {
		c = 1e-6
	}
	return lat2, geo.NormalizeLon(lon + stepDeg*sinH/c)
}

// Dirty reports whether any unit moved since the last Clear.
func (e *Engine) Dirty() bool { return e.dirty }

// Clear resets the dirty flag after the consumer has drained state.
func (e *Engine) Clear() { e.dirty = false }

// Version is a monotonically incrementing change counter; consumers
// compare it to detect staleness without polling positions.
func (e *Engine) Version() uint64 { return e.version }

// MarkDirty forces the dirty flag, used when table contents change
// outside the tick (new or removed units).
func (e *Engine) MarkDirty() {
	e.dirty = true
	e.version++
}

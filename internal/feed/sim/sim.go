// Package sim implements the self-contained procedural motion models:
// ships and aircraft steer random great-circle-ish courses, satellites fly
// idealized circular orbits, drones hold patrol circles. No network
// dependency; these feeds are always available.
package sim

import (
	"math"
	"math/rand"
	"time"

	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/internal/units"
)

// Options tune all simulated feeds.
type Options struct {
	SpeedMultiplier float64 // scales speeds and orbital rates, default 1.0
	Seed            int64   // 0 = time-seeded
}

func (o Options) multiplier() float64 {
	if o.SpeedMultiplier <= 0 {
		return 1.0
	}
	return o.SpeedMultiplier
}

func (o Options) rng() *rand.Rand {
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

const (
	// Course changes arrive roughly every courseChangeMeanSec, with
	// +/- courseChangeVarSec of variance per unit.
	courseChangeMeanSec = 10.0
	courseChangeVarSec  = 4.0

	// Most course changes are small perturbations; about one in ten is a
	// route change with a much larger turn.
	smallTurnMaxDeg = 45.0
	largeTurnMaxDeg = 150.0
	largeTurnChance = 0.10
)

// advanceCourse runs one tick of the surface-course model shared by ships
// and aircraft: turn toward the target heading at a capped rate (snapping
// when within the cap), advance the position, and roll the course-change
// countdown.
func advanceCourse(u *units.Unit, dtSec, turnRateDegPerSec, mult float64, rng *rand.Rand) {
	turnCap := turnRateDegPerSec * dtSec * mult
	diff := geo.HeadingDiff(u.HeadingDeg, u.TargetHeadingDeg)
	if math.Abs(diff) <= turnCap {
		u.SetHeading(u.TargetHeadingDeg)
	} else if diff > 0 {
		u.SetHeading(geo.NormalizeHeading(u.HeadingDeg + turnCap))
	} else {
		u.SetHeading(geo.NormalizeHeading(u.HeadingDeg - turnCap))
	}

	distNM := u.SpeedKts * mult * dtSec / 3600.0
	u.Lat, u.Lon = geo.Advance(u.Lat, u.Lon, u.HeadingDeg, distNM)

	u.CourseCountdown -= dtSec
	if u.CourseCountdown <= 0 {
		turn := (rng.Float64()*2 - 1) * smallTurnMaxDeg
		if rng.Float64() < largeTurnChance {
			turn = (rng.Float64()*2 - 1) * largeTurnMaxDeg
		}
		u.TargetHeadingDeg = geo.NormalizeHeading(u.HeadingDeg + turn)
		u.CourseCountdown = courseChangeMeanSec + (rng.Float64()*2-1)*courseChangeVarSec
	}
}

func randomHeading(rng *rand.Rand) float64 {
	return rng.Float64() * 360
}

// randomSurfacePoint picks a spawn point away from the poles.
func randomSurfacePoint(rng *rand.Rand, maxLat float64) (float64, float64) {
	lat := (rng.Float64()*2 - 1) * maxLat
	lon := rng.Float64()*360 - 180
	return lat, lon
}

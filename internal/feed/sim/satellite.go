package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// SatelliteFeed simulates idealized circular orbits. Real Keplerian
// propagation lives in the live feed; here the period comes from a simple
// altitude-scaling law.
type SatelliteFeed struct {
	*feed.Base
	opts Options
	rng  *rand.Rand
}

// NewSatelliteFeed creates a simulated satellite feed.
func NewSatelliteFeed(cfg feed.Config, opts Options, log *logger.Logger) *SatelliteFeed {
	f := &SatelliteFeed{opts: opts, rng: opts.rng()}
	f.Base = feed.NewBase(units.KindSatellites, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.spawn,
	}, units.StatusSimulated, log.Named("sim-satellites"))
	return f
}

// classFor draws an orbit class from weighted odds and returns the class
// with an altitude in its regime.
func (f *SatelliteFeed) classFor() (units.OrbitClass, float64) {
	r := f.rng.Float64()
	switch {
	case r < 0.70:
		return units.OrbitLEO, 400 + f.rng.Float64()*1100
	case r < 0.92:
		return units.OrbitMEO, 8000 + f.rng.Float64()*12000
	default:
		return units.OrbitGEO, 35786
	}
}

// periodFor approximates orbital period in minutes from altitude.
func periodFor(altKm float64) float64 {
	const earthRadiusKm = 6371.0
	return 84.4 * math.Pow(1+altKm/earthRadiusKm, 1.5)
}

func (f *SatelliteFeed) spawn(ctx context.Context) error {
	cfg := f.Configured()
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta
		for i := 0; i < cfg.MaxUnits; i++ {
			class, altKm := f.classFor()
			military := f.rng.Float64() < 0.25
			name := fmt.Sprintf("GLOBESAT-%d", i+1)
			if military {
				name = fmt.Sprintf("USA-%d", 200+i)
			}
			inc := f.rng.Float64() * 98
			if class == units.OrbitGEO {
				inc = f.rng.Float64() * 5
			}
			u := &units.Unit{
				ID:             fmt.Sprintf("%05d", 40000+i),
				Kind:           units.KindSatellites,
				Name:           name,
				InclinationDeg: inc,
				NodeLonDeg:     f.rng.Float64()*360 - 180,
				PhaseDeg:       f.rng.Float64() * 360,
				PeriodMin:      periodFor(altKm),
				AltitudeFt:     altKm * 3280.84,
				OrbitClass:     class,
				Military:       military,
				Scale:          1.0,
			}
			f.place(u)
			deltas = append(deltas, t.Upsert(u)...)
		}
		return deltas
	})
	return nil
}

// place maps orbital phase to a surface track point and tangent heading.
func (f *SatelliteFeed) place(u *units.Unit) {
	lat, lon := orbitPoint(u.PhaseDeg, u.InclinationDeg, u.NodeLonDeg)
	u.Lat, u.Lon = lat, lon

	// Tangent direction, from a small forward step along the orbit.
	lat2, lon2 := orbitPoint(u.PhaseDeg+0.5, u.InclinationDeg, u.NodeLonDeg)
	u.SetHeading(geo.BearingDeg(lat, lon, lat2, lon2))
}

// orbitPoint maps (phase, inclination, node longitude) to lat/lon for an
// idealized circular orbit.
func orbitPoint(phaseDeg, incDeg, nodeLonDeg float64) (float64, float64) {
	phase := phaseDeg * math.Pi / 180
	inc := incDeg * math.Pi / 180

	lat := math.Asin(math.Sin(phase)*math.Sin(inc)) * 180 / math.Pi
	inOrbitLon := math.Atan2(math.Cos(inc)*math.Sin(phase), math.Cos(phase)) * 180 / math.Pi
	return lat, geo.NormalizeLon(nodeLonDeg + inOrbitLon)
}

func (f *SatelliteFeed) tick(ctx context.Context) {
	dtMin := f.Configured().UpdateRate.Minutes()
	mult := f.opts.multiplier()
	f.Mutate(func(t *feed.Table) []units.Delta {
		deltas := make([]units.Delta, 0, t.Len())
		t.ForEach(func(u *units.Unit) {
			if u.PeriodMin <= 0 {
				return
			}
			u.PhaseDeg = math.Mod(u.PhaseDeg+360.0/u.PeriodMin*dtMin*mult, 360)
			f.place(u)
			deltas = append(deltas, units.Delta{Type: "updated", ID: u.ID, Unit: u})
		})
		return deltas
	})
}

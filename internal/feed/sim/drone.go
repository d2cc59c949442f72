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

// DroneFeed simulates UAVs holding fixed patrol circles.
type DroneFeed struct {
	*feed.Base
	opts Options
	rng  *rand.Rand
}

// NewDroneFeed creates a simulated drone feed.
func NewDroneFeed(cfg feed.Config, opts Options, log *logger.Logger) *DroneFeed {
	f := &DroneFeed{opts: opts, rng: opts.rng()}
	f.Base = feed.NewBase(units.KindDrones, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.spawn,
	}, units.StatusSimulated, log.Named("sim-drones"))
	return f
}

func (f *DroneFeed) spawn(ctx context.Context) error {
	cfg := f.Configured()
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta
		for i := 0; i < cfg.MaxUnits; i++ {
			clat, clon := randomSurfacePoint(f.rng, 55)
			dir := 1.0
			if f.rng.Float64() < 0.5 {
				dir = -1.0
			}
			u := &units.Unit{
				ID:             fmt.Sprintf("UAV-%03d", i+1),
				Kind:           units.KindDrones,
				Name:           fmt.Sprintf("UAV-%03d", i+1),
				PatrolLat:      clat,
				PatrolLon:      clon,
				PatrolRadiusNM: 5 + f.rng.Float64()*25,
				OrbitDir:       dir,
				PhaseDeg:       f.rng.Float64() * 360,
				PeriodMin:      4 + f.rng.Float64()*8, // one lap of the patrol circle
				AltitudeFt:     5000 + f.rng.Float64()*15000,
				SpeedKts:       80,
				Scale:          0.8,
			}
			f.place(u)
			deltas = append(deltas, t.Upsert(u)...)
		}
		return deltas
	})
	return nil
}

// place puts the drone on its patrol circle at the current phase, heading
// tangent to the circle.
func (f *DroneFeed) place(u *units.Unit) {
	phase := u.PhaseDeg * math.Pi / 180
	u.Lat = geo.ClampLat(u.PatrolLat + u.PatrolRadiusNM*math.Cos(phase)*geo.DegPerNM)
	cosLat := math.Cos(u.PatrolLat * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	u.Lon = geo.NormalizeLon(u.PatrolLon + u.PatrolRadiusNM*math.Sin(phase)*geo.DegPerNM/cosLat)

	// Tangent to the circle: 90 degrees ahead of the radial, direction-signed.
	u.SetHeading(geo.NormalizeHeading(u.PhaseDeg + 90*u.OrbitDir))
}

func (f *DroneFeed) tick(ctx context.Context) {
	dtMin := f.Configured().UpdateRate.Minutes()
	mult := f.opts.multiplier()
	f.Mutate(func(t *feed.Table) []units.Delta {
		deltas := make([]units.Delta, 0, t.Len())
		t.ForEach(func(u *units.Unit) {
			if u.PeriodMin <= 0 {
				return
			}
			u.PhaseDeg = math.Mod(u.PhaseDeg+u.OrbitDir*360.0/u.PeriodMin*dtMin*mult+360, 360)
			f.place(u)
			deltas = append(deltas, units.Delta{Type: "updated", ID: u.ID, Unit: u})
		})
		return deltas
	})
}

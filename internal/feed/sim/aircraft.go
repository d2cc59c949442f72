package sim

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

const aircraftTurnRateDegPerSec = 3.0

// AircraftFeed procedurally simulates en-route aircraft.
type AircraftFeed struct {
	*feed.Base
	opts Options
	rng  *rand.Rand
}

// NewAircraftFeed creates a simulated aircraft feed.
func NewAircraftFeed(cfg feed.Config, opts Options, log *logger.Logger) *AircraftFeed {
	f := &AircraftFeed{opts: opts, rng: opts.rng()}
	f.Base = feed.NewBase(units.KindAircraft, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.spawn,
	}, units.StatusSimulated, log.Named("sim-aircraft"))
	return f
}

func (f *AircraftFeed) spawn(ctx context.Context) error {
	cfg := f.Configured()
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta
		for i := 0; i < cfg.MaxUnits; i++ {
			lat, lon := randomSurfacePoint(f.rng, 70)
			u := &units.Unit{
				ID:         fmt.Sprintf("a%05x", i),
				Kind:       units.KindAircraft,
				Name:       fmt.Sprintf("GTK%03d", i+1),
				Lat:        lat,
				Lon:        lon,
				SpeedKts:   380 + f.rng.Float64()*140,
				AltitudeFt: 30000 + f.rng.Float64()*10000,
				Scale:      1.0,
			}
			u.SetHeading(randomHeading(f.rng))
			u.TargetHeadingDeg = u.HeadingDeg
			u.CourseCountdown = f.rng.Float64() * courseChangeMeanSec
			deltas = append(deltas, t.Upsert(u)...)
		}
		return deltas
	})
	return nil
}

func (f *AircraftFeed) tick(ctx context.Context) {
	dt := f.Configured().UpdateRate.Seconds()
	mult := f.opts.multiplier()
	f.Mutate(func(t *feed.Table) []units.Delta {
		deltas := make([]units.Delta, 0, t.Len())
		t.ForEach(func(u *units.Unit) {
			advanceCourse(u, dt, aircraftTurnRateDegPerSec, mult, f.rng)
			deltas = append(deltas, units.Delta{Type: "updated", ID: u.ID, Unit: u})
		})
		return deltas
	})
}

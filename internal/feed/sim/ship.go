package sim

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

const shipTurnRateDegPerSec = 1.5

// ShipFeed procedurally simulates surface vessels.
type ShipFeed struct {
	*feed.Base
	opts Options
	rng  *rand.Rand
}

// NewShipFeed creates a simulated ship feed.
func NewShipFeed(cfg feed.Config, opts Options, log *logger.Logger) *ShipFeed {
	f := &ShipFeed{opts: opts, rng: opts.rng()}
	f.Base = feed.NewBase(units.KindShips, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.spawn,
	}, units.StatusSimulated, log.Named("sim-ships"))
	return f
}

func (f *ShipFeed) spawn(ctx context.Context) error {
	cfg := f.Configured()
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta
		for i := 0; i < cfg.MaxUnits; i++ {
			lat, lon := randomSurfacePoint(f.rng, 60)
			u := &units.Unit{
				// Synthetic MMSI: 9 digits, MID-style prefix.
				ID:       fmt.Sprintf("316%06d", i),
				Kind:     units.KindShips,
				Name:     fmt.Sprintf("MV HORIZON %d", i+1),
				Lat:      lat,
				Lon:      lon,
				SpeedKts: 8 + f.rng.Float64()*14,
				Scale:    1.0,
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

func (f *ShipFeed) tick(ctx context.Context) {
	dt := f.Configured().UpdateRate.Seconds()
	mult := f.opts.multiplier()
	f.Mutate(func(t *feed.Table) []units.Delta {
		deltas := make([]units.Delta, 0, t.Len())
		t.ForEach(func(u *units.Unit) {
			advanceCourse(u, dt, shipTurnRateDegPerSec, mult, f.rng)
			deltas = append(deltas, units.Delta{Type: "updated", ID: u.ID, Unit: u})
		})
		return deltas
	})
}

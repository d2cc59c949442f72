package sim

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

func testConfig(maxUnits int) feed.Config {
	return feed.Config{Enabled: true, UpdateRate: time.Second, MaxUnits: maxUnits}
}

func TestAdvanceCourseTurnsTowardTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	u := &units.Unit{SpeedKts: 10, CourseCountdown: 1000}
	u.SetHeading(0)
	u.TargetHeadingDeg = 90

	// Turn rate 2 deg/s for 1 s: heading moves 2 degrees toward target.
	advanceCourse(u, 1, 2, 1, rng)
	if math.Abs(u.HeadingDeg-2) > 1e-9 {
		t.Fatalf("heading = %v, want 2", u.HeadingDeg)
	}
}

func TestAdvanceCourseSnapsWithinCap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	u := &units.Unit{SpeedKts: 10, CourseCountdown: 1000}
	u.SetHeading(89)
	u.TargetHeadingDeg = 90

	advanceCourse(u, 1, 2, 1, rng)
	if u.HeadingDeg != 90 {
		t.Fatalf("heading = %v, want snap to 90", u.HeadingDeg)
	}
}

func TestAdvanceCourseTakesShortestTurn(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	u := &units.Unit{SpeedKts: 10, CourseCountdown: 1000}
	u.SetHeading(350)
	u.TargetHeadingDeg = 10

	// The short way from 350 to 10 crosses north.
	advanceCourse(u, 1, 5, 1, rng)
	if math.Abs(u.HeadingDeg-355) > 1e-9 {
		t.Fatalf("heading = %v, want 355", u.HeadingDeg)
	}
}

func TestAdvanceCourseConvergesOnTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	u := &units.Unit{SpeedKts: 10, CourseCountdown: 1e9}
	u.SetHeading(200)
	u.TargetHeadingDeg = 45

	for i := 0; i < 200; i++ {
		advanceCourse(u, 1, 3, 1, rng)
	}
	if u.HeadingDeg != 45 {
		t.Fatalf("heading = %v after convergence window, want 45", u.HeadingDeg)
	}
}

func TestAdvanceCourseRollsCourseChange(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	u := &units.Unit{SpeedKts: 10, CourseCountdown: 0.5}
	u.SetHeading(100)
	u.TargetHeadingDeg = 100

	advanceCourse(u, 1, 3, 1, rng)
	if u.CourseCountdown <= 0 {
		t.Fatalf("countdown not reset: %v", u.CourseCountdown)
	}
	if u.TargetHeadingDeg < 0 || u.TargetHeadingDeg >= 360 {
		t.Fatalf("new target heading not normalized: %v", u.TargetHeadingDeg)
	}
}

func TestShipFeedSpawnsToCapacity(t *testing.T) {
	f := NewShipFeed(testConfig(3), Options{Seed: 42}, logger.NewNop())
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	us := f.Units()
	if len(us) != 3 {
		t.Fatalf("spawned %d units, want 3", len(us))
	}

	seen := make(map[string]bool)
	for _, u := range us {
		if seen[u.ID] {
			t.Fatalf("duplicate unit id %s", u.ID)
		}
		seen[u.ID] = true
		if u.Kind != units.KindShips {
			t.Fatalf("unit kind = %s", u.Kind)
		}
		if u.Lat < -60 || u.Lat > 60 {
			t.Fatalf("ship spawned at lat %v", u.Lat)
		}
		if u.SpeedKts < 8 || u.SpeedKts > 22 {
			t.Fatalf("ship speed %v outside range", u.SpeedKts)
		}
	}

	if f.Stats().Status != units.StatusSimulated {
		t.Fatalf("status = %s", f.Stats().Status)
	}
}

func TestAircraftFeedSpawnsFlightLevels(t *testing.T) {
	f := NewAircraftFeed(testConfig(5), Options{Seed: 42}, logger.NewNop())
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	for _, u := range f.Units() {
		if u.AltitudeFt < 30000 || u.AltitudeFt > 40000 {
			t.Fatalf("aircraft altitude %v outside cruise band", u.AltitudeFt)
		}
		if u.SpeedKts < 380 || u.SpeedKts > 520 {
			t.Fatalf("aircraft speed %v outside range", u.SpeedKts)
		}
	}
}

func TestSatelliteOrbitGeometry(t *testing.T) {
	f := NewSatelliteFeed(testConfig(20), Options{Seed: 42}, logger.NewNop())
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	for _, u := range f.Units() {
		// Latitude can never exceed the orbital inclination.
		if math.Abs(u.Lat) > u.InclinationDeg+1e-6 {
			t.Fatalf("satellite at lat %v with inclination %v", u.Lat, u.InclinationDeg)
		}
		if u.Lon < -180 || u.Lon >= 180 {
			t.Fatalf("longitude %v not normalized", u.Lon)
		}
		if u.PeriodMin <= 0 {
			t.Fatalf("period %v", u.PeriodMin)
		}
		switch u.OrbitClass {
		case units.OrbitLEO, units.OrbitMEO, units.OrbitGEO:
		default:
			t.Fatalf("unknown orbit class %q", u.OrbitClass)
		}
	}
}

func TestDroneHoldsPatrolRadius(t *testing.T) {
	f := NewDroneFeed(testConfig(4), Options{Seed: 42}, logger.NewNop())
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer f.Stop()

	for _, u := range f.Units() {
		d := geo.DistanceNM(u.PatrolLat, u.PatrolLon, u.Lat, u.Lon)
		if math.Abs(d-u.PatrolRadiusNM) > u.PatrolRadiusNM*0.2 {
			t.Fatalf("drone %s at %v NM from center, radius %v", u.ID, d, u.PatrolRadiusNM)
		}
		if u.OrbitDir != 1 && u.OrbitDir != -1 {
			t.Fatalf("orbit direction %v", u.OrbitDir)
		}
	}
}

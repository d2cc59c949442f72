package spatial

import (
	"context"
	"testing"
	"time"

	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// fixedSource returns the same snapshot every rebuild: two ships near the
// origin and one aircraft on the far side of the globe.
func fixedSource() map[units.Kind]Positions {
	return map[units.Kind]Positions{
		units.KindShips: {
			IDs: []string{"s1", "s2"},
			Lat: []float64{0.01, 0.02},
			Lon: []float64{0.01, 0.02},
		},
		units.KindAircraft: {
			IDs: []string{"a1"},
			Lat: []float64{-30},
			Lon: []float64{150},
		},
	}
}

func newTestIndex(t *testing.T, src SourceFunc) *Index {
	t.Helper()
	if src == nil {
		src = fixedSource
	}
	x := New(Config{Resolution: 2, RebuildMinGap: time.Millisecond}, src, nil, logger.NewNop())
	if err := x.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(x.Stop)
	return x
}

func queryVisible(t *testing.T, x *Index, lat, lon float64, ring int) VisibleResult {
	t.Helper()
	reply := make(chan VisibleResult, 1)
	deadline := time.Now().Add(5 * time.Second)
	for !x.QueryVisible(lat, lon, ring, reply) {
		if time.Now().After(deadline) {
			t.Fatal("query never accepted")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case res := <-reply:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no visible result within 5s")
		return VisibleResult{}
	}
}

func TestQueryVisibleFindsNearbyUnits(t *testing.T) {
	x := newTestIndex(t, nil)

	res := queryVisible(t, x, 0, 0, 1)
	if res.Err != nil {
		t.Fatalf("query error: %v", res.Err)
	}
	if res.Version == 0 {
		t.Fatal("on-demand first build did not bump the version")
	}

	ships := res.IDs[units.KindShips]
	if len(ships) != 2 {
		t.Fatalf("visible ships = %v, want s1 and s2", ships)
	}
	if len(res.Indices[units.KindShips]) != 2 {
		t.Fatalf("ship indices = %v", res.Indices[units.KindShips])
	}
	// Indices point back into the source arrays.
	src := fixedSource()[units.KindShips]
	for i, row := range res.Indices[units.KindShips] {
		if src.IDs[row] != res.IDs[units.KindShips][i] {
			t.Fatalf("index %d resolves to %q, id says %q", row, src.IDs[row], res.IDs[units.KindShips][i])
		}
	}

	if len(res.IDs[units.KindAircraft]) != 0 {
		t.Fatalf("far-side aircraft visible at origin: %v", res.IDs[units.KindAircraft])
	}

	// The far side sees only the aircraft.
	res = queryVisible(t, x, -30, 150, 1)
	if got := res.IDs[units.KindAircraft]; len(got) != 1 || got[0] != "a1" {
		t.Fatalf("visible aircraft = %v, want a1", got)
	}
	if len(res.IDs[units.KindShips]) != 0 {
		t.Fatalf("origin ships visible on far side: %v", res.IDs[units.KindShips])
	}
}

func TestRebuildBumpsVersionAndGapGates(t *testing.T) {
	x := newTestIndex(t, nil)

	// Force an initial build.
	queryVisible(t, x, 0, 0, 0)
	v1 := x.Version()
	if v1 == 0 {
		t.Fatal("no build recorded")
	}

	// Inside the minimum gap the worker drops the request.
	if !x.RequestRebuild() {
		t.Fatal("rebuild request rejected with an empty queue")
	}
	// Drain: issue a query and wait for its answer so the rebuild has
	// been processed by then.
	queryVisible(t, x, 0, 0, 0)

	time.Sleep(5 * time.Millisecond)
	if !x.RequestRebuild() {
		t.Fatal("rebuild request rejected")
	}
	deadline := time.Now().Add(5 * time.Second)
	for x.Version() == v1 {
		if time.Now().After(deadline) {
			t.Fatal("version never advanced after gap expired")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestQueryVisibleCacheHit(t *testing.T) {
	x := newTestIndex(t, nil)

	first := queryVisible(t, x, 0, 0, 1)

	// Same cell, same ring, same version: answered from cache even while
	// another reply channel is used.
	reply := make(chan VisibleResult, 1)
	if !x.QueryVisible(0, 0, 1, reply) {
		t.Fatal("cached query rejected")
	}
	select {
	case res := <-reply:
		if res.Version != first.Version {
			t.Fatalf("cache returned version %d, want %d", res.Version, first.Version)
		}
	default:
		t.Fatal("cache hit was not delivered synchronously")
	}
}

func TestQueryVisibleSingleFlight(t *testing.T) {
	block := make(chan struct{})
	src := func() map[units.Kind]Positions {
		<-block
		return fixedSource()
	}
	x := newTestIndex(t, src)

	reply := make(chan VisibleResult, 1)
	if !x.QueryVisible(0, 0, 1, reply) {
		t.Fatal("first query rejected")
	}
	// Worker is stuck in the source snapshot; a second distinct query
	// must be refused, not queued.
	reply2 := make(chan VisibleResult, 1)
	if x.QueryVisible(10, 10, 1, reply2) {
		t.Fatal("second query accepted while one was in flight")
	}

	close(block)
	select {
	case <-reply:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked query never completed")
	}

	// In-flight slot is released afterwards.
	deadline := time.Now().Add(5 * time.Second)
	for !x.QueryVisible(10, 10, 1, reply2) {
		if time.Now().After(deadline) {
			t.Fatal("slot never released")
		}
		time.Sleep(time.Millisecond)
	}
	<-reply2
}

func TestQueryDensityCountsPerCell(t *testing.T) {
	x := newTestIndex(t, nil)

	reply := make(chan DensityResult, 1)
	if !x.QueryDensity(0, 0, 1, reply) {
		t.Fatal("density query rejected")
	}
	var res DensityResult
	select {
	case res = <-reply:
	case <-time.After(5 * time.Second):
		t.Fatal("no density result within 5s")
	}
	if res.Err != nil {
		t.Fatalf("density error: %v", res.Err)
	}

	total := 0
	for _, c := range res.Cells {
		if c.Count <= 0 {
			t.Fatalf("empty cell reported: %+v", c)
		}
		if c.Cell == "" {
			t.Fatal("cell id missing")
		}
		total += c.Count
	}
	if total != 2 {
		t.Fatalf("counted %d units near origin, want 2", total)
	}
}

func TestStopRejectsFurtherQueries(t *testing.T) {
	x := New(Config{}, fixedSource, nil, logger.NewNop())
	if err := x.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	x.Stop()

	if x.RequestRebuild() {
		t.Fatal("rebuild accepted after stop")
	}
	if x.QueryDensity(0, 0, 1, make(chan DensityResult, 1)) {
		t.Fatal("density accepted after stop")
	}
	if err := x.Start(context.Background()); err == nil {
		t.Fatal("restart of stopped index did not error")
	}
}

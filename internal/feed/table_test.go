package feed

import (
	"testing"

	"github.com/akaris/globetrack/internal/units"
)

func shipUnit(id string) *units.Unit {
	return &units.Unit{ID: id, Kind: units.KindShips}
}

func TestTableUpsertAndGet(t *testing.T) {
	tbl := NewTable(0)

	deltas := tbl.Upsert(shipUnit("a"))
	if len(deltas) != 1 || deltas[0].Type != "added" || deltas[0].ID != "a" {
		t.Fatalf("unexpected deltas for insert: %+v", deltas)
	}

	u, ok := tbl.Get("a")
	if !ok || u.ID != "a" {
		t.Fatalf("Get(a) = %v, %v", u, ok)
	}

	deltas = tbl.Upsert(shipUnit("a"))
	if len(deltas) != 1 || deltas[0].Type != "updated" {
		t.Fatalf("unexpected deltas for update: %+v", deltas)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d after update, want 1", tbl.Len())
	}
}

func TestTableEvictsOldestFirst(t *testing.T) {
	tbl := NewTable(3)
	for _, id := range []string{"a", "b", "c"} {
		tbl.Upsert(shipUnit(id))
	}

	deltas := tbl.Upsert(shipUnit("d"))
	if len(deltas) != 2 {
		t.Fatalf("expected eviction + insert, got %+v", deltas)
	}
	if deltas[0].Type != "removed" || deltas[0].ID != "a" {
		t.Fatalf("expected oldest entry a evicted, got %+v", deltas[0])
	}
	if _, ok := tbl.Get("a"); ok {
		t.Fatal("evicted unit still present")
	}

	want := []string{"b", "c", "d"}
	got := tbl.IDs()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("IDs = %v, want %v", got, want)
		}
	}
}

func TestTableUpdateKeepsInsertionOrder(t *testing.T) {
	tbl := NewTable(2)
	tbl.Upsert(shipUnit("a"))
	tbl.Upsert(shipUnit("b"))

	// Touching the oldest unit must not refresh its eviction position.
	tbl.Upsert(shipUnit("a"))

	deltas := tbl.Upsert(shipUnit("c"))
	if deltas[0].Type != "removed" || deltas[0].ID != "a" {
		t.Fatalf("expected a evicted despite its update, got %+v", deltas[0])
	}
}

func TestTableRemoveReindexes(t *testing.T) {
	tbl := NewTable(0)
	for _, id := range []string{"a", "b", "c"} {
		tbl.Upsert(shipUnit(id))
	}

	if !tbl.Remove("b") {
		t.Fatal("Remove(b) = false")
	}
	if tbl.Remove("b") {
		t.Fatal("second Remove(b) = true")
	}

	u, ok := tbl.Get("c")
	if !ok || u.ID != "c" {
		t.Fatalf("Get(c) after removal = %v, %v", u, ok)
	}
	if got := tbl.IDs(); len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("IDs after removal = %v", got)
	}
}

func TestTableSetMaxEvicts(t *testing.T) {
	tbl := NewTable(0)
	for _, id := range []string{"a", "b", "c", "d"} {
		tbl.Upsert(shipUnit(id))
	}

	deltas := tbl.SetMax(2)
	if len(deltas) != 2 {
		t.Fatalf("expected 2 evictions, got %+v", deltas)
	}
	if deltas[0].ID != "a" || deltas[1].ID != "b" {
		t.Fatalf("evictions not oldest-first: %+v", deltas)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len = %d after SetMax(2)", tbl.Len())
	}
}

func TestTableSnapshotIsolated(t *testing.T) {
	tbl := NewTable(0)
	tbl.Upsert(&units.Unit{ID: "a", Kind: units.KindShips, Lat: 10})

	snap := tbl.Snapshot()
	snap[0].Lat = 99

	u, _ := tbl.Get("a")
	if u.Lat != 10 {
		t.Fatalf("snapshot mutation leaked into table: lat = %v", u.Lat)
	}
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/akaris/globetrack/internal/orbit"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

func newTestStorage(t *testing.T) *ElementStorage {
	t.Helper()
	s, err := NewElementStorage(filepath.Join(t.TempDir(), "test.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleElements() []orbit.Element {
	return []orbit.Element{
		{
			Name:           "ISS (ZARYA)",
			CatalogID:      "25544",
			Line1:          "1 25544U ...",
			Line2:          "2 25544 ...",
			InclinationDeg: 51.6416,
			MeanMotion:     15.72125391,
			PeriodMin:      91.6,
			Class:          units.OrbitLEO,
		},
		{
			Name:           "USA 224",
			CatalogID:      "37348",
			Line1:          "1 37348U ...",
			Line2:          "2 37348 ...",
			InclinationDeg: 97.9,
			MeanMotion:     14.8,
			PeriodMin:      97.3,
			Class:          units.OrbitLEO,
			Military:       true,
		},
	}
}

func TestSaveAndLoadElements(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.SaveElements(ctx, fetchedAt, sampleElements()); err != nil {
		t.Fatalf("save: %v", err)
	}

	gotAt, els, err := s.LoadElements(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !gotAt.Equal(fetchedAt) {
		t.Fatalf("fetched = %v, want %v", gotAt, fetchedAt)
	}
	if len(els) != 2 {
		t.Fatalf("loaded %d elements, want 2", len(els))
	}

	// Ordered by catalog id.
	iss := els[0]
	if iss.CatalogID != "25544" || iss.Name != "ISS (ZARYA)" {
		t.Fatalf("first element = %+v", iss)
	}
	if iss.InclinationDeg != 51.6416 || iss.Class != units.OrbitLEO || iss.Military {
		t.Fatalf("iss metadata = %+v", iss)
	}
	if usa := els[1]; !usa.Military {
		t.Fatalf("military flag lost: %+v", usa)
	}
}

func TestSaveElementsReplacesCatalog(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if err := s.SaveElements(ctx, time.Now(), sampleElements()); err != nil {
		t.Fatalf("first save: %v", err)
	}

	later := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	replacement := []orbit.Element{{
		Name:      "NOAA 19",
		CatalogID: "33591",
		Line1:     "1 33591U ...",
		Line2:     "2 33591 ...",
		Class:     units.OrbitLEO,
	}}
	if err := s.SaveElements(ctx, later, replacement); err != nil {
		t.Fatalf("second save: %v", err)
	}

	gotAt, els, err := s.LoadElements(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(els) != 1 || els[0].CatalogID != "33591" {
		t.Fatalf("catalog not replaced: %+v", els)
	}
	if !gotAt.Equal(later) {
		t.Fatalf("fetched = %v, want %v", gotAt, later)
	}
}

func TestLoadElementsEmpty(t *testing.T) {
	s := newTestStorage(t)

	at, els, err := s.LoadElements(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(els) != 0 || !at.IsZero() {
		t.Fatalf("empty cache returned %d elements, fetched %v", len(els), at)
	}
}

func TestStorageReopens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := NewElementStorage(path, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveElements(ctx, time.Now(), sampleElements()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewElementStorage(path, logger.NewNop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	_, els, err := s2.LoadElements(ctx)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if len(els) != 2 {
		t.Fatalf("persisted %d elements, want 2", len(els))
	}
}

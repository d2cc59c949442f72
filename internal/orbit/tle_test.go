package orbit

import (
	"strings"
	"testing"

	"github.com/akaris/globetrack/internal/units"
)

const issTLE = `ISS (ZARYA)
1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537`

func TestParseElements(t *testing.T) {
	els, err := ParseElements(strings.NewReader(issTLE))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(els) != 1 {
		t.Fatalf("parsed %d records, want 1", len(els))
	}

	el := els[0]
	if el.Name != "ISS (ZARYA)" {
		t.Fatalf("name = %q", el.Name)
	}
	if el.CatalogID != "25544" {
		t.Fatalf("catalog id = %q", el.CatalogID)
	}
	if el.InclinationDeg != 51.6416 {
		t.Fatalf("inclination = %v", el.InclinationDeg)
	}
	if el.MeanMotion != 15.72125391 {
		t.Fatalf("mean motion = %v", el.MeanMotion)
	}
	if el.PeriodMin < 91 || el.PeriodMin > 92 {
		t.Fatalf("period = %v min, want ~91.6", el.PeriodMin)
	}
	if el.Class != units.OrbitLEO {
		t.Fatalf("class = %q, want LEO", el.Class)
	}
	if el.Military {
		t.Fatal("ISS flagged military")
	}
}

func TestParseElementsWithoutNameLine(t *testing.T) {
	bare := `1 25544U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537`
	els, err := ParseElements(strings.NewReader(bare))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if els[0].Name != "OBJECT 25544" {
		t.Fatalf("synthesized name = %q", els[0].Name)
	}
}

func TestParseElementsSkipsMalformedRecords(t *testing.T) {
	mixed := `BROKEN SAT
1 11111U 98067A   08264.51782528 -.00002182  00000-0 -11606-4 0  2927
2 11111  garbage inclination here and not enough columns
` + issTLE
	els, err := ParseElements(strings.NewReader(mixed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(els) != 1 || els[0].CatalogID != "25544" {
		t.Fatalf("records = %+v, want only 25544", els)
	}
}

func TestParseElementsEmptyInput(t *testing.T) {
	if _, err := ParseElements(strings.NewReader("")); err == nil {
		t.Fatal("empty input did not error")
	}
	if _, err := ParseElements(strings.NewReader("just a name line")); err == nil {
		t.Fatal("input with no element lines did not error")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		period float64
		want   units.OrbitClass
	}{
		{92, units.OrbitLEO},
		{224.9, units.OrbitLEO},
		{225, units.OrbitMEO},
		{718, units.OrbitMEO},
		{1299.9, units.OrbitMEO},
		{1300, units.OrbitGEO},
		{1436, units.OrbitGEO},
	}
	for _, c := range cases {
		if got := classify(c.period); got != c.want {
			t.Fatalf("classify(%v) = %q, want %q", c.period, got, c.want)
		}
	}
}

func TestMilitaryNameHeuristic(t *testing.T) {
	military := []string{"USA 224", "USA-310", "NROL-44", "Cosmos 2558", "YAOGAN 34", "KH-11"}
	for _, n := range military {
		if !isMilitaryName(n) {
			t.Fatalf("%q not flagged military", n)
		}
	}
	civilian := []string{"ISS (ZARYA)", "STARLINK-3014", "NOAA 19", ""}
	for _, n := range civilian {
		if isMilitaryName(n) {
			t.Fatalf("%q flagged military", n)
		}
	}
}

// Package orbit handles two-line element sets: parsing the plaintext
// catalog format and propagating positions with SGP4 on a background
// worker.
package orbit

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/akaris/globetrack/internal/units"
)

// Element is one parsed two-line element record plus the static metadata
// the feed keeps on the main side.
type Element struct {
	Name      string
	CatalogID string
	Line1     string
	Line2     string

	InclinationDeg float64
	MeanMotion     float64 // revolutions per day
	PeriodMin      float64
	Class          units.OrbitClass
	Military       bool
}

// militaryPrefixes is a name heuristic for display styling only.
var militaryPrefixes = []string{"USA ", "USA-", "NROL", "COSMOS", "YAOGAN", "OFEQ", "MILSTAR", "KH-"}

// ParseElements reads a plaintext element-set catalog: records of paired
// "1 ..."/"2 ..." lines, each optionally preceded by a name line.
// Malformed records are skipped, not fatal; an error is returned only
// when nothing parses at all.
func ParseElements(r io.Reader) ([]Element, error) {
	scanner := bufio.NewScanner(r)

	var out []Element
	var name, line1 string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "1 "):
			line1 = line
		case strings.HasPrefix(line, "2 "):
			if line1 == "" {
				continue
			}
			el, err := parseRecord(name, line1, line)
			if err == nil {
				out = append(out, el)
			}
			name, line1 = "", ""
		default:
			name = strings.TrimSpace(line)
			line1 = ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read element sets: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no valid element sets in input")
	}
	return out, nil
}

func parseRecord(name, line1, line2 string) (Element, error) {
	if len(line1) < 7 || len(line2) < 63 {
		return Element{}, fmt.Errorf("element lines too short")
	}

	catalog := strings.TrimSpace(line1[2:7])
	if catalog == "" {
		return Element{}, fmt.Errorf("missing catalog number")
	}

	inc, err := strconv.ParseFloat(strings.TrimSpace(line2[8:16]), 64)
	if err != nil {
		return Element{}, fmt.Errorf("bad inclination: %w", err)
	}
	meanMotion, err := strconv.ParseFloat(strings.TrimSpace(line2[52:63]), 64)
	if err != nil || meanMotion <= 0 {
		return Element{}, fmt.Errorf("bad mean motion")
	}

	period := 1440.0 / meanMotion
	el := Element{
		Name:           name,
		CatalogID:      catalog,
		Line1:          line1,
		Line2:          line2,
		InclinationDeg: inc,
		MeanMotion:     meanMotion,
		PeriodMin:      period,
		Class:          classify(period),
		Military:       isMilitaryName(name),
	}
	if el.Name == "" {
		el.Name = "OBJECT " + catalog
	}
	return el, nil
}

// classify buckets a period into the usual orbit regimes.
func classify(periodMin float64) units.OrbitClass {
	switch {
	case periodMin < 225:
		return units.OrbitLEO
	case periodMin < 1300:
		return units.OrbitMEO
	default:
		return units.OrbitGEO
	}
}

func isMilitaryName(name string) bool {
	upper := strings.ToUpper(name)
	for _, p := range militaryPrefixes {
		if strings.HasPrefix(upper, p) {
			return true
		}
	}
	return false
}

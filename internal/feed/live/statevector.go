package live

import (
	"strings"
	"time"
)

// stateVector is one decoded row of the provider's array-of-arrays
// format. Fields the row omitted stay zero; rows without an id or a
// position are dropped by the decoder rather than failing the batch.
type stateVector struct {
	ID         string
	Callsign   string
	Lat        float64
	Lon        float64
	AltFt      float64
	SpeedKts   float64
	HeadingDeg float64
	OnGround   bool
	Category   int
	Reported   time.Time
}

const (
	metersToFeet = 3.28084
	msToKnots    = 1.943844
)

// decodeStateVector extracts one positional row, index by index, the way
// the provider documents them: [id, callsign, country, time_position,
// last_contact, lon, lat, baro_alt_m, on_ground, velocity_ms, true_track,
// vertical_rate, sensors, geo_alt_m, squawk, spi, category]. Wrong-typed
// or missing cells are skipped.
func decodeStateVector(row []any, batchTime time.Time) (stateVector, bool) {
	var sv stateVector

	if len(row) > 0 {
		if v, ok := row[0].(string); ok {
			sv.ID = strings.TrimSpace(v)
		}
	}
	if sv.ID == "" {
		return sv, false
	}
	if len(row) > 1 {
		if v, ok := row[1].(string); ok {
			sv.Callsign = strings.TrimSpace(v)
		}
	}

	haveLat, haveLon := false, false
	if len(row) > 5 {
		if v, ok := row[5].(float64); ok {
			sv.Lon = v
			haveLon = true
		}
	}
	if len(row) > 6 {
		if v, ok := row[6].(float64); ok {
			sv.Lat = v
			haveLat = true
		}
	}
	if !haveLat || !haveLon {
		return sv, false
	}

	if len(row) > 3 {
		if v, ok := row[3].(float64); ok && v > 0 {
			sv.Reported = time.Unix(int64(v), 0).UTC()
		}
	}
	if sv.Reported.IsZero() {
		sv.Reported = batchTime
	}
	if len(row) > 7 {
		if v, ok := row[7].(float64); ok {
			sv.AltFt = v * metersToFeet
		}
	}
	if len(row) > 8 {
		if v, ok := row[8].(bool); ok {
			sv.OnGround = v
		}
	}
	if len(row) > 9 {
		if v, ok := row[9].(float64); ok {
			sv.SpeedKts = v * msToKnots
		}
	}
	if len(row) > 10 {
		if v, ok := row[10].(float64); ok {
			sv.HeadingDeg = v
		}
	}
	if len(row) > 16 {
		if v, ok := row[16].(float64); ok {
			sv.Category = int(v)
		}
	}
	return sv, true
}

// decodeBatch converts a raw states array, skipping malformed rows.
func decodeBatch(rows [][]any, batchTime time.Time) []stateVector {
	out := make([]stateVector, 0, len(rows))
	for _, row := range rows {
		if sv, ok := decodeStateVector(row, batchTime); ok {
			out = append(out, sv)
		}
	}
	return out
}

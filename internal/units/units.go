package units

import (
	"math"
	"time"
)

// Kind identifies a unit category. Each feed tracks exactly one kind.
type Kind string

const (
	KindShips      Kind = "ships"
	KindAircraft   Kind = "aircraft"
	KindSatellites Kind = "satellites"
	KindDrones     Kind = "drones"
)

// Kinds lists all unit kinds in display order.
var Kinds = []Kind{KindShips, KindAircraft, KindSatellites, KindDrones}

// Valid reports whether k is a known unit kind.
func (k Kind) Valid() bool {
	switch k {
	case KindShips, KindAircraft, KindSatellites, KindDrones:
		return true
	}
	return false
}

// Status describes a feed's connection state.
type Status string

const (
	StatusSimulated    Status = "simulated"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// OrbitClass classifies a satellite orbit by altitude regime.
type OrbitClass string

const (
	OrbitLEO OrbitClass = "LEO"
	OrbitMEO OrbitClass = "MEO"
	OrbitGEO OrbitClass = "GEO"
)

// Unit is the state of a single tracked unit. One struct covers all
// kinds; kind-specific fields are zero/omitted for the others, the same
// way the raw target records from upstream providers carry optional
// fields per source.
type Unit struct {
	ID   string `json:"id"` // MMSI, ICAO24, catalog designator, or synthetic UAV id
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`

	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	HeadingDeg float64 `json:"heading"` // 0 = north, clockwise
	Scale      float64 `json:"scale,omitempty"`

	SpeedKts       float64 `json:"speed_kts,omitempty"`
	AltitudeFt     float64 `json:"altitude_ft,omitempty"`
	MagneticVarDeg float64 `json:"mag_var_deg,omitempty"` // declination at position, +E

	// Simulated-course state (ships, aircraft).
	TargetHeadingDeg float64 `json:"target_heading,omitempty"`
	TurnRateDeg      float64 `json:"-"` // max turn per tick
	CourseCountdown  float64 `json:"-"` // seconds until next course change

	// Orbital state (satellites).
	InclinationDeg float64    `json:"inclination,omitempty"`
	NodeLonDeg     float64    `json:"node_lon,omitempty"`
	PhaseDeg       float64    `json:"-"`
	PeriodMin      float64    `json:"period_min,omitempty"`
	OrbitClass     OrbitClass `json:"orbit_class,omitempty"`
	Military       bool       `json:"military,omitempty"`
	CatalogID      string     `json:"catalog_id,omitempty"`

	// Patrol state (drones).
	PatrolLat      float64 `json:"patrol_lat,omitempty"`
	PatrolLon      float64 `json:"patrol_lon,omitempty"`
	PatrolRadiusNM float64 `json:"patrol_radius_nm,omitempty"`
	OrbitDir       float64 `json:"-"` // +1 or -1

	// Ghost target for dead-reckoning correction (live feeds). The ghost
	// is the latest network-reported position advanced by dead reckoning;
	// the rendered Lat/Lon is continuously corrected toward it.
	GhostLat   float64   `json:"-"`
	GhostLon   float64   `json:"-"`
	HeadingSin float64   `json:"-"` // cached trig for per-tick extrapolation
	HeadingCos float64   `json:"-"`
	LastReport time.Time `json:"-"`

	// Trailing track window, in-memory only.
	Trail []TrailPoint `json:"-"`
}

// TrailPoint is one sample of a unit's recent track.
type TrailPoint struct {
	Lat  float64   `json:"lat"`
	Lon  float64   `json:"lon"`
	Time time.Time `json:"time"`
}

// MaxTrailPoints bounds the in-memory trailing window per unit.
const MaxTrailPoints = 60

// PushTrail appends a trail sample, dropping the oldest past the window.
func (u *Unit) PushTrail(lat, lon float64, t time.Time) {
	u.Trail = append(u.Trail, TrailPoint{Lat: lat, Lon: lon, Time: t})
	if len(u.Trail) > MaxTrailPoints {
		u.Trail = u.Trail[len(u.Trail)-MaxTrailPoints:]
	}
}

// SetHeading updates the heading and its cached trigonometry in one step.
func (u *Unit) SetHeading(deg float64) {
	u.HeadingDeg = deg
	rad := deg * math.Pi / 180
	u.HeadingSin = math.Sin(rad)
	u.HeadingCos = math.Cos(rad)
}

// Stats is the externally visible health of one feed.
type Stats struct {
	MessagesPerSec float64   `json:"messages_per_sec"`
	TotalMessages  int64     `json:"total_messages"`
	ActiveUnits    int       `json:"active_units"`
	LastUpdate     time.Time `json:"last_update"`
	Status         Status    `json:"status"`
	LastError      string    `json:"last_error,omitempty"`
}

// Delta describes one unit change emitted to subscribers.
type Delta struct {
	Type string `json:"type"` // "added", "updated", "removed"
	Unit *Unit  `json:"unit,omitempty"`
	ID   string `json:"id"`
}

package orbit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/pkg/logger"
)

// Request asks the worker to propagate a set of satellites to one instant.
// The id array travels with the request and comes back with the response,
// so nothing depends on table iteration order between the two sides.
type Request struct {
	IDs  []string
	Time time.Time
	// Reply receives exactly one Result. Must be buffered.
	Reply chan Result
}

// Result carries flat propagated buffers parallel to IDs. OK marks the
// entries that propagated cleanly; the others must be skipped, not zeroed
// into the table.
type Result struct {
	IDs        []string
	Lat        []float64 // geodetic degrees
	Lon        []float64 // degrees, [-180,180)
	AltKm      []float64
	HeadingDeg []float64
	NodeLonDeg []float64 // geocentric-corrected ascending-node longitude
	OK         []bool
	Err        error
}

type catalogEntry struct {
	sat            satellite.Satellite
	inclinationDeg float64
}

// Propagator runs SGP4 propagation on its own goroutine, reached only by
// message passing. The request channel is bounded at one entry; callers
// keep at most one request in flight.
type Propagator struct {
	log *logger.Logger

	mu      sync.Mutex
	catalog map[string]catalogEntry

	reqCh   chan Request
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// NewPropagator creates a worker with an empty catalog.
func NewPropagator(log *logger.Logger) *Propagator {
	return &Propagator{
		log:     log.Named("propagator"),
		catalog: make(map[string]catalogEntry),
		reqCh:   make(chan Request, 1),
	}
}

// Load registers element sets with the worker. Safe to call while the
// loop runs; replaces any previous entry for the same catalog id.
func (p *Propagator) Load(elements []Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range elements {
		p.catalog[el.CatalogID] = catalogEntry{
			sat:            satellite.TLEToSat(el.Line1, el.Line2, satellite.GravityWGS72),
			inclinationDeg: el.InclinationDeg,
		}
	}
}

// Start launches the worker goroutine. Starting a stopped worker is an
// error; the owning feed must create a fresh instance instead.
func (p *Propagator) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("propagator already stopped")
	}
	if p.started {
		return nil
	}
	p.started = true

	p.wg.Add(1)
	go p.run(ctx)
	return nil
}

// Stop halts the worker and waits, abandoning any queued work.
func (p *Propagator) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.stopped = true
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.reqCh)
	p.wg.Wait()
}

// Submit queues a request. Returns false when the queue is full (one
// request in flight already) or the worker is gone; callers treat that as
// backpressure, not an error.
func (p *Propagator) Submit(req Request) (ok bool) {
	p.mu.Lock()
	if p.stopped || !p.started {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	defer func() {
		// A concurrent Stop can close the channel under us.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case p.reqCh <- req:
		return true
	default:
		return false
	}
}

func (p *Propagator) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case req, chOpen := <-p.reqCh:
			if !chOpen {
				return
			}
			select {
			case <-ctx.Done():
				req.Reply <- Result{Err: ctx.Err()}
				return
			default:
			}
			req.Reply <- p.propagate(req)
		case <-ctx.Done():
			return
		}
	}
}

// propagate fills flat buffers for every requested id. Unknown ids and
// records SGP4 rejects are marked not-OK and skipped by the caller.
func (p *Propagator) propagate(req Request) Result {
	n := len(req.IDs)
	res := Result{
		IDs:        req.IDs,
		Lat:        make([]float64, n),
		Lon:        make([]float64, n),
		AltKm:      make([]float64, n),
		HeadingDeg: make([]float64, n),
		NodeLonDeg: make([]float64, n),
		OK:         make([]bool, n),
	}

	p.mu.Lock()
	entries := make([]catalogEntry, n)
	known := make([]bool, n)
	for i, id := range req.IDs {
		if e, ok := p.catalog[id]; ok {
			entries[i] = e
			known[i] = true
		}
	}
	p.mu.Unlock()

	for i := range req.IDs {
		if !known[i] {
			continue
		}
		lat, lon, altKm, ok := propagateOne(entries[i].sat, req.Time)
		if !ok {
			continue
		}
		// Heading from a short forward step along the ground track.
		lat2, lon2, _, ok2 := propagateOne(entries[i].sat, req.Time.Add(10*time.Second))

		res.Lat[i] = lat
		res.Lon[i] = lon
		res.AltKm[i] = altKm
		if ok2 {
			res.HeadingDeg[i] = geo.BearingDeg(lat, lon, lat2, lon2)
		}
		// Oblateness correction before deriving the node longitude used
		// to orient the orbit-path visualization.
		res.NodeLonDeg[i] = nodeLongitude(
			geo.GeodeticToGeocentricLat(lat), lon, entries[i].inclinationDeg)
		res.OK[i] = true
	}
	return res
}

// propagateOne runs SGP4 for one instant and converts ECI to geodetic.
func propagateOne(sat satellite.Satellite, t time.Time) (latDeg, lonDeg, altKm float64, ok bool) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
	if pos.X == 0 && pos.Y == 0 && pos.Z == 0 {
		return 0, 0, 0, false
	}
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)

	alt, _, ll := satellite.ECIToLLA(pos, gmst)
	latDeg = ll.Latitude * 180 / math.Pi
	lonDeg = geo.NormalizeLon(ll.Longitude * 180 / math.Pi)
	return latDeg, lonDeg, alt, true
}

// nodeLongitude recovers the ascending-node longitude from a geocentric
// ground-track point and the orbit inclination.
func nodeLongitude(geocLatDeg, lonDeg, incDeg float64) float64 {
	sinInc := math.Sin(incDeg * math.Pi / 180)
	if sinInc == 0 {
		return lonDeg
	}
	sinPhase := math.Sin(geocLatDeg*math.Pi/180) / sinInc
	if sinPhase > 1 {
		sinPhase = 1
	} else if sinPhase < -1 {
		sinPhase = -1
	}
	phase := math.Asin(sinPhase)
	inc := incDeg * math.Pi / 180
	inOrbit := math.Atan2(math.Cos(inc)*math.Sin(phase), math.Cos(phase)) * 180 / math.Pi
	return geo.NormalizeLon(lonDeg - inOrbit)
}

// Package spatial maintains a hexagonal-cell index over current unit
// positions and answers visibility and density queries off the hot path.
// The index lives on its own goroutine, reached only by message passing;
// rebuilds are gated by a minimum wall-clock gap and at most one visible
// query is in flight at a time.
package spatial

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/uber/h3-go/v4"

	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// Positions is one kind's flat position snapshot. IDs and Lat/Lon are
// parallel; the index reports matches as row indices into these arrays
// alongside the stable ids.
type Positions struct {
	IDs []string
	Lat []float64
	Lon []float64
}

// SourceFunc snapshots every feed's current positions. Called on the
// index goroutine at rebuild time.
type SourceFunc func() map[units.Kind]Positions

// Metrics receives index instrumentation; the observability package
// implements it.
type Metrics interface {
	ObserveRebuild(unitCount int, elapsed time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveRebuild(int, time.Duration) {}

// Config tunes the index service.
type Config struct {
	// Resolution is the H3 cell resolution the index is built at.
	Resolution int
	// RebuildMinGap drops rebuild requests arriving sooner than this
	// after the previous build.
	RebuildMinGap time.Duration
	// CacheSize bounds the visible-result cache.
	CacheSize int
}

func (c *Config) applyDefaults() {
	if c.Resolution <= 0 {
		c.Resolution = 2
	}
	if c.RebuildMinGap <= 0 {
		c.RebuildMinGap = time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 128
	}
}

// VisibleResult lists the units inside a cell ring around a query center.
// Indices are rows into the Positions arrays the index was built from;
// IDs are the matching stable ids. Version identifies the build the
// answer came from, so consumers detect staleness without polling.
type VisibleResult struct {
	Version uint64
	IDs     map[units.Kind][]string
	Indices map[units.Kind][]int
	Err     error
}

// CellCount is one cell's population in a density answer.
type CellCount struct {
	Cell  string
	Count int
}

// DensityResult counts units per cell within the queried rings.
type DensityResult struct {
	Version uint64
	Cells   []CellCount
	Err     error
}

type rebuildReq struct{}

type visibleReq struct {
	lat, lon float64
	ring     int
	reply    chan VisibleResult
}

type densityReq struct {
	lat, lon float64
	rings    int
	reply    chan DensityResult
}

type visKey struct {
	cell    h3.Cell
	ring    int
	version uint64
}

// Index is the spatial index service.
type Index struct {
	cfg     Config
	source  SourceFunc
	log     *logger.Logger
	metrics Metrics

	reqCh           chan any
	visibleInFlight atomic.Bool
	version         atomic.Uint64
	cache           *lru.Cache[visKey, VisibleResult]

	// Worker-local state, untouched outside the run goroutine.
	cells     map[h3.Cell]map[units.Kind][]int
	snapshots map[units.Kind]Positions
	lastBuild time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates an index service over the given position source.
func New(cfg Config, source SourceFunc, metrics Metrics, log *logger.Logger) *Index {
	cfg.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	cache, _ := lru.New[visKey, VisibleResult](cfg.CacheSize)
	return &Index{
		cfg:     cfg,
		source:  source,
		log:     log.Named("spatial"),
		metrics: metrics,
		reqCh:   make(chan any, 4),
		cache:   cache,
		cells:   make(map[h3.Cell]map[units.Kind][]int),
	}
}

// Start launches the index goroutine. A stopped index cannot be
// restarted.
func (x *Index) Start(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.stopped {
		return fmt.Errorf("spatial index already stopped")
	}
	if x.started {
		return nil
	}
	x.started = true
	x.wg.Add(1)
	go x.run(ctx)
	return nil
}

// Stop halts the goroutine and waits. Queued queries get a closed-service
// error.
func (x *Index) Stop() {
	x.mu.Lock()
	if !x.started || x.stopped {
		x.stopped = true
		x.mu.Unlock()
		return
	}
	x.stopped = true
	x.mu.Unlock()

	close(x.reqCh)
	x.wg.Wait()
}

// Version identifies the most recent completed build.
func (x *Index) Version() uint64 { return x.version.Load() }

// RequestRebuild asks the worker to rebuild the index. Returns false if
// the queue is full or the service is gone; requests inside the minimum
// gap are accepted but dropped by the worker.
func (x *Index) RequestRebuild() (ok bool) {
	return x.submit(rebuildReq{})
}

// QueryVisible asks which units fall inside ring cells around the center.
// reply must be buffered. Returns false without sending when another
// visible query is already pending or the service is gone; cached answers
// for the current build are delivered immediately.
func (x *Index) QueryVisible(lat, lon float64, ring int, reply chan VisibleResult) bool {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lon), x.cfg.Resolution)
	if err == nil {
		if res, hit := x.cache.Get(visKey{cell: cell, ring: ring, version: x.version.Load()}); hit {
			select {
			case reply <- res:
			default:
			}
			return true
		}
	}

	if !x.visibleInFlight.CompareAndSwap(false, true) {
		return false
	}
	if !x.submit(visibleReq{lat: lat, lon: lon, ring: ring, reply: reply}) {
		x.visibleInFlight.Store(false)
		return false
	}
	return true
}

// QueryDensity asks for per-cell unit counts within the given rings
// around the center. reply must be buffered.
func (x *Index) QueryDensity(lat, lon float64, rings int, reply chan DensityResult) bool {
	return x.submit(densityReq{lat: lat, lon: lon, rings: rings, reply: reply})
}

func (x *Index) submit(req any) (ok bool) {
	x.mu.Lock()
	if x.stopped || !x.started {
		x.mu.Unlock()
		return false
	}
	x.mu.Unlock()

	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case x.reqCh <- req:
		return true
	default:
		return false
	}
}

func (x *Index) run(ctx context.Context) {
	defer x.wg.Done()
	for {
		select {
		case req, chOpen := <-x.reqCh:
			if !chOpen {
				return
			}
			switch r := req.(type) {
			case rebuildReq:
				x.maybeRebuild()
			case visibleReq:
				x.handleVisible(r)
			case densityReq:
				x.handleDensity(r)
			}
		case <-ctx.Done():
			return
		}
	}
}

// maybeRebuild rebuilds unless the previous build is still fresh.
func (x *Index) maybeRebuild() {
	if !x.lastBuild.IsZero() && time.Since(x.lastBuild) < x.cfg.RebuildMinGap {
		return
	}
	x.rebuild()
}

func (x *Index) rebuild() {
	started := time.Now()
	snaps := x.source()

	cells := make(map[h3.Cell]map[units.Kind][]int, len(x.cells))
	total := 0
	for kind, pos := range snaps {
		for i := range pos.Lat {
			cell, err := h3.LatLngToCell(h3.NewLatLng(pos.Lat[i], pos.Lon[i]), x.cfg.Resolution)
			if err != nil {
				continue
			}
			byKind := cells[cell]
			if byKind == nil {
				byKind = make(map[units.Kind][]int)
				cells[cell] = byKind
			}
			byKind[kind] = append(byKind[kind], i)
			total++
		}
	}

	x.cells = cells
	x.snapshots = snaps
	x.lastBuild = started
	x.version.Add(1)
	x.metrics.ObserveRebuild(total, time.Since(started))
}

func (x *Index) handleVisible(r visibleReq) {
	defer x.visibleInFlight.Store(false)

	// First query before any rebuild builds the index on demand.
	if x.lastBuild.IsZero() {
		x.rebuild()
	}

	res := VisibleResult{Version: x.version.Load()}
	center, err := h3.LatLngToCell(h3.NewLatLng(r.lat, r.lon), x.cfg.Resolution)
	if err != nil {
		res.Err = fmt.Errorf("failed to resolve query center: %w", err)
		r.reply <- res
		return
	}
	disk, err := h3.GridDisk(center, r.ring)
	if err != nil {
		res.Err = fmt.Errorf("failed to expand cell ring: %w", err)
		r.reply <- res
		return
	}

	res.IDs = make(map[units.Kind][]string)
	res.Indices = make(map[units.Kind][]int)
	for _, cell := range disk {
		for kind, rows := range x.cells[cell] {
			pos := x.snapshots[kind]
			for _, row := range rows {
				res.Indices[kind] = append(res.Indices[kind], row)
				if row < len(pos.IDs) {
					res.IDs[kind] = append(res.IDs[kind], pos.IDs[row])
				}
			}
		}
	}

	x.cache.Add(visKey{cell: center, ring: r.ring, version: res.Version}, res)
	r.reply <- res
}

func (x *Index) handleDensity(r densityReq) {
	if x.lastBuild.IsZero() {
		x.rebuild()
	}

	res := DensityResult{Version: x.version.Load()}
	center, err := h3.LatLngToCell(h3.NewLatLng(r.lat, r.lon), x.cfg.Resolution)
	if err != nil {
		res.Err = fmt.Errorf("failed to resolve query center: %w", err)
		r.reply <- res
		return
	}
	disk, err := h3.GridDisk(center, r.rings)
	if err != nil {
		res.Err = fmt.Errorf("failed to expand cell ring: %w", err)
		r.reply <- res
		return
	}

	for _, cell := range disk {
		count := 0
		for _, rows := range x.cells[cell] {
			count += len(rows)
		}
		if count > 0 {
			res.Cells = append(res.Cells, CellCount{Cell: cell.String(), Count: count})
		}
	}
	r.reply <- res
}

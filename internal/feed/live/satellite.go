package live

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/orbit"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

const kmToFeet = 3280.84

// ElementStore persists fetched element sets so the satellite feed can
// start during provider outages.
type ElementStore interface {
	SaveElements(ctx context.Context, fetched time.Time, elements []orbit.Element) error
	LoadElements(ctx context.Context) (time.Time, []orbit.Element, error)
}

// SatelliteOptions configure the live satellite feed.
type SatelliteOptions struct {
	// URL serves concatenated two-line element sets as plain text.
	URL          string
	FetchTimeout time.Duration

	// MaxCachedAge rejects stored element sets older than this on
	// fallback; stale elements propagate garbage.
	MaxCachedAge time.Duration
}

func (o *SatelliteOptions) applyDefaults() {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.MaxCachedAge <= 0 {
		o.MaxCachedAge = 14 * 24 * time.Hour
	}
}

// SatelliteFeed tracks real satellites from published element sets. A
// propagation worker computes positions off the feed goroutine; the feed
// submits one request at a time, writes results back by catalog id, and
// re-requests while running.
type SatelliteFeed struct {
	*feed.Base
	opts    SatelliteOptions
	store   ElementStore
	log     *logger.Logger
	metrics Metrics
	http    *http.Client

	// prop is created fresh on every Start; a stopped worker is
	// terminal.
	prop *orbit.Propagator

	propStop chan struct{}
	propWG   sync.WaitGroup

	// dirty is only touched inside Mutate/View closures, which
	// serializes it with the tick goroutine.
	dirty bool
}

// NewSatelliteFeed creates the live satellite feed. store may be nil, in
// which case a failed fetch is fatal to Start.
func NewSatelliteFeed(cfg feed.Config, opts SatelliteOptions, store ElementStore, metrics Metrics, log *logger.Logger) *SatelliteFeed {
	opts.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	f := &SatelliteFeed{
		opts:    opts,
		store:   store,
		log:     log.Named("live-satellites"),
		metrics: metrics,
		http:    &http.Client{Timeout: opts.FetchTimeout},
	}
	f.Base = feed.NewBase(units.KindSatellites, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.onStart,
		OnStop:  f.onStop,
	}, units.StatusConnecting, f.log)
	return f
}

func (f *SatelliteFeed) onStart(ctx context.Context) error {
	f.SetStatus(units.StatusConnecting, "")

	elements, err := f.loadElements(ctx)
	if err != nil {
		return err
	}

	max := f.Configured().MaxUnits
	if max > 0 && len(elements) > max {
		elements = elements[:max]
	}

	f.prop = orbit.NewPropagator(f.log)
	f.prop.Load(elements)
	if err := f.prop.Start(ctx); err != nil {
		return fmt.Errorf("failed to start propagation worker: %w", err)
	}

	now := time.Now().UTC()
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta
		for _, el := range elements {
			u := &units.Unit{
				ID:             el.CatalogID,
				Kind:           units.KindSatellites,
				Name:           el.Name,
				CatalogID:      el.CatalogID,
				InclinationDeg: el.InclinationDeg,
				PeriodMin:      el.PeriodMin,
				OrbitClass:     el.Class,
				Military:       el.Military,
				LastReport:     now,
				Scale:          1.0,
			}
			deltas = append(deltas, t.Upsert(u)...)
		}
		return deltas
	})
	f.SetStatus(units.StatusConnected, "")

	f.propStop = make(chan struct{})
	f.propWG.Add(1)
	go f.propLoop(ctx)
	return nil
}

func (f *SatelliteFeed) onStop() {
	close(f.propStop)
	f.propWG.Wait()
	f.prop.Stop()
	f.SetStatus(units.StatusDisconnected, "")
}

// loadElements fetches fresh element sets, falling back to the persisted
// copy when the provider is unreachable.
func (f *SatelliteFeed) loadElements(ctx context.Context) ([]orbit.Element, error) {
	elements, fetchErr := f.fetchElements(ctx)
	if fetchErr == nil {
		if f.store != nil {
			if err := f.store.SaveElements(ctx, time.Now().UTC(), elements); err != nil {
				f.log.Warn("Failed to cache element sets", logger.Error(err))
			}
		}
		f.log.Info("Fetched element sets",
			logger.Int("count", len(elements)), logger.String("url", f.opts.URL))
		return elements, nil
	}

	if f.store == nil {
		return nil, fmt.Errorf("failed to fetch element sets: %w", fetchErr)
	}

	fetched, cached, loadErr := f.store.LoadElements(ctx)
	if loadErr != nil || len(cached) == 0 {
		return nil, fmt.Errorf("failed to fetch element sets (%v) and no cached copy", fetchErr)
	}
	if age := time.Since(fetched); age > f.opts.MaxCachedAge {
		return nil, fmt.Errorf("failed to fetch element sets (%v) and cached copy is %s old", fetchErr, age.Round(time.Hour))
	}
	f.log.Warn("Provider unreachable, using cached element sets",
		logger.Error(fetchErr),
		logger.Int("count", len(cached)),
		logger.Time("fetched", fetched))
	return cached, nil
}

func (f *SatelliteFeed) fetchElements(ctx context.Context) ([]orbit.Element, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return orbit.ParseElements(resp.Body)
}

// propLoop keeps exactly one propagation request in flight: submit, wait
// for the reply, write positions back by id, submit again.
func (f *SatelliteFeed) propLoop(ctx context.Context) {
	defer f.propWG.Done()

	reply := make(chan orbit.Result, 1)
	for {
		select {
		case <-f.propStop:
			return
		case <-ctx.Done():
			return
		default:
		}

		var ids []string
		f.View(func(t *feed.Table) { ids = t.IDs() })
		if len(ids) == 0 {
			if !f.pause(ctx, time.Second) {
				return
			}
			continue
		}

		started := time.Now()
		if !f.prop.Submit(orbit.Request{IDs: ids, Time: started.UTC(), Reply: reply}) {
			if !f.pause(ctx, 100*time.Millisecond) {
				return
			}
			continue
		}

		select {
		case res := <-reply:
			f.metrics.ObservePropagation(len(ids), time.Since(started))
			if res.Err != nil {
				f.log.Warn("Propagation batch failed", logger.Error(res.Err))
				f.SetStatus(units.StatusError, res.Err.Error())
				if !f.pause(ctx, time.Second) {
					return
				}
				continue
			}
			f.applyResult(res)
			f.SetStatus(units.StatusConnected, "")
		case <-f.propStop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// applyResult writes propagated positions back into the table, matching
// entries by catalog id so the worker and the table never need to agree
// on ordering.
func (f *SatelliteFeed) applyResult(res orbit.Result) {
	f.Mutate(func(t *feed.Table) []units.Delta {
		changed := false
		for i, id := range res.IDs {
			if !res.OK[i] {
				continue
			}
			u, ok := t.Get(id)
			if !ok {
				continue
			}
			u.Lat = res.Lat[i]
			u.Lon = res.Lon[i]
			u.GhostLat, u.GhostLon = res.Lat[i], res.Lon[i]
			u.AltitudeFt = res.AltKm[i] * kmToFeet
			u.NodeLonDeg = res.NodeLonDeg[i]
			u.SetHeading(res.HeadingDeg[i])
			changed = true
		}
		if changed {
			f.dirty = true
		}
		return nil
	})
}

// tick publishes one batched delta per update interval when positions
// changed since the last tick.
func (f *SatelliteFeed) tick(context.Context) {
	now := time.Now().UTC()
	f.Mutate(func(t *feed.Table) []units.Delta {
		if !f.dirty {
			return nil
		}
		f.dirty = false
		deltas := make([]units.Delta, 0, t.Len())
		t.ForEach(func(u *units.Unit) {
			u.LastReport = now
			u.PushTrail(u.Lat, u.Lon, now)
			deltas = append(deltas, units.Delta{Type: "updated", ID: u.ID, Unit: u})
		})
		return deltas
	})
}

func (f *SatelliteFeed) pause(ctx context.Context, d time.Duration) bool {
	// Small jitter keeps restarting feeds from phase-locking their
	// empty-catalog polls.
	d += time.Duration(rand.Int63n(int64(d)/10 + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.propStop:
		return false
	case <-ctx.Done():
		return false
	}
}

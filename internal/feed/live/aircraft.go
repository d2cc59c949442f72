package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/internal/interp"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

var errUnauthorized = errors.New("unauthorized")

// AircraftOptions configure the polling aircraft feed.
type AircraftOptions struct {
	URL string

	// AuthMode picks one of the mutually exclusive strategies: "",
	// "basic", or "oauth2".
	AuthMode     string
	TokenURL     string
	ClientID     string
	ClientSecret string
	BasicUser    string
	BasicPass    string

	// Minimum inter-request gaps; authenticated accounts get the
	// tighter one.
	MinIntervalAuth time.Duration
	MinIntervalAnon time.Duration

	// DisplayRate drives the dead-reckoning interpolation ticker.
	DisplayRate time.Duration

	Timeout time.Duration
}

func (o *AircraftOptions) applyDefaults() {
	if o.MinIntervalAuth <= 0 {
		o.MinIntervalAuth = 5 * time.Second
	}
	if o.MinIntervalAnon <= 0 {
		o.MinIntervalAnon = 10 * time.Second
	}
	if o.DisplayRate <= 0 {
		o.DisplayRate = 16 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
}

// AircraftFeed polls a REST state-vector endpoint and bridges its sparse
// updates to display rate with dead-reckoning interpolation.
type AircraftFeed struct {
	*feed.Base
	opts    AircraftOptions
	http    *http.Client
	log     *logger.Logger
	metrics Metrics

	// Poll-side state, touched only from the tick goroutine.
	auth            authStrategy
	downgraded      bool
	sawUnauthorized bool
	bo              *backoff
	nextAllowed     time.Time

	// engine state is only touched inside Mutate, which serializes the
	// poll and display goroutines.
	engine *interp.Engine

	vpMu     sync.RWMutex
	viewport Viewport

	displayStop chan struct{}
	displayWG   sync.WaitGroup
}

// NewAircraftFeed creates the polling live aircraft feed.
func NewAircraftFeed(cfg feed.Config, opts AircraftOptions, metrics Metrics, log *logger.Logger) *AircraftFeed {
	opts.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	f := &AircraftFeed{
		opts:     opts,
		http:     &http.Client{Timeout: opts.Timeout},
		log:      log.Named("live-aircraft"),
		metrics:  metrics,
		bo:       newBackoff(opts.MinIntervalAnon),
		engine:   interp.NewEngine(),
		viewport: WorldViewport(),
	}
	switch opts.AuthMode {
	case "oauth2":
		f.auth = newOAuthAuth(opts.TokenURL, opts.ClientID, opts.ClientSecret)
	case "basic":
		f.auth = newBasicAuth(opts.BasicUser, opts.BasicPass)
	}
	f.Base = feed.NewBase(units.KindAircraft, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.onStart,
		OnStop:  f.onStop,
	}, units.StatusConnecting, f.log)
	return f
}

// SetViewport updates the polling coverage box, pre-shifted by the
// renderer's earth-rotation angle.
func (f *AircraftFeed) SetViewport(vp Viewport, earthRotationDeg float64) {
	vp = vp.ShiftLon(earthRotationDeg)
	if !vp.Valid() {
		return
	}
	f.vpMu.Lock()
	f.viewport = vp
	f.vpMu.Unlock()
}

// Version exposes the interpolation change counter so consumers can skip
// re-uploads when nothing moved.
func (f *AircraftFeed) Version() uint64 {
	var v uint64
	f.View(func(*feed.Table) { v = f.engine.Version() })
	return v
}

func (f *AircraftFeed) onStart(ctx context.Context) error {
	f.SetStatus(units.StatusConnecting, "")
	f.nextAllowed = time.Time{}
	f.bo.Success()

	f.displayStop = make(chan struct{})
	f.displayWG.Add(1)
	go f.displayLoop(ctx)
	return nil
}

func (f *AircraftFeed) onStop() {
	close(f.displayStop)
	f.displayWG.Wait()
	f.SetStatus(units.StatusDisconnected, "")
}

// displayLoop runs the interpolation engine at display rate, independent
// of the network update rate.
func (f *AircraftFeed) displayLoop(ctx context.Context) {
	defer f.displayWG.Done()

	ticker := time.NewTicker(f.opts.DisplayRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			f.Mutate(func(t *feed.Table) []units.Delta {
				us := make([]*units.Unit, 0, t.Len())
				t.ForEach(func(u *units.Unit) { us = append(us, u) })
				f.engine.AdvanceAll(us, dt)
				return nil
			})
		case <-f.displayStop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (f *AircraftFeed) minInterval() time.Duration {
	if f.auth != nil && !f.downgraded {
		return f.opts.MinIntervalAuth
	}
	return f.opts.MinIntervalAnon
}

func (f *AircraftFeed) tick(ctx context.Context) {
	now := time.Now()
	if now.Before(f.nextAllowed) {
		return
	}

	batch, err := f.fetch(ctx)
	if err != nil {
		f.handleFetchError(err)
		f.nextAllowed = now.Add(backoffDelay(f.minInterval(), f.bo.Failures()))
		return
	}

	f.bo.Success()
	f.sawUnauthorized = false
	f.nextAllowed = now.Add(f.minInterval())
	f.SetStatus(units.StatusConnected, "")
	f.apply(batch, now)
}

func (f *AircraftFeed) handleFetchError(err error) {
	f.bo.Fail()
	f.metrics.IncPollError(units.KindAircraft)

	if errors.Is(err, errUnauthorized) && f.auth != nil && !f.downgraded {
		f.auth.Invalidate()
		if f.sawUnauthorized {
			// Second consecutive 401 while authenticated: the
			// credentials are dead. Run anonymous for the rest of this
			// feed's life instead of failing forever.
			f.downgraded = true
			f.log.Warn("Repeated 401 from provider, downgrading to anonymous mode",
				logger.String("auth", f.auth.Name()))
		} else {
			f.sawUnauthorized = true
			f.log.Warn("401 from provider, invalidated cached token")
		}
	}

	f.SetStatus(units.StatusError, err.Error())
	f.log.Error("Failed to poll aircraft states",
		logger.Error(err),
		logger.Int("consecutive_errors", f.bo.Failures()))
}

func (f *AircraftFeed) fetch(ctx context.Context) ([]stateVector, error) {
	f.vpMu.RLock()
	vp := f.viewport
	f.vpMu.RUnlock()

	url := fmt.Sprintf("%s?lamin=%f&lomin=%f&lamax=%f&lomax=%f",
		f.opts.URL, vp.LatMin, vp.LonMin, vp.LatMax, vp.LonMax)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if f.auth != nil && !f.downgraded {
		if err := f.auth.Apply(ctx, req); err != nil {
			return nil, err
		}
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var payload struct {
		Time   int64   `json:"time"`
		States [][]any `json:"states"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse state vectors: %w", err)
	}

	batchTime := time.Now().UTC()
	if payload.Time > 0 {
		batchTime = time.Unix(payload.Time, 0).UTC()
	}
	return decodeBatch(payload.States, batchTime), nil
}

// apply diffs a fetched batch into the unit table by stable id: unseen
// ids are removed, new ids inserted, existing ones updated in place.
// Every incoming position is projected forward by the elapsed transport
// lag so the ghost never trails where the aircraft already was.
func (f *AircraftFeed) apply(batch []stateVector, now time.Time) {
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta

		seen := make(map[string]bool, len(batch))
		for i := range batch {
			sv := &batch[i]
			seen[sv.ID] = true

			lagSec := now.Sub(sv.Reported).Seconds()
			if lagSec < 0 {
				lagSec = 0
			}
			gLat, gLon := geo.Advance(sv.Lat, sv.Lon, sv.HeadingDeg, sv.SpeedKts*lagSec/3600.0)

			if u, ok := t.Get(sv.ID); ok {
				u.SetHeading(sv.HeadingDeg)
				u.SpeedKts = sv.SpeedKts
				u.AltitudeFt = sv.AltFt
				u.GhostLat, u.GhostLon = gLat, gLon
				u.LastReport = sv.Reported
				if sv.Callsign != "" {
					u.Name = sv.Callsign
				}
				u.PushTrail(gLat, gLon, sv.Reported)
				deltas = append(deltas, units.Delta{Type: "updated", ID: u.ID, Unit: u})
				continue
			}

			u := &units.Unit{
				ID:         sv.ID,
				Kind:       units.KindAircraft,
				Name:       sv.Callsign,
				Lat:        gLat,
				Lon:        gLon,
				GhostLat:   gLat,
				GhostLon:   gLon,
				SpeedKts:   sv.SpeedKts,
				AltitudeFt: sv.AltFt,
				LastReport: sv.Reported,
				Scale:      1.0,
				// Declination is effectively static per position at this
				// timescale; computed once on insert.
				MagneticVarDeg: geo.MagneticVariation(sv.Lat, sv.Lon, sv.AltFt, now),
			}
			u.SetHeading(sv.HeadingDeg)
			u.PushTrail(gLat, gLon, sv.Reported)
			deltas = append(deltas, t.Upsert(u)...)
		}

		for _, id := range t.IDs() {
			if !seen[id] {
				t.Remove(id)
				deltas = append(deltas, units.Delta{Type: "removed", ID: id})
			}
		}

		if len(deltas) > 0 {
			f.engine.MarkDirty()
		}
		return deltas
	})
}

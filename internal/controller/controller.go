// Package controller mediates between one simulated and one live feed per
// unit kind. Exactly one of the pair is active; switching modes fully
// stops the outgoing feed before starting the incoming one, so unit
// tables never mix live and fabricated data.
package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// Mode selects which of a controller's two feeds is active.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeLive      Mode = "live"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	return m == ModeSimulated || m == ModeLive
}

// VisibilityFunc is told, on every mode switch, whether simulated-only
// unit kinds should stay visible.
type VisibilityFunc func(showSimulatedUnits bool)

// FeedController owns the simulated/live feed pair for one unit kind.
// One feed is active at a time; Start(mode) is idempotent for the active
// mode.
type FeedController struct {
	kind units.Kind
	log  *logger.Logger

	mu     sync.Mutex
	sim    feed.Feed
	live   feed.Feed
	mode   Mode
	active feed.Feed
}

// NewFeedController pairs a simulated and a live feed. live may be nil
// for kinds with no live source; those stay in simulated mode.
func NewFeedController(kind units.Kind, sim, live feed.Feed, log *logger.Logger) *FeedController {
	return &FeedController{
		kind: kind,
		log:  log.Named("controller"),
		sim:  sim,
		live: live,
	}
}

// Kind returns the unit kind this controller manages.
func (c *FeedController) Kind() units.Kind { return c.kind }

// Mode returns the currently active mode, empty before the first Start.
func (c *FeedController) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Active returns the feed currently serving this kind, nil before the
// first Start.
func (c *FeedController) Active() feed.Feed {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start activates the feed for the requested mode, stopping the other
// one first. Repeating the active mode is a no-op.
func (c *FeedController) Start(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !mode.Valid() {
		return fmt.Errorf("unknown feed mode: %q", mode)
	}
	next := c.sim
	if mode == ModeLive {
		if c.live == nil {
			return fmt.Errorf("no live feed for kind %s", c.kind)
		}
		next = c.live
	}
	if c.active == next && c.mode == mode {
		return nil
	}

	if c.active != nil {
		c.active.Stop()
	}

	c.log.Info("Switching feed mode",
		logger.String("kind", string(c.kind)),
		logger.String("mode", string(mode)))

	if err := next.Start(ctx); err != nil {
		c.active = nil
		c.mode = ""
		return fmt.Errorf("failed to start %s feed for %s: %w", mode, c.kind, err)
	}
	c.active = next
	c.mode = mode
	return nil
}

// Stop halts whichever feed is active.
func (c *FeedController) Stop() {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mode = ""
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
}

// Registry holds every kind's controller and fans visibility changes out
// to the render layer. It is passed explicitly to whoever needs feed
// access; there is no package-level instance.
type Registry struct {
	log *logger.Logger

	mu          sync.RWMutex
	controllers map[units.Kind]*FeedController
	onVis       []VisibilityFunc
	showSim     bool
}

// NewRegistry creates an empty registry. Simulated units start visible.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:         log.Named("registry"),
		controllers: make(map[units.Kind]*FeedController),
		showSim:     true,
	}
}

// Add registers a controller for its kind, replacing any previous one.
func (r *Registry) Add(c *FeedController) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[c.Kind()] = c
}

// Get returns the controller for a kind.
func (r *Registry) Get(kind units.Kind) (*FeedController, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[kind]
	return c, ok
}

// Controllers returns every registered controller in display order.
func (r *Registry) Controllers() []*FeedController {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*FeedController, 0, len(r.controllers))
	for _, kind := range units.Kinds {
		if c, ok := r.controllers[kind]; ok {
			out = append(out, c)
		}
	}
	return out
}

// OnVisibility registers a callback for simulated-unit visibility
// changes. The callback immediately receives the current state.
func (r *Registry) OnVisibility(fn VisibilityFunc) {
	r.mu.Lock()
	r.onVis = append(r.onVis, fn)
	show := r.showSim
	r.mu.Unlock()
	fn(show)
}

// ShowSimulated reports whether simulated-only kinds are visible.
func (r *Registry) ShowSimulated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.showSim
}

// SetMode switches one kind's mode and recomputes global visibility:
// any kind in live mode hides the simulated-only kinds, so live and
// fabricated units never share a view.
func (r *Registry) SetMode(ctx context.Context, kind units.Kind, mode Mode) error {
	c, ok := r.Get(kind)
	if !ok {
		return fmt.Errorf("no controller for kind %s", kind)
	}
	if err := c.Start(ctx, mode); err != nil {
		return err
	}

	anyLive := false
	for _, ctrl := range r.Controllers() {
		if ctrl.Mode() == ModeLive {
			anyLive = true
			break
		}
	}

	r.mu.Lock()
	changed := r.showSim == anyLive
	r.showSim = !anyLive
	show := r.showSim
	subs := make([]VisibilityFunc, len(r.onVis))
	copy(subs, r.onVis)
	r.mu.Unlock()

	if changed {
		r.log.Info("Simulated unit visibility changed", logger.Bool("visible", show))
		for _, fn := range subs {
			fn(show)
		}
	}
	return nil
}

// StartAll brings every controller up in the given default mode, falling
// back to simulated where no live feed exists.
func (r *Registry) StartAll(ctx context.Context, mode Mode) error {
	for _, c := range r.Controllers() {
		m := mode
		if m == ModeLive {
			if _, hasLive := liveCapable(c); !hasLive {
				m = ModeSimulated
			}
		}
		if err := c.Start(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// StopAll halts every controller's active feed.
func (r *Registry) StopAll() {
	for _, c := range r.Controllers() {
		c.Stop()
	}
}

func liveCapable(c *FeedController) (feed.Feed, bool) {
	return c.live, c.live != nil
}

package feed

import (
	"context"
	"sync"
	"time"

	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// Config is the common, immutable contract every feed honors. Changing
// UpdateRate while running restarts the tick timer; toggling Enabled
// starts or stops the feed.
type Config struct {
	Enabled    bool
	UpdateRate time.Duration
	MaxUnits   int
}

// Overrides is a partial Config; nil fields are left untouched by
// SetConfig.
type Overrides struct {
	Enabled    *bool
	UpdateRate *time.Duration
	MaxUnits   *int
}

// UpdateFunc receives a batch of per-unit deltas whenever a feed emits.
type UpdateFunc func(kind units.Kind, batch []units.Delta)

// Feed is a pollable/pushable source of one unit-type's positional
// updates. Implementations own their unit table and lifecycle.
type Feed interface {
	Kind() units.Kind
	Start(ctx context.Context) error
	Stop()
	SetConfig(Overrides)
	Units() []*units.Unit
	Stats() units.Stats
	Subscribe(UpdateFunc) int
	Unsubscribe(int)
}

// Hooks are the pieces a concrete feed plugs into Base. Tick runs once per
// update interval. OnStart/OnStop are optional and run inside
// Start/Stop, before the loop starts and after it has fully halted.
type Hooks struct {
	Tick    func(ctx context.Context)
	OnStart func(ctx context.Context) error
	OnStop  func()
}

// Base carries the shared feed machinery: the unit table, the tick loop,
// stats with a one-second sliding message window, and subscriber fan-out.
// Concrete feeds embed it and supply Hooks.
type Base struct {
	kind  units.Kind
	hooks Hooks
	log   *logger.Logger

	mu        sync.RWMutex
	cfg       Config
	table     *Table
	status    units.Status
	lastError string

	totalMessages int64
	lastUpdate    time.Time
	window        []time.Time

	subs    map[int]UpdateFunc
	nextSub int

	running   bool
	stopCh    chan struct{}
	restartCh chan time.Duration
	wg        sync.WaitGroup
	baseCtx   context.Context

	// lifecycleMu serializes Start and Stop, so OnStart has completed
	// before any Stop can run OnStop.
	lifecycleMu sync.Mutex
}

// NewBase creates the shared machinery for one feed.
func NewBase(kind units.Kind, cfg Config, hooks Hooks, status units.Status, log *logger.Logger) *Base {
	return &Base{
		kind:   kind,
		hooks:  hooks,
		cfg:    cfg,
		table:  NewTable(cfg.MaxUnits),
		status: status,
		subs:   make(map[int]UpdateFunc),
		log:    log,
	}
}

// Kind returns the unit kind this feed tracks.
func (b *Base) Kind() units.Kind { return b.kind }

// Start initializes the unit table, captures a stats baseline, and begins
// the periodic tick. It is idempotent while running.
func (b *Base) Start(ctx context.Context) error {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.table.Reset()
	b.window = nil
	b.lastUpdate = time.Time{}
	b.lastError = ""
	b.running = true
	b.stopCh = make(chan struct{})
	b.restartCh = make(chan time.Duration, 1)
	b.baseCtx = ctx
	rate := b.cfg.UpdateRate
	b.mu.Unlock()

	if b.hooks.OnStart != nil {
		if err := b.hooks.OnStart(ctx); err != nil {
			b.mu.Lock()
			b.running = false
			b.status = units.StatusError
			b.lastError = err.Error()
			b.mu.Unlock()
			return err
		}
	}

	b.log.Info("Starting feed",
		logger.String("kind", string(b.kind)),
		logger.Duration("update_rate", rate))

	b.wg.Add(1)
	go b.runLoop(ctx, rate)
	return nil
}

// Stop cancels the tick loop and waits for it to halt, so a stopped feed
// performs no further mutation of shared state. The unit table is cleared
// once the loop has halted. Idempotent.
func (b *Base) Stop() {
	b.lifecycleMu.Lock()
	defer b.lifecycleMu.Unlock()

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	b.wg.Wait()

	if b.hooks.OnStop != nil {
		b.hooks.OnStop()
	}

	b.mu.Lock()
	b.table.Reset()
	b.mu.Unlock()

	b.log.Info("Feed stopped", logger.String("kind", string(b.kind)))
}

// Running reports whether the tick loop is live.
func (b *Base) Running() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

func (b *Base) runLoop(ctx context.Context, rate time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.hooks.Tick(ctx)
		case d := <-b.restartCh:
			ticker.Reset(d)
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SetConfig merges non-nil fields into the feed config. A changed update
// rate restarts the running timer; an Enabled transition starts or stops
// the feed.
func (b *Base) SetConfig(o Overrides) {
	b.mu.Lock()
	prevEnabled := b.cfg.Enabled
	var restart *time.Duration
	var evicted []units.Delta

	if o.UpdateRate != nil && *o.UpdateRate > 0 && *o.UpdateRate != b.cfg.UpdateRate {
		b.cfg.UpdateRate = *o.UpdateRate
		if b.running {
			restart = o.UpdateRate
		}
	}
	if o.MaxUnits != nil && *o.MaxUnits != b.cfg.MaxUnits {
		b.cfg.MaxUnits = *o.MaxUnits
		evicted = b.table.SetMax(*o.MaxUnits)
	}
	if o.Enabled != nil {
		b.cfg.Enabled = *o.Enabled
	}
	enabled := b.cfg.Enabled
	ctx := b.baseCtx
	b.mu.Unlock()

	if len(evicted) > 0 {
		b.Emit(evicted)
	}
	if restart != nil {
		select {
		case b.restartCh <- *restart:
		default:
		}
	}
	if o.Enabled != nil && enabled != prevEnabled {
		if enabled {
			if ctx == nil {
				ctx = context.Background()
			}
			if err := b.Start(ctx); err != nil {
				b.log.Error("Failed to start feed on enable",
					logger.String("kind", string(b.kind)), logger.Error(err))
			}
		} else {
			b.Stop()
		}
	}
}

// Configured returns a copy of the current config.
func (b *Base) Configured() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Units returns a snapshot of the current unit table.
func (b *Base) Units() []*units.Unit {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.table.Snapshot()
}

// Mutate runs fn with exclusive access to the unit table, then emits the
// deltas fn returns. This is the single write path to a feed's table.
func (b *Base) Mutate(fn func(*Table) []units.Delta) {
	b.mu.Lock()
	deltas := fn(b.table)
	b.mu.Unlock()
	if len(deltas) > 0 {
		b.Emit(deltas)
	}
}

// View runs fn with shared read access to the unit table.
func (b *Base) View(fn func(*Table)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn(b.table)
}

// Emit records a batch in the stats window and fans it out to
// subscribers.
func (b *Base) Emit(batch []units.Delta) {
	if len(batch) == 0 {
		return
	}
	now := time.Now().UTC()

	b.mu.Lock()
	b.totalMessages += int64(len(batch))
	b.lastUpdate = now
	for range batch {
		b.window = append(b.window, now)
	}
	cutoff := now.Add(-time.Second)
	for len(b.window) > 0 && b.window[0].Before(cutoff) {
		b.window = b.window[1:]
	}
	subs := make([]UpdateFunc, 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(b.kind, batch)
	}
}

// SetStatus updates the reported feed status, with an optional error
// message for display.
func (b *Base) SetStatus(s units.Status, errMsg string) {
	b.mu.Lock()
	b.status = s
	b.lastError = errMsg
	b.mu.Unlock()
}

// Stats returns the feed's externally visible health.
func (b *Base) Stats() units.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	perSec := 0.0
	cutoff := time.Now().UTC().Add(-time.Second)
	for _, t := range b.window {
		if !t.Before(cutoff) {
			perSec++
		}
	}
	return units.Stats{
		MessagesPerSec: perSec,
		TotalMessages:  b.totalMessages,
		ActiveUnits:    b.table.Len(),
		LastUpdate:     b.lastUpdate,
		Status:         b.status,
		LastError:      b.lastError,
	}
}

// Subscribe registers an update callback and returns its handle.
func (b *Base) Subscribe(fn UpdateFunc) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.subs[b.nextSub] = fn
	return b.nextSub
}

// Unsubscribe removes a previously registered callback.
func (b *Base) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

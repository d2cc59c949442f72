package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/geo"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/pkg/logger"
)

// ShipOptions configure the streaming ship feed.
type ShipOptions struct {
	URL string

	// ReconnectBase is the initial reconnect delay; doubled per
	// consecutive failed connection, capped.
	ReconnectBase time.Duration

	// PingInterval keeps NATs from dropping the idle connection.
	PingInterval time.Duration

	HandshakeTimeout time.Duration
}

func (o *ShipOptions) applyDefaults() {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 2 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
}

// shipSubscribe is the frame sent once per connection to scope the
// provider's broadcast to our coverage box.
type shipSubscribe struct {
	Type string        `json:"type"`
	BBox [2][2]float64 `json:"bbox"`
}

// shipReport is one vessel position message from the provider.
type shipReport struct {
	MMSI       string  `json:"mmsi"`
	Name       string  `json:"name,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	SpeedKts   float64 `json:"sog"`
	HeadingDeg float64 `json:"cog"`
	Timestamp  int64   `json:"ts"`
}

// shipFrame is the envelope around inbound messages; positions arrive
// singly or batched.
type shipFrame struct {
	Type    string       `json:"type"`
	Reports []shipReport `json:"reports"`
}

// ShipFeed holds a persistent websocket to a vessel-position provider.
// The connection goroutine owns reconnects; the table survives
// disconnects so ships stay on the globe through brief outages.
type ShipFeed struct {
	*feed.Base
	opts    ShipOptions
	log     *logger.Logger
	metrics Metrics
	dialer  *websocket.Dialer

	vpMu     sync.RWMutex
	viewport Viewport

	connStop chan struct{}
	connWG   sync.WaitGroup

	// pending accumulates reports between feed ticks; tick drains it
	// into the table so delta batches come out at the configured rate.
	pendMu  sync.Mutex
	pending map[string]shipReport
}

// NewShipFeed creates the streaming live ship feed.
func NewShipFeed(cfg feed.Config, opts ShipOptions, metrics Metrics, log *logger.Logger) *ShipFeed {
	opts.applyDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	f := &ShipFeed{
		opts:     opts,
		log:      log.Named("live-ships"),
		metrics:  metrics,
		viewport: WorldViewport(),
		pending:  make(map[string]shipReport),
	}
	f.dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	f.Base = feed.NewBase(units.KindShips, cfg, feed.Hooks{
		Tick:    f.tick,
		OnStart: f.onStart,
		OnStop:  f.onStop,
	}, units.StatusConnecting, f.log)
	return f
}

// SetViewport updates the subscription coverage box. Takes effect on the
// next (re)connect.
func (f *ShipFeed) SetViewport(vp Viewport, earthRotationDeg float64) {
	vp = vp.ShiftLon(earthRotationDeg)
	if !vp.Valid() {
		return
	}
	f.vpMu.Lock()
	f.viewport = vp
	f.vpMu.Unlock()
}

func (f *ShipFeed) onStart(ctx context.Context) error {
	f.SetStatus(units.StatusConnecting, "")
	f.pendMu.Lock()
	f.pending = make(map[string]shipReport)
	f.pendMu.Unlock()

	f.connStop = make(chan struct{})
	f.connWG.Add(1)
	go f.connLoop(ctx)
	return nil
}

func (f *ShipFeed) onStop() {
	close(f.connStop)
	f.connWG.Wait()
	f.SetStatus(units.StatusDisconnected, "")
}

// connLoop dials, reads until the connection dies, then redials after a
// doubling delay. The unit table survives reconnects.
func (f *ShipFeed) connLoop(ctx context.Context) {
	defer f.connWG.Done()

	bo := newBackoff(f.opts.ReconnectBase)
	for {
		select {
		case <-f.connStop:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := f.dial(ctx)
		if err != nil {
			delay := bo.Fail()
			f.metrics.IncReconnect(units.KindShips)
			f.SetStatus(units.StatusError, err.Error())
			f.log.Error("Failed to connect to ship stream",
				logger.Error(err),
				logger.Duration("retry_in", delay),
				logger.Int("consecutive_failures", bo.Failures()))
			if !f.sleep(ctx, delay) {
				return
			}
			continue
		}

		bo.Success()
		f.SetStatus(units.StatusConnected, "")
		f.log.Info("Ship stream connected", logger.String("url", f.opts.URL))

		err = f.readUntilClosed(ctx, conn)
		conn.Close()

		select {
		case <-f.connStop:
			return
		case <-ctx.Done():
			return
		default:
		}

		delay := bo.Fail()
		f.metrics.IncReconnect(units.KindShips)
		f.SetStatus(units.StatusConnecting, "")
		if err != nil {
			f.log.Warn("Ship stream dropped, reconnecting",
				logger.Error(err), logger.Duration("retry_in", delay))
		}
		if !f.sleep(ctx, delay) {
			return
		}
	}
}

func (f *ShipFeed) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, f.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := f.dialer.DialContext(dialCtx, f.opts.URL, nil)
	if err != nil {
		return nil, err
	}

	f.vpMu.RLock()
	vp := f.viewport
	f.vpMu.RUnlock()

	sub := shipSubscribe{
		Type: "subscribe",
		BBox: [2][2]float64{{vp.LatMin, vp.LonMin}, {vp.LatMax, vp.LonMax}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// readUntilClosed pumps inbound frames into the pending map. Returns when
// the connection errors or stop is requested.
func (f *ShipFeed) readUntilClosed(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)

	// Shutdown and pings run beside the blocking ReadMessage.
	go func() {
		pinger := time.NewTicker(f.opts.PingInterval)
		defer pinger.Stop()
		for {
			select {
			case <-pinger.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			case <-f.connStop:
				conn.Close()
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.ingest(data)
	}
}

func (f *ShipFeed) ingest(data []byte) {
	var frame shipFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		f.log.Debug("Dropping malformed stream frame", logger.Error(err))
		return
	}
	if frame.Type != "" && frame.Type != "position" && frame.Type != "positions" {
		return
	}

	f.pendMu.Lock()
	for _, r := range frame.Reports {
		if r.MMSI == "" {
			continue
		}
		f.pending[r.MMSI] = r
	}
	f.pendMu.Unlock()
}

// tick drains the latest report per vessel into the table at the feed's
// update rate, one delta batch per tick.
func (f *ShipFeed) tick(context.Context) {
	f.pendMu.Lock()
	if len(f.pending) == 0 {
		f.pendMu.Unlock()
		return
	}
	drained := f.pending
	f.pending = make(map[string]shipReport)
	f.pendMu.Unlock()

	now := time.Now().UTC()
	f.Mutate(func(t *feed.Table) []units.Delta {
		var deltas []units.Delta
		for mmsi, r := range drained {
			reported := now
			if r.Timestamp > 0 {
				reported = time.Unix(r.Timestamp, 0).UTC()
			}

			if u, ok := t.Get(mmsi); ok {
				u.Lat = r.Lat
				u.Lon = r.Lon
				u.GhostLat, u.GhostLon = r.Lat, r.Lon
				u.SpeedKts = r.SpeedKts
				u.SetHeading(r.HeadingDeg)
				u.LastReport = reported
				if r.Name != "" {
					u.Name = r.Name
				}
				u.PushTrail(r.Lat, r.Lon, reported)
				deltas = append(deltas, units.Delta{Type: "updated", ID: mmsi, Unit: u})
				continue
			}

			u := &units.Unit{
				ID:             mmsi,
				Kind:           units.KindShips,
				Name:           r.Name,
				Lat:            r.Lat,
				Lon:            r.Lon,
				GhostLat:       r.Lat,
				GhostLon:       r.Lon,
				SpeedKts:       r.SpeedKts,
				LastReport:     reported,
				Scale:          1.0,
				MagneticVarDeg: geo.MagneticVariation(r.Lat, r.Lon, 0, now),
			}
			u.SetHeading(r.HeadingDeg)
			u.PushTrail(r.Lat, r.Lon, reported)
			deltas = append(deltas, t.Upsert(u)...)
		}
		return deltas
	})
}

func (f *ShipFeed) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-f.connStop:
		return false
	case <-ctx.Done():
		return false
	}
}

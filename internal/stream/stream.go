// Package stream connects the feed subsystem to WebSocket consumers: it
// broadcasts unit delta batches, feed status, and visibility changes, and
// routes inbound viewport reports back into the live feeds.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/akaris/globetrack/internal/controller"
	"github.com/akaris/globetrack/internal/feed"
	"github.com/akaris/globetrack/internal/feed/live"
	"github.com/akaris/globetrack/internal/spatial"
	"github.com/akaris/globetrack/internal/units"
	"github.com/akaris/globetrack/internal/websocket"
	"github.com/akaris/globetrack/pkg/logger"
)

// statusInterval paces feed status broadcasts and index rebuild nudges.
const statusInterval = 5 * time.Second

// rebuildInterval paces the coarse spatial index refresh.
const rebuildInterval = time.Second

// ViewportSink is any feed that narrows its coverage to a camera box.
type ViewportSink interface {
	SetViewport(vp live.Viewport, earthRotationDeg float64)
}

// StatsRecorder receives per-kind message counts and table sizes.
type StatsRecorder interface {
	AddMessages(kind units.Kind, n int)
	SetActiveUnits(kind units.Kind, n int)
}

// Service owns the feed-to-hub fan-out.
type Service struct {
	registry *controller.Registry
	wsServer *websocket.Server
	index    *spatial.Index
	stats    StatsRecorder
	logger   *logger.Logger

	mu    sync.Mutex
	sinks []ViewportSink
	subs  map[feed.Feed]int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the stream service. stats may be nil.
func NewService(registry *controller.Registry, wsServer *websocket.Server, index *spatial.Index, stats StatsRecorder, log *logger.Logger) *Service {
	return &Service{
		registry: registry,
		wsServer: wsServer,
		index:    index,
		stats:    stats,
		logger:   log.Named("stream"),
		subs:     make(map[feed.Feed]int),
	}
}

// Attach subscribes the service to a feed's update batches. Attach every
// feed once, active or not; inactive feeds simply emit nothing.
func (s *Service) Attach(f feed.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[f]; ok {
		return
	}
	s.subs[f] = f.Subscribe(s.onUpdate)
}

// AttachViewportSink registers a feed that follows the camera viewport.
func (s *Service) AttachViewportSink(sink ViewportSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Start wires visibility fan-out and launches the status loop.
func (s *Service) Start(ctx context.Context) {
	s.registry.OnVisibility(func(show bool) {
		s.wsServer.Broadcast(&websocket.Message{
			Type: websocket.MessageTypeVisibility,
			Data: map[string]any{"show_simulated": show},
		})
	})

	s.stopCh = make(chan struct{})
	s.wg.Add(1)
	go s.statusLoop(ctx)
}

// Stop halts the status loop and drops all feed subscriptions.
func (s *Service) Stop() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.wg.Wait()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for f, id := range s.subs {
		f.Unsubscribe(id)
	}
	s.subs = make(map[feed.Feed]int)
}

func (s *Service) onUpdate(kind units.Kind, batch []units.Delta) {
	if s.stats != nil {
		s.stats.AddMessages(kind, len(batch))
	}
	s.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeUnitBatch,
		Data: map[string]any{
			"kind":   string(kind),
			"deltas": batch,
		},
	})
}

func (s *Service) statusLoop(ctx context.Context) {
	defer s.wg.Done()

	statusTicker := time.NewTicker(statusInterval)
	defer statusTicker.Stop()
	rebuildTicker := time.NewTicker(rebuildInterval)
	defer rebuildTicker.Stop()

	for {
		select {
		case <-statusTicker.C:
			s.broadcastStatus()
		case <-rebuildTicker.C:
			s.index.RequestRebuild()
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) broadcastStatus() {
	statuses := make(map[string]any)
	for _, c := range s.registry.Controllers() {
		active := c.Active()
		if active == nil {
			continue
		}
		st := active.Stats()
		if s.stats != nil {
			s.stats.SetActiveUnits(c.Kind(), st.ActiveUnits)
		}
		statuses[string(c.Kind())] = map[string]any{
			"mode":  string(c.Mode()),
			"stats": st,
		}
	}
	s.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeFeedStatus,
		Data: map[string]any{"feeds": statuses},
	})
}

// HandleMessage implements websocket.MessageHandler for inbound client
// messages.
func (s *Service) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeViewport:
		s.handleViewport(data)
	case websocket.MessageTypeBulkRequest:
		s.handleBulkRequest(client)
	default:
		s.logger.Debug("Ignoring unknown message type",
			logger.String("type", messageType))
	}
	return nil
}

func (s *Service) handleViewport(data map[string]any) {
	vp := live.Viewport{
		LatMin: floatField(data, "lat_min"),
		LonMin: floatField(data, "lon_min"),
		LatMax: floatField(data, "lat_max"),
		LonMax: floatField(data, "lon_max"),
	}
	rotation := floatField(data, "earth_rotation_deg")
	if !vp.Valid() {
		s.logger.Debug("Dropping invalid viewport report")
		return
	}

	s.mu.Lock()
	sinks := make([]ViewportSink, len(s.sinks))
	copy(sinks, s.sinks)
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.SetViewport(vp, rotation)
	}
}

// handleBulkRequest sends the requesting client a full snapshot of every
// active feed's table.
func (s *Service) handleBulkRequest(client *websocket.Client) {
	for _, c := range s.registry.Controllers() {
		active := c.Active()
		if active == nil {
			continue
		}
		client.SendMessage(&websocket.Message{
			Type: websocket.MessageTypeUnitBulk,
			Data: map[string]any{
				"kind":  string(c.Kind()),
				"units": active.Units(),
			},
		})
	}
}

// RegistrySource adapts a controller registry into the flat position
// arrays the spatial index rebuilds from.
func RegistrySource(registry *controller.Registry) spatial.SourceFunc {
	return func() map[units.Kind]spatial.Positions {
		out := make(map[units.Kind]spatial.Positions)
		for _, c := range registry.Controllers() {
			active := c.Active()
			if active == nil {
				continue
			}
			us := active.Units()
			pos := spatial.Positions{
				IDs: make([]string, 0, len(us)),
				Lat: make([]float64, 0, len(us)),
				Lon: make([]float64, 0, len(us)),
			}
			for _, u := range us {
				pos.IDs = append(pos.IDs, u.ID)
				pos.Lat = append(pos.Lat, u.Lat)
				pos.Lon = append(pos.Lon, u.Lon)
			}
			out[c.Kind()] = pos
		}
		return out
	}
}

func floatField(data map[string]any, key string) float64 {
	v, _ := data[key].(float64)
	return v
}

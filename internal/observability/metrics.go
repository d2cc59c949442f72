// Package observability bundles the Prometheus metrics for the feed
// subsystem and implements the instrumentation interfaces the feeds and
// the spatial index report into.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akaris/globetrack/internal/units"
)

// FeedCollector exposes feed and spatial-index metrics.
type FeedCollector struct {
	gatherer prometheus.Gatherer

	FeedMessages    *prometheus.CounterVec
	ActiveUnits     *prometheus.GaugeVec
	PollErrors      *prometheus.CounterVec
	Reconnects      *prometheus.CounterVec
	PropagationTime prometheus.Histogram
	PropagationSize prometheus.Gauge
	RebuildTime     prometheus.Histogram
	IndexedUnits    prometheus.Gauge
}

// NewFeedCollector registers the feed metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewFeedCollector(reg prometheus.Registerer) (*FeedCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Total number of unit update messages emitted, labeled by unit kind.",
	}, []string{"kind"})
	messages, err := registerCounterVec(reg, messages, "feed_messages_total")
	if err != nil {
		return nil, err
	}

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "feed_active_units",
		Help: "Current number of units in each feed's table.",
	}, []string{"kind"})
	active, err = registerGaugeVec(reg, active, "feed_active_units")
	if err != nil {
		return nil, err
	}

	pollErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_poll_errors_total",
		Help: "Cumulative polling failures per live feed.",
	}, []string{"kind"})
	pollErrors, err = registerCounterVec(reg, pollErrors, "feed_poll_errors_total")
	if err != nil {
		return nil, err
	}

	reconnects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_reconnects_total",
		Help: "Cumulative stream reconnect attempts per live feed.",
	}, []string{"kind"})
	reconnects, err = registerCounterVec(reg, reconnects, "feed_reconnects_total")
	if err != nil {
		return nil, err
	}

	propTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "propagation_batch_duration_seconds",
		Help:    "Wall time per orbital propagation batch.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	})
	propTime, err = registerHistogram(reg, propTime, "propagation_batch_duration_seconds")
	if err != nil {
		return nil, err
	}

	propSize, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "propagation_batch_size",
		Help: "Satellites per propagation batch.",
	}), "propagation_batch_size")
	if err != nil {
		return nil, err
	}

	rebuildTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spatial_rebuild_duration_seconds",
		Help:    "Wall time per spatial index rebuild.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})
	rebuildTime, err = registerHistogram(reg, rebuildTime, "spatial_rebuild_duration_seconds")
	if err != nil {
		return nil, err
	}

	indexed, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spatial_indexed_units",
		Help: "Units covered by the most recent spatial index build.",
	}), "spatial_indexed_units")
	if err != nil {
		return nil, err
	}

	return &FeedCollector{
		gatherer:        gatherer,
		FeedMessages:    messages,
		ActiveUnits:     active,
		PollErrors:      pollErrors,
		Reconnects:      reconnects,
		PropagationTime: propTime,
		PropagationSize: propSize,
		RebuildTime:     rebuildTime,
		IndexedUnits:    indexed,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *FeedCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// AddMessages records emitted update messages for a kind.
func (c *FeedCollector) AddMessages(kind units.Kind, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FeedMessages.WithLabelValues(string(kind)).Add(float64(n))
}

// SetActiveUnits records a feed's current table size.
func (c *FeedCollector) SetActiveUnits(kind units.Kind, n int) {
	if c == nil {
		return
	}
	c.ActiveUnits.WithLabelValues(string(kind)).Set(float64(n))
}

// IncPollError satisfies the live-feed metrics interface.
func (c *FeedCollector) IncPollError(kind units.Kind) {
	if c == nil {
		return
	}
	c.PollErrors.WithLabelValues(string(kind)).Inc()
}

// IncReconnect satisfies the live-feed metrics interface.
func (c *FeedCollector) IncReconnect(kind units.Kind) {
	if c == nil {
		return
	}
	c.Reconnects.WithLabelValues(string(kind)).Inc()
}

// ObservePropagation satisfies the live-feed metrics interface.
func (c *FeedCollector) ObservePropagation(batchSize int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.PropagationTime.Observe(elapsed.Seconds())
	c.PropagationSize.Set(float64(batchSize))
}

// ObserveRebuild satisfies the spatial-index metrics interface.
func (c *FeedCollector) ObserveRebuild(unitCount int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RebuildTime.Observe(elapsed.Seconds())
	c.IndexedUnits.Set(float64(unitCount))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

package live

import (
	"time"

	"github.com/akaris/globetrack/internal/units"
)

// Metrics is the slice of instrumentation the live feeds report into.
// The observability package implements it; tests and minimal setups use
// NopMetrics.
type Metrics interface {
	IncPollError(kind units.Kind)
	IncReconnect(kind units.Kind)
	ObservePropagation(batchSize int, elapsed time.Duration)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) IncPollError(units.Kind)               {}
func (NopMetrics) IncReconnect(units.Kind)               {}
func (NopMetrics) ObservePropagation(int, time.Duration) {}

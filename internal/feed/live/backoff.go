// Package live implements the network-backed feeds: rate-limited REST
// polling, persistent-connection streaming, and element-set driven
// orbital propagation. Each live feed reconciles provider state into its
// unit table by stable id and reports connection status for display.
package live

import (
	"time"
)

// backoffCapFactor caps the exponential retry multiplier at base*32.
const backoffCapFactor = 32

// backoff tracks consecutive failures and produces a doubling, capped
// retry delay. The Nth consecutive failure yields min(base*2^(N-1),
// base*32); success resets the count. The schedule is deterministic,
// no jitter.
type backoff struct {
	base     time.Duration
	failures int
}

func newBackoff(base time.Duration) *backoff {
	return &backoff{base: base}
}

// Fail records a failure and returns the delay before the next attempt.
func (b *backoff) Fail() time.Duration {
	b.failures++
	return b.Delay()
}

// Delay returns the current retry delay without recording anything.
func (b *backoff) Delay() time.Duration {
	return backoffDelay(b.base, b.failures)
}

// backoffDelay computes min(base*2^(failures-1), base*32). The polling
// feed calls this directly because its base interval depends on the
// current auth mode.
func backoffDelay(base time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	mult := 1
	for i := 1; i < failures && mult < backoffCapFactor; i++ {
		mult *= 2
	}
	if mult > backoffCapFactor {
		mult = backoffCapFactor
	}
	return time.Duration(mult) * base
}

// Success resets the failure count.
func (b *backoff) Success() {
	b.failures = 0
}

// Failures returns the consecutive failure count.
func (b *backoff) Failures() int {
	return b.failures
}

package live

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 5 * time.Second
	b := newBackoff(base)

	want := []time.Duration{
		5 * time.Second,   // 1st failure
		10 * time.Second,  // 2nd
		20 * time.Second,  // 3rd
		40 * time.Second,  // 4th
		80 * time.Second,  // 5th
		160 * time.Second, // 6th: base*32, the cap
		160 * time.Second, // 7th: stays capped
		160 * time.Second,
	}
	for i, w := range want {
		if got := b.Fail(); got != w {
			t.Fatalf("failure %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoffSuccessResets(t *testing.T) {
	b := newBackoff(2 * time.Second)
	b.Fail()
	b.Fail()
	b.Fail()
	if b.Failures() != 3 {
		t.Fatalf("failures = %d, want 3", b.Failures())
	}

	b.Success()
	if b.Failures() != 0 {
		t.Fatalf("failures after reset = %d, want 0", b.Failures())
	}
	if got := b.Fail(); got != 2*time.Second {
		t.Fatalf("first delay after reset = %v, want 2s", got)
	}
}

func TestBackoffDelayZeroWithoutFailures(t *testing.T) {
	b := newBackoff(time.Second)
	if got := b.Delay(); got != 0 {
		t.Fatalf("delay with no failures = %v, want 0", got)
	}
	if got := backoffDelay(time.Second, 0); got != 0 {
		t.Fatalf("backoffDelay(1s, 0) = %v, want 0", got)
	}
}

func TestBackoffDelayFollowsAuthBase(t *testing.T) {
	// The polling feed swaps the base when it downgrades to anonymous
	// access; the multiplier must apply to whichever base is current.
	if got := backoffDelay(10*time.Second, 3); got != 40*time.Second {
		t.Fatalf("backoffDelay(10s, 3) = %v, want 40s", got)
	}
	if got := backoffDelay(10*time.Second, 10); got != 320*time.Second {
		t.Fatalf("backoffDelay(10s, 10) = %v, want 320s", got)
	}
}

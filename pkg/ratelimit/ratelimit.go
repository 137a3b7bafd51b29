// Package ratelimit provides the per-destination publish gate. Unlike a
// token bucket, the gate enforces a minimum interval between accepted
// publishes: an attempt inside the interval is a skip, never a delayed
// retry.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// IntervalGate admits at most one publish per configured interval. The
// check and the last-allowed update happen under one lock, so two
// concurrent attempts inside the same interval cannot both pass.
type IntervalGate struct {
	interval time.Duration
	last     time.Time

	allowed int64
	skipped int64

	mu sync.Mutex
}

// Stats reports gate activity for observability.
type Stats struct {
	Interval time.Duration `json:"interval"`
	Allowed  int64         `json:"allowed"`
	Skipped  int64         `json:"skipped"`
	Last     time.Time     `json:"last_allowed"`
}

// NewIntervalGate creates a gate with the given minimum interval.
// A zero or negative interval admits everything.
func NewIntervalGate(interval time.Duration) *IntervalGate {
	return &IntervalGate{interval: interval}
}

// FromSeconds creates a gate from a rate limit expressed in seconds, the
// unit used in destination configuration.
func FromSeconds(seconds float64) *IntervalGate {
	return NewIntervalGate(time.Duration(seconds * float64(time.Second)))
}

// Allow reports whether a publish may proceed at now. On success it records
// now as the last-allowed time and returns the previous value so a failed
// send can hand its slot back via Revert. A disallowed call has no side
// effects.
func (g *IntervalGate) Allow(now time.Time) (prev time.Time, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.interval > 0 && !g.last.IsZero() && now.Sub(g.last) < g.interval {
		atomic.AddInt64(&g.skipped, 1)
		return g.last, false
	}

	prev = g.last
	g.last = now
	atomic.AddInt64(&g.allowed, 1)
	return prev, true
}

// Revert restores the pre-attempt timestamp after a failed send, so a
// failure does not consume the rate budget. Only the publish that was
// admitted may revert, and only with the prev value Allow returned.
func (g *IntervalGate) Revert(prev time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last = prev
}

// Interval returns the configured minimum interval.
func (g *IntervalGate) Interval() time.Duration {
	return g.interval
}

// Stats returns a snapshot of gate activity.
func (g *IntervalGate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Interval: g.interval,
		Allowed:  atomic.LoadInt64(&g.allowed),
		Skipped:  atomic.LoadInt64(&g.skipped),
		Last:     g.last,
	}
}

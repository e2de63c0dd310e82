// Package debounce collapses bursts of input changes into a single settled value.
package debounce

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultDelay is the quiet window used when none is given.
const DefaultDelay = 400 * time.Millisecond

// Gate emits the most recent pushed value once no new value has arrived for
// the full delay. Every push cancels the pending timer and starts a new one.
type Gate struct {
	// emitMu is held while settle runs so Stop can wait for an in-flight emission.
	emitMu  sync.Mutex
	mu      sync.Mutex
	clock   clock.WithDelayedExecution
	delay   time.Duration
	settle  func(string)
	timer   clock.Timer
	gen     uint64
	pending string
	armed   bool
	stopped bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// New creates a gate that calls settle with every settled value.
// A non-positive delay uses DefaultDelay.
func New(delay time.Duration, settle func(string), opts ...Option) *Gate {
	if delay <= 0 {
		delay = DefaultDelay
	}
	g := &Gate{
		clock:  clock.RealClock{},
		delay:  delay,
		settle: settle,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Push records v as the latest raw value and restarts the quiet window.
// Pushes after Stop are ignored.
func (g *Gate) Push(v string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return
	}
	g.cancelLocked()
	g.gen++
	gen := g.gen
	g.pending = v
	g.armed = true
	g.timer = g.clock.AfterFunc(g.delay, func() { g.fire(gen) })
}

// Flush settles the pending value immediately, if any.
func (g *Gate) Flush() {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	if g.stopped || !g.armed {
		g.mu.Unlock()
		return
	}
	g.cancelLocked()
	g.gen++
	v := g.pending
	g.mu.Unlock()

	g.settle(v)
}

// Stop cancels any pending timer and waits for an emission already in
// progress. Nothing is emitted after Stop returns. Stop must not be called
// from the settle callback.
func (g *Gate) Stop() {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopped = true
	g.cancelLocked()
	g.gen++
}

// Pending reports whether a value is waiting for its quiet window.
func (g *Gate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// Delay returns the quiet window.
func (g *Gate) Delay() time.Duration {
	return g.delay
}

func (g *Gate) fire(gen uint64) {
	g.emitMu.Lock()
	defer g.emitMu.Unlock()

	g.mu.Lock()
	// a superseded or stopped timer that fired anyway
	if g.stopped || gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.armed = false
	g.timer = nil
	v := g.pending
	g.mu.Unlock()

	g.settle(v)
}

func (g *Gate) cancelLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.armed = false
}

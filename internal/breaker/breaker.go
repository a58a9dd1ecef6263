// Package breaker guards the worker RPC clients: a circuit breaker that
// short-circuits calls to a repeatedly failing worker, and a health monitor
// that probes workers out-of-band. Both are process-local; with multiple
// orchestrator replicas each replica trips its own circuits independently.
package breaker

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the number of consecutive failures that opens a circuit.
	DefaultThreshold = 3
	// DefaultCooldown is how long an open circuit rejects calls.
	DefaultCooldown = 30 * time.Second
)

// Breaker tracks consecutive call failures for one worker. After threshold
// failures it opens for the cooldown period, during which Allow reports
// false and callers must not issue RPCs. There is no half-open state: once
// the cooldown elapses the next call proceeds and is judged on its own
// outcome. Any success closes the circuit and resets the count.
type Breaker struct {
	mu           sync.Mutex
	threshold    int
	cooldown     time.Duration
	failureCount int
	openedUntil  time.Time
	lastFailure  time.Time

	now func() time.Time
}

// State is a read-only view of a breaker for status reporting.
type State struct {
	Open         bool
	FailureCount int
	OpenedUntil  time.Time
	LastFailure  time.Time
}

// New creates a Breaker. Zero or negative arguments fall back to the defaults.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Allow reports whether a call may be issued right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openedUntil)
}

// Success records a successful call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.openedUntil = time.Time{}
}

// Failure records a failed call and opens the circuit once the consecutive
// failure count reaches the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = b.now()
	if b.failureCount >= b.threshold {
		b.openedUntil = b.now().Add(b.cooldown)
	}
}

// Snapshot returns the current breaker state.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Open:         b.now().Before(b.openedUntil),
		FailureCount: b.failureCount,
		OpenedUntil:  b.openedUntil,
		LastFailure:  b.lastFailure,
	}
}

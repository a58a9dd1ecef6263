package breaker

import (
	"context"
	"log"
	"sync"
	"time"

	"maestro/internal/worker"
)

// DefaultProbeInterval is how often the health monitor probes each worker.
const DefaultProbeInterval = 15 * time.Second

// ProbeFunc checks one worker's health endpoint. A nil return means ready.
type ProbeFunc func(ctx context.Context) error

// HealthState is the last probe outcome for one worker.
type HealthState struct {
	Ready       bool
	LastChecked time.Time
	LastError   string
}

// HealthMonitor runs a periodic health probe per worker type, independent of
// request traffic. Probe results complement the circuit breaker: health
// reflects liveness, the breaker reflects recent call outcomes.
type HealthMonitor struct {
	mu       sync.RWMutex
	interval time.Duration
	probes   map[worker.BotType]ProbeFunc
	states   map[worker.BotType]HealthState
}

// NewHealthMonitor creates a monitor probing at the given interval
// (DefaultProbeInterval when zero).
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &HealthMonitor{
		interval: interval,
		probes:   make(map[worker.BotType]ProbeFunc),
		states:   make(map[worker.BotType]HealthState),
	}
}

// Register adds a probe for a worker type. Workers start out ready so that
// calls issued before the first probe completes are not rejected.
func (m *HealthMonitor) Register(t worker.BotType, probe ProbeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[t] = probe
	m.states[t] = HealthState{Ready: true}
}

// Ready reports whether the last probe of the worker succeeded. Unregistered
// workers report false.
func (m *HealthMonitor) Ready(t worker.BotType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[t].Ready
}

// State returns the last probe outcome for a worker.
func (m *HealthMonitor) State(t worker.BotType) HealthState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[t]
}

// Run probes all registered workers until ctx is done. Call from main.
func (m *HealthMonitor) Run(ctx context.Context) {
	m.ProbeAll(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll runs every registered probe once and records the outcomes.
func (m *HealthMonitor) ProbeAll(ctx context.Context) {
	m.mu.RLock()
	probes := make(map[worker.BotType]ProbeFunc, len(m.probes))
	for t, p := range m.probes {
		probes[t] = p
	}
	m.mu.RUnlock()

	for t, probe := range probes {
		err := probe(ctx)
		m.mu.Lock()
		st := HealthState{Ready: err == nil, LastChecked: time.Now()}
		if err != nil {
			st.LastError = err.Error()
			if m.states[t].Ready {
				log.Printf("[WARN] [Health] %s worker went unhealthy: %v", t, err)
			}
		} else if !m.states[t].Ready {
			log.Printf("[INFO] [Health] %s worker is healthy again", t)
		}
		m.states[t] = st
		m.mu.Unlock()
	}
}

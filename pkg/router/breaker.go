package router

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/eventbus"
)

// CircuitState is the breaker state for one agent.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// BreakerConfig tunes one agent's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold opens the circuit after this many failures inside the
	// monitoring window. Default 5.
	FailureThreshold int `json:"failureThreshold" yaml:"failure_threshold"`
	// SuccessThreshold closes a half-open circuit after this many successes.
	// Default 2.
	SuccessThreshold int `json:"successThreshold" yaml:"success_threshold"`
	// Timeout is how long an open circuit rejects before probing. Default 60s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MonitoringWindow bounds how long failures count toward the threshold.
	// Default 120s.
	MonitoringWindow time.Duration `json:"monitoringWindow" yaml:"monitoring_window"`
}

func (c *BreakerConfig) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MonitoringWindow == 0 {
		c.MonitoringWindow = 120 * time.Second
	}
}

// BreakerState is a snapshot of one breaker for stats and events.
type BreakerState struct {
	Status          CircuitState `json:"status"`
	Failures        int          `json:"failures"`
	Successes       int          `json:"successes"`
	LastFailureTime *time.Time   `json:"lastFailureTime,omitempty"`
	LastSuccessTime *time.Time   `json:"lastSuccessTime,omitempty"`
	NextAttempt     *time.Time   `json:"nextAttempt,omitempty"`
}

type breaker struct {
	agentID string
	cfg     BreakerConfig

	status      CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	lastSuccess time.Time
	nextAttempt time.Time
}

func newBreaker(agentID string, cfg BreakerConfig) *breaker {
	cfg.setDefaults()
	return &breaker{agentID: agentID, cfg: cfg, status: CircuitClosed}
}

// breakers manages the per-agent breaker map. Owned by the router.
type breakers struct {
	mu  sync.Mutex
	m   map[string]*breaker
	bus *eventbus.Bus
}

func newBreakers(bus *eventbus.Bus) *breakers {
	return &breakers{m: make(map[string]*breaker), bus: bus}
}

// Enable opts an agent into circuit breaking. Re-enabling replaces the
// config and resets the breaker.
func (bs *breakers) Enable(agentID string, cfg BreakerConfig) {
	bs.mu.Lock()
	bs.m[agentID] = newBreaker(agentID, cfg)
	bs.mu.Unlock()
	bs.bus.Publish(eventbus.TopicCircuitEnabled, map[string]any{"agentId": agentID})
}

// Allow reports whether a delivery to agentID may proceed. An expired open
// circuit transitions to half-open and admits one trial. When the circuit
// stays open, the returned error carries the next-attempt time.
func (bs *breakers) Allow(agentID string) error {
	bs.mu.Lock()
	b, ok := bs.m[agentID]
	if !ok {
		bs.mu.Unlock()
		return nil
	}
	switch b.status {
	case CircuitClosed, CircuitHalfOpen:
		bs.mu.Unlock()
		return nil
	case CircuitOpen:
		if time.Now().After(b.nextAttempt) || time.Now().Equal(b.nextAttempt) {
			b.status = CircuitHalfOpen
			b.successes = 0
			bs.mu.Unlock()
			bs.bus.Publish(eventbus.TopicCircuitHalfOpen, map[string]any{"agentId": agentID})
			return nil
		}
		next := b.nextAttempt
		bs.mu.Unlock()
		return fmt.Errorf("Circuit breaker is open for %s, next attempt at %s",
			agentID, next.Format(time.RFC3339))
	}
	bs.mu.Unlock()
	return nil
}

// RecordSuccess folds one delivery success into the agent's breaker.
func (bs *breakers) RecordSuccess(agentID string) {
	bs.mu.Lock()
	b, ok := bs.m[agentID]
	if !ok {
		bs.mu.Unlock()
		return
	}
	now := time.Now()
	b.lastSuccess = now
	var closed bool
	switch b.status {
	case CircuitClosed:
		b.failures = 0
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.status = CircuitClosed
			b.failures = 0
			b.successes = 0
			closed = true
		}
	}
	bs.mu.Unlock()

	bs.bus.Publish(eventbus.TopicCircuitSuccess, map[string]any{"agentId": agentID})
	if closed {
		bs.bus.Publish(eventbus.TopicCircuitClosed, map[string]any{"agentId": agentID})
	}
}

// RecordFailure folds one delivery failure into the agent's breaker.
func (bs *breakers) RecordFailure(agentID string) {
	bs.mu.Lock()
	b, ok := bs.m[agentID]
	if !ok {
		bs.mu.Unlock()
		return
	}
	now := time.Now()
	// Failures outside the monitoring window restart the count.
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.MonitoringWindow {
		b.failures = 0
	}
	b.lastFailure = now
	b.failures++

	var opened bool
	var failures int
	switch b.status {
	case CircuitClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.status = CircuitOpen
			b.nextAttempt = now.Add(b.cfg.Timeout)
			opened = true
		}
	case CircuitHalfOpen:
		// A single half-open failure re-opens immediately.
		b.status = CircuitOpen
		b.nextAttempt = now.Add(b.cfg.Timeout)
		b.successes = 0
		opened = true
	}
	failures = b.failures
	bs.mu.Unlock()

	bs.bus.Publish(eventbus.TopicCircuitFailure, map[string]any{
		"agentId": agentID, "failures": failures,
	})
	if opened {
		bs.bus.Publish(eventbus.TopicCircuitOpened, map[string]any{
			"agentId": agentID, "failures": failures,
		})
	}
}

// Reset returns an agent's breaker to closed with zeroed counters.
func (bs *breakers) Reset(agentID string) {
	bs.mu.Lock()
	b, ok := bs.m[agentID]
	if ok {
		b.status = CircuitClosed
		b.failures = 0
		b.successes = 0
		b.nextAttempt = time.Time{}
	}
	bs.mu.Unlock()
	if ok {
		bs.bus.Publish(eventbus.TopicCircuitReset, map[string]any{"agentId": agentID})
	}
}

// State returns a snapshot of one agent's breaker.
func (bs *breakers) State(agentID string) (BreakerState, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[agentID]
	if !ok {
		return BreakerState{}, false
	}
	return b.snapshot(), true
}

func (b *breaker) snapshot() BreakerState {
	s := BreakerState{
		Status:    b.status,
		Failures:  b.failures,
		Successes: b.successes,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	if !b.lastSuccess.IsZero() {
		t := b.lastSuccess
		s.LastSuccessTime = &t
	}
	if !b.nextAttempt.IsZero() {
		t := b.nextAttempt
		s.NextAttempt = &t
	}
	return s
}

// BreakerStats counts breakers by state.
type BreakerStats struct {
	Total    int `json:"total"`
	Open     int `json:"open"`
	HalfOpen int `json:"halfOpen"`
	Closed   int `json:"closed"`
}

func (bs *breakers) Stats() BreakerStats {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	var s BreakerStats
	for _, b := range bs.m {
		s.Total++
		switch b.status {
		case CircuitOpen:
			s.Open++
		case CircuitHalfOpen:
			s.HalfOpen++
		default:
			s.Closed++
		}
	}
	return s
}

// Clear drops all breakers. Used on shutdown.
func (bs *breakers) Clear() {
	bs.mu.Lock()
	bs.m = make(map[string]*breaker)
	bs.mu.Unlock()
}

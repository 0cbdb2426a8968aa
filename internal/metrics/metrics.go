package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// TimerMetric captures timing information for one operation
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

type timer struct {
	count       int64
	totalTimeMs int64
	maxTimeMs   int64
}

// Metrics collects operation counters, timings and component health for the
// workflow engine. Counter names follow <workflow>.<operation>[.<outcome>],
// e.g. loans.confirm_collection.stale_state.
type Metrics struct {
	mu           sync.RWMutex
	counters     map[string]*int64
	timers       map[string]*timer
	healthChecks map[string]*int64
	startTime    time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:     make(map[string]*int64),
		timers:       make(map[string]*timer),
		healthChecks: make(map[string]*int64),
		startTime:    time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// Check again to avoid race conditions
		if counter, exists = m.counters[name]; !exists {
			var c int64
			counter = &c
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, durationMs int64) {
	m.mu.RLock()
	t, exists := m.timers[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if t, exists = m.timers[name]; !exists {
			t = &timer{}
			m.timers[name] = t
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(&t.count, 1)
	atomic.AddInt64(&t.totalTimeMs, durationMs)

	for {
		currentMax := atomic.LoadInt64(&t.maxTimeMs)
		if durationMs <= currentMax {
			break
		}
		if atomic.CompareAndSwapInt64(&t.maxTimeMs, currentMax, durationMs) {
			break
		}
	}
}

// TimeOperation runs fn and records its duration under name
func (m *Metrics) TimeOperation(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordTimer(name, time.Since(start).Milliseconds())
	return err
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, isHealthy bool) {
	var value int64
	if isHealthy {
		value = 1
	}

	m.mu.RLock()
	health, exists := m.healthChecks[component]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if health, exists = m.healthChecks[component]; !exists {
			var h int64
			health = &h
			m.healthChecks[component] = health
		}
		m.mu.Unlock()
	}

	atomic.StoreInt64(health, value)
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	counters := make(map[string]int64)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}

	return counters
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	timers := make(map[string]TimerMetric)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, t := range m.timers {
		count := atomic.LoadInt64(&t.count)
		totalTime := atomic.LoadInt64(&t.totalTimeMs)

		var average float64
		if count > 0 {
			average = float64(totalTime) / float64(count)
		}

		timers[name] = TimerMetric{
			Count:         count,
			TotalTimeMs:   totalTime,
			AverageTimeMs: average,
			MaxTimeMs:     atomic.LoadInt64(&t.maxTimeMs),
		}
	}

	return timers
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	checks := make(map[string]bool)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, health := range m.healthChecks {
		checks[name] = atomic.LoadInt64(health) > 0
	}

	return checks
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"timers":         m.GetTimers(),
		"health_checks":  m.GetHealthChecks(),
	}
}

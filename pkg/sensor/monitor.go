package sensor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"fpchat/pkg/logger"
	"fpchat/pkg/store"
	"fpchat/pkg/telemetry"
)

// Snapshot is a best-effort view of process and cache-store health.
// Fields may be zero when the store is not open yet.
type Snapshot struct {
	Timestamp time.Time

	// Process memory in bytes
	MemTotal uint64
	MemUsed  uint64

	// Pebble cache store
	CacheDiskBytes uint64
	MemtableBytes  uint64
	Compactions    int64
}

// PressureEvent is an advisory signal emitted when the cache store grows
// past its configured budget. Handlers decide what, if anything, to shed.
type PressureEvent struct {
	Reason   string
	Severity float64
	Snap     Snapshot
}

// Monitor polls store health and exposes the current Snapshot. When a disk
// budget is set it tracks usage against it with hysteresis: a pressure event
// fires on crossing highPct, and a recovery event after usage stays under
// lowPct for the recovery window.
type Monitor struct {
	mu   sync.RWMutex
	snap Snapshot

	interval   time.Duration
	budget     uint64
	highPct    int
	lowPct     int
	recovery   time.Duration
	pressured  bool
	lastUnder  time.Time

	hMu      sync.RWMutex
	handlers []func(PressureEvent)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor polling every interval. budget is the cache disk
// budget in bytes; zero disables pressure evaluation (sampling still runs).
func New(budget uint64, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	m := &Monitor{
		interval: interval,
		budget:   budget,
		highPct:  90,
		lowPct:   75,
		recovery: 5 * time.Second,
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start begins background polling. Call Stop to terminate.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		// warm initial sample
		m.sample()
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.sample()
				m.evaluate()
			}
		}
	}()
}

// Stop stops background polling and waits for the worker to exit.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Snapshot returns the most recent snapshot (fast, copy).
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// OnPressure registers a callback for pressure and recovery events.
// Handlers are invoked asynchronously and must not block indefinitely.
func (m *Monitor) OnPressure(h func(PressureEvent)) {
	m.hMu.Lock()
	defer m.hMu.Unlock()
	m.handlers = append(m.handlers, h)
}

func (m *Monitor) emit(ev PressureEvent) {
	m.hMu.RLock()
	handlers := append([]func(PressureEvent){}, m.handlers...)
	m.hMu.RUnlock()
	for _, h := range handlers {
		go func(cb func(PressureEvent)) {
			done := make(chan struct{})
			go func() {
				cb(ev)
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(250 * time.Millisecond):
			}
		}(h)
	}
}

// sample collects best-effort metrics and updates the current snapshot.
func (m *Monitor) sample() {
	snap := Snapshot{Timestamp: time.Now()}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap.MemTotal = memStats.Sys
	snap.MemUsed = memStats.Alloc

	if store.Ready() {
		st := store.Stats()
		snap.CacheDiskBytes = st.DiskUsageBytes
		snap.MemtableBytes = st.MemtableBytes
		snap.Compactions = st.Compactions
		telemetry.CacheDiskBytes.Set(float64(st.DiskUsageBytes))
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
}

func (m *Monitor) evaluate() {
	if m.budget == 0 {
		return
	}
	snap := m.Snapshot()
	pct := int((snap.CacheDiskBytes * 100) / m.budget)

	if !m.pressured {
		if pct >= m.highPct {
			m.pressured = true
			logger.Warn("cache_disk_pressure", "used_bytes", snap.CacheDiskBytes, "budget_bytes", m.budget, "pct", pct)
			m.emit(PressureEvent{Reason: "cache_disk_high", Severity: 1.0, Snap: snap})
		}
		return
	}

	if pct > m.lowPct {
		m.lastUnder = time.Time{}
		return
	}
	if m.lastUnder.IsZero() {
		m.lastUnder = time.Now()
		return
	}
	if time.Since(m.lastUnder) >= m.recovery {
		m.pressured = false
		m.lastUnder = time.Time{}
		logger.Info("cache_disk_recovered", "used_bytes", snap.CacheDiskBytes, "pct", pct)
		m.emit(PressureEvent{Reason: "recovered", Severity: 0, Snap: snap})
	}
}

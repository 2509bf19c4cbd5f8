package clock

import (
	"sync"
	"time"
)

// Uptime reports monotonic time elapsed since boot.
type Uptime interface {
	Elapsed() time.Duration
}

// Wall reports wall-clock time and whether it has been synchronized.
type Wall interface {
	Now() (time.Time, bool)
}

// Seconds returns whole uptime seconds.
func Seconds(c Uptime) uint32 {
	return uint32(c.Elapsed() / time.Second)
}

// Millis returns whole uptime milliseconds.
func Millis(c Uptime) uint32 {
	return uint32(c.Elapsed() / time.Millisecond)
}

// System is the process uptime clock. Boot is captured at construction.
type System struct {
	boot time.Time
}

// NewSystem constructs a system uptime clock.
func NewSystem() System {
	return System{boot: time.Now()}
}

// Elapsed implements Uptime using the monotonic reading of time.Now.
func (s System) Elapsed() time.Duration {
	return time.Since(s.boot)
}

// SyncFloor is the earliest wall time considered synchronized.
var SyncFloor = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SystemWall reads the host wall clock.
type SystemWall struct{}

// Now implements Wall. Times before SyncFloor are reported as unsynced.
func (SystemWall) Now() (time.Time, bool) {
	now := time.Now().UTC()
	return now, !now.Before(SyncFloor)
}

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu      sync.Mutex
	elapsed time.Duration
	wall    time.Time
	synced  bool
}

// NewManual constructs a manual clock starting at the given uptime.
func NewManual(elapsed time.Duration) *Manual {
	return &Manual{elapsed: elapsed}
}

// Elapsed implements Uptime.
func (m *Manual) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// Advance moves uptime forward.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.elapsed += d
	if m.synced {
		m.wall = m.wall.Add(d)
	}
	m.mu.Unlock()
}

// Set moves uptime to an absolute value.
func (m *Manual) Set(elapsed time.Duration) {
	m.mu.Lock()
	m.elapsed = elapsed
	m.mu.Unlock()
}

// Sync marks the wall clock synchronized at t.
func (m *Manual) Sync(t time.Time) {
	m.mu.Lock()
	m.wall = t.UTC()
	m.synced = true
	m.mu.Unlock()
}

// Now implements Wall.
func (m *Manual) Now() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wall, m.synced
}

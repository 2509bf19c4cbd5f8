package application

import (
	"sync"
	"time"

	"safesignal-button/internal/clock"
)

// DefaultDebounce filters contact bounce.
const DefaultDebounce = 50 * time.Millisecond

// Button turns raw presses into debounced events. Pending presses coalesce.
type Button struct {
	clock    clock.Uptime
	debounce time.Duration

	mu      sync.Mutex
	last    time.Duration
	pressed bool
	events  chan struct{}
}

// NewButton constructs a button with the given debounce.
func NewButton(uptime clock.Uptime, debounce time.Duration) *Button {
	if uptime == nil {
		uptime = clock.NewSystem()
	}
	if debounce < 0 {
		debounce = 0
	}
	return &Button{clock: uptime, debounce: debounce, events: make(chan struct{}, 1)}
}

// Press registers a press edge. It reports false for presses inside the debounce period.
func (b *Button) Press() bool {
	b.mu.Lock()
	now := b.clock.Elapsed()
	if b.pressed && now-b.last < b.debounce {
		b.mu.Unlock()
		return false
	}
	b.last = now
	b.pressed = true
	b.mu.Unlock()

	select {
	case b.events <- struct{}{}:
	default:
	}
	return true
}

// Events delivers one value per accepted press, coalescing while unread.
func (b *Button) Events() <-chan struct{} {
	return b.events
}

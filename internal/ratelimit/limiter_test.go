package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"safesignal-button/internal/clock"
)

func newLimiter(t *testing.T, cfg Config, start time.Duration) (*Limiter, *clock.Manual) {
	t.Helper()
	c := clock.NewManual(start)
	l, err := New(cfg, c)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l, c
}

func admit(t *testing.T, l *Limiter, n int, c *clock.Manual, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !l.CheckAlert() {
			t.Fatalf("alert %d: expected admission, status=%+v", i+1, l.Status())
		}
		l.RecordAlert()
		c.Advance(step)
	}
}

func TestInitialStatusHasNoWindow(t *testing.T) {
	l, _ := newLimiter(t, DefaultConfig(), 0)
	status := l.Status()
	if status.WindowOpen || status.CoolingDown || status.Count != 0 || status.WindowStart != 0 || status.CooldownUntil != 0 {
		t.Fatalf("unexpected initial status: %+v", status)
	}
}

func TestWindowLimitEntersCooldown(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), 10*time.Second)
	admit(t, l, 10, c, 5*time.Second)

	now := clock.Seconds(c)
	if l.CheckAlert() {
		t.Fatalf("11th alert within the window must be rejected")
	}
	status := l.Status()
	if !status.CoolingDown || status.CooldownUntil != now+300 {
		t.Fatalf("expected cooldown until %d, got %+v", now+300, status)
	}
	if status.Count != 10 {
		t.Fatalf("expected count 10, got %d", status.Count)
	}

	c.Advance(100 * time.Second)
	if l.CheckAlert() {
		t.Fatalf("alert during cooldown must be rejected even after the window elapsed")
	}
}

func TestCooldownExpiryAdmitsAndResets(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), 10*time.Second)
	admit(t, l, 10, c, time.Second)
	if l.CheckAlert() {
		t.Fatalf("expected rejection")
	}
	until := l.Status().CooldownUntil

	c.Set(time.Duration(until-1) * time.Second)
	if l.CheckAlert() {
		t.Fatalf("must reject one second before cooldown end")
	}

	c.Set(time.Duration(until) * time.Second)
	if !l.CheckAlert() {
		t.Fatalf("must admit at exactly cooldown end")
	}
	status := l.Status()
	if status.CoolingDown || status.Count != 0 || status.WindowStart != until || !status.WindowOpen {
		t.Fatalf("expected fresh window at %d, got %+v", until, status)
	}
}

func TestWindowHardResetAtBoundary(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), 0)
	admit(t, l, 9, c, 0)
	start := l.Status().WindowStart

	c.Advance(59 * time.Second)
	if !l.CheckAlert() {
		t.Fatalf("10th alert within window must be admitted")
	}
	l.RecordAlert()
	if got := l.Status().Count; got != 10 {
		t.Fatalf("expected count 10, got %d", got)
	}

	c.Advance(time.Second)
	if !l.CheckAlert() {
		t.Fatalf("window age equal to the window must start a new window")
	}
	status := l.Status()
	if status.Count != 0 || status.WindowStart != start+60 {
		t.Fatalf("expected hard reset, got %+v", status)
	}
}

func TestWindowStartAtUptimeZeroIsAWindow(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), 0)
	admit(t, l, 10, c, 0)
	c.Advance(30 * time.Second)
	if l.CheckAlert() {
		t.Fatalf("a window opened at uptime 0 must still be enforced")
	}
}

func TestMinIntervalIsIndependentOfWindow(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), 5*time.Second)

	if !l.CheckMinInterval() || !l.CheckAlert() {
		t.Fatalf("first alert must be admitted")
	}
	l.RecordAlert()

	c.Advance(500 * time.Millisecond)
	if !l.CheckAlert() {
		t.Fatalf("window guard must admit the second alert")
	}
	if l.CheckMinInterval() {
		t.Fatalf("min interval guard must reject the second alert")
	}

	// The rejected attempt does not move the reference point.
	c.Advance(1500 * time.Millisecond)
	if !l.CheckMinInterval() {
		t.Fatalf("expected admission 2000ms after the first alert")
	}
}

func TestMinIntervalLongerThanWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinInterval = 90 * time.Second
	l, c := newLimiter(t, cfg, 0)

	if !l.CheckMinInterval() || !l.CheckAlert() {
		t.Fatalf("first alert must be admitted")
	}
	l.RecordAlert()
	c.Advance(70 * time.Second)
	if !l.CheckAlert() {
		t.Fatalf("window guard must admit after the window elapsed")
	}
	if l.CheckMinInterval() {
		t.Fatalf("min interval guard must reject")
	}
}

func TestMinIntervalAtUptimeZero(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), 0)
	if !l.CheckMinInterval() {
		t.Fatalf("first alert must be admitted")
	}
	c.Advance(10 * time.Millisecond)
	if l.CheckMinInterval() {
		t.Fatalf("an admission at uptime 0 must count as the last alert")
	}
}

func TestDisabledAlwaysAdmits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	l, _ := newLimiter(t, cfg, 0)
	for i := 0; i < 50; i++ {
		if !l.CheckAlert() {
			t.Fatalf("disabled limiter rejected alert %d", i)
		}
		l.RecordAlert()
	}
}

func TestRecordIgnoredAtCapacity(t *testing.T) {
	l, _ := newLimiter(t, DefaultConfig(), time.Second)
	l.CheckAlert()
	for i := 0; i < 15; i++ {
		l.RecordAlert()
	}
	if got := l.Status().Count; got != 10 {
		t.Fatalf("expected count capped at 10, got %d", got)
	}
}

func TestResetClearsEverything(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), time.Second)
	admit(t, l, 10, c, 0)
	l.CheckAlert()
	l.CheckMinInterval()

	l.Reset()
	status := l.Status()
	if status.WindowOpen || status.CoolingDown || status.Count != 0 {
		t.Fatalf("expected cleared state, got %+v", status)
	}
	if !l.CheckMinInterval() || !l.CheckAlert() {
		t.Fatalf("expected admission after reset")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAlerts = 0
	if _, err := New(cfg, clock.NewManual(0)); err == nil {
		t.Fatalf("expected error for zero max alerts")
	}
	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Fatalf("expected error for nil clock")
	}
}

func TestConcurrentChecksNeverOverAdmit(t *testing.T) {
	l, _ := newLimiter(t, DefaultConfig(), time.Second)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Check and record must be paired atomically by the caller for an exact bound.
			mu.Lock()
			defer mu.Unlock()
			if l.CheckAlert() {
				l.RecordAlert()
				admitted++
			}
		}()
	}
	wg.Wait()
	if admitted != 10 {
		t.Fatalf("expected exactly 10 admissions, got %d", admitted)
	}
}

func TestConcurrentCallsWithoutCallerLock(t *testing.T) {
	l, c := newLimiter(t, DefaultConfig(), time.Second)
	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				if l.CheckMinInterval() && l.CheckAlert() {
					l.RecordAlert()
					admitted.Add(1)
				}
				if s := l.Status(); s.Count > l.cfg.MaxAlerts {
					t.Errorf("window count %d exceeds %d", s.Count, l.cfg.MaxAlerts)
					return
				}
				switch {
				case i == 0 && n%50 == 49:
					l.Reset()
				case i == 1:
					c.Advance(700 * time.Millisecond)
				}
			}
		}(i)
	}
	wg.Wait()
	if admitted.Load() == 0 {
		t.Fatalf("expected some admissions")
	}

	l.Reset()
	status := l.Status()
	if status.WindowOpen || status.CoolingDown || status.Count != 0 {
		t.Fatalf("expected cleared state, got %+v", status)
	}
	if !l.CheckMinInterval() || !l.CheckAlert() {
		t.Fatalf("expected admission after reset")
	}
}

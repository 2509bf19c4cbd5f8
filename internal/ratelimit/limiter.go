package ratelimit

import (
	"errors"
	"sync"
	"time"

	"safesignal-button/internal/clock"
	"safesignal-button/internal/observability/metrics"

	"go.uber.org/zap"
)

// Config controls admission limits.
type Config struct {
	Enabled     bool
	MaxAlerts   int
	Window      time.Duration
	Cooldown    time.Duration
	MinInterval time.Duration
}

// DefaultConfig returns the device defaults: 10 alerts per 60s, 300s cooldown, 2s spacing.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		MaxAlerts:   10,
		Window:      60 * time.Second,
		Cooldown:    300 * time.Second,
		MinInterval: 2000 * time.Millisecond,
	}
}

// Validate checks limits.
func (c Config) Validate() error {
	if c.MaxAlerts <= 0 {
		return errors.New("rate limit: max alerts must be positive")
	}
	if c.Window < time.Second {
		return errors.New("rate limit: window must be at least 1s")
	}
	if c.Cooldown < 0 || c.MinInterval < 0 {
		return errors.New("rate limit: negative duration")
	}
	return nil
}

// instant is an optional uptime reading.
type instant struct {
	at  uint32
	set bool
}

func at(v uint32) instant { return instant{at: v, set: true} }

// Status is a snapshot of the limiter. Unset values are reported as 0 with their flag false.
type Status struct {
	Count         int    `json:"count"`
	WindowStart   uint32 `json:"window_start"`
	WindowOpen    bool   `json:"window_open"`
	CooldownUntil uint32 `json:"cooldown_until"`
	CoolingDown   bool   `json:"cooling_down"`
}

// Limiter is the two-guard admission control. It holds no persistent state.
type Limiter struct {
	cfg    Config
	clock  clock.Uptime
	logger *zap.Logger

	mu            sync.Mutex
	timestamps    []uint32
	windowStart   instant
	cooldownUntil instant
	lastAlertMS   instant
}

// Option customizes the limiter.
type Option func(*Limiter)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs a limiter with no window and no cooldown.
func New(cfg Config, uptime clock.Uptime, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if uptime == nil {
		return nil, errors.New("rate limit: nil clock")
	}
	l := &Limiter{
		cfg:        cfg,
		clock:      uptime,
		logger:     zap.NewNop(),
		timestamps: make([]uint32, 0, cfg.MaxAlerts),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger.Info("rate limiting initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("max_alerts", cfg.MaxAlerts),
		zap.Duration("window", cfg.Window),
		zap.Duration("cooldown", cfg.Cooldown),
		zap.Duration("min_interval", cfg.MinInterval),
	)
	return l, nil
}

// CheckAlert decides whether the window guard admits a new alert.
// Callers follow an admitted alert that was actually sent with RecordAlert.
func (l *Limiter) CheckAlert() bool {
	if !l.cfg.Enabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Seconds(l.clock)

	if l.cooldownUntil.set {
		if now < l.cooldownUntil.at {
			l.logger.Warn("rate limited: cooldown in effect", zap.Uint32("remaining_s", l.cooldownUntil.at-now))
			metrics.IncRateLimitDecision("window", false)
			return false
		}
		l.logger.Info("cooldown expired, resetting rate limit")
		l.cooldownUntil = instant{}
		l.openWindow(now)
	}

	if !l.windowStart.set {
		l.openWindow(now)
	}

	age := now - l.windowStart.at
	if age >= l.windowSeconds() {
		l.logger.Debug("rate limit window expired, starting new window")
		l.openWindow(now)
	} else if len(l.timestamps) >= l.cfg.MaxAlerts {
		l.cooldownUntil = at(now + uint32(l.cfg.Cooldown/time.Second))
		l.logger.Warn("rate limit exceeded, cooldown activated",
			zap.Int("alerts", len(l.timestamps)),
			zap.Uint32("window_age_s", age),
			zap.Uint32("cooldown_until", l.cooldownUntil.at),
		)
		metrics.IncRateLimitDecision("window", false)
		return false
	}

	metrics.IncRateLimitDecision("window", true)
	return true
}

// RecordAlert counts an alert in the current window. It is ignored at capacity.
func (l *Limiter) RecordAlert() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Seconds(l.clock)
	if len(l.timestamps) < l.cfg.MaxAlerts {
		l.timestamps = append(l.timestamps, now)
	}
	l.logger.Debug("alert recorded",
		zap.Int("count", len(l.timestamps)),
		zap.Int("max", l.cfg.MaxAlerts),
		zap.Uint32("window_age_s", now-l.windowStart.at),
	)
}

// CheckMinInterval admits when at least MinInterval passed since the last admission.
// A rejection leaves the last admission time unchanged.
func (l *Limiter) CheckMinInterval() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Millis(l.clock)
	if l.lastAlertMS.set {
		elapsed := now - l.lastAlertMS.at
		if elapsed < uint32(l.cfg.MinInterval/time.Millisecond) {
			l.logger.Debug("alert throttled by min interval", zap.Uint32("elapsed_ms", elapsed))
			metrics.IncRateLimitDecision("min_interval", false)
			return false
		}
	}
	l.lastAlertMS = at(now)
	metrics.IncRateLimitDecision("min_interval", true)
	return true
}

// Status returns a snapshot of the window and cooldown.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Count:         len(l.timestamps),
		WindowStart:   l.windowStart.at,
		WindowOpen:    l.windowStart.set,
		CooldownUntil: l.cooldownUntil.at,
		CoolingDown:   l.cooldownUntil.set,
	}
}

// Reset clears the window, the cooldown and the last admission time.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timestamps = l.timestamps[:0]
	l.windowStart = instant{}
	l.cooldownUntil = instant{}
	l.lastAlertMS = instant{}
	l.logger.Info("rate limit state reset")
}

// openWindow starts a fresh window at now. Callers hold mu.
func (l *Limiter) openWindow(now uint32) {
	l.windowStart = at(now)
	l.timestamps = l.timestamps[:0]
}

func (l *Limiter) windowSeconds() uint32 {
	return uint32(l.cfg.Window / time.Second)
}

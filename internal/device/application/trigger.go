package application

import (
	"context"
	"errors"
	"sync"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/clock"
	device "safesignal-button/internal/device/domain"
	"safesignal-button/internal/observability/metrics"
	"safesignal-button/internal/transport"

	"go.uber.org/zap"
)

// AlertQueue stores alerts for delivery.
type AlertQueue interface {
	Enqueue(ctx context.Context, rec alerting.AlertRecord) error
}

// Limiter guards alert admission.
type Limiter interface {
	CheckMinInterval() bool
	CheckAlert() bool
	RecordAlert()
}

// IDSource issues alert ids.
type IDSource interface {
	Next(ctx context.Context) (uint32, error)
}

// Deliverer attempts a direct delivery when the queue cannot take a record.
type Deliverer interface {
	IsConnected() bool
	AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool
}

// TriggerOption customizes a Trigger.
type TriggerOption func(*Trigger)

// WithTriggerLogger assigns a logger.
func WithTriggerLogger(logger *zap.Logger) TriggerOption {
	return func(t *Trigger) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithKick is called after every successful enqueue.
func WithKick(kick func()) TriggerOption {
	return func(t *Trigger) {
		t.kick = kick
	}
}

// WithDirectDelivery sets the fallback used when the queue rejects a record.
func WithDirectDelivery(d Deliverer) TriggerOption {
	return func(t *Trigger) {
		t.direct = d
	}
}

// Trigger turns a press into a queued alert.
type Trigger struct {
	identity device.Identity
	ids      IDSource
	queue    AlertQueue
	limiter  Limiter
	uptime   clock.Uptime
	wall     clock.Wall
	logger   *zap.Logger
	kick     func()
	direct   Deliverer

	// mu pairs the limiter checks with RecordAlert.
	mu sync.Mutex
}

// NewTrigger constructs a Trigger.
func NewTrigger(identity device.Identity, ids IDSource, queue AlertQueue, limiter Limiter, uptime clock.Uptime, wall clock.Wall, opts ...TriggerOption) (*Trigger, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}
	if ids == nil {
		return nil, errors.New("trigger: nil id source")
	}
	if queue == nil {
		return nil, errors.New("trigger: nil queue")
	}
	if limiter == nil {
		return nil, errors.New("trigger: nil limiter")
	}
	if uptime == nil || wall == nil {
		return nil, errors.New("trigger: nil clock")
	}
	t := &Trigger{
		identity: identity,
		ids:      ids,
		queue:    queue,
		limiter:  limiter,
		uptime:   uptime,
		wall:     wall,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Identity returns the device identity.
func (t *Trigger) Identity() device.Identity {
	return t.identity
}

// Fire raises an alert in the device's configured mode.
func (t *Trigger) Fire(ctx context.Context) device.Outcome {
	return t.FireMode(ctx, t.identity.Mode)
}

// FireMode raises an alert in the given mode.
func (t *Trigger) FireMode(ctx context.Context, mode alerting.Mode) device.Outcome {
	out := t.fire(ctx, mode)
	metrics.IncButtonPress(string(out.Reason))
	return out
}

func (t *Trigger) fire(ctx context.Context, mode alerting.Mode) device.Outcome {
	if !mode.Valid() {
		return device.Outcome{Reason: device.ReasonInvalid}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.limiter.CheckMinInterval() {
		t.logger.Info("press ignored, too soon after previous alert")
		return device.Outcome{Reason: device.ReasonMinInterval}
	}
	if !t.limiter.CheckAlert() {
		t.logger.Warn("press rejected by rate limit")
		return device.Outcome{Reason: device.ReasonRateLimited}
	}

	id, err := t.ids.Next(ctx)
	if err != nil {
		t.logger.Error("allocate alert id failed", zap.Error(err))
		return device.Outcome{Reason: device.ReasonStorageError}
	}

	var eventTS uint32
	if now, synced := t.wall.Now(); synced {
		eventTS = uint32(now.Unix())
	}
	rec := t.identity.NewRecord(id, eventTS, clock.Seconds(t.uptime), mode)
	key := transport.AlertKey(rec)

	err = t.queue.Enqueue(ctx, rec)
	if err == nil {
		t.limiter.RecordAlert()
		t.logger.Warn("panic alert queued", zap.String("alert_key", key), zap.String("mode", mode.String()))
		if t.kick != nil {
			t.kick()
		}
		return device.Outcome{Admitted: true, Reason: device.ReasonQueued, AlertID: id, AlertKey: key}
	}

	t.logger.Error("enqueue alert failed", zap.String("alert_key", key), zap.Error(err))
	if t.direct != nil && t.direct.IsConnected() && t.direct.AttemptDeliver(ctx, rec) {
		t.limiter.RecordAlert()
		t.logger.Warn("panic alert delivered directly", zap.String("alert_key", key))
		return device.Outcome{Admitted: true, Reason: device.ReasonDirect, AlertID: id, AlertKey: key}
	}
	if errors.Is(err, alerting.ErrQueueFull) {
		return device.Outcome{Reason: device.ReasonQueueFull, AlertID: id, AlertKey: key}
	}
	return device.Outcome{Reason: device.ReasonStorageError, AlertID: id, AlertKey: key}
}

// Run fires one alert per button event until ctx is done.
func (t *Trigger) Run(ctx context.Context, events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-events:
			t.logger.Warn("panic button pressed")
			t.Fire(ctx)
		}
	}
}

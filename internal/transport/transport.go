package transport

import (
	"context"
	"errors"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/observability/metrics"
)

// Transport is one delivery channel to the gateway.
type Transport interface {
	Name() string
	IsConnected() bool
	AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool
}

// Reporter publishes status and heartbeat reports.
type Reporter interface {
	PublishStatus(ctx context.Context, status DeviceStatus) error
	PublishHeartbeat(ctx context.Context, hb Heartbeat) error
}

// ErrNoReporter is returned when no connected transport can publish reports.
var ErrNoReporter = errors.New("transport: no connected reporter")

// Failover tries transports in order.
type Failover struct {
	transports []Transport
}

// NewFailover constructs a Failover. Nil transports are skipped.
func NewFailover(transports ...Transport) *Failover {
	f := &Failover{}
	for _, t := range transports {
		if t != nil {
			f.transports = append(f.transports, t)
		}
	}
	return f
}

// Name implements Transport.
func (f *Failover) Name() string { return "failover" }

// IsConnected reports whether any transport is connected.
func (f *Failover) IsConnected() bool {
	if f == nil {
		return false
	}
	connected := false
	for _, t := range f.transports {
		up := t.IsConnected()
		metrics.SetTransportConnected(t.Name(), up)
		connected = connected || up
	}
	return connected
}

// AttemptDeliver succeeds on the first connected transport that delivers.
func (f *Failover) AttemptDeliver(ctx context.Context, rec alerting.AlertRecord) bool {
	if f == nil {
		return false
	}
	for _, t := range f.transports {
		if !t.IsConnected() {
			continue
		}
		if t.AttemptDeliver(ctx, rec) {
			return true
		}
	}
	return false
}

// Connectivity returns per-transport connectivity.
func (f *Failover) Connectivity() map[string]bool {
	out := make(map[string]bool)
	if f == nil {
		return out
	}
	for _, t := range f.transports {
		out[t.Name()] = t.IsConnected()
	}
	return out
}

// PublishStatus publishes through the first connected reporter.
func (f *Failover) PublishStatus(ctx context.Context, status DeviceStatus) error {
	return f.report(func(r Reporter) error { return r.PublishStatus(ctx, status) })
}

// PublishHeartbeat publishes through the first connected reporter.
func (f *Failover) PublishHeartbeat(ctx context.Context, hb Heartbeat) error {
	return f.report(func(r Reporter) error { return r.PublishHeartbeat(ctx, hb) })
}

func (f *Failover) report(publish func(Reporter) error) error {
	if f == nil {
		return ErrNoReporter
	}
	var errs []error
	for _, t := range f.transports {
		r, ok := t.(Reporter)
		if !ok || !t.IsConnected() {
			continue
		}
		err := publish(r)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrNoReporter
	}
	return errors.Join(errs...)
}

package application

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/clock"
	device "safesignal-button/internal/device/domain"
	"safesignal-button/internal/observability/metrics"
	"safesignal-button/internal/ratelimit"
	"safesignal-button/internal/transport"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedules of the background jobs.
const (
	ProcessSchedule   = "@every 10s"
	CleanupSchedule   = "@every 60s"
	StatusSchedule    = "@every 60s"
	HeartbeatSchedule = "@every 30s"
)

// QueueRunner is the part of the alert queue the housekeeper drives.
type QueueRunner interface {
	Count() uint32
	Process(ctx context.Context) int
	CleanupExpired(ctx context.Context) int
	Stats() (alerting.QueueStats, error)
}

// RateStatus exposes the limiter state for reports.
type RateStatus interface {
	Status() ratelimit.Status
}

// Schedules overrides job schedules. Empty fields keep the defaults.
type Schedules struct {
	Process   string
	Cleanup   string
	Status    string
	Heartbeat string
}

func (s Schedules) withDefaults() Schedules {
	if s.Process == "" {
		s.Process = ProcessSchedule
	}
	if s.Cleanup == "" {
		s.Cleanup = CleanupSchedule
	}
	if s.Status == "" {
		s.Status = StatusSchedule
	}
	if s.Heartbeat == "" {
		s.Heartbeat = HeartbeatSchedule
	}
	return s
}

// Housekeeper runs queue processing, cleanup and reporting in the background.
type Housekeeper struct {
	identity  device.Identity
	queue     QueueRunner
	limiter   RateStatus
	reporter  transport.Reporter
	uptime    clock.Uptime
	wall      clock.Wall
	schedules Schedules
	logger    *zap.Logger

	kick chan struct{}

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHousekeeper constructs a Housekeeper. reporter may be nil.
func NewHousekeeper(identity device.Identity, queue QueueRunner, limiter RateStatus, reporter transport.Reporter, uptime clock.Uptime, wall clock.Wall, schedules Schedules, logger *zap.Logger) (*Housekeeper, error) {
	if queue == nil {
		return nil, errors.New("housekeeper: nil queue")
	}
	if limiter == nil {
		return nil, errors.New("housekeeper: nil limiter")
	}
	if uptime == nil || wall == nil {
		return nil, errors.New("housekeeper: nil clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Housekeeper{
		identity:  identity,
		queue:     queue,
		limiter:   limiter,
		reporter:  reporter,
		uptime:    uptime,
		wall:      wall,
		schedules: schedules.withDefaults(),
		logger:    logger,
		kick:      make(chan struct{}, 1),
	}, nil
}

// Kick requests a processing pass soon. Kicks coalesce.
func (h *Housekeeper) Kick() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// Start registers the jobs and starts the scheduler. It is safe to call Start multiple times.
func (h *Housekeeper) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cron != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{h.logger})))
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"process", h.schedules.Process, func(ctx context.Context) { h.RunProcess(ctx) }},
		{"cleanup", h.schedules.Cleanup, func(ctx context.Context) { h.RunCleanup(ctx) }},
		{"status", h.schedules.Status, func(ctx context.Context) { _ = h.PublishStatus(ctx) }},
		{"heartbeat", h.schedules.Heartbeat, func(ctx context.Context) { _ = h.PublishHeartbeat(ctx) }},
	}
	for _, job := range jobs {
		run := job.run
		if _, err := c.AddFunc(job.schedule, func() { run(loopCtx) }); err != nil {
			cancel()
			return fmt.Errorf("housekeeper: schedule %s: %w", job.name, err)
		}
	}

	h.cron = c
	h.cancel = cancel
	c.Start()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-h.kick:
				h.RunProcess(loopCtx)
			}
		}
	}()
	h.logger.Info("housekeeper started",
		zap.String("process", h.schedules.Process),
		zap.String("cleanup", h.schedules.Cleanup),
		zap.String("status", h.schedules.Status),
		zap.String("heartbeat", h.schedules.Heartbeat),
	)
	return nil
}

// Stop stops scheduling and waits for running jobs.
func (h *Housekeeper) Stop() {
	h.mu.Lock()
	c := h.cron
	cancel := h.cancel
	h.cron = nil
	h.cancel = nil
	h.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	cancel()
	h.wg.Wait()
}

// RunProcess delivers pending alerts when there are any.
func (h *Housekeeper) RunProcess(ctx context.Context) int {
	pending := h.queue.Count()
	if pending == 0 {
		return 0
	}
	h.logger.Debug("processing queued alerts", zap.Uint32("pending", pending))
	return h.queue.Process(ctx)
}

// RunCleanup drops expired alerts.
func (h *Housekeeper) RunCleanup(ctx context.Context) int {
	return h.queue.CleanupExpired(ctx)
}

// Status assembles the current device status.
func (h *Housekeeper) Status() transport.DeviceStatus {
	stats, err := h.queue.Stats()
	if err != nil {
		stats = alerting.QueueStats{}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return transport.DeviceStatus{
		DeviceID:   h.identity.DeviceID,
		TenantID:   h.identity.TenantID,
		BuildingID: h.identity.BuildingID,
		RoomID:     h.identity.RoomID,
		Type:       "STATUS",
		Timestamp:  h.timestamp(),
		Uptime:     clock.Seconds(h.uptime),
		HeapAlloc:  mem.HeapAlloc,
		Version:    h.version(),
		Queue:      stats,
		Throttled:  h.limiter.Status().CoolingDown,
	}
}

// PublishStatus sends a status report.
func (h *Housekeeper) PublishStatus(ctx context.Context) error {
	if h.reporter == nil {
		return transport.ErrNoReporter
	}
	err := h.reporter.PublishStatus(ctx, h.Status())
	metrics.IncReport("status", err == nil)
	if err != nil {
		h.logger.Debug("status report not sent", zap.Error(err))
	}
	return err
}

// PublishHeartbeat sends a heartbeat.
func (h *Housekeeper) PublishHeartbeat(ctx context.Context) error {
	if h.reporter == nil {
		return transport.ErrNoReporter
	}
	err := h.reporter.PublishHeartbeat(ctx, transport.Heartbeat{
		DeviceID:  h.identity.DeviceID,
		Type:      "HEARTBEAT",
		Timestamp: h.timestamp(),
	})
	metrics.IncReport("heartbeat", err == nil)
	if err != nil {
		h.logger.Debug("heartbeat not sent", zap.Error(err))
	}
	return err
}

// timestamp is wall seconds when synced, else uptime milliseconds.
func (h *Housekeeper) timestamp() uint32 {
	if now, ok := h.wall.Now(); ok {
		return uint32(now.Unix())
	}
	return clock.Millis(h.uptime)
}

func (h *Housekeeper) version() string {
	if h.identity.FirmwareVersion != "" {
		return h.identity.FirmwareVersion
	}
	return device.FirmwareVersion
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

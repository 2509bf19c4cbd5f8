package sentryutil

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures error reporting. An empty DSN disables sending.
type Options struct {
	DSN         string
	Environment string
	Release     string
	DeviceID    string
	TenantID    string
}

// Init configures the global sentry hub. Failure is logged and never blocks startup.
func Init(opts Options, logger *zap.Logger) bool {
	if logger == nil {
		logger = zap.NewNop()
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			event.User = sentry.User{}
			return event
		},
	})
	if err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
		return false
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		if opts.DeviceID != "" {
			scope.SetTag("device_id", opts.DeviceID)
		}
		if opts.TenantID != "" {
			scope.SetTag("tenant_id", opts.TenantID)
		}
	})
	if opts.DSN == "" {
		logger.Info("SENTRY_DSN empty, error tracking disabled")
	} else {
		logger.Info("sentry initialized")
	}
	return true
}

func Flush() { sentry.Flush(2 * time.Second) }

func CaptureError(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func CaptureMessage(msg string, level sentry.Level, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureMessage(msg)
	})
}

// LogHook forwards error log entries to sentry. String fields become tags.
func LogHook(entry zapcore.Entry, fields []zapcore.Field) {
	tags, cause := hookTags(entry, fields)
	if cause != nil {
		CaptureError(fmt.Errorf("%s: %w", entry.Message, cause), tags)
		return
	}
	level := sentry.LevelError
	if entry.Level >= zapcore.FatalLevel {
		level = sentry.LevelFatal
	}
	CaptureMessage(entry.Message, level, tags)
}

func hookTags(entry zapcore.Entry, fields []zapcore.Field) (map[string]string, error) {
	tags := map[string]string{}
	if entry.LoggerName != "" {
		tags["logger"] = entry.LoggerName
	}
	var cause error
	for _, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			tags[f.Key] = f.String
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				cause = err
			}
		}
	}
	return tags, cause
}

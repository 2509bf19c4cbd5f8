package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestNewBuildsBothFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := New("debug", format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Fatalf("%s: debug should be enabled", format)
		}
	}
}

func TestErrorHookSeesOnlyErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var hooked []string
	var hookedFields int
	logger := WithErrorHook(zap.New(core).With(zap.String("device_id", "btn-1")), func(entry zapcore.Entry, fields []zapcore.Field) {
		hooked = append(hooked, entry.Message)
		hookedFields = len(fields)
	})

	logger.Info("fine")
	logger.Error("broken", zap.String("op", "enqueue"))

	if logs.Len() != 2 {
		t.Fatalf("expected both entries in base core, got %d", logs.Len())
	}
	if len(hooked) != 1 || hooked[0] != "broken" {
		t.Fatalf("unexpected hooked entries %v", hooked)
	}
	if hookedFields != 1 {
		t.Fatalf("expected entry fields, got %d", hookedFields)
	}
}

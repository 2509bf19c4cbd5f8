package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DEVICE_ID", "btn-001")
	t.Setenv("TENANT_ID", "tenant-a")
	t.Setenv("BUILDING_ID", "building-1")
	t.Setenv("ROOM_ID", "room-101")
	t.Setenv("MQTT_BROKER", "tcp://localhost:1883")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("BUTTON_CONFIG", "")
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimit.MaxAlerts != 10 || cfg.RateLimit.Window != time.Minute || cfg.RateLimit.Cooldown != 5*time.Minute || cfg.RateLimit.MinInterval != 2*time.Second {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
	if cfg.Storage.Backend != StorageSQLite || cfg.Schedule.Process != "@every 10s" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Storage, cfg.Schedule)
	}
	id, err := cfg.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.Mode != alerting.ModeAudible || id.DeviceID != "btn-001" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "button.yaml")
	yamlDoc := `
device:
  room_id: room-from-yaml
  mode: lockdown
rate_limit:
  enabled: true
  max_alerts: 5
  window: 30s
  cooldown: 2m
  min_interval: 500ms
storage:
  backend: memory
transport:
  kinds: [webhook, mqtt]
  webhook_url: https://gw.local
  webhook_secret: hook
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("BUTTON_CONFIG", path)
	t.Setenv("RATE_LIMIT_MAX_ALERTS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimit.MaxAlerts != 7 || cfg.RateLimit.Window != 30*time.Second || cfg.RateLimit.MinInterval != 500*time.Millisecond {
		t.Fatalf("unexpected rate limit %+v", cfg.RateLimit)
	}
	// ROOM_ID from the environment wins over the file.
	if cfg.Device.RoomID != "room-101" || cfg.Device.Mode != "lockdown" {
		t.Fatalf("unexpected device %+v", cfg.Device)
	}
	if strings.Join(cfg.Transport.Kinds, ",") != "webhook,mqtt" || cfg.Storage.Backend != StorageMemory {
		t.Fatalf("unexpected transport/storage %+v %+v", cfg.Transport, cfg.Storage)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "floppy"
	cfg.Transport.Kinds = []string{"carrier-pigeon"}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"device: empty", "floppy", "carrier-pigeon", "AUTH_JWT_SECRET"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("BUTTON_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

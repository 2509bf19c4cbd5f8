// Package config loads the button agent configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	device "safesignal-button/internal/device/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageEtcd     = "etcd"
)

// Transport kinds.
const (
	TransportMQTT      = "mqtt"
	TransportWebhook   = "webhook"
	TransportWebsocket = "websocket"
)

// Config is the full agent configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Queue     QueueConfig     `yaml:"queue"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Transport TransportConfig `yaml:"transport"`
	HTTP      HTTPConfig      `yaml:"http"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Log       LogConfig       `yaml:"log"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// DeviceConfig identifies the button.
type DeviceConfig struct {
	ID              string        `yaml:"id"`
	TenantID        string        `yaml:"tenant_id"`
	BuildingID      string        `yaml:"building_id"`
	RoomID          string        `yaml:"room_id"`
	Mode            string        `yaml:"mode"`
	FirmwareVersion string        `yaml:"firmware_version"`
	Debounce        time.Duration `yaml:"debounce"`
}

// QueueConfig configures the alert queue.
type QueueConfig struct {
	Namespace string `yaml:"namespace"`
}

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAlerts   int           `yaml:"max_alerts"`
	Window      time.Duration `yaml:"window"`
	Cooldown    time.Duration `yaml:"cooldown"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// StorageConfig selects the durable KV backend.
type StorageConfig struct {
	Backend       string   `yaml:"backend"`
	SQLitePath    string   `yaml:"sqlite_path"`
	PostgresDSN   string   `yaml:"postgres_dsn"`
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
	EtcdPrefix    string   `yaml:"etcd_prefix"`
}

// TransportConfig configures delivery channels. Kinds are tried in order.
type TransportConfig struct {
	Kinds []string `yaml:"kinds"`

	MQTTBroker    string `yaml:"mqtt_broker"`
	MQTTUsername  string `yaml:"mqtt_username"`
	MQTTPassword  string `yaml:"mqtt_password"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	WebsocketURL  string `yaml:"websocket_url"`
	DeviceSecret  string `yaml:"device_secret"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	Reconnect      time.Duration `yaml:"reconnect"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// HTTPConfig configures the local API.
type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	IngestSecret  string        `yaml:"ingest_secret"`
	IngestMaxSkew time.Duration `yaml:"ingest_max_skew"`
}

// ScheduleConfig holds cron specs for background jobs.
type ScheduleConfig struct {
	Process   string `yaml:"process"`
	Cleanup   string `yaml:"cleanup"`
	Status    string `yaml:"status"`
	Heartbeat string `yaml:"heartbeat"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Mode:            "audible",
			FirmwareVersion: device.FirmwareVersion,
			Debounce:        50 * time.Millisecond,
		},
		Queue: QueueConfig{Namespace: "alert_queue"},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			MaxAlerts:   10,
			Window:      60 * time.Second,
			Cooldown:    300 * time.Second,
			MinInterval: 2000 * time.Millisecond,
		},
		Storage: StorageConfig{
			Backend:    StorageSQLite,
			SQLitePath: "var/button.db",
			EtcdPrefix: "safesignal",
		},
		Transport: TransportConfig{
			Kinds:          []string{TransportMQTT},
			KeepAlive:      30 * time.Second,
			Reconnect:      5 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:          ":8080",
			IngestMaxSkew: 300 * time.Second,
		},
		Schedule: ScheduleConfig{
			Process:   "@every 10s",
			Cleanup:   "@every 60s",
			Status:    "@every 60s",
			Heartbeat: "@every 30s",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Sentry: SentryConfig{
			Environment: "production",
			Release:     "safesignal-button@" + device.FirmwareVersion,
		},
	}
}

// Load reads .env (if present), the YAML file named by BUTTON_CONFIG, then environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("BUTTON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Device.ID = getenvDefault("DEVICE_ID", cfg.Device.ID)
	cfg.Device.TenantID = getenvDefault("TENANT_ID", cfg.Device.TenantID)
	cfg.Device.BuildingID = getenvDefault("BUILDING_ID", cfg.Device.BuildingID)
	cfg.Device.RoomID = getenvDefault("ROOM_ID", cfg.Device.RoomID)
	cfg.Device.Mode = getenvDefault("ALERT_MODE", cfg.Device.Mode)
	cfg.Device.Debounce = getenvDuration("BUTTON_DEBOUNCE", cfg.Device.Debounce)

	cfg.Queue.Namespace = getenvDefault("QUEUE_NAMESPACE", cfg.Queue.Namespace)

	cfg.RateLimit.Enabled = getenvBool("RATE_LIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.MaxAlerts = getenvIntDefault("RATE_LIMIT_MAX_ALERTS", cfg.RateLimit.MaxAlerts)
	cfg.RateLimit.Window = getenvDuration("RATE_LIMIT_WINDOW", cfg.RateLimit.Window)
	cfg.RateLimit.Cooldown = getenvDuration("RATE_LIMIT_COOLDOWN", cfg.RateLimit.Cooldown)
	cfg.RateLimit.MinInterval = getenvDuration("RATE_LIMIT_MIN_INTERVAL", cfg.RateLimit.MinInterval)

	cfg.Storage.Backend = getenvDefault("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.SQLitePath = getenvDefault("SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.Storage.PostgresDSN))
	if endpoints := splitCSV(os.Getenv("ETCD_ENDPOINTS")); len(endpoints) > 0 {
		cfg.Storage.EtcdEndpoints = endpoints
	}
	cfg.Storage.EtcdPrefix = getenvDefault("ETCD_PREFIX", cfg.Storage.EtcdPrefix)

	if kinds := splitCSV(os.Getenv("TRANSPORTS")); len(kinds) > 0 {
		cfg.Transport.Kinds = kinds
	}
	cfg.Transport.MQTTBroker = getenvDefault("MQTT_BROKER", cfg.Transport.MQTTBroker)
	cfg.Transport.MQTTUsername = getenvDefault("MQTT_USERNAME", cfg.Transport.MQTTUsername)
	cfg.Transport.MQTTPassword = getenvDefault("MQTT_PASSWORD", cfg.Transport.MQTTPassword)
	cfg.Transport.WebhookURL = getenvDefault("WEBHOOK_URL", cfg.Transport.WebhookURL)
	cfg.Transport.WebhookSecret = getenvDefault("WEBHOOK_SECRET", cfg.Transport.WebhookSecret)
	cfg.Transport.WebsocketURL = getenvDefault("WEBSOCKET_URL", cfg.Transport.WebsocketURL)
	cfg.Transport.DeviceSecret = getenvDefault("DEVICE_JWT_SECRET", cfg.Transport.DeviceSecret)
	cfg.Transport.PublishTimeout = getenvDuration("PUBLISH_TIMEOUT", cfg.Transport.PublishTimeout)

	cfg.HTTP.Addr = getenvDefault("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.HTTP.JWTSecret))
	cfg.HTTP.IngestSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.HTTP.IngestSecret)
	if seconds := getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 0); seconds > 0 {
		cfg.HTTP.IngestMaxSkew = time.Duration(seconds) * time.Second
	}

	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)

	cfg.Sentry.DSN = getenvDefault("SENTRY_DSN", cfg.Sentry.DSN)
	cfg.Sentry.Environment = getenvDefault("SENTRY_ENVIRONMENT", cfg.Sentry.Environment)
	cfg.Sentry.Release = getenvDefault("SENTRY_RELEASE", cfg.Sentry.Release)
}

// Validate checks the configuration for values the agent cannot run with.
func (c Config) Validate() error {
	var errs []error
	if _, err := c.Identity(); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.MaxAlerts <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.Cooldown < 0 || c.RateLimit.MinInterval < 0 {
		errs = append(errs, errors.New("config: invalid rate_limit values"))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("config: storage.sqlite_path required"))
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("config: DATABASE_URL or PG_DSN is required for postgres storage"))
		}
	case StorageEtcd:
		if len(c.Storage.EtcdEndpoints) == 0 {
			errs = append(errs, errors.New("config: ETCD_ENDPOINTS is required for etcd storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend))
	}

	if len(c.Transport.Kinds) == 0 {
		errs = append(errs, errors.New("config: at least one transport is required"))
	}
	for _, kind := range c.Transport.Kinds {
		switch kind {
		case TransportMQTT:
			if c.Transport.MQTTBroker == "" {
				errs = append(errs, errors.New("config: MQTT_BROKER is required"))
			}
		case TransportWebhook:
			if c.Transport.WebhookURL == "" || c.Transport.WebhookSecret == "" {
				errs = append(errs, errors.New("config: WEBHOOK_URL and WEBHOOK_SECRET are required"))
			}
		case TransportWebsocket:
			if c.Transport.WebsocketURL == "" || c.Transport.DeviceSecret == "" {
				errs = append(errs, errors.New("config: WEBSOCKET_URL and DEVICE_JWT_SECRET are required"))
			}
		default:
			errs = append(errs, fmt.Errorf("config: unknown transport %q", kind))
		}
	}
	if c.HTTP.Addr != "" && c.HTTP.JWTSecret == "" {
		errs = append(errs, errors.New("config: AUTH_JWT_SECRET is required when the HTTP API is enabled"))
	}
	return errors.Join(errs...)
}

// Identity converts the device section into a validated identity.
func (c Config) Identity() (device.Identity, error) {
	mode, err := alerting.ParseMode(c.Device.Mode)
	if err != nil {
		return device.Identity{}, fmt.Errorf("config: %w", err)
	}
	id := device.Identity{
		DeviceID:        c.Device.ID,
		TenantID:        c.Device.TenantID,
		BuildingID:      c.Device.BuildingID,
		RoomID:          c.Device.RoomID,
		Mode:            mode,
		FirmwareVersion: c.Device.FirmwareVersion,
	}
	if err := id.Validate(); err != nil {
		return device.Identity{}, fmt.Errorf("config: %w", err)
	}
	return id, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

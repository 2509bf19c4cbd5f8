package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	alertapp "safesignal-button/internal/alerting/application"
	"safesignal-button/internal/audit"
	"safesignal-button/internal/auth"
	"safesignal-button/internal/clock"
	"safesignal-button/internal/config"
	deviceapp "safesignal-button/internal/device/application"
	device "safesignal-button/internal/device/domain"
	devicehttp "safesignal-button/internal/device/interfaces/http"
	"safesignal-button/internal/kvstore"
	kvetcd "safesignal-button/internal/kvstore/etcd"
	kvmemory "safesignal-button/internal/kvstore/memory"
	kvpostgres "safesignal-button/internal/kvstore/postgres"
	kvsqlite "safesignal-button/internal/kvstore/sqlite"
	"safesignal-button/internal/observability/logging"
	"safesignal-button/internal/observability/metrics"
	sentryutil "safesignal-button/internal/observability/sentry"
	"safesignal-button/internal/ratelimit"
	"safesignal-button/internal/transport"
	mqtttransport "safesignal-button/internal/transport/mqtt"
	"safesignal-button/internal/transport/webhook"
	"safesignal-button/internal/transport/websocket"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	identity, err := cfg.Identity()
	if err != nil {
		logger.Fatal("device identity error", zap.Error(err))
	}
	logger = logger.With(zap.String("device_id", identity.DeviceID), zap.String("tenant_id", identity.TenantID))

	if sentryutil.Init(sentryutil.Options{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Sentry.Release,
		DeviceID:    identity.DeviceID,
		TenantID:    identity.TenantID,
	}, logger) && cfg.Sentry.DSN != "" {
		logger = logging.WithErrorHook(logger, sentryutil.LogHook)
	}
	defer sentryutil.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, db, err := openBackend(ctx, cfg.Storage, identity.DeviceID)
	if err != nil {
		logger.Fatal("storage backend error", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	store := kvstore.NewStore(backend)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()
	logger.Info("storage ready", zap.String("backend", cfg.Storage.Backend))

	uptime := clock.NewSystem()
	wall := clock.SystemWall{}

	transports, closeTransports := buildTransports(ctx, cfg.Transport, identity, logger)
	defer closeTransports()
	failover := transport.NewFailover(transports...)

	queue, err := alertapp.NewQueue(store, failover, uptime,
		alertapp.WithNamespace(cfg.Queue.Namespace),
		alertapp.WithLogger(logger.Named("queue")),
	)
	if err != nil {
		logger.Fatal("alert queue error", zap.Error(err))
	}
	if err := queue.Init(ctx); err != nil {
		logger.Fatal("alert queue init error", zap.Error(err))
	}
	metrics.Init(func() float64 { return float64(queue.Count()) })

	limiter, err := ratelimit.New(ratelimit.Config{
		Enabled:     cfg.RateLimit.Enabled,
		MaxAlerts:   cfg.RateLimit.MaxAlerts,
		Window:      cfg.RateLimit.Window,
		Cooldown:    cfg.RateLimit.Cooldown,
		MinInterval: cfg.RateLimit.MinInterval,
	}, uptime, ratelimit.WithLogger(logger.Named("ratelimit")))
	if err != nil {
		logger.Fatal("rate limiter error", zap.Error(err))
	}

	sequence, err := deviceapp.NewSequence(store, logger.Named("sequence"))
	if err != nil {
		logger.Fatal("sequence error", zap.Error(err))
	}

	keeper, err := deviceapp.NewHousekeeper(identity, queue, limiter, failover, uptime, wall, deviceapp.Schedules{
		Process:   cfg.Schedule.Process,
		Cleanup:   cfg.Schedule.Cleanup,
		Status:    cfg.Schedule.Status,
		Heartbeat: cfg.Schedule.Heartbeat,
	}, logger.Named("housekeeper"))
	if err != nil {
		logger.Fatal("housekeeper error", zap.Error(err))
	}

	trigger, err := deviceapp.NewTrigger(identity, sequence, queue, limiter, uptime, wall,
		deviceapp.WithTriggerLogger(logger.Named("trigger")),
		deviceapp.WithKick(keeper.Kick),
		deviceapp.WithDirectDelivery(failover),
	)
	if err != nil {
		logger.Fatal("trigger error", zap.Error(err))
	}

	if err := keeper.Start(ctx); err != nil {
		logger.Fatal("housekeeper start error", zap.Error(err))
	}
	defer keeper.Stop()

	button := deviceapp.NewButton(uptime, cfg.Device.Debounce)
	go trigger.Run(ctx, button.Events())
	go watchButtonSignal(ctx, button, logger)

	var auditLogger audit.Logger = audit.NewZapLogger(logger.Named("audit"))
	if db != nil {
		repo := audit.NewRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Warn("audit schema error, falling back to log", zap.Error(err))
		} else {
			auditLogger = repo
		}
	}

	if cfg.HTTP.Addr == "" {
		logger.Info("http api disabled")
		<-ctx.Done()
		return
	}

	handler, err := devicehttp.NewHandler(trigger, queue, limiter, keeper, failover, auditLogger, logger.Named("http"))
	if err != nil {
		logger.Fatal("device handler error", zap.Error(err))
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/api/v1/button/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.HTTP.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.HTTP.IngestSecret), cfg.HTTP.IngestMaxSkew)

	mux := http.NewServeMux()
	handler.Register(mux, ingestAuth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	logger.Info("shutting down", zap.Uint32("pending", queue.Count()))
}

// openBackend returns the configured KV backend and, for postgres, the shared database handle.
func openBackend(ctx context.Context, cfg config.StorageConfig, deviceID string) (kvstore.Backend, *sql.DB, error) {
	switch cfg.Backend {
	case config.StorageMemory:
		return kvmemory.NewBackend(), nil, nil
	case config.StorageSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		backend, err := kvsqlite.Open(cfg.SQLitePath)
		return backend, nil, err
	case config.StoragePostgres:
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db open error: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("db ping error: %w", err)
		}
		backend := kvpostgres.NewBackend(db, kvpostgres.WithDeviceID(deviceID))
		if err := backend.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return backend, db, nil
	case config.StorageEtcd:
		backend, err := kvetcd.Dial(cfg.EtcdEndpoints, cfg.EtcdPrefix)
		return backend, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildTransports constructs the configured transports in failover order.
// Construction failures are logged and the transport skipped; the queue holds alerts until one connects.
func buildTransports(ctx context.Context, cfg config.TransportConfig, identity device.Identity, logger *zap.Logger) ([]transport.Transport, func()) {
	var out []transport.Transport
	var closers []func()
	for _, kind := range cfg.Kinds {
		switch kind {
		case config.TransportMQTT:
			t, err := mqtttransport.New(mqtttransport.Config{
				BrokerURL:      cfg.MQTTBroker,
				ClientID:       identity.DeviceID,
				Username:       cfg.MQTTUsername,
				Password:       cfg.MQTTPassword,
				TenantID:       identity.TenantID,
				BuildingID:     identity.BuildingID,
				KeepAlive:      cfg.KeepAlive,
				Reconnect:      cfg.Reconnect,
				PublishTimeout: cfg.PublishTimeout,
			}, logger.Named("mqtt"))
			if err != nil {
				logger.Error("mqtt transport error", zap.Error(err))
				continue
			}
			if err := t.Connect(ctx); err != nil {
				logger.Warn("mqtt connect failed, retrying in background", zap.Error(err))
			}
			out = append(out, t)
			closers = append(closers, t.Close)
		case config.TransportWebhook:
			t, err := webhook.New(cfg.WebhookURL, []byte(cfg.WebhookSecret), webhook.WithLogger(logger.Named("webhook")))
			if err != nil {
				logger.Error("webhook transport error", zap.Error(err))
				continue
			}
			out = append(out, t)
		case config.TransportWebsocket:
			c, err := websocket.NewClient(websocket.Config{
				ServerURL:      cfg.WebsocketURL,
				DeviceID:       identity.DeviceID,
				TenantID:       identity.TenantID,
				Secret:         []byte(cfg.DeviceSecret),
				ReconnectDelay: cfg.Reconnect,
			}, logger.Named("websocket"))
			if err != nil {
				logger.Error("websocket transport error", zap.Error(err))
				continue
			}
			go func() {
				if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("websocket client stopped", zap.Error(err))
				}
			}()
			out = append(out, c)
		default:
			logger.Warn("unknown transport", zap.String("kind", kind))
		}
	}
	return out, func() {
		for _, c := range closers {
			c()
		}
	}
}

// watchButtonSignal turns SIGUSR1 into a button press for bench testing without GPIO.
func watchButtonSignal(ctx context.Context, button *deviceapp.Button, logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	defer signal.Stop(sig)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if !button.Press() {
				logger.Debug("button press debounced")
			}
		}
	}
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

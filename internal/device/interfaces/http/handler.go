package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	alerting "safesignal-button/internal/alerting/domain"
	"safesignal-button/internal/audit"
	"safesignal-button/internal/auth"
	device "safesignal-button/internal/device/domain"
	"safesignal-button/internal/ratelimit"
	"safesignal-button/internal/transport"

	"go.uber.org/zap"
)

// Trigger raises alerts.
type Trigger interface {
	FireMode(ctx context.Context, mode alerting.Mode) device.Outcome
	Identity() device.Identity
}

// Queue exposes queue state and manual passes.
type Queue interface {
	Stats() (alerting.QueueStats, error)
	Slots(ctx context.Context) (alerting.Arena, error)
	Process(ctx context.Context) int
	CleanupExpired(ctx context.Context) int
}

// Limiter exposes limiter state and reset.
type Limiter interface {
	Status() ratelimit.Status
	Reset()
}

// Connectivity reports per-transport connectivity.
type Connectivity interface {
	Connectivity() map[string]bool
}

// StatusSource assembles the periodic device status.
type StatusSource interface {
	Status() transport.DeviceStatus
}

// Handler provides the device's local HTTP endpoints.
type Handler struct {
	trigger      Trigger
	queue        Queue
	limiter      Limiter
	status       StatusSource
	connectivity Connectivity
	auditLogger  audit.Logger
	logger       *zap.Logger
}

// NewHandler constructs a handler. connectivity and auditLogger may be nil.
func NewHandler(trigger Trigger, queue Queue, limiter Limiter, status StatusSource, connectivity Connectivity, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if trigger == nil {
		return nil, errors.New("device handler: nil trigger")
	}
	if queue == nil {
		return nil, errors.New("device handler: nil queue")
	}
	if limiter == nil {
		return nil, errors.New("device handler: nil limiter")
	}
	if status == nil {
		return nil, errors.New("device handler: nil status source")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		trigger:      trigger,
		queue:        queue,
		limiter:      limiter,
		status:       status,
		connectivity: connectivity,
		auditLogger:  auditLogger,
		logger:       logger,
	}, nil
}

// Register mounts the routes on mux. press is wrapped by the ingest signature check.
func (h *Handler) Register(mux *http.ServeMux, ingest *auth.IngestAuthMiddleware) {
	mux.Handle("/status", http.HandlerFunc(h.handleStatus))
	mux.Handle("/api/v1/button/press", ingest.Wrap(http.HandlerFunc(h.handlePress)))
	mux.Handle("/api/v1/diagnostics/", http.HandlerFunc(h.handleDiagnostics))
}

type pendingAlert struct {
	Slot            int    `json:"slot"`
	AlertKey        string `json:"alertKey"`
	RetryCount      uint32 `json:"retryCount"`
	CreatedAtUptime uint32 `json:"createdAtUptime"`
	Mode            string `json:"mode"`
}

type statusResponse struct {
	transport.DeviceStatus
	Pending    []pendingAlert   `json:"pending"`
	RateLimit  ratelimit.Status `json:"rateLimit"`
	Transports map[string]bool  `json:"transports,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp, err := h.snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) snapshot(ctx context.Context) (statusResponse, error) {
	resp := statusResponse{
		DeviceStatus: h.status.Status(),
		Pending:      []pendingAlert{},
		RateLimit:    h.limiter.Status(),
	}
	if h.connectivity != nil {
		resp.Transports = h.connectivity.Connectivity()
	}
	arena, err := h.queue.Slots(ctx)
	if err != nil {
		return resp, err
	}
	for _, i := range arena.Occupied() {
		rec := arena[i].Record
		resp.Pending = append(resp.Pending, pendingAlert{
			Slot:            i,
			AlertKey:        transport.AlertKey(rec),
			RetryCount:      rec.RetryCount,
			CreatedAtUptime: rec.CreatedAtUptime,
			Mode:            rec.Mode.String(),
		})
	}
	return resp, nil
}

type pressRequest struct {
	Mode string `json:"mode"`
}

func (h *Handler) handlePress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	mode := h.trigger.Identity().Mode
	if len(strings.TrimSpace(string(body))) > 0 {
		var req pressRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Mode != "" {
			if mode, err = alerting.ParseMode(req.Mode); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
	}

	out := h.trigger.FireMode(r.Context(), mode)
	h.logger.Info("remote press", zap.String("reason", string(out.Reason)), zap.String("ip", audit.ClientIP(r)))
	writeJSON(w, pressStatus(out), out)
}

func pressStatus(out device.Outcome) int {
	switch out.Reason {
	case device.ReasonQueued, device.ReasonDirect:
		return http.StatusAccepted
	case device.ReasonMinInterval, device.ReasonRateLimited:
		return http.StatusTooManyRequests
	case device.ReasonInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/v1/diagnostics/")
	if r.Method == http.MethodGet {
		h.handleReport(w, r, action)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var result map[string]any
	switch action {
	case "ratelimit/reset":
		h.limiter.Reset()
		result = map[string]any{"rateLimit": h.limiter.Status()}
	case "queue/process":
		result = map[string]any{"delivered": h.queue.Process(r.Context())}
	case "queue/cleanup":
		result = map[string]any{"removed": h.queue.CleanupExpired(r.Context())}
	default:
		http.NotFound(w, r)
		return
	}
	h.logAudit(r, strings.ReplaceAll(action, "/", "."), result)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request, name string) {
	var build func(maintenanceReport) ([]byte, error)
	var contentType string
	switch name {
	case "report.pdf":
		build, contentType = buildReportPDF, "application/pdf"
	case "report.xlsx":
		build, contentType = buildReportXLSX, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		http.NotFound(w, r)
		return
	}
	snap, err := h.snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	data, err := build(maintenanceReport{
		Status:      snap.DeviceStatus,
		RateLimit:   snap.RateLimit,
		Pending:     snap.Pending,
		Transports:  snap.Transports,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("report render failed", zap.String("report", name), zap.Error(err))
		http.Error(w, "report render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", snap.DeviceID+"-"+name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) logAudit(r *http.Request, action string, result map[string]any) {
	if h.auditLogger == nil {
		return
	}
	identity := h.trigger.Identity()
	meta, _ := json.Marshal(result)
	caller, _ := auth.IdentityFromContext(r.Context())
	tenantID := caller.TenantID
	if tenantID == "" {
		tenantID = identity.TenantID
	}
	err := h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:  tenantID,
		DeviceID:  identity.DeviceID,
		Actor:     caller.Subject,
		Role:      string(caller.Role),
		Action:    action,
		Metadata:  meta,
		IP:        audit.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

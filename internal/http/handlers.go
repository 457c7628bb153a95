package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/observability"
	"github.com/kjstillabower/drone/internal/traffic"
	"github.com/kjstillabower/drone/internal/validation"
)

// maxBodyBytes caps POST /converse bodies.
const maxBodyBytes = 16 << 10

// Responder produces the assistant's reply to one utterance.
type Responder interface {
	Respond(ctx context.Context, text string) (string, error)
}

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	BotName          string
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// CachePing, when set, reports location cache reachability.
	CachePing func(ctx context.Context) error
}

// Handler serves the HTTP I/O mode.
type Handler struct {
	assistant    Responder
	healthConfig *HealthConfig
	logger       *zap.Logger
	shuttingDown atomic.Bool

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

func NewHandler(assistant Responder, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{assistant: assistant, healthConfig: healthConfig, logger: logger}
}

// SetShuttingDown flips /health to shutting-down so load balancers stop routing here.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type converseRequest struct {
	Text string `json:"text"`
}

type converseResponse struct {
	Reply     string `json:"reply"`
	RequestID string `json:"requestId,omitempty"`
}

// PostConverse handles POST /converse.
func (h *Handler) PostConverse(w http.ResponseWriter, r *http.Request) {
	var body converseRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "body must be a JSON object with a text field")
		return
	}
	text, err := validation.ValidateUtterance(body.Text)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_TEXT", err.Error())
		return
	}

	reply, err := h.assistant.Respond(r.Context(), text)
	if err != nil {
		status, code := http.StatusServiceUnavailable, "UNAVAILABLE"
		if errors.Is(err, context.DeadlineExceeded) {
			status, code = http.StatusGatewayTimeout, "TIMEOUT"
		}
		observability.LoggerFromContext(r.Context(), h.logger).Debug("turn aborted", zap.Error(err))
		writeError(w, r, status, code, "the assistant could not answer in time")
		return
	}
	writeJSON(w, http.StatusOK, converseResponse{Reply: reply, RequestID: observability.CorrelationID(r.Context())})
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"assistant": "healthy"}
	if result.status == "degraded" {
		checks["assistant"] = "unhealthy"
	}
	name := "drone"
	if h.healthConfig != nil {
		if h.healthConfig.BotName != "" {
			name = h.healthConfig.BotName
		}
		if h.healthConfig.CachePing != nil {
			checks["cache"] = "healthy"
			if err := h.healthConfig.CachePing(r.Context()); err != nil {
				checks["cache"] = "unhealthy"
			}
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"assistant": name,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates shutting-down, then the apology rate over the degraded window.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		apologies, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 && apologies*100 >= h.healthConfig.DegradedErrorPct*total {
			return healthResult{"degraded", http.StatusServiceUnavailable, "apology_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": {code, message, requestId}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

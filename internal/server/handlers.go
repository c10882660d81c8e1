package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/service/workers"
)

// sseKeepalive is how often an idle event stream receives a comment line.
const sseKeepalive = 15 * time.Second

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	workers             *workers.Service
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Broker.
type HandlersDeps struct {
	Workers             *workers.Service
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		workers:             d.Workers,
		broker:              d.Broker,
		logger:              logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleEvents handles GET /v1/events (SSE).
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "event stream not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	runtimeStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.workers.Ping(r.Context()); err != nil {
		runtimeStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		h.logger.Warn("health: runtime ping failed", "error", err)
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:  status,
		Runtime: runtimeStatus,
		Workers: h.workers.Count(),
		Version: h.version,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	})
}

// writeServiceError maps an orchestrator error onto the HTTP error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, code := statusForError(err)
	if status >= 500 {
		logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeError(w, r, status, code, err.Error())
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, workers.ErrValidation):
		return http.StatusBadRequest, model.ErrCodeInvalidInput
	case errors.Is(err, workers.ErrNotFound):
		return http.StatusNotFound, model.ErrCodeNotFound
	case errors.Is(err, workers.ErrConflict):
		return http.StatusConflict, model.ErrCodeConflict
	case errors.Is(err, workers.ErrTimeout):
		return http.StatusGatewayTimeout, model.ErrCodeTimeout
	case errors.Is(err, workers.ErrRuntimeUnavailable):
		return http.StatusInternalServerError, model.ErrCodeRuntimeUnavailable
	default:
		return http.StatusInternalServerError, model.ErrCodeInternalError
	}
}

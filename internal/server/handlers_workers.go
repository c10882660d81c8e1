package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/service/workers"
)

// maxLogTail caps the tail query parameter on the logs endpoint.
const maxLogTail = 10000

// HandleListWorkers handles GET /v1/workers.
func (h *Handlers) HandleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.workers.List(r.Context()))
}

// HandleCreateWorker handles POST /v1/workers.
func (h *Handlers) HandleCreateWorker(w http.ResponseWriter, r *http.Request) {
	var req model.CreateWorkerRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	wk, err := h.workers.Create(r.Context(), req.Name, req.Kind, req.Config)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, wk)
}

// HandleGetWorker handles GET /v1/workers/{name}.
func (h *Handlers) HandleGetWorker(w http.ResponseWriter, r *http.Request) {
	wk, err := h.workers.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, wk)
}

// HandleRemoveWorker handles DELETE /v1/workers/{name}. Removing an unknown
// worker succeeds.
func (h *Handlers) HandleRemoveWorker(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.workers.Remove(r.Context(), name); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ActionResponse{Message: "worker " + name + " removed"})
}

// HandleStartWorker handles POST /v1/workers/{name}/start.
func (h *Handlers) HandleStartWorker(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, "started", h.workers.Start)
}

// HandleStopWorker handles POST /v1/workers/{name}/stop.
func (h *Handlers) HandleStopWorker(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, "stopped", h.workers.Stop)
}

// HandleRestartWorker handles POST /v1/workers/{name}/restart.
func (h *Handlers) HandleRestartWorker(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, "restarted", h.workers.Restart)
}

func (h *Handlers) handleAction(w http.ResponseWriter, r *http.Request, verb string,
	op func(context.Context, string) (model.Worker, error)) {
	name := r.PathValue("name")
	wk, err := op(r.Context(), name)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.ActionResponse{
		Message: "worker " + name + " " + verb,
		Worker:  &wk,
	})
}

// HandleWorkerLogs handles GET /v1/workers/{name}/logs?tail=N.
func (h *Handlers) HandleWorkerLogs(w http.ResponseWriter, r *http.Request) {
	tail := workers.DefaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxLogTail {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"tail must be an integer between 1 and "+strconv.Itoa(maxLogTail))
			return
		}
		tail = n
	}

	rc, err := h.workers.Logs(r.Context(), r.PathValue("name"), tail)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("logs: stream interrupted", "name", r.PathValue("name"), "error", err)
	}
}

// handleDecodeError writes a 400 (or 413 for an oversized body) for a bad request body.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput,
			"request body exceeds "+strconv.FormatInt(maxErr.Limit, 10)+" bytes")
		return
	}
	writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body: "+err.Error())
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/podushkina/sarflow/internal/log"
	"github.com/podushkina/sarflow/internal/orchestrator"
	"github.com/podushkina/sarflow/internal/task"
	"github.com/podushkina/sarflow/internal/worker"
)

const (
	defaultLogLimit = 100
	maxLogLimit     = 1000
)

// Service is the orchestrator surface the handlers need.
type Service interface {
	StartProcessing(spec task.JobSpec) (string, error)
	Status(ctx context.Context, id string) (*task.Task, error)
	Logs(id string, offset, limit int) (task.LogPage, error)
	Cancel(id string) bool
	List() []task.Summary
	Stats() map[task.Status]int
	SearchScenes(ctx context.Context, spec task.JobSpec) (*orchestrator.ScenePreview, error)
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type StartResponse struct {
	TaskID string `json:"task_id"`
}

type CancelResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	var spec task.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.StartProcessing(spec)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidJob):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, StartResponse{TaskID: id})
}

// GetStatus answers 200 with a null body for unknown ids so pollers of an
// evicted task see "gone" rather than an error. A failing archive lookup
// counts as unknown.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.svc.Status(r.Context(), id)
	if err != nil {
		log.GetLogger().WithField("task_id", id).Errorf("Status lookup failed: %v", err)
		t = nil
	}

	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", defaultLogLimit)
	if err != nil || limit < 0 {
		respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	page, err := h.svc.Logs(id, offset, limit)
	if errors.Is(err, orchestrator.ErrNotFound) {
		page = task.LogPage{Entries: []task.LogEntry{}}
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *Handler) CancelProcessing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	respondJSON(w, http.StatusOK, CancelResponse{Success: h.svc.Cancel(id)})
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.List())
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Stats())
}

// SearchScenes previews the scenes and pair a job would use.
func (h *Handler) SearchScenes(w http.ResponseWriter, r *http.Request) {
	var spec task.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	preview, err := h.svc.SearchScenes(r.Context(), spec)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidJob):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, preview)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

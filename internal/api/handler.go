package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"livewatch/internal/linkage"
	"livewatch/internal/models"
	"livewatch/internal/observability/logging"
	"livewatch/internal/verification"
)

// Engine is the subset of engine.Engine the handlers call.
type Engine interface {
	ResolveActiveInput(ctx context.Context, channelID string) (verification.Result, error)
	Invalidate(ctx context.Context, channelID string)
	InvalidateAll(ctx context.Context)
	Linkage(ctx context.Context, channelID string) (linkage.Graph, error)
	Resources(ctx context.Context, filter linkage.Filter) ([]linkage.Group, error)
}

// HealthCheck checks one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	Engine Engine
	Logger *slog.Logger
	// Checks are reported by /healthz under their map key.
	Checks map[string]HealthCheck
}

func NewHandler(eng Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Engine: eng, Logger: logging.WithComponent(logger, "api"), Checks: map[string]HealthCheck{}}
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	if logger := logging.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return logging.WithContext(r.Context(), h.Logger)
}

func channelID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "channelID"))
	if id == "" {
		return "", errors.New("channel id is required")
	}
	return id, nil
}

// ActiveInput handles GET /v1/channels/{channelID}/active-input.
func (h *Handler) ActiveInput(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, categoryInvalidRequest, err)
		return
	}
	result, err := h.Engine.ResolveActiveInput(r.Context(), id)
	if err != nil {
		h.logFailure(r, "resolve active input", err)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Invalidate handles POST /v1/channels/{channelID}/invalidate. The control
// plane calls it right after starting, stopping or restarting a channel.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, categoryInvalidRequest, err)
		return
	}
	h.Engine.Invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// Linkage handles GET /v1/channels/{channelID}/linkage.
func (h *Handler) Linkage(w http.ResponseWriter, r *http.Request) {
	id, err := channelID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, categoryInvalidRequest, err)
		return
	}
	graph, err := h.Engine.Linkage(r.Context(), id)
	if err != nil {
		h.logFailure(r, "build linkage", err)
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graph)
}

type resourcesResponse struct {
	Groups []linkage.Group `json:"groups"`
	Total  int             `json:"total"`
}

// Resources handles GET /v1/resources?service=&status=&q=.
func (h *Handler) Resources(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	service := models.ServiceType(strings.ToLower(strings.TrimSpace(query.Get("service"))))
	if service != "" && service != "all" && !service.Valid() {
		writeError(w, http.StatusBadRequest, categoryInvalidRequest, fmt.Errorf("unknown service %q", service))
		return
	}
	filter := linkage.Filter{
		Service: service,
		Status:  query.Get("status"),
		Keyword: query.Get("q"),
	}
	groups, err := h.Engine.Resources(r.Context(), filter)
	if err != nil {
		h.logFailure(r, "list resources", err)
		WriteError(w, err)
		return
	}
	if groups == nil {
		groups = []linkage.Group{}
	}
	writeJSON(w, http.StatusOK, resourcesResponse{Groups: groups, Total: len(groups)})
}

// ClearCache handles POST /v1/cache/clear.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.Engine.InvalidateAll(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logFailure(r *http.Request, action string, err error) {
	status, category := classify(err)
	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelInfo
	}
	h.logger(r).Log(r.Context(), level, action+" failed", "category", category, "error", err)
}

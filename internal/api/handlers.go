// Package api exposes the read-only HTTP handlers of trainingbook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/reminator329/trainingbook/internal/auth"
	"github.com/reminator329/trainingbook/internal/entity"
	"github.com/reminator329/trainingbook/internal/graph"
	"github.com/reminator329/trainingbook/internal/store"
	"github.com/reminator329/trainingbook/internal/training"
)

// Records lists the records of a collection.
type Records interface {
	Codec() *graph.Codec
	Snapshot(collection string) ([]entity.Entity, error)
}

// Historian computes result histories.
type Historian interface {
	History(ctx context.Context, platformID string, templateID entity.ID, limit int) (map[entity.ID][]training.HistoryEntry, error)
}

// Handler handles HTTP interactions.
type Handler struct {
	records Records
	history Historian
	logger  *zap.Logger
}

// NewHandler constructs Handler.
func NewHandler(records Records, history Historian, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{records: records, history: history, logger: logger}
}

// RegisterRoutes sets up routes. Authentication is applied around the mux
// by auth.Middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/collections/{name}", h.collection)
	mux.HandleFunc("GET /v1/users/{platformId}/history", h.userHistory)
	mux.HandleFunc("GET /healthz", healthz)
}

// healthz returns an OK response for readiness probes.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	records, err := h.records.Snapshot(name)
	if err != nil {
		if errors.Is(err, store.ErrUnknownCollection) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		h.serverError(w, r, err)
		return
	}

	items := make([]*graph.Document, 0, len(records))
	for _, record := range records {
		doc, err := h.records.Codec().Encode(record)
		if err != nil {
			h.serverError(w, r, err)
			return
		}
		items = append(items, doc)
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": name, "items": items})
}

func (h *Handler) userHistory(w http.ResponseWriter, r *http.Request) {
	template := strings.TrimSpace(r.URL.Query().Get("template"))
	if template == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "template is required")
		return
	}
	limit := training.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	history, err := h.history.History(r.Context(), r.PathValue("platformId"), entity.ID(template), limit)
	if err != nil {
		if errors.Is(err, training.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "user not found")
			return
		}
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template": template, "history": history})
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed",
		zap.String("path", r.URL.Path),
		zap.String("subject", auth.Subject(r.Context())),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "server_error", err.Error())
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"type": code, "detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vidgen/backend/internal/logging"
	"github.com/vidgen/backend/internal/models"
	"github.com/vidgen/backend/internal/repositories"
)

// HistoryStore reads previously recorded generations.
type HistoryStore interface {
	Get(ctx context.Context, id string) (models.GenerationResult, error)
	ListRecent(ctx context.Context, limit int) ([]models.GenerationResult, error)
}

// HistoryHandler serves recorded generations when a database is configured.
type HistoryHandler struct {
	History HistoryStore
}

// List handles GET /api/video-generation/v1/videos?limit=N.
func (h HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.History == nil {
		respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "history is not enabled"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	results, err := h.History.ListRecent(ctx, limit)
	if err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("list generation history")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "Failed to load videos."})
		return
	}

	respondJSON(ctx, w, http.StatusOK, generateResponse{Videos: results})
}

// Get handles GET /api/video-generation/v1/videos/{id}.
func (h HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.History == nil {
		respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "history is not enabled"})
		return
	}

	result, err := h.History.Get(ctx, chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		respondJSON(ctx, w, http.StatusNotFound, errorResponse{Error: "video not found"})
		return
	case err != nil:
		logging.FromContext(ctx).Error().Err(err).Msg("get generation")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "Failed to load videos."})
		return
	}

	respondJSON(ctx, w, http.StatusOK, generateResponse{Videos: []models.GenerationResult{result}})
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/vidgen/backend/internal/logging"
)

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error().Err(err).Int("status", status).Msg("encode response body")
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error().Int("status", status).Interface("response", payload).Msg("request failed")
	case status >= http.StatusBadRequest:
		logger.Warn().Int("status", status).Interface("response", payload).Msg("request returned client error")
	}
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vidgen/backend/internal/generation"
	"github.com/vidgen/backend/internal/logging"
	"github.com/vidgen/backend/internal/models"
)

const (
	// GenerationFailedMessage is the only failure text callers ever see.
	GenerationFailedMessage = "Failed to generate video. Please try again."

	defaultMaxMemory    = 32 << 20
	referenceImageField = "referenceImage"
)

type generateResponse struct {
	Videos []models.GenerationResult `json:"videos"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// GenerationHandler exposes the video generation pipeline over HTTP.
type GenerationHandler struct {
	Generator VideoGenerator
	Limiter   RateLimiter
	// MaxMemory bounds how much of a multipart body is held in memory before
	// spilling to temporary files.
	MaxMemory int64
}

// Create handles POST /api/video-generation/v1/videos.
func (h GenerationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !allowRequest(h.Limiter, r, "generate") {
		respondJSON(ctx, w, http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
		return
	}

	if h.Generator == nil {
		logger.Error().Msg("generation pipeline not configured")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: GenerationFailedMessage})
		return
	}

	raw, err := h.readRequest(r)
	if err != nil {
		logger.Warn().Err(err).Msg("read generation form")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: GenerationFailedMessage})
		return
	}

	// Client disconnects do not abort a generation once it has started.
	result, err := h.Generator.Run(context.WithoutCancel(ctx), raw)
	if err != nil {
		var stageErr *generation.StageError
		event := logger.Error().Err(err)
		if errors.As(err, &stageErr) {
			event = event.Str("stage", string(stageErr.Stage))
		}
		event.Msg("video generation request failed")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: GenerationFailedMessage})
		return
	}

	respondJSON(ctx, w, http.StatusOK, generateResponse{Videos: []models.GenerationResult{result}})
}

// readRequest extracts the form fields as submitted. A body that is not a
// multipart form yields an empty request, which later fails validation.
func (h GenerationHandler) readRequest(r *http.Request) (generation.RawRequest, error) {
	maxMemory := h.MaxMemory
	if maxMemory <= 0 {
		maxMemory = defaultMaxMemory
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return generation.RawRequest{}, fmt.Errorf("parse multipart form: %w", err)
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	raw := generation.RawRequest{
		Prompt:     r.FormValue("prompt"),
		Duration:   r.FormValue("duration"),
		Resolution: r.FormValue("resolution"),
		Audio:      r.FormValue("audio"),
	}

	image, err := readImage(r)
	if err != nil {
		return generation.RawRequest{}, err
	}
	raw.Image = image
	return raw, nil
}

func readImage(r *http.Request) (*generation.ReferenceImage, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	file, header, err := r.FormFile(referenceImageField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", referenceImageField, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", referenceImageField, err)
	}

	return &generation.ReferenceImage{
		Filename:    strings.TrimSpace(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

package handlers

import (
	"context"

	"github.com/vidgen/backend/internal/generation"
	"github.com/vidgen/backend/internal/models"
)

// VideoGenerator runs one generation request end to end.
type VideoGenerator interface {
	Run(ctx context.Context, req generation.RawRequest) (models.GenerationResult, error)
}

package handlers

import (
	"github.com/go-chi/chi/v5"
)

// GenerationPath is the public endpoint accepting generation requests.
const GenerationPath = "/api/video-generation/v1/videos"

// RegisterRoutes wires HTTP handlers into the provided router.
func RegisterRoutes(r chi.Router, deps Dependencies) {
	health := HealthHandler{}
	generate := GenerationHandler{
		Generator: deps.Generator,
		Limiter:   deps.Limiter,
		MaxMemory: deps.MaxMemoryBytes,
	}
	history := HistoryHandler{History: deps.History}

	r.Get("/", health.Root)
	r.Get("/healthz", health.Handle)
	r.Post(GenerationPath, generate.Create)
	r.Get(GenerationPath, history.List)
	r.Get(GenerationPath+"/{id}", history.Get)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Generator      VideoGenerator
	Limiter        RateLimiter
	MaxMemoryBytes int64
	// History is nil when no database is configured.
	History HistoryStore
}

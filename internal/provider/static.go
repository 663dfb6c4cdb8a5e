package provider

import (
	"context"
	"strings"

	"github.com/vidgen/backend/internal/logging"
)

// StaticGenerator skips the remote service and always answers with the same
// video. It keeps the rest of the pipeline exercisable without provider credits.
type StaticGenerator struct {
	URL   string
	Label string
}

// NewStaticGenerator returns a generator answering with videoURL.
func NewStaticGenerator(videoURL, model string) *StaticGenerator {
	return &StaticGenerator{URL: strings.TrimSpace(videoURL), Label: model}
}

// Generate returns the configured URL once ctx allows it.
func (g *StaticGenerator) Generate(ctx context.Context, req VideoRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if g == nil || g.URL == "" {
		return "", ErrNoVideo
	}
	logging.FromContext(ctx).Info().
		Str("video_url", g.URL).
		Int("references", len(req.ReferenceURLs)).
		Msg("static provider returning fixed video")
	return g.URL, nil
}

// Model reports the model identifier recorded on results.
func (g *StaticGenerator) Model() string {
	if g == nil {
		return ""
	}
	return g.Label
}

var _ Generator = (*StaticGenerator)(nil)

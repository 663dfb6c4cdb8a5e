// Package provider turns prompts into finished videos using an external
// generation service. Implementations hide any queueing or polling the
// service needs and only return once a video URL is available.
package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoVideo indicates the provider finished without a usable video URL.
	ErrNoVideo = errors.New("provider returned no video")
	// ErrGenerationFailed indicates the provider reported a terminal failure.
	ErrGenerationFailed = errors.New("provider generation failed")
)

// VideoRequest is the input shape accepted by every generator.
type VideoRequest struct {
	ReferenceURLs []string
	Prompt        string
	Duration      int
	Resolution    int
	GenerateAudio bool
}

// DurationLabel renders the duration as providers expect it, e.g. "8s".
func (r VideoRequest) DurationLabel() string {
	return fmt.Sprintf("%ds", r.Duration)
}

// ResolutionLabel renders the resolution as providers expect it, e.g. "720p".
func (r VideoRequest) ResolutionLabel() string {
	return fmt.Sprintf("%dp", r.Resolution)
}

// Generator produces a video and returns a URL where it can be downloaded.
type Generator interface {
	Generate(ctx context.Context, req VideoRequest) (string, error)
	Model() string
}

package generation

import (
	"fmt"
	"strings"

	"github.com/vidgen/backend/internal/models"
)

const (
	DefaultDuration   = 8
	DefaultResolution = models.ResolutionSD
)

// ReferenceImage is an uploaded image forwarded to the provider as a visual reference.
type ReferenceImage struct {
	Filename    string
	ContentType string
	Data        []byte
}

// RawRequest holds the generation fields exactly as the caller sent them.
// Audio accepts either the submitted text or a decoded boolean.
type RawRequest struct {
	Prompt     string
	Duration   string
	Resolution string
	Audio      any
	Image      *ReferenceImage
}

// Plan is the validated, defaulted form of a request used by every later stage.
type Plan struct {
	Prompt     string
	Duration   int
	Resolution int
	Audio      bool
	Image      *ReferenceImage
}

// Normalize validates the raw request and fills in defaults. It has no side effects.
func Normalize(raw RawRequest) (Plan, error) {
	if strings.TrimSpace(raw.Prompt) == "" {
		return Plan{}, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	return Plan{
		Prompt:     raw.Prompt,
		Duration:   NormalizeDuration(raw.Duration),
		Resolution: NormalizeResolution(raw.Resolution),
		Audio:      NormalizeAudio(raw.Audio),
		Image:      raw.Image,
	}, nil
}

// NormalizeDuration reads the leading integer of value ("8s" is 8). Absent,
// unparsable or non-positive values fall back to DefaultDuration.
func NormalizeDuration(value string) int {
	s := strings.TrimLeft(value, " \t\r\n")
	sign := 1
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}

	n, digits := 0, 0
	for ; digits < len(s) && s[digits] >= '0' && s[digits] <= '9'; digits++ {
		n = n*10 + int(s[digits]-'0')
		if n > 1<<30 {
			break
		}
	}
	if digits == 0 {
		return DefaultDuration
	}

	n *= sign
	if n <= 0 {
		return DefaultDuration
	}
	return n
}

// NormalizeResolution maps any value mentioning 1080 to 1080p; everything else is 720p.
func NormalizeResolution(value string) int {
	if strings.Contains(value, "1080") {
		return models.ResolutionHD
	}
	return DefaultResolution
}

// NormalizeAudio is true only for the literal text "true" or the boolean true.
func NormalizeAudio(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vidgen/backend/internal/logging"
)

const (
	defaultFalBaseURL = "https://queue.fal.run"
	maxErrorBody      = 2048
)

// videoURLPaths lists where fal payloads have been seen to carry the video location.
var videoURLPaths = []string{"video.url", "data.video.url", "output.video.url"}

// FalOptions controls how the fal.ai queue client is configured.
type FalOptions struct {
	APIKey       string
	BaseURL      string
	Model        string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// FalClient submits generation requests to the fal.ai queue and waits for the
// result. Submission, status polling and result retrieval all happen inside
// Generate so callers see a single blocking call.
type FalClient struct {
	apiKey       string
	baseURL      string
	model        string
	pollInterval time.Duration
	httpClient   *http.Client
}

// APIError carries a non-success response from fal.ai. The body is kept for
// operator logs and must not be shown to end users.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// NewFalClient validates opts and returns an authenticated client.
func NewFalClient(opts FalOptions) (*FalClient, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("fal: api key is required")
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		return nil, errors.New("fal: model is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultFalBaseURL
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &FalClient{
		apiKey:       key,
		baseURL:      baseURL,
		model:        model,
		pollInterval: interval,
		httpClient:   client,
	}, nil
}

// Model returns the configured fal model identifier.
func (c *FalClient) Model() string {
	return c.model
}

type falInput struct {
	ImageURLs     []string `json:"image_urls"`
	Prompt        string   `json:"prompt"`
	Duration      string   `json:"duration"`
	Resolution    string   `json:"resolution"`
	GenerateAudio bool     `json:"generate_audio"`
}

type falSubmission struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// Generate submits req, waits for the queue to report completion and returns
// the video URL from the final payload.
func (c *FalClient) Generate(ctx context.Context, req VideoRequest) (string, error) {
	logger := logging.FromContext(ctx)

	refs := req.ReferenceURLs
	if refs == nil {
		refs = []string{}
	}

	var sub falSubmission
	if err := c.doJSON(ctx, "submit", http.MethodPost, c.baseURL+"/"+c.model, falInput{
		ImageURLs:     refs,
		Prompt:        req.Prompt,
		Duration:      req.DurationLabel(),
		Resolution:    req.ResolutionLabel(),
		GenerateAudio: req.GenerateAudio,
	}, &sub); err != nil {
		return "", err
	}
	if sub.RequestID == "" {
		return "", errors.New("fal submit: response missing request_id")
	}
	if sub.StatusURL == "" {
		sub.StatusURL = c.requestURL(sub.RequestID) + "/status"
	}
	if sub.ResponseURL == "" {
		sub.ResponseURL = c.requestURL(sub.RequestID)
	}

	logger.Info().Str("fal_request_id", sub.RequestID).Str("model", c.model).Msg("fal request queued")

	if err := c.waitForCompletion(ctx, sub); err != nil {
		return "", err
	}

	payload, err := c.get(ctx, "result", sub.ResponseURL)
	if err != nil {
		return "", err
	}

	for _, path := range videoURLPaths {
		if url := strings.TrimSpace(gjson.GetBytes(payload, path).String()); url != "" {
			logger.Info().Str("fal_request_id", sub.RequestID).Str("video_url", url).Msg("fal video generated")
			return url, nil
		}
	}

	logger.Error().Str("fal_request_id", sub.RequestID).RawJSON("payload", truncateJSON(payload)).Msg("fal response without video")
	return "", ErrNoVideo
}

func (c *FalClient) waitForCompletion(ctx context.Context, sub falSubmission) error {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		body, err := c.get(ctx, "status", sub.StatusURL)
		if err != nil {
			return err
		}

		status := gjson.GetBytes(body, "status").String()
		if msg := gjson.GetBytes(body, "error").String(); msg != "" {
			return fmt.Errorf("%w: %s", ErrGenerationFailed, msg)
		}

		switch status {
		case "COMPLETED":
			return nil
		case "IN_QUEUE", "IN_PROGRESS":
			evt := logger.Debug().Str("fal_request_id", sub.RequestID).Str("status", status)
			if pos := gjson.GetBytes(body, "queue_position"); pos.Exists() {
				evt = evt.Int64("queue_position", pos.Int())
			}
			evt.Msg("fal request pending")
		default:
			return fmt.Errorf("%w: unexpected status %q", ErrGenerationFailed, status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("fal wait for %s: %w", sub.RequestID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// requestURL builds the queue URL for a request. fal scopes requests to the
// application id, which is the first two segments of the model path.
func (c *FalClient) requestURL(requestID string) string {
	parts := strings.Split(c.model, "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return fmt.Sprintf("%s/%s/requests/%s", c.baseURL, strings.Join(parts, "/"), requestID)
}

func (c *FalClient) doJSON(ctx context.Context, op, method, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("fal %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("fal %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	payload, err := c.do(op, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("fal %s: decode response: %w", op, err)
	}
	return nil
}

func (c *FalClient) get(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fal %s: build request: %w", op, err)
	}
	return c.do(op, req)
}

func (c *FalClient) do(op string, req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fal %s: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fal %s: read response: %w", op, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet := payload
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	return payload, nil
}

func truncateJSON(payload []byte) []byte {
	if len(payload) <= maxErrorBody && json.Valid(payload) {
		return payload
	}
	quoted, _ := json.Marshal(string(payload[:min(len(payload), maxErrorBody)]))
	return quoted
}

var _ Generator = (*FalClient)(nil)

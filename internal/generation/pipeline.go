package generation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vidgen/backend/internal/logging"
	"github.com/vidgen/backend/internal/models"
	"github.com/vidgen/backend/internal/provider"
)

// Stage names a step of the generation state machine.
type Stage string

const (
	StageReceived        Stage = "received"
	StageValidating      Stage = "validating"
	StageImagePersisting Stage = "image_persisting"
	StageGenerating      Stage = "generating"
	StageFetching        Stage = "fetching"
	StagePersisting      Stage = "persisting"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

const videoContentType = "video/mp4"

var (
	errNoVideoURL   = errors.New("provider response has no resolvable video url")
	errEmptyPayload = errors.New("downloaded video is empty")
)

// Storage persists bytes and returns a publicly readable asset.
type Storage interface {
	Store(ctx context.Context, data []byte, filename, contentType, folder string) (models.StoredAsset, error)
}

// Fetcher downloads the full body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HistoryRecorder keeps a record of completed generations.
type HistoryRecorder interface {
	Record(ctx context.Context, result models.GenerationResult) error
}

// Collaborators groups the external services the pipeline talks to.
// History is optional.
type Collaborators struct {
	Storage   Storage
	Generator provider.Generator
	Fetcher   Fetcher
	History   HistoryRecorder
}

// Options bounds external calls and exposes hooks used by tests.
type Options struct {
	StorageTimeout  time.Duration
	ProviderTimeout time.Duration
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration

	// OnStage observes every state transition, including the terminal one.
	OnStage func(Stage)
	Now     func() time.Time
	NewID   func() string
}

// Pipeline turns a generation request into a stored video. It keeps no state
// between runs, so one instance serves concurrent requests.
type Pipeline struct {
	storage   Storage
	generator provider.Generator
	fetcher   Fetcher
	history   HistoryRecorder
	opts      Options
}

// NewPipeline validates the collaborators and fills option defaults.
func NewPipeline(c Collaborators, opts Options) (*Pipeline, error) {
	if c.Storage == nil || c.Generator == nil || c.Fetcher == nil {
		return nil, fmt.Errorf("generation pipeline: missing collaborators (storage=%t generator=%t fetcher=%t)",
			c.Storage != nil, c.Generator != nil, c.Fetcher != nil)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Pipeline{
		storage:   c.Storage,
		generator: c.Generator,
		fetcher:   c.Fetcher,
		history:   c.History,
		opts:      opts,
	}, nil
}

// Run executes every stage in order and returns the finished record. Any
// failure aborts the run and is returned as a *StageError.
func (p *Pipeline) Run(ctx context.Context, raw RawRequest) (models.GenerationResult, error) {
	ctx, span := logging.StartSpan(ctx, "generate_video")
	defer span.End()

	r := &run{pipeline: p, logger: logging.FromContext(ctx)}
	r.enter(StageReceived)

	result, err := r.execute(ctx, raw)
	if err != nil {
		span.Fail(err)
		r.logger.Error().Err(err).Str("failed_stage", string(r.stage)).Msg("video generation failed")
		r.enter(StageFailed)
		return models.GenerationResult{}, err
	}

	r.enter(StageCompleted)
	r.logger.Info().
		Str("video_id", result.ID).
		Str("url", result.URL).
		Int64("size_bytes", result.SizeBytes).
		Msg("video generation completed")

	p.recordHistory(ctx, result)
	return result, nil
}

// run tracks the state of a single pipeline execution.
type run struct {
	pipeline *Pipeline
	logger   *zerolog.Logger
	stage    Stage
}

// enter moves to stage. The last non-terminal stage is kept so failures can
// report where they happened.
func (r *run) enter(stage Stage) {
	r.logger.Debug().Str("from", string(r.stage)).Str("to", string(stage)).Msg("pipeline stage")
	if stage != StageFailed {
		r.stage = stage
	}
	if r.pipeline.opts.OnStage != nil {
		r.pipeline.opts.OnStage(stage)
	}
}

func (r *run) execute(ctx context.Context, raw RawRequest) (models.GenerationResult, error) {
	p := r.pipeline

	r.enter(StageValidating)
	plan, err := Normalize(raw)
	if err != nil {
		return models.GenerationResult{}, stageError(StageValidating, ErrInvalidRequest, err)
	}

	var referenceURL *string
	if plan.Image != nil {
		r.enter(StageImagePersisting)
		asset, err := p.storeImage(ctx, plan.Image)
		if err != nil {
			return models.GenerationResult{}, stageError(StageImagePersisting, ErrStorage, err)
		}
		referenceURL = &asset.URL
	}

	r.enter(StageGenerating)
	videoURL, err := p.generate(ctx, plan, referenceURL)
	if err != nil {
		return models.GenerationResult{}, stageError(StageGenerating, ErrProvider, err)
	}

	r.enter(StageFetching)
	data, err := p.fetch(ctx, videoURL)
	if err != nil {
		return models.GenerationResult{}, stageError(StageFetching, ErrFetch, err)
	}

	r.enter(StagePersisting)
	id := p.opts.NewID()
	now := p.opts.Now()
	asset, err := p.storeVideo(ctx, id, now, data)
	if err != nil {
		return models.GenerationResult{}, stageError(StagePersisting, ErrStorage, err)
	}

	return models.GenerationResult{
		ID:             id,
		Prompt:         plan.Prompt,
		ReferenceImage: referenceURL,
		Duration:       plan.Duration,
		Resolution:     plan.Resolution,
		Audio:          plan.Audio,
		CreatedAt:      now,
		ModelName:      p.generator.Model(),
		SizeBytes:      int64(len(data)),
		Tags:           []string{},
		URL:            asset.URL,
		Downloaded:     true,
		Bookmarked:     false,
		ProjectVideo:   false,
		Verified:       true,
		Source:         models.SourceFal,
		CreatedBy:      models.CreatedByServer,
		Edited:         false,
		Status:         models.StatusGenerated,
	}, nil
}

func (p *Pipeline) storeImage(ctx context.Context, img *ReferenceImage) (models.StoredAsset, error) {
	filename := uniqueName(p.opts.NewID(), img.Filename)
	return callWithRetry(ctx, p.opts.StorageTimeout, p.opts.RetryBackoff, p.retryLogger(ctx, "store image"),
		func(ctx context.Context) (models.StoredAsset, error) {
			return p.storage.Store(ctx, img.Data, filename, img.ContentType, models.FolderImages)
		})
}

func (p *Pipeline) generate(ctx context.Context, plan Plan, referenceURL *string) (string, error) {
	refs := []string{}
	if referenceURL != nil {
		refs = append(refs, *referenceURL)
	}

	videoURL, err := callWithTimeout(ctx, p.opts.ProviderTimeout, func(ctx context.Context) (string, error) {
		return p.generator.Generate(ctx, provider.VideoRequest{
			ReferenceURLs: refs,
			Prompt:        plan.Prompt,
			Duration:      plan.Duration,
			Resolution:    plan.Resolution,
			GenerateAudio: plan.Audio,
		})
	})
	if err != nil {
		return "", err
	}

	videoURL = strings.TrimSpace(videoURL)
	if !resolvable(videoURL) {
		return "", fmt.Errorf("%w: %q", errNoVideoURL, videoURL)
	}
	return videoURL, nil
}

func (p *Pipeline) fetch(ctx context.Context, videoURL string) ([]byte, error) {
	data, err := callWithRetry(ctx, p.opts.FetchTimeout, p.opts.RetryBackoff, p.retryLogger(ctx, "fetch video"),
		func(ctx context.Context) ([]byte, error) {
			return p.fetcher.Fetch(ctx, videoURL)
		})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errEmptyPayload
	}
	return data, nil
}

func (p *Pipeline) storeVideo(ctx context.Context, id string, now time.Time, data []byte) (models.StoredAsset, error) {
	filename := uniqueName(id, fmt.Sprintf("generated-%d.mp4", now.UnixMilli()))
	return callWithRetry(ctx, p.opts.StorageTimeout, p.opts.RetryBackoff, p.retryLogger(ctx, "store video"),
		func(ctx context.Context) (models.StoredAsset, error) {
			return p.storage.Store(ctx, data, filename, videoContentType, models.FolderVideos)
		})
}

func (p *Pipeline) recordHistory(ctx context.Context, result models.GenerationResult) {
	if p.history == nil {
		return
	}
	_, err := callWithTimeout(ctx, 5*time.Second, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.history.Record(ctx, result)
	})
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("video_id", result.ID).Msg("record generation history")
	}
}

func (p *Pipeline) retryLogger(ctx context.Context, op string) func(int, error) {
	return func(attempt int, err error) {
		logging.FromContext(ctx).Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("retrying after transient failure")
	}
}

func uniqueName(token, name string) string {
	if name == "" {
		name = "upload"
	}
	return token + "-" + name
}

func resolvable(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

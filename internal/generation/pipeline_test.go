package generation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vidgen/backend/internal/models"
	"github.com/vidgen/backend/internal/provider"
)

type storeCall struct {
	data        []byte
	filename    string
	contentType string
	folder      string
}

type storageStub struct {
	mu    sync.Mutex
	calls []storeCall
	// errs is consumed one entry per call; nil entries succeed.
	errs []error
}

func (s *storageStub) Store(ctx context.Context, data []byte, filename, contentType, folder string) (models.StoredAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{data: data, filename: filename, contentType: contentType, folder: folder})
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return models.StoredAsset{}, err
		}
	}
	key := folder + "/" + filename
	return models.StoredAsset{
		Key:         key,
		URL:         "https://bucket.example.com/" + key,
		Size:        int64(len(data)),
		ContentType: contentType,
	}, nil
}

type generatorStub struct {
	mu    sync.Mutex
	calls []provider.VideoRequest
	url   string
	err   error
}

func (g *generatorStub) Generate(ctx context.Context, req provider.VideoRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return "", g.err
	}
	return g.url, nil
}

func (g *generatorStub) Model() string { return "test-model" }

type fetcherStub struct {
	mu    sync.Mutex
	calls []string
	data  []byte
	errs  []error
}

func (f *fetcherStub) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.data, nil
}

type historyStub struct {
	records []models.GenerationResult
	err     error
}

func (h *historyStub) Record(ctx context.Context, result models.GenerationResult) error {
	h.records = append(h.records, result)
	return h.err
}

type transientErr struct{ transient bool }

func (e transientErr) Error() string   { return fmt.Sprintf("transient=%t", e.transient) }
func (e transientErr) Transient() bool { return e.transient }

type fixture struct {
	storage   *storageStub
	generator *generatorStub
	fetcher   *fetcherStub
	history   *historyStub
	stages    []Stage
	pipeline  *Pipeline
}

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		storage:   &storageStub{},
		generator: &generatorStub{url: "https://fal.media/files/out.mp4"},
		fetcher:   &fetcherStub{data: []byte("mp4-bytes")},
		history:   &historyStub{},
	}

	ids := 0
	p, err := NewPipeline(Collaborators{
		Storage:   f.storage,
		Generator: f.generator,
		Fetcher:   f.fetcher,
		History:   f.history,
	}, Options{
		OnStage: func(s Stage) { f.stages = append(f.stages, s) },
		Now:     func() time.Time { return fixedNow },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}
	f.pipeline = p
	return f
}

func TestNormalizeDuration(t *testing.T) {
	cases := map[string]int{
		"":      8,
		"4s":    4,
		"6":     6,
		" 12s":  12,
		"+5s":   5,
		"abc":   8,
		"0":     8,
		"-3":    8,
		"8.5s":  8,
		"s8":    8,
		"10abc": 10,
	}
	for in, want := range cases {
		if got := NormalizeDuration(in); got != want {
			t.Errorf("NormalizeDuration(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestNormalizeResolution(t *testing.T) {
	cases := map[string]int{
		"":          720,
		"720p":      720,
		"1080p":     1080,
		"1080":      1080,
		"full 1080": 1080,
		"4k":        720,
	}
	for in, want := range cases {
		if got := NormalizeResolution(in); got != want {
			t.Errorf("NormalizeResolution(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestNormalizeAudio(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{"true", true},
		{true, true},
		{"True", false},
		{"1", false},
		{"false", false},
		{false, false},
		{nil, false},
		{1, false},
	}
	for _, tc := range cases {
		if got := NormalizeAudio(tc.in); got != tc.want {
			t.Errorf("NormalizeAudio(%#v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRejectsBlankPrompt(t *testing.T) {
	for _, prompt := range []string{"", "   ", "\n\t"} {
		if _, err := Normalize(RawRequest{Prompt: prompt}); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Normalize(%q) error = %v, want ErrInvalidRequest", prompt, err)
		}
	}

	plan, err := Normalize(RawRequest{Prompt: "  keep spacing  "})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if plan.Prompt != "  keep spacing  " || plan.Duration != 8 || plan.Resolution != 720 || plan.Audio {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestRunWithoutImage(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "a cat surfing", Duration: "4s", Resolution: "1080p", Audio: "true"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(f.generator.calls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(f.generator.calls))
	}
	call := f.generator.calls[0]
	if call.ReferenceURLs == nil || len(call.ReferenceURLs) != 0 {
		t.Fatalf("expected empty non-nil reference list, got %#v", call.ReferenceURLs)
	}
	if call.Prompt != "a cat surfing" || call.Duration != 4 || call.Resolution != 1080 || !call.GenerateAudio {
		t.Fatalf("unexpected provider request %+v", call)
	}

	if len(f.storage.calls) != 1 {
		t.Fatalf("expected one storage call, got %d", len(f.storage.calls))
	}
	stored := f.storage.calls[0]
	wantName := fmt.Sprintf("id1-generated-%d.mp4", fixedNow.UnixMilli())
	if stored.folder != models.FolderVideos || stored.filename != wantName || stored.contentType != "video/mp4" {
		t.Fatalf("unexpected video store call %+v", stored)
	}
	if string(stored.data) != "mp4-bytes" {
		t.Fatalf("expected fetched bytes to be stored, got %q", stored.data)
	}

	want := models.GenerationResult{
		ID:         "id1",
		Prompt:     "a cat surfing",
		Duration:   4,
		Resolution: 1080,
		Audio:      true,
		CreatedAt:  fixedNow,
		ModelName:  "test-model",
		SizeBytes:  int64(len("mp4-bytes")),
		Tags:       []string{},
		URL:        "https://bucket.example.com/videos/" + wantName,
		Downloaded: true,
		Verified:   true,
		Source:     models.SourceFal,
		CreatedBy:  models.CreatedByServer,
		Status:     models.StatusGenerated,
	}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("unexpected result\n got: %+v\nwant: %+v", result, want)
	}

	wantStages := []Stage{StageReceived, StageValidating, StageGenerating, StageFetching, StagePersisting, StageCompleted}
	if !reflect.DeepEqual(f.stages, wantStages) {
		t.Fatalf("stages = %v, want %v", f.stages, wantStages)
	}

	if len(f.history.records) != 1 || f.history.records[0].ID != "id1" {
		t.Fatalf("expected history to record the result, got %+v", f.history.records)
	}
}

func TestRunWithReferenceImage(t *testing.T) {
	f := newFixture(t)

	img := &ReferenceImage{Filename: "cat.png", ContentType: "image/png", Data: []byte("png")}
	result, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "animate", Image: img})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(f.storage.calls) != 2 {
		t.Fatalf("expected image and video uploads, got %d", len(f.storage.calls))
	}
	imageCall := f.storage.calls[0]
	if imageCall.folder != models.FolderImages || imageCall.filename != "id1-cat.png" || imageCall.contentType != "image/png" {
		t.Fatalf("unexpected image store call %+v", imageCall)
	}

	imageURL := "https://bucket.example.com/images/id1-cat.png"
	if got := f.generator.calls[0].ReferenceURLs; !reflect.DeepEqual(got, []string{imageURL}) {
		t.Fatalf("provider references = %v", got)
	}
	if result.ReferenceImage == nil || *result.ReferenceImage != imageURL {
		t.Fatalf("unexpected reference image on result: %v", result.ReferenceImage)
	}
	if result.ID != "id2" || result.Duration != 8 || result.Resolution != 720 || result.Audio {
		t.Fatalf("unexpected result %+v", result)
	}

	wantStages := []Stage{StageReceived, StageValidating, StageImagePersisting, StageGenerating, StageFetching, StagePersisting, StageCompleted}
	if !reflect.DeepEqual(f.stages, wantStages) {
		t.Fatalf("stages = %v, want %v", f.stages, wantStages)
	}
}

func TestRunInvalidPromptTouchesNothing(t *testing.T) {
	f := newFixture(t)

	_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "  ", Image: &ReferenceImage{Filename: "a.png", Data: []byte("x")}})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageValidating {
		t.Fatalf("expected validating StageError, got %v", err)
	}
	if len(f.storage.calls)+len(f.generator.calls)+len(f.fetcher.calls) != 0 {
		t.Fatal("expected no collaborator calls for an invalid request")
	}
	if len(f.history.records) != 0 {
		t.Fatal("failed runs must not be recorded")
	}
	if last := f.stages[len(f.stages)-1]; last != StageFailed {
		t.Fatalf("expected terminal failed stage, got %v", last)
	}
}

func TestRunProviderFailureIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.generator.err = transientErr{transient: true}

	_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if errors.Is(err, ErrDownstream) {
		t.Fatal("provider failures are not downstream failures")
	}
	if len(f.generator.calls) != 1 {
		t.Fatalf("provider called %d times, want 1", len(f.generator.calls))
	}
	if len(f.fetcher.calls) != 0 || len(f.storage.calls) != 0 {
		t.Fatal("expected no fetch or storage after provider failure")
	}
}

func TestRunRejectsUnusableVideoURL(t *testing.T) {
	for _, videoURL := range []string{"", "   ", "not a url", "ftp://host/file.mp4", "/relative.mp4"} {
		t.Run(videoURL, func(t *testing.T) {
			f := newFixture(t)
			f.generator.url = videoURL

			_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"})
			if !errors.Is(err, ErrProvider) {
				t.Fatalf("expected ErrProvider, got %v", err)
			}
			if len(f.fetcher.calls) != 0 {
				t.Fatal("fetch must not run without a usable url")
			}
		})
	}
}

func TestRunImageStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.storage.errs = []error{errors.New("denied")}

	_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x", Image: &ReferenceImage{Filename: "a.png", Data: []byte("x")}})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if errors.Is(err, ErrDownstream) {
		t.Fatal("image persistence is not a downstream failure")
	}
	if len(f.generator.calls) != 0 {
		t.Fatal("provider must not be called when the image upload fails")
	}
	if len(f.storage.calls) != 1 {
		t.Fatalf("non-transient storage errors must not be retried, got %d calls", len(f.storage.calls))
	}
}

func TestRunFetchFailureIsDownstream(t *testing.T) {
	f := newFixture(t)
	f.fetcher.errs = []error{errors.New("404"), errors.New("404")}

	_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"})
	if !errors.Is(err, ErrFetch) || !errors.Is(err, ErrDownstream) {
		t.Fatalf("expected downstream fetch error, got %v", err)
	}
	if len(f.storage.calls) != 0 {
		t.Fatal("nothing may be stored after a failed fetch")
	}
	if len(f.history.records) != 0 {
		t.Fatal("failed runs must not be recorded")
	}
}

func TestRunEmptyDownloadFails(t *testing.T) {
	f := newFixture(t)
	f.fetcher.data = nil

	_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"})
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}

func TestRunVideoStorageFailureIsDownstream(t *testing.T) {
	f := newFixture(t)
	f.storage.errs = []error{errors.New("bucket gone")}

	_, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"})
	if !errors.Is(err, ErrStorage) || !errors.Is(err, ErrDownstream) {
		t.Fatalf("expected downstream storage error, got %v", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePersisting {
		t.Fatalf("expected persisting StageError, got %v", err)
	}
}

func TestRunRetriesTransientFailuresOnce(t *testing.T) {
	f := newFixture(t)
	f.fetcher.errs = []error{transientErr{transient: true}}
	f.storage.errs = []error{transientErr{transient: true}}

	if _, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(f.fetcher.calls) != 2 {
		t.Fatalf("fetch called %d times, want 2", len(f.fetcher.calls))
	}
	if len(f.storage.calls) != 2 {
		t.Fatalf("store called %d times, want 2", len(f.storage.calls))
	}
	if f.storage.calls[0].filename != f.storage.calls[1].filename {
		t.Fatal("retried upload must reuse the same object key")
	}
}

func TestRunGivesUpAfterSecondTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.errs = []error{transientErr{transient: true}, transientErr{transient: true}, nil}

	if _, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"}); !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if len(f.fetcher.calls) != 2 {
		t.Fatalf("fetch called %d times, want 2", len(f.fetcher.calls))
	}
}

func TestRunHistoryFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("db down")

	if _, err := f.pipeline.Run(context.Background(), RawRequest{Prompt: "x"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRunProviderTimeout(t *testing.T) {
	gen := &blockingGenerator{}
	p, err := NewPipeline(Collaborators{Storage: &storageStub{}, Generator: gen, Fetcher: &fetcherStub{data: []byte("x")}},
		Options{ProviderTimeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	_, err = p.Run(context.Background(), RawRequest{Prompt: "x"})
	if !errors.Is(err, ErrProvider) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected provider deadline error, got %v", err)
	}
}

type blockingGenerator struct{}

func (blockingGenerator) Generate(ctx context.Context, _ provider.VideoRequest) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingGenerator) Model() string { return "blocking" }

func TestRunIdenticalRequestsProduceDistinctResults(t *testing.T) {
	storage := &storageStub{}
	p, err := NewPipeline(Collaborators{
		Storage:   storage,
		Generator: &generatorStub{url: "https://fal.media/out.mp4"},
		Fetcher:   &fetcherStub{data: []byte("x")},
	}, Options{})
	if err != nil {
		t.Fatalf("NewPipeline() error = %v", err)
	}

	req := RawRequest{Prompt: "same", Image: &ReferenceImage{Filename: "same.png", Data: []byte("x")}}
	first, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := p.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if first.ID == second.ID || first.URL == second.URL {
		t.Fatalf("expected distinct results, got %q/%q and %q/%q", first.ID, first.URL, second.ID, second.URL)
	}
	if *first.ReferenceImage == *second.ReferenceImage {
		t.Fatal("expected distinct image keys for identical uploads")
	}
	for _, c := range storage.calls {
		if !strings.HasSuffix(c.filename, "same.png") && !strings.HasSuffix(c.filename, ".mp4") {
			t.Fatalf("unexpected filename %q", c.filename)
		}
	}
}

func TestNewPipelineRequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(Collaborators{Storage: &storageStub{}}, Options{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("nope"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrappedDeadline", fmt.Errorf("upload: %w", context.DeadlineExceeded), true},
		{"transientFalse", transientErr{transient: false}, false},
		{"transientTrue", fmt.Errorf("wrap: %w", transientErr{transient: true}), true},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTransient(tc.err); got != tc.want {
				t.Fatalf("isTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

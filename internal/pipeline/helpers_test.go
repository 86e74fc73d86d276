package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/blob"
	"github.com/kiranshivaraju/roomscan/internal/cache"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func noRetry() *retry.Executor {
	return retry.New(retry.Config{MaxRetries: 0}, retry.WithSleep(noSleep))
}

// fakeOCR returns result after draining errs, counting every call. A set
// err is returned on every call.
type fakeOCR struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	err    error
	result models.OCRResult
}

func (f *fakeOCR) Analyze(_ context.Context, _ string) (models.OCRResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return models.OCRResult{}, f.err
	}
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return models.OCRResult{}, err
	}
	return f.result, nil
}

func (f *fakeOCR) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recorder collects events from every Notifier the factory hands out.
type recorder struct {
	mu     sync.Mutex
	events []models.Event
	built  int
}

func (r *recorder) factory() Notifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built++
	return r
}

func (r *recorder) Notify(_ context.Context, _ string, ev models.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return 1
}

func (r *recorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) find(t models.EventType) (models.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Type == t {
			return ev, true
		}
	}
	return models.Event{}, false
}

func ptr[T any](v T) *T { return &v }

// tableOCR has one TABLE region with a kitchen label inside it.
func tableOCR() models.OCRResult {
	return models.OCRResult{
		TextBlocks: []models.TextBlock{
			{ID: "w1", Text: "Kitchen", Geometry: models.Geometry{BoundingBox: &models.NormalizedBox{Left: 0.06, Top: 0.06, Width: 0.05, Height: 0.02}}},
		},
		LayoutBlocks: []models.LayoutBlock{
			{ID: "p1", BlockType: models.BlockPage, Geometry: models.Geometry{BoundingBox: &models.NormalizedBox{Left: 0, Top: 0, Width: 1, Height: 1}}},
			{ID: "t1", BlockType: models.BlockTable, Geometry: models.Geometry{BoundingBox: &models.NormalizedBox{Left: 0.05, Top: 0.05, Width: 0.15, Height: 0.25}}},
		},
		Metadata: models.OCRMetadata{Pages: 1, ImageWidth: ptr(1000.0), ImageHeight: ptr(1000.0)},
	}
}

type env struct {
	store    *store.MemoryStore
	blobs    *blob.MemoryStore
	cache    cache.Cache
	jobs     *jobs.Service
	ocr      *fakeOCR
	events   *recorder
	previews *cache.ResultCache
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore()
	blobs := blob.NewMemoryStore()
	c := cache.NewMemoryCache()
	return &env{
		store:    st,
		blobs:    blobs,
		cache:    c,
		jobs:     jobs.NewService(st, blobs, jobs.WithRetry(noRetry())),
		ocr:      &fakeOCR{result: tableOCR()},
		events:   &recorder{},
		previews: cache.NewResultCache(c, time.Hour),
	}
}

func (e *env) coordinator(inf models.InferenceProvider, opts ...Option) *Coordinator {
	opts = append([]Option{WithRetry(noRetry())}, opts...)
	return NewCoordinator(Deps{
		Jobs:        e.jobs,
		Blobs:       e.blobs,
		Previews:    e.previews,
		OCR:         e.ocr,
		Inference:   inf,
		NewNotifier: e.events.factory,
	}, DefaultConfig(), opts...)
}

// insertJob stores a PENDING job with a fixed content hash.
func (e *env) insertJob(t *testing.T, id, hash string) {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, e.store.CreateJob(context.Background(), models.JobRecord{
		JobID:           id,
		Status:          string(models.JobStatusPending),
		BlueprintRef:    blob.BlueprintKey(id, "blueprint.png"),
		BlueprintFormat: string(models.FormatPNG),
		ContentHash:     hash,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(models.JobRetention),
	}))
}

func (e *env) job(t *testing.T, id string) *models.Job {
	t.Helper()
	job, err := e.jobs.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testRetry(maxRetries int) *retry.Executor {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = maxRetries
	return retry.New(cfg, retry.WithSleep(noSleep))
}

// fakeTransport records payloads per connection. errs holds errors to return,
// in order, before sends start succeeding.
type fakeTransport struct {
	mu    sync.Mutex
	sent  map[string][][]byte
	errs  map[string][]error
	calls map[string]int
	delay time.Duration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sent:  make(map[string][][]byte),
		errs:  make(map[string][]error),
		calls: make(map[string]int),
	}
}

func (f *fakeTransport) Send(ctx context.Context, connID string, payload []byte) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return apperr.Unavailable("connections", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[connID]++
	if q := f.errs[connID]; len(q) > 0 {
		f.errs[connID] = q[1:]
		return q[0]
	}
	f.sent[connID] = append(f.sent[connID], payload)
	return nil
}

func (f *fakeTransport) failWith(connID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[connID] = append(f.errs[connID], errs...)
}

func (f *fakeTransport) callCount(connID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[connID]
}

// events decodes everything delivered to connID.
func (f *fakeTransport) events(t *testing.T, connID string) []models.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Event
	for _, p := range f.sent[connID] {
		var ev models.Event
		require.NoError(t, json.Unmarshal(p, &ev))
		out = append(out, ev)
	}
	return out
}

// fakeJobs serves jobs from a map. Cancel moves a live job to CANCELLED.
type fakeJobs struct {
	mu     sync.Mutex
	jobs   map[string]*models.Job
	getErr error
}

func newFakeJobs(jobs ...*models.Job) *fakeJobs {
	f := &fakeJobs{jobs: make(map[string]*models.Job)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) Get(_ context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found").With("job_id", jobID)
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobs) Cancel(_ context.Context, jobID string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found").With("job_id", jobID)
	}
	if j.Status.Terminal() {
		return nil, apperr.AlreadyCompleted(jobID, string(j.Status))
	}
	j.Status = models.JobStatusCancelled
	cp := *j
	return &cp, nil
}

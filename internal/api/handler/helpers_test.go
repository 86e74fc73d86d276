package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/roomscan/internal/api/handler"
	"github.com/kiranshivaraju/roomscan/internal/blob"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeStages struct {
	outcome *models.StageOutcome
	err     error
	gotN    int
	gotJob  string

	preview    []byte
	previewErr error
	gotHash    string
	gotVersion string
}

func (f *fakeStages) RunStage(_ context.Context, n int, jobID string) (*models.StageOutcome, error) {
	f.gotN, f.gotJob = n, jobID
	return f.outcome, f.err
}

func (f *fakeStages) GetCachedPreview(_ context.Context, hash, version string) ([]byte, error) {
	f.gotHash, f.gotVersion = hash, version
	return f.preview, f.previewErr
}

type fakeLauncher struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeLauncher) AutoRun(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, jobID)
}

type fakeRegistry struct {
	connected []string
	removed   int
	messages  [][]byte
	err       error
}

func (f *fakeRegistry) Connect(_ context.Context, connID string) error {
	f.connected = append(f.connected, connID)
	return f.err
}

func (f *fakeRegistry) UnsubscribeAll(_ context.Context, _ string) (int, error) {
	return f.removed, f.err
}

func (f *fakeRegistry) HandleMessage(_ context.Context, _ string, body []byte) error {
	f.messages = append(f.messages, body)
	return f.err
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

var errDown = errors.New("down")

// --- helpers ---

func newJobService() *jobs.Service {
	noRetry := retry.New(retry.Config{MaxRetries: 0})
	return jobs.NewService(store.NewMemoryStore(), blob.NewMemoryStore(), jobs.WithRetry(noRetry))
}

func jobsRouter(h *handler.Jobs) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/jobs", h.Create)
	r.Get("/api/v1/jobs/{jobID}", h.Get)
	r.Post("/api/v1/jobs/{jobID}/cancel", h.Cancel)
	r.Post("/api/v1/jobs/{jobID}/stages/{stage}", h.RunStage)
	return r
}

func uploadRequest(t *testing.T, filename, format string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mpw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mpw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	if format != "" {
		require.NoError(t, mpw.WriteField("format", format))
	}
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", &buf)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func dataOf(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Data
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

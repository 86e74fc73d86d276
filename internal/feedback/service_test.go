package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"syscall"
	"testing"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/blob"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

func setup(t *testing.T, st store.Store, opts ...Option) (*Service, *models.Job) {
	t.Helper()
	exec := retry.New(retry.DefaultConfig(), retry.WithSleep(noSleep))
	jobSvc := jobs.NewService(st, blob.NewMemoryStore(), jobs.WithRetry(exec))
	job, err := jobSvc.Create(context.Background(), jobs.CreateInput{Content: []byte("blueprint"), Format: "png"})
	require.NoError(t, err)
	return NewService(st, jobSvc, append([]Option{WithRetry(exec)}, opts...)...), job
}

func TestSubmit_Wrong(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	svc, job := setup(t, store.NewMemoryStore(), WithClock(func() time.Time { return frozen }))
	room := "room_002"

	fb, err := svc.Submit(context.Background(), job.ID, SubmitInput{
		Feedback:   "wrong",
		RoomID:     &room,
		Correction: json.RawMessage(`{"bounding_box": [10, 20, 110, 220], "note": "wall missed"}`),
	})
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^fb_20260301_123000_[0-9a-f]{8}$`), fb.ID)
	assert.Equal(t, job.ID, fb.JobID)
	assert.Equal(t, models.FeedbackWrong, fb.Type)
	assert.Equal(t, &room, fb.RoomID)
	assert.JSONEq(t, `{"bounding_box": [10, 20, 110, 220], "note": "wall missed"}`, string(fb.Correction))
	assert.Equal(t, frozen, fb.CreatedAt)
}

func TestSubmit_CorrectWithoutCorrection(t *testing.T) {
	svc, job := setup(t, store.NewMemoryStore())

	fb, err := svc.Submit(context.Background(), job.ID, SubmitInput{Feedback: "correct", Correction: json.RawMessage(`null`)})
	require.NoError(t, err)
	assert.Nil(t, fb.Correction)
	assert.Nil(t, fb.RoomID)

	out, err := json.Marshal(fb)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"correction":null`)
}

func TestSubmit_Validation(t *testing.T) {
	tests := []struct {
		name string
		in   SubmitInput
		code string
	}{
		{name: "missing type", in: SubmitInput{}, code: apperr.CodeInvalidRequest},
		{name: "unknown type", in: SubmitInput{Feedback: "maybe"}, code: apperr.CodeInvalidFeedback},
		{name: "wrong without correction", in: SubmitInput{Feedback: "wrong"}, code: apperr.CodeInvalidFeedback},
		{name: "wrong with null correction", in: SubmitInput{Feedback: "wrong", Correction: json.RawMessage(`null`)}, code: apperr.CodeInvalidFeedback},
		{name: "bbox too short", in: SubmitInput{Feedback: "wrong", Correction: json.RawMessage(`{"bounding_box": [1, 2, 3]}`)}, code: apperr.CodeInvalidFeedback},
		{name: "bbox too long", in: SubmitInput{Feedback: "wrong", Correction: json.RawMessage(`{"bounding_box": [1, 2, 3, 4, 5]}`)}, code: apperr.CodeInvalidFeedback},
		{name: "bbox with string", in: SubmitInput{Feedback: "wrong", Correction: json.RawMessage(`{"bounding_box": [1, "2", 3, 4]}`)}, code: apperr.CodeInvalidFeedback},
		{name: "bbox missing", in: SubmitInput{Feedback: "wrong", Correction: json.RawMessage(`{"label": "Kitchen"}`)}, code: apperr.CodeInvalidFeedback},
		{name: "correction not an object", in: SubmitInput{Feedback: "partial", Correction: json.RawMessage(`[1, 2]`)}, code: apperr.CodeInvalidFeedback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, job := setup(t, store.NewMemoryStore())

			_, err := svc.Submit(context.Background(), job.ID, tt.in)
			require.Error(t, err)
			assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
			assert.Equal(t, tt.code, apperr.CodeOf(err))

			items, err := svc.ListByJob(context.Background(), job.ID)
			require.NoError(t, err)
			assert.Empty(t, items)
		})
	}
}

func TestSubmit_UnknownJob(t *testing.T) {
	svc, _ := setup(t, store.NewMemoryStore())

	_, err := svc.Submit(context.Background(), "job_missing", SubmitInput{Feedback: "correct"})
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindNotFound, Code: apperr.CodeJobNotFound})
}

// flakyFeedbackStore drops the connection on the first feedback write.
type flakyFeedbackStore struct {
	*store.MemoryStore
	fails int
}

func (f *flakyFeedbackStore) CreateFeedback(ctx context.Context, fb models.Feedback) error {
	if f.fails > 0 {
		f.fails--
		return &net.OpError{Op: "write", Net: "tcp", Err: syscall.ECONNRESET}
	}
	return f.MemoryStore.CreateFeedback(ctx, fb)
}

func TestSubmit_RetriesTransientStoreErrors(t *testing.T) {
	st := &flakyFeedbackStore{MemoryStore: store.NewMemoryStore(), fails: 1}
	svc, job := setup(t, st)

	_, err := svc.Submit(context.Background(), job.ID, SubmitInput{Feedback: "correct"})
	require.NoError(t, err)
	assert.Equal(t, 0, st.fails)
}

func TestSubmit_StoreUnavailable(t *testing.T) {
	st := &flakyFeedbackStore{MemoryStore: store.NewMemoryStore(), fails: 10}
	svc, job := setup(t, st)

	_, err := svc.Submit(context.Background(), job.ID, SubmitInput{Feedback: "correct"})
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
}

func TestListByJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, job := setup(t, store.NewMemoryStore(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	items, err := svc.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	first, err := svc.Submit(ctx, job.ID, SubmitInput{Feedback: "partial"})
	require.NoError(t, err)
	now = now.Add(time.Minute)
	second, err := svc.Submit(ctx, job.ID, SubmitInput{Feedback: "correct"})
	require.NoError(t, err)

	items, err = svc.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)

	_, err = svc.ListByJob(ctx, "job_missing")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestStoreError(t *testing.T) {
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(storeError(errors.New("syntax error"))))
	assert.ErrorIs(t, storeError(context.Canceled), context.Canceled)
}

// Package feedback records reviewer verdicts on a job's detected rooms.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// correctionSchema applies to the correction of "wrong" feedback.
var correctionSchema = jsonschema.MustCompileString("correction.json", `{
	"type": "object",
	"required": ["bounding_box"],
	"properties": {
		"bounding_box": {
			"type": "array",
			"minItems": 4,
			"maxItems": 4,
			"items": {"type": "number"}
		}
	}
}`)

// JobReader looks up the job feedback is filed against.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
}

type Service struct {
	store  store.Store
	jobs   JobReader
	retry  *retry.Executor
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithRetry(e *retry.Executor) Option {
	return func(s *Service) { s.retry = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st store.Store, jobs JobReader, opts ...Option) *Service {
	s := &Service{
		store:  st,
		jobs:   jobs,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry == nil {
		s.retry = retry.New(retry.DefaultConfig(), retry.WithLogger(s.logger))
	}
	return s
}

// SubmitInput is the body of a feedback submission.
type SubmitInput struct {
	Feedback   string          `json:"feedback"`
	RoomID     *string         `json:"room_id"`
	Correction json.RawMessage `json:"correction"`
}

// Submit validates and stores feedback for an existing job.
func (s *Service) Submit(ctx context.Context, jobID string, in SubmitInput) (*models.Feedback, error) {
	kind, correction, err := validate(in)
	if err != nil {
		return nil, err
	}
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	fb := &models.Feedback{
		ID:         models.NewFeedbackID(now),
		JobID:      jobID,
		Type:       kind,
		RoomID:     in.RoomID,
		Correction: correction,
		CreatedAt:  now,
	}

	err = s.retry.Do(ctx, "create feedback", func(ctx context.Context) error {
		return s.store.CreateFeedback(ctx, *fb)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found").With("job_id", jobID)
	}
	if err != nil {
		return nil, storeError(err)
	}

	s.logger.Info("feedback submitted", "feedback_id", fb.ID, "job_id", jobID, "feedback", string(kind))
	return fb, nil
}

// ListByJob returns the feedback filed against jobID, oldest first. A job
// with no feedback yields an empty slice.
func (s *Service) ListByJob(ctx context.Context, jobID string) ([]models.Feedback, error) {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	items, err := retry.Value(ctx, s.retry, "list feedback", func(ctx context.Context) ([]models.Feedback, error) {
		return s.store.ListFeedbackByJob(ctx, jobID)
	})
	if err != nil {
		return nil, storeError(err)
	}
	if items == nil {
		items = []models.Feedback{}
	}
	return items, nil
}

func validate(in SubmitInput) (models.FeedbackType, json.RawMessage, error) {
	if in.Feedback == "" {
		return "", nil, apperr.InvalidInput(apperr.CodeInvalidRequest, "Missing required field: feedback").
			With("missing_fields", []string{"feedback"})
	}
	kind := models.FeedbackType(in.Feedback)
	if !kind.Valid() {
		return "", nil, apperr.InvalidInput(apperr.CodeInvalidFeedback,
			"feedback must be one of: wrong, correct, partial").
			With("received_type", in.Feedback)
	}

	correction := in.Correction
	if trimmed := bytes.TrimSpace(correction); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		correction = nil
	}
	if correction == nil {
		if kind == models.FeedbackWrong {
			return "", nil, apperr.InvalidInput(apperr.CodeInvalidFeedback,
				"correction is required when feedback is 'wrong'")
		}
		return kind, nil, nil
	}

	var doc any
	if err := json.Unmarshal(correction, &doc); err != nil {
		return "", nil, apperr.InvalidInput(apperr.CodeInvalidFeedback, "correction is not valid JSON")
	}
	if _, ok := doc.(map[string]any); !ok {
		return "", nil, apperr.InvalidInput(apperr.CodeInvalidFeedback, "correction must be an object")
	}
	if kind == models.FeedbackWrong {
		if err := correctionSchema.Validate(doc); err != nil {
			return "", nil, apperr.InvalidInput(apperr.CodeInvalidFeedback,
				"correction bounding_box must be an array of 4 numbers").
				With("reason", err.Error())
		}
	}
	return kind, correction, nil
}

func storeError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) || errors.Is(err, context.Canceled) {
		return err
	}
	if retry.Retryable(err) {
		return apperr.Unavailable("feedback_store", err)
	}
	return apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "feedback_store failed")
}

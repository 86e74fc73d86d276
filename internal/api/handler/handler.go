// Package handler holds the HTTP handlers for the roomscan API. Handlers
// depend on small interfaces so they can be tested without a database.
package handler

import (
	"context"

	"github.com/kiranshivaraju/roomscan/internal/feedback"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// APIVersion is recorded on every job created through this API.
const APIVersion = "v1"

// JobService is the job lifecycle the handlers drive.
type JobService interface {
	Create(ctx context.Context, in jobs.CreateInput) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) (*models.Job, error)
}

// StageRunner runs one pipeline stage and reads cached previews.
type StageRunner interface {
	RunStage(ctx context.Context, n int, jobID string) (*models.StageOutcome, error)
	GetCachedPreview(ctx context.Context, contentHash, modelVersion string) ([]byte, error)
}

// FeedbackService records and lists reviewer feedback on a job.
type FeedbackService interface {
	Submit(ctx context.Context, jobID string, in feedback.SubmitInput) (*models.Feedback, error)
	ListByJob(ctx context.Context, jobID string) ([]models.Feedback, error)
}

// Launcher starts a full pipeline run in the background.
type Launcher interface {
	AutoRun(jobID string)
}

// Registry is the client connection registry.
type Registry interface {
	Connect(ctx context.Context, connID string) error
	UnsubscribeAll(ctx context.Context, connID string) (int, error)
	HandleMessage(ctx context.Context, connID string, body []byte) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

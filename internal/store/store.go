package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/roomscan/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConditionFailed means a conditional update found the row at a different
// status or version than the caller read.
var ErrConditionFailed = errors.New("condition failed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, rec models.JobRecord) error
	GetJob(ctx context.Context, jobID string) (models.JobRecord, error)
	// UpdateJobIf applies upd only if the row is still at expected.
	UpdateJobIf(ctx context.Context, jobID string, expected JobVersion, upd JobUpdate) (models.JobRecord, error)

	PutSubscription(ctx context.Context, sub models.Subscription) error
	DeleteSubscription(ctx context.Context, connectionID, jobID string) error
	ListSubscriptionsByConnection(ctx context.Context, connectionID string) ([]models.Subscription, error)
	// ListSubscriptionsByJob returns live SUBSCRIBED records for jobID.
	ListSubscriptionsByJob(ctx context.Context, jobID string, now time.Time) ([]models.Subscription, error)
	TouchConnection(ctx context.Context, connectionID string, at, expiresAt time.Time) (int64, error)

	// CreateFeedback returns ErrNotFound when the job does not exist.
	CreateFeedback(ctx context.Context, fb models.Feedback) error
	// ListFeedbackByJob returns feedback oldest first.
	ListFeedbackByJob(ctx context.Context, jobID string) ([]models.Feedback, error)

	PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error)
}

// JobVersion is the (status, updated_at) pair guarding a conditional update.
type JobVersion struct {
	Status    models.JobStatus
	UpdatedAt time.Time
}

// JobUpdate is the set of fields a transition writes. ResultRef is left
// unchanged when nil; Error is always written.
type JobUpdate struct {
	Status    models.JobStatus
	UpdatedAt time.Time
	ResultRef *string
	Error     *models.JobError
}

type PurgeResult struct {
	JobIDs        []string
	Subscriptions int64
}

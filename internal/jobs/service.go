// Package jobs owns the detection job lifecycle: creation, lookup and every
// status transition.
package jobs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/blob"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"golang.org/x/crypto/blake2b"
)

// maxTransitionRounds bounds the read-compute-write loop in Transition.
const maxTransitionRounds = 5

var allowedTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusCancelled},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

// CancelHook is called once after a job is moved to CANCELLED.
type CancelHook func(ctx context.Context, job *models.Job)

// Service creates jobs and applies status transitions with optimistic
// concurrency against the job store.
type Service struct {
	store     store.Store
	blobs     blob.Store
	retry     *retry.Executor
	logger    *slog.Logger
	now       func() time.Time
	retention time.Duration
	onCancel  CancelHook
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

// WithRetention sets how long a job lives before the janitor purges it.
func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

func WithCancelHook(h CancelHook) Option {
	return func(s *Service) { s.onCancel = h }
}

func NewService(st store.Store, blobs blob.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		blobs:     blobs,
		logger:    slog.Default(),
		now:       time.Now,
		retention: models.JobRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry == nil {
		s.retry = retry.New(retry.DefaultConfig(), retry.WithLogger(s.logger))
	}
	return s
}

// SetCancelHook installs the hook after construction, for wiring cycles
// where the notifier needs the service first.
func (s *Service) SetCancelHook(h CancelHook) { s.onCancel = h }

// CreateInput is an uploaded blueprint plus request tracing fields.
type CreateInput struct {
	Content       []byte
	Format        string
	Filename      string
	RequestID     string
	CorrelationID string
	APIVersion    string
}

// ContentHash is the hex BLAKE2b-256 digest used to address cached previews.
func ContentHash(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Create stores the blueprint and a PENDING job record. If the record cannot
// be written the blueprint is removed again.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Job, error) {
	format, ok := models.ParseBlueprintFormat(in.Format)
	if !ok {
		return nil, apperr.InvalidInput(apperr.CodeInvalidBlueprintFormat,
			fmt.Sprintf("unsupported blueprint format %q: must be one of png, jpg, jpeg, pdf", in.Format)).
			With("format", in.Format)
	}
	if len(in.Content) == 0 {
		return nil, apperr.InvalidInput(apperr.CodeInvalidRequest, "blueprint content is empty")
	}

	now := s.timestamp()
	job := &models.Job{
		ID:              models.NewJobID(now),
		Status:          models.JobStatusPending,
		BlueprintFormat: format,
		ContentHash:     ContentHash(in.Content),
		RequestID:       in.RequestID,
		CorrelationID:   in.CorrelationID,
		APIVersion:      in.APIVersion,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.retention),
	}
	job.BlueprintRef = blob.BlueprintKey(job.ID, blueprintFilename(in.Filename, format))

	err := s.retry.Do(ctx, "put blueprint", func(ctx context.Context) error {
		return s.blobs.Put(ctx, job.BlueprintRef, in.Content, format.ContentType())
	})
	if err != nil {
		return nil, dependencyError("blob_store", err)
	}

	err = s.retry.Do(ctx, "create job", func(ctx context.Context) error {
		return s.store.CreateJob(ctx, job.ToRecord())
	})
	if err != nil {
		if derr := s.blobs.Delete(context.WithoutCancel(ctx), job.BlueprintRef); derr != nil {
			s.logger.Error("failed to remove orphaned blueprint", "job_id", job.ID, "key", job.BlueprintRef, "error", derr)
		}
		return nil, dependencyError("job_store", err)
	}

	s.logger.Info("job created",
		"job_id", job.ID,
		"format", job.BlueprintFormat,
		"content_hash", job.ContentHash,
		"size_bytes", len(in.Content),
		"request_id", job.RequestID,
	)
	return job, nil
}

// Get returns the job or a NotFound error.
func (s *Service) Get(ctx context.Context, jobID string) (*models.Job, error) {
	rec, err := retry.Value(ctx, s.retry, "get job", func(ctx context.Context) (models.JobRecord, error) {
		return s.store.GetJob(ctx, jobID)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeJobNotFound, "job not found").With("job_id", jobID)
	}
	if err != nil {
		return nil, dependencyError("job_store", err)
	}
	return models.JobFromRecord(rec)
}

// Cancel moves a PENDING or PROCESSING job to CANCELLED. Cancelling a job that
// is already terminal returns AlreadyCompleted. When two cancels race, both
// receive the cancelled job and the hook fires once.
func (s *Service) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, apperr.AlreadyCompleted(jobID, string(job.Status))
	}

	job, applied, err := s.transition(ctx, jobID, models.JobStatusCancelled, transitionOptions{}, job)
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.Info("job cancelled", "job_id", jobID)
		if s.onCancel != nil {
			s.onCancel(ctx, job)
		}
	}
	return job, nil
}

type transitionOptions struct {
	resultRef *string
	jobErr    *models.JobError
}

type TransitionOption func(*transitionOptions)

func WithResultRef(ref string) TransitionOption {
	return func(o *transitionOptions) { o.resultRef = &ref }
}

func WithError(e *models.JobError) TransitionOption {
	return func(o *transitionOptions) { o.jobErr = e }
}

// Transition moves the job to target. If another writer got there first with
// the same target the current job is returned; a different terminal status
// yields AlreadyCompleted.
func (s *Service) Transition(ctx context.Context, jobID string, target models.JobStatus, opts ...TransitionOption) (*models.Job, error) {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if (target == models.JobStatusFailed) != (o.jobErr != nil) {
		return nil, apperr.InvalidInput(apperr.CodeInvalidRequest,
			"an error is required for FAILED and only allowed there").
			With("job_id", jobID).
			With("target_status", string(target))
	}
	job, _, err := s.transition(ctx, jobID, target, o, nil)
	return job, err
}

// transition reports whether this call performed the write. current, when
// set, is used in place of the first read.
func (s *Service) transition(ctx context.Context, jobID string, target models.JobStatus, o transitionOptions, current *models.Job) (*models.Job, bool, error) {
	for round := 0; round < maxTransitionRounds; round++ {
		job := current
		current = nil
		if job == nil {
			var err error
			if job, err = s.Get(ctx, jobID); err != nil {
				return nil, false, err
			}
		}
		if !allowed(job.Status, target) {
			if job.Status.Terminal() {
				return nil, false, apperr.AlreadyCompleted(jobID, string(job.Status))
			}
			return nil, false, apperr.New(apperr.KindConflict, apperr.CodeJobNotRunnable,
				fmt.Sprintf("cannot move job from %s to %s", job.Status, target)).
				With("job_id", jobID).
				With("current_status", string(job.Status))
		}

		upd := store.JobUpdate{
			Status:    target,
			UpdatedAt: s.nextUpdatedAt(job.UpdatedAt),
			ResultRef: o.resultRef,
			Error:     o.jobErr,
		}
		expected := store.JobVersion{Status: job.Status, UpdatedAt: job.UpdatedAt}

		rec, err := retry.Value(ctx, s.retry, "update job", func(ctx context.Context) (models.JobRecord, error) {
			return s.store.UpdateJobIf(ctx, jobID, expected, upd)
		})
		switch {
		case err == nil:
			updated, err := models.JobFromRecord(rec)
			if err != nil {
				return nil, false, err
			}
			s.logger.Info("job transitioned", "job_id", jobID, "from", job.Status, "to", target)
			return updated, true, nil
		case errors.Is(err, store.ErrNotFound):
			return nil, false, apperr.NotFound(apperr.CodeJobNotFound, "job not found").With("job_id", jobID)
		case errors.Is(err, store.ErrConditionFailed):
			latest, gerr := s.Get(ctx, jobID)
			if gerr != nil {
				return nil, false, gerr
			}
			if latest.Status == target {
				return latest, false, nil
			}
			if latest.Status.Terminal() {
				return nil, false, apperr.AlreadyCompleted(jobID, string(latest.Status))
			}
			s.logger.Debug("job changed underneath transition, retrying",
				"job_id", jobID, "round", round+1, "observed_status", latest.Status)
			current = latest
		default:
			return nil, false, dependencyError("job_store", err)
		}
	}

	return nil, false, apperr.New(apperr.KindConflict, apperr.CodeConcurrentModification,
		"job kept changing during update").
		With("job_id", jobID).
		With("target_status", string(target))
}

// PurgeExpired removes jobs past their retention along with their blobs and
// any expired subscriptions.
func (s *Service) PurgeExpired(ctx context.Context) (store.PurgeResult, error) {
	res, err := s.store.PurgeExpired(ctx, s.now().UTC())
	if err != nil {
		return res, fmt.Errorf("purge expired: %w", err)
	}

	for _, id := range res.JobIDs {
		for _, prefix := range blob.JobPrefixes(id) {
			if _, err := s.blobs.DeletePrefix(ctx, prefix); err != nil {
				s.logger.Warn("failed to purge job blobs", "job_id", id, "prefix", prefix, "error", err)
			}
		}
	}
	if len(res.JobIDs) > 0 || res.Subscriptions > 0 {
		s.logger.Info("purged expired records", "jobs", len(res.JobIDs), "subscriptions", res.Subscriptions)
	}
	return res, nil
}

// RunJanitor calls PurgeExpired every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil {
				s.logger.Error("janitor run failed", "error", err)
			}
		}
	}
}

func allowed(from, to models.JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// timestamp is now at the precision the job store keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// nextUpdatedAt is strictly after prev so every write changes the version.
func (s *Service) nextUpdatedAt(prev time.Time) time.Time {
	t := s.timestamp()
	if !t.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return t
}

func blueprintFilename(name string, format models.BlueprintFormat) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name != "" {
		name = path.Base(name)
	}
	if name == "" || name == "." || name == "/" {
		return "blueprint." + string(format)
	}
	return name
}

// dependencyError classifies a store failure that survived retries.
func dependencyError(service string, err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) || errors.Is(err, context.Canceled) {
		return err
	}
	if retry.Retryable(err) {
		return apperr.Unavailable(service, err)
	}
	return apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, service+" failed")
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/internal/notify"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/pkg/models"
)

const DefaultStageTimeout = 300 * time.Second

// Runner drives a job through all three stages in order. A stage is retried
// only when it fails with an Unavailable error.
type Runner struct {
	coord        *Coordinator
	retry        *retry.Executor
	stageTimeout time.Duration
	logger       *slog.Logger
	base         context.Context
	wg           sync.WaitGroup
}

type RunnerOption func(*Runner)

// WithStageRetry replaces the per-stage retry executor.
func WithStageRetry(e *retry.Executor) RunnerOption {
	return func(r *Runner) { r.retry = e }
}

func WithStageTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.stageTimeout = d }
}

func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBaseContext sets the context background runs derive from. Cancelling
// it stops them at the next stage boundary or external call.
func WithBaseContext(ctx context.Context) RunnerOption {
	return func(r *Runner) { r.base = ctx }
}

func NewRunner(coord *Coordinator, opts ...RunnerOption) *Runner {
	r := &Runner{
		coord:        coord,
		stageTimeout: DefaultStageTimeout,
		logger:       slog.Default(),
		base:         context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry == nil {
		r.retry = StageRetry(retry.DefaultConfig(), r.logger)
	}
	return r
}

// StageRetry builds an executor that retries only Unavailable stage errors.
func StageRetry(cfg retry.Config, logger *slog.Logger, opts ...retry.Option) *retry.Executor {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]retry.Option{
		retry.WithLogger(logger),
		retry.WithClassifier(func(err error) bool {
			return apperr.IsKind(err, apperr.KindUnavailable)
		}),
	}, opts...)
	return retry.New(cfg, opts...)
}

// Run executes stages 1 to 3. When a stage fails for good the job is moved
// to FAILED and job_failed is emitted. A job cancelled mid-run stops quietly.
func (r *Runner) Run(ctx context.Context, jobID string) error {
	logger := r.logger.With("job_id", jobID)
	start := time.Now()

	for n := 1; n <= 3; n++ {
		err := r.retry.Do(ctx, fmt.Sprintf("stage %d", n), func(ctx context.Context) error {
			stageCtx, cancel := context.WithTimeout(ctx, r.stageTimeout)
			defer cancel()
			_, err := r.coord.RunStage(stageCtx, n, jobID)
			return err
		})
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if r.cancelled(ctx, jobID, err) {
			logger.Info("job cancelled, pipeline stopped", "stage", n)
			return nil
		}

		stage, _ := models.StageByNumber(n)
		r.fail(ctx, jobID, stage, err)
		return fmt.Errorf("stage %d: %w", n, err)
	}

	logger.Info("pipeline completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// AutoRun starts Run in the background, detached from any request.
// Panics are recovered and logged.
func (r *Runner) AutoRun(jobID string) {
	ctx := r.base
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("pipeline panicked",
					"job_id", jobID,
					"panic", fmt.Sprintf("%v", rec),
					"stack", string(debug.Stack()),
				)
			}
		}()
		if err := r.Run(ctx, jobID); err != nil {
			r.logger.Error("pipeline failed", "job_id", jobID, "error", err)
		}
	}()
}

// Wait blocks until every AutoRun goroutine has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) cancelled(ctx context.Context, jobID string, err error) bool {
	if !apperr.IsKind(err, apperr.KindConflict) {
		return false
	}
	job, gerr := r.coord.jobs.Get(ctx, jobID)
	return gerr == nil && job.Status == models.JobStatusCancelled
}

func (r *Runner) fail(ctx context.Context, jobID string, stage models.Stage, cause error) {
	logger := r.logger.With("job_id", jobID, "stage", string(stage))

	jobErr := &models.JobError{
		Code:    apperr.CodePipelineFailed,
		Message: fmt.Sprintf("%s stage failed: %v", stage, cause),
		Details: map[string]any{
			"stage":      string(stage),
			"cause_code": apperr.CodeOf(cause),
		},
	}
	if _, err := r.coord.jobs.Transition(ctx, jobID, models.JobStatusFailed, jobs.WithError(jobErr)); err != nil {
		logger.Warn("could not mark job failed", "error", err)
		return
	}
	logger.Error("job marked failed", "cause_code", apperr.CodeOf(cause), "error", cause)
	r.coord.newNotifier().Notify(ctx, jobID, notify.JobFailed(jobID, jobErr))
}

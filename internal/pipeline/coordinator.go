// Package pipeline runs the three detection stages for a job: a cached
// heuristic preview, an intermediate model pass and a refined final pass.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/blob"
	"github.com/kiranshivaraju/roomscan/internal/cache"
	"github.com/kiranshivaraju/roomscan/internal/detect"
	"github.com/kiranshivaraju/roomscan/internal/inference"
	"github.com/kiranshivaraju/roomscan/internal/jobs"
	"github.com/kiranshivaraju/roomscan/internal/notify"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/pkg/models"
)

const (
	progressPreview      = 33
	progressIntermediate = 66
	// finalStageEstimate is the estimated duration of stage 3 reported with
	// the stage 2 progress update.
	finalStageEstimate = 10
)

// JobLifecycle is the part of the job service the pipeline drives.
type JobLifecycle interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Transition(ctx context.Context, jobID string, target models.JobStatus, opts ...jobs.TransitionOption) (*models.Job, error)
}

// Notifier delivers an event to the connections following a job.
type Notifier interface {
	Notify(ctx context.Context, jobID string, ev models.Event) int
}

// NotifierFactory builds a fresh Notifier for one stage invocation.
type NotifierFactory func() Notifier

type Config struct {
	ModelVersion         string
	IntermediateEndpoint string
	FinalEndpoint        string
	Threshold            float64
	OutputMode           models.OutputMode
	StageBudget          time.Duration
}

func DefaultConfig() Config {
	return Config{
		ModelVersion:         "1.0.0",
		IntermediateEndpoint: "room-detection-intermediate",
		FinalEndpoint:        "room-detection-final",
		Threshold:            detect.DefaultThreshold,
		OutputMode:           models.OutputBoxes,
		StageBudget:          30 * time.Second,
	}
}

// Coordinator runs individual stages. It holds no per-job state, so one
// Coordinator serves every job.
type Coordinator struct {
	jobs        JobLifecycle
	blobs       blob.Store
	previews    *cache.ResultCache
	ocr         models.OCRProvider
	inference   models.InferenceProvider
	newNotifier NotifierFactory
	cfg         Config
	retry       *retry.Executor
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Coordinator)

func WithRetry(e *retry.Executor) Option {
	return func(c *Coordinator) { c.retry = e }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Deps are the collaborators a Coordinator needs.
type Deps struct {
	Jobs        JobLifecycle
	Blobs       blob.Store
	Previews    *cache.ResultCache
	OCR         models.OCRProvider
	Inference   models.InferenceProvider
	NewNotifier NotifierFactory
}

func NewCoordinator(deps Deps, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		jobs:        deps.Jobs,
		blobs:       deps.Blobs,
		previews:    deps.Previews,
		ocr:         deps.OCR,
		inference:   deps.Inference,
		newNotifier: deps.NewNotifier,
		cfg:         cfg,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry == nil {
		c.retry = retry.New(retry.DefaultConfig(), retry.WithLogger(c.logger))
	}
	if c.newNotifier == nil {
		c.newNotifier = func() Notifier { return discard{} }
	}
	return c
}

// stageRun carries the state of one stage invocation.
type stageRun struct {
	job      *models.Job
	stage    models.Stage
	notifier Notifier
	budget   *budget
	logger   *slog.Logger
}

// RunStage runs stage n (1, 2 or 3) for jobID. Errors carry the job ID and
// content hash in their details.
func (c *Coordinator) RunStage(ctx context.Context, n int, jobID string) (*models.StageOutcome, error) {
	stage, ok := models.StageByNumber(n)
	if !ok {
		return nil, apperr.InvalidInput(apperr.CodeInvalidRequest, "stage must be 1, 2 or 3").
			With("stage", n)
	}

	job, err := c.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, notRunnable(job.ID, job.Status)
	}

	run := &stageRun{
		job:      job,
		stage:    stage,
		notifier: c.newNotifier(),
		budget:   newBudget(c.cfg.StageBudget, c.now),
		logger:   c.logger.With("job_id", jobID, "stage", string(stage)),
	}
	run.logger.Info("stage started")

	var out *models.StageOutcome
	switch n {
	case 1:
		out, err = c.preview(ctx, run)
	case 2:
		out, err = c.intermediate(ctx, run)
	default:
		out, err = c.final(ctx, run)
	}
	if err != nil {
		run.logger.Error("stage failed", "error", err, "duration_ms", run.budget.elapsed().Milliseconds())
		return nil, annotate(err, run.job)
	}

	if run.budget.remaining() < 0 {
		run.logger.Warn("stage exceeded budget", "duration_ms", run.budget.elapsed().Milliseconds())
	}
	run.logger.Info("stage completed",
		"rooms", len(out.Result.Rooms),
		"cached", out.Cached,
		"duration_ms", run.budget.elapsed().Milliseconds(),
	)
	return out, nil
}

func (c *Coordinator) Stage1(ctx context.Context, jobID string) (*models.StageOutcome, error) {
	return c.RunStage(ctx, 1, jobID)
}

func (c *Coordinator) Stage2(ctx context.Context, jobID string) (*models.StageOutcome, error) {
	return c.RunStage(ctx, 2, jobID)
}

func (c *Coordinator) Stage3(ctx context.Context, jobID string) (*models.StageOutcome, error) {
	return c.RunStage(ctx, 3, jobID)
}

// GetCachedPreview returns the cached preview bytes for a content hash. An
// empty modelVersion means the configured one.
func (c *Coordinator) GetCachedPreview(ctx context.Context, contentHash, modelVersion string) ([]byte, error) {
	if modelVersion == "" {
		modelVersion = c.cfg.ModelVersion
	}
	raw, ok, err := c.cachedPreview(ctx, contentHash, modelVersion)
	if err != nil {
		return nil, apperr.Unavailable("cache", err)
	}
	if !ok {
		return nil, apperr.NotFound(apperr.CodePreviewNotFound, "no cached preview for content hash").
			With("content_hash", contentHash).
			With("model_version", modelVersion)
	}
	return raw, nil
}

// preview is stage 1: OCR plus heuristic detection, served from the result
// cache when the same content was seen before.
func (c *Coordinator) preview(ctx context.Context, run *stageRun) (*models.StageOutcome, error) {
	if run.job.Status == models.JobStatusPending {
		job, err := c.jobs.Transition(ctx, run.job.ID, models.JobStatusProcessing)
		if err != nil {
			return nil, runnableError(err, run.job.ID)
		}
		run.job = job
	}
	hash := run.job.ContentHash

	raw, hit, err := c.cachedPreview(ctx, hash, c.cfg.ModelVersion)
	if err != nil {
		run.logger.Warn("preview cache read failed, computing preview", "error", err)
	}
	if hit {
		var result models.StageResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "cached preview is corrupt")
		}
		run.logger.Info("preview cache hit", "content_hash", hash)
		if err := c.adoptOCR(ctx, run); err != nil {
			return nil, err
		}
		c.progress(ctx, run, &result, progressPreview, "Preview ready", nil)
		return &models.StageOutcome{Result: &result, Raw: raw, Cached: true, JobStatus: run.job.Status}, nil
	}

	ocrStart := c.now()
	ocrResult, err := retry.Value(ctx, c.retry, "ocr analyze", func(ctx context.Context) (models.OCRResult, error) {
		return c.ocr.Analyze(ctx, run.job.BlueprintRef)
	})
	if err != nil {
		return nil, err
	}
	ocrSeconds := c.now().Sub(ocrStart).Seconds()

	ocrRaw, err := json.Marshal(ocrResult)
	if err != nil {
		return nil, fmt.Errorf("encode ocr results: %w", err)
	}
	if err := c.putRaw(ctx, blob.OCRArtifactKey(run.job.ID), ocrRaw); err != nil {
		return nil, err
	}
	if err := c.putRaw(ctx, blob.OCRContentKey(hash), ocrRaw); err != nil {
		return nil, err
	}

	detectStart := c.now()
	rooms := detect.PreviewRooms(ocrResult)
	detectSeconds := c.now().Sub(detectStart).Seconds()

	total := run.budget.elapsed().Seconds()
	result := models.StageResult{
		JobID:                 run.job.ID,
		Stage:                 models.StagePreview,
		Rooms:                 rooms,
		DetectionCount:        len(rooms),
		ProcessingTimeSeconds: round2(total),
		Timestamp:             c.now().UTC(),
		Timing: models.TimingMetrics{
			OCRSeconds:       round2(ocrSeconds),
			DetectionSeconds: round2(detectSeconds),
			TotalSeconds:     round2(total),
		},
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}

	stored, err := retry.Value(ctx, c.retry, "preview cache store", func(ctx context.Context) ([]byte, error) {
		return c.previews.Store(ctx, hash, c.cfg.ModelVersion, encoded)
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, apperr.CodePreviewCacheStoreFailed,
			"failed to store preview results in cache").
			With("job_id", run.job.ID).
			With("content_hash", hash)
	}
	// Another writer may have cached this content first; its bytes win.
	if string(stored) != string(encoded) {
		if err := json.Unmarshal(stored, &result); err != nil {
			return nil, apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "cached preview is corrupt")
		}
	}

	c.progress(ctx, run, &result, progressPreview, "Preview ready", nil)
	return &models.StageOutcome{Result: &result, Raw: stored, JobStatus: run.job.Status}, nil
}

// cachedPreview reads the preview cache through the retry executor.
func (c *Coordinator) cachedPreview(ctx context.Context, hash, modelVersion string) ([]byte, bool, error) {
	type lookup struct {
		raw []byte
		hit bool
	}
	l, err := retry.Value(ctx, c.retry, "preview cache get", func(ctx context.Context) (lookup, error) {
		raw, hit, err := c.previews.Get(ctx, hash, modelVersion)
		return lookup{raw: raw, hit: hit}, err
	})
	return l.raw, l.hit, err
}

// adoptOCR copies the OCR output stored for the job's content hash to the
// job's own key, so later stages run without a new OCR call.
func (c *Coordinator) adoptOCR(ctx context.Context, run *stageRun) error {
	key := blob.OCRArtifactKey(run.job.ID)
	raw, err := retry.Value(ctx, c.retry, "get artifact", func(ctx context.Context) ([]byte, error) {
		return c.blobs.Get(ctx, blob.OCRContentKey(run.job.ContentHash))
	})
	if errors.Is(err, blob.ErrNotFound) {
		run.logger.Warn("no OCR results stored for content hash, later stages will fail",
			"content_hash", run.job.ContentHash)
		return nil
	}
	if err != nil {
		return storageError(err)
	}
	return c.putRaw(ctx, key, raw)
}

// intermediate is stage 2: the first model pass over the OCR output.
func (c *Coordinator) intermediate(ctx context.Context, run *stageRun) (*models.StageOutcome, error) {
	var ocrResult models.OCRResult
	err := c.getArtifact(ctx, blob.OCRArtifactKey(run.job.ID), &ocrResult,
		apperr.CodeOCRResultsNotFound, "OCR results not found for job")
	if err != nil {
		return nil, err
	}

	input := inference.BuildModelInput(ocrResult, c.cfg.ModelVersion)
	inferStart := c.now()
	resp, err := c.invoke(ctx, c.cfg.IntermediateEndpoint, input)
	if err != nil {
		return nil, err
	}
	inferSeconds := c.now().Sub(inferStart).Seconds()

	postStart := c.now()
	processed := detect.PostProcess(resp.Detections, detect.Options{
		Threshold:        c.cfg.Threshold,
		SuppressOverlaps: true,
		Mode:             models.OutputBoxes,
	})
	result := c.modelResult(run, models.StageIntermediate, processed, inferSeconds, c.now().Sub(postStart).Seconds())

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode intermediate results: %w", err)
	}
	if err := c.putRaw(ctx, blob.IntermediateArtifactKey(run.job.ID), raw); err != nil {
		run.logger.Error("failed to persist intermediate results", "error", err)
	}

	estimate := finalStageEstimate
	c.progress(ctx, run, &result, progressIntermediate, "Intermediate processing completed", &estimate)
	return &models.StageOutcome{Result: &result, Raw: raw, JobStatus: run.job.Status}, nil
}

// final is stage 3: the refined model pass, which completes the job.
func (c *Coordinator) final(ctx context.Context, run *stageRun) (*models.StageOutcome, error) {
	var prior models.StageResult
	err := c.getArtifact(ctx, blob.IntermediateArtifactKey(run.job.ID), &prior,
		apperr.CodeIntermediateResultsNotFound, "Intermediate results not found for job")
	if err != nil {
		return nil, err
	}
	var ocrResult models.OCRResult
	err = c.getArtifact(ctx, blob.OCRArtifactKey(run.job.ID), &ocrResult,
		apperr.CodeOCRResultsNotFound, "OCR results not found for job")
	if err != nil {
		return nil, err
	}

	input := inference.BuildModelInput(ocrResult, c.cfg.ModelVersion)
	if run.budget.low() {
		run.logger.Warn("stage budget nearly spent, skipping refinement context",
			"remaining_ms", run.budget.remaining().Milliseconds())
	} else {
		input.IntermediateResults = prior.Rooms
	}

	inferStart := c.now()
	resp, err := c.invoke(ctx, c.cfg.FinalEndpoint, input)
	if err != nil {
		return nil, err
	}
	inferSeconds := c.now().Sub(inferStart).Seconds()

	postStart := c.now()
	processed := detect.PostProcess(resp.Detections, detect.Options{
		Threshold:        c.cfg.Threshold,
		Bounds:           ocrResult.Metadata.Bounds(),
		SuppressOverlaps: true,
		Mode:             c.cfg.OutputMode,
	})
	result := c.modelResult(run, models.StageFinal, processed, inferSeconds, c.now().Sub(postStart).Seconds())

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode final results: %w", err)
	}
	key := blob.FinalArtifactKey(run.job.ID)
	if err := c.putRaw(ctx, key, raw); err != nil {
		run.logger.Error("failed to persist final results", "error", err)
	}

	out := &models.StageOutcome{Result: &result, Raw: raw}
	job, err := c.jobs.Transition(ctx, run.job.ID, models.JobStatusCompleted, jobs.WithResultRef(key))
	switch {
	case err == nil:
		run.job = job
	case apperr.IsKind(err, apperr.KindAlreadyCompleted):
		latest, gerr := c.jobs.Get(ctx, run.job.ID)
		if gerr != nil {
			return nil, gerr
		}
		run.logger.Warn("job finished elsewhere before completion, skipping job_complete",
			"observed_status", string(latest.Status))
		out.JobStatus = latest.Status
		return out, nil
	default:
		return nil, err
	}

	out.JobStatus = run.job.Status
	run.notifier.Notify(ctx, run.job.ID, notify.JobComplete(run.job.ID, &result))
	return out, nil
}

func (c *Coordinator) modelResult(run *stageRun, stage models.Stage, processed detect.Result, inferSeconds, postSeconds float64) models.StageResult {
	total := run.budget.elapsed().Seconds()
	return models.StageResult{
		JobID:                 run.job.ID,
		Stage:                 stage,
		Rooms:                 processed.Rooms,
		DetectionCount:        processed.DetectionCount,
		FilteredCount:         processed.FilteredCount,
		ProcessingTimeSeconds: round2(total),
		Timestamp:             c.now().UTC(),
		Timing: models.TimingMetrics{
			InferenceSeconds:      round2(inferSeconds),
			PostprocessingSeconds: round2(postSeconds),
			TotalSeconds:          round2(total),
		},
	}
}

// progress emits the progress and stage_complete events unless the budget is
// nearly spent. Delivery failures never fail the stage.
func (c *Coordinator) progress(ctx context.Context, run *stageRun, result *models.StageResult, pct int, message string, estimate *int) {
	if run.budget.low() {
		run.logger.Warn("stage budget nearly spent, skipping progress notification",
			"remaining_ms", run.budget.remaining().Milliseconds())
		return
	}
	run.notifier.Notify(ctx, run.job.ID, notify.ProgressUpdate(run.job.ID, run.stage, pct, message, estimate))
	run.notifier.Notify(ctx, run.job.ID, notify.StageComplete(run.job.ID, run.stage, result))
}

func (c *Coordinator) invoke(ctx context.Context, endpoint string, input models.ModelInput) (models.InferenceResponse, error) {
	return retry.Value(ctx, c.retry, "inference "+endpoint, func(ctx context.Context) (models.InferenceResponse, error) {
		return c.inference.Invoke(ctx, endpoint, input)
	})
}

func (c *Coordinator) putRaw(ctx context.Context, key string, raw []byte) error {
	err := c.retry.Do(ctx, "put artifact", func(ctx context.Context) error {
		return c.blobs.Put(ctx, key, raw, "application/json")
	})
	if err != nil {
		return storageError(err)
	}
	return nil
}

// getArtifact decodes the artifact at key into v. A missing artifact is
// NotFound with the given code.
func (c *Coordinator) getArtifact(ctx context.Context, key string, v any, code, message string) error {
	raw, err := retry.Value(ctx, c.retry, "get artifact", func(ctx context.Context) ([]byte, error) {
		return c.blobs.Get(ctx, key)
	})
	if errors.Is(err, blob.ErrNotFound) {
		return apperr.NotFound(code, message).With("key", key)
	}
	if err != nil {
		return storageError(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "corrupt artifact").With("key", key)
	}
	return nil
}

func storageError(err error) error {
	if retry.Retryable(err) {
		return apperr.Unavailable("blob_store", err)
	}
	return apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "blob store failed")
}

func notRunnable(jobID string, status models.JobStatus) *apperr.Error {
	return apperr.New(apperr.KindConflict, apperr.CodeJobNotRunnable, "job is "+string(status)).
		With("job_id", jobID).
		With("current_status", string(status))
}

// runnableError turns a lost race to a terminal state into JOB_NOT_RUNNABLE.
func runnableError(err error, jobID string) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind == apperr.KindAlreadyCompleted {
		status, _ := e.Details["current_status"].(string)
		return notRunnable(jobID, models.JobStatus(status))
	}
	return err
}

// annotate adds the job ID and content hash to a stage error.
func annotate(err error, job *models.Job) error {
	var e *apperr.Error
	if !errors.As(err, &e) {
		e = apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "stage failed")
	}
	return e.With("job_id", job.ID).With("content_hash", job.ContentHash)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type discard struct{}

func (discard) Notify(context.Context, string, models.Event) int { return 0 }

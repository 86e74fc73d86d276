package notify

import (
	"time"

	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// Event timestamps are taken from this clock. Tests replace it.
var now = time.Now

func ProgressUpdate(jobID string, stage models.Stage, progress int, message string, estimatedSeconds *int) models.Event {
	return models.Event{
		Type:                      models.EventProgressUpdate,
		JobID:                     jobID,
		Stage:                     stage,
		Progress:                  &progress,
		Message:                   message,
		EstimatedSecondsRemaining: estimatedSeconds,
		Timestamp:                 now().UTC(),
	}
}

func StageComplete(jobID string, stage models.Stage, result *models.StageResult) models.Event {
	return models.Event{
		Type:      models.EventStageComplete,
		JobID:     jobID,
		Stage:     stage,
		Results:   result,
		Timestamp: now().UTC(),
	}
}

func JobComplete(jobID string, result *models.StageResult) models.Event {
	return models.Event{
		Type:      models.EventJobComplete,
		JobID:     jobID,
		Results:   result,
		Timestamp: now().UTC(),
	}
}

func JobFailed(jobID string, jobErr *models.JobError) models.Event {
	return models.Event{
		Type:      models.EventJobFailed,
		JobID:     jobID,
		Error:     jobErr,
		Timestamp: now().UTC(),
	}
}

func JobCancelled(jobID string) models.Event {
	return models.Event{
		Type:      models.EventJobCancelled,
		JobID:     jobID,
		Timestamp: now().UTC(),
	}
}

// Subscribed acknowledges a subscribe message with the job's current status.
func Subscribed(job *models.Job) models.Event {
	return models.Event{
		Type:      models.EventSubscribed,
		JobID:     job.ID,
		Status:    job.Status,
		Message:   "Successfully subscribed to job updates",
		Timestamp: now().UTC(),
	}
}

// JobStatus answers a request_status message.
func JobStatus(job *models.Job) models.Event {
	created, updated := job.CreatedAt, job.UpdatedAt
	ev := models.Event{
		Type:      models.EventJobStatus,
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: &created,
		UpdatedAt: &updated,
		Error:     job.Error,
		Timestamp: now().UTC(),
	}
	details := map[string]any{}
	if job.BlueprintFormat != "" {
		details["blueprint_format"] = string(job.BlueprintFormat)
	}
	if job.ResultRef != nil {
		details["result_ref"] = *job.ResultRef
	}
	if len(details) > 0 {
		ev.Details = details
	}
	return ev
}

// ErrorEvent reports a rejected client message back to the connection.
func ErrorEvent(code, message string, details map[string]any) models.Event {
	return models.Event{
		Type:      models.EventError,
		Message:   message,
		Error:     &models.JobError{Code: code, Message: message},
		Details:   details,
		Timestamp: now().UTC(),
	}
}

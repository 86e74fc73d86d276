package models

import "time"

type EventType string

const (
	EventProgressUpdate EventType = "progress_update"
	EventStageComplete  EventType = "stage_complete"
	EventJobComplete    EventType = "job_complete"
	EventJobFailed      EventType = "job_failed"
	EventJobCancelled   EventType = "job_cancelled"
	EventSubscribed     EventType = "subscribed"
	EventJobStatus      EventType = "job_status"
	EventError          EventType = "error"
)

// Event is a message pushed to a client connection.
type Event struct {
	Type                      EventType      `json:"type"`
	JobID                     string         `json:"job_id,omitempty"`
	Stage                     Stage          `json:"stage,omitempty"`
	Progress                  *int           `json:"progress,omitempty"`
	Message                   string         `json:"message,omitempty"`
	EstimatedSecondsRemaining *int           `json:"estimated_seconds_remaining,omitempty"`
	Results                   *StageResult   `json:"results,omitempty"`
	Error                     *JobError      `json:"error,omitempty"`
	Status                    JobStatus      `json:"status,omitempty"`
	CreatedAt                 *time.Time     `json:"created_at,omitempty"`
	UpdatedAt                 *time.Time     `json:"updated_at,omitempty"`
	Details                   map[string]any `json:"details,omitempty"`
	Timestamp                 time.Time      `json:"timestamp"`
}

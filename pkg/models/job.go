package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a detection job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// JobRetention is how long a job record lives before the janitor removes it.
const JobRetention = 7 * 24 * time.Hour

// Terminal reports whether no further transitions are possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// BlueprintFormat is the uploaded document type.
type BlueprintFormat string

const (
	FormatPNG BlueprintFormat = "png"
	FormatJPG BlueprintFormat = "jpg"
	FormatPDF BlueprintFormat = "pdf"
)

// ParseBlueprintFormat normalizes a user-supplied format. "jpeg" is accepted as jpg.
func ParseBlueprintFormat(s string) (BlueprintFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, true
	case "jpg", "jpeg":
		return FormatJPG, true
	case "pdf":
		return FormatPDF, true
	}
	return "", false
}

func (f BlueprintFormat) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPG:
		return "image/jpeg"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// JobError is the failure payload recorded on a FAILED job.
type JobError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Job is a blueprint detection job. Fields are only changed by the jobs
// service through a state transition.
type Job struct {
	ID              string          `json:"job_id"`
	Status          JobStatus       `json:"status"`
	BlueprintRef    string          `json:"blueprint_ref"`
	BlueprintFormat BlueprintFormat `json:"blueprint_format"`
	ContentHash     string          `json:"content_hash"`
	ResultRef       *string         `json:"result_ref,omitempty"`
	Error           *JobError       `json:"error,omitempty"`
	RequestID       string          `json:"request_id,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	APIVersion      string          `json:"api_version,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// JobRecord is the stored row shape of a Job. Timestamps are kept at
// microsecond precision to match timestamptz.
type JobRecord struct {
	JobID           string    `db:"job_id"`
	Status          string    `db:"status"`
	BlueprintRef    string    `db:"blueprint_ref"`
	BlueprintFormat string    `db:"blueprint_format"`
	ContentHash     string    `db:"content_hash"`
	ResultRef       *string   `db:"result_ref"`
	Error           *JobError `db:"error"`
	RequestID       string    `db:"request_id"`
	CorrelationID   string    `db:"correlation_id"`
	APIVersion      string    `db:"api_version"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	ExpiresAt       time.Time `db:"expires_at"`
}

// NewJobID returns an ID of the form job_YYYYMMDD_HHMMSS_xxxxxxxx.
func NewJobID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("job_%s_%s", now.UTC().Format("20060102_150405"), random)
}

// ToRecord converts the job into its stored shape.
func (j *Job) ToRecord() JobRecord {
	return JobRecord{
		JobID:           j.ID,
		Status:          string(j.Status),
		BlueprintRef:    j.BlueprintRef,
		BlueprintFormat: string(j.BlueprintFormat),
		ContentHash:     j.ContentHash,
		ResultRef:       j.ResultRef,
		Error:           j.Error,
		RequestID:       j.RequestID,
		CorrelationID:   j.CorrelationID,
		APIVersion:      j.APIVersion,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		ExpiresAt:       j.ExpiresAt,
	}
}

// JobFromRecord rebuilds a Job from its stored shape.
func JobFromRecord(r JobRecord) (*Job, error) {
	status := JobStatus(r.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("job %s: unknown status %q", r.JobID, r.Status)
	}
	return &Job{
		ID:              r.JobID,
		Status:          status,
		BlueprintRef:    r.BlueprintRef,
		BlueprintFormat: BlueprintFormat(r.BlueprintFormat),
		ContentHash:     r.ContentHash,
		ResultRef:       r.ResultRef,
		Error:           r.Error,
		RequestID:       r.RequestID,
		CorrelationID:   r.CorrelationID,
		APIVersion:      r.APIVersion,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}, nil
}

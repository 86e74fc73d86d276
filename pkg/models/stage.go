package models

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StagePreview      Stage = "preview"
	StageIntermediate Stage = "intermediate"
	StageFinal        Stage = "final"
)

// StageByNumber maps 1..3 to a stage name.
func StageByNumber(n int) (Stage, bool) {
	switch n {
	case 1:
		return StagePreview, true
	case 2:
		return StageIntermediate, true
	case 3:
		return StageFinal, true
	}
	return "", false
}

type TimingMetrics struct {
	OCRSeconds            float64 `json:"ocr_seconds,omitempty"`
	DetectionSeconds      float64 `json:"detection_seconds,omitempty"`
	InferenceSeconds      float64 `json:"inference_seconds,omitempty"`
	PostprocessingSeconds float64 `json:"postprocessing_seconds,omitempty"`
	TotalSeconds          float64 `json:"total_seconds"`
}

// StageResult is the serialized output of one stage.
type StageResult struct {
	JobID                 string        `json:"job_id"`
	Stage                 Stage         `json:"stage"`
	Rooms                 []Room        `json:"rooms"`
	DetectionCount        int           `json:"detection_count"`
	FilteredCount         int           `json:"filtered_count"`
	ProcessingTimeSeconds float64       `json:"processing_time_seconds"`
	Timestamp             time.Time     `json:"timestamp"`
	Timing                TimingMetrics `json:"timing_metrics"`
}

// StageOutcome is what a stage run returns to its caller.
type StageOutcome struct {
	Result *StageResult
	// Raw is the exact serialized result. For a preview served from the cache
	// it is the cached value byte for byte.
	Raw    []byte
	Cached bool
	// JobStatus is the job status observed at the end of the stage.
	JobStatus JobStatus
}

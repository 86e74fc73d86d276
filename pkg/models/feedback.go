package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FeedbackType is a reviewer's verdict on a job's detected rooms.
type FeedbackType string

const (
	FeedbackWrong   FeedbackType = "wrong"
	FeedbackCorrect FeedbackType = "correct"
	FeedbackPartial FeedbackType = "partial"
)

func (t FeedbackType) Valid() bool {
	switch t {
	case FeedbackWrong, FeedbackCorrect, FeedbackPartial:
		return true
	}
	return false
}

// Feedback is one reviewer verdict on a job, optionally scoped to a room.
// Correction is stored as submitted; "wrong" feedback always carries one
// with a bounding_box.
type Feedback struct {
	ID         string          `json:"feedback_id"`
	JobID      string          `json:"job_id"`
	Type       FeedbackType    `json:"feedback"`
	RoomID     *string         `json:"room_id"`
	Correction json.RawMessage `json:"correction"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewFeedbackID returns an ID of the form fb_YYYYMMDD_HHMMSS_xxxxxxxx.
func NewFeedbackID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("fb_%s_%s", now.UTC().Format("20060102_150405"), random)
}

package models

import "time"

type SubscriptionStatus string

const (
	SubscriptionConnected  SubscriptionStatus = "CONNECTED"
	SubscriptionSubscribed SubscriptionStatus = "SUBSCRIBED"
)

// PendingJobID is the placeholder job a connection holds before it subscribes.
const PendingJobID = "__pending__"

// Subscription ties a live connection to a job.
type Subscription struct {
	ConnectionID string             `json:"connection_id"`
	JobID        string             `json:"job_id"`
	Status       SubscriptionStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	LastActivity time.Time          `json:"last_activity"`
	ExpiresAt    time.Time          `json:"expires_at"`
}

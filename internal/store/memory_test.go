package store

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/roomscan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpdateJobIf(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateJob(ctx, models.JobRecord{JobID: "j1", Status: "PENDING", UpdatedAt: now}))
	assert.ErrorIs(t, s.CreateJob(ctx, models.JobRecord{JobID: "j1"}), ErrDuplicateKey)

	ref := "cache/final/j1/results.json"
	_, err := s.UpdateJobIf(ctx, "j1",
		JobVersion{Status: models.JobStatusPending, UpdatedAt: now.Add(time.Second)},
		JobUpdate{Status: models.JobStatusProcessing, UpdatedAt: now.Add(2 * time.Second)})
	assert.ErrorIs(t, err, ErrConditionFailed, "stale updated_at")

	rec, err := s.UpdateJobIf(ctx, "j1",
		JobVersion{Status: models.JobStatusPending, UpdatedAt: now},
		JobUpdate{Status: models.JobStatusCompleted, UpdatedAt: now.Add(time.Second), ResultRef: &ref})
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", rec.Status)
	assert.Equal(t, &ref, rec.ResultRef)

	_, err = s.UpdateJobIf(ctx, "nope", JobVersion{}, JobUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Subscriptions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.PutSubscription(ctx, models.Subscription{ConnectionID: "c2", JobID: "j1", Status: models.SubscriptionSubscribed, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.PutSubscription(ctx, models.Subscription{ConnectionID: "c1", JobID: "j1", Status: models.SubscriptionSubscribed, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.PutSubscription(ctx, models.Subscription{ConnectionID: "c3", JobID: "j1", Status: models.SubscriptionConnected, ExpiresAt: now.Add(time.Hour)}))

	subs, err := s.ListSubscriptionsByJob(ctx, "j1", now)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "c1", subs[0].ConnectionID)

	n, err := s.TouchConnection(ctx, "c1", now, now.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Subscriptions)
}

func TestMemoryStore_Feedback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, s.CreateFeedback(ctx, models.Feedback{ID: "fb_1", JobID: "j1"}), ErrNotFound)

	require.NoError(t, s.CreateJob(ctx, models.JobRecord{JobID: "j1", Status: "PENDING", ExpiresAt: now}))
	require.NoError(t, s.CreateFeedback(ctx, models.Feedback{ID: "fb_2", JobID: "j1", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.CreateFeedback(ctx, models.Feedback{ID: "fb_1", JobID: "j1", CreatedAt: now}))
	assert.ErrorIs(t, s.CreateFeedback(ctx, models.Feedback{ID: "fb_1", JobID: "j1"}), ErrDuplicateKey)

	items, err := s.ListFeedbackByJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "fb_1", items[0].ID)

	_, err = s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	items, err = s.ListFeedbackByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

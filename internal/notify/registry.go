package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/roomscan/internal/apperr"
	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/internal/transport"
	"github.com/kiranshivaraju/roomscan/pkg/models"
)

// Inbound client message types.
const (
	MessageSubscribe     = "subscribe"
	MessageUnsubscribe   = "unsubscribe"
	MessageCancelJob     = "cancel_job"
	MessageRequestStatus = "request_status"
)

var allowedTypes = []string{MessageSubscribe, MessageUnsubscribe, MessageCancelJob, MessageRequestStatus}

// JobService is the part of the job lifecycle the registry needs.
type JobService interface {
	Get(ctx context.Context, jobID string) (*models.Job, error)
	Cancel(ctx context.Context, jobID string) (*models.Job, error)
}

// Message is an inbound client message.
type Message struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

// Registry records connection subscriptions and answers client messages.
type Registry struct {
	store     store.Store
	jobs      JobService
	transport transport.Transport
	opts      options
}

func NewRegistry(st store.Store, jobs JobService, tr transport.Transport, opts ...Option) *Registry {
	return &Registry{
		store:     st,
		jobs:      jobs,
		transport: tr,
		opts:      buildOptions(retry.DefaultConfig().MaxRetries, opts),
	}
}

// Connect records a new connection under the pending placeholder job.
func (r *Registry) Connect(ctx context.Context, connID string) error {
	now := r.opts.now().UTC()
	err := r.put(ctx, models.Subscription{
		ConnectionID: connID,
		JobID:        models.PendingJobID,
		Status:       models.SubscriptionConnected,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(r.opts.ttl),
	})
	if err != nil {
		return err
	}
	r.opts.logger.Info("connection registered", "connection_id", connID)
	return nil
}

// Subscribe attaches connID to jobID and replies with the job's status. A
// missing job is reported to the connection as an error event and returned.
func (r *Registry) Subscribe(ctx context.Context, connID, jobID string) (*models.Job, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			r.reply(ctx, connID, ErrorEvent(apperr.CodeJobNotFound, "Job not found: "+jobID,
				map[string]any{"job_id": jobID}))
		}
		return nil, err
	}

	if err := r.delete(ctx, connID, models.PendingJobID); err != nil {
		return nil, err
	}
	now := r.opts.now().UTC()
	err = r.put(ctx, models.Subscription{
		ConnectionID: connID,
		JobID:        jobID,
		Status:       models.SubscriptionSubscribed,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(r.opts.ttl),
	})
	if err != nil {
		return nil, err
	}

	r.opts.logger.Info("connection subscribed", "connection_id", connID, "job_id", jobID)
	r.reply(ctx, connID, Subscribed(job))
	return job, nil
}

func (r *Registry) Unsubscribe(ctx context.Context, connID, jobID string) error {
	if err := r.delete(ctx, connID, jobID); err != nil {
		return err
	}
	r.opts.logger.Info("connection unsubscribed", "connection_id", connID, "job_id", jobID)
	return nil
}

// UnsubscribeAll removes every record held by connID and returns how many
// were deleted. Calling it for an unknown connection is not an error.
func (r *Registry) UnsubscribeAll(ctx context.Context, connID string) (int, error) {
	subs, err := retry.Value(ctx, r.opts.retry, "list subscriptions", func(ctx context.Context) ([]models.Subscription, error) {
		return r.store.ListSubscriptionsByConnection(ctx, connID)
	})
	if err != nil {
		return 0, dependencyError(err)
	}
	for _, sub := range subs {
		if err := r.delete(ctx, connID, sub.JobID); err != nil {
			return 0, err
		}
	}
	r.opts.logger.Info("connection removed", "connection_id", connID, "subscriptions", len(subs))
	return len(subs), nil
}

// Touch slides the activity and expiry of every record held by connID.
func (r *Registry) Touch(ctx context.Context, connID string) error {
	now := r.opts.now().UTC()
	_, err := retry.Value(ctx, r.opts.retry, "touch connection", func(ctx context.Context) (int64, error) {
		return r.store.TouchConnection(ctx, connID, now, now.Add(r.opts.ttl))
	})
	if err != nil {
		return dependencyError(err)
	}
	return nil
}

// HandleMessage processes one inbound client message. Problems with the
// message itself are answered with an error event and nil is returned; only
// infrastructure failures are returned.
func (r *Registry) HandleMessage(ctx context.Context, connID string, body []byte) error {
	if err := r.Touch(ctx, connID); err != nil {
		r.opts.logger.Warn("failed to update connection activity", "connection_id", connID, "error", err)
	}

	var msg Message
	if len(body) == 0 || json.Unmarshal(body, &msg) != nil {
		r.reply(ctx, connID, ErrorEvent(apperr.CodeInvalidRequest, "Invalid JSON format",
			map[string]any{"allowed_types": allowedTypes}))
		return nil
	}

	switch msg.Type {
	case MessageSubscribe, MessageUnsubscribe, MessageCancelJob, MessageRequestStatus:
	default:
		r.reply(ctx, connID, ErrorEvent(apperr.CodeInvalidRequest, "Unknown message type: "+msg.Type,
			map[string]any{"received_type": msg.Type, "allowed_types": allowedTypes}))
		return nil
	}
	if msg.JobID == "" {
		r.reply(ctx, connID, ErrorEvent(apperr.CodeInvalidRequest,
			fmt.Sprintf("Missing job_id in %s message", msg.Type), nil))
		return nil
	}

	switch msg.Type {
	case MessageSubscribe:
		_, err := r.Subscribe(ctx, connID, msg.JobID)
		return infraOnly(err)
	case MessageUnsubscribe:
		return r.Unsubscribe(ctx, connID, msg.JobID)
	case MessageCancelJob:
		job, err := r.jobs.Cancel(ctx, msg.JobID)
		if err != nil {
			r.replyError(ctx, connID, msg.JobID, err)
			return infraOnly(err)
		}
		r.reply(ctx, connID, JobCancelled(job.ID))
		return nil
	default:
		job, err := r.jobs.Get(ctx, msg.JobID)
		if err != nil {
			r.replyError(ctx, connID, msg.JobID, err)
			return infraOnly(err)
		}
		r.reply(ctx, connID, JobStatus(job))
		return nil
	}
}

func (r *Registry) replyError(ctx context.Context, connID, jobID string, err error) {
	msg := "Internal error"
	var e *apperr.Error
	if errors.As(err, &e) && infraOnly(err) == nil {
		msg = e.Message
	}
	r.reply(ctx, connID, ErrorEvent(apperr.CodeOf(err), msg, map[string]any{"job_id": jobID}))
}

// reply sends ev to a single connection. Failures are logged only.
func (r *Registry) reply(ctx context.Context, connID string, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.opts.logger.Error("failed to encode reply", "connection_id", connID, "error", err)
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, r.opts.sendTimeout)
	defer cancel()
	if err := r.transport.Send(sendCtx, connID, payload); err != nil {
		r.opts.logger.Warn("failed to send reply",
			"connection_id", connID,
			"event_type", string(ev.Type),
			"error", err,
		)
	}
}

func (r *Registry) put(ctx context.Context, sub models.Subscription) error {
	err := r.opts.retry.Do(ctx, "put subscription", func(ctx context.Context) error {
		return r.store.PutSubscription(ctx, sub)
	})
	return dependencyError(err)
}

func (r *Registry) delete(ctx context.Context, connID, jobID string) error {
	err := r.opts.retry.Do(ctx, "delete subscription", func(ctx context.Context) error {
		return r.store.DeleteSubscription(ctx, connID, jobID)
	})
	return dependencyError(err)
}

// infraOnly drops errors the client caused and keeps the rest.
func infraOnly(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound, apperr.KindAlreadyCompleted, apperr.KindConflict, apperr.KindInvalidInput:
		return nil
	}
	return err
}

func dependencyError(err error) error {
	if err == nil {
		return nil
	}
	if retry.Retryable(err) {
		return apperr.Unavailable("subscription_store", err)
	}
	return apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "subscription store failed")
}

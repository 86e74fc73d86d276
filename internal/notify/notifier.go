package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/kiranshivaraju/roomscan/internal/retry"
	"github.com/kiranshivaraju/roomscan/internal/store"
	"github.com/kiranshivaraju/roomscan/internal/transport"
	"github.com/kiranshivaraju/roomscan/pkg/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Notifier fans job events out to subscribed connections. Build one per
// pipeline invocation: the connection list for a job is read once and then
// served from the instance cache.
type Notifier struct {
	store     store.Store
	transport transport.Transport
	opts      options

	mu    sync.Mutex
	conns map[string][]string
}

// NewNotifier returns a Notifier. Failed sends are retried once unless
// WithRetry supplies a different executor.
func NewNotifier(st store.Store, tr transport.Transport, opts ...Option) *Notifier {
	return &Notifier{
		store:     st,
		transport: tr,
		opts:      buildOptions(1, opts),
		conns:     make(map[string][]string),
	}
}

// Notify sends ev to every connection subscribed to jobID and returns how many
// received it. Delivery problems are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, jobID string, ev models.Event) int {
	logger := n.opts.logger.With("job_id", jobID, "event_type", string(ev.Type))

	conns, err := n.connections(ctx, jobID)
	if err != nil {
		logger.Error("failed to look up connections", "error", err)
		return 0
	}
	if len(conns) == 0 {
		logger.Debug("no connections for job")
		return 0
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Error("failed to encode event", "error", err)
		return 0
	}

	var delivered atomic.Int64
	sem := semaphore.NewWeighted(int64(n.opts.concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, connID := range conns {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if n.deliver(gctx, jobID, connID, payload) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("event delivered",
		"delivered", delivered.Load(),
		"total_connections", len(conns),
	)
	return int(delivered.Load())
}

func (n *Notifier) deliver(ctx context.Context, jobID, connID string, payload []byte) bool {
	logger := n.opts.logger.With("job_id", jobID, "connection_id", connID)

	err := n.opts.retry.Do(ctx, "send event", func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, n.opts.sendTimeout)
		defer cancel()
		return n.transport.Send(sendCtx, connID, payload)
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, transport.ErrGone):
		logger.Warn("connection gone, removing")
		n.evict(jobID, connID)
		n.dropConnection(ctx, connID)
	case retry.Retryable(err):
		logger.Warn("transient error sending event", "error", err)
	default:
		logger.Error("failed to send event", "error", err)
	}
	return false
}

func (n *Notifier) connections(ctx context.Context, jobID string) ([]string, error) {
	n.mu.Lock()
	if conns, ok := n.conns[jobID]; ok {
		n.mu.Unlock()
		return conns, nil
	}
	n.mu.Unlock()

	subs, err := retry.Value(ctx, n.opts.retry, "list subscriptions", func(ctx context.Context) ([]models.Subscription, error) {
		return n.store.ListSubscriptionsByJob(ctx, jobID, n.opts.now().UTC())
	})
	if err != nil {
		return nil, err
	}
	conns := make([]string, 0, len(subs))
	for _, sub := range subs {
		conns = append(conns, sub.ConnectionID)
	}

	n.mu.Lock()
	n.conns[jobID] = conns
	n.mu.Unlock()
	return conns, nil
}

func (n *Notifier) evict(jobID, connID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	conns := n.conns[jobID]
	kept := make([]string, 0, len(conns))
	for _, c := range conns {
		if c != connID {
			kept = append(kept, c)
		}
	}
	n.conns[jobID] = kept
}

// dropConnection removes every subscription record of a connection the
// gateway no longer knows about.
func (n *Notifier) dropConnection(ctx context.Context, connID string) {
	ctx = context.WithoutCancel(ctx)
	subs, err := n.store.ListSubscriptionsByConnection(ctx, connID)
	if err != nil {
		n.opts.logger.Warn("failed to list subscriptions of gone connection",
			"connection_id", connID, "error", err)
		return
	}
	for _, sub := range subs {
		if err := n.store.DeleteSubscription(ctx, connID, sub.JobID); err != nil {
			n.opts.logger.Warn("failed to delete subscription of gone connection",
				"connection_id", connID, "job_id", sub.JobID, "error", err)
		}
	}
}

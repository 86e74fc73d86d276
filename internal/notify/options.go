// Package notify tracks which client connections follow which jobs and
// pushes job events to them.
package notify

import (
	"log/slog"
	"time"

	"github.com/kiranshivaraju/roomscan/internal/retry"
)

const (
	DefaultConcurrency     = 10
	DefaultSendTimeout     = 5 * time.Second
	DefaultSubscriptionTTL = time.Hour
)

type options struct {
	logger      *slog.Logger
	retry       *retry.Executor
	now         func() time.Time
	concurrency int
	sendTimeout time.Duration
	ttl         time.Duration
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetry sets the executor used for store calls and sends.
func WithRetry(e *retry.Executor) Option {
	return func(o *options) { o.retry = e }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithConcurrency bounds the number of sends in flight for one Notify call.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithSendTimeout caps each individual send attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) { o.sendTimeout = d }
}

// WithSubscriptionTTL sets how long a subscription lives without activity.
func WithSubscriptionTTL(d time.Duration) Option {
	return func(o *options) { o.ttl = d }
}

func buildOptions(defaultRetries int, opts []Option) options {
	o := options{
		now:         time.Now,
		concurrency: DefaultConcurrency,
		sendTimeout: DefaultSendTimeout,
		ttl:         DefaultSubscriptionTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.retry == nil {
		cfg := retry.DefaultConfig()
		cfg.MaxRetries = defaultRetries
		o.retry = retry.New(cfg, retry.WithLogger(o.logger))
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.sendTimeout <= 0 {
		o.sendTimeout = DefaultSendTimeout
	}
	if o.ttl <= 0 {
		o.ttl = DefaultSubscriptionTTL
	}
	return o
}

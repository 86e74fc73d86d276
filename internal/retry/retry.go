// Package retry runs calls to external services with jittered exponential backoff.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Config controls the backoff schedule. MaxRetries counts retries, so an
// operation runs at most MaxRetries+1 times.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2,
	}
}

// jitterFraction is the upper bound of the random delay added on top of the base delay.
const jitterFraction = 0.25

// Executor retries operations whose errors are classified as transient.
// It is safe for concurrent use.
type Executor struct {
	cfg       Config
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func(max float64) float64
	logger    *slog.Logger
}

type Option func(*Executor)

// WithClassifier replaces the default retryable-error check.
func WithClassifier(fn func(error) bool) Option {
	return func(e *Executor) { e.retryable = fn }
}

// WithSleep replaces the context-aware sleep. Tests use it to record delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithJitter replaces the uniform [0,max) jitter source.
func WithJitter(fn func(max float64) float64) Option {
	return func(e *Executor) { e.jitter = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = def.Multiplier
	}
	e := &Executor{
		cfg:       cfg,
		retryable: Retryable,
		sleep:     sleepContext,
		jitter:    func(max float64) float64 { return rand.Float64() * max },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BaseDelay is min(MaxDelay, InitialDelay * Multiplier^attempt), attempt counted from 0.
func (e *Executor) BaseDelay(attempt int) time.Duration {
	d := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(attempt))
	if d > float64(e.cfg.MaxDelay) || math.IsInf(d, 0) {
		return e.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Backoff is the base delay plus up to 25% of it in random jitter.
func (e *Executor) Backoff(attempt int) time.Duration {
	base := e.BaseDelay(attempt)
	return base + time.Duration(e.jitter(float64(base)*jitterFraction))
}

// Do runs fn until it succeeds, returns a fatal error, or retries run out.
// The last error is returned unchanged. If ctx ends during a backoff sleep
// the context error is returned.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !e.retryable(err) || attempt >= e.cfg.MaxRetries || ctx.Err() != nil {
			return err
		}

		delay := e.Backoff(attempt)
		e.logger.Warn("transient error, retrying",
			"op", op,
			"attempt", attempt+1,
			"max_retries", e.cfg.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// Value is Do for operations that return a result.
func Value[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

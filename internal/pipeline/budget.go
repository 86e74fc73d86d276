package pipeline

import "time"

// lowBudget is the remaining time below which optional steps are skipped.
const lowBudget = 5 * time.Second

// budget is a soft per-stage time limit. Running over it is logged, never
// enforced; the runner's stage timeout is the hard limit.
type budget struct {
	start time.Time
	limit time.Duration
	now   func() time.Time
}

func newBudget(limit time.Duration, now func() time.Time) *budget {
	return &budget{start: now(), limit: limit, now: now}
}

func (b *budget) elapsed() time.Duration {
	return b.now().Sub(b.start)
}

func (b *budget) remaining() time.Duration {
	return b.limit - b.elapsed()
}

// low reports whether optional work should be skipped.
func (b *budget) low() bool {
	return b.remaining() < lowBudget
}

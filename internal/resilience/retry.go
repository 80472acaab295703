package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff describes how many attempts an operation gets and how long to wait
// between them.
type Backoff struct {
	// Attempts counts the first try. 1 disables retries.
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Factor   float64
	// Jitter is a fraction of the computed delay, applied symmetrically.
	Jitter float64

	// Retryable overrides IsTransient when set.
	Retryable func(err error) bool
}

// DefaultBackoff is tuned for rate-limited search APIs.
func DefaultBackoff() Backoff {
	return Backoff{
		Attempts: 3,
		Initial:  time.Second,
		Max:      20 * time.Second,
		Factor:   2,
		Jitter:   0.2,
	}
}

func (b Backoff) normalized() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 3
	}
	if b.Initial <= 0 {
		b.Initial = time.Second
	}
	if b.Max <= 0 {
		b.Max = 20 * time.Second
	}
	if b.Factor < 1 {
		b.Factor = 2
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// Delay returns the wait before retry number n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalized()
	d := float64(b.Initial) * math.Pow(b.Factor, float64(n))
	d = math.Min(d, float64(b.Max))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(math.Max(d, 0))
}

// Retry runs fn until it succeeds, returns a non-retryable error, exhausts
// its attempts, or ctx is done. op names the operation in retry logs.
func Retry[T any](ctx context.Context, b Backoff, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b = b.normalized()

	var (
		val T
		err error
	)
	for attempt := 1; ; attempt++ {
		val, err = fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !b.Retryable(err) || attempt >= b.Attempts {
			return val, err
		}

		wait := b.Delay(attempt - 1)
		zap.L().Warn("resilience: retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return val, err
		case <-t.C:
		}
	}
}

// Do is Retry for operations without a result.
func Do(ctx context.Context, b Backoff, op string, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, b, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

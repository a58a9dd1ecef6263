package coordinator

import (
	"context"
	"math/rand"
	"time"
)

const (
	// DefaultMaxRetries is how many extra attempts an idempotent operation
	// gets after its first failure.
	DefaultMaxRetries = 2
	// DefaultBackoffBase seeds the exponential backoff between attempts.
	DefaultBackoffBase = 250 * time.Millisecond
)

// requestWithRetry runs call, feeding every outcome into the worker's circuit
// breaker. Idempotent operations are retried up to MaxRetries extra times
// with randomized exponential backoff; anything that could double-apply gets
// exactly one attempt. Returns the last transport error, or nil on success.
func (c *Coordinator) requestWithRetry(ctx context.Context, br failureRecorder, idempotent bool, call func(ctx context.Context) error) error {
	attempts := 1
	if idempotent {
		attempts = c.cfg.MaxRetries + 1
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = call(ctx)
		if err == nil {
			br.Success()
			return nil
		}
		br.Failure()

		if attempt+1 >= attempts {
			return err
		}
		// base*2^attempt plus up to one extra base of jitter, so retries
		// across guilds do not synchronize.
		delay := c.cfg.BackoffBase<<attempt + time.Duration(c.randInt63n(int64(c.cfg.BackoffBase)))
		if serr := c.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
}

// failureRecorder is the slice of the breaker the retry loop needs.
type failureRecorder interface {
	Success()
	Failure()
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultRandInt63n(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return rand.Int63n(n)
}

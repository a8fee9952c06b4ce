package llm

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/neary-ai/neary-sub000/internal/domain"
)

// RetryPolicy retries transient provider failures with a base^n second
// back-off between attempts.
type RetryPolicy struct {
	Attempts    int
	BaseSeconds float64
}

// DefaultRetryPolicy is three attempts with 2s and 4s waits.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseSeconds: 2}

type powerBackOff struct {
	base float64
	n    int
}

func (b *powerBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(math.Pow(b.base, float64(b.n)) * float64(time.Second))
}

func (b *powerBackOff) Reset() { b.n = 0 }

// Do runs op until it succeeds, returns a non-transient error, or the
// attempts are exhausted. notify is called before each retry.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error, notify func(attempt int, err error, wait time.Duration)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var b backoff.BackOff = &powerBackOff{base: p.BaseSeconds}
	b = backoff.WithMaxRetries(b, uint64(attempts-1))
	b = backoff.WithContext(b, ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(attempt)
		if err == nil || domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) { notify(attempt, err, wait) }
	}
	return backoff.RetryNotify(operation, b, onRetry)
}

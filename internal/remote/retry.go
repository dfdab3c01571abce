package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"sentinal-client/internal/metrics"
)

// Policy bounds the retries of one remote call.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 4, Initial: 500 * time.Millisecond, Max: 5 * time.Second}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Retry runs fn until it succeeds, returns a Permanent error, ctx ends or the
// attempts run out. The last error is returned unwrapped.
func Retry(ctx context.Context, p Policy, op string, fn func() error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		exp.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		exp.MaxInterval = p.Max
	}
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)
	return backoff.RetryNotify(fn, b, func(error, time.Duration) {
		metrics.IncRemoteRetry(op)
	})
}

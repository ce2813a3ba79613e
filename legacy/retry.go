package legacy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retry of classic session loads on ErrUnavailable.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	Backoff  float64
}

// DefaultRetryPolicy is three attempts starting at half a second, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond, Backoff: 2}
}

// Validate rejects non-positive attempts, negative delays and a multiplier below 1.
func (p RetryPolicy) Validate() error {
	if p.Attempts < 1 {
		return errors.New("legacy: retry attempts must be at least 1")
	}
	if p.Delay < 0 {
		return errors.New("legacy: retry delay must not be negative")
	}
	if p.Backoff < 1 {
		return errors.New("legacy: retry backoff must be at least 1")
	}
	return nil
}

// retry runs op until it succeeds, fails with an error other than
// ErrUnavailable, or the attempts are spent.
func (p RetryPolicy) retry(ctx context.Context, onRetry func(error, time.Duration), op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = p.Backoff
	b.RandomizationFactor = 0
	b.MaxInterval = p.Delay * time.Duration(1<<uint(max(p.Attempts, 1)))
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(p.Attempts-1, 0))), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errors.Is(err, ErrUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, onRetry)
}

package mle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/your-org/metabridge/internal/transform"
)

// RetryingSyncer wraps a Syncer with bounded exponential backoff keyed off
// the Retryable flag. Non-retryable rejections and token errors pass
// through untouched after the first attempt.
type RetryingSyncer struct {
	next           Syncer
	maxAttempts    uint
	initialBackoff time.Duration
	logger         *zap.Logger
}

// NewRetryingSyncer wraps next. maxAttempts counts the initial call, so a
// value below 2 returns next unwrapped.
func NewRetryingSyncer(next Syncer, maxAttempts int, initialBackoff time.Duration, logger *zap.Logger) Syncer {
	if maxAttempts < 2 {
		return next
	}
	if initialBackoff <= 0 {
		initialBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingSyncer{
		next:           next,
		maxAttempts:    uint(maxAttempts),
		initialBackoff: initialBackoff,
		logger:         logger,
	}
}

func (r *RetryingSyncer) Create(ctx context.Context, data *transform.NormalizedMetadata) (*Result, error) {
	return r.execute(ctx, "create", func() (*Result, error) { return r.next.Create(ctx, data) })
}

func (r *RetryingSyncer) Update(ctx context.Context, id string, data *transform.NormalizedMetadata) (*Result, error) {
	return r.execute(ctx, "update", func() (*Result, error) { return r.next.Update(ctx, id, data) })
}

func (r *RetryingSyncer) Remove(ctx context.Context, id string) (*Result, error) {
	return r.execute(ctx, "remove", func() (*Result, error) { return r.next.Remove(ctx, id) })
}

func (r *RetryingSyncer) execute(ctx context.Context, op string, call func() (*Result, error)) (*Result, error) {
	var last *Result
	attempt := 0

	operation := func() (*Result, error) {
		attempt++
		res, err := call()
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		last = res
		if !res.Success && res.Retryable {
			r.logger.Warn("retryable sync failure",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.String("status", res.Status))
			return nil, fmt.Errorf("mle %s attempt %d failed retryably", op, attempt)
		}
		return res, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.initialBackoff

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(r.maxAttempts))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Unwrap()
		}
		// Retries exhausted on a classified failure: the last Result is
		// still the answer, as data.
		if last != nil {
			return last, nil
		}
		return nil, err
	}
	return res, nil
}

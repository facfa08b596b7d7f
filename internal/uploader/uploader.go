// Package uploader wraps the backend's bulk-write call with batching, a
// bounded retry policy, and a shared rate limiter.
package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"docindex/internal/backend"
	"docindex/internal/flatten"
)

const DefaultBatchSize = 1000

// Batch is an ordered, size-bounded group of validated records. Treat it as
// immutable once formed.
type Batch struct {
	Records []flatten.Record
}

// Split cuts records into batches of at most size, preserving order.
func Split(records []flatten.Record, size int) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var batches []Batch
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, Batch{Records: records[start:end]})
	}
	return batches
}

// RetryPolicy is the explicit, testable retry configuration. MaxAttempts
// counts the first try: 3 means one call plus two retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		Multiplier:      2,
	}
}

type Uploader struct {
	backend backend.Backend
	policy  RetryPolicy
	limiter *rate.Limiter
	timeout time.Duration
	log     *slog.Logger
}

// New builds an uploader. The limiter is shared across all workers so that
// concurrent files do not independently retry into the same rate limit.
func New(b backend.Backend, policy RetryPolicy, limiter *rate.Limiter, timeout time.Duration, log *slog.Logger) *Uploader {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &Uploader{
		backend: b,
		policy:  policy,
		limiter: limiter,
		timeout: timeout,
		log:     log,
	}
}

// Upload sends one batch, retrying the same batch on transient failures with
// exponential backoff plus jitter. Auth failures and per-record rejections
// are never retried. A non-nil error means the batch failed in aggregate.
func (u *Uploader) Upload(ctx context.Context, batch Batch) (backend.BatchOutcome, error) {
	var outcome backend.BatchOutcome
	attempt := 0

	op := func() error {
		// Cancellation stops new attempts but an in-flight write is allowed
		// to finish, so the attempt context detaches from ctx's cancel.
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if u.limiter != nil {
			if err := u.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		attempt++
		attemptCtx := context.WithoutCancel(ctx)
		if u.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(attemptCtx, u.timeout)
			defer cancel()
		}

		var err error
		outcome, err = u.backend.UploadBatch(attemptCtx, batch.Records)
		if err == nil {
			return nil
		}
		if backend.IsAuth(err) {
			return backoff.Permanent(err)
		}
		if backend.IsTransient(err) {
			u.log.Warn("transient upload failure, will retry",
				"attempt", attempt, "max_attempts", u.policy.MaxAttempts, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.policy.InitialInterval
	bo.Multiplier = u.policy.Multiplier
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(u.policy.MaxAttempts-1)))
	if err != nil {
		return backend.BatchOutcome{}, fmt.Errorf("upload batch of %d records: %w", len(batch.Records), err)
	}
	return outcome, nil
}

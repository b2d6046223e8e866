// Package backoff provides the transient-failure retry helper shared by the
// adapters package, mirroring the teacher's root-level retry.go: Fibonacci
// backoff capped at a fixed number of attempts.
package backoff

import (
	"context"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task, retrying any error it returns with Fibonacci backoff
// up to maxRetries times. If retries are exhausted, gaveUp is invoked (when
// not nil) and the final error is returned. Adapters use this around
// doBegin/doCommit calls that can fail transiently (connection reset,
// deadlock); the engine itself never retries (§5 - the core is synchronous).
func Retry(ctx context.Context, maxRetries uint64, task func(ctx context.Context) error, gaveUp func(ctx context.Context)) error {
	b := retry.NewFibonacci(100 * time.Millisecond)
	retryable := func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}
	if err := retry.Do(ctx, retry.WithMaxRetries(maxRetries, b), retryable); err != nil {
		log.Warn(err.Error() + ", gave up")
		if gaveUp != nil {
			gaveUp(ctx)
		}
		return err
	}
	return nil
}

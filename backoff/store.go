package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricetrack/storemesh"
)

// StorePolicy is the retry policy for store calls: exponential backoff
// with jitter between initial and maxDelay, retrying only errors that
// storemesh.IsRetryable accepts.
func StorePolicy(attempts int, initial, maxDelay time.Duration) Policy {
	return Policy{
		Attempts:  attempts,
		Strategy:  NewExponentialWithJitter(initial, maxDelay),
		Retryable: storemesh.IsRetryable,
	}
}

// StoreCall runs fn under p, bounding each attempt by timeout. Final errors
// pass through unchanged, a done ctx is reported as ctx.Err(), and an
// exhausted budget becomes storemesh.ErrTransientStore.
func StoreCall(ctx context.Context, p Policy, timeout time.Duration, op string, logger *slog.Logger, fn func(ctx context.Context) error) error {
	err := Retry(ctx, p, func(ctx context.Context) error {
		if timeout <= 0 {
			return fn(ctx)
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(callCtx)
	}, func(attempt int, delay time.Duration, err error) {
		if logger != nil {
			logger.Debug("store call retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}
	})

	switch {
	case err == nil:
		return nil
	case p.Retryable != nil && !p.Retryable(err):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
		return storemesh.Transient(op, err)
	}
}

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/pricetrack/storemesh/task"
)

// Recover returns middleware that converts a handler panic into an error.
// A panicking task is retried like any other failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task handler panicked",
					slog.String("task_type", string(t.Type)),
					slog.String("task_id", t.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s task: %v", t.Type, r)
			}
		}()
		return next(ctx)
	}
}

// Package middleware provides composable middleware for task execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, bound run time, log, trace, measure).
package middleware

import (
	"context"

	"github.com/pricetrack/storemesh/task"
)

// Handler is the terminal function that runs the task handler.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It must call next
// to continue the chain unless it short-circuits with an error.
type Middleware func(ctx context.Context, t *task.Task, next Handler) error

// Chain composes middleware. The first middleware in the list is the
// outermost wrapper:
//
//	Chain(logging, recover, timeout) runs as logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, prev)
			}
		}
		return h(ctx)
	}
}

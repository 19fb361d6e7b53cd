package middleware

import (
	"context"
	"time"

	"github.com/pricetrack/storemesh/task"
)

// Timeout returns middleware that bounds a single handler run. override
// may return a per-type duration; zero falls back to def.
func Timeout(def time.Duration, override func(task.Type) time.Duration) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		d := def
		if override != nil {
			if o := override(t.Type); o > 0 {
				d = o
			}
		}
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}

// Package worker provides the task execution engine: an Executor that
// runs registered handlers through middleware and settles the outcome on
// the queue, and a Pool of goroutines that dequeue and execute tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/backoff"
	"github.com/pricetrack/storemesh/dlq"
	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/middleware"
	"github.com/pricetrack/storemesh/task"
)

// Executor runs a single task through middleware and the registered
// handler, then acks, re-queues or dead-letters it.
type Executor struct {
	registry   *task.Registry
	queue      task.Queue
	dlqService *dlq.Service
	extensions *ext.Registry
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *task.Registry,
	queue task.Queue,
	dlqService *dlq.Service,
	extensions *ext.Registry,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	if dlqService == nil {
		dlqService = dlq.NewService(queue, extensions, logger)
	}
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Executor{
		registry:   registry,
		queue:      queue,
		dlqService: dlqService,
		extensions: extensions,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs t and settles it.
// On success: acks, emits TaskCompleted.
// On a non-retryable failure: dead-letters immediately.
// On any other failure: nacks with a backoff delay; the queue dead-letters
// the task once its attempts are spent.
//
// The returned error is the handler error, or the settle error when the
// queue could not record the outcome.
func (e *Executor) Execute(ctx context.Context, t *task.Task) error {
	start := time.Now()

	handler, ok := e.registry.Get(t.Type)
	var err error
	if !ok {
		err = task.NonRetryable(fmt.Errorf("%w for task type %q", storemesh.ErrNoHandler, t.Type))
	} else {
		terminal := func(ctx context.Context) error {
			return handler(ctx, t.Payload)
		}
		err = e.mw(ctx, t, terminal)
	}
	elapsed := time.Since(start)

	// Settling must survive a cancelled run context.
	settle := context.WithoutCancel(ctx)
	if err == nil {
		return e.handleSuccess(settle, t, elapsed)
	}
	err = fmt.Errorf("%w: %w", storemesh.ErrTaskHandler, err)
	if task.IsNonRetryable(err) {
		return e.sendToDLQ(settle, t, err)
	}
	return e.handleFailure(settle, t, err)
}

func (e *Executor) handleSuccess(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	if err := e.queue.Ack(ctx, t.ID, t.Attempt); err != nil {
		e.logger.Error("failed to ack task",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", string(t.Type)),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.extensions.EmitTaskCompleted(ctx, t, elapsed)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, t *task.Task, handlerErr error) error {
	delay := e.backoff.Delay(t.Attempt)
	st, err := e.queue.Nack(ctx, t.ID, t.Attempt, handlerErr.Error(), delay)
	if err != nil {
		e.logger.Error("failed to nack task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return errors.Join(handlerErr, err)
	}

	if st == task.StateDeadLettered {
		e.logger.Error("task dead-lettered after exhausting attempts",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", string(t.Type)),
			slog.Int("attempt", t.Attempt),
			slog.Int("max_attempts", t.MaxAttempts),
			slog.String("error", handlerErr.Error()),
		)
		e.extensions.EmitTaskDeadLettered(ctx, t, handlerErr)
		return handlerErr
	}

	visibleAt := time.Now().UTC().Add(delay)
	e.logger.Info("task scheduled for retry",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", string(t.Type)),
		slog.Int("attempt", t.Attempt),
		slog.Int("max_attempts", t.MaxAttempts),
		slog.Duration("delay", delay),
	)
	e.extensions.EmitTaskRetrying(ctx, t, visibleAt, handlerErr)
	return handlerErr
}

func (e *Executor) sendToDLQ(ctx context.Context, t *task.Task, handlerErr error) error {
	if err := e.dlqService.Push(ctx, t, handlerErr); err != nil {
		e.logger.Error("failed to dead-letter task",
			slog.String("task_id", t.ID.String()),
			slog.String("error", err.Error()),
		)
		return errors.Join(handlerErr, err)
	}
	return handlerErr
}

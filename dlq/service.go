package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

// Service provides dead-letter operations over a task queue.
type Service struct {
	queue      task.Queue
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewService creates a dead-letter service. extensions and logger may be
// nil.
func NewService(q task.Queue, extensions *ext.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if extensions == nil {
		extensions = ext.NewRegistry(logger)
	}
	return &Service{queue: q, extensions: extensions, logger: logger}
}

// Push dead-letters an in-progress task because of cause.
func (s *Service) Push(ctx context.Context, t *task.Task, cause error) error {
	msg := "dead-lettered"
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.queue.DeadLetter(ctx, t.ID, t.Attempt, msg); err != nil {
		return fmt.Errorf("dead-letter task %s: %w", t.ID, err)
	}

	s.logger.Error("task dead-lettered",
		slog.String("task_id", t.ID.String()),
		slog.String("task_type", string(t.Type)),
		slog.Int("attempt", t.Attempt),
		slog.String("error", msg),
	)
	s.extensions.EmitTaskDeadLettered(ctx, t, cause)
	return nil
}

// Get returns the entry of a dead-lettered task.
func (s *Service) Get(ctx context.Context, taskID id.TaskID) (*Entry, error) {
	t, err := s.queue.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t.State != task.StateDeadLettered {
		return nil, fmt.Errorf("%w: task %s is %s", storemesh.ErrTaskNotFound, taskID, t.State)
	}
	return EntryFromTask(t), nil
}

// List returns dead-lettered entries, oldest first.
func (s *Service) List(ctx context.Context, opts task.ListOpts) ([]*Entry, error) {
	tasks, err := s.queue.ListDeadLettered(ctx, opts)
	if err != nil {
		return nil, err
	}
	entries := make([]*Entry, len(tasks))
	for i, t := range tasks {
		entries[i] = EntryFromTask(t)
	}
	return entries, nil
}

// Count returns the number of dead-lettered tasks.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.queue.CountDeadLettered(ctx)
}

// Requeue returns a dead-lettered task to the queue with a fresh budget.
// Requeueing a task that is not dead-lettered returns
// storemesh.ErrInvalidState.
func (s *Service) Requeue(ctx context.Context, taskID id.TaskID) error {
	if err := s.queue.Requeue(ctx, taskID); err != nil {
		return err
	}

	t, err := s.queue.Get(ctx, taskID)
	if err != nil {
		// Already requeued; only the hook payload is missing.
		s.logger.Warn("requeued task not readable",
			slog.String("task_id", taskID.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	s.logger.Info("task requeued",
		slog.String("task_id", taskID.String()),
		slog.String("task_type", string(t.Type)),
	)
	s.extensions.EmitTaskRequeued(ctx, t)
	return nil
}

// Purge deletes entries dead-lettered before the given instant.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.queue.PurgeDeadLettered(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("dead letters purged",
			slog.Int64("count", n),
			slog.Time("before", before),
		)
	}
	return n, nil
}

package task

import (
	"context"
	"time"

	"github.com/pricetrack/storemesh/id"
)

// ListOpts pages dead-letter listings.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
}

// Queue is the task queue contract. Delivery is at-least-once.
type Queue interface {
	// Enqueue persists a queued task.
	Enqueue(ctx context.Context, t *Task) (id.TaskID, error)

	// Dequeue claims the next visible task, waiting up to wait. It returns
	// nil, nil when nothing became visible in time. In-progress tasks whose
	// visibility deadline passed are reclaimed first.
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)

	// Ack completes an in-progress task. attempt is the delivery being
	// settled, as returned by Dequeue; a mismatch yields
	// storemesh.ErrStaleDelivery. The same holds for Nack and DeadLetter.
	Ack(ctx context.Context, taskID id.TaskID, attempt int) error

	// Nack records a failed attempt and returns the resulting state.
	Nack(ctx context.Context, taskID id.TaskID, attempt int, cause string, delay time.Duration) (State, error)

	// DeadLetter parks an in-progress task immediately.
	DeadLetter(ctx context.Context, taskID id.TaskID, attempt int, cause string) error

	// Requeue returns a dead-lettered task to the queue.
	Requeue(ctx context.Context, taskID id.TaskID) error

	// Get returns a snapshot of a task.
	Get(ctx context.Context, taskID id.TaskID) (*Task, error)

	// Depth counts queued and in-progress tasks.
	Depth(ctx context.Context) (int64, error)

	// ListDeadLettered returns dead-lettered tasks, oldest first.
	ListDeadLettered(ctx context.Context, opts ListOpts) ([]*Task, error)

	// CountDeadLettered counts dead-lettered tasks.
	CountDeadLettered(ctx context.Context) (int64, error)

	// PurgeDeadLettered deletes dead-lettered tasks parked before the given
	// instant and returns how many were removed.
	PurgeDeadLettered(ctx context.Context, before time.Time) (int64, error)
}

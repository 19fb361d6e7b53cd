package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

var _ task.Queue = (*Queue)(nil)

// Queue is an in-process task queue with visibility timeouts.
type Queue struct {
	mu         sync.Mutex
	tasks      map[string]*task.Task
	visibility time.Duration
	retention  time.Duration
	// completed lists completed task IDs in completion order for pruning.
	completed []completion
	// wake is closed and replaced whenever a task may have become
	// claimable.
	wake chan struct{}
}

type completion struct {
	key string
	at  time.Time
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithVisibilityTimeout sets how long a dequeued task stays hidden.
func WithVisibilityTimeout(d time.Duration) QueueOption {
	return func(q *Queue) { q.visibility = d }
}

// WithCompletedRetention sets how long completed tasks stay readable by
// Get. Zero removes them on Ack.
func WithCompletedRetention(d time.Duration) QueueOption {
	return func(q *Queue) { q.retention = d }
}

// NewQueue returns an empty Queue with a 30s visibility timeout. Completed
// tasks are kept for one minute.
func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		tasks:      make(map[string]*task.Task),
		visibility: 30 * time.Second,
		retention:  time.Minute,
		wake:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// pruneLocked drops completed tasks older than the retention window.
func (q *Queue) pruneLocked(now time.Time) {
	n := 0
	for _, c := range q.completed {
		if now.Sub(c.at) < q.retention {
			break
		}
		if t, ok := q.tasks[c.key]; ok && t.State == task.StateCompleted {
			delete(q.tasks, c.key)
		}
		n++
	}
	if n > 0 {
		q.completed = append(q.completed[:0], q.completed[n:]...)
	}
}

func (q *Queue) lookupLocked(taskID id.TaskID) (*task.Task, error) {
	q.pruneLocked(time.Now().UTC())
	t, ok := q.tasks[taskID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storemesh.ErrTaskNotFound, taskID)
	}
	return t, nil
}

// Enqueue stores a copy of t.
func (q *Queue) Enqueue(_ context.Context, t *task.Task) (id.TaskID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := t.ID.String()
	if _, exists := q.tasks[key]; exists {
		return t.ID, fmt.Errorf("%w: task %s", storemesh.ErrDuplicate, key)
	}
	q.tasks[key] = t.Clone()
	q.signalLocked()
	return t.ID, nil
}

// Dequeue claims the next visible task, waiting up to wait.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*task.Task, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		now := time.Now().UTC()
		q.pruneLocked(now)
		claimed, next := q.claimLocked(now)
		wake := q.wake
		q.mu.Unlock()

		if claimed != nil {
			return claimed, nil
		}

		var (
			retry <-chan time.Time
			timer *time.Timer
		)
		if next > 0 {
			timer = time.NewTimer(next)
			retry = timer.C
		}

		var done, expired bool
		select {
		case <-ctx.Done():
			done = true
		case <-deadline.C:
			expired = true
		case <-wake:
		case <-retry:
		}
		if timer != nil {
			timer.Stop()
		}
		switch {
		case done:
			return nil, ctx.Err()
		case expired:
			return nil, nil
		}
	}
}

// claimLocked reclaims expired in-progress tasks, then claims the oldest
// visible queued task. When none is visible it returns how long until the
// next one may be.
func (q *Queue) claimLocked(now time.Time) (*task.Task, time.Duration) {
	var (
		candidates []*task.Task
		next       time.Duration
	)
	soonest := func(at time.Time) {
		d := at.Sub(now)
		if d > 0 && (next == 0 || d < next) {
			next = d
		}
	}

	for _, t := range q.tasks {
		if t.State == task.StateInProgress {
			if now.Before(t.VisibleAt) {
				soonest(t.VisibleAt)
				continue
			}
			if st, err := t.Reclaim(now); err != nil || st != task.StateQueued {
				continue
			}
		}
		if t.State != task.StateQueued {
			continue
		}
		if now.Before(t.VisibleAt) {
			soonest(t.VisibleAt)
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, next
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.VisibleAt.Equal(b.VisibleAt) {
			return a.VisibleAt.Before(b.VisibleAt)
		}
		return a.ID.Compare(b.ID) < 0
	})
	t := candidates[0]
	if err := t.Claim(now, q.visibility); err != nil {
		return nil, next
	}
	return t.Clone(), 0
}

// Ack completes an in-progress task.
func (q *Queue) Ack(_ context.Context, taskID id.TaskID, attempt int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.lookupLocked(taskID)
	if err != nil {
		return err
	}
	if err := t.CheckDelivery(attempt); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := t.Complete(now); err != nil {
		return err
	}
	if q.retention <= 0 {
		delete(q.tasks, taskID.String())
		return nil
	}
	q.completed = append(q.completed, completion{key: taskID.String(), at: now})
	return nil
}

// Nack records a failed attempt.
func (q *Queue) Nack(_ context.Context, taskID id.TaskID, attempt int, cause string, delay time.Duration) (task.State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.lookupLocked(taskID)
	if err != nil {
		return "", err
	}
	if err := t.CheckDelivery(attempt); err != nil {
		return t.State, err
	}
	st, err := t.Fail(time.Now().UTC(), cause, delay)
	if err == nil && st == task.StateQueued {
		q.signalLocked()
	}
	return st, err
}

// DeadLetter parks an in-progress task.
func (q *Queue) DeadLetter(_ context.Context, taskID id.TaskID, attempt int, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.lookupLocked(taskID)
	if err != nil {
		return err
	}
	if err := t.CheckDelivery(attempt); err != nil {
		return err
	}
	return t.DeadLetter(time.Now().UTC(), cause)
}

// Requeue returns a dead-lettered task to the queue.
func (q *Queue) Requeue(_ context.Context, taskID id.TaskID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.lookupLocked(taskID)
	if err != nil {
		return err
	}
	if err := t.Requeue(time.Now().UTC()); err != nil {
		return err
	}
	q.signalLocked()
	return nil
}

// Get returns a copy of a task.
func (q *Queue) Get(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.lookupLocked(taskID)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

// Depth counts queued and in-progress tasks.
func (q *Queue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pruneLocked(time.Now().UTC())

	var n int64
	for _, t := range q.tasks {
		if t.State == task.StateQueued || t.State == task.StateInProgress {
			n++
		}
	}
	return n, nil
}

func (q *Queue) deadLetteredLocked() []*task.Task {
	var out []*task.Task
	for _, t := range q.tasks {
		if t.State == task.StateDeadLettered {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DeadLetteredAt, out[j].DeadLetteredAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID.Compare(out[j].ID) < 0
	})
	return out
}

// ListDeadLettered returns dead-lettered tasks, oldest first.
func (q *Queue) ListDeadLettered(_ context.Context, opts task.ListOpts) ([]*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	all := q.deadLetteredLocked()
	if opts.Offset >= len(all) {
		return []*task.Task{}, nil
	}
	all = all[opts.Offset:]
	if opts.Limit > 0 && len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	out := make([]*task.Task, len(all))
	for i, t := range all {
		out[i] = t.Clone()
	}
	return out, nil
}

// CountDeadLettered counts dead-lettered tasks.
func (q *Queue) CountDeadLettered(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.deadLetteredLocked())), nil
}

// PurgeDeadLettered removes dead-lettered tasks parked before the instant.
func (q *Queue) PurgeDeadLettered(_ context.Context, before time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var n int64
	for key, t := range q.tasks {
		if t.State == task.StateDeadLettered && t.DeadLetteredAt.Before(before) {
			delete(q.tasks, key)
			n++
		}
	}
	return n, nil
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

var _ task.Queue = (*Queue)(nil)

// claimScript moves the first task visible at ARGV[1] from the ready set
// to the inflight set with deadline ARGV[2]. Equal scores resolve by
// member, so tasks visible at the same instant are claimed in ID order.
var claimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// enqueueScript stores a task hash and its ready entry in one step unless
// the task key already exists. It returns 1 when the task was created.
var enqueueScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'data', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

const (
	maxTxRetries  = 16
	reclaimBatch  = 100
	repairTimeout = 5 * time.Second
)

var (
	// errNotDue marks an inflight entry whose deadline moved forward.
	errNotDue = errors.New("storemesh/redis: task not due")
	// errStaleIndex marks an index entry of a task that needs none.
	errStaleIndex = errors.New("storemesh/redis: stale index entry")
)

// WithVisibilityTimeout sets how long a dequeued task stays hidden.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(o *options) { o.visibility = d }
}

// WithPollInterval sets how often a waiting Dequeue retries the claim.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) { o.pollInterval = d }
}

// WithCompletedTTL sets how long completed tasks stay readable by Get.
func WithCompletedTTL(d time.Duration) Option {
	return func(o *options) { o.completedTTL = d }
}

// Queue implements task.Queue on Redis Hashes and Sorted Sets.
type Queue struct {
	client goredis.UniversalClient
	opts   options
	logger *slog.Logger
}

// NewQueue creates a Redis-backed task queue. The caller owns the client.
func NewQueue(client goredis.UniversalClient, opts ...Option) *Queue {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue{client: client, opts: o, logger: o.logger}
}

type hashReader interface {
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
}

func load(ctx context.Context, c hashReader, taskID string) (*task.Task, error) {
	raw, err := c.HGet(ctx, taskKey(taskID), "data").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("%w: %s", storemesh.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("storemesh/redis: load task: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("storemesh/redis: decode task %s: %w", taskID, err)
	}
	return &t, nil
}

func score(at time.Time) float64 { return float64(at.UnixMilli()) }

// write stores t and places it in the index matching its state.
func (q *Queue) write(ctx context.Context, pipe goredis.Pipeliner, t *task.Task, raw []byte) {
	tid := t.ID.String()
	key := taskKey(tid)
	pipe.HSet(ctx, key, "state", string(t.State), "data", raw)
	pipe.ZRem(ctx, readyKey, tid)
	pipe.ZRem(ctx, inflightKey, tid)
	pipe.ZRem(ctx, deadKey, tid)

	switch t.State {
	case task.StateQueued:
		pipe.ZAdd(ctx, readyKey, goredis.Z{Score: score(t.VisibleAt), Member: tid})
	case task.StateInProgress:
		pipe.ZAdd(ctx, inflightKey, goredis.Z{Score: score(t.VisibleAt), Member: tid})
	case task.StateDeadLettered:
		at := t.UpdatedAt
		if t.DeadLetteredAt != nil {
			at = *t.DeadLetteredAt
		}
		pipe.ZAdd(ctx, deadKey, goredis.Z{Score: score(at), Member: tid})
	}
	if t.State == task.StateCompleted && q.opts.completedTTL > 0 {
		pipe.Expire(ctx, key, q.opts.completedTTL)
	} else {
		pipe.Persist(ctx, key)
	}
}

// update applies fn to the stored task under optimistic locking and
// rewrites it with its index entries.
func (q *Queue) update(ctx context.Context, taskID string, op string, fn func(t *task.Task, now time.Time) error) (*task.Task, error) {
	key := taskKey(taskID)
	var out *task.Task

	txf := func(tx *goredis.Tx) error {
		t, err := load(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if err := fn(t, time.Now().UTC()); err != nil {
			return err
		}
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("storemesh/redis: %s: encode: %w", op, err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			q.write(ctx, pipe, t, raw)
			return nil
		}); err != nil {
			return err
		}
		out = t
		return nil
	}

	for range maxTxRetries {
		err := q.client.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("storemesh/redis: %s %s: too much contention", op, taskID)
}

// Enqueue stores a queued task together with its ready entry. Either both
// land or neither does. Re-enqueueing an existing ID returns
// storemesh.ErrDuplicate.
func (q *Queue) Enqueue(ctx context.Context, t *task.Task) (id.TaskID, error) {
	tid := t.ID.String()
	if t.State != task.StateQueued {
		return t.ID, fmt.Errorf("%w: enqueue %s task %s", storemesh.ErrInvalidState, t.State, tid)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return t.ID, fmt.Errorf("storemesh/redis: enqueue: encode: %w", err)
	}

	created, err := enqueueScript.Run(ctx, q.client,
		[]string{taskKey(tid), readyKey},
		string(t.State), raw, t.VisibleAt.UnixMilli(), tid,
	).Int()
	if err != nil {
		return t.ID, fmt.Errorf("storemesh/redis: enqueue: %w", err)
	}
	if created == 0 {
		return t.ID, fmt.Errorf("%w: task %s", storemesh.ErrDuplicate, tid)
	}
	return t.ID, nil
}

// Dequeue claims the next visible task, polling until wait elapses.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*task.Task, error) {
	deadline := time.Now().Add(wait)
	for {
		if err := q.reclaimExpired(ctx); err != nil {
			return nil, err
		}
		t, err := q.claim(ctx)
		if err != nil || t != nil {
			return t, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		pause := min(q.opts.pollInterval, remaining)
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context) (*task.Task, error) {
	now := time.Now().UTC()
	tid, err := claimScript.Run(ctx, q.client,
		[]string{readyKey, inflightKey},
		now.UnixMilli(), now.Add(q.opts.visibility).UnixMilli(),
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storemesh/redis: claim: %w", err)
	}

	t, err := q.update(ctx, tid, "claim", func(t *task.Task, now time.Time) error {
		return t.Claim(now, q.opts.visibility)
	})
	if err == nil {
		return t, nil
	}

	// The script moved the entry to inflight but the hash was not updated.
	// Put the entry back where the stored state says it belongs. When that
	// fails too, the inflight entry stays and reclaimExpired repairs it
	// after the visibility deadline.
	q.logger.Warn("task claim failed, restoring its index entry",
		slog.String("task_id", tid),
		slog.String("error", err.Error()),
	)
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), repairTimeout)
	defer cancel()
	if rErr := q.repair(rctx, tid); rErr != nil {
		q.logger.Warn("task index repair deferred to reclaim",
			slog.String("task_id", tid),
			slog.String("error", rErr.Error()),
		)
	}

	if errors.Is(err, storemesh.ErrTaskNotFound) || errors.Is(err, storemesh.ErrInvalidState) {
		return nil, nil
	}
	return nil, fmt.Errorf("storemesh/redis: claim %s: %w", tid, err)
}

// repair rewrites the index entries of a task from its stored state.
// Queued tasks return to the ready set and in-progress tasks keep their
// deadline. Entries of missing or completed tasks are removed.
func (q *Queue) repair(ctx context.Context, tid string) error {
	_, err := q.update(ctx, tid, "repair", func(t *task.Task, _ time.Time) error {
		if t.State == task.StateCompleted {
			return errStaleIndex
		}
		return nil
	})
	if errors.Is(err, errStaleIndex) || errors.Is(err, storemesh.ErrTaskNotFound) {
		return q.dropIndex(ctx, tid)
	}
	return err
}

func (q *Queue) dropIndex(ctx context.Context, tid string) error {
	if _, err := q.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRem(ctx, readyKey, tid)
		pipe.ZRem(ctx, inflightKey, tid)
		pipe.ZRem(ctx, deadKey, tid)
		return nil
	}); err != nil {
		return fmt.Errorf("storemesh/redis: drop index of %s: %w", tid, err)
	}
	return nil
}

// reclaimExpired returns overdue in-progress tasks to the ready set, or
// dead-letters them when their attempts are spent.
func (q *Queue) reclaimExpired(ctx context.Context) error {
	ids, err := q.client.ZRangeByScore(ctx, inflightKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(time.Now().UnixMilli(), 10),
		Count: reclaimBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("storemesh/redis: scan inflight: %w", err)
	}

	for _, tid := range ids {
		var restored bool
		t, err := q.update(ctx, tid, "reclaim", func(t *task.Task, now time.Time) error {
			switch t.State {
			case task.StateInProgress:
				if now.Before(t.VisibleAt) {
					return errNotDue
				}
				_, err := t.Reclaim(now)
				return err
			case task.StateCompleted:
				return errStaleIndex
			}
			// Left behind by a claim that did not land. Rewriting the
			// task moves the entry to the index of its state.
			restored = true
			return nil
		})
		switch {
		case err == nil && restored:
			q.logger.Warn("restored orphaned inflight entry",
				slog.String("task_id", tid),
				slog.String("state", string(t.State)),
			)
		case err == nil:
			q.logger.Info("task visibility expired",
				slog.String("task_id", tid),
				slog.String("state", string(t.State)),
				slog.Int("attempt", t.Attempt),
			)
		case errors.Is(err, errNotDue):
		case errors.Is(err, errStaleIndex), errors.Is(err, storemesh.ErrTaskNotFound):
			if err := q.dropIndex(ctx, tid); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// Ack completes an in-progress task.
func (q *Queue) Ack(ctx context.Context, taskID id.TaskID, attempt int) error {
	_, err := q.update(ctx, taskID.String(), "ack", func(t *task.Task, now time.Time) error {
		if err := t.CheckDelivery(attempt); err != nil {
			return err
		}
		return t.Complete(now)
	})
	return err
}

// Nack records a failed attempt.
func (q *Queue) Nack(ctx context.Context, taskID id.TaskID, attempt int, cause string, delay time.Duration) (task.State, error) {
	var st task.State
	_, err := q.update(ctx, taskID.String(), "nack", func(t *task.Task, now time.Time) error {
		if err := t.CheckDelivery(attempt); err != nil {
			return err
		}
		var err error
		st, err = t.Fail(now, cause, delay)
		return err
	})
	return st, err
}

// DeadLetter parks an in-progress task.
func (q *Queue) DeadLetter(ctx context.Context, taskID id.TaskID, attempt int, cause string) error {
	_, err := q.update(ctx, taskID.String(), "dead-letter", func(t *task.Task, now time.Time) error {
		if err := t.CheckDelivery(attempt); err != nil {
			return err
		}
		return t.DeadLetter(now, cause)
	})
	return err
}

// Requeue returns a dead-lettered task to the ready set.
func (q *Queue) Requeue(ctx context.Context, taskID id.TaskID) error {
	_, err := q.update(ctx, taskID.String(), "requeue", func(t *task.Task, now time.Time) error {
		return t.Requeue(now)
	})
	return err
}

// Get returns a snapshot of a task.
func (q *Queue) Get(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return load(ctx, q.client, taskID.String())
}

// Depth counts queued and in-progress tasks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	ready := pipe.ZCard(ctx, readyKey)
	inflight := pipe.ZCard(ctx, inflightKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("storemesh/redis: depth: %w", err)
	}
	return ready.Val() + inflight.Val(), nil
}

// ListDeadLettered returns dead-lettered tasks, oldest first.
func (q *Queue) ListDeadLettered(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	start := int64(opts.Offset)
	stop := int64(-1)
	if opts.Limit > 0 {
		stop = start + int64(opts.Limit) - 1
	}
	ids, err := q.client.ZRange(ctx, deadKey, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("storemesh/redis: list dead letters: %w", err)
	}

	out := make([]*task.Task, 0, len(ids))
	for _, tid := range ids {
		t, err := load(ctx, q.client, tid)
		if errors.Is(err, storemesh.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CountDeadLettered counts dead-lettered tasks.
func (q *Queue) CountDeadLettered(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, deadKey).Result()
	if err != nil {
		return 0, fmt.Errorf("storemesh/redis: count dead letters: %w", err)
	}
	return n, nil
}

// PurgeDeadLettered deletes tasks dead-lettered strictly before the
// instant.
func (q *Queue) PurgeDeadLettered(ctx context.Context, before time.Time) (int64, error) {
	ids, err := q.client.ZRangeByScore(ctx, deadKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("storemesh/redis: purge scan: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, tid := range ids {
			pipe.Del(ctx, taskKey(tid))
			pipe.ZRem(ctx, deadKey, tid)
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("storemesh/redis: purge: %w", err)
	}
	return int64(len(ids)), nil
}

// Ping verifies the Redis connection is alive.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

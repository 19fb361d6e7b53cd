package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

func newTask(t *testing.T, typ task.Type, maxAttempts int) *task.Task {
	t.Helper()
	tk, err := task.New(typ, task.Payload{RecordID: id.NewRecordID().String(), ItemID: 1}, maxAttempts)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	return tk
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	tk := newTask(t, task.TypeInvalidateCache, 3)
	if _, err := q.Enqueue(ctx, tk); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if d, _ := q.Depth(ctx); d != 1 {
		t.Errorf("Depth = %d, want 1", d)
	}

	got, err := q.Dequeue(ctx, time.Second)
	if err != nil || got == nil {
		t.Fatalf("Dequeue = %v, %v", got, err)
	}
	if got.ID != tk.ID || got.State != task.StateInProgress || got.Attempt != 1 {
		t.Errorf("dequeued %+v", got)
	}
	if d, _ := q.Depth(ctx); d != 1 {
		t.Errorf("Depth with in-progress = %d, want 1", d)
	}

	if err := q.Ack(ctx, got.ID, got.Attempt); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if d, _ := q.Depth(ctx); d != 0 {
		t.Errorf("Depth after ack = %d, want 0", d)
	}
	if err := q.Ack(ctx, got.ID, got.Attempt); !errors.Is(err, storemesh.ErrInvalidState) {
		t.Errorf("double Ack = %v, want ErrInvalidState", err)
	}
}

func TestQueue_DequeueTimeout(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	start := time.Now()
	got, err := q.Dequeue(context.Background(), 30*time.Millisecond)
	if got != nil || err != nil {
		t.Fatalf("Dequeue on empty queue = %v, %v; want nil, nil", got, err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("Dequeue returned before its wait elapsed")
	}
}

func TestQueue_DequeueWakesOnEnqueue(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	done := make(chan *task.Task, 1)
	go func() {
		got, _ := q.Dequeue(ctx, 2*time.Second)
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	tk := newTask(t, task.TypeNotify, 1)
	_, _ = q.Enqueue(ctx, tk)

	select {
	case got := <-done:
		if got == nil || got.ID != tk.ID {
			t.Fatalf("got %v, want %s", got, tk.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake on Enqueue")
	}
}

func TestQueue_DequeueContextCancel(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Dequeue(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Dequeue = %v, want context.Canceled", err)
	}
}

func TestQueue_VisibilityTimeoutRedelivers(t *testing.T) {
	t.Parallel()
	q := NewQueue(WithVisibilityTimeout(30 * time.Millisecond))
	ctx := context.Background()

	tk := newTask(t, task.TypeUpdateStats, 3)
	_, _ = q.Enqueue(ctx, tk)

	first, _ := q.Dequeue(ctx, time.Second)
	if first == nil {
		t.Fatal("expected first delivery")
	}
	second, _ := q.Dequeue(ctx, time.Second)
	if second == nil || second.ID != tk.ID {
		t.Fatalf("expected redelivery of %s, got %v", tk.ID, second)
	}
	if second.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", second.Attempt)
	}
}

func TestQueue_ReclaimExhaustedDeadLetters(t *testing.T) {
	t.Parallel()
	q := NewQueue(WithVisibilityTimeout(10 * time.Millisecond))
	ctx := context.Background()

	tk := newTask(t, task.TypeUpdateStats, 1)
	_, _ = q.Enqueue(ctx, tk)
	_, _ = q.Dequeue(ctx, time.Second)

	if got, _ := q.Dequeue(ctx, 50*time.Millisecond); got != nil {
		t.Fatalf("exhausted task redelivered: %+v", got)
	}
	stored, _ := q.Get(ctx, tk.ID)
	if stored.State != task.StateDeadLettered {
		t.Errorf("State = %s, want dead_lettered", stored.State)
	}
}

func TestQueue_NackBudgetThenDeadLetterOnce(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	tk := newTask(t, task.TypeUpdateStats, 3)
	_, _ = q.Enqueue(ctx, tk)

	var states []task.State
	for range 3 {
		got, _ := q.Dequeue(ctx, time.Second)
		if got == nil {
			t.Fatal("expected a delivery")
		}
		st, err := q.Nack(ctx, got.ID, got.Attempt, "shop not found", 0)
		if err != nil {
			t.Fatalf("Nack: %v", err)
		}
		states = append(states, st)
	}

	want := []task.State{task.StateQueued, task.StateQueued, task.StateDeadLettered}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("nack %d state = %s, want %s", i+1, states[i], want[i])
		}
	}

	if n, _ := q.CountDeadLettered(ctx); n != 1 {
		t.Errorf("CountDeadLettered = %d, want 1", n)
	}
	if got, _ := q.Dequeue(ctx, 20*time.Millisecond); got != nil {
		t.Error("dead-lettered task was delivered")
	}
	if _, err := q.Nack(ctx, tk.ID, 3, "again", 0); !errors.Is(err, storemesh.ErrInvalidState) {
		t.Errorf("Nack of dead-lettered = %v, want ErrInvalidState", err)
	}
}

func TestQueue_NackDelay(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, newTask(t, task.TypeNotify, 3))
	got, _ := q.Dequeue(ctx, time.Second)
	_, _ = q.Nack(ctx, got.ID, got.Attempt, "later", 80*time.Millisecond)

	if early, _ := q.Dequeue(ctx, 20*time.Millisecond); early != nil {
		t.Fatal("task visible before its delay")
	}
	late, _ := q.Dequeue(ctx, time.Second)
	if late == nil || late.ID != got.ID {
		t.Fatal("task not redelivered after its delay")
	}
}

func TestQueue_RequeueAndPurge(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	a := newTask(t, task.TypeNotify, 1)
	b := newTask(t, task.TypeNotify, 1)
	_, _ = q.Enqueue(ctx, a)
	_, _ = q.Enqueue(ctx, b)
	for range 2 {
		got, _ := q.Dequeue(ctx, time.Second)
		if err := q.DeadLetter(ctx, got.ID, got.Attempt, "poison"); err != nil {
			t.Fatalf("DeadLetter: %v", err)
		}
	}

	list, _ := q.ListDeadLettered(ctx, task.ListOpts{Limit: 10})
	if len(list) != 2 {
		t.Fatalf("ListDeadLettered = %d, want 2", len(list))
	}

	if err := q.Requeue(ctx, a.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if err := q.Requeue(ctx, a.ID); !errors.Is(err, storemesh.ErrInvalidState) {
		t.Errorf("Requeue of queued task = %v, want ErrInvalidState", err)
	}
	again, _ := q.Dequeue(ctx, time.Second)
	if again == nil || again.ID != a.ID || again.Attempt != 1 {
		t.Fatalf("requeued task = %+v", again)
	}

	n, _ := q.PurgeDeadLettered(ctx, time.Now().Add(time.Second))
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := q.Get(ctx, b.ID); !errors.Is(err, storemesh.ErrTaskNotFound) {
		t.Errorf("Get purged = %v, want ErrTaskNotFound", err)
	}
	if err := q.Requeue(ctx, id.NewTaskID()); !errors.Is(err, storemesh.ErrTaskNotFound) {
		t.Errorf("Requeue unknown = %v, want ErrTaskNotFound", err)
	}
}

func TestQueue_ConcurrentConsumersClaimOnce(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	ctx := context.Background()

	const total = 100
	for range total {
		_, _ = q.Enqueue(ctx, newTask(t, task.TypeInvalidateCache, 3))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := q.Dequeue(ctx, 20*time.Millisecond)
				if err != nil || got == nil {
					return
				}
				mu.Lock()
				seen[got.ID.String()]++
				mu.Unlock()
				_ = q.Ack(ctx, got.ID, got.Attempt)
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("delivered %d distinct tasks, want %d", len(seen), total)
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("task %s delivered %d times", k, n)
		}
	}
}

func TestQueue_CompletedTasksArePruned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("retained for the window", func(t *testing.T) {
		t.Parallel()
		q := NewQueue(WithCompletedRetention(30 * time.Millisecond))
		tk := newTask(t, task.TypeInvalidateCache, 3)
		_, _ = q.Enqueue(ctx, tk)
		got, _ := q.Dequeue(ctx, time.Second)
		if err := q.Ack(ctx, got.ID, got.Attempt); err != nil {
			t.Fatalf("Ack: %v", err)
		}

		stored, err := q.Get(ctx, tk.ID)
		if err != nil || stored.State != task.StateCompleted {
			t.Fatalf("Get right after Ack = %v, %v", stored, err)
		}
		time.Sleep(50 * time.Millisecond)
		if _, err := q.Get(ctx, tk.ID); !errors.Is(err, storemesh.ErrTaskNotFound) {
			t.Errorf("Get after retention = %v, want ErrTaskNotFound", err)
		}
		if n := len(q.tasks); n != 0 {
			t.Errorf("tasks held = %d, want 0", n)
		}
	})

	t.Run("zero retention removes on ack", func(t *testing.T) {
		t.Parallel()
		q := NewQueue(WithCompletedRetention(0))
		tk := newTask(t, task.TypeInvalidateCache, 3)
		_, _ = q.Enqueue(ctx, tk)
		got, _ := q.Dequeue(ctx, time.Second)
		if err := q.Ack(ctx, got.ID, got.Attempt); err != nil {
			t.Fatalf("Ack: %v", err)
		}
		if _, err := q.Get(ctx, tk.ID); !errors.Is(err, storemesh.ErrTaskNotFound) {
			t.Errorf("Get after Ack = %v, want ErrTaskNotFound", err)
		}
	})
}

func TestQueue_StaleDeliveryCannotSettle(t *testing.T) {
	t.Parallel()
	q := NewQueue(WithVisibilityTimeout(20 * time.Millisecond))
	ctx := context.Background()

	tk := newTask(t, task.TypeUpdateStats, 3)
	_, _ = q.Enqueue(ctx, tk)
	first, _ := q.Dequeue(ctx, time.Second)
	second, _ := q.Dequeue(ctx, time.Second)
	if first == nil || second == nil || second.Attempt != first.Attempt+1 {
		t.Fatalf("deliveries = %+v, %+v", first, second)
	}

	if err := q.Ack(ctx, first.ID, first.Attempt); !errors.Is(err, storemesh.ErrStaleDelivery) {
		t.Errorf("stale Ack = %v, want ErrStaleDelivery", err)
	}
	if _, err := q.Nack(ctx, first.ID, first.Attempt, "late", 0); !errors.Is(err, storemesh.ErrStaleDelivery) {
		t.Errorf("stale Nack = %v, want ErrStaleDelivery", err)
	}
	if err := q.DeadLetter(ctx, first.ID, first.Attempt, "late"); !errors.Is(err, storemesh.ErrStaleDelivery) {
		t.Errorf("stale DeadLetter = %v, want ErrStaleDelivery", err)
	}

	stored, _ := q.Get(ctx, tk.ID)
	if stored.State != task.StateInProgress || stored.Attempt != second.Attempt {
		t.Fatalf("stored = %s attempt %d, want in progress attempt %d", stored.State, stored.Attempt, second.Attempt)
	}
	if err := q.Ack(ctx, second.ID, second.Attempt); err != nil {
		t.Errorf("current Ack: %v", err)
	}
}

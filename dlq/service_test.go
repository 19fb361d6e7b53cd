package dlq_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/dlq"
	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/store/memory"
	"github.com/pricetrack/storemesh/task"
)

type recordingExt struct {
	deadLettered int
	requeued     int
}

func (e *recordingExt) Name() string { return "recording" }

func (e *recordingExt) OnTaskDeadLettered(context.Context, *task.Task, error) error {
	e.deadLettered++
	return nil
}

func (e *recordingExt) OnTaskRequeued(context.Context, *task.Task) error {
	e.requeued++
	return nil
}

func setup(t *testing.T) (*memory.Queue, *dlq.Service, *recordingExt) {
	t.Helper()
	q := memory.NewQueue()
	rec := &recordingExt{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(rec)
	return q, dlq.NewService(q, reg, slog.Default()), rec
}

func claimOne(t *testing.T, q *memory.Queue, typ task.Type) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk, _ := task.New(typ, task.Payload{RecordID: "rec_1", ItemID: 1, ShopID: 5}, 3)
	if _, err := q.Enqueue(ctx, tk); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got, err := q.Dequeue(ctx, time.Second)
	if err != nil || got == nil {
		t.Fatalf("Dequeue = %v, %v", got, err)
	}
	return got
}

func TestService_PushBuildsEntry(t *testing.T) {
	q, svc, rec := setup(t)
	ctx := context.Background()

	tk := claimOne(t, q, task.TypeUpdateStats)
	if err := svc.Push(ctx, tk, errors.New("shop missing")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := svc.List(ctx, task.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.TaskID != tk.ID || e.Type != task.TypeUpdateStats || e.Error != "shop missing" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attempts != 1 || e.MaxAttempts != 3 || e.DeadLetteredAt.IsZero() {
		t.Errorf("budget fields = %+v", e)
	}
	if rec.deadLettered != 1 {
		t.Errorf("dead-letter hook fired %d times, want 1", rec.deadLettered)
	}

	got, err := svc.Get(ctx, tk.ID)
	if err != nil || got.TaskID != tk.ID {
		t.Errorf("Get = %+v, %v", got, err)
	}
	if n, _ := svc.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestService_PushTwiceFails(t *testing.T) {
	q, svc, rec := setup(t)
	ctx := context.Background()

	tk := claimOne(t, q, task.TypeNotify)
	_ = svc.Push(ctx, tk, errors.New("first"))
	if err := svc.Push(ctx, tk, errors.New("second")); !errors.Is(err, storemesh.ErrInvalidState) {
		t.Errorf("second Push = %v, want ErrInvalidState", err)
	}
	if rec.deadLettered != 1 {
		t.Errorf("dead-letter hook fired %d times, want 1", rec.deadLettered)
	}
}

func TestService_RequeueRestoresTask(t *testing.T) {
	q, svc, rec := setup(t)
	ctx := context.Background()

	tk := claimOne(t, q, task.TypeNotify)
	_ = svc.Push(ctx, tk, errors.New("boom"))

	if err := svc.Requeue(ctx, tk.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if rec.requeued != 1 {
		t.Errorf("requeue hook fired %d times, want 1", rec.requeued)
	}
	if _, err := svc.Get(ctx, tk.ID); !errors.Is(err, storemesh.ErrTaskNotFound) {
		t.Errorf("Get after requeue = %v, want ErrTaskNotFound", err)
	}

	again, _ := q.Dequeue(ctx, time.Second)
	if again == nil || again.ID != tk.ID || string(again.Payload) != string(tk.Payload) {
		t.Fatalf("requeued task = %+v", again)
	}

	if err := svc.Requeue(ctx, tk.ID); !errors.Is(err, storemesh.ErrInvalidState) {
		t.Errorf("Requeue in-progress task = %v, want ErrInvalidState", err)
	}
}

func TestService_Purge(t *testing.T) {
	q, svc, _ := setup(t)
	ctx := context.Background()

	_ = svc.Push(ctx, claimOne(t, q, task.TypeNotify), errors.New("a"))
	_ = svc.Push(ctx, claimOne(t, q, task.TypeNotify), errors.New("b"))

	if n, _ := svc.Purge(ctx, time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("purge of old entries removed %d", n)
	}
	if n, _ := svc.Purge(ctx, time.Now().Add(time.Second)); n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	if n, _ := svc.Count(ctx); n != 0 {
		t.Errorf("Count after purge = %d", n)
	}
}

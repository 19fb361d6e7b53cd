package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	mw "github.com/pricetrack/storemesh/middleware"
	"github.com/pricetrack/storemesh/task"
)

func newTestTask(t *testing.T) *task.Task {
	t.Helper()
	tk, err := task.New(task.TypeUpdateStats, task.Payload{RecordID: "rec_1", ItemID: 1, ShopID: 2}, 3)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	tk.Attempt = 2
	return tk
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	mark := func(name string) mw.Middleware {
		return func(ctx context.Context, _ *task.Task, next mw.Handler) error {
			order = append(order, name+":before")
			err := next(ctx)
			order = append(order, name+":after")
			return err
		}
	}

	chain := mw.Chain(mark("a"), mark("b"))
	_ = chain(context.Background(), newTestTask(t), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})

	want := []string{"a:before", "b:before", "handler", "b:after", "a:after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestChain_Empty(t *testing.T) {
	called := false
	err := mw.Chain()(context.Background(), newTestTask(t), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("empty chain: called=%v err=%v", called, err)
	}
}

func TestChain_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := mw.Chain(mw.Logging(discardLogger()))(context.Background(), newTestTask(t),
		func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	err := mw.Recover(discardLogger())(context.Background(), newTestTask(t), func(context.Context) error {
		panic("kaboom")
	})
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("err = %v, want panic converted to error", err)
	}
	if task.IsNonRetryable(err) {
		t.Error("a panic must stay retryable")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	err := mw.Recover(discardLogger())(context.Background(), newTestTask(t), func(context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_WritesTaskFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tk := newTestTask(t)

	_ = mw.Logging(logger)(context.Background(), tk, func(context.Context) error {
		return errors.New("shop not found")
	})

	out := buf.String()
	for _, want := range []string{"task started", "task failed", "UPDATE_STATS", tk.ID.String(), "shop not found"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q", want)
		}
	}
}

func TestTimeout_DefaultAndOverride(t *testing.T) {
	tk := newTestTask(t)

	var deadline time.Duration
	probe := func(ctx context.Context) error {
		dl, ok := ctx.Deadline()
		if !ok {
			deadline = 0
			return nil
		}
		deadline = time.Until(dl)
		return nil
	}

	_ = mw.Timeout(time.Second, nil)(context.Background(), tk, probe)
	if deadline <= 0 || deadline > time.Second {
		t.Errorf("default deadline = %v, want within 1s", deadline)
	}

	override := func(task.Type) time.Duration { return 50 * time.Millisecond }
	_ = mw.Timeout(time.Second, override)(context.Background(), tk, probe)
	if deadline <= 0 || deadline > 50*time.Millisecond {
		t.Errorf("override deadline = %v, want within 50ms", deadline)
	}

	_ = mw.Timeout(0, nil)(context.Background(), tk, probe)
	if deadline != 0 {
		t.Errorf("zero timeout set a deadline: %v", deadline)
	}
}

func TestTimeout_CancelsSlowHandler(t *testing.T) {
	err := mw.Timeout(10*time.Millisecond, nil)(context.Background(), newTestTask(t), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

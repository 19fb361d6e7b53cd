package engine_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/engine"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
	"github.com/pricetrack/storemesh/store/memory"
	"github.com/pricetrack/storemesh/task"
)

func testConfig() storemesh.Config {
	cfg := storemesh.DefaultConfig()
	cfg.StoreRetryInitial = time.Millisecond
	cfg.StoreRetryMax = 5 * time.Millisecond
	cfg.DequeueWait = 20 * time.Millisecond
	cfg.RetryInitial = 5 * time.Millisecond
	cfg.RetryMax = 20 * time.Millisecond
	cfg.TaskMaxAttempts = 3
	cfg.Concurrency = 2
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

type harness struct {
	eng   *engine.Engine
	store *memory.Store
	queue *memory.Queue
}

func newHarness(t *testing.T, opts ...engine.Option) *harness {
	t.Helper()
	s := memory.New()
	s.PutRegion(reference.Region{ID: 10, Name: "Yangon"})
	s.PutTownship(reference.Township{ID: 4, Name: "Kamayut", RegionID: 10})
	s.PutItem(reference.Item{ID: 123, Name: "Rice", DefaultUnit: "viss"})
	s.PutShop(reference.Shop{ID: 789, Name: "Shop A", RegionID: 10, TownshipID: 4})
	q := memory.NewQueue(memory.WithVisibilityTimeout(time.Second))

	base := []engine.Option{
		engine.WithRecordStore(s),
		engine.WithReferenceStore(s),
		engine.WithNotifier(s),
		engine.WithQueue(q),
		engine.WithCache(memory.NewCache()),
		engine.WithConfig(testConfig()),
		engine.WithLogger(slog.New(slog.DiscardHandler)),
	}
	eng, err := engine.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return &harness{eng: eng, store: s, queue: q}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func draft(price float64) record.Draft {
	return record.Draft{
		ItemID:    123,
		ShopID:    789,
		Price:     price,
		Unit:      "viss",
		Type:      record.TypeRetail,
		Submitter: record.Submitter{UserID: 1, Role: record.RoleUser},
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func drained(t *testing.T, h *harness) func() bool {
	return func() bool {
		n, err := h.eng.InspectQueueDepth(context.Background())
		if err != nil {
			t.Fatalf("InspectQueueDepth: %v", err)
		}
		return n == 0
	}
}

func TestNew_RequiresStores(t *testing.T) {
	s := memory.New()
	tests := []struct {
		name string
		opts []engine.Option
	}{
		{"no record store", []engine.Option{engine.WithReferenceStore(s), engine.WithQueue(memory.NewQueue())}},
		{"no reference store", []engine.Option{engine.WithRecordStore(s), engine.WithQueue(memory.NewQueue())}},
		{"no queue", []engine.Option{engine.WithRecordStore(s), engine.WithReferenceStore(s)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := engine.New(tt.opts...); !errors.Is(err, storemesh.ErrNoStore) {
				t.Fatalf("err = %v, want ErrNoStore", err)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	s := memory.New()
	cfg := storemesh.DefaultConfig()
	cfg.Concurrency = 0
	_, err := engine.New(
		engine.WithRecordStore(s),
		engine.WithReferenceStore(s),
		engine.WithQueue(memory.NewQueue()),
		engine.WithConfig(cfg),
	)
	if err == nil {
		t.Fatal("expected config error")
	}
}

func TestSubmit_EnqueuesDerivedTasks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.eng.Submit(ctx, draft(2500))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(res.Tasks) != 3 || res.Pending != 0 {
		t.Fatalf("tasks = %d pending = %d, want 3 and 0", len(res.Tasks), res.Pending)
	}
	if n, _ := h.eng.InspectQueueDepth(ctx); n != 3 {
		t.Errorf("depth = %d, want 3 before the worker starts", n)
	}

	h.start(t)
	eventually(t, "queue to drain", drained(t, h))

	st, err := h.store.GetShopStats(ctx, 789)
	if err != nil {
		t.Fatalf("GetShopStats: %v", err)
	}
	if st.TotalSubmissions != 1 || st.RetailSubmissions != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSubmit_ValidationSurfacesSynchronously(t *testing.T) {
	h := newHarness(t)
	d := draft(2500)
	d.ItemID = 999

	_, err := h.eng.Submit(context.Background(), d)
	var verr *storemesh.ValidationError
	if !errors.As(err, &verr) || verr.Field != "item_id" {
		t.Fatalf("err = %v, want item_id validation error", err)
	}
	if n, _ := h.eng.InspectQueueDepth(context.Background()); n != 0 {
		t.Errorf("depth = %d, want 0", n)
	}
}

// Submit then query: the first read fills the cache, a later submit
// invalidates it through the worker, and the next read sees both records.
func TestSubmitQuery_CacheScenario(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()
	f := record.Filter{ItemID: 123}

	if _, err := h.eng.Submit(ctx, draft(2500)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, "queue to drain", drained(t, h))

	first, err := h.eng.Query(ctx, f)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if first.Cached || first.Stale || len(first.Records) != 1 {
		t.Fatalf("first query = %+v", first)
	}
	if first.Records[0].ShopName != "Shop A" || first.Records[0].ItemName != "Rice" {
		t.Errorf("join = %q / %q", first.Records[0].ShopName, first.Records[0].ItemName)
	}

	second, err := h.eng.Query(ctx, f)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !second.Cached {
		t.Error("second query should be a cache hit")
	}

	res, err := h.eng.Submit(ctx, draft(2600))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, "new record to become visible", func() bool {
		page, err := h.eng.Query(ctx, f)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		return len(page.Records) == 2 && page.Records[0].ID.String() == res.RecordID.String()
	})
}

type downCache struct{ gets atomic.Int32 }

func (c *downCache) Get(context.Context, string) ([]byte, bool, error) {
	c.gets.Add(1)
	return nil, false, fmt.Errorf("%w: connection refused", storemesh.ErrCacheUnavailable)
}

func (c *downCache) Set(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: connection refused", storemesh.ErrCacheUnavailable)
}

func (c *downCache) Invalidate(context.Context, string) error {
	return fmt.Errorf("%w: connection refused", storemesh.ErrCacheUnavailable)
}

func (c *downCache) Ping(context.Context) error {
	return fmt.Errorf("%w: connection refused", storemesh.ErrCacheUnavailable)
}

// With the cache down, writes still succeed and reads fall back to the
// record store, flagged stale.
func TestCacheOutage(t *testing.T) {
	c := &downCache{}
	h := newHarness(t, engine.WithCache(c))
	ctx := context.Background()

	res, err := h.eng.Submit(ctx, draft(2500))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	page, err := h.eng.Query(ctx, record.Filter{ItemID: 123})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !page.Stale || page.Cached {
		t.Errorf("stale=%v cached=%v, want a stale direct read", page.Stale, page.Cached)
	}
	if len(page.Records) != 1 || page.Records[0].ID.String() != res.RecordID.String() {
		t.Fatalf("records = %+v", page.Records)
	}
	if c.gets.Load() == 0 {
		t.Error("cache was never consulted")
	}
	if err := h.eng.Ping(ctx); !errors.Is(err, storemesh.ErrCacheUnavailable) {
		t.Errorf("Ping = %v, want cache unavailable", err)
	}

	// INVALIDATE_CACHE keeps failing and ends up dead-lettered; the other
	// tasks complete.
	h.start(t)
	eventually(t, "invalidation to dead-letter", func() bool {
		n, _ := h.queue.CountDeadLettered(ctx)
		return n == 1
	})
	entries, err := h.eng.DeadLetters(ctx, task.ListOpts{})
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != task.TypeInvalidateCache || entries[0].Attempts != 3 {
		t.Fatalf("entries = %+v", entries)
	}
}

// A stats task for an unknown shop is dead-lettered once; after the shop
// appears an operator requeues it and it completes.
func TestPoisonTask_RequeueAfterFix(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	ctx := context.Background()

	poison, err := task.New(task.TypeUpdateStats,
		task.Payload{RecordID: "rec_poison", ItemID: 123, ShopID: 404, RecordType: "WHOLESALE"}, 3)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	if _, err := h.queue.Enqueue(ctx, poison); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	eventually(t, "poison task to dead-letter", func() bool {
		got, _ := h.queue.Get(ctx, poison.ID)
		return got.State == task.StateDeadLettered
	})
	if n, _ := h.queue.CountDeadLettered(ctx); n != 1 {
		t.Fatalf("dead-lettered = %d, want 1", n)
	}

	h.store.PutShop(reference.Shop{ID: 404, Name: "Late Shop", RegionID: 10, TownshipID: 4})
	if err := h.eng.Requeue(ctx, poison.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	eventually(t, "requeued task to complete", func() bool {
		got, _ := h.queue.Get(ctx, poison.ID)
		return got.State == task.StateCompleted
	})

	st, _ := h.store.GetShopStats(ctx, 404)
	if st.TotalSubmissions != 1 || st.WholesaleSubmissions != 1 {
		t.Errorf("stats = %+v", st)
	}
	if err := h.eng.Requeue(ctx, poison.ID); !errors.Is(err, storemesh.ErrInvalidState) {
		t.Errorf("second Requeue = %v, want ErrInvalidState", err)
	}
}

func TestNotify_PriceAlerts(t *testing.T) {
	h := newHarness(t)
	h.store.PutFavorite(7, 789)
	h.start(t)
	ctx := context.Background()

	if _, err := h.eng.Submit(ctx, draft(2500)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, "queue to drain", drained(t, h))

	sent := h.store.Notifications()
	if len(sent) != 1 || sent[0].UserID != 7 {
		t.Fatalf("notifications = %+v", sent)
	}
	if sent[0].Message != "Rice price updated to 2500 MMK at Shop A" {
		t.Errorf("message = %q", sent[0].Message)
	}
}

func TestPurgeDeadLetters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tk, _ := task.New(task.TypeNotify, task.Payload{RecordID: "rec_1", ItemID: 123}, 1)
	if _, err := h.queue.Enqueue(ctx, tk); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	h.start(t)
	eventually(t, "task to dead-letter", func() bool {
		n, _ := h.queue.CountDeadLettered(ctx)
		return n == 1
	})

	n, err := h.eng.PurgeDeadLetters(ctx, time.Now().Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}
	if entries, _ := h.eng.DeadLetters(ctx, task.ListOpts{}); len(entries) != 0 {
		t.Errorf("entries after purge = %d", len(entries))
	}
}

type shutdownExt struct{ called atomic.Bool }

func (e *shutdownExt) Name() string { return "shutdown-tracker" }

func (e *shutdownExt) OnShutdown(context.Context) error {
	e.called.Store(true)
	return nil
}

func TestStop_EmitsShutdown(t *testing.T) {
	tracker := &shutdownExt{}
	h := newHarness(t, engine.WithExtension(tracker))
	h.start(t)

	if err := h.eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !tracker.called.Load() {
		t.Error("expected OnShutdown to fire")
	}
}

func TestMeterProvider_RecordsLifecycle(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	h := newHarness(t, engine.WithMeterProvider(mp))
	h.start(t)
	ctx := context.Background()

	if _, err := h.eng.Submit(ctx, draft(2500)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eventually(t, "queue to drain", drained(t, h))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
		}
	}
	for _, name := range []string{
		"storemesh.record.submitted",
		"storemesh.task.completed",
		"storemesh.task.executions",
		"storemesh.task.duration",
	} {
		if !found[name] {
			t.Errorf("metric %s not recorded", name)
		}
	}
}

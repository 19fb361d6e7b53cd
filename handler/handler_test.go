package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pricetrack/storemesh/backoff"
	"github.com/pricetrack/storemesh/cache"
	"github.com/pricetrack/storemesh/handler"
	"github.com/pricetrack/storemesh/notify"
	"github.com/pricetrack/storemesh/reference"
	"github.com/pricetrack/storemesh/store/memory"
	"github.com/pricetrack/storemesh/task"
)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func seeded(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	s.PutItem(reference.Item{ID: 123, Name: "Rice"})
	s.PutShop(reference.Shop{ID: 789, Name: "Shop A", RegionID: 10, TownshipID: 4})
	return s
}

func TestInvalidateCache_RotatesAllScopes(t *testing.T) {
	ctx := context.Background()
	c := memory.NewCache()
	h := handler.New(c, memory.New(), nil, handler.WithLogger(quietLogger()))

	scopes := cache.ScopesFor(123, 10)
	before := make(map[string]string, len(scopes))
	for _, key := range scopes {
		tok, err := cache.Token(ctx, c, key, time.Minute)
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		before[key] = tok
	}
	unrelated, _ := cache.Token(ctx, c, cache.ScopeKey(456, 11), time.Minute)

	p := task.Payload{RecordID: "rec_x", ItemID: 123, RegionID: 10}
	for i := 0; i < 2; i++ {
		if err := h.InvalidateCache(ctx, p); err != nil {
			t.Fatalf("InvalidateCache run %d: %v", i+1, err)
		}
	}

	for _, key := range scopes {
		tok, _ := cache.Token(ctx, c, key, time.Minute)
		if tok == before[key] {
			t.Errorf("scope %s kept token %s", key, tok)
		}
	}
	if tok, _ := cache.Token(ctx, c, cache.ScopeKey(456, 11), time.Minute); tok != unrelated {
		t.Error("unrelated scope was invalidated")
	}
}

func TestInvalidateCache_MissingItem(t *testing.T) {
	h := handler.New(memory.NewCache(), memory.New(), nil, handler.WithLogger(quietLogger()))
	err := h.InvalidateCache(context.Background(), task.Payload{RecordID: "rec_x"})
	if !task.IsNonRetryable(err) {
		t.Fatalf("err = %v, want non-retryable", err)
	}
}

type brokenCache struct{ *memory.Cache }

func (brokenCache) Invalidate(context.Context, string) error { return errors.New("connection refused") }

func TestInvalidateCache_BackendErrorIsRetryable(t *testing.T) {
	h := handler.New(brokenCache{memory.NewCache()}, memory.New(), nil, handler.WithLogger(quietLogger()))
	err := h.InvalidateCache(context.Background(), task.Payload{RecordID: "rec_x", ItemID: 1})
	if err == nil || task.IsNonRetryable(err) {
		t.Fatalf("err = %v, want retryable", err)
	}
}

func TestUpdateStats_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	h := handler.New(nil, s, nil, handler.WithLogger(quietLogger()))

	p := task.Payload{RecordID: "rec_1", ItemID: 123, ShopID: 789, RecordType: "WHOLESALE"}
	for i := 0; i < 3; i++ {
		if err := h.UpdateStats(ctx, p); err != nil {
			t.Fatalf("UpdateStats run %d: %v", i+1, err)
		}
	}
	other := p
	other.RecordID = "rec_2"
	other.RecordType = "RETAIL"
	if err := h.UpdateStats(ctx, other); err != nil {
		t.Fatalf("UpdateStats: %v", err)
	}

	st, err := s.GetShopStats(ctx, 789)
	if err != nil {
		t.Fatalf("GetShopStats: %v", err)
	}
	if st.TotalSubmissions != 2 || st.WholesaleSubmissions != 1 || st.RetailSubmissions != 1 {
		t.Errorf("stats = %+v, want total=2 wholesale=1 retail=1", st)
	}
}

func TestUpdateStats_Classification(t *testing.T) {
	h := handler.New(nil, seeded(t), nil, handler.WithLogger(quietLogger()))
	ctx := context.Background()

	tests := []struct {
		name         string
		payload      task.Payload
		nonRetryable bool
	}{
		{"no shop", task.Payload{RecordID: "rec_1", ItemID: 123}, true},
		{"no record id", task.Payload{ItemID: 123, ShopID: 789}, true},
		{"unknown shop", task.Payload{RecordID: "rec_1", ItemID: 123, ShopID: 404}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.UpdateStats(ctx, tt.payload)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := task.IsNonRetryable(err); got != tt.nonRetryable {
				t.Errorf("IsNonRetryable = %v, want %v (err: %v)", got, tt.nonRetryable, err)
			}
		})
	}
}

func TestNotify_SendsToWatchers(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.PutFavorite(1, 789)
	s.PutFavorite(2, 789)
	s.PutFavorite(3, 999)
	h := handler.New(nil, s, s, handler.WithLogger(quietLogger()))

	p := task.Payload{RecordID: "rec_1", ItemID: 123, ShopID: 789, Price: 2500}
	for i := 0; i < 2; i++ {
		if err := h.Notify(ctx, p); err != nil {
			t.Fatalf("Notify run %d: %v", i+1, err)
		}
	}

	sent := s.Notifications()
	if len(sent) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(sent))
	}
	for _, n := range sent {
		if n.Title != "Price Alert" || n.Category != notify.CategoryPrice {
			t.Errorf("notification = %+v", n)
		}
		if n.Message != "Rice price updated to 2500 MMK at Shop A" {
			t.Errorf("message = %q", n.Message)
		}
		if n.DedupeKey != handler.DedupeKey("rec_1", n.UserID) {
			t.Errorf("dedupe key = %q", n.DedupeKey)
		}
	}
}

func TestNotify_NameFallbacks(t *testing.T) {
	s := memory.New()
	s.PutFavorite(1, 55)
	var got []notify.Notification
	sink := notify.SinkFunc(func(_ context.Context, n notify.Notification) error {
		got = append(got, n)
		return nil
	})
	h := handler.New(nil, s, sink, handler.WithLogger(quietLogger()))

	if err := h.Notify(context.Background(), task.Payload{RecordID: "rec_1", ItemID: 7, ShopID: 55, Price: 12.5}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(got) != 1 || got[0].Message != "Item #7 price updated to 12.5 MMK at Shop #55" {
		t.Fatalf("got %+v", got)
	}
}

func TestNotify_SendFailuresDoNotFailTask(t *testing.T) {
	s := seeded(t)
	s.PutFavorite(1, 789)
	s.PutFavorite(2, 789)

	var calls atomic.Int32
	sink := notify.SinkFunc(func(_ context.Context, n notify.Notification) error {
		calls.Add(1)
		if n.UserID == 1 {
			return errors.New("push gateway down")
		}
		return nil
	})
	h := handler.New(nil, s, sink,
		handler.WithLogger(quietLogger()),
		handler.WithSendPolicy(backoff.Policy{Attempts: 3, Strategy: backoff.NewConstant(time.Millisecond)}),
	)

	if err := h.Notify(context.Background(), task.Payload{RecordID: "rec_1", ItemID: 123, ShopID: 789}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("sink calls = %d, want 3 for the failing user and 1 for the other", n)
	}
}

func TestNotify_MissingShop(t *testing.T) {
	h := handler.New(nil, memory.New(), nil, handler.WithLogger(quietLogger()))
	if err := h.Notify(context.Background(), task.Payload{RecordID: "rec_1", ItemID: 1}); !task.IsNonRetryable(err) {
		t.Fatalf("err = %v, want non-retryable", err)
	}
}

func TestRegister_MalformedPayload(t *testing.T) {
	reg := task.NewRegistry()
	handler.New(memory.NewCache(), memory.New(), nil, handler.WithLogger(quietLogger())).Register(reg)

	types := reg.Types()
	if len(types) != 3 {
		t.Fatalf("registered %v", types)
	}
	fn, ok := reg.Get(task.TypeUpdateStats)
	if !ok {
		t.Fatal("UPDATE_STATS not registered")
	}
	err := fn(context.Background(), json.RawMessage(`{"record_id": 12`))
	if !task.IsNonRetryable(err) || !strings.Contains(err.Error(), "unmarshal") {
		t.Fatalf("err = %v, want non-retryable unmarshal error", err)
	}
}

// Package handler implements the consistency tasks derived from a price
// submission: cache invalidation, shop statistics, and price alerts.
//
// Every handler is safe to run more than once for the same task.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/backoff"
	"github.com/pricetrack/storemesh/cache"
	"github.com/pricetrack/storemesh/notify"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
	"github.com/pricetrack/storemesh/task"
)

// notifyNamespace scopes notification dedupe keys.
var notifyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storemesh:notify"))

// Handlers holds the dependencies of the task handlers.
type Handlers struct {
	cache  cache.Cache
	refs   reference.Store
	sink   notify.Sink
	logger *slog.Logger
	send   backoff.Policy
}

// Option configures Handlers.
type Option func(*Handlers)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handlers) { h.logger = l }
}

// WithSendPolicy sets the retry policy of a single notification send.
func WithSendPolicy(p backoff.Policy) Option {
	return func(h *Handlers) { h.send = p }
}

// New creates Handlers. sink may be nil, in which case alerts are logged.
func New(c cache.Cache, refs reference.Store, sink notify.Sink, opts ...Option) *Handlers {
	h := &Handlers{
		cache:  c,
		refs:   refs,
		sink:   sink,
		logger: slog.Default(),
		send: backoff.Policy{
			Attempts: 3,
			Strategy: backoff.NewConstant(100 * time.Millisecond),
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.sink == nil {
		h.sink = notify.NewLogSink(h.logger)
	}
	return h
}

// Register installs the three handlers into r.
func (h *Handlers) Register(r *task.Registry) {
	task.RegisterDefinition(r, task.NewDefinition(task.TypeInvalidateCache, h.InvalidateCache))
	task.RegisterDefinition(r, task.NewDefinition(task.TypeUpdateStats, h.UpdateStats))
	task.RegisterDefinition(r, task.NewDefinition(task.TypeNotify, h.Notify))
}

// InvalidateCache rotates the generation tokens of every scope the record
// is visible from.
func (h *Handlers) InvalidateCache(ctx context.Context, p task.Payload) error {
	if p.ItemID <= 0 {
		return task.NonRetryable(errors.New("invalidate cache: payload has no item"))
	}
	if h.cache == nil {
		return nil
	}
	for _, key := range cache.ScopesFor(p.ItemID, p.RegionID) {
		if err := h.cache.Invalidate(ctx, key); err != nil {
			return fmt.Errorf("invalidate %s: %w", key, err)
		}
	}
	return nil
}

// statFields returns the counters a record of kind bumps.
func statFields(kind string) []reference.StatField {
	fields := []reference.StatField{reference.StatTotalSubmissions}
	switch record.Type(kind) {
	case record.TypeRetail:
		fields = append(fields, reference.StatRetailSubmissions)
	case record.TypeWholesale:
		fields = append(fields, reference.StatWholesaleSubmissions)
	}
	return fields
}

// UpdateStats bumps the shop counters once per record and counter.
func (h *Handlers) UpdateStats(ctx context.Context, p task.Payload) error {
	if p.ShopID <= 0 {
		return task.NonRetryable(errors.New("update stats: payload has no shop"))
	}
	if p.RecordID == "" {
		return task.NonRetryable(errors.New("update stats: payload has no record id"))
	}

	for _, field := range statFields(p.RecordType) {
		dedupe := p.RecordID + ":" + string(field)
		applied, err := h.refs.IncrementShopStat(ctx, p.ShopID, field, 1, dedupe)
		if err != nil {
			err = fmt.Errorf("update stats: shop %d %s: %w", p.ShopID, field, err)
			if errors.Is(err, storemesh.ErrValidation) {
				return task.NonRetryable(err)
			}
			return err
		}
		if !applied {
			h.logger.Debug("shop stat already applied",
				slog.Int64("shop_id", p.ShopID),
				slog.String("field", string(field)),
				slog.String("record_id", p.RecordID),
			)
		}
	}
	return nil
}

// Notify sends a price alert to every user watching the shop. Individual
// send failures are logged and do not fail the task.
func (h *Handlers) Notify(ctx context.Context, p task.Payload) error {
	if p.ShopID <= 0 {
		return task.NonRetryable(errors.New("notify: payload has no shop"))
	}

	users, err := h.refs.ListFavoritingUsers(ctx, p.ShopID)
	if err != nil {
		return fmt.Errorf("notify: list watchers of shop %d: %w", p.ShopID, err)
	}
	if len(users) == 0 {
		return nil
	}

	itemName := fmt.Sprintf("Item #%d", p.ItemID)
	if it, err := h.refs.GetItem(ctx, p.ItemID); err == nil && it.Name != "" {
		itemName = it.Name
	}
	shopName := fmt.Sprintf("Shop #%d", p.ShopID)
	if s, err := h.refs.GetShop(ctx, p.ShopID); err == nil && s.Name != "" {
		shopName = s.Name
	}
	message := fmt.Sprintf("%s price updated to %s MMK at %s",
		itemName, strconv.FormatFloat(p.Price, 'f', -1, 64), shopName)

	sent := 0
	for _, userID := range users {
		n := notify.Notification{
			DedupeKey: DedupeKey(p.RecordID, userID),
			UserID:    userID,
			Title:     "Price Alert",
			Message:   message,
			Category:  notify.CategoryPrice,
			RecordID:  p.RecordID,
			CreatedAt: time.Now().UTC(),
		}
		err := backoff.Retry(ctx, h.send, func(ctx context.Context) error {
			return h.sink.Send(ctx, n)
		}, nil)
		if err != nil {
			h.logger.Warn("price alert not delivered",
				slog.Int64("user_id", userID),
				slog.Int64("shop_id", p.ShopID),
				slog.String("record_id", p.RecordID),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent++
	}

	h.logger.Info("price alerts sent",
		slog.Int64("shop_id", p.ShopID),
		slog.String("item", itemName),
		slog.Int("sent", sent),
		slog.Int("watchers", len(users)),
	)
	return nil
}

// DedupeKey is the stable identity of the alert for one record and user.
func DedupeKey(recordID string, userID int64) string {
	return uuid.NewSHA1(notifyNamespace, []byte(recordID+":"+strconv.FormatInt(userID, 10))).String()
}

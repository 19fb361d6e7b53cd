package write

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/backoff"
	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
	"github.com/pricetrack/storemesh/task"
)

// Result reports a successful submission.
type Result struct {
	RecordID id.RecordID
	Record   *record.Record
	// Tasks lists the derived tasks that were enqueued.
	Tasks []id.TaskID
	// Pending counts derived tasks that could not be enqueued.
	Pending int
}

// Coordinator runs the write path.
type Coordinator struct {
	records    record.Store
	refs       reference.Store
	queue      task.Queue
	slots      *Slots
	cfg        storemesh.Config
	extensions *ext.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConfig sets the tunables.
func WithConfig(cfg storemesh.Config) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithExtensions sets the extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = r }
}

// WithSlots shares a slot table between coordinators.
func WithSlots(s *Slots) Option {
	return func(c *Coordinator) { c.slots = s }
}

// WithClock overrides the time source for server-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator.
func New(records record.Store, refs reference.Store, queue task.Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		records: records,
		refs:    refs,
		queue:   queue,
		cfg:     storemesh.DefaultConfig(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.slots == nil {
		c.slots = NewSlots()
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	return c
}

// Submit validates, resolves and persists d, then enqueues its derived
// tasks.
func (c *Coordinator) Submit(ctx context.Context, d record.Draft) (*Result, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d, err := c.resolve(ctx, d)
	if err != nil {
		return nil, err
	}

	key := record.Key{ItemID: d.ItemID, ShopID: d.ShopID}
	release, err := c.slots.Acquire(ctx, key, c.cfg.SlotTimeout)
	if err != nil {
		c.logger.Warn("write slot not acquired",
			slog.Int64("item_id", key.ItemID),
			slog.Int64("shop_id", key.ShopID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	rec := d.Build(c.now())
	err = c.insert(ctx, rec)
	release()
	if err != nil {
		return nil, err
	}

	res := &Result{RecordID: rec.ID, Record: rec}
	for _, typ := range c.derivedTypes(rec) {
		taskID, err := c.enqueue(ctx, rec, typ)
		if err != nil {
			res.Pending++
			c.logger.Error("reconciliation required: derived task not enqueued",
				slog.String("record_id", rec.ID.String()),
				slog.String("task_type", string(typ)),
				slog.String("error", err.Error()),
			)
			c.extensions.EmitReconciliationRequired(ctx, rec, typ, err)
			continue
		}
		res.Tasks = append(res.Tasks, taskID)
	}

	elapsed := time.Since(start)
	c.logger.Info("record submitted",
		slog.String("record_id", rec.ID.String()),
		slog.Int64("item_id", rec.ItemID),
		slog.Int64("shop_id", rec.ShopID),
		slog.Int("tasks", len(res.Tasks)),
		slog.Int("pending", res.Pending),
		slog.Duration("elapsed", elapsed),
	)
	c.extensions.EmitRecordSubmitted(ctx, rec, res.Pending, elapsed)
	return res, nil
}

// resolve checks reference existence and fills the location from the shop
// and the region from the township.
func (c *Coordinator) resolve(ctx context.Context, d record.Draft) (record.Draft, error) {
	if _, err := lookup(ctx, c, "get item", func(ctx context.Context) (*reference.Item, error) {
		return c.refs.GetItem(ctx, d.ItemID)
	}); err != nil {
		return d, notFoundAsInvalid(err, "item_id", "item %d does not exist", d.ItemID)
	}

	if d.ShopID != 0 {
		shop, err := lookup(ctx, c, "get shop", func(ctx context.Context) (*reference.Shop, error) {
			return c.refs.GetShop(ctx, d.ShopID)
		})
		if err != nil {
			return d, notFoundAsInvalid(err, "shop_id", "shop %d does not exist", d.ShopID)
		}
		if d.Location.TownshipID == 0 {
			d.Location = record.Location{RegionID: shop.RegionID, TownshipID: shop.TownshipID}
		}
	}

	if d.Location.TownshipID == 0 {
		return d, storemesh.NewValidationError("location", "township could not be determined")
	}
	township, err := lookup(ctx, c, "get township", func(ctx context.Context) (*reference.Township, error) {
		return c.refs.GetTownship(ctx, d.Location.TownshipID)
	})
	if err != nil {
		return d, notFoundAsInvalid(err, "location.township_id", "township %d does not exist", d.Location.TownshipID)
	}
	switch {
	case d.Location.RegionID == 0:
		d.Location.RegionID = township.RegionID
	case township.RegionID != 0 && d.Location.RegionID != township.RegionID:
		return d, storemesh.NewValidationError("location.region_id",
			"township %d is in region %d, not %d", township.ID, township.RegionID, d.Location.RegionID)
	}
	return d, nil
}

func notFoundAsInvalid(err error, field, format string, args ...any) error {
	if errors.Is(err, storemesh.ErrNotFound) {
		return storemesh.NewValidationError(field, format, args...)
	}
	return err
}

// lookup runs a reference read with the store timeout and retry policy.
func lookup[T any](ctx context.Context, c *Coordinator, op string, fn func(context.Context) (*T, error)) (*T, error) {
	var out *T
	err := c.retry(ctx, c.cfg.StoreRetryAttempts, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// insert persists rec. A duplicate ID after the first attempt means an
// earlier attempt landed.
func (c *Coordinator) insert(ctx context.Context, rec *record.Record) error {
	attempt := 0
	return c.retry(ctx, c.cfg.StoreRetryAttempts, "insert record", func(ctx context.Context) error {
		attempt++
		_, err := c.records.Insert(ctx, rec)
		if err != nil && attempt > 1 && errors.Is(err, storemesh.ErrDuplicate) {
			return nil
		}
		return err
	})
}

func (c *Coordinator) derivedTypes(rec *record.Record) []task.Type {
	types := []task.Type{task.TypeInvalidateCache}
	if rec.HasShop() {
		if c.cfg.UpdateStatsOnSubmit {
			types = append(types, task.TypeUpdateStats)
		}
		if c.cfg.NotifyOnSubmit {
			types = append(types, task.TypeNotify)
		}
	}
	return types
}

// enqueue hands a derived task to the queue. The record is already
// persisted, so the caller's cancellation no longer applies.
func (c *Coordinator) enqueue(ctx context.Context, rec *record.Record, typ task.Type) (id.TaskID, error) {
	t, err := task.New(typ, task.Payload{
		RecordID:   rec.ID.String(),
		ItemID:     rec.ItemID,
		ShopID:     rec.ShopID,
		RegionID:   rec.Location.RegionID,
		RecordType: string(rec.Type),
		Price:      rec.Price,
	}, c.cfg.TaskMaxAttempts)
	if err != nil {
		return id.TaskID{}, err
	}

	detached := context.WithoutCancel(ctx)
	attempt := 0
	err = c.retry(detached, c.cfg.EnqueueRetryAttempts, "enqueue task", func(ctx context.Context) error {
		attempt++
		_, err := c.queue.Enqueue(ctx, t)
		if err != nil && attempt > 1 && errors.Is(err, storemesh.ErrDuplicate) {
			return nil
		}
		return err
	})
	if err != nil {
		return id.TaskID{}, err
	}
	c.extensions.EmitTaskEnqueued(detached, t)
	return t.ID, nil
}

func (c *Coordinator) retry(ctx context.Context, attempts int, op string, fn func(context.Context) error) error {
	p := backoff.StorePolicy(attempts, c.cfg.StoreRetryInitial, c.cfg.StoreRetryMax)
	return backoff.StoreCall(ctx, p, c.cfg.StoreTimeout, op, c.logger, fn)
}

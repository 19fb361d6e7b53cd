// Package read implements the read path: cache first, record store on
// miss, and a direct store read flagged stale when the cache misbehaves.
//
// Pages are cached under the generation token of their (item, region)
// scope; see package cache. Concurrent misses for one page share a single
// store read.
package read

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/backoff"
	"github.com/pricetrack/storemesh/cache"
	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
)

// Entry is a record joined with display names from the reference store.
// Names are empty when the reference row could not be read.
type Entry struct {
	record.Record
	ShopName string `json:"shop_name,omitempty"`
	ItemName string `json:"item_name,omitempty"`
}

// Result is one page of query results.
type Result struct {
	Records []Entry
	// Stale is set when the cache was unavailable and the page was read
	// from the record store directly.
	Stale bool
	// Cached is set when the page was served from the cache.
	Cached bool
}

// Coordinator runs the read path.
type Coordinator struct {
	records    record.Store
	refs       reference.Store
	cache      cache.Cache
	cfg        storemesh.Config
	extensions *ext.Registry
	logger     *slog.Logger
	group      singleflight.Group
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

// New creates a Coordinator. A nil cache makes every query a stale
// direct read.
func New(records record.Store, refs reference.Store, c cache.Cache, opts ...Option) *Coordinator {
	rc := &Coordinator{
		records: records,
		refs:    refs,
		cache:   c,
		cfg:     storemesh.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	if rc.extensions == nil {
		rc.extensions = ext.NewRegistry(rc.logger)
	}
	return rc
}

// Query returns one page of records matching f, newest first.
func (c *Coordinator) Query(ctx context.Context, f record.Filter) (*Result, error) {
	start := time.Now()
	f, err := f.Normalize(c.cfg.DefaultPageSize, c.cfg.MaxPageSize)
	if err != nil {
		return nil, err
	}

	res, err := c.query(ctx, f)
	if err != nil {
		return nil, err
	}
	c.extensions.EmitQueryServed(ctx, f, res.Cached, res.Stale, time.Since(start))
	return res, nil
}

func (c *Coordinator) query(ctx context.Context, f record.Filter) (*Result, error) {
	if c.cache == nil {
		return c.direct(ctx, f, "none", storemesh.ErrCacheUnavailable)
	}

	token, err := cache.Token(ctx, c.cache, cache.ScopeKey(f.ItemID, f.RegionID), c.cfg.CacheTTL)
	if err != nil {
		return c.direct(ctx, f, "token", err)
	}
	key := cache.QueryKey(token, f.Window())

	raw, found, err := c.cache.Get(ctx, key)
	if err != nil {
		return c.direct(ctx, f, "get", err)
	}
	if found {
		var entries []Entry
		if err := json.Unmarshal(raw, &entries); err == nil {
			return &Result{Records: entries, Cached: true}, nil
		}
		c.logger.Warn("discarding undecodable cache entry", slog.String("key", key))
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// Shared by every waiter, so it must outlive any single caller.
		loadCtx := context.WithoutCancel(ctx)
		entries, err := c.load(loadCtx, f)
		if err != nil {
			return nil, err
		}
		c.store(loadCtx, key, entries)
		return entries, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return &Result{Records: r.Val.([]Entry)}, nil
	}
}

// direct serves a page from the record store after a cache failure.
func (c *Coordinator) direct(ctx context.Context, f record.Filter, op string, cause error) (*Result, error) {
	if !errors.Is(cause, storemesh.ErrCacheUnavailable) {
		cause = errors.Join(storemesh.ErrCacheUnavailable, cause)
	}
	c.logger.Warn("cache unavailable, reading record store directly",
		slog.String("op", op),
		slog.String("error", cause.Error()),
	)
	c.extensions.EmitCacheDegraded(ctx, op, cause)

	entries, err := c.load(ctx, f)
	if err != nil {
		return nil, err
	}
	return &Result{Records: entries, Stale: true}, nil
}

func (c *Coordinator) store(ctx context.Context, key string, entries []Entry) {
	raw, err := json.Marshal(entries)
	if err != nil {
		c.logger.Error("encode query page", slog.String("error", err.Error()))
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.cfg.CacheTTL); err != nil {
		c.logger.Warn("cache set failed", slog.String("key", key), slog.String("error", err.Error()))
		c.extensions.EmitCacheDegraded(ctx, "set", err)
	}
}

// load reads a page from the record store and joins display names.
func (c *Coordinator) load(ctx context.Context, f record.Filter) ([]Entry, error) {
	var recs []*record.Record
	p := backoff.StorePolicy(c.cfg.StoreRetryAttempts, c.cfg.StoreRetryInitial, c.cfg.StoreRetryMax)
	err := backoff.StoreCall(ctx, p, c.cfg.StoreTimeout, "query records", c.logger, func(ctx context.Context) error {
		var err error
		recs, err = c.records.Query(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.join(ctx, recs), nil
}

// join attaches shop and item names, reading each reference row at most
// once per page. Lookup failures leave the name empty.
func (c *Coordinator) join(ctx context.Context, recs []*record.Record) []Entry {
	shops := make(map[int64]string)
	items := make(map[int64]string)

	entries := make([]Entry, len(recs))
	for i, r := range recs {
		entries[i] = Entry{Record: *r}

		name, ok := items[r.ItemID]
		if !ok {
			name = c.name(ctx, "item", r.ItemID, func(ctx context.Context) (string, error) {
				it, err := c.refs.GetItem(ctx, r.ItemID)
				if err != nil {
					return "", err
				}
				return it.Name, nil
			})
			items[r.ItemID] = name
		}
		entries[i].ItemName = name

		if !r.HasShop() {
			continue
		}
		name, ok = shops[r.ShopID]
		if !ok {
			name = c.name(ctx, "shop", r.ShopID, func(ctx context.Context) (string, error) {
				s, err := c.refs.GetShop(ctx, r.ShopID)
				if err != nil {
					return "", err
				}
				return s.Name, nil
			})
			shops[r.ShopID] = name
		}
		entries[i].ShopName = name
	}
	return entries
}

func (c *Coordinator) name(ctx context.Context, kind string, key int64, fn func(context.Context) (string, error)) string {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()
	name, err := fn(callCtx)
	if err != nil {
		c.logger.Debug("reference join skipped",
			slog.String("kind", kind),
			slog.Int64("id", key),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return name
}

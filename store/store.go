package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/cache"
	"github.com/pricetrack/storemesh/engine"
	"github.com/pricetrack/storemesh/notify"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
	"github.com/pricetrack/storemesh/task"
)

// Migrator is implemented by backends that carry a schema.
type Migrator interface {
	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error
}

// Pinger is implemented by backends that can check their connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Set is the backends an engine runs on. Cache and Notifier are optional.
type Set struct {
	Records  record.Store
	Refs     reference.Store
	Cache    cache.Cache
	Queue    task.Queue
	Notifier notify.Sink

	closers []func() error
}

// OnClose registers fn to run on Close. Functions run in reverse order of
// registration.
func (s *Set) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// members lists the configured backends once each; one pointer may fill
// several slots.
func (s *Set) members() []any {
	var out []any
	seen := make(map[uintptr]bool)
	for _, m := range []any{s.Records, s.Refs, s.Cache, s.Queue, s.Notifier} {
		v := reflect.ValueOf(m)
		if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
			continue
		}
		if v.Kind() == reflect.Pointer {
			if seen[v.Pointer()] {
				continue
			}
			seen[v.Pointer()] = true
		}
		out = append(out, m)
	}
	return out
}

// Validate reports missing required backends.
func (s *Set) Validate() error {
	var missing []string
	if s.Records == nil {
		missing = append(missing, "records")
	}
	if s.Refs == nil {
		missing = append(missing, "refs")
	}
	if s.Queue == nil {
		missing = append(missing, "queue")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", storemesh.ErrNoStore, missing)
	}
	return nil
}

// Migrate runs Migrate on every backend that has a schema.
func (s *Set) Migrate(ctx context.Context) error {
	for _, m := range s.members() {
		mg, ok := m.(Migrator)
		if !ok {
			continue
		}
		if err := mg.Migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks every backend and joins the failures.
func (s *Set) Ping(ctx context.Context) error {
	var errs []error
	for _, m := range s.members() {
		if p, ok := m.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// EngineOptions returns the engine options that install the set.
func (s *Set) EngineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithRecordStore(s.Records),
		engine.WithReferenceStore(s.Refs),
		engine.WithQueue(s.Queue),
	}
	if s.Cache != nil {
		opts = append(opts, engine.WithCache(s.Cache))
	}
	if s.Notifier != nil {
		opts = append(opts, engine.WithNotifier(s.Notifier))
	}
	return opts
}

// Close runs the registered close functions and joins their errors.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pricetrack/storemesh/task"
)

// Config defines per-type rate limiting and concurrency.
type Config struct {
	// Type is the task type the limits apply to.
	Type task.Type

	// MaxConcurrency limits how many tasks of this type may run at once in
	// the local pool. Zero means no type-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained runs per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 if RateLimit is
	// set but RateBurst is zero.
	RateBurst int
}

type typeState struct {
	config  Config
	limiter *rate.Limiter
	slots   chan struct{}

	mu     sync.Mutex
	active int
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrency > 0 {
		ts.slots = make(chan struct{}, cfg.MaxConcurrency)
	}
	return ts
}

// Manager enforces per-type limits. It is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	types map[task.Type]*typeState
}

// NewManager creates a Manager with the given configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{types: make(map[task.Type]*typeState, len(configs))}
	for _, cfg := range configs {
		m.types[cfg.Type] = newTypeState(cfg)
	}
	return m
}

// Set installs or replaces the configuration of a type. Tasks already
// holding a slot of the old configuration release into it.
func (m *Manager) Set(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[cfg.Type] = newTypeState(cfg)
}

func noop() {}

// Wait blocks until a task of typ may run. The returned release must be
// called exactly once when the task finishes; extra calls are ignored.
func (m *Manager) Wait(ctx context.Context, typ task.Type) (func(), error) {
	m.mu.RLock()
	ts := m.types[typ]
	m.mu.RUnlock()
	if ts == nil {
		return noop, nil
	}

	if ts.slots != nil {
		select {
		case ts.slots <- struct{}{}:
		case <-ctx.Done():
			return noop, ctx.Err()
		}
	}
	if ts.limiter != nil {
		if err := ts.limiter.Wait(ctx); err != nil {
			if ts.slots != nil {
				<-ts.slots
			}
			return noop, err
		}
	}

	ts.mu.Lock()
	ts.active++
	ts.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			ts.mu.Lock()
			ts.active--
			ts.mu.Unlock()
			if ts.slots != nil {
				<-ts.slots
			}
		})
	}, nil
}

// ActiveCount returns the number of running tasks of typ.
func (m *Manager) ActiveCount(typ task.Type) int {
	m.mu.RLock()
	ts := m.types[typ]
	m.mu.RUnlock()
	if ts == nil {
		return 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.active
}

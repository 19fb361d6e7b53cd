package storemesh

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tunables for the orchestration layer. None of the
// staleness or retry bounds are fixed constants; every one of them is
// configuration.
type Config struct {
	// CacheTTL is how long a cached query page lives. Together with the
	// invalidation latency it bounds read staleness.
	CacheTTL time.Duration

	// DefaultPageSize is used when a query does not set a limit.
	DefaultPageSize int

	// MaxPageSize caps the limit a query may request.
	MaxPageSize int

	// SlotTimeout bounds the wait for a per-key write slot.
	SlotTimeout time.Duration

	// StoreTimeout bounds a single store call.
	StoreTimeout time.Duration

	// StoreRetryAttempts is the number of tries for a store call that
	// fails transiently, including the first.
	StoreRetryAttempts int

	// StoreRetryInitial and StoreRetryMax shape the exponential backoff
	// between store call tries.
	StoreRetryInitial time.Duration
	StoreRetryMax     time.Duration

	// EnqueueRetryAttempts is the number of tries for enqueueing a derived
	// task after the record is persisted. When exhausted, a reconciliation
	// marker is logged and the write still succeeds.
	EnqueueRetryAttempts int

	// UpdateStatsOnSubmit and NotifyOnSubmit toggle the conditional derived
	// tasks for records that reference a shop.
	UpdateStatsOnSubmit bool
	NotifyOnSubmit      bool

	// TaskMaxAttempts is the delivery budget of a task before it is
	// dead-lettered.
	TaskMaxAttempts int

	// VisibilityTimeout is how long a dequeued task stays invisible to other
	// consumers before it is redelivered.
	VisibilityTimeout time.Duration

	// DequeueWait bounds a single blocking dequeue.
	DequeueWait time.Duration

	// Concurrency is the number of worker goroutines.
	Concurrency int

	// HandlerTimeout bounds a single task handler run.
	HandlerTimeout time.Duration

	// RetryInitial and RetryMax shape the redelivery delay of failed tasks.
	RetryInitial time.Duration
	RetryMax     time.Duration

	// NotifyRateLimit caps NOTIFY task executions per second. Zero disables
	// the limit.
	NotifyRateLimit float64

	// ShutdownTimeout is the maximum time to wait for in-flight tasks on stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheTTL:             60 * time.Second,
		DefaultPageSize:      50,
		MaxPageSize:          200,
		SlotTimeout:          5 * time.Second,
		StoreTimeout:         3 * time.Second,
		StoreRetryAttempts:   3,
		StoreRetryInitial:    50 * time.Millisecond,
		StoreRetryMax:        time.Second,
		EnqueueRetryAttempts: 5,
		UpdateStatsOnSubmit:  true,
		NotifyOnSubmit:       true,
		TaskMaxAttempts:      5,
		VisibilityTimeout:    30 * time.Second,
		DequeueWait:          2 * time.Second,
		Concurrency:          8,
		HandlerTimeout:       10 * time.Second,
		RetryInitial:         time.Second,
		RetryMax:             time.Minute,
		ShutdownTimeout:      30 * time.Second,
	}
}

// Validate reports every setting that would make the layer misbehave.
func (c Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("storemesh: config %s must be positive, got %v", name, d))
		}
	}
	atLeastOne := func(name string, n int) {
		if n < 1 {
			errs = append(errs, fmt.Errorf("storemesh: config %s must be at least 1, got %d", name, n))
		}
	}

	positive("CacheTTL", c.CacheTTL)
	positive("SlotTimeout", c.SlotTimeout)
	positive("StoreTimeout", c.StoreTimeout)
	positive("VisibilityTimeout", c.VisibilityTimeout)
	positive("DequeueWait", c.DequeueWait)
	positive("HandlerTimeout", c.HandlerTimeout)
	atLeastOne("DefaultPageSize", c.DefaultPageSize)
	atLeastOne("StoreRetryAttempts", c.StoreRetryAttempts)
	atLeastOne("EnqueueRetryAttempts", c.EnqueueRetryAttempts)
	atLeastOne("TaskMaxAttempts", c.TaskMaxAttempts)
	atLeastOne("Concurrency", c.Concurrency)

	if c.MaxPageSize < c.DefaultPageSize {
		errs = append(errs, fmt.Errorf("storemesh: config MaxPageSize (%d) below DefaultPageSize (%d)",
			c.MaxPageSize, c.DefaultPageSize))
	}
	if c.NotifyRateLimit < 0 {
		errs = append(errs, fmt.Errorf("storemesh: config NotifyRateLimit must not be negative"))
	}
	return errors.Join(errs...)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pricetrack/storemesh"
	"github.com/pricetrack/storemesh/backoff"
	"github.com/pricetrack/storemesh/cache"
	"github.com/pricetrack/storemesh/dlq"
	"github.com/pricetrack/storemesh/ext"
	"github.com/pricetrack/storemesh/handler"
	"github.com/pricetrack/storemesh/id"
	mw "github.com/pricetrack/storemesh/middleware"
	"github.com/pricetrack/storemesh/notify"
	"github.com/pricetrack/storemesh/observability"
	"github.com/pricetrack/storemesh/queue"
	"github.com/pricetrack/storemesh/read"
	"github.com/pricetrack/storemesh/record"
	"github.com/pricetrack/storemesh/reference"
	"github.com/pricetrack/storemesh/task"
	"github.com/pricetrack/storemesh/worker"
	"github.com/pricetrack/storemesh/write"
)

const instrumentationName = "github.com/pricetrack/storemesh"

// Engine owns the write and read coordinators and the consistency worker.
type Engine struct {
	cfg        storemesh.Config
	logger     *slog.Logger
	extensions *ext.Registry

	records record.Store
	refs    reference.Store
	cache   cache.Cache
	queue   task.Queue
	sink    notify.Sink

	writer     *write.Coordinator
	reader     *read.Coordinator
	registry   *task.Registry
	dlqService *dlq.Service
	pool       *worker.Pool

	mws          []mw.Middleware
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecordStore sets the document store holding price records.
func WithRecordStore(s record.Store) Option {
	return func(eng *Engine) { eng.records = s }
}

// WithReferenceStore sets the relational reference store.
func WithReferenceStore(s reference.Store) Option {
	return func(eng *Engine) { eng.refs = s }
}

// WithCache sets the query cache. Without one every query reads the record
// store directly and is flagged stale.
func WithCache(c cache.Cache) Option {
	return func(eng *Engine) { eng.cache = c }
}

// WithQueue sets the task queue.
func WithQueue(q task.Queue) Option {
	return func(eng *Engine) { eng.queue = q }
}

// WithNotifier sets the price alert sink. Defaults to a log sink.
func WithNotifier(s notify.Sink) Option {
	return func(eng *Engine) { eng.sink = s }
}

// WithConfig sets the tunables. Defaults to storemesh.DefaultConfig().
func WithConfig(cfg storemesh.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the end of the task execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithQueueConfig registers per-type rate limits and concurrency caps.
// A config for NOTIFY replaces the one derived from
// Config.NotifyRateLimit.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it. If not set, the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine. The record store, reference store and queue are
// required.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		cfg:    storemesh.DefaultConfig(),
		logger: slog.Default(),
	}
	// Extensions registered through options log via the final logger.
	eng.extensions = ext.NewRegistry(nil)
	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions.SetLogger(eng.logger)

	if eng.records == nil || eng.refs == nil || eng.queue == nil {
		return nil, storemesh.ErrNoStore
	}
	if err := eng.cfg.Validate(); err != nil {
		return nil, err
	}
	if eng.sink == nil {
		eng.sink = notify.NewLogSink(eng.logger)
	}
	if eng.cache == nil {
		eng.logger.Warn("no cache configured, queries read the record store directly")
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.writer = write.New(eng.records, eng.refs, eng.queue,
		write.WithConfig(eng.cfg),
		write.WithLogger(eng.logger),
		write.WithExtensions(eng.extensions),
	)
	eng.reader = read.New(eng.records, eng.refs, eng.cache,
		read.WithConfig(eng.cfg),
		read.WithLogger(eng.logger),
		read.WithExtensions(eng.extensions),
	)

	eng.registry = task.NewRegistry()
	handler.New(eng.cache, eng.refs, eng.sink, handler.WithLogger(eng.logger)).Register(eng.registry)

	eng.dlqService = dlq.NewService(eng.queue, eng.extensions, eng.logger)
	eng.queueManager = queue.NewManager(eng.gateConfigs()...)

	executor := worker.NewExecutor(
		eng.registry,
		eng.queue,
		eng.dlqService,
		eng.extensions,
		backoff.NewExponentialWithJitter(eng.cfg.RetryInitial, eng.cfg.RetryMax),
		eng.logger,
		eng.middleware()...,
	)
	eng.pool = worker.NewPool(eng.queue, executor, eng.logger,
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithDequeueWait(eng.cfg.DequeueWait),
		worker.WithGate(eng.queueManager),
	)

	return eng, nil
}

// gateConfigs merges the NOTIFY rate limit from Config with explicit
// queue configs; explicit ones win.
func (eng *Engine) gateConfigs() []queue.Config {
	var configs []queue.Config
	if eng.cfg.NotifyRateLimit > 0 {
		configs = append(configs, queue.Config{
			Type:      task.TypeNotify,
			RateLimit: eng.cfg.NotifyRateLimit,
			RateBurst: 1,
		})
	}
	return append(configs, eng.queueConfigs...)
}

// middleware builds the default stack: recover → tracing → metrics →
// logging → timeout, followed by user middleware.
func (eng *Engine) middleware() []mw.Middleware {
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	all := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.cfg.HandlerTimeout, eng.registry.Timeout),
	}
	return append(all, eng.mws...)
}

// Submit persists a price record and enqueues its derived tasks.
func (eng *Engine) Submit(ctx context.Context, d record.Draft) (*write.Result, error) {
	return eng.writer.Submit(ctx, d)
}

// Query returns one page of records, from the cache when possible.
func (eng *Engine) Query(ctx context.Context, f record.Filter) (*read.Result, error) {
	return eng.reader.Query(ctx, f)
}

// Requeue returns a dead-lettered task to the queue with a fresh attempt
// budget.
func (eng *Engine) Requeue(ctx context.Context, taskID id.TaskID) error {
	return eng.dlqService.Requeue(ctx, taskID)
}

// InspectQueueDepth returns the number of queued and in-progress tasks.
func (eng *Engine) InspectQueueDepth(ctx context.Context) (int64, error) {
	return eng.queue.Depth(ctx)
}

// DeadLetters lists dead-lettered tasks, oldest first.
func (eng *Engine) DeadLetters(ctx context.Context, opts task.ListOpts) ([]*dlq.Entry, error) {
	return eng.dlqService.List(ctx, opts)
}

// PurgeDeadLetters deletes tasks dead-lettered before the given instant.
func (eng *Engine) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	return eng.dlqService.Purge(ctx, before)
}

// Ping checks every configured store. Cache failures are reported but
// only degrade reads.
func (eng *Engine) Ping(ctx context.Context) error {
	var errs []error
	if err := eng.records.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("record store: %w", err))
	}
	if err := eng.refs.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reference store: %w", err))
	}
	if eng.cache != nil {
		if err := eng.cache.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Start launches the consistency worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	eng.logger.Info("storemesh engine starting",
		slog.Int("concurrency", eng.cfg.Concurrency),
		slog.Any("task_types", eng.registry.Types()),
	)
	return eng.pool.Start(ctx)
}

// Stop drains the worker pool within Config.ShutdownTimeout, or ctx's
// deadline if sooner. Tasks still running afterwards are cancelled and
// redelivered after their visibility timeout.
func (eng *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
	defer cancel()

	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("stop worker pool: %w", err)
	}
	return nil
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the task handler registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// DLQService returns the dead-letter service.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the per-type admission gate.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }

// Config returns the effective configuration.
func (eng *Engine) Config() storemesh.Config { return eng.cfg }

package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pricetrack/storemesh/id"
	"github.com/pricetrack/storemesh/task"
)

// Gate admits a task type for execution. Wait blocks until the type's
// rate limit and concurrency cap allow a run and returns the release
// function. queue.Manager implements it.
type Gate interface {
	Wait(ctx context.Context, typ task.Type) (func(), error)
}

// Pool manages a set of concurrent worker goroutines that dequeue tasks
// and execute them through the Executor.
type Pool struct {
	queue       task.Queue
	executor    *Executor
	concurrency int
	dequeueWait time.Duration
	errorPause  time.Duration
	workerID    id.WorkerID
	logger      *slog.Logger
	gate        Gate

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
	activeTasks map[string]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithDequeueWait bounds a single blocking dequeue.
func WithDequeueWait(d time.Duration) PoolOption {
	return func(p *Pool) { p.dequeueWait = d }
}

// WithErrorPause sets how long a worker backs off after a dequeue error.
func WithErrorPause(d time.Duration) PoolOption {
	return func(p *Pool) { p.errorPause = d }
}

// WithGate sets the per-type admission gate.
func WithGate(g Gate) PoolOption {
	return func(p *Pool) { p.gate = g }
}

// NewPool creates a worker pool.
func NewPool(queue task.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:       queue,
		executor:    executor,
		concurrency: 8,
		dequeueWait: 2 * time.Second,
		errorPause:  time.Second,
		workerID:    id.NewWorkerID(),
		logger:      logger,
		stopCh:      make(chan struct{}),
		activeTasks: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	// Dequeues unblock when the pool stops.
	loopCtx, cancel := context.WithCancel(context.Background())
	go func(stop <-chan struct{}) {
		<-stop
		cancel()
	}(p.stopCh)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop(loopCtx)
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight tasks. When ctx
// is done first, in-flight tasks are cancelled; their queue entries become
// visible again after the visibility timeout.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActiveTasks()
		<-done
		return ctx.Err()
	}
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		t, err := p.queue.Dequeue(ctx, p.dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.pause()
			continue
		}
		if t == nil {
			continue
		}

		p.run(t)
	}
}

// run executes one claimed task. Its context is detached from the stop
// signal so draining tasks finish unless Stop times out.
func (p *Pool) run(t *task.Task) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.trackTask(t.ID.String(), cancel)
	defer p.untrackTask(t.ID.String())

	if p.gate != nil {
		release, err := p.gate.Wait(ctx, t.Type)
		if err != nil {
			// Left in progress; the visibility timeout redelivers it.
			p.logger.Warn("task not admitted",
				slog.String("task_id", t.ID.String()),
				slog.String("task_type", string(t.Type)),
				slog.String("error", err.Error()),
			)
			return
		}
		defer release()
	}

	if err := p.executor.Execute(ctx, t); err != nil {
		p.logger.Debug("task execution failed",
			slog.String("task_id", t.ID.String()),
			slog.String("task_type", string(t.Type)),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) pause() {
	timer := time.NewTimer(p.errorPause)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.stopCh:
	}
}

func (p *Pool) trackTask(taskID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[taskID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackTask(taskID string) {
	p.activeMu.Lock()
	delete(p.activeTasks, taskID)
	p.activeMu.Unlock()
}

// ActiveCount returns the number of tasks currently executing.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeTasks)
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for taskID, cancel := range p.activeTasks {
		p.logger.Warn("cancelling active task", slog.String("task_id", taskID))
		cancel()
	}
}

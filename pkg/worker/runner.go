package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/instrument/pkg/logger"
)

// Worker interface that background workers should implement
type Worker interface {
	// Name returns worker name for logging
	Name() string
	// Run executes one iteration of work
	Run(ctx context.Context) error
}

// PeriodicWorker runs a Worker on a fixed interval until stopped
type PeriodicWorker struct {
	worker    Worker
	interval  time.Duration
	immediate bool
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	name      string
}

// Option configures a PeriodicWorker
type Option func(*PeriodicWorker)

// Immediately runs the first iteration on start instead of after one interval
func Immediately() Option {
	return func(pw *PeriodicWorker) {
		pw.immediate = true
	}
}

// NewPeriodicWorker creates new periodic worker
func NewPeriodicWorker(worker Worker, interval time.Duration, opts ...Option) *PeriodicWorker {
	pw := &PeriodicWorker{
		worker:   worker,
		interval: interval,
		name:     worker.Name(),
	}
	for _, opt := range opts {
		opt(pw)
	}
	return pw
}

// Start starts the worker; it stops when ctx is done or Stop is called
func (pw *PeriodicWorker) Start(ctx context.Context) {
	ctx, pw.cancel = context.WithCancel(ctx)

	pw.wg.Add(1)
	go pw.run(ctx)
}

// Stop cancels the worker and waits up to timeout for the current iteration
func (pw *PeriodicWorker) Stop(timeout time.Duration) {
	if pw.cancel != nil {
		pw.cancel()
	}

	done := make(chan struct{})
	go func() {
		pw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("worker stopped", zap.String("worker", pw.name))
	case <-time.After(timeout):
		logger.Warn("worker stop timeout", zap.String("worker", pw.name))
	}
}

func (pw *PeriodicWorker) run(ctx context.Context) {
	defer pw.wg.Done()

	logger.Debug("worker started",
		zap.String("worker", pw.name),
		zap.Duration("interval", pw.interval),
	)

	if pw.immediate {
		pw.once(ctx)
	}

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pw.once(ctx)
		}
	}
}

// once runs a single iteration; errors are logged and the worker keeps going
func (pw *PeriodicWorker) once(ctx context.Context) {
	if err := pw.worker.Run(ctx); err != nil {
		logger.Error("worker execution failed",
			zap.String("worker", pw.name),
			zap.Error(err),
		)
	}
}

// WorkerGroup manages multiple workers with graceful shutdown
type WorkerGroup struct {
	workers []*PeriodicWorker
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
}

// NewWorkerGroup creates new worker group
func NewWorkerGroup(ctx context.Context) *WorkerGroup {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerGroup{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add adds worker to group
func (wg *WorkerGroup) Add(worker Worker, interval time.Duration, opts ...Option) {
	wg.mu.Lock()
	defer wg.mu.Unlock()

	wg.workers = append(wg.workers, NewPeriodicWorker(worker, interval, opts...))
}

// Start starts all workers
func (wg *WorkerGroup) Start() {
	wg.mu.Lock()
	defer wg.mu.Unlock()

	for _, w := range wg.workers {
		w.Start(wg.ctx)
	}

	logger.Debug("worker group started", zap.Int("workers", len(wg.workers)))
}

// Stop stops all workers gracefully
func (wg *WorkerGroup) Stop(timeout time.Duration) {
	wg.cancel()

	wg.mu.Lock()
	defer wg.mu.Unlock()

	for _, w := range wg.workers {
		w.Stop(timeout)
	}
}

// RunBackground starts a single worker.
// Usage: worker.RunBackground(ctx, writer, time.Second)
func RunBackground(ctx context.Context, worker Worker, interval time.Duration, opts ...Option) *PeriodicWorker {
	pw := NewPeriodicWorker(worker, interval, opts...)
	pw.Start(ctx)
	return pw
}

package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/models"
)

// flushJob is one swapped-out buffer handed to the flush goroutine
type flushJob struct {
	batch models.Buffer
	done  chan struct{}
}

func newFinishedJob() *flushJob {
	job := &flushJob{done: make(chan struct{})}
	close(job.done)
	return job
}

func (j *flushJob) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Writer stages points in memory and persists them on a single background
// goroutine. At most one flush is in flight; the producer only blocks once
// the high watermark is exceeded.
type Writer struct {
	backend Backend
	lw      int
	hw      int
	hooks   []FlushHook

	mu       sync.Mutex // guards buffer, seq, inflight and closed
	buffer   models.Buffer
	seq      int
	inflight *flushJob
	closed   bool

	// backendMu serializes flush writes with caller reads
	backendMu sync.Mutex

	jobs chan *flushJob
	wg   sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
	failure error
}

// NewWriter discovers existing backend state and starts the flush goroutine
func NewWriter(ctx context.Context, backend Backend, cfg Config) (*Writer, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is nil")
	}
	if cfg.LowWatermark == 0 {
		cfg.LowWatermark = DefaultLowWatermark
	}
	if cfg.HighWatermark == 0 {
		cfg.HighWatermark = DefaultHighWatermark
	}
	if cfg.LowWatermark < 0 || cfg.LowWatermark >= cfg.HighWatermark {
		return nil, fmt.Errorf("invalid watermarks: low=%d high=%d", cfg.LowWatermark, cfg.HighWatermark)
	}

	if err := backend.InitDB(ctx); err != nil {
		return nil, fmt.Errorf("failed to init backend: %w", err)
	}

	w := &Writer{
		backend: backend,
		lw:      cfg.LowWatermark,
		hw:      cfg.HighWatermark,
		hooks:   cfg.Hooks,
		buffer:  models.NewBuffer(),
		jobs:    make(chan *flushJob, 1),
		stats:   Stats{LastFlush: -1, AvgFlush: -1},
	}

	w.wg.Add(1)
	go w.flushLoop()

	logger.Debug("metrics writer initialized",
		zap.Int("low_watermark", w.lw),
		zap.Int("high_watermark", w.hw),
	)

	return w, nil
}

// Write buffers a point. Past the low watermark it schedules an asynchronous
// flush; past the high watermark it waits until everything buffered so far
// has been committed.
func (w *Writer) Write(p models.Point) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.buffer.Add(w.seq, p)
	w.seq++
	n := w.seq
	w.mu.Unlock()

	switch {
	case n > w.hw:
		w.waitInFlight()
		st := w.Stats()
		logger.Warn("buffer reached high watermark",
			zap.Int("buffered", n),
			zap.Duration("last_flush", st.LastFlush),
			zap.Duration("avg_flush", st.AvgFlush),
		)
		return w.SyncNow()
	case n > w.lw:
		return w.Sync()
	}

	return nil
}

// Sync hands the current buffer to the flush goroutine without waiting.
// It is a no-op while another flush is still running.
func (w *Writer) Sync() error {
	if err := w.takeFailure(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.scheduleLocked()

	return nil
}

// SyncNow waits out the flush in flight, then flushes whatever has
// accumulated since and waits for that too. Afterwards every point written
// before the call is visible to backend reads.
func (w *Writer) SyncNow() error {
	for {
		w.mu.Lock()
		job, scheduled := w.scheduleLocked()
		w.mu.Unlock()

		<-job.done
		if scheduled {
			break
		}
	}

	return w.takeFailure()
}

// scheduleLocked swaps the buffer out and queues it. It returns the job the
// caller should wait on and whether that job was created by this call.
func (w *Writer) scheduleLocked() (*flushJob, bool) {
	if w.inflight != nil && !w.inflight.finished() {
		return w.inflight, false
	}
	if w.buffer.Len() == 0 || w.closed {
		return newFinishedJob(), true
	}

	job := &flushJob{batch: w.buffer, done: make(chan struct{})}
	w.buffer = models.NewBuffer()
	w.seq = 0
	w.inflight = job

	// capacity one and the previous job already finished, so this never blocks
	w.jobs <- job

	return job, true
}

func (w *Writer) waitInFlight() {
	w.mu.Lock()
	job := w.inflight
	w.mu.Unlock()

	if job != nil {
		<-job.done
	}
}

// ReadMetric flushes, then reads from the backend. Reads are never served
// from the buffer.
func (w *Writer) ReadMetric(ctx context.Context, metric string, id models.ID) ([]models.Row, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	if err := w.SyncNow(); err != nil {
		return nil, err
	}

	w.backendMu.Lock()
	defer w.backendMu.Unlock()

	return w.backend.ReadMetric(ctx, metric, id)
}

// Dump flushes and exports the backend content
func (w *Writer) Dump(ctx context.Context) (string, error) {
	if w.isClosed() {
		return "", ErrClosed
	}
	if err := w.SyncNow(); err != nil {
		return "", err
	}

	w.backendMu.Lock()
	defer w.backendMu.Unlock()

	return w.backend.Dump(ctx)
}

// Load replays dumped content into the backend
func (w *Writer) Load(ctx context.Context, data string) error {
	if w.isClosed() {
		return ErrClosed
	}

	w.backendMu.Lock()
	defer w.backendMu.Unlock()

	return w.backend.Load(ctx, data)
}

// Merge flushes and copies the backend content into the store at target
func (w *Writer) Merge(ctx context.Context, target string) error {
	if w.isClosed() {
		return ErrClosed
	}
	if err := w.SyncNow(); err != nil {
		return err
	}

	w.backendMu.Lock()
	defer w.backendMu.Unlock()

	return w.backend.Merge(ctx, target)
}

// Metrics returns the union of buffered and persisted metric names
func (w *Writer) Metrics() []string {
	seen := make(map[string]struct{})

	w.mu.Lock()
	for name := range w.buffer {
		seen[name] = struct{}{}
	}
	w.mu.Unlock()

	w.backendMu.Lock()
	for _, name := range w.backend.GetTables() {
		seen[name] = struct{}{}
	}
	w.backendMu.Unlock()

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a snapshot of flush telemetry
func (w *Writer) Stats() Stats {
	w.mu.Lock()
	buffered := w.seq
	inFlight := w.inflight != nil && !w.inflight.finished()
	w.mu.Unlock()

	w.statsMu.Lock()
	st := w.stats
	w.statsMu.Unlock()

	st.Buffered = buffered
	st.InFlight = inFlight
	return st
}

// Close flushes everything and closes the backend. Later writes fail with ErrClosed.
func (w *Writer) Close() error {
	if w.isClosed() {
		return ErrClosed
	}

	syncErr := w.SyncNow()

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	close(w.jobs)
	w.wg.Wait()

	w.backendMu.Lock()
	closeErr := w.backend.Close()
	w.backendMu.Unlock()

	return errors.Join(syncErr, closeErr)
}

// Name implements worker.Worker so a Writer can be flushed on a timer
func (w *Writer) Name() string {
	return "metrics-flush"
}

// Run implements worker.Worker. It only schedules a flush: a stored flush
// failure stays pending for the next Write, Sync, SyncNow or Close caller.
func (w *Writer) Run(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.scheduleLocked()
	}
	return nil
}

func (w *Writer) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for job := range w.jobs {
		w.flush(job)
	}
}

// flush persists one batch. Flushes have no deadline: a stuck backend
// stalls every caller waiting on it.
func (w *Writer) flush(job *flushJob) {
	defer close(job.done)

	start := time.Now()
	w.backendMu.Lock()
	err := w.backend.WriteMany(context.Background(), job.batch)
	w.backendMu.Unlock()
	elapsed := time.Since(start)

	w.record(elapsed, err)

	if err != nil {
		logger.Error("failed to flush metrics",
			zap.Strings("metrics", job.batch.Metrics()),
			zap.Int("points", job.batch.Len()),
			zap.Error(err),
		)
		return
	}

	logger.Debug("metrics flushed",
		zap.Int("metrics", len(job.batch)),
		zap.Int("points", job.batch.Len()),
		zap.Duration("elapsed", elapsed),
	)

	for _, hook := range w.hooks {
		hook(job.batch)
	}
}

func (w *Writer) record(elapsed time.Duration, err error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.stats.Flushes++
	w.stats.LastFlush = elapsed
	if w.stats.AvgFlush < 0 {
		w.stats.AvgFlush = elapsed
	} else {
		w.stats.AvgFlush = time.Duration(0.9*float64(w.stats.AvgFlush) + 0.1*float64(elapsed))
	}

	if err != nil {
		w.stats.FailedFlushes++
		if w.failure == nil {
			w.failure = fmt.Errorf("flush failed: %w", err)
		}
	}
}

// takeFailure returns the first unreported flush error and clears it
func (w *Writer) takeFailure() error {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	err := w.failure
	w.failure = nil
	return err
}

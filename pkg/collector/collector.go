// Package collector is the caller-facing entry point: it tracks the current
// frame and experiment, routes each measurement through its sampler and hands
// surviving values to a buffered metrics.Writer.
//
// A Collector is meant to be driven from one goroutine.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
	"github.com/selivandex/instrument/pkg/sampler"
	"github.com/selivandex/instrument/pkg/worker"
)

var (
	// ErrNoExperiment is returned when a value is collected before an experiment id is set
	ErrNoExperiment = errors.New("collector: experiment id is not set")
	// ErrFrameRegression is returned by SetFrame when the frame would move backwards
	ErrFrameRegression = errors.New("collector: frame cannot move backwards")
)

// NoFrame is the frame before anything has been collected
const NoFrame int64 = -1

// Collector buffers per-frame measurements for one or more experiments
type Collector struct {
	opts options

	ignore   map[string]struct{}
	samplers map[string]sampler.Sampler
	names    []string

	backend metrics.Backend
	writer  *metrics.Writer
	flusher *worker.PeriodicWorker

	experimentID models.ID
	frame        int64

	keys map[string]struct{}
	ids  map[models.ID]struct{}
}

// New creates a collector. Without WithBackend it stores into an embedded
// store, in memory unless WithPath is given.
func New(ctx context.Context, opts ...Option) (*Collector, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.backend
	if backend == nil {
		b, err := sqlite.Open(o.path)
		if err != nil {
			return nil, err
		}
		backend = b
	}

	c, err := newCollector(ctx, o, backend)
	if err != nil {
		if o.backend == nil {
			backend.Close()
		}
		return nil, err
	}
	return c, nil
}

func newCollector(ctx context.Context, o options, backend metrics.Backend) (*Collector, error) {
	writer, err := metrics.NewWriter(ctx, backend, metrics.Config{
		LowWatermark:  o.lowWatermark,
		HighWatermark: o.highWatermark,
		Hooks:         o.hooks,
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		opts:         o,
		ignore:       make(map[string]struct{}),
		samplers:     make(map[string]sampler.Sampler),
		backend:      backend,
		writer:       writer,
		experimentID: o.experimentID,
		frame:        NoFrame,
		keys:         make(map[string]struct{}),
		ids:          make(map[models.ID]struct{}),
	}

	for name, s := range o.samplers {
		if sampler.IsIgnore(s) {
			c.ignore[name] = struct{}{}
			continue
		}
		c.samplers[name] = s
		c.names = append(c.names, name)
	}
	sort.Strings(c.names)

	if o.flushInterval > 0 {
		c.flusher = worker.RunBackground(context.Background(), writer, o.flushInterval)
	}

	return c, nil
}

// SetExperimentID switches to another experiment and restarts frame counting.
// Buffered data is kept.
func (c *Collector) SetExperimentID(id models.ID) {
	c.experimentID = id
	c.frame = NoFrame
}

// CurrentExperimentID returns the active experiment id
func (c *Collector) CurrentExperimentID() (models.ID, error) {
	if c.experimentID.IsZero() {
		return models.ID{}, ErrNoExperiment
	}
	return c.experimentID, nil
}

// Frame returns the current frame, NoFrame before the first one
func (c *Collector) Frame() int64 {
	return c.frame
}

// NextFrame advances to the next frame
func (c *Collector) NextFrame() {
	c.frame++
}

// SetFrame jumps to frame, which must not be behind the current one
func (c *Collector) SetFrame(frame int64) error {
	if frame < c.frame {
		return fmt.Errorf("%w: %d < %d", ErrFrameRegression, frame, c.frame)
	}
	c.frame = frame
	return nil
}

// Reset closes the current unit of work: it advances the frame, writes each
// sampler's pending end-of-window value and rewinds to NoFrame.
func (c *Collector) Reset() error {
	c.NextFrame()

	var errs []error
	for _, name := range c.names {
		v, ok := c.samplers[name].End()
		if !ok {
			continue
		}
		if err := c.write(name, v); err != nil {
			errs = append(errs, err)
		}
	}

	c.frame = NoFrame
	return errors.Join(errs...)
}

// Collect records value for name at the current frame, subject to the
// metric's sampler.
func (c *Collector) Collect(name string, value any) error {
	s, ok, err := c.prepare(name)
	if !ok || err != nil {
		return err
	}

	v, keep := s.Next(value)
	if !keep {
		return nil
	}
	return c.write(name, v)
}

// Evaluate is Collect for values that are expensive to compute: fn only
// runs when the sampler keeps this observation.
func (c *Collector) Evaluate(name string, fn func() any) error {
	s, ok, err := c.prepare(name)
	if !ok || err != nil {
		return err
	}

	v, keep := s.NextEval(fn)
	if !keep {
		return nil
	}
	return c.write(name, v)
}

// prepare resolves the sampler for name and starts frame 0 if needed. It
// reports false for ignored metrics.
func (c *Collector) prepare(name string) (sampler.Sampler, bool, error) {
	if _, ignored := c.ignore[name]; ignored {
		return nil, false, nil
	}
	if c.experimentID.IsZero() {
		return nil, false, ErrNoExperiment
	}

	if c.frame == NoFrame {
		c.NextFrame()
	}

	if s, ok := c.samplers[name]; ok {
		return s, true, nil
	}
	return c.opts.def, true, nil
}

func (c *Collector) write(name string, v any) error {
	id, err := c.CurrentExperimentID()
	if err != nil {
		return err
	}

	c.keys[name] = struct{}{}
	c.ids[id] = struct{}{}

	return c.writer.Write(models.Point{
		ExperimentID: id,
		Metric:       name,
		Frame:        c.frame,
		Data:         v,
	})
}

// Get returns the stored rows of metric for experiment id; a zero id returns all
func (c *Collector) Get(ctx context.Context, metric string, id models.ID) ([]models.Row, error) {
	return c.writer.ReadMetric(ctx, metric, id)
}

// Keys returns the metrics written by this collector
func (c *Collector) Keys() []string {
	keys := make([]string, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ExperimentIDs returns the experiment ids written by this collector
func (c *Collector) ExperimentIDs() []models.ID {
	ids := make([]models.ID, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// Metrics returns every metric known to the store, buffered or persisted
func (c *Collector) Metrics() []string {
	return c.writer.Metrics()
}

// Merge flushes and copies the collected data into the embedded store at target
func (c *Collector) Merge(ctx context.Context, target string) error {
	return c.writer.Merge(ctx, target)
}

// Sync flushes everything collected so far and waits for it
func (c *Collector) Sync() error {
	return c.writer.SyncNow()
}

// Stats returns the writer telemetry
func (c *Collector) Stats() metrics.Stats {
	return c.writer.Stats()
}

// Writer exposes the underlying writer, e.g. for health reporting
func (c *Collector) Writer() *metrics.Writer {
	return c.writer
}

// Close flushes all buffered data and closes the backend
func (c *Collector) Close() error {
	if c.flusher != nil {
		c.flusher.Stop(5 * time.Second)
		c.flusher = nil
	}

	if err := c.writer.Close(); err != nil {
		logger.Error("failed to close collector", zap.Error(err))
		return err
	}
	return nil
}

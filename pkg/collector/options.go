package collector

import (
	"time"

	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
	"github.com/selivandex/instrument/pkg/sampler"
)

const (
	DefaultLowWatermark  = 1_000
	DefaultHighWatermark = 100_000
)

type options struct {
	path          string
	backend       metrics.Backend
	samplers      map[string]sampler.Sampler
	def           sampler.Sampler
	experimentID  models.ID
	lowWatermark  int
	highWatermark int
	flushInterval time.Duration
	hooks         []metrics.FlushHook
}

func defaultOptions() options {
	return options{
		path:          sqlite.Memory,
		samplers:      make(map[string]sampler.Sampler),
		def:           sampler.Identity{},
		lowWatermark:  DefaultLowWatermark,
		highWatermark: DefaultHighWatermark,
	}
}

// Option configures a Collector
type Option func(*options)

// WithPath stores data in an embedded store at path instead of memory.
// Ignored when WithBackend is given.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithBackend uses an already opened backend. The collector takes ownership
// and closes it on Close.
func WithBackend(b metrics.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithSampler routes metric through s. A sampler.Ignore drops the metric.
func WithSampler(metric string, s sampler.Sampler) Option {
	return func(o *options) {
		o.samplers[metric] = s
	}
}

// WithDefault sets the sampler for metrics without their own, normally
// sampler.Identity or sampler.Ignore.
func WithDefault(s sampler.Sampler) Option {
	return func(o *options) {
		o.def = s
	}
}

// WithExperimentID sets the initial experiment id
func WithExperimentID(id models.ID) Option {
	return func(o *options) {
		o.experimentID = id
	}
}

// WithWatermarks sets the writer's flush thresholds
func WithWatermarks(low, high int) Option {
	return func(o *options) {
		o.lowWatermark = low
		o.highWatermark = high
	}
}

// WithFlushInterval additionally flushes on a timer; zero disables it
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) {
		o.flushInterval = d
	}
}

// WithHooks registers observers of committed batches
func WithHooks(hooks ...metrics.FlushHook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

package metrics

import (
	"context"
	"errors"

	"github.com/selivandex/instrument/pkg/models"
)

var (
	// ErrClosed is returned by a Writer after Close
	ErrClosed = errors.New("metrics: writer is closed")
	// ErrDumpUnsupported is returned by backends that cannot export their content
	ErrDumpUnsupported = errors.New("metrics: dump is not supported by this backend")
	// ErrMergeUnsupported is returned by backends that cannot merge stores
	ErrMergeUnsupported = errors.New("metrics: merge is not supported by this backend")
)

// Backend persists points. Implementations need not be safe for concurrent
// use: the Writer serializes every call.
type Backend interface {
	// InitDB discovers existing metrics so later writes know what to create.
	// Idempotent; safe to call before any write.
	InitDB(ctx context.Context) error

	// WriteMany appends every buffered point in one transaction, creating
	// missing per-metric storage first.
	WriteMany(ctx context.Context, points models.Buffer) error

	// ReadMetric returns all stored rows for metric, restricted to id unless
	// id is zero. A missing metric yields an empty result, not an error.
	ReadMetric(ctx context.Context, metric string, id models.ID) ([]models.Row, error)

	// GetTables returns the known metric names without touching storage
	GetTables() []string

	// Dump exports the full store content as a replayable SQL script
	Dump(ctx context.Context) (string, error)

	// Load replays content produced by Dump
	Load(ctx context.Context, data string) error

	// Merge copies this store's tables and rows into the store at target
	Merge(ctx context.Context, target string) error

	// Close releases the underlying connection
	Close() error
}

// FlushHook observes every batch after it has been committed
type FlushHook func(batch models.Buffer)

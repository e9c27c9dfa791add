package collector

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/pkg/models"
)

const snapshotVersion = 1

type idState struct {
	Kind models.IDKind `msgpack:"k"`
	Int  int64         `msgpack:"i,omitempty"`
	Str  string        `msgpack:"s,omitempty"`
}

func encodeID(id models.ID) idState {
	n, _ := id.Int()
	st := idState{Kind: id.Kind(), Int: n}
	if id.Kind() == models.KindString {
		st.Str = id.String()
	}
	return st
}

func (s idState) decode() models.ID {
	switch s.Kind {
	case models.KindInt:
		return models.IntID(s.Int)
	case models.KindString:
		return models.StringID(s.Str)
	default:
		return models.ID{}
	}
}

type snapshot struct {
	Version      int       `msgpack:"version"`
	ExperimentID idState   `msgpack:"experiment_id"`
	Frame        int64     `msgpack:"frame"`
	Keys         []string  `msgpack:"keys"`
	IDs          []idState `msgpack:"ids"`
	Path         string    `msgpack:"path,omitempty"`
	Data         *string   `msgpack:"data"`
}

// Snapshot flushes and captures the collector's counters and identifiers. An
// in-memory embedded store has no durability of its own, so its full content
// is captured as well. Samplers are not part of the snapshot; pass them again
// to Restore.
func (c *Collector) Snapshot(ctx context.Context) ([]byte, error) {
	if err := c.writer.SyncNow(); err != nil {
		return nil, err
	}

	snap := snapshot{
		Version:      snapshotVersion,
		ExperimentID: encodeID(c.experimentID),
		Frame:        c.frame,
		Keys:         c.Keys(),
	}
	for _, id := range c.ExperimentIDs() {
		snap.IDs = append(snap.IDs, encodeID(id))
	}

	if b, ok := c.backend.(*sqlite.Backend); ok {
		if b.InMemory() {
			data, err := c.writer.Dump(ctx)
			if err != nil {
				return nil, fmt.Errorf("collector: dump store: %w", err)
			}
			snap.Data = &data
		} else {
			snap.Path = b.Path()
		}
	}

	raw, err := msgpack.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("collector: encode snapshot: %w", err)
	}
	return raw, nil
}

// Restore rebuilds a collector from Snapshot output. opts configure it as for
// New; without WithBackend or WithPath a file-backed snapshot reopens its
// same file store and an in-memory one is reloaded into a fresh memory store.
func Restore(ctx context.Context, raw []byte, opts ...Option) (*Collector, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("collector: decode snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("collector: unsupported snapshot version %d", snap.Version)
	}

	if snap.Path != "" {
		opts = append([]Option{WithPath(snap.Path)}, opts...)
	}

	c, err := New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	if snap.Data != nil {
		if err := c.writer.Load(ctx, *snap.Data); err != nil {
			c.Close()
			return nil, fmt.Errorf("collector: load store: %w", err)
		}
	}

	c.experimentID = snap.ExperimentID.decode()
	c.frame = snap.Frame
	for _, k := range snap.Keys {
		c.keys[k] = struct{}{}
	}
	for _, id := range snap.IDs {
		c.ids[id.decode()] = struct{}{}
	}

	return c, nil
}

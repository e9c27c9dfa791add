package collector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/selivandex/instrument/pkg/models"
)

func benchmarkWritePath(b *testing.B, opts ...Option) {
	opts = append([]Option{WithExperimentID(models.IntID(0))}, opts...)
	c, err := New(context.Background(), opts...)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.NextFrame()
		if err := c.Collect("loss", float64(i)); err != nil {
			b.Fatal(err)
		}
		if err := c.Collect("accuracy", 0.5); err != nil {
			b.Fatal(err)
		}
	}
	if err := c.Sync(); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkWritePath_Memory(b *testing.B) {
	benchmarkWritePath(b)
}

func BenchmarkWritePath_Disk(b *testing.B) {
	benchmarkWritePath(b, WithPath(filepath.Join(b.TempDir(), "bench.db")))
}

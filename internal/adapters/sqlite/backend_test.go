package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/instrument/pkg/models"
)

func openTest(t *testing.T, path string) *Backend {
	t.Helper()

	b, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, b.InitDB(context.Background()))
	t.Cleanup(func() { b.Close() })
	return b
}

func batch(points ...models.Point) models.Buffer {
	buf := models.NewBuffer()
	for i, p := range points {
		buf.Add(i, p)
	}
	return buf
}

func pt(id models.ID, metric string, frame int64, data any) models.Point {
	return models.Point{ExperimentID: id, Metric: metric, Frame: frame, Data: data}
}

func TestBackend_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	b := openTest(t, Memory)
	assert.True(t, b.InMemory())

	err := b.WriteMany(ctx, batch(
		pt(models.IntID(1), "loss", 0, 0.5),
		pt(models.IntID(1), "loss", 1, 0.25),
		pt(models.StringID("baseline"), "loss", 0, 0.9),
		pt(models.IntID(1), "accuracy", 0, 0.75),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"accuracy", "loss"}, b.GetTables())

	rows, err := b.ReadMetric(ctx, "loss", models.ID{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	t.Run("filter by experiment", func(t *testing.T) {
		rows, err := b.ReadMetric(ctx, "loss", models.IntID(1))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(0), rows[0].Frame)
		assert.Equal(t, 0.5, rows[0].Measurement)
		assert.Equal(t, models.IntID(1), rows[0].ID)

		rows, err = b.ReadMetric(ctx, "loss", models.StringID("baseline"))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 0.9, rows[0].Measurement)
	})

	t.Run("missing metric reads as empty", func(t *testing.T) {
		rows, err := b.ReadMetric(ctx, "perplexity", models.ID{})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestBackend_QuotesMetricNames(t *testing.T) {
	ctx := context.Background()
	b := openTest(t, Memory)

	names := []string{`val/loss`, `weird "name"`, `drop table x; --`, `select`}
	for i, name := range names {
		require.NoError(t, b.WriteMany(ctx, batch(pt(models.IntID(0), name, int64(i), i))))
	}

	for _, name := range names {
		rows, err := b.ReadMetric(ctx, name, models.ID{})
		require.NoError(t, err, name)
		assert.Len(t, rows, 1, name)
	}
}

func TestBackend_InitDBDiscoversTables(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs", "results.db")

	first, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, first.InitDB(ctx))
	require.NoError(t, first.WriteMany(ctx, batch(pt(models.IntID(0), "loss", 0, 1.0))))
	require.NoError(t, first.Close())

	second := openTest(t, path)
	assert.False(t, second.InMemory())
	assert.Equal(t, []string{"loss"}, second.GetTables())

	require.NoError(t, second.WriteMany(ctx, batch(pt(models.IntID(0), "loss", 1, 2.0))))
	rows, err := second.ReadMetric(ctx, "loss", models.ID{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestBackend_DumpLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := openTest(t, Memory)

	var points []models.Point
	metrics := []string{"loss", "accuracy", "it's quoted"}
	for frame := int64(0); frame < 20; frame++ {
		for i, m := range metrics {
			var data any = float64(frame) / 3
			switch i {
			case 1:
				data = frame * 10
			case 2:
				data = "tag 'x'"
			}
			points = append(points, pt(models.StringID("run-a"), m, frame, data))
		}
	}
	points = append(points,
		pt(models.IntID(7), "loss", 99, 2.0),
		pt(models.IntID(7), "loss", 100, nil),
		pt(models.IntID(7), "loss", 101, []byte{0x00, 0xff}),
	)
	require.NoError(t, src.WriteMany(ctx, batch(points...)))

	dump, err := src.Dump(ctx)
	require.NoError(t, err)
	assert.Contains(t, dump, "BEGIN TRANSACTION;")
	assert.Contains(t, dump, "COMMIT;")

	dst := openTest(t, Memory)
	require.NoError(t, dst.Load(ctx, dump))
	assert.Equal(t, src.GetTables(), dst.GetTables())

	for _, m := range src.GetTables() {
		want, err := src.ReadMetric(ctx, m, models.ID{})
		require.NoError(t, err)
		got, err := dst.ReadMetric(ctx, m, models.ID{})
		require.NoError(t, err)
		assert.Equal(t, want, got, m)
	}
}

func TestLiteral(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{nil, "NULL"},
		{int64(-3), "-3"},
		{2.0, "2.0"},
		{0.125, "0.125"},
		{1e300, "1e+300"},
		{"it's", "'it''s'"},
		{[]byte{0xab}, "X'AB'"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, literal(c.in))
	}
}

func TestBackend_WriteManyIsAtomic(t *testing.T) {
	ctx := context.Background()
	b := openTest(t, Memory)
	require.NoError(t, b.WriteMany(ctx, batch(pt(models.IntID(1), "loss", 0, 0.5))))

	err := b.WriteMany(ctx, batch(
		pt(models.IntID(1), "accuracy", 1, 0.75),
		pt(models.IntID(1), "loss", 1, 0.25),
		pt(models.IntID(1), "zz_broken", 1, make(chan int)),
	))
	require.Error(t, err)

	assert.Equal(t, []string{"loss"}, b.GetTables(), "table created by the failed batch must not be recorded")

	has, err := HasTable(ctx, b.db, "main", "accuracy")
	require.NoError(t, err)
	assert.False(t, has, "table created by the failed batch must be rolled back")

	loss, err := b.ReadMetric(ctx, "loss", models.ID{})
	require.NoError(t, err)
	assert.Len(t, loss, 1, "rows of the failed batch must not be visible")

	// the backend is still usable and can create the table later
	require.NoError(t, b.WriteMany(ctx, batch(pt(models.IntID(1), "accuracy", 2, 0.8))))
	assert.Equal(t, []string{"accuracy", "loss"}, b.GetTables())
}

func TestBackend_CaseCollision(t *testing.T) {
	ctx := context.Background()

	t.Run("across batches", func(t *testing.T) {
		b := openTest(t, Memory)
		require.NoError(t, b.WriteMany(ctx, batch(pt(models.IntID(1), "Loss", 0, 1.0))))

		err := b.WriteMany(ctx, batch(pt(models.IntID(1), "loss", 0, 2.0)))
		assert.True(t, errors.Is(err, ErrNameCollision), "got %v", err)
		assert.Equal(t, []string{"Loss"}, b.GetTables())

		rows, err := b.ReadMetric(ctx, "Loss", models.ID{})
		require.NoError(t, err)
		assert.Len(t, rows, 1, "colliding rows must not land in the existing table")
	})

	t.Run("within one batch", func(t *testing.T) {
		b := openTest(t, Memory)
		err := b.WriteMany(ctx, batch(
			pt(models.IntID(1), "Loss", 0, 1.0),
			pt(models.IntID(1), "loss", 0, 2.0),
		))
		assert.True(t, errors.Is(err, ErrNameCollision), "got %v", err)
		assert.Empty(t, b.GetTables())
	})

	t.Run("table created by another handle", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "shared.db")
		b := openTest(t, path)

		other, err := Connect(path)
		require.NoError(t, err)
		_, err = other.Exec(`CREATE TABLE "ACC"(frame INTEGER, id, measurement)`)
		require.NoError(t, err)
		require.NoError(t, other.Close())

		err = b.WriteMany(ctx, batch(pt(models.IntID(1), "acc", 0, 1.0)))
		assert.True(t, errors.Is(err, ErrNameCollision), "got %v", err)
	})

	t.Run("merge target", func(t *testing.T) {
		target := filepath.Join(t.TempDir(), "target.db")
		dst := openTest(t, target)
		require.NoError(t, dst.WriteMany(ctx, batch(pt(models.IntID(2), "X", 0, 1.0))))
		require.NoError(t, dst.Close())

		src := openTest(t, Memory)
		require.NoError(t, src.WriteMany(ctx, batch(pt(models.IntID(1), "x", 0, 2.0))))

		err := src.Merge(ctx, target)
		assert.True(t, errors.Is(err, ErrNameCollision), "got %v", err)
	})
}

func TestBackend_Merge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := filepath.Join(dir, "b.db")

	a := openTest(t, Memory)
	require.NoError(t, a.WriteMany(ctx, batch(
		pt(models.IntID(1), "x", 0, 1.0),
		pt(models.IntID(1), "x", 1, 2.0),
		pt(models.IntID(1), "y", 0, 10.0),
	)))

	b, err := Open(target)
	require.NoError(t, err)
	require.NoError(t, b.InitDB(ctx))
	require.NoError(t, b.WriteMany(ctx, batch(pt(models.IntID(2), "y", 0, 20.0))))
	require.NoError(t, b.Close())

	require.NoError(t, a.Merge(ctx, target))

	merged := openTest(t, target)
	assert.Equal(t, []string{"x", "y"}, merged.GetTables())

	x, err := merged.ReadMetric(ctx, "x", models.ID{})
	require.NoError(t, err)
	assert.Len(t, x, 2)

	y, err := merged.ReadMetric(ctx, "y", models.ID{})
	require.NoError(t, err)
	require.Len(t, y, 2)
	values := []float64{y[0].Measurement.(float64), y[1].Measurement.(float64)}
	sort.Float64s(values)
	assert.Equal(t, []float64{10, 20}, values)

	// the source is untouched
	ay, err := a.ReadMetric(ctx, "y", models.ID{})
	require.NoError(t, err)
	assert.Len(t, ay, 1)
}

func TestBackend_MergeWidensMetadata(t *testing.T) {
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "b.db")

	a := openTest(t, Memory)
	require.NoError(t, EnsureTable(ctx, a.db, "main", MetadataTable, []string{"id", "lr", "optimizer"}))
	_, err := a.db.ExecContext(ctx, `INSERT INTO "_metadata_"(id, lr, optimizer) VALUES (1, 0.1, 'adam')`)
	require.NoError(t, err)

	b := openTest(t, target)
	require.NoError(t, EnsureTable(ctx, b.db, "main", MetadataTable, []string{"id", "lr"}))
	_, err = b.db.ExecContext(ctx, `INSERT INTO "_metadata_"(id, lr) VALUES (2, 0.2)`)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	require.NoError(t, a.Merge(ctx, target))

	merged := openTest(t, target)
	cols, err := Columns(ctx, merged.db, "main", MetadataTable)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"id", "lr", "optimizer"}, cols)

	var n int
	require.NoError(t, merged.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM "_metadata_"`))
	assert.Equal(t, 2, n)
}

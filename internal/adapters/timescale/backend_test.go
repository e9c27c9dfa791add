package timescale

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
	"github.com/selivandex/instrument/test/testdb"
)

func TestBackend_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	b, err := Open(testdb.Postgres(t))
	require.NoError(t, err)
	require.NoError(t, b.InitDB(ctx))

	metric := testdb.UniqueName("loss")
	buf := models.NewBuffer()
	buf.Add(0, models.Point{ExperimentID: models.IntID(1), Metric: metric, Frame: 0, Data: 0.5})
	buf.Add(1, models.Point{ExperimentID: models.IntID(1), Metric: metric, Frame: 1, Data: 2})
	buf.Add(2, models.Point{ExperimentID: models.StringID("sweep-b"), Metric: metric, Frame: 0, Data: nil})
	require.NoError(t, b.WriteMany(ctx, buf))

	assert.Contains(t, b.GetTables(), metric)

	rows, err := b.ReadMetric(ctx, metric, models.ID{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = b.ReadMetric(ctx, metric, models.IntID(1))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, models.IntID(1), rows[0].ID)
	assert.Equal(t, 0.5, rows[0].Measurement)
	assert.Equal(t, 2.0, rows[1].Measurement)

	rows, err = b.ReadMetric(ctx, metric, models.StringID("sweep-b"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Measurement)

	rows, err = b.ReadMetric(ctx, testdb.UniqueName("missing"), models.ID{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBackend_RejectsNonNumeric(t *testing.T) {
	ctx := context.Background()
	b, err := Open(testdb.Postgres(t))
	require.NoError(t, err)

	metric := testdb.UniqueName("label")
	buf := models.NewBuffer()
	buf.Add(0, models.Point{ExperimentID: models.IntID(1), Metric: metric, Data: "cat"})
	require.Error(t, b.WriteMany(ctx, buf))

	rows, err := b.ReadMetric(ctx, metric, models.ID{})
	require.NoError(t, err)
	assert.Empty(t, rows, "failed batch must leave nothing behind")
}

func TestBackend_Unsupported(t *testing.T) {
	b := &Backend{metrics: make(map[string]struct{})}
	ctx := context.Background()

	_, err := b.Dump(ctx)
	assert.True(t, errors.Is(err, metrics.ErrDumpUnsupported))
	assert.True(t, errors.Is(b.Load(ctx, "CREATE TABLE x(a)"), metrics.ErrDumpUnsupported))
	assert.True(t, errors.Is(b.Merge(ctx, "other.db"), metrics.ErrMergeUnsupported))
	assert.NoError(t, b.Close())
}

func TestMeasurement(t *testing.T) {
	v, err := measurement(nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = measurement(int64(3))
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = measurement("x")
	assert.Error(t, err)
}

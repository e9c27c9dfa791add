package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"testing"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
	"github.com/selivandex/instrument/test/testdb"
)

func TestBackend_WriteAndRead(t *testing.T) {
	ctx := context.Background()
	b, err := Open(ctx, testdb.ClickHouse(t))
	require.NoError(t, err)
	require.NoError(t, b.InitDB(ctx))

	metric := testdb.UniqueName("loss")
	buf := models.NewBuffer()
	for i := 0; i < 10; i++ {
		buf.Add(i, models.Point{ExperimentID: models.IntID(int64(i % 2)), Metric: metric, Frame: int64(i), Data: float64(i)})
	}
	require.NoError(t, b.WriteMany(ctx, buf))
	assert.Contains(t, b.GetTables(), metric)

	all, err := b.ReadMetric(ctx, metric, models.ID{})
	require.NoError(t, err)
	assert.Len(t, all, 10)

	odd, err := b.ReadMetric(ctx, metric, models.IntID(1))
	require.NoError(t, err)
	require.Len(t, odd, 5)
	for i, r := range odd {
		assert.Equal(t, int64(2*i+1), r.Frame)
		assert.Equal(t, float64(2*i+1), r.Measurement)
	}
}

func TestBackend_Unsupported(t *testing.T) {
	b := &Backend{metrics: make(map[string]struct{})}
	ctx := context.Background()

	_, err := b.Dump(ctx)
	assert.True(t, errors.Is(err, metrics.ErrDumpUnsupported))
	assert.True(t, errors.Is(b.Merge(ctx, "other.db"), metrics.ErrMergeUnsupported))
	assert.NoError(t, b.Close())
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`runs`", quoteIdent("runs"))
	assert.Equal(t, "`a\\`b`", quoteIdent("a`b"))
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, isAuthFailure(&ch.Exception{Code: codeAuthenticationFailed}))
	assert.True(t, isAuthFailure(fmt.Errorf("connect: %w", &ch.Exception{Code: codeAccessDenied})))
	assert.False(t, isAuthFailure(&ch.Exception{Code: 81}), "unknown database is retried")
	assert.False(t, isAuthFailure(errors.New("connection refused")))
	assert.False(t, isAuthFailure(nil))
}

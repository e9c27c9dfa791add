package logger

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSet(t *testing.T) {
	prev := L()
	defer Set(prev)

	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))

	Info("flushed", zap.Int("points", 3))
	Warn("slow")
	Debug("noise")

	require.Equal(t, 3, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "flushed", entry.Message)
	assert.Equal(t, int64(3), entry.ContextMap()["points"])

	Set(nil)
	assert.NotNil(t, L())
}

func TestInit(t *testing.T) {
	prev := L()
	defer Set(prev)

	path := filepath.Join(t.TempDir(), "logs", "instrument.log")
	require.NoError(t, Init("debug", path))

	Error("boom")
	Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"boom"`)

	assert.Error(t, Init("verbose", ""))
}

func TestSet_ConcurrentWithLogging(t *testing.T) {
	prev := L()
	defer Set(prev)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				Debug("metrics flushed")
			}
		}
	}()

	for i := 0; i < 100; i++ {
		core, _ := observer.New(zapcore.DebugLevel)
		Set(zap.New(core))
	}
	close(stop)
	wg.Wait()

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	Info("after swap")
	assert.Equal(t, 1, logs.Len())
}

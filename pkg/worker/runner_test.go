package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingWorker struct {
	runs atomic.Int32
	fail bool
}

func (w *countingWorker) Name() string { return "counting" }

func (w *countingWorker) Run(ctx context.Context) error {
	w.runs.Add(1)
	if w.fail {
		return errors.New("boom")
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestPeriodicWorker(t *testing.T) {
	t.Run("runs on interval and survives errors", func(t *testing.T) {
		w := &countingWorker{fail: true}
		pw := RunBackground(context.Background(), w, 5*time.Millisecond)
		waitFor(t, func() bool { return w.runs.Load() >= 3 })
		pw.Stop(time.Second)

		after := w.runs.Load()
		time.Sleep(20 * time.Millisecond)
		if w.runs.Load() != after {
			t.Error("worker kept running after Stop")
		}
	})

	t.Run("immediately", func(t *testing.T) {
		w := &countingWorker{}
		pw := RunBackground(context.Background(), w, time.Hour, Immediately())
		waitFor(t, func() bool { return w.runs.Load() == 1 })
		pw.Stop(time.Second)
	})
}

func TestWorkerGroup(t *testing.T) {
	a, b := &countingWorker{}, &countingWorker{}

	g := NewWorkerGroup(context.Background())
	g.Add(a, 5*time.Millisecond)
	g.Add(b, time.Hour, Immediately())
	g.Start()

	waitFor(t, func() bool { return a.runs.Load() >= 2 && b.runs.Load() == 1 })
	g.Stop(time.Second)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/internal/adapters/stream"
	"github.com/selivandex/instrument/internal/health"
	"github.com/selivandex/instrument/internal/metadata"
	"github.com/selivandex/instrument/pkg/collector"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/metrics"
	"github.com/selivandex/instrument/pkg/models"
	"github.com/selivandex/instrument/pkg/sampler"
	"github.com/selivandex/instrument/pkg/worker"
)

// statsReporter logs writer telemetry while the benchmark runs
type statsReporter struct {
	c *collector.Collector
}

func (r *statsReporter) Name() string { return "stats-reporter" }

func (r *statsReporter) Run(ctx context.Context) error {
	st := r.c.Stats()
	logger.Info("writer stats",
		zap.Int("buffered", st.Buffered),
		zap.Int("flushes", st.Flushes),
		zap.Int("failed_flushes", st.FailedFlushes),
		zap.Duration("last_flush", st.LastFlush),
		zap.Duration("avg_flush", st.AvgFlush),
	)
	return nil
}

func runBench(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	var (
		steps     = fs.Int("steps", 100_000, "Training steps to simulate")
		epoch     = fs.Int("epoch", 1_000, "Steps per epoch; samplers are drained at each epoch end")
		expID     = fs.String("experiment", "", "Experiment id (default: random uuid)")
		serve     = fs.Bool("serve", false, "Serve /health, /stats and the /tail websocket on HEALTH_PORT")
		reportInt = fs.Duration("report", 5*time.Second, "Interval of writer stats log lines")
		seed      = fs.Int64("seed", 1, "Random seed")
	)
	fs.Parse(args)

	id := models.StringID(uuid.NewString())
	if *expID != "" {
		id = models.ParseID(*expID)
	}

	locks, err := newLocks(ctx, &cfg.Lock)
	if err != nil {
		return err
	}

	backend, err := newBackend(ctx, cfg, locks)
	if err != nil {
		return err
	}

	opts := []collector.Option{
		collector.WithBackend(backend),
		collector.WithExperimentID(id),
		collector.WithWatermarks(cfg.Writer.LowWatermark, cfg.Writer.HighWatermark),
		collector.WithFlushInterval(cfg.Writer.FlushInterval),
		collector.WithSampler("loss_ema", sampler.NewMovingAverage(50, sampler.EMA)),
		collector.WithSampler("accuracy", sampler.NewSubsample(10)),
		collector.WithSampler("grad_norm", sampler.NewWindow(100, sampler.Max)),
		collector.WithSampler("debug", sampler.Ignore{}),
	}

	var hub *stream.Hub
	if *serve {
		hub = stream.NewHub()
		go hub.Run(ctx)
		opts = append(opts, collector.WithHooks(hub.Hook()))
	}

	c, err := collector.New(ctx, opts...)
	if err != nil {
		backend.Close()
		return err
	}

	var srv *health.Server
	if hub != nil {
		checks := map[string]health.Checker{}
		if hc, ok := backend.(health.Checker); ok {
			checks[cfg.Backend.Kind] = hc
		}
		srv = health.NewServer(fmt.Sprintf(":%d", cfg.Health.Port), c.Writer(), checks, hub)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("health server failed", zap.Error(err))
			}
		}()
		srv.SetReady(true)
	}

	group := worker.NewWorkerGroup(ctx)
	group.Add(&statsReporter{c: c}, *reportInt)
	group.Start()

	logger.Info("benchmark starting",
		zap.String("experiment_id", id.String()),
		zap.String("backend", cfg.Backend.Kind),
		zap.Int("steps", *steps),
	)

	start := time.Now()
	calls, loopErr := trainingLoop(ctx, c, *steps, *epoch, rand.New(rand.NewSource(*seed)))
	elapsed := time.Since(start)

	group.Stop(5 * time.Second)
	if srv != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Stop(stopCtx); err != nil {
			logger.Warn("failed to stop health server", zap.Error(err))
		}
		cancel()
	}

	keys := c.Keys()
	closeErr := c.Close()
	total := time.Since(start)
	stats := c.Stats()

	if err := errors.Join(loopErr, closeErr); err != nil {
		return err
	}

	if cfg.Backend.Kind == config.BackendSQLite && cfg.SQLite.Path != sqlite.Memory {
		err := metadata.Attach(ctx, locks, cfg.SQLite.Path, id, map[string]any{
			"steps": *steps,
			"epoch": *epoch,
			"seed":  *seed,
		})
		if err != nil {
			return err
		}
	}

	printSummary(keys, calls, elapsed, total, stats)
	return nil
}

// trainingLoop reports a decaying loss, an accuracy curve, the learning rate
// and a noisy gradient norm per step. It returns the number of collect calls.
func trainingLoop(ctx context.Context, c *collector.Collector, steps, epoch int, rng *rand.Rand) (int, error) {
	calls := 0
	for step := 0; step < steps; step++ {
		if err := ctx.Err(); err != nil {
			return calls, err
		}
		c.NextFrame()

		progress := float64(step) / float64(steps)
		loss := 2.5*math.Exp(-4*progress) + 0.05*rng.Float64()

		collect := []struct {
			name  string
			value any
		}{
			{"loss", loss},
			{"loss_ema", loss},
			{"accuracy", 1 - math.Exp(-5*progress)},
			{"grad_norm", math.Abs(rng.NormFloat64())},
			{"debug", step},
		}
		for _, m := range collect {
			if err := c.Collect(m.name, m.value); err != nil {
				return calls, err
			}
			calls++
		}

		err := c.Evaluate("lr", func() any {
			return 0.5 * 1e-3 * (1 + math.Cos(math.Pi*progress))
		})
		if err != nil {
			return calls, err
		}
		calls++

		// epoch end: drain the samplers, then keep counting global steps
		if epoch > 0 && (step+1)%epoch == 0 {
			if err := c.Reset(); err != nil {
				return calls, err
			}
			if err := c.SetFrame(int64(step)); err != nil {
				return calls, err
			}
		}
	}
	return calls, nil
}

func printSummary(keys []string, calls int, loop, total time.Duration, st metrics.Stats) {
	t := tabby.New()
	t.AddHeader("METRICS", "COLLECT CALLS", "LOOP", "TOTAL", "CALLS/SEC", "FLUSHES", "AVG FLUSH")
	t.AddLine(
		len(keys),
		calls,
		loop.Round(time.Millisecond),
		total.Round(time.Millisecond),
		int(float64(calls)/loop.Seconds()),
		st.Flushes,
		st.AvgFlush,
	)
	t.Print()
}

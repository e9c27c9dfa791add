package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/pkg/logger"
)

const usage = `usage: instrument <command> [flags]

commands:
  bench   run a synthetic training loop through the write pipeline
  show    print the joined results of an embedded store
  runs    list run ids whose metadata matches key=value pairs
  merge   copy one embedded store into another
  attach  attach key=value metadata to a run id
`

type command func(ctx context.Context, cfg *config.Config, args []string) error

var commands = map[string]command{
	"bench":  runBench,
	"show":   runShow,
	"runs":   runRuns,
	"merge":  runMerge,
	"attach": runAttach,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd, ok := commands[os.Args[1]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cmd, os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	return cmd(ctx, cfg, args)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cheynewallace/tabby"
	"go.uber.org/zap"

	"github.com/selivandex/instrument/internal/adapters/config"
	"github.com/selivandex/instrument/internal/adapters/sqlite"
	"github.com/selivandex/instrument/internal/metadata"
	"github.com/selivandex/instrument/pkg/logger"
	"github.com/selivandex/instrument/pkg/reader"
)

func runShow(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	var (
		path       = fs.String("path", cfg.SQLite.Path, "Embedded store to read")
		metricList = fs.String("metrics", "", "Comma separated metrics (default: all)")
		idList     = fs.String("ids", "", "Comma separated run ids (default: all)")
		limit      = fs.Int("limit", 50, "Maximum rows to print, 0 for all")
	)
	fs.Parse(args)

	table, err := reader.LoadAllResults(ctx, *path, splitList(*metricList), parseIDs(*idList))
	if err != nil {
		return err
	}

	t := tabby.New()
	header := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}
	t.AddHeader(header...)

	for i, row := range table.Rows {
		if *limit > 0 && i == *limit {
			break
		}
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = cell(v)
		}
		t.AddLine(cells...)
	}
	t.Print()

	if *limit > 0 && table.Len() > *limit {
		fmt.Fprintf(os.Stdout, "... %d more rows\n", table.Len()-*limit)
	}
	return nil
}

func cell(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	case float64:
		return fmt.Sprintf("%.6g", x)
	default:
		return x
	}
}

func runRuns(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	path := fs.String("path", cfg.SQLite.Path, "Embedded store to read")
	fs.Parse(args)

	params, err := parseFields(fs.Args())
	if err != nil {
		return err
	}

	ids, err := reader.RunIDs(ctx, *path, params)
	if err != nil {
		return err
	}

	t := tabby.New()
	t.AddHeader("ID")
	for _, id := range ids {
		t.AddLine(id.String())
	}
	t.Print()
	return nil
}

func runMerge(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ExitOnError)
	var (
		from = fs.String("from", "", "Store to copy from")
		into = fs.String("into", "", "Store to copy into (created if missing)")
	)
	fs.Parse(args)

	if *from == "" || *into == "" {
		return fmt.Errorf("both -from and -into are required")
	}

	locks, err := newLocks(ctx, &cfg.Lock)
	if err != nil {
		return err
	}

	src, err := sqlite.Open(*from, sqlite.WithLocks(locks))
	if err != nil {
		return err
	}
	defer src.Close()

	if err := src.InitDB(ctx); err != nil {
		return err
	}
	if err := src.Merge(ctx, *into); err != nil {
		return err
	}

	logger.Info("merge complete", zap.String("from", *from), zap.String("into", *into))
	return nil
}

func runAttach(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	var (
		path = fs.String("path", cfg.SQLite.Path, "Embedded store to write")
		id   = fs.String("id", "", "Run id")
	)
	fs.Parse(args)

	runID, err := parseID(*id)
	if err != nil {
		return err
	}
	fields, err := parseFields(fs.Args())
	if err != nil {
		return err
	}

	locks, err := newLocks(ctx, &cfg.Lock)
	if err != nil {
		return err
	}

	return metadata.Attach(ctx, locks, *path, runID, fields)
}

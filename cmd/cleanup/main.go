package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"

	"github.com/zhernovs/ort/internal/cleanup"
	"github.com/zhernovs/ort/internal/config"
	"github.com/zhernovs/ort/internal/storage"
)

func main() {
	var (
		dryRun      = flag.Bool("dry-run", false, "report what would be removed without changing the storage")
		concurrency = flag.Int("concurrency", 4, "number of containers processed at once")
		maxItems    = flag.Int("max-containers", 0, "maximum containers to process (0 = unlimited)")
		skip        []string
	)
	flag.Func("skip", "container key, or provenance URL for postgres, to leave untouched (repeatable, comma separated)", func(v string) error {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				skip = append(skip, s)
			}
		}
		return nil
	})
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	policy, err := storage.Policy(cfg.Compatibility)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	runID := uuid.NewString()
	opts := cleanup.Options{
		Policy:      policy,
		DryRun:      *dryRun,
		Skip:        skip,
		Concurrency: *concurrency,
		Limit:       *maxItems,
	}

	var summary cleanup.Summary
	switch cfg.Storage.Kind {
	case config.StorageFile:
		fs, err := storage.OpenFileStorage(*cfg.Storage.File)
		if err != nil {
			log.Fatalf("file storage: %v", err)
		}
		slog.InfoContext(ctx, "cleanup starting", "run", runID, "storage", "file", "dry_run", *dryRun)
		summary, err = cleanup.NewFileRunner(storage.NewFileBased(fs), opts).Run(ctx, flag.Args())
		if err != nil {
			log.Fatalf("cleanup: %v", err)
		}
	case config.StoragePostgres:
		store, err := storage.OpenPostgres(ctx, *cfg.Storage.Postgres)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer store.Close()
		slog.InfoContext(ctx, "cleanup starting", "run", runID, "storage", "postgres", "schema", store.Schema(), "dry_run", *dryRun)
		summary, err = cleanup.NewRelationalRunner(store, opts).Run(ctx, flag.Args())
		if err != nil {
			log.Fatalf("cleanup: %v", err)
		}
	}

	slog.InfoContext(ctx, "cleanup complete",
		"run", runID, "processed", summary.Processed, "skipped", summary.Skipped, "failed", summary.Failed,
		"kept", summary.Kept, "removed", summary.Removed, "dry_run", *dryRun)
	if summary.Failed > 0 {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhernovs/ort/internal/config"
	"github.com/zhernovs/ort/internal/storage"
	"github.com/zhernovs/ort/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Worker.PackagesFile == "" {
		log.Fatal("PACKAGES_FILE is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, err := storage.Configure(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := os.MkdirAll(cfg.Worker.ScratchDir, 0o755); err != nil {
		log.Fatal(err)
	}
	scanner, err := worker.NewExecScanner(ctx, worker.ExecConfig{
		Path:       cfg.Worker.ScannerPath,
		Name:       cfg.Worker.ScannerName,
		Version:    cfg.Worker.ScannerVersion,
		Args:       cfg.Worker.ScannerArgs,
		ScratchDir: cfg.Worker.ScratchDir,
	})
	if err != nil {
		log.Fatal(err)
	}

	pkgs, err := worker.LoadPackages(cfg.Worker.PackagesFile)
	if err != nil {
		log.Fatal(err)
	}

	r := worker.NewRunner(cfg.Worker, store, scanner)

	// healthz checks storage connectivity with a 2s timeout; returns 503 if unreachable
	if addr := cfg.Worker.HTTPAddr; addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
				pingCtx, pingCancel := context.WithTimeout(req.Context(), 2*time.Second)
				defer pingCancel()
				w.Header().Set("Content-Type", "application/json")
				if err := store.Ping(pingCtx); err != nil {
					slog.WarnContext(req.Context(), "healthz: storage ping failed", "reason", err)
					w.WriteHeader(http.StatusServiceUnavailable)
					_, _ = w.Write([]byte(`{"status":"unhealthy","reason":"storage unreachable"}`))
					return
				}
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(`{"status":"healthy"}`))
			})
			mux.Handle("/metrics", promhttp.Handler())
			s := &http.Server{Addr: addr, Handler: mux}
			go func() {
				<-ctx.Done()
				shctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = s.Shutdown(shctx)
			}()
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server", "reason", err)
			}
		}()
	}

	details := scanner.Details()
	slog.Info("worker starting",
		"id", r.WorkerID(), "concurrency", cfg.Worker.Concurrency, "packages", len(pkgs),
		"scanner", details.String(), "storage", store.Name())

	outcomes, err := r.Run(ctx, pkgs)
	if err != nil {
		log.Fatal(err)
	}

	var cached, scanned, stored, failed int
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			failed++
		case o.Cached:
			cached++
		default:
			scanned++
			if o.Stored {
				stored++
			}
		}
	}
	stats := store.Stats()
	slog.Info("worker complete",
		"cached", cached, "scanned", scanned, "stored", stored, "failed", failed,
		"reads", stats.NumReads, "hits", stats.NumHits)
	if failed > 0 {
		_ = store.Close()
		os.Exit(1)
	}
}

// Package worker scans packages, reusing stored scan results where a
// compatible scanner has already scanned the same provenance.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/zhernovs/ort/internal/config"
	"github.com/zhernovs/ort/internal/model"
	"github.com/zhernovs/ort/internal/storage"
)

var packagesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ort",
		Subsystem: "worker",
		Name:      "packages_total",
		Help:      "Packages processed by outcome.",
	},
	[]string{"outcome"},
)

const (
	outcomeCached  = "cached"
	outcomeScanned = "scanned"
	outcomeFailed  = "failed"
)

type Runner struct {
	id          string
	storage     *storage.ScanResultsStorage
	scanner     Scanner
	concurrency int
	backoff     backoff
	inFlight    atomic.Int64
}

func NewRunner(cfg config.WorkerConfig, s *storage.ScanResultsStorage, sc Scanner) *Runner {
	return &Runner{
		id:          uuid.NewString(),
		storage:     s,
		scanner:     sc,
		concurrency: max(cfg.Concurrency, 1),
		backoff:     scanBackoff,
	}
}

func (r *Runner) WorkerID() string { return r.id }

// InFlight returns the number of packages currently being processed.
func (r *Runner) InFlight() int64 { return r.inFlight.Load() }

// Outcome is the result of processing one package.
type Outcome struct {
	Package model.Identifier
	// Cached is set when stored results were reused.
	Cached bool
	// Results are restricted to the package's VCS path if it has one.
	Results []model.ScanResult
	// Stored reports whether a fresh result was added to the storage.
	Stored bool
	Err    error
}

// Run processes pkgs with bounded concurrency. Outcomes are returned in input
// order. Per package failures are reported in the outcomes; the returned
// error is set only if ctx ends the run.
func (r *Runner) Run(ctx context.Context, pkgs []model.Package) ([]Outcome, error) {
	outcomes := make([]Outcome, len(pkgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, pkg := range pkgs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.inFlight.Add(1)
			defer r.inFlight.Add(-1)
			outcomes[i] = r.scanPackage(gctx, pkg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

func (r *Runner) scanPackage(ctx context.Context, pkg model.Package) Outcome {
	out := Outcome{Package: pkg.ID}
	details := r.scanner.Details()
	log := slog.With("worker", r.id, "package", pkg.ID.Coordinates())

	cached, err := r.storage.ReadCompatible(ctx, pkg, details)
	if err != nil {
		out.Err = fmt.Errorf("read stored results: %w", err)
		log.ErrorContext(ctx, "package failed", "reason", out.Err)
		packagesCounter.WithLabelValues(outcomeFailed).Inc()
		return out
	}
	if len(cached.Results) > 0 {
		out.Cached = true
		out.Results = restrict(pkg, cached.Results)
		log.InfoContext(ctx, "reusing stored scan results", "count", len(cached.Results))
		packagesCounter.WithLabelValues(outcomeCached).Inc()
		return out
	}

	var result model.ScanResult
	err = r.backoff.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = r.scanner.Scan(ctx, pkg)
		if err != nil {
			log.WarnContext(ctx, "scan attempt failed", "reason", err)
		}
		return err
	})
	if err != nil {
		out.Err = fmt.Errorf("scan %s: %w", pkg.ID.Coordinates(), err)
		log.ErrorContext(ctx, "package failed", "reason", out.Err)
		packagesCounter.WithLabelValues(outcomeFailed).Inc()
		return out
	}

	added, err := r.storage.Add(ctx, pkg.ID, result)
	switch {
	case err != nil:
		log.ErrorContext(ctx, "could not store scan result", "reason", err)
	case !added.Success:
		log.InfoContext(ctx, "scan result not stored", "reason", added.Message)
	default:
		out.Stored = true
	}
	out.Results = restrict(pkg, []model.ScanResult{result})
	log.InfoContext(ctx, "scanned package", "stored", out.Stored, "files", result.Summary.FileCount)
	packagesCounter.WithLabelValues(outcomeScanned).Inc()
	return out
}

// restrict narrows repository results to the package's path within the
// repository.
func restrict(pkg model.Package, results []model.ScanResult) []model.ScanResult {
	dir := pkg.VcsProcessed.Path
	if dir == "" {
		return results
	}
	out := make([]model.ScanResult, 0, len(results))
	for _, res := range results {
		if res.Provenance.SourceArtifact == nil && res.Provenance.VcsInfo != nil {
			res = res.FilterPath(dir)
		}
		out = append(out, res)
	}
	return out
}

// LoadPackages reads a YAML (or JSON) list of packages.
func LoadPackages(path string) ([]model.Package, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read packages %s: %w", path, err)
	}
	var pkgs []model.Package
	if err := yaml.Unmarshal(b, &pkgs); err != nil {
		return nil, fmt.Errorf("parse packages %s: %w", path, err)
	}
	for i, p := range pkgs {
		if p.ID.IsZero() {
			return nil, fmt.Errorf("parse packages %s: entry %d has no id", path, i)
		}
	}
	return pkgs, nil
}

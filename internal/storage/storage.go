// Package storage caches scan results by provenance and scanner. A
// ScanResultsStorage enforces the read filters and write admission rules on
// top of a Backend, which is either file based or relational.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/zhernovs/ort/internal/model"
)

// Backend persists scan results. Errors that stem from the storage itself
// must be reported as *StorageError.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// ReadPackage returns every result stored under the package's provenance
	// keys. Missing keys contribute no results.
	ReadPackage(ctx context.Context, pkg model.Package) ([]model.ScanResult, error)
	// AddResult stores a result that passed admission.
	AddResult(ctx context.Context, id model.Identifier, result model.ScanResult) error
}

// ScanResultsStorage is the scan results cache used by the scanner.
type ScanResultsStorage struct {
	backend Backend
	policy  model.CompatibilityPolicy
	stats   model.AccessStatistics
	closer  io.Closer
}

type Option func(*ScanResultsStorage)

// WithCompatibility sets the policy deciding which stored results satisfy a
// scanner. The default is model.DefaultCompatibility.
func WithCompatibility(p model.CompatibilityPolicy) Option {
	return func(s *ScanResultsStorage) { s.policy = p }
}

// withCloser registers a resource released by Close.
func withCloser(c io.Closer) Option {
	return func(s *ScanResultsStorage) { s.closer = c }
}

func New(backend Backend, opts ...Option) *ScanResultsStorage {
	s := &ScanResultsStorage{backend: backend, policy: model.DefaultCompatibility}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *ScanResultsStorage) Name() string { return s.backend.Name() }

// Stats returns the access statistics.
func (s *ScanResultsStorage) Stats() model.AccessSnapshot { return s.stats.Snapshot() }

// Location describes where the backend keeps its data, for logs.
func (s *ScanResultsStorage) Location() string {
	if l, ok := s.backend.(interface{ Location() string }); ok {
		return l.Location()
	}
	return s.Name()
}

// Ping checks that the backend is reachable. Backends without a
// connection always succeed.
func (s *ScanResultsStorage) Ping(ctx context.Context) error {
	if p, ok := s.backend.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close releases backend resources such as database connections.
func (s *ScanResultsStorage) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

func (s *ScanResultsStorage) record(results []model.ScanResult) {
	hit := len(results) > 0
	s.stats.RecordRead(hit)
	readsCounter.WithLabelValues(s.Name()).Inc()
	if hit {
		hitsCounter.WithLabelValues(s.Name()).Inc()
	}
}

func (s *ScanResultsStorage) readAll(ctx context.Context, pkg model.Package) ([]model.ScanResult, error) {
	start := time.Now()
	results, err := s.backend.ReadPackage(ctx, pkg)
	observe(s.Name(), "read", start)
	if err != nil {
		if !IsStorageError(err) {
			return nil, err
		}
		slog.InfoContext(ctx, "could not read scan results",
			"storage", s.Name(), "package", pkg.ID.Coordinates(), "reason", err)
		return nil, nil
	}
	return results, nil
}

// Read returns all stored results for pkg. Storage failures are logged and
// read as a miss; only unexpected errors are returned.
func (s *ScanResultsStorage) Read(ctx context.Context, pkg model.Package) (model.ScanResultContainer, error) {
	results, err := s.readAll(ctx, pkg)
	if err != nil {
		return model.ScanResultContainer{}, err
	}
	s.record(results)
	return model.ScanResultContainer{ID: pkg.ID, Results: nonNil(results)}, nil
}

// ReadCompatible returns the stored results for pkg whose provenance still
// matches the package and whose scanner is compatible with details.
func (s *ScanResultsStorage) ReadCompatible(ctx context.Context, pkg model.Package, details model.ScannerDetails) (model.ScanResultContainer, error) {
	all, err := s.readAll(ctx, pkg)
	if err != nil {
		return model.ScanResultContainer{}, err
	}
	results := s.filter(ctx, pkg, details, all)
	s.record(results)
	return model.ScanResultContainer{ID: pkg.ID, Results: nonNil(results)}, nil
}

func (s *ScanResultsStorage) filter(ctx context.Context, pkg model.Package, details model.ScannerDetails, all []model.ScanResult) []model.ScanResult {
	if len(all) == 0 {
		return nil
	}

	matching := make([]model.ScanResult, 0, len(all))
	var stale []model.Provenance
	for _, r := range all {
		if r.Provenance.Matches(pkg) {
			matching = append(matching, r)
		} else {
			stale = append(stale, r.Provenance)
		}
	}
	if len(matching) == 0 {
		descriptions := make([]string, 0, len(stale))
		for _, p := range stale {
			descriptions = append(descriptions, p.Description())
		}
		slog.InfoContext(ctx, "no stored scan results with matching provenance",
			"package", pkg.ID.Coordinates(), "ignored", descriptions)
		return nil
	}

	compatible := make([]model.ScanResult, 0, len(matching))
	var incompatible []string
	for _, r := range matching {
		if s.policy.Compatible(details, r.Scanner) {
			compatible = append(compatible, r)
		} else {
			incompatible = append(incompatible, r.Scanner.String())
		}
	}
	if len(compatible) == 0 {
		slog.InfoContext(ctx, "no stored scan results from a compatible scanner",
			"package", pkg.ID.Coordinates(), "scanner", details.String(), "ignored", incompatible)
		return nil
	}

	slog.InfoContext(ctx, "found stored scan results",
		"package", pkg.ID.Coordinates(), "scanner", details.String(), "count", len(compatible))
	return compatible
}

// admit checks the rules a result must pass before it is stored and returns
// the rejection reason, if any.
func admit(result model.ScanResult) string {
	desc := result.Provenance.Description()
	switch {
	case result.Summary.FileCount == 0:
		return fmt.Sprintf("Not storing scan result for '%s' because no files were scanned.", desc)
	case result.RawResult.IsNull():
		return fmt.Sprintf("Not storing scan result for '%s' because the raw result is null.", desc)
	case result.Provenance.IsEmpty():
		return fmt.Sprintf("Not storing scan result for '%s' because no provenance information is available.", desc)
	default:
		return ""
	}
}

// Add stores result for the package id. Rejected results and storage failures
// are reported in the AddResult; only unexpected errors are returned.
func (s *ScanResultsStorage) Add(ctx context.Context, id model.Identifier, result model.ScanResult) (model.AddResult, error) {
	if err := id.Validate(); err != nil {
		msg := fmt.Sprintf("Not storing scan result for '%s': %v", id.Coordinates(), err)
		slog.InfoContext(ctx, msg)
		addsCounter.WithLabelValues(s.Name(), outcomeRejected).Inc()
		return model.AddResult{Success: false, Message: msg}, nil
	}
	if msg := admit(result); msg != "" {
		slog.InfoContext(ctx, msg, "package", id.Coordinates())
		addsCounter.WithLabelValues(s.Name(), outcomeRejected).Inc()
		return model.AddResult{Success: false, Message: msg}, nil
	}

	result.Summary = result.Summary.Normalize()
	start := time.Now()
	err := s.backend.AddResult(ctx, id, result)
	observe(s.Name(), "add", start)
	if err != nil {
		if !IsStorageError(err) {
			return model.AddResult{}, err
		}
		msg := fmt.Sprintf("Could not store scan result for '%s': %v", id.Coordinates(), err)
		slog.WarnContext(ctx, "could not store scan result",
			"storage", s.Name(), "package", id.Coordinates(), "reason", err)
		addsCounter.WithLabelValues(s.Name(), outcomeFailed).Inc()
		return model.AddResult{Success: false, Message: msg}, nil
	}
	addsCounter.WithLabelValues(s.Name(), outcomeStored).Inc()
	return model.AddResult{Success: true}, nil
}

func nonNil(results []model.ScanResult) []model.ScanResult {
	if results == nil {
		return []model.ScanResult{}
	}
	return results
}

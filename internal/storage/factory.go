package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhernovs/ort/internal/config"
	"github.com/zhernovs/ort/internal/db"
	"github.com/zhernovs/ort/internal/filestorage"
	"github.com/zhernovs/ort/internal/model"
	"github.com/zhernovs/ort/internal/s3"
)

// Policy builds the compatibility policy from its configuration.
func Policy(cfg config.CompatibilityConfig) (model.CompatibilityPolicy, error) {
	tolerance, err := model.ParseVersionTolerance(cfg.Version)
	if err != nil {
		return model.CompatibilityPolicy{}, err
	}
	p := model.CompatibilityPolicy{Version: tolerance, Configuration: true}
	if cfg.Configuration != nil {
		p.Configuration = *cfg.Configuration
	}
	return p, nil
}

// Configure builds the storage selected by cfg. The configuration is
// validated first; nothing is connected when it is invalid.
func Configure(ctx context.Context, cfg *config.Config) (*ScanResultsStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := Policy(cfg.Compatibility)
	if err != nil {
		return nil, err
	}

	var s *ScanResultsStorage
	switch cfg.Storage.Kind {
	case config.StorageFile:
		fs, err := OpenFileStorage(*cfg.Storage.File)
		if err != nil {
			return nil, err
		}
		s = New(NewFileBased(fs), WithCompatibility(policy))
	case config.StoragePostgres:
		store, err := OpenPostgres(ctx, *cfg.Storage.Postgres)
		if err != nil {
			return nil, err
		}
		s = New(NewPostgres(store), WithCompatibility(policy), withCloser(store))
	default:
		return nil, fmt.Errorf("unsupported storage kind %q", cfg.Storage.Kind)
	}

	slog.InfoContext(ctx, "using scan results storage",
		"storage", s.Name(), "location", s.Location(), "version_tolerance", policy.Version, "configuration_match", policy.Configuration)
	return s, nil
}

// OpenFileStorage builds the blob storage of a file based configuration,
// wrapped in a read cache if one is configured.
func OpenFileStorage(cfg config.FileBasedConfig) (filestorage.FileStorage, error) {
	var (
		fs  filestorage.FileStorage
		err error
	)
	b := cfg.Backend
	switch b.Kind {
	case config.BackendLocal:
		fs, err = filestorage.NewLocalStorage(b.Local.Directory)
	case config.BackendHTTP:
		fs, err = filestorage.NewHTTPStorage(filestorage.HTTPConfig{
			URL:     b.HTTP.URL,
			Token:   b.HTTP.Token,
			Headers: b.HTTP.Headers,
			Timeout: b.HTTP.Timeout,
			Retries: b.HTTP.Retries,
		})
	case config.BackendS3:
		fs, err = s3.New(s3.Config{
			Endpoint:  b.S3.Endpoint,
			Region:    b.S3.Region,
			AccessKey: b.S3.AccessKey,
			SecretKey: b.S3.SecretKey,
			Bucket:    b.S3.Bucket,
			Prefix:    b.S3.Prefix,
			UseSSL:    b.S3.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported file storage backend %q", b.Kind)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheEntries > 0 {
		return filestorage.NewCached(fs, cfg.CacheEntries)
	}
	return fs, nil
}

// OpenPostgres connects to the database and creates the schema. Roles
// without DDL privileges skip schema creation.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*db.Store, error) {
	store, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if !db.IsInsufficientPrivilege(err) {
			_ = store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		slog.WarnContext(ctx, "ensure schema skipped due to insufficient privilege", "reason", err)
	}
	return store, nil
}

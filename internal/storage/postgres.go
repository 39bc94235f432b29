package storage

import (
	"context"
	"log/slog"

	"github.com/zhernovs/ort/internal/db"
	"github.com/zhernovs/ort/internal/model"
)

// Postgres stores each result as its own row, so adds are single inserts and
// need no read-modify-write. Rows are found by the same provenance URLs the
// file based storage derives its keys from.
type Postgres struct {
	store *db.Store
}

func NewPostgres(store *db.Store) *Postgres { return &Postgres{store: store} }

func (p *Postgres) Name() string { return "PostgresStorage" }

func (p *Postgres) Location() string { return p.store.Location() }

func (p *Postgres) Ping(ctx context.Context) error { return p.store.Ping(ctx) }

func (p *Postgres) ReadPackage(ctx context.Context, pkg model.Package) ([]model.ScanResult, error) {
	rows, err := p.store.PackageResults(ctx, pkg.SourceArtifact.URL, pkg.VcsProcessed.URL)
	if err != nil {
		return nil, &StorageError{Op: "read", Key: pkg.ID.Coordinates(), Err: err}
	}
	results := make([]model.ScanResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.Result)
	}
	return results, nil
}

func (p *Postgres) AddResult(ctx context.Context, id model.Identifier, result model.ScanResult) error {
	rowID, err := p.store.InsertResult(ctx, id, result)
	if err != nil {
		return &StorageError{Op: "add", Key: id.Coordinates(), Err: err}
	}
	slog.InfoContext(ctx, "stored scan result", "package", id.Coordinates(), "row", rowID)
	return nil
}

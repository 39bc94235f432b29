// Package db stores scan results in PostgreSQL, one row per result.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhernovs/ort/internal/config"
	"github.com/zhernovs/ort/internal/model"
)

const (
	batchSize       = 100
	tableName       = "scan_results"
	applicationName = "ort-scan-results"
)

type Store struct {
	Pool     *pgxpool.Pool
	schema   string
	location string
}

// Open connects to the database. Username and password from cfg override
// any credentials in the URL.
func Open(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.Username != "" {
		pcfg.ConnConfig.User = cfg.Username
	}
	if cfg.Password != "" {
		pcfg.ConnConfig.Password = cfg.Password
	}
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	pcfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	p, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	location := fmt.Sprintf("postgres://%s:%d/%s?schema=%s",
		pcfg.ConnConfig.Host, pcfg.ConnConfig.Port, pcfg.ConnConfig.Database, schema)
	return &Store{Pool: p, schema: schema, location: location}, nil
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Store) Schema() string { return s.schema }

// Location names the database and schema without credentials.
func (s *Store) Location() string { return s.location }

func (s *Store) table() string {
	return pgx.Identifier{s.schema, tableName}.Sanitize()
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := pgx.Identifier{s.schema}.Sanitize()
	table := s.table()
	index := func(name string) string {
		return pgx.Identifier{tableName + "_" + name + "_idx"}.Sanitize()
	}
	_, err := s.Pool.Exec(ctx, `
CREATE SCHEMA IF NOT EXISTS `+schema+`;

CREATE TABLE IF NOT EXISTS `+table+` (
  id BIGSERIAL PRIMARY KEY,
  identifier TEXT NOT NULL,
  purl TEXT,
  source_artifact_url TEXT,
  vcs_url TEXT,
  scanner_name TEXT NOT NULL,
  scanner_version TEXT NOT NULL,
  scanner_configuration TEXT NOT NULL DEFAULT '',
  scan_result JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS `+index("identifier")+` ON `+table+` (identifier);
CREATE INDEX IF NOT EXISTS `+index("source_artifact")+` ON `+table+` (source_artifact_url, id);
CREATE INDEX IF NOT EXISTS `+index("vcs")+` ON `+table+` (vcs_url, id);
CREATE INDEX IF NOT EXISTS `+index("scanner")+` ON `+table+` (scanner_name, scanner_version);
`)
	return err
}

// IsInsufficientPrivilege reports whether err is a PostgreSQL permission
// error, as returned by EnsureSchema for read-only roles.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

// Row is a stored scan result and its row id.
type Row struct {
	ID         int64
	Identifier model.Identifier
	Result     model.ScanResult
}

// KeyCount is the number of results stored under a key.
type KeyCount struct {
	Key   string
	Count int
}

// storageKey is the URL a result is grouped by: its source artifact if it
// has one, its repository otherwise.
const storageKey = `COALESCE(source_artifact_url, vcs_url)`

// InsertResult stores one result for the package id.
func (s *Store) InsertResult(ctx context.Context, id model.Identifier, result model.ScanResult) (int64, error) {
	doc, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("encode scan result: %w", err)
	}
	var sourceURL, vcsURL *string
	if p := result.Provenance.SourceArtifact; p != nil {
		sourceURL = nullableString(p.URL)
	}
	if v := result.Provenance.VcsInfo; v != nil {
		vcsURL = nullableString(v.URL)
	}

	var rowID int64
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (identifier, purl, source_artifact_url, vcs_url,
			scanner_name, scanner_version, scanner_configuration, scan_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, id.Coordinates(), nullableString(id.PURL()), sourceURL, vcsURL,
		result.Scanner.Name, result.Scanner.Version, result.Scanner.Configuration, doc).Scan(&rowID)
	if err != nil {
		return 0, err
	}
	return rowID, nil
}

// PackageResults returns the results stored for a package's source artifact
// and repository: artifact results first, each group in insertion order.
// Blank URLs match nothing.
func (s *Store) PackageResults(ctx context.Context, artifactURL, vcsURL string) ([]Row, error) {
	a, v := nullableString(artifactURL), nullableString(vcsURL)
	if a == nil && v == nil {
		return nil, nil
	}
	return s.query(ctx, `
		SELECT id, identifier, scan_result
		FROM `+s.table()+`
		WHERE source_artifact_url = $1 OR (source_artifact_url IS NULL AND vcs_url = $2)
		ORDER BY CASE WHEN source_artifact_url = $1 THEN 0 ELSE 1 END, id
	`, a, v)
}

// KeyResults returns the results grouped under key in insertion order.
func (s *Store) KeyResults(ctx context.Context, key string) ([]Row, error) {
	return s.query(ctx, `
		SELECT id, identifier, scan_result
		FROM `+s.table()+`
		WHERE `+storageKey+` = $1
		ORDER BY id
	`, key)
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]Row, error) {
	rows, err := s.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			identifier string
			doc        []byte
		)
		if err := rows.Scan(&r.ID, &identifier, &doc); err != nil {
			return nil, err
		}
		r.Identifier = model.ParseIdentifier(identifier)
		if err := json.Unmarshal(doc, &r.Result); err != nil {
			return nil, fmt.Errorf("decode scan result %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Keys lists every key with stored results, most results first.
func (s *Store) Keys(ctx context.Context) ([]KeyCount, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+storageKey+` AS k, COUNT(*)
		FROM `+s.table()+`
		WHERE `+storageKey+` IS NOT NULL
		GROUP BY k
		ORDER BY COUNT(*) DESC, k
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KeyCount
	for rows.Next() {
		var c KeyCount
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteResults removes the given rows in a single transaction and returns
// the number of rows deleted.
func (s *Store) DeleteResults(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for start := 0; start < len(ids); start += batchSize {
		end := min(start+batchSize, len(ids))
		batch.Queue(`DELETE FROM `+s.table()+` WHERE id = ANY($1)`, ids[start:end])
	}
	br := tx.SendBatch(ctx, batch)
	var deleted int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return 0, err
		}
		deleted += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return deleted, nil
}

func nullableString(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocalFromEnv(t *testing.T) {
	t.Setenv("ORT_CONFIG_FILE", "")
	t.Setenv("ORT_STORAGE_KIND", "file")
	t.Setenv("ORT_FILE_BACKEND", "local")
	t.Setenv("ORT_FILE_LOCAL_DIR", "/var/lib/ort")
	t.Setenv("ORT_FILE_CACHE_ENTRIES", "64")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageFile, cfg.Storage.Kind)
	require.NotNil(t, cfg.Storage.File)
	assert.Nil(t, cfg.Storage.Postgres)
	assert.Equal(t, BackendLocal, cfg.Storage.File.Backend.Kind)
	assert.Equal(t, "/var/lib/ort", cfg.Storage.File.Backend.Local.Directory)
	assert.Equal(t, 64, cfg.Storage.File.CacheEntries)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func TestLoadPostgresFromEnv(t *testing.T) {
	t.Setenv("ORT_CONFIG_FILE", "")
	t.Setenv("ORT_STORAGE_KIND", "postgres")
	t.Setenv("ORT_POSTGRES_URL", "postgres://db:5432/ort")
	t.Setenv("ORT_POSTGRES_SCHEMA", "public")
	t.Setenv("ORT_POSTGRES_USERNAME", "ort")
	t.Setenv("ORT_POSTGRES_PASSWORD", "secret")
	t.Setenv("ORT_COMPAT_VERSION", "exact")
	t.Setenv("ORT_COMPAT_CONFIGURATION", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Storage.Postgres)
	assert.Nil(t, cfg.Storage.File)
	assert.Equal(t, "public", cfg.Storage.Postgres.Schema)
	assert.Equal(t, "exact", cfg.Compatibility.Version)
	require.NotNil(t, cfg.Compatibility.Configuration)
	assert.False(t, *cfg.Compatibility.Configuration)
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ort.yml")
	doc := `
storage:
  kind: file
  file:
    cache_entries: 16
    backend:
      kind: http
      http:
        url: https://storage.example.com/ort
        timeout: 30s
        retries: 5
        headers:
          X-Team: oss
worker:
  concurrency: 8
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	t.Setenv("ORT_CONFIG_FILE", path)
	t.Setenv("ORT_STORAGE_KIND", "")
	t.Setenv("ORT_FILE_BACKEND", "")
	t.Setenv("ORT_FILE_HTTP_TOKEN", "t0ken")
	t.Setenv("WORKER_CONCURRENCY", "")

	cfg, err := Load()
	require.NoError(t, err)
	h := cfg.Storage.File.Backend.HTTP
	require.NotNil(t, h)
	assert.Equal(t, "https://storage.example.com/ort", h.URL)
	assert.Equal(t, "t0ken", h.Token)
	assert.Equal(t, 30*time.Second, h.Timeout)
	assert.Equal(t, 5, h.Retries)
	assert.Equal(t, map[string]string{"X-Team": "oss"}, h.Headers)
	assert.Equal(t, 16, cfg.Storage.File.CacheEntries)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ORT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  StorageConfig
		msg  string
	}{
		{"no kind", StorageConfig{}, "storage kind is required"},
		{"unknown kind", StorageConfig{Kind: "nosql"}, "unsupported storage kind"},
		{"file missing", StorageConfig{Kind: StorageFile}, "file based storage configuration is missing"},
		{"both variants", StorageConfig{Kind: StorageFile, File: &FileBasedConfig{}, Postgres: &PostgresConfig{}}, "postgres configuration is set"},
		{"no backend", StorageConfig{Kind: StorageFile, File: &FileBasedConfig{}}, "backend kind is required"},
		{"blank directory", StorageConfig{Kind: StorageFile, File: &FileBasedConfig{Backend: FileBackendConfig{Kind: BackendLocal, Local: &LocalConfig{}}}}, "directory for local file storage is missing"},
		{"blank url", StorageConfig{Kind: StorageFile, File: &FileBasedConfig{Backend: FileBackendConfig{Kind: BackendHTTP, HTTP: &HTTPConfig{}}}}, "URL for HTTP file storage is missing"},
		{"two backends", StorageConfig{Kind: StorageFile, File: &FileBasedConfig{Backend: FileBackendConfig{Kind: BackendLocal, Local: &LocalConfig{Directory: "/x"}, HTTP: &HTTPConfig{URL: "http://x"}}}}, "exactly one file storage backend"},
		{"s3 bucket", StorageConfig{Kind: StorageFile, File: &FileBasedConfig{Backend: FileBackendConfig{Kind: BackendS3, S3: &S3Config{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b"}}}}, "bucket for S3 file storage is missing"},
		{"postgres schema", StorageConfig{Kind: StoragePostgres, Postgres: &PostgresConfig{URL: "postgres://x"}}, "schema for PostgreSQL storage is missing"},
		{"postgres password", StorageConfig{Kind: StoragePostgres, Postgres: &PostgresConfig{URL: "postgres://x", Schema: "s", Username: "u"}}, "password for PostgreSQL storage is missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}

	ok := Config{Storage: StorageConfig{Kind: StorageFile, File: &FileBasedConfig{Backend: FileBackendConfig{Kind: BackendLocal, Local: &LocalConfig{Directory: "/x"}}}}}
	require.NoError(t, ok.Validate())
	ok.Compatibility.Version = "fuzzy"
	require.Error(t, ok.Validate())
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("A=1, B = two ,broken,=x")
	assert.Equal(t, map[string]string{"A": "1", "B": "two"}, got)
}

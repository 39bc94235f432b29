// Package config loads the storage and worker configuration from an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Compatibility CompatibilityConfig `yaml:"compatibility"`
	Worker        WorkerConfig        `yaml:"worker"`
}

type StorageKind string

const (
	StorageFile     StorageKind = "file"
	StoragePostgres StorageKind = "postgres"
)

// StorageConfig selects exactly one storage family. Kind names the populated
// variant.
type StorageConfig struct {
	Kind     StorageKind      `yaml:"kind"`
	File     *FileBasedConfig `yaml:"file,omitempty"`
	Postgres *PostgresConfig  `yaml:"postgres,omitempty"`
}

type FileBasedConfig struct {
	Backend FileBackendConfig `yaml:"backend"`
	// CacheEntries enables an in-memory read cache of that many containers.
	CacheEntries int `yaml:"cache_entries"`
}

type FileBackendKind string

const (
	BackendLocal FileBackendKind = "local"
	BackendHTTP  FileBackendKind = "http"
	BackendS3    FileBackendKind = "s3"
)

type FileBackendConfig struct {
	Kind  FileBackendKind `yaml:"kind"`
	Local *LocalConfig    `yaml:"local,omitempty"`
	HTTP  *HTTPConfig     `yaml:"http,omitempty"`
	S3    *S3Config       `yaml:"s3,omitempty"`
}

type LocalConfig struct {
	Directory string `yaml:"directory"`
}

type HTTPConfig struct {
	URL     string            `yaml:"url"`
	Token   string            `yaml:"token"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	Retries int               `yaml:"retries"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	Schema   string `yaml:"schema"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type CompatibilityConfig struct {
	// Version is one of exact, patch, minor or major.
	Version string `yaml:"version"`
	// Configuration requires identical scanner configurations; nil means true.
	Configuration *bool `yaml:"configuration"`
}

type WorkerConfig struct {
	Concurrency    int      `yaml:"concurrency"`
	ScannerPath    string   `yaml:"scanner_path"`
	ScannerName    string   `yaml:"scanner_name"`
	ScannerVersion string   `yaml:"scanner_version"`
	ScannerArgs    []string `yaml:"scanner_args"`
	ScratchDir     string   `yaml:"scratch_dir"`
	HTTPAddr       string   `yaml:"http_addr"`
	PackagesFile   string   `yaml:"packages_file"`
}

// Load reads .env files, the YAML file named by ORT_CONFIG_FILE if set, and
// the environment, in increasing order of precedence. The result is
// validated.
func Load() (*Config, error) {
	// .env files are optional and only help local development.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := &Config{}
	if path := strings.TrimSpace(os.Getenv("ORT_CONFIG_FILE")); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	applyEnv(cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses a YAML configuration document without validating it.
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func getBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// setString overwrites *dst with the variable's value if it is set.
func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
			return
		}
	}
}

// parseHeaders parses "Name=value,Other=value".
func parseHeaders(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return out
}

// applyEnv overlays environment variables. Only the variant selected by the
// storage kind is populated from the environment.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ORT_STORAGE_KIND")); v != "" {
		cfg.Storage.Kind = StorageKind(strings.ToLower(v))
	}
	switch cfg.Storage.Kind {
	case StorageFile:
		applyFileEnv(cfg)
	case StoragePostgres:
		if cfg.Storage.Postgres == nil {
			cfg.Storage.Postgres = &PostgresConfig{}
		}
		pg := cfg.Storage.Postgres
		setString(&pg.URL, "ORT_POSTGRES_URL", "DATABASE_URL")
		setString(&pg.Schema, "ORT_POSTGRES_SCHEMA")
		setString(&pg.Username, "ORT_POSTGRES_USERNAME")
		setString(&pg.Password, "ORT_POSTGRES_PASSWORD")
	}

	setString(&cfg.Compatibility.Version, "ORT_COMPAT_VERSION")
	if _, ok := os.LookupEnv("ORT_COMPAT_CONFIGURATION"); ok {
		b := getBool("ORT_COMPAT_CONFIGURATION", true)
		cfg.Compatibility.Configuration = &b
	}

	w := &cfg.Worker
	w.Concurrency = getInt("WORKER_CONCURRENCY", w.Concurrency)
	setString(&w.ScannerPath, "SCANNER_PATH")
	setString(&w.ScannerName, "SCANNER_NAME")
	setString(&w.ScannerVersion, "SCANNER_VERSION")
	if v, ok := os.LookupEnv("SCANNER_ARGS"); ok {
		w.ScannerArgs = strings.Fields(v)
	}
	setString(&w.ScratchDir, "SCRATCH_DIR")
	setString(&w.HTTPAddr, "HTTP_ADDR")
	setString(&w.PackagesFile, "PACKAGES_FILE")
}

func applyFileEnv(cfg *Config) {
	if cfg.Storage.File == nil {
		cfg.Storage.File = &FileBasedConfig{}
	}
	f := cfg.Storage.File
	f.CacheEntries = getInt("ORT_FILE_CACHE_ENTRIES", f.CacheEntries)
	if v := strings.TrimSpace(os.Getenv("ORT_FILE_BACKEND")); v != "" {
		f.Backend.Kind = FileBackendKind(strings.ToLower(v))
	}
	switch f.Backend.Kind {
	case BackendLocal:
		if f.Backend.Local == nil {
			f.Backend.Local = &LocalConfig{}
		}
		setString(&f.Backend.Local.Directory, "ORT_FILE_LOCAL_DIR")
	case BackendHTTP:
		if f.Backend.HTTP == nil {
			f.Backend.HTTP = &HTTPConfig{}
		}
		h := f.Backend.HTTP
		setString(&h.URL, "ORT_FILE_HTTP_URL")
		setString(&h.Token, "ORT_FILE_HTTP_TOKEN")
		if v := os.Getenv("ORT_FILE_HTTP_HEADERS"); v != "" {
			h.Headers = parseHeaders(v)
		}
		h.Timeout = getDuration("ORT_FILE_HTTP_TIMEOUT", h.Timeout)
		h.Retries = getInt("ORT_FILE_HTTP_RETRIES", h.Retries)
	case BackendS3:
		if f.Backend.S3 == nil {
			f.Backend.S3 = &S3Config{}
		}
		s := f.Backend.S3
		setString(&s.Endpoint, "ORT_FILE_S3_ENDPOINT")
		setString(&s.Region, "ORT_FILE_S3_REGION")
		setString(&s.AccessKey, "ORT_FILE_S3_ACCESS_KEY")
		setString(&s.SecretKey, "ORT_FILE_S3_SECRET_KEY")
		setString(&s.Bucket, "ORT_FILE_S3_BUCKET")
		setString(&s.Prefix, "ORT_FILE_S3_PREFIX")
		s.UseSSL = getBool("ORT_FILE_S3_USE_SSL", s.UseSSL)
	}
}

func (c *Config) applyDefaults() {
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.ScratchDir == "" {
		c.Worker.ScratchDir = "/scratch"
	}
	if c.Worker.ScannerPath == "" {
		c.Worker.ScannerPath = "/usr/local/bin/scanner"
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Compatibility.Version)) {
	case "", "exact", "patch", "minor", "major":
	default:
		return fmt.Errorf("unknown scanner compatibility version %q (want exact, patch, minor or major)", c.Compatibility.Version)
	}
	return nil
}

func (s StorageConfig) Validate() error {
	switch s.Kind {
	case StorageFile:
		if s.Postgres != nil {
			return errors.New("storage kind is file but a postgres configuration is set")
		}
		if s.File == nil {
			return errors.New("file based storage configuration is missing")
		}
		return s.File.Backend.Validate()
	case StoragePostgres:
		if s.File != nil {
			return errors.New("storage kind is postgres but a file configuration is set")
		}
		if s.Postgres == nil {
			return errors.New("PostgreSQL storage configuration is missing")
		}
		return s.Postgres.Validate()
	case "":
		return errors.New("storage kind is required (file or postgres)")
	default:
		return fmt.Errorf("unsupported storage kind %q", s.Kind)
	}
}

func (b FileBackendConfig) Validate() error {
	set := 0
	for _, v := range []bool{b.Local != nil, b.HTTP != nil, b.S3 != nil} {
		if v {
			set++
		}
	}
	if set > 1 {
		return errors.New("exactly one file storage backend must be configured")
	}
	switch b.Kind {
	case BackendLocal:
		if b.Local == nil || strings.TrimSpace(b.Local.Directory) == "" {
			return errors.New("directory for local file storage is missing")
		}
	case BackendHTTP:
		if b.HTTP == nil || strings.TrimSpace(b.HTTP.URL) == "" {
			return errors.New("URL for HTTP file storage is missing")
		}
	case BackendS3:
		if b.S3 == nil {
			return errors.New("S3 file storage configuration is missing")
		}
		switch {
		case strings.TrimSpace(b.S3.Endpoint) == "":
			return errors.New("endpoint for S3 file storage is missing")
		case strings.TrimSpace(b.S3.AccessKey) == "" || strings.TrimSpace(b.S3.SecretKey) == "":
			return errors.New("credentials for S3 file storage are missing")
		case strings.TrimSpace(b.S3.Bucket) == "":
			return errors.New("bucket for S3 file storage is missing")
		}
	case "":
		return errors.New("file storage backend kind is required (local, http or s3)")
	default:
		return fmt.Errorf("unsupported file storage backend %q", b.Kind)
	}
	return nil
}

func (p PostgresConfig) Validate() error {
	switch {
	case strings.TrimSpace(p.URL) == "":
		return errors.New("URL for PostgreSQL storage is missing")
	case strings.TrimSpace(p.Schema) == "":
		return errors.New("schema for PostgreSQL storage is missing")
	case strings.TrimSpace(p.Username) == "":
		return errors.New("username for PostgreSQL storage is missing")
	case strings.TrimSpace(p.Password) == "":
		return errors.New("password for PostgreSQL storage is missing")
	}
	return nil
}

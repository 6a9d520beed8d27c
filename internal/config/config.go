// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Blob backend names accepted by BLOB_BACKEND.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendAzure = "azure"
	BackendGCS   = "gcs"
)

// Config holds the configuration for the HTTP API, the DuckDB data plane,
// the SQLite history metastore, and the shard blob backend.
type Config struct {
	DataDir       string // working directory for DuckDB files and parquet scratch (default "data")
	DuckDBPath    string // DuckDB database file; empty means DataDir/tables.duckdb
	HistoryDBPath string // SQLite command history file; empty means DataDir/history.sqlite
	ListenAddr    string // HTTP listen address (default ":8080")
	LogLevel      string // log level: debug, info, warn, error (default "info")
	Env           string // environment: "development" (default) or "production"

	// Mutation engine tuning. Zero values fall back to package defaults.
	BatchSize       int           // rows per staged UPDATE/DELETE page
	SnapshotCap     int           // max snapshot tables held per process
	SnapshotTTL     time.Duration // retention sweeper drops snapshots older than this (default 24h)
	HistoryTTL      time.Duration // retention sweeper drops history entries older than this (default 30 days)
	ShardRows       int64         // rows per parquet shard on export
	SweepEvery      string        // cron spec for the retention sweeper (default "@hourly")
	CheckpointEvery time.Duration // periodic engine CHECKPOINT interval (default 5m)

	// Blob backend for shard storage. "local" needs no credentials.
	BlobBackend string

	// S3 fields are optional, only read when BlobBackend is "s3".
	S3KeyID    string
	S3Secret   string
	S3Endpoint string
	S3Region   string
	S3Bucket   string
	S3Prefix   string

	// Azure fields, only read when BlobBackend is "azure".
	AzureAccountName string
	AzureAccountKey  string
	AzureContainer   string

	// GCS fields, only read when BlobBackend is "gcs".
	GCSBucket      string
	GCSKeyFilePath string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. Cloud blob
// variables are optional; the app runs fully local without them.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:       os.Getenv("DATA_DIR"),
		DuckDBPath:    os.Getenv("DUCKDB_PATH"),
		HistoryDBPath: os.Getenv("HISTORY_DB_PATH"),
		ListenAddr:    os.Getenv("LISTEN_ADDR"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		Env:           os.Getenv("ENV"),
		SweepEvery:    os.Getenv("SWEEP_EVERY"),

		BlobBackend: strings.ToLower(os.Getenv("BLOB_BACKEND")),

		S3KeyID:    os.Getenv("S3_KEY_ID"),
		S3Secret:   os.Getenv("S3_SECRET"),
		S3Endpoint: os.Getenv("S3_ENDPOINT"),
		S3Region:   os.Getenv("S3_REGION"),
		S3Bucket:   os.Getenv("S3_BUCKET"),
		S3Prefix:   os.Getenv("S3_PREFIX"),

		AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
		AzureContainer:   os.Getenv("AZURE_CONTAINER"),

		GCSBucket:      os.Getenv("GCS_BUCKET"),
		GCSKeyFilePath: os.Getenv("GCS_KEY_FILE"),
	}

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("SNAPSHOT_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotCap = n
		}
	}
	if v := os.Getenv("SNAPSHOT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SnapshotTTL = d
		}
	}
	if v := os.Getenv("HISTORY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HistoryTTL = d
		}
	}
	if v := os.Getenv("SHARD_ROWS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ShardRows = n
		}
	}
	if v := os.Getenv("CHECKPOINT_EVERY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointEvery = d
		}
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	// Defaults
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.BlobBackend == "" {
		cfg.BlobBackend = BackendLocal
	}
	if cfg.SnapshotTTL == 0 {
		cfg.SnapshotTTL = 24 * time.Hour
	}
	if cfg.HistoryTTL == 0 {
		cfg.HistoryTTL = 30 * 24 * time.Hour
	}
	if cfg.SweepEvery == "" {
		cfg.SweepEvery = "@hourly"
	}
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 5 * time.Minute
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	switch cfg.BlobBackend {
	case BackendLocal:
	case BackendS3:
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return nil, fmt.Errorf("BLOB_BACKEND=s3 requires S3_BUCKET and S3_REGION")
		}
		if cfg.S3KeyID == "" || cfg.S3Secret == "" {
			cfg.Warnings = append(cfg.Warnings, "S3_KEY_ID/S3_SECRET not set, relying on ambient credentials")
		}
	case BackendAzure:
		if cfg.AzureAccountName == "" || cfg.AzureAccountKey == "" || cfg.AzureContainer == "" {
			return nil, fmt.Errorf("BLOB_BACKEND=azure requires AZURE_ACCOUNT_NAME, AZURE_ACCOUNT_KEY and AZURE_CONTAINER")
		}
	case BackendGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("BLOB_BACKEND=gcs requires GCS_BUCKET")
		}
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q (want local, s3, azure or gcs)", cfg.BlobBackend)
	}

	// Production mode: wide-open CORS is a fatal error.
	if cfg.IsProduction() {
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearBlobEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BLOB_BACKEND", "S3_KEY_ID", "S3_SECRET", "S3_ENDPOINT", "S3_REGION",
		"S3_BUCKET", "S3_PREFIX", "AZURE_ACCOUNT_NAME", "AZURE_ACCOUNT_KEY",
		"AZURE_CONTAINER", "GCS_BUCKET", "GCS_KEY_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearBlobEnv(t)
	t.Setenv("DATA_DIR", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, BackendLocal, cfg.BlobBackend)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.HistoryTTL)
	assert.Equal(t, "@hourly", cfg.SweepEvery)
	assert.EqualValues(t, 100, cfg.RateLimitRPS)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Zero(t, cfg.BatchSize, "unset tuning knobs stay zero for package defaults")
}

func TestLoadFromEnv_TuningKnobs(t *testing.T) {
	clearBlobEnv(t)
	t.Setenv("BATCH_SIZE", "10000")
	t.Setenv("SNAPSHOT_CAP", "3")
	t.Setenv("SNAPSHOT_TTL", "1h")
	t.Setenv("SHARD_ROWS", "250000")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 10000, cfg.BatchSize)
	assert.Equal(t, 3, cfg.SnapshotCap)
	assert.Equal(t, time.Hour, cfg.SnapshotTTL)
	assert.EqualValues(t, 250000, cfg.ShardRows)
}

func TestLoadFromEnv_S3Backend(t *testing.T) {
	clearBlobEnv(t)
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "shards")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("S3_KEY_ID", "testkey")
	t.Setenv("S3_SECRET", "testsecret")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendS3, cfg.BlobBackend)
	assert.Equal(t, "shards", cfg.S3Bucket)
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnv_S3MissingBucket(t *testing.T) {
	clearBlobEnv(t)
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("S3_REGION", "us-east-1")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestLoadFromEnv_UnknownBackend(t *testing.T) {
	clearBlobEnv(t)
	t.Setenv("BLOB_BACKEND", "ftp")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown BLOB_BACKEND")
}

func TestLoadFromEnv_ProductionRejectsWildcardCORS(t *testing.T) {
	clearBlobEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS wildcard")

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORSAllowedOrigins)
}

func TestLoadDotEnv_FileNotFound(t *testing.T) {
	err := LoadDotEnv("/nonexistent/.env")
	if err != nil {
		t.Errorf("expected no error for missing .env, got: %v", err)
	}
}

func TestLoadDotEnv_ParsesKeyValue(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_KEY=test_value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_KEY"); val != "test_value" {
		t.Errorf("TEST_KEY = %q, want %q", val, "test_value")
	}
	_ = os.Unsetenv("TEST_KEY")
}

func TestLoadDotEnv_SkipsComments(t *testing.T) {
	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("# comment\nTEST_COMMENT_KEY=value\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_COMMENT_KEY"); val != "value" {
		t.Errorf("TEST_COMMENT_KEY = %q, want %q", val, "value")
	}
	_ = os.Unsetenv("TEST_COMMENT_KEY")
}

func TestLoadDotEnv_EnvVarPrecedence(t *testing.T) {
	t.Setenv("TEST_PRECEDENCE_KEY", "from_env")

	tmpDir := t.TempDir()
	envFile := filepath.Join(tmpDir, ".env")

	err := os.WriteFile(envFile, []byte("TEST_PRECEDENCE_KEY=from_file\n"), 0644)
	if err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := LoadDotEnv(envFile); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	if val := os.Getenv("TEST_PRECEDENCE_KEY"); val != "from_env" {
		t.Errorf("TEST_PRECEDENCE_KEY = %q, want %q (env precedence)", val, "from_env")
	}
}

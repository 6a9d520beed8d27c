package app_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableforge/internal/app"
	"tableforge/internal/config"
	"tableforge/internal/db"
	"tableforge/internal/shard"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		DataDir:         dataDir,
		BlobBackend:     config.BackendLocal,
		SnapshotTTL:     24 * time.Hour,
		HistoryTTL:      30 * 24 * time.Hour,
		SweepEvery:      "@hourly",
		CheckpointEvery: 5 * time.Minute,
	}
}

func newApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	duckDB, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = duckDB.Close() })
	writeDB, readDB := db.OpenTestSQLite(t)

	a, err := app.New(context.Background(), app.Deps{
		Cfg:     cfg,
		DuckDB:  duckDB,
		WriteDB: writeDB,
		ReadDB:  readDB,
	})
	require.NoError(t, err)
	return a
}

func TestNewWiresEverything(t *testing.T) {
	a := newApp(t, testConfig(t.TempDir()))
	assert.NotNil(t, a.Executor)
	assert.NotNil(t, a.Registry)
	assert.NotNil(t, a.History)
	assert.NotNil(t, a.Snapshots)
	assert.NotNil(t, a.Shards)
}

func TestRestoreTablesFromManifests(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	cfg := testConfig(dataDir)

	// First process: create a table and publish it to blob storage.
	first := newApp(t, cfg)
	require.NoError(t, first.Store.Execute(ctx,
		`CREATE TABLE events (_row_id BIGINT, kind VARCHAR)`))
	require.NoError(t, first.Store.Execute(ctx,
		`INSERT INTO events SELECT r*100, 'click' FROM range(1, 6) t(r)`))
	_, err := first.Shards.PublishTable(ctx, "events", shard.NewManifestID(), 2, "_row_id")
	require.NoError(t, err)

	// Second process over the same blob directory: the table comes back.
	second := newApp(t, cfg)
	exists, err := second.Store.TableExists(ctx, "events")
	require.NoError(t, err)
	assert.True(t, exists)

	rows, err := second.Store.Query(ctx, `SELECT COUNT(*)::BIGINT AS n FROM events`)
	require.NoError(t, err)
	assert.EqualValues(t, 5, rows[0]["n"])
}

func TestSweeperSchedules(t *testing.T) {
	a := newApp(t, testConfig(t.TempDir()))
	sw, err := app.NewSweeper(a, testConfig(t.TempDir()))
	require.NoError(t, err)
	sw.Start()
	sw.Stop()
}

func TestSweeperRejectsBadSpec(t *testing.T) {
	cfg := testConfig(t.TempDir())
	a := newApp(t, cfg)
	cfg.SweepEvery = "not a cron spec"
	_, err := app.NewSweeper(a, cfg)
	require.Error(t, err)
}

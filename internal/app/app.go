// Package app provides application-level wiring and dependency injection
// for the tableforge server following hexagonal architecture.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"tableforge/internal/blob"
	"tableforge/internal/command"
	"tableforge/internal/config"
	"tableforge/internal/executor"
	"tableforge/internal/history"
	"tableforge/internal/shard"
	"tableforge/internal/snapshot"
	"tableforge/internal/staging"
	"tableforge/internal/store"
	"tableforge/internal/version"
)

// Deps holds the external dependencies that main() must provide.
// These are things the app package cannot (or should not) create itself:
// database handles, config, and the logger.
type Deps struct {
	Cfg     *config.Config
	DuckDB  *sql.DB
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
}

// App holds the fully-wired application.
type App struct {
	Executor  *executor.Executor
	Registry  *command.Registry
	History   *history.Repository
	Snapshots *snapshot.Manager
	Shards    *shard.Store
	Store     *store.Adapter

	logger *slog.Logger
}

// New wires the engine adapter, blob backend, shard store, snapshot and
// version managers, staging executor, history repository, and the
// command executor from the provided deps. It also restores live tables
// from persisted shard manifests.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	adapter := store.NewAdapter(deps.DuckDB, logger.With("component", "engine"))

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob backend: %w", err)
	}

	shardStore, err := shard.NewStore(adapter, blobs,
		filepath.Join(cfg.DataDir, "scratch"), logger.With("component", "shard-store"))
	if err != nil {
		return nil, fmt.Errorf("shard store: %w", err)
	}
	orch := shard.NewOrchestrator(adapter, shardStore, logger.With("component", "shard-orchestrator"))

	snaps := snapshot.NewManager(adapter, logger.With("component", "snapshots"), cfg.SnapshotCap)
	versions := version.NewManager(adapter, snaps, logger.With("component", "versions"), version.Options{})
	stagingExec := staging.NewExecutor(adapter, logger.With("component", "staging"))
	registry := command.NewDefaultRegistry()
	histRepo := history.NewRepository(deps.WriteDB, deps.ReadDB)

	exec := executor.New(adapter, snaps, versions, stagingExec, orch, registry,
		histRepo, logger.With("component", "executor"), executor.Options{BatchSize: cfg.BatchSize})

	a := &App{
		Executor:  exec,
		Registry:  registry,
		History:   histRepo,
		Snapshots: snaps,
		Shards:    shardStore,
		Store:     adapter,
		logger:    logger,
	}

	if err := a.restoreTables(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// newBlobStore selects the shard blob backend from config.
func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BackendS3:
		return blob.NewS3Store(blob.S3Options{
			KeyID:    cfg.S3KeyID,
			Secret:   cfg.S3Secret,
			Endpoint: cfg.S3Endpoint,
			Region:   cfg.S3Region,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
		})
	case config.BackendAzure:
		return blob.NewAzureStore(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.AzureContainer)
	case config.BackendGCS:
		return blob.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSKeyFilePath)
	default:
		return blob.NewLocalStore(filepath.Join(cfg.DataDir, "blobs"))
	}
}

// restoreTables rebuilds live engine tables from persisted shard
// manifests and registers them with the executor. A manifest that fails
// to import is logged and skipped; its data stays intact in blob storage.
func (a *App) restoreTables(ctx context.Context) error {
	manifests, err := a.Shards.ListManifests(ctx)
	if err != nil {
		return fmt.Errorf("list manifests: %w", err)
	}
	for _, m := range manifests {
		if m.Table == "" {
			a.logger.Warn("manifest has no table name, skipping", "manifest", m.SnapshotID)
			continue
		}
		exists, err := a.Store.TableExists(ctx, m.Table)
		if err != nil {
			return err
		}
		if !exists {
			if err := a.Shards.ImportTableFromManifest(ctx, m.Table, m); err != nil {
				a.logger.Warn("restore table failed", "table", m.Table,
					"manifest", m.SnapshotID, "error", err)
				continue
			}
			a.logger.Info("restored table from shards", "table", m.Table,
				"manifest", m.SnapshotID, "rows", m.TotalRows)
		}
		a.Executor.RegisterTable(m.Table, m.SnapshotID)
	}
	return nil
}

package domain

import "context"

// Row is a single result row keyed by column name.
type Row map[string]any

// ColumnInfo describes one column of an engine table.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// StoreAdapter is the embedded columnar SQL engine, consumed as a black
// box. The engine core issues only DDL/DML-shaped statements against it
// (CREATE TABLE AS SELECT, DROP TABLE, ALTER TABLE RENAME, INSERT/UPDATE/
// DELETE, CHECKPOINT).
type StoreAdapter interface {
	Query(ctx context.Context, sql string) ([]Row, error)
	Execute(ctx context.Context, sql string) error
	TableColumns(ctx context.Context, table string) ([]ColumnInfo, error)
	TableExists(ctx context.Context, table string) (bool, error)

	// Checkpoint forces a durability checkpoint, bounding write-ahead
	// growth between batches and shards.
	Checkpoint(ctx context.Context) error
}

// ShardStore is the sharded persistence layer beneath the engine. A
// manifest's shard files are never mutated in place: transforms stage a
// new manifest id and swap it over the old one on success.
type ShardStore interface {
	ReadManifest(ctx context.Context, id string) (*ShardManifest, error)
	WriteManifest(ctx context.Context, m *ShardManifest) error

	// ImportShard loads one persisted shard into the named engine table.
	ImportShard(ctx context.Context, table string, shard ShardInfo) error

	// ExportShard persists the named engine table as shard `index` of
	// manifest `manifestID` and returns its descriptor.
	ExportShard(ctx context.Context, table string, manifestID string, index int) (ShardInfo, error)

	// ImportTableFromManifest rebuilds the named engine table from every
	// shard of the manifest, in shard order.
	ImportTableFromManifest(ctx context.Context, table string, m *ShardManifest) error

	// SwapManifests atomically republishes: newID's manifest and shards
	// become visible under publishID, and oldID's shards are deleted only
	// after the swap succeeded.
	SwapManifests(ctx context.Context, oldID, newID, publishID string) error

	// DeleteManifest removes a manifest and its shard files.
	DeleteManifest(ctx context.Context, id string) error
}

// HistoryRepository persists an audit trail of executed, undone, and
// redone commands. Writes are best-effort: a history failure never fails
// the primary operation.
type HistoryRepository interface {
	Insert(ctx context.Context, e *HistoryEntry) error
	List(ctx context.Context, table string, limit int) ([]HistoryEntry, error)
}

// HistoryEntry is one row of the history metastore.
type HistoryEntry struct {
	ID          string
	Table       string
	CommandID   string
	CommandType string
	Label       string
	ParamsJSON  string
	Tier        int
	Action      string // EXECUTE, UNDO, REDO
	Status      string // OK, FAILED
	Error       string
	ExecutedAt  int64 // unix milliseconds
}

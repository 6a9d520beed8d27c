// Package shard implements the out-of-core execution path: persisted
// shard storage over a blob backend, and the orchestrator that streams a
// transform shard-by-shard so peak memory stays bounded by one input plus
// one output shard, independent of table size.
package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"tableforge/internal/blob"
	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

// DefaultShardRows is the target row count per shard when publishing.
const DefaultShardRows = 500_000

// Compile-time check.
var _ domain.ShardStore = (*Store)(nil)

// Store persists shards as Parquet files and manifests as JSON documents
// in a blob store. Shard files of a published manifest are never mutated
// in place; transforms stage a new manifest id and swap.
type Store struct {
	engine  domain.StoreAdapter
	blobs   blob.Store
	scratch string
	logger  *slog.Logger
}

// NewStore creates a shard Store. scratch is a local directory used to
// stage Parquet files between the engine and the blob backend.
func NewStore(engine domain.StoreAdapter, blobs blob.Store, scratch string, logger *slog.Logger) (*Store, error) {
	if scratch == "" {
		scratch = os.TempDir()
	}
	if err := os.MkdirAll(scratch, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{engine: engine, blobs: blobs, scratch: scratch, logger: logger}, nil
}

// NewManifestID returns a fresh manifest identifier.
func NewManifestID() string {
	return "m_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func manifestKey(id string) string { return "manifests/" + id + ".json" }

func shardKey(manifestID string, index int) string {
	return fmt.Sprintf("shards/%s/%06d.parquet", manifestID, index)
}

// ReadManifest loads a manifest by id.
func (s *Store) ReadManifest(ctx context.Context, id string) (*domain.ShardManifest, error) {
	rc, err := s.blobs.Get(ctx, manifestKey(id))
	if err != nil {
		return nil, domain.ErrNotFound("manifest %q not found", id)
	}
	defer rc.Close() //nolint:errcheck
	var m domain.ShardManifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest %q: %w", id, err)
	}
	return &m, nil
}

// WriteManifest stores a manifest under its own id.
func (s *Store) WriteManifest(ctx context.Context, m *domain.ShardManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.blobs.Put(ctx, manifestKey(m.SnapshotID), strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("write manifest %q: %w", m.SnapshotID, err)
	}
	return nil
}

// stageToScratch downloads a blob to a scratch file and returns its path.
func (s *Store) stageToScratch(ctx context.Context, key string) (string, error) {
	rc, err := s.blobs.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	path := filepath.Join(s.scratch, "in_"+strings.ReplaceAll(uuid.New().String(), "-", "")+".parquet")
	f, err := os.Create(path) //nolint:gosec // scratch-local path
	if err != nil {
		return "", fmt.Errorf("create scratch file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("stage %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// ImportShard loads one persisted shard into the named engine table.
func (s *Store) ImportShard(ctx context.Context, table string, shard domain.ShardInfo) error {
	path, err := s.stageToScratch(ctx, shard.Path)
	if err != nil {
		return fmt.Errorf("import shard %d: %w", shard.Index, err)
	}
	defer os.Remove(path) //nolint:errcheck

	stmt, err := ddl.CreateTableFromParquet(table, path)
	if err != nil {
		return err
	}
	if err := s.engine.Execute(ctx, stmt); err != nil {
		return fmt.Errorf("load shard %d into %q: %w", shard.Index, table, err)
	}
	return nil
}

// ExportShard persists an engine table as one shard of a manifest.
func (s *Store) ExportShard(ctx context.Context, table, manifestID string, index int) (domain.ShardInfo, error) {
	path := filepath.Join(s.scratch, fmt.Sprintf("out_%s_%06d.parquet", manifestID, index))
	defer os.Remove(path) //nolint:errcheck

	stmt, err := ddl.CopyToParquet(table, path)
	if err != nil {
		return domain.ShardInfo{}, err
	}
	if err := s.engine.Execute(ctx, stmt); err != nil {
		return domain.ShardInfo{}, fmt.Errorf("export %q to parquet: %w", table, err)
	}

	countStmt, err := ddl.CountRows(table)
	if err != nil {
		return domain.ShardInfo{}, err
	}
	rows, err := s.engine.Query(ctx, countStmt)
	if err != nil {
		return domain.ShardInfo{}, fmt.Errorf("count shard rows: %w", err)
	}
	var n int64
	if len(rows) > 0 {
		if v, ok := rows[0]["n"].(int64); ok {
			n = v
		}
	}

	f, err := os.Open(path) //nolint:gosec // scratch-local path
	if err != nil {
		return domain.ShardInfo{}, fmt.Errorf("open exported shard: %w", err)
	}
	defer f.Close() //nolint:errcheck

	key := shardKey(manifestID, index)
	if err := s.blobs.Put(ctx, key, f); err != nil {
		return domain.ShardInfo{}, fmt.Errorf("upload shard %d: %w", index, err)
	}
	return domain.ShardInfo{Index: index, Path: key, Rows: n}, nil
}

// ImportTableFromManifest rebuilds the named engine table from every
// shard of the manifest, in shard order.
func (s *Store) ImportTableFromManifest(ctx context.Context, table string, m *domain.ShardManifest) error {
	if len(m.Shards) == 0 {
		return domain.ErrValidation("manifest %q has no shards", m.SnapshotID)
	}
	for i, sh := range m.Shards {
		path, err := s.stageToScratch(ctx, sh.Path)
		if err != nil {
			return fmt.Errorf("rebuild %q: shard %d: %w", table, sh.Index, err)
		}
		var stmt string
		if i == 0 {
			stmt, err = ddl.CreateTableFromParquet(table, path)
		} else {
			stmt, err = ddl.InsertFromParquet(table, path)
		}
		if err == nil {
			err = s.engine.Execute(ctx, stmt)
		}
		_ = os.Remove(path)
		if err != nil {
			return fmt.Errorf("rebuild %q: shard %d: %w", table, sh.Index, err)
		}
	}
	return nil
}

// SwapManifests republishes newID under publishID and deletes the
// outgoing generation's shard files. The old shards are removed only
// after the manifest swap succeeded, so a failure part-way never loses
// the published state.
func (s *Store) SwapManifests(ctx context.Context, oldID, newID, publishID string) error {
	m, err := s.ReadManifest(ctx, newID)
	if err != nil {
		return fmt.Errorf("swap: %w", err)
	}
	// Collect the outgoing files before the publish overwrites the
	// manifest naming them. Files are keyed by the id that staged them,
	// so after the first swap they no longer sit under oldID's prefix.
	var oldPaths []string
	if old, err := s.ReadManifest(ctx, oldID); err == nil {
		for _, sh := range old.Shards {
			oldPaths = append(oldPaths, sh.Path)
		}
	}

	published := *m
	published.SnapshotID = publishID
	if err := s.WriteManifest(ctx, &published); err != nil {
		return fmt.Errorf("swap: publish manifest: %w", err)
	}
	if newID != publishID {
		if err := s.blobs.Delete(ctx, manifestKey(newID)); err != nil {
			s.logger.Warn("delete staged manifest failed", "manifest", newID, "error", err)
		}
	}

	// The published manifest no longer references these files.
	keep := make(map[string]bool, len(published.Shards))
	for _, sh := range published.Shards {
		keep[sh.Path] = true
	}
	for _, p := range oldPaths {
		if keep[p] {
			continue
		}
		if err := s.blobs.Delete(ctx, p); err != nil {
			s.logger.Warn("delete old shard file failed", "key", p, "error", err)
		}
	}
	return nil
}

// ListManifests returns every persisted manifest. Used at startup to
// rebuild live tables from blob storage.
func (s *Store) ListManifests(ctx context.Context) ([]*domain.ShardManifest, error) {
	keys, err := s.blobs.List(ctx, "manifests/")
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	out := make([]*domain.ShardManifest, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, "manifests/"), ".json")
		m, err := s.ReadManifest(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteManifest removes a manifest and its shard files. Files recorded
// in the manifest may live under another id's prefix (a republished
// generation); files under the id's own prefix may exist with no manifest
// yet (a rolled-back staging run). Both are covered.
func (s *Store) DeleteManifest(ctx context.Context, id string) error {
	prefix := "shards/" + id + "/"
	if m, err := s.ReadManifest(ctx, id); err == nil {
		for _, sh := range m.Shards {
			if strings.HasPrefix(sh.Path, prefix) {
				continue // the prefix sweep below gets these
			}
			if err := s.blobs.Delete(ctx, sh.Path); err != nil {
				return fmt.Errorf("delete %s: %w", sh.Path, err)
			}
		}
	}
	if err := s.deleteShardFiles(ctx, id); err != nil {
		return err
	}
	return s.blobs.Delete(ctx, manifestKey(id))
}

func (s *Store) deleteShardFiles(ctx context.Context, manifestID string) error {
	keys, err := s.blobs.List(ctx, "shards/"+manifestID+"/")
	if err != nil {
		return fmt.Errorf("list shards of %q: %w", manifestID, err)
	}
	for _, k := range keys {
		if err := s.blobs.Delete(ctx, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

// PublishTable shards a live engine table into a fresh manifest and
// returns it. Used when a table is first registered for out-of-core
// execution.
func (s *Store) PublishTable(ctx context.Context, table, manifestID string, shardRows int64, orderBy string) (*domain.ShardManifest, error) {
	if shardRows <= 0 {
		shardRows = DefaultShardRows
	}
	countStmt, err := ddl.CountRows(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.engine.Query(ctx, countStmt)
	if err != nil {
		return nil, fmt.Errorf("count %q: %w", table, err)
	}
	var total int64
	if len(rows) > 0 {
		if v, ok := rows[0]["n"].(int64); ok {
			total = v
		}
	}
	cols, err := s.engine.TableColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	shardCount := int((total + shardRows - 1) / shardRows)
	if shardCount == 0 {
		shardCount = 1 // an empty table still publishes one (empty) shard
	}

	tmp := table + "__shard_out"
	m := &domain.ShardManifest{SnapshotID: manifestID, Table: table, Columns: cols, OrderByColumn: orderBy}
	for i := 0; i < shardCount; i++ {
		sel := fmt.Sprintf("SELECT * FROM %s", ddl.QuoteIdentifier(table))
		if orderBy != "" {
			sel += " ORDER BY " + ddl.QuoteIdentifier(orderBy)
		}
		sel += fmt.Sprintf(" LIMIT %d OFFSET %d", shardRows, int64(i)*shardRows)

		create, err := ddl.CreateTableAsSelect(tmp, sel)
		if err != nil {
			return nil, err
		}
		if err := s.engine.Execute(ctx, create); err != nil {
			return nil, fmt.Errorf("stage shard %d: %w", i, err)
		}
		info, err := s.ExportShard(ctx, tmp, manifestID, i)
		drop, derr := ddl.DropTable(tmp, true)
		if derr == nil {
			_ = s.engine.Execute(ctx, drop)
		}
		if err != nil {
			return nil, err
		}
		m.Shards = append(m.Shards, info)
		m.TotalRows += info.Rows
	}
	if err := s.WriteManifest(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Package testutil provides shared mock implementations of domain
// interfaces for use in tests across the codebase. This follows the Go
// convention of a shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tableforge/internal/domain"
)

// === Store Adapter Mock ===

// MockStore implements domain.StoreAdapter for testing. Every executed
// statement is collected for assertions; behaviour is overridden through
// the function fields.
type MockStore struct {
	QueryFn        func(ctx context.Context, sql string) ([]domain.Row, error)
	ExecuteFn      func(ctx context.Context, sql string) error
	TableColumnsFn func(ctx context.Context, table string) ([]domain.ColumnInfo, error)
	TableExistsFn  func(ctx context.Context, table string) (bool, error)

	mu          sync.Mutex
	Executed    []string // collected Execute statements
	Queried     []string // collected Query statements
	Checkpoints int
}

// Query implements the interface method for testing.
func (m *MockStore) Query(ctx context.Context, sql string) ([]domain.Row, error) {
	m.mu.Lock()
	m.Queried = append(m.Queried, sql)
	m.mu.Unlock()
	if m.QueryFn != nil {
		return m.QueryFn(ctx, sql)
	}
	return nil, nil
}

// Execute implements the interface method for testing.
func (m *MockStore) Execute(ctx context.Context, sql string) error {
	m.mu.Lock()
	m.Executed = append(m.Executed, sql)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, sql)
	}
	return nil
}

// TableColumns implements the interface method for testing.
func (m *MockStore) TableColumns(ctx context.Context, table string) ([]domain.ColumnInfo, error) {
	if m.TableColumnsFn != nil {
		return m.TableColumnsFn(ctx, table)
	}
	return nil, domain.ErrNotFound("table %q not found", table)
}

// TableExists implements the interface method for testing.
func (m *MockStore) TableExists(ctx context.Context, table string) (bool, error) {
	if m.TableExistsFn != nil {
		return m.TableExistsFn(ctx, table)
	}
	return false, nil
}

// Checkpoint implements the interface method for testing.
func (m *MockStore) Checkpoint(ctx context.Context) error {
	m.mu.Lock()
	m.Checkpoints++
	m.mu.Unlock()
	return nil
}

// ExecutedMatching returns collected Execute statements containing substr.
func (m *MockStore) ExecutedMatching(substr string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, s := range m.Executed {
		if strings.Contains(s, substr) {
			out = append(out, s)
		}
	}
	return out
}

// === Shard Store Mock ===

// MockShardStore implements domain.ShardStore for testing. Manifests are
// held in memory; shard import/export calls are recorded.
type MockShardStore struct {
	ReadManifestFn  func(ctx context.Context, id string) (*domain.ShardManifest, error)
	ImportShardFn   func(ctx context.Context, table string, shard domain.ShardInfo) error
	ExportShardFn   func(ctx context.Context, table, manifestID string, index int) (domain.ShardInfo, error)
	ImportTableFn   func(ctx context.Context, table string, m *domain.ShardManifest) error
	SwapFn          func(ctx context.Context, oldID, newID, publishID string) error
	DeleteFn        func(ctx context.Context, id string) error
	Manifests       map[string]*domain.ShardManifest
	ExportedShards  []string // "<manifestID>/<index>"
	DeletedIDs      []string
	SwappedOldToNew [][2]string
}

// NewMockShardStore returns an empty in-memory shard store.
func NewMockShardStore() *MockShardStore {
	return &MockShardStore{Manifests: make(map[string]*domain.ShardManifest)}
}

// ReadManifest implements the interface method for testing.
func (m *MockShardStore) ReadManifest(ctx context.Context, id string) (*domain.ShardManifest, error) {
	if m.ReadManifestFn != nil {
		return m.ReadManifestFn(ctx, id)
	}
	mf, ok := m.Manifests[id]
	if !ok {
		return nil, domain.ErrNotFound("manifest %q not found", id)
	}
	return mf, nil
}

// WriteManifest implements the interface method for testing.
func (m *MockShardStore) WriteManifest(ctx context.Context, mf *domain.ShardManifest) error {
	m.Manifests[mf.SnapshotID] = mf
	return nil
}

// ImportShard implements the interface method for testing.
func (m *MockShardStore) ImportShard(ctx context.Context, table string, shard domain.ShardInfo) error {
	if m.ImportShardFn != nil {
		return m.ImportShardFn(ctx, table, shard)
	}
	return nil
}

// ExportShard implements the interface method for testing.
func (m *MockShardStore) ExportShard(ctx context.Context, table, manifestID string, index int) (domain.ShardInfo, error) {
	m.ExportedShards = append(m.ExportedShards, fmt.Sprintf("%s/%d", manifestID, index))
	if m.ExportShardFn != nil {
		return m.ExportShardFn(ctx, table, manifestID, index)
	}
	return domain.ShardInfo{Index: index, Path: fmt.Sprintf("shards/%s/%d.parquet", manifestID, index)}, nil
}

// ImportTableFromManifest implements the interface method for testing.
func (m *MockShardStore) ImportTableFromManifest(ctx context.Context, table string, mf *domain.ShardManifest) error {
	if m.ImportTableFn != nil {
		return m.ImportTableFn(ctx, table, mf)
	}
	return nil
}

// SwapManifests implements the interface method for testing.
func (m *MockShardStore) SwapManifests(ctx context.Context, oldID, newID, publishID string) error {
	m.SwappedOldToNew = append(m.SwappedOldToNew, [2]string{oldID, newID})
	if m.SwapFn != nil {
		return m.SwapFn(ctx, oldID, newID, publishID)
	}
	if mf, ok := m.Manifests[newID]; ok {
		published := *mf
		published.SnapshotID = publishID
		m.Manifests[publishID] = &published
		delete(m.Manifests, newID)
	}
	return nil
}

// DeleteManifest implements the interface method for testing.
func (m *MockShardStore) DeleteManifest(ctx context.Context, id string) error {
	m.DeletedIDs = append(m.DeletedIDs, id)
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, id)
	}
	delete(m.Manifests, id)
	return nil
}

// === History Repository Mock ===

// MockHistoryRepo implements domain.HistoryRepository for testing.
type MockHistoryRepo struct {
	InsertFn func(ctx context.Context, e *domain.HistoryEntry) error
	Entries  []*domain.HistoryEntry
}

// Insert implements the interface method for testing.
func (m *MockHistoryRepo) Insert(ctx context.Context, e *domain.HistoryEntry) error {
	if m.InsertFn != nil {
		if err := m.InsertFn(ctx, e); err != nil {
			return err
		}
	}
	m.Entries = append(m.Entries, e)
	return nil
}

// List implements the interface method for testing.
func (m *MockHistoryRepo) List(ctx context.Context, table string, limit int) ([]domain.HistoryEntry, error) {
	var out []domain.HistoryEntry
	for _, e := range m.Entries {
		if e.Table == table {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastEntry returns the last collected history entry, or nil if none.
func (m *MockHistoryRepo) LastEntry() *domain.HistoryEntry {
	if len(m.Entries) == 0 {
		return nil
	}
	return m.Entries[len(m.Entries)-1]
}

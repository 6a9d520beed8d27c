// Package snapshot manages full-table backups for Tier-3 undo. Snapshots
// are plain engine tables duplicated from the live table; a per-table cap
// bounds how many exist at once, evicting the oldest (LRU) and
// permanently disabling undo for its history entry.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tableforge/internal/ddl"
	"tableforge/internal/domain"
)

// DefaultCap is the default per-table live snapshot limit.
const DefaultCap = 5

// Ref identifies one snapshot. ID doubles as the engine table name.
type Ref struct {
	ID        string
	Table     string
	CreatedAt time.Time
}

// Manager creates, restores, and evicts snapshots. Tracked snapshots are
// subject to the LRU cap; untracked ones (materialization boundaries) are
// released explicitly by their owner.
type Manager struct {
	store  domain.StoreAdapter
	logger *slog.Logger
	cap    int

	mu      sync.Mutex
	byTable map[string][]Ref // oldest first
}

// NewManager creates a Manager with the given per-table cap (0 means
// DefaultCap).
func NewManager(store domain.StoreAdapter, logger *slog.Logger, capPerTable int) *Manager {
	if capPerTable <= 0 {
		capPerTable = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		logger:  logger,
		cap:     capPerTable,
		byTable: make(map[string][]Ref),
	}
}

func newSnapshotID() string {
	return "snap_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (m *Manager) duplicate(ctx context.Context, source, target string) error {
	stmt, err := ddl.DuplicateTable(source, target)
	if err != nil {
		return err
	}
	return m.store.Execute(ctx, stmt)
}

// Create duplicates the table into a new tracked snapshot. When the cap
// is exceeded it evicts the oldest snapshot and returns its Ref so the
// caller can flag the owning history entry undo-disabled.
func (m *Manager) Create(ctx context.Context, table string) (Ref, *Ref, error) {
	ref := Ref{ID: newSnapshotID(), Table: table, CreatedAt: time.Now()}
	if err := m.duplicate(ctx, table, ref.ID); err != nil {
		return Ref{}, nil, fmt.Errorf("create snapshot of %q: %w", table, err)
	}

	m.mu.Lock()
	m.byTable[table] = append(m.byTable[table], ref)
	var evicted *Ref
	if len(m.byTable[table]) > m.cap {
		oldest := m.byTable[table][0]
		m.byTable[table] = m.byTable[table][1:]
		evicted = &oldest
	}
	m.mu.Unlock()

	if evicted != nil {
		// The eviction itself must not fail snapshot creation.
		if err := m.dropTable(ctx, evicted.ID); err != nil {
			m.logger.Warn("drop evicted snapshot failed", "snapshot", evicted.ID, "error", err)
		}
		m.logger.Info("snapshot evicted", "table", table, "snapshot", evicted.ID)
	}
	return ref, evicted, nil
}

// CreateUntracked duplicates the table into a snapshot outside the LRU
// accounting. Used for materialization boundaries, which are released by
// the version manager, never evicted.
func (m *Manager) CreateUntracked(ctx context.Context, table string) (Ref, error) {
	ref := Ref{ID: newSnapshotID(), Table: table, CreatedAt: time.Now()}
	if err := m.duplicate(ctx, table, ref.ID); err != nil {
		return Ref{}, fmt.Errorf("create snapshot of %q: %w", table, err)
	}
	return ref, nil
}

// Has reports whether a tracked snapshot with the given id still exists.
func (m *Manager) Has(table, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byTable[table] {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Restore drops the live table and duplicates the snapshot into its
// place. Valid only while the snapshot exists; callers check undoDisabled
// first.
func (m *Manager) Restore(ctx context.Context, table, snapshotID string) error {
	if !m.Has(table, snapshotID) {
		return domain.ErrUndoUnavailable("snapshot %q for table %q no longer exists", snapshotID, table)
	}
	drop, err := ddl.DropTable(table, true)
	if err != nil {
		return err
	}
	if err := m.store.Execute(ctx, drop); err != nil {
		return fmt.Errorf("drop live table %q: %w", table, err)
	}
	if err := m.duplicate(ctx, snapshotID, table); err != nil {
		return fmt.Errorf("restore %q from %q: %w", table, snapshotID, err)
	}
	return nil
}

// Release drops a snapshot by id, tracked or not.
func (m *Manager) Release(ctx context.Context, table, snapshotID string) error {
	m.mu.Lock()
	refs := m.byTable[table]
	for i, r := range refs {
		if r.ID == snapshotID {
			m.byTable[table] = append(refs[:i:i], refs[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return m.dropTable(ctx, snapshotID)
}

// DropAll releases every tracked snapshot of a table (table deletion).
func (m *Manager) DropAll(ctx context.Context, table string) error {
	m.mu.Lock()
	refs := m.byTable[table]
	delete(m.byTable, table)
	m.mu.Unlock()

	var firstErr error
	for _, r := range refs {
		if err := m.dropTable(ctx, r.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Count returns the number of tracked snapshots for a table.
func (m *Manager) Count(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTable[table])
}

// PruneOlderThan releases tracked snapshots created before the cutoff and
// returns the Refs it removed, oldest first. Used by the retention sweeper.
func (m *Manager) PruneOlderThan(ctx context.Context, cutoff time.Time) []Ref {
	m.mu.Lock()
	var pruned []Ref
	for table, refs := range m.byTable {
		keep := refs[:0]
		for _, r := range refs {
			if r.CreatedAt.Before(cutoff) {
				pruned = append(pruned, r)
			} else {
				keep = append(keep, r)
			}
		}
		m.byTable[table] = keep
	}
	m.mu.Unlock()

	for _, r := range pruned {
		if err := m.dropTable(ctx, r.ID); err != nil {
			m.logger.Warn("drop pruned snapshot failed", "snapshot", r.ID, "error", err)
		}
	}
	return pruned
}

func (m *Manager) dropTable(ctx context.Context, name string) error {
	stmt, err := ddl.DropTable(name, true)
	if err != nil {
		return err
	}
	return m.store.Execute(ctx, stmt)
}

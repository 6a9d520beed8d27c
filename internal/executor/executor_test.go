package executor_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableforge/internal/blob"
	"tableforge/internal/command"
	"tableforge/internal/domain"
	"tableforge/internal/executor"
	"tableforge/internal/shard"
	"tableforge/internal/snapshot"
	"tableforge/internal/staging"
	"tableforge/internal/store"
	"tableforge/internal/testutil"
	"tableforge/internal/version"
)

// faultyStore passes through to a real adapter, failing statements that
// contain failOn and recording the contexts given to TableColumns.
type faultyStore struct {
	domain.StoreAdapter
	failOn      string
	columnsCtxs []context.Context
}

func (f *faultyStore) Execute(ctx context.Context, sql string) error {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return fmt.Errorf("injected failure on %q", sql)
	}
	return f.StoreAdapter.Execute(ctx, sql)
}

func (f *faultyStore) TableColumns(ctx context.Context, table string) ([]domain.ColumnInfo, error) {
	f.columnsCtxs = append(f.columnsCtxs, ctx)
	return f.StoreAdapter.TableColumns(ctx, table)
}

type env struct {
	adapter *store.Adapter
	fault   *faultyStore
	snaps   *snapshot.Manager
	exec    *executor.Executor
	history *testutil.MockHistoryRepo
	shards  *shard.Store
}

func newEnv(t *testing.T, snapshotCap int) *env {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	adapter := store.NewAdapter(db, nil)
	fault := &faultyStore{StoreAdapter: adapter}

	snaps := snapshot.NewManager(fault, nil, snapshotCap)
	versions := version.NewManager(fault, snaps, nil, version.Options{})
	stagingExec := staging.NewExecutor(fault, nil)
	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	shardStore, err := shard.NewStore(fault, blobs, t.TempDir(), nil)
	require.NoError(t, err)
	orch := shard.NewOrchestrator(fault, shardStore, nil)
	history := &testutil.MockHistoryRepo{}

	exec := executor.New(fault, snaps, versions, stagingExec, orch,
		command.NewDefaultRegistry(), history, nil, executor.Options{})
	return &env{adapter: adapter, fault: fault, snaps: snaps, exec: exec, history: history, shards: shardStore}
}

func seedPeople(t *testing.T, a *store.Adapter) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Execute(ctx,
		`CREATE TABLE people (_row_id BIGINT, name VARCHAR, email VARCHAR)`))
	require.NoError(t, a.Execute(ctx,
		`INSERT INTO people VALUES (100, 'Ada', '  Ada@Example.com '), (200, 'Grace', ' G@H.I ')`))
}

func emails(t *testing.T, a *store.Adapter) []string {
	t.Helper()
	rows, err := a.Query(context.Background(), `SELECT email FROM people ORDER BY _row_id`)
	require.NoError(t, err)
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r["email"].(string)
	}
	return out
}

func TestExecuteUndoRedoTier1(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	res, err := e.exec.Execute(ctx, "people", command.NewTrimColumn("c1", "email"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	_, err = e.exec.Execute(ctx, "people", command.NewLowercaseColumn("c2", "email"))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", emails(t, e.adapter)[0])

	records, pos := e.exec.Timeline("people")
	assert.Len(t, records, 2)
	assert.Equal(t, 2, pos)

	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, "Ada@Example.com", emails(t, e.adapter)[0])

	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, "  Ada@Example.com ", emails(t, e.adapter)[0])

	// Redo replays the trim.
	_, err = e.exec.Redo(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, "Ada@Example.com", emails(t, e.adapter)[0])

	// Audit trail captured every action.
	actions := make([]string, len(e.history.Entries))
	for i, entry := range e.history.Entries {
		actions[i] = entry.Action
	}
	assert.Equal(t, []string{"EXECUTE", "EXECUTE", "UNDO", "UNDO", "REDO"}, actions)
}

func TestExecuteUndoRedoTier2(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	cmd, err := command.NewUpdateCells("c1", "name", map[int64]any{100: "Lady Ada"})
	require.NoError(t, err)
	res, err := e.exec.Execute(ctx, "people", cmd)
	require.NoError(t, err)
	require.Len(t, res.Execution.SampleChanges, 1)
	assert.NotEmpty(t, res.DiffViewName)

	rows, err := e.adapter.Query(ctx, `SELECT name FROM people WHERE _row_id = 100`)
	require.NoError(t, err)
	assert.Equal(t, "Lady Ada", rows[0]["name"])

	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)
	rows, err = e.adapter.Query(ctx, `SELECT name FROM people WHERE _row_id = 100`)
	require.NoError(t, err)
	assert.Equal(t, "Ada", rows[0]["name"])

	_, err = e.exec.Redo(ctx, "people")
	require.NoError(t, err)
	rows, err = e.adapter.Query(ctx, `SELECT name FROM people WHERE _row_id = 100`)
	require.NoError(t, err)
	assert.Equal(t, "Lady Ada", rows[0]["name"])
}

func TestExecuteUndoRedoTier3(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	cmd, err := command.NewDropColumn("c1", "email")
	require.NoError(t, err)
	res, err := e.exec.Execute(ctx, "people", cmd)
	require.NoError(t, err)
	assert.True(t, res.Execution.SnapshotAlreadySaved)
	assert.Equal(t, []string{"email"}, res.Execution.DroppedColumnNames)
	assert.Equal(t, 1, e.snaps.Count("people"))

	cols, err := e.adapter.TableColumns(ctx, "people")
	require.NoError(t, err)
	assert.Len(t, cols, 2)

	// Undo restores the column, values included, and frees the snapshot.
	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, "  Ada@Example.com ", emails(t, e.adapter)[0])
	assert.Equal(t, 0, e.snaps.Count("people"))

	// Redo drops it again under a fresh snapshot.
	_, err = e.exec.Redo(ctx, "people")
	require.NoError(t, err)
	cols, err = e.adapter.TableColumns(ctx, "people")
	require.NoError(t, err)
	assert.Len(t, cols, 2)
	assert.Equal(t, 1, e.snaps.Count("people"))
}

func TestSnapshotEvictionDisablesUndo(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 2)
	require.NoError(t, e.adapter.Execute(ctx,
		`CREATE TABLE wide (_row_id BIGINT, a VARCHAR, b VARCHAR, c VARCHAR, d VARCHAR)`))
	require.NoError(t, e.adapter.Execute(ctx, `INSERT INTO wide VALUES (100, 'a', 'b', 'c', 'd')`))

	for i, col := range []string{"a", "b", "c"} {
		cmd, err := command.NewDropColumn(fmt.Sprintf("c%d", i+1), col)
		require.NoError(t, err)
		_, err = e.exec.Execute(ctx, "wide", cmd)
		require.NoError(t, err)
	}
	// Cap 2: the first command's snapshot was evicted.
	assert.Equal(t, 2, e.snaps.Count("wide"))

	records, _ := e.exec.Timeline("wide")
	require.Len(t, records, 3)
	assert.True(t, records[0].UndoDisabled)
	assert.False(t, records[1].UndoDisabled)
	assert.False(t, records[2].UndoDisabled)

	// The two surviving snapshots undo fine.
	_, err := e.exec.Undo(ctx, "wide")
	require.NoError(t, err)
	_, err = e.exec.Undo(ctx, "wide")
	require.NoError(t, err)

	// The evicted one is permanently unreachable.
	_, err = e.exec.Undo(ctx, "wide")
	var unavailable *domain.UndoUnavailableError
	require.ErrorAs(t, err, &unavailable)

	// Data is untouched by the failed undo: columns b, c, d are back.
	cols, err := e.adapter.TableColumns(ctx, "wide")
	require.NoError(t, err)
	assert.Len(t, cols, 4)
}

// A Tier-3 command that dies mid-swap must put the table back from its
// pre-execution snapshot before reporting the failure, whichever swap
// leg breaks.
func TestFailedSwapRestoresFromSnapshot(t *testing.T) {
	for _, failOn := range []string{`DROP TABLE "people"`, `RENAME TO "people"`} {
		t.Run(failOn, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t, 5)
			seedPeople(t, e.adapter)
			e.fault.failOn = failOn

			cmd, err := command.NewDropColumn("c1", "email")
			require.NoError(t, err)
			_, err = e.exec.Execute(ctx, "people", cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "injected failure")

			// Table restored: all columns and values intact.
			cols, err := e.adapter.TableColumns(ctx, "people")
			require.NoError(t, err)
			assert.Len(t, cols, 3)
			assert.Equal(t, []string{"  Ada@Example.com ", " G@H.I "}, emails(t, e.adapter))

			// The snapshot slot was freed and nothing was recorded.
			assert.Equal(t, 0, e.snaps.Count("people"))
			records, _ := e.exec.Timeline("people")
			assert.Empty(t, records)
			assert.Equal(t, "FAILED", e.history.LastEntry().Status)
		})
	}
}

// Rebalancing the ordering column rewrites every row id, which would
// silently invalidate the inverse statements stored by earlier commands.
// The insert that triggers it must run under a snapshot, so undoing it
// restores the pre-rebalance ids and keeps every earlier undo exact.
func TestInsertIntoExhaustedGapKeepsUndoExact(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	require.NoError(t, e.adapter.Execute(ctx, `CREATE TABLE notes (_row_id BIGINT, v VARCHAR)`))
	require.NoError(t, e.adapter.Execute(ctx, `INSERT INTO notes VALUES (1, 'a'), (100, 'b')`))

	values := func() []string {
		rows, err := e.adapter.Query(ctx, `SELECT v FROM notes ORDER BY _row_id`)
		require.NoError(t, err)
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = r["v"].(string)
		}
		return out
	}

	// An edit whose stored inverse targets id 1.
	upd, err := command.NewUpdateCells("c1", "v", map[int64]any{1: "EDITED"})
	require.NoError(t, err)
	_, err = e.exec.Execute(ctx, "notes", upd)
	require.NoError(t, err)

	// No gap below id 1: the prepend rebalances every id.
	ins, err := command.NewInsertRow("c2", map[string]any{"v": "new"}, nil)
	require.NoError(t, err)
	res, err := e.exec.Execute(ctx, "notes", ins)
	require.NoError(t, err)
	assert.True(t, res.Execution.SnapshotAlreadySaved)
	assert.Equal(t, 1, e.snaps.Count("notes"))
	assert.Equal(t, []string{"new", "EDITED", "b"}, values())

	// Undoing the insert restores the pre-rebalance ids.
	_, err = e.exec.Undo(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, 0, e.snaps.Count("notes"))
	rows, err := e.adapter.Query(ctx, `SELECT _row_id, v FROM notes ORDER BY _row_id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1, rows[0]["_row_id"])
	assert.Equal(t, "EDITED", rows[0]["v"])

	// The edit's inverse now targets the right row again.
	_, err = e.exec.Undo(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, values())

	// Redo replays both; the rebalance re-runs deterministically.
	_, err = e.exec.Redo(ctx, "notes")
	require.NoError(t, err)
	_, err = e.exec.Redo(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "EDITED", "b"}, values())
}

func TestColumnDiffUsesCallerContext(t *testing.T) {
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "req-42")
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	cmd, err := command.NewDropColumn("c1", "email")
	require.NoError(t, err)
	_, err = e.exec.Execute(ctx, "people", cmd)
	require.NoError(t, err)

	require.NotEmpty(t, e.fault.columnsCtxs)
	for _, c := range e.fault.columnsCtxs {
		assert.Equal(t, "req-42", c.Value(ctxKey{}))
	}
}

func TestNewCommandTruncatesRedoTail(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	_, err := e.exec.Execute(ctx, "people", command.NewTrimColumn("c1", "email"))
	require.NoError(t, err)
	_, err = e.exec.Execute(ctx, "people", command.NewLowercaseColumn("c2", "email"))
	require.NoError(t, err)
	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)

	// A new command discards the undone lowercase permanently.
	_, err = e.exec.Execute(ctx, "people", command.NewUppercaseColumn("c3", "email"))
	require.NoError(t, err)

	records, pos := e.exec.Timeline("people")
	require.Len(t, records, 2)
	assert.Equal(t, 2, pos)
	assert.Equal(t, domain.CmdTrimColumn, records[0].CommandType)
	assert.Equal(t, domain.CmdUppercaseColumn, records[1].CommandType)

	_, err = e.exec.Redo(ctx, "people")
	var validation *domain.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestInsertRowRedoKeepsID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	cmd, err := command.NewInsertRow("c1", map[string]any{"name": "Alan"}, nil)
	require.NoError(t, err)
	_, err = e.exec.Execute(ctx, "people", cmd)
	require.NoError(t, err)
	records, _ := e.exec.Timeline("people")
	rowID := records[0].Params["row_id"]
	assert.EqualValues(t, int64(50), rowID)

	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)
	rows, err := e.adapter.Query(ctx, `SELECT COUNT(*) AS n FROM people WHERE _row_id = 50`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["n"])

	_, err = e.exec.Redo(ctx, "people")
	require.NoError(t, err)
	rows, err = e.adapter.Query(ctx, `SELECT name FROM people WHERE _row_id = 50`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Alan", rows[0]["name"])
}

func TestSortExecutesWithoutSnapshotAndUndoes(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	cmd, err := command.NewSortTable("c1", []command.SortKey{{Column: "name", Descending: true}})
	require.NoError(t, err)
	res, err := e.exec.Execute(ctx, "people", cmd)
	require.NoError(t, err)
	assert.False(t, res.Execution.SnapshotAlreadySaved)
	assert.Equal(t, 0, e.snaps.Count("people"))

	// Undo re-sorts by the ordering column; all values survive.
	_, err = e.exec.Undo(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, []string{"  Ada@Example.com ", " G@H.I "}, emails(t, e.adapter))
}

func TestValidationFailureLeavesTimelineUntouched(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	_, err := e.exec.Execute(ctx, "people", command.NewTrimColumn("c1", "missing_col"))
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	records, _ := e.exec.Timeline("people")
	assert.Empty(t, records)
	assert.Equal(t, "FAILED", e.history.LastEntry().Status)
}

func TestExecuteUnknownTable(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	_, err := e.exec.Execute(ctx, "ghost", command.NewTrimColumn("c1", "x"))
	var notFound *domain.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUndoRedoOnEmptyTimeline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)
	seedPeople(t, e.adapter)

	var validation *domain.ValidationError
	_, err := e.exec.Undo(ctx, "people")
	assert.ErrorAs(t, err, &validation)
	_, err = e.exec.Redo(ctx, "people")
	assert.ErrorAs(t, err, &validation)
}

// The staging and shard paths must produce the same rows for the same
// command; only the execution strategy differs.
func TestStagingAndShardPathsAgree(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, 5)

	for _, table := range []string{"t_engine", "t_shard"} {
		require.NoError(t, e.adapter.Execute(ctx, fmt.Sprintf(
			`CREATE TABLE %s (_row_id BIGINT, keep VARCHAR, dropme VARCHAR)`, table)))
		require.NoError(t, e.adapter.Execute(ctx, fmt.Sprintf(
			`INSERT INTO %s SELECT range * 100, 'k' || range, 'd' || range FROM range(0, 12)`, table)))
	}

	// t_shard runs out-of-core over a 4-row-per-shard manifest.
	_, err := e.shards.PublishTable(ctx, "t_shard", "m1", 4, domain.OrderColumn)
	require.NoError(t, err)
	e.exec.RegisterTable("t_shard", "m1")

	for _, table := range []string{"t_engine", "t_shard"} {
		cmd, err := command.NewDropColumn("c_"+table, "dropme")
		require.NoError(t, err)
		res, err := e.exec.Execute(ctx, table, cmd)
		require.NoError(t, err)
		assert.Equal(t, []string{"dropme"}, res.Execution.DroppedColumnNames, table)
	}

	engineRows, err := e.adapter.Query(ctx, `SELECT _row_id, keep FROM t_engine ORDER BY _row_id`)
	require.NoError(t, err)
	shardRows, err := e.adapter.Query(ctx, `SELECT _row_id, keep FROM t_shard ORDER BY _row_id`)
	require.NoError(t, err)
	assert.Equal(t, engineRows, shardRows)
}

func TestTimelineTruncateAndDisable(t *testing.T) {
	tl := executor.NewTimeline()
	for i := 0; i < 3; i++ {
		tl.Append(&domain.TimelineRecord{
			ID:         fmt.Sprintf("r%d", i),
			SnapshotID: fmt.Sprintf("s%d", i),
		})
	}
	assert.True(t, tl.CanUndo())
	assert.False(t, tl.CanRedo())

	tl.MarkUndone()
	tl.MarkUndone()
	assert.Equal(t, 1, tl.Position())
	assert.True(t, tl.CanRedo())

	tl.Append(&domain.TimelineRecord{ID: "r3"})
	assert.Equal(t, 2, tl.Position())
	assert.Len(t, tl.Records(), 2)
	assert.False(t, tl.CanRedo())

	// Disabling through a snapshot flags it and everything earlier.
	n := tl.DisableUndoThroughSnapshot("s0")
	assert.Equal(t, 1, n)
	assert.True(t, tl.Records()[0].UndoDisabled)
	assert.False(t, tl.Records()[1].UndoDisabled)
}

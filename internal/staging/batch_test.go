package staging_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableforge/internal/domain"
	"tableforge/internal/staging"
	"tableforge/internal/store"
	"tableforge/internal/testutil"
)

func testAdapter(t *testing.T) *store.Adapter {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewAdapter(db, nil)
}

func TestBatchExecutePagesAndSwaps(t *testing.T) {
	ctx := context.Background()
	a := testAdapter(t)
	e := staging.NewExecutor(a, nil)

	require.NoError(t, a.Execute(ctx, `CREATE TABLE nums (v INTEGER)`))
	require.NoError(t, a.Execute(ctx, `INSERT INTO nums SELECT * FROM range(0, 25)`))

	var calls []int
	res, err := e.BatchExecute(ctx, "nums", `SELECT v * 2 AS v FROM nums ORDER BY v`, domain.BatchOptions{
		BatchSize: 10,
		Progress: func(current, total int, percent float64) {
			calls = append(calls, current)
			assert.Equal(t, 3, total)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(25), res.RowsProcessed)
	assert.Equal(t, []int{1, 2, 3}, calls)

	require.NoError(t, e.SwapStagingTable(ctx, "nums", res.StagingTable))

	rows, err := a.Query(ctx, `SELECT MIN(v) AS lo, MAX(v) AS hi, COUNT(*) AS n FROM nums`)
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0]["lo"])
	assert.EqualValues(t, 48, rows[0]["hi"])
	assert.EqualValues(t, 25, rows[0]["n"])

	exists, err := a.TableExists(ctx, res.StagingTable)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBatchExecuteEmptySourceCreatesSchema(t *testing.T) {
	ctx := context.Background()
	a := testAdapter(t)
	e := staging.NewExecutor(a, nil)

	require.NoError(t, a.Execute(ctx, `CREATE TABLE empty_t (a INTEGER, b VARCHAR)`))

	res, err := e.BatchExecute(ctx, "empty_t", `SELECT a, b FROM empty_t`, domain.BatchOptions{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.RowsProcessed)

	cols, err := a.TableColumns(ctx, res.StagingTable)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "a", cols[0].Name)

	require.NoError(t, e.CleanupStagingTable(ctx, res.StagingTable))
}

func TestBatchFailureDropsStagingAndKeepsLive(t *testing.T) {
	ctx := context.Background()
	a := testAdapter(t)
	e := staging.NewExecutor(a, nil)

	require.NoError(t, a.Execute(ctx, `CREATE TABLE src (v INTEGER)`))
	require.NoError(t, a.Execute(ctx, `INSERT INTO src VALUES (1), (2), (3)`))

	// A select referencing a missing column fails on the first page.
	_, err := e.BatchExecute(ctx, "src", `SELECT missing FROM src`, domain.BatchOptions{BatchSize: 2})
	require.Error(t, err)

	rows, err := a.Query(ctx, `SELECT COUNT(*) AS n FROM src`)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rows[0]["n"])

	// No staging leftovers.
	leftover, err := a.Query(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_name LIKE 'src__staging%'`)
	require.NoError(t, err)
	assert.Empty(t, leftover)
}

func TestBatchCheckpointsEveryFivePages(t *testing.T) {
	ctx := context.Background()
	ms := &testutil.MockStore{
		QueryFn: func(ctx context.Context, sql string) ([]domain.Row, error) {
			return []domain.Row{{"n": int64(120)}}, nil
		},
	}
	e := staging.NewExecutor(ms, nil)

	_, err := e.BatchExecute(ctx, "big", `SELECT * FROM big`, domain.BatchOptions{BatchSize: 10})
	require.NoError(t, err)
	// 12 pages → checkpoints after pages 5 and 10.
	assert.Equal(t, 2, ms.Checkpoints)

	var creates, inserts int
	for _, s := range ms.Executed {
		if strings.HasPrefix(s, "CREATE TABLE") {
			creates++
		}
		if strings.HasPrefix(s, "INSERT INTO") {
			inserts++
		}
	}
	assert.Equal(t, 1, creates)
	assert.Equal(t, 11, inserts)
}

func TestBatchAbortsBetweenPages(t *testing.T) {
	cctx, cancel := context.WithCancel(context.Background())
	ms := &testutil.MockStore{
		QueryFn: func(ctx context.Context, sql string) ([]domain.Row, error) {
			return []domain.Row{{"n": int64(50)}}, nil
		},
		ExecuteFn: func(ctx context.Context, sql string) error {
			if strings.HasPrefix(sql, "CREATE TABLE") {
				cancel() // cancel while the first page is "in flight"
			}
			return nil
		},
	}
	e := staging.NewExecutor(ms, nil)

	_, err := e.BatchExecute(cctx, "t", `SELECT * FROM t`, domain.BatchOptions{BatchSize: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	// The staging table was cleaned up.
	assert.NotEmpty(t, ms.ExecutedMatching("DROP TABLE IF EXISTS"))
}

package shard_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tableforge/internal/blob"
	"tableforge/internal/domain"
	"tableforge/internal/shard"
	"tableforge/internal/store"
)

func testEnv(t *testing.T) (*store.Adapter, blob.Store, *shard.Store) {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	adapter := store.NewAdapter(db, nil)

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	st, err := shard.NewStore(adapter, blobs, t.TempDir(), nil)
	require.NoError(t, err)
	return adapter, blobs, st
}

func seedRows(t *testing.T, a *store.Adapter, table string, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, a.Execute(ctx, fmt.Sprintf(
		`CREATE TABLE %s (_row_id INTEGER, v INTEGER)`, table)))
	require.NoError(t, a.Execute(ctx, fmt.Sprintf(
		`INSERT INTO %s SELECT range * 100, range FROM range(0, %d)`, table, n)))
}

func sumOf(t *testing.T, a *store.Adapter, table string) int64 {
	t.Helper()
	rows, err := a.Query(context.Background(),
		fmt.Sprintf(`SELECT COALESCE(SUM(v), 0)::BIGINT AS s, COUNT(*) AS n FROM %s`, table))
	require.NoError(t, err)
	return rows[0]["s"].(int64)
}

func TestPublishAndRebuildRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, blobs, st := testEnv(t)
	seedRows(t, a, "events", 25)

	m, err := st.PublishTable(ctx, "events", "m1", 10, domain.OrderColumn)
	require.NoError(t, err)
	assert.Len(t, m.Shards, 3)
	assert.Equal(t, int64(25), m.TotalRows)
	assert.Equal(t, domain.OrderColumn, m.OrderByColumn)

	keys, err := blobs.List(ctx, "shards/m1/")
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	read, err := st.ReadManifest(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, m.TotalRows, read.TotalRows)

	require.NoError(t, a.Execute(ctx, `DROP TABLE events`))
	require.NoError(t, st.ImportTableFromManifest(ctx, "events", read))
	assert.EqualValues(t, 300, sumOf(t, a, "events")) // 0+1+...+24
}

func TestReadManifestMissing(t *testing.T) {
	_, _, st := testEnv(t)
	_, err := st.ReadManifest(context.Background(), "nope")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestDeleteManifestRemovesShards(t *testing.T) {
	ctx := context.Background()
	a, blobs, st := testEnv(t)
	seedRows(t, a, "ev", 10)
	_, err := st.PublishTable(ctx, "ev", "m1", 4, "")
	require.NoError(t, err)

	require.NoError(t, st.DeleteManifest(ctx, "m1"))
	keys, err := blobs.List(ctx, "shards/m1/")
	require.NoError(t, err)
	assert.Empty(t, keys)
	ok, err := blobs.Exists(ctx, "manifests/m1.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOrchestratorTransformsAndRepublishes(t *testing.T) {
	ctx := context.Background()
	a, blobs, st := testEnv(t)
	seedRows(t, a, "events", 25)
	_, err := st.PublishTable(ctx, "events", "m1", 10, domain.OrderColumn)
	require.NoError(t, err)

	var calls []int
	o := shard.NewOrchestrator(a, st, nil)
	res, err := o.Run(ctx, "events", "m1", func(in string) string {
		return fmt.Sprintf(`SELECT _row_id, v * 2 AS v FROM %q`, in)
	}, shard.RunOptions{Progress: func(current, total int, percent float64) {
		calls = append(calls, current)
		assert.Equal(t, 3, total)
	}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(25), res.RowCount)
	assert.Equal(t, []int{1, 2, 3}, calls)

	// Live table holds the transformed rows.
	assert.EqualValues(t, 600, sumOf(t, a, "events"))

	// Republished under the original id, old shard files gone.
	m, err := st.ReadManifest(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "m1", m.SnapshotID)
	assert.Equal(t, int64(25), m.TotalRows)
	keys, err := blobs.List(ctx, "shards/m1/")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The new manifest's shards rebuild the transformed table.
	require.NoError(t, a.Execute(ctx, `DROP TABLE events`))
	require.NoError(t, st.ImportTableFromManifest(ctx, "events", m))
	assert.EqualValues(t, 600, sumOf(t, a, "events"))
}

// Consecutive transforms republish under the same id while their files
// live under each run's staging prefix; every swap must still remove the
// generation it replaces, or blob storage grows without bound.
func TestRepeatedTransformsLeaveNoOrphanShards(t *testing.T) {
	ctx := context.Background()
	a, blobs, st := testEnv(t)
	seedRows(t, a, "events", 12)
	_, err := st.PublishTable(ctx, "events", "m1", 4, domain.OrderColumn)
	require.NoError(t, err)

	double := func(in string) string {
		return fmt.Sprintf(`SELECT _row_id, v * 2 AS v FROM %q`, in)
	}
	o := shard.NewOrchestrator(a, st, nil)
	_, err = o.Run(ctx, "events", "m1", double, shard.RunOptions{})
	require.NoError(t, err)
	_, err = o.Run(ctx, "events", "m1", double, shard.RunOptions{})
	require.NoError(t, err)

	assert.EqualValues(t, 264, sumOf(t, a, "events")) // (0+1+...+11) * 4

	// Storage holds exactly the current generation's files.
	m, err := st.ReadManifest(ctx, "m1")
	require.NoError(t, err)
	want := make([]string, 0, len(m.Shards))
	for _, sh := range m.Shards {
		want = append(want, sh.Path)
	}
	keys, err := blobs.List(ctx, "shards/")
	require.NoError(t, err)
	assert.ElementsMatch(t, want, keys)
}

func TestOrchestratorSchemaChange(t *testing.T) {
	ctx := context.Background()
	a, _, st := testEnv(t)
	seedRows(t, a, "events", 8)
	_, err := st.PublishTable(ctx, "events", "m1", 4, domain.OrderColumn)
	require.NoError(t, err)

	o := shard.NewOrchestrator(a, st, nil)
	res, err := o.Run(ctx, "events", "m1", func(in string) string {
		return fmt.Sprintf(`SELECT * EXCLUDE (v) FROM %q`, in)
	}, shard.RunOptions{})
	require.NoError(t, err)
	require.Len(t, res.Columns, 1)
	assert.Equal(t, domain.OrderColumn, res.Columns[0])

	cols, err := a.TableColumns(ctx, "events")
	require.NoError(t, err)
	require.Len(t, cols, 1)
}

// flakyBlob wraps a Store and fails Put after a number of successes.
type flakyBlob struct {
	blob.Store
	putsLeft int
	failGets bool
}

func (f *flakyBlob) Put(ctx context.Context, key string, r io.Reader) error {
	if strings.HasPrefix(key, "shards/") {
		if f.putsLeft <= 0 {
			return fmt.Errorf("injected put failure at %s", key)
		}
		f.putsLeft--
	}
	return f.Store.Put(ctx, key, r)
}

func (f *flakyBlob) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.failGets && strings.HasPrefix(key, "shards/") {
		return nil, fmt.Errorf("injected get failure at %s", key)
	}
	return f.Store.Get(ctx, key)
}

func TestOrchestratorFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	a, _, _ := testEnv(t)
	inner, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	seedRows(t, a, "events", 25)

	// Publish through the plain store so all three original shards land.
	plain, err := shard.NewStore(a, inner, t.TempDir(), nil)
	require.NoError(t, err)
	_, err = plain.PublishTable(ctx, "events", "m1", 10, domain.OrderColumn)
	require.NoError(t, err)

	// Transform fails uploading its second output shard.
	flaky := &flakyBlob{Store: inner, putsLeft: 1}
	st, err := shard.NewStore(a, flaky, t.TempDir(), nil)
	require.NoError(t, err)

	o := shard.NewOrchestrator(a, st, nil)
	_, err = o.Run(ctx, "events", "m1", func(in string) string {
		return fmt.Sprintf(`SELECT _row_id, v * 2 AS v FROM %q`, in)
	}, shard.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "injected put failure")
	assert.NotContains(t, err.Error(), "data safe")

	// Live table was rebuilt with the original data.
	assert.EqualValues(t, 300, sumOf(t, a, "events"))

	// Published manifest unchanged; no staged manifests or shards leak.
	m, err := plain.ReadManifest(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), m.TotalRows)
	manifests, err := inner.List(ctx, "manifests/")
	require.NoError(t, err)
	assert.Equal(t, []string{"manifests/m1.json"}, manifests)
	orphans, err := inner.List(ctx, "shards/")
	require.NoError(t, err)
	for _, k := range orphans {
		assert.True(t, strings.HasPrefix(k, "shards/m1/"), "unexpected orphan %s", k)
	}
}

func TestOrchestratorSecondaryFailureIsDataSafe(t *testing.T) {
	ctx := context.Background()
	a, _, _ := testEnv(t)
	inner, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	seedRows(t, a, "events", 10)
	plain, err := shard.NewStore(a, inner, t.TempDir(), nil)
	require.NoError(t, err)
	_, err = plain.PublishTable(ctx, "events", "m1", 4, domain.OrderColumn)
	require.NoError(t, err)

	// Every shard read fails, so the first import fails AND the rollback
	// rebuild fails. The original shards are still intact on disk.
	flaky := &flakyBlob{Store: inner, putsLeft: 100, failGets: true}
	st, err := shard.NewStore(a, flaky, t.TempDir(), nil)
	require.NoError(t, err)

	o := shard.NewOrchestrator(a, st, nil)
	_, err = o.Run(ctx, "events", "m1", func(in string) string {
		return fmt.Sprintf(`SELECT * FROM %q`, in)
	}, shard.RunOptions{})
	require.Error(t, err)
	var ds *domain.DataSafeError
	require.ErrorAs(t, err, &ds)
	assert.Contains(t, err.Error(), "data safe on disk")

	// Disk state untouched: a fresh store still rebuilds the table.
	m, err := plain.ReadManifest(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, plain.ImportTableFromManifest(ctx, "events", m))
	assert.EqualValues(t, 45, sumOf(t, a, "events"))
}

func TestOrchestratorAbortsBetweenShards(t *testing.T) {
	cctx, cancel := context.WithCancel(context.Background())
	a, _, st := testEnv(t)
	seedRows(t, a, "events", 25)
	_, err := st.PublishTable(cctx, "events", "m1", 10, domain.OrderColumn)
	require.NoError(t, err)

	o := shard.NewOrchestrator(a, st, nil)
	_, err = o.Run(cctx, "events", "m1", func(in string) string {
		return fmt.Sprintf(`SELECT * FROM %q`, in)
	}, shard.RunOptions{Progress: func(current, total int, percent float64) {
		if current == 1 {
			cancel() // tripped by the between-shards check
		}
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// Rolled back: the live table holds the original rows again.
	assert.EqualValues(t, 300, sumOf(t, a, "events"))
}

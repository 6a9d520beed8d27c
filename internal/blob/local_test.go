package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "manifests/m1.json", strings.NewReader(`{"snapshot_id":"m1"}`)))

	ok, err := s.Exists(ctx, "manifests/m1.json")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Get(ctx, "manifests/m1.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, `{"snapshot_id":"m1"}`, string(data))

	require.NoError(t, s.Delete(ctx, "manifests/m1.json"))
	ok, err = s.Exists(ctx, "manifests/m1.json")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, "manifests/m1.json"))
}

func TestLocalStoreList(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "shards/m1/0.parquet", strings.NewReader("a")))
	require.NoError(t, s.Put(ctx, "shards/m1/1.parquet", strings.NewReader("b")))
	require.NoError(t, s.Put(ctx, "shards/m2/0.parquet", strings.NewReader("c")))

	keys, err := s.List(ctx, "shards/m1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"shards/m1/0.parquet", "shards/m1/1.parquet"}, keys)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	err = s.Put(ctx, "../outside", strings.NewReader("x"))
	assert.Error(t, err)

	_, err = s.Get(ctx, "/etc/passwd")
	assert.Error(t, err)
}

package blobstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casekeeper/internal/apperr"
	"casekeeper/internal/storage"
)

func openMemory(t *testing.T, maxBytes int64) *Badger {
	t.Helper()
	b, err := Open(Options{InMemory: true, MaxBytes: maxBytes})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOpen_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	b, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	defer b.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpen_RejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := Open(Options{Dir: path})
	assert.Error(t, err)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}

func TestPutGetDelete(t *testing.T) {
	b := openMemory(t, 0)
	ctx := context.Background()
	payload := bytes.Repeat([]byte{0xAB}, 1<<20)

	require.NoError(t, b.Put(ctx, "attachment:1_a", payload))

	got, found, err := b.Get(ctx, "attachment:1_a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, payload, got)

	require.NoError(t, b.Delete(ctx, "attachment:1_a"))
	require.NoError(t, b.Delete(ctx, "attachment:1_a"), "deleting a missing key is a no-op")

	_, found, err = b.Get(ctx, "attachment:1_a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutMany_RespectsCapacity(t *testing.T) {
	b := openMemory(t, 100)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "k1", bytes.Repeat([]byte("a"), 50)))

	err := b.PutMany(ctx, []storage.Entry{
		{Key: "k2", Value: bytes.Repeat([]byte("b"), 30)},
		{Key: "k3", Value: bytes.Repeat([]byte("c"), 30)},
	})
	require.ErrorIs(t, err, apperr.ErrQuotaExceeded)

	_, found, err := b.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, found, "rejected batch must not be partially applied")

	// Replacing k1 frees its previous size.
	require.NoError(t, b.Put(ctx, "k1", bytes.Repeat([]byte("z"), 90)))
	used, err := b.UsedBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(92), used)
}

func TestList_Prefix(t *testing.T) {
	b := openMemory(t, 0)
	ctx := context.Background()

	for _, key := range []string{"backup:2", "backup:1", "attachment:1_a", "counter"} {
		require.NoError(t, b.Put(ctx, key, []byte("v")))
	}

	keys, err := b.List(ctx, "backup:")
	require.NoError(t, err)
	assert.Equal(t, []string{"backup:1", "backup:2"}, keys)
}

func TestCanceledContext(t *testing.T) {
	b := openMemory(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, b.Put(ctx, "k", []byte("v")))
	_, _, err := b.Get(ctx, "k")
	assert.Error(t, err)
}

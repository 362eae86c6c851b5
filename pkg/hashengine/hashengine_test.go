package hashengine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
)

func openCache(t *testing.T) *identitycache.Cache {
	t.Helper()
	c, err := identitycache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func makeRecord(t *testing.T, cache *identitycache.Cache, path string, content []byte) identitycache.FileRecord {
	t.Helper()
	require.NoError(t, os.WriteFile(path, content, 0644))
	info, err := os.Stat(path)
	require.NoError(t, err)
	rec := identitycache.FileRecord{
		Side:  identitycache.SideSource,
		Path:  path,
		Size:  info.Size(),
		Mtime: info.ModTime().UnixNano(),
	}
	_, err = cache.UpsertMetadata(rec)
	require.NoError(t, err)
	return rec
}

func TestHashAllComputesEqualFingerprintsForEqualContent(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	a := makeRecord(t, cache, filepath.Join(dir, "a.bin"), []byte("identical payload"))
	b := makeRecord(t, cache, filepath.Join(dir, "b.bin"), []byte("identical payload"))
	c := makeRecord(t, cache, filepath.Join(dir, "c.bin"), []byte("different payload"))

	e := New(cache, 4, 64, nil)
	out, stats, err := e.HashAll(context.Background(), []identitycache.FileRecord{a, b, c}, nil)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, int64(3), stats.Computed)
	assert.Zero(t, stats.CacheHits)
	assert.Len(t, out[0].Hash, 16)
	assert.Equal(t, out[0].Hash, out[1].Hash)
	assert.NotEqual(t, out[0].Hash, out[2].Hash)
}

func TestHashAllPersistsToCache(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	rec := makeRecord(t, cache, filepath.Join(dir, "a.bin"), []byte("payload"))

	e := New(cache, 2, 64, nil)
	out, _, err := e.HashAll(context.Background(), []identitycache.FileRecord{rec}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	got, err := cache.GetByPaths(identitycache.SideSource, []string{rec.Path})
	require.NoError(t, err)
	assert.Equal(t, out[0].Hash, got[rec.Path].Hash)
}

func TestHashAllUsesCacheHits(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	rec := makeRecord(t, cache, filepath.Join(dir, "a.bin"), []byte("payload"))
	rec.Hash = "cafebabe00000000"

	e := New(cache, 2, 64, nil)
	out, stats, err := e.HashAll(context.Background(), []identitycache.FileRecord{rec}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)

	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Zero(t, stats.Computed)
	assert.Equal(t, "cafebabe00000000", out[0].Hash)
}

func TestHashAllSkipsVanishedFiles(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	rec := makeRecord(t, cache, filepath.Join(dir, "a.bin"), []byte("payload"))
	gone := identitycache.FileRecord{
		Side: identitycache.SideSource,
		Path: filepath.Join(dir, "gone.bin"),
		Size: 7,
	}

	e := New(cache, 2, 64, nil)
	out, stats, err := e.HashAll(context.Background(), []identitycache.FileRecord{rec, gone}, nil)
	require.NoError(t, err)

	assert.Len(t, out, 1)
	assert.Equal(t, int64(1), stats.Vanished)
	assert.Equal(t, int64(1), stats.Computed)
}

func TestHashAllReportsProgress(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	recs := []identitycache.FileRecord{
		makeRecord(t, cache, filepath.Join(dir, "a.bin"), []byte("one")),
		makeRecord(t, cache, filepath.Join(dir, "b.bin"), []byte("two")),
	}

	var calls int
	var lastTotal int64
	e := New(cache, 1, 64, nil)
	_, _, err := e.HashAll(context.Background(), recs, func(done, total int64, bytesPerSec float64) {
		calls++
		lastTotal = total
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(2), lastTotal)
}

func TestHashAllHonorsCancellation(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	recs := make([]identitycache.FileRecord, 0, 8)
	for i := 0; i < 8; i++ {
		recs = append(recs, makeRecord(t, cache, filepath.Join(dir, string(rune('a'+i))+".bin"), []byte("data")))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(cache, 2, 64, nil).HashAll(ctx, recs, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

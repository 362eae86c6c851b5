package dedupscan

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))
}

func openCache(t *testing.T) *identitycache.Cache {
	t.Helper()
	c, err := identitycache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestScanFiltersAndCollisions(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.bin"), make([]byte, 100))
	writeFile(t, filepath.Join(dir, "b.bin"), make([]byte, 100))
	writeFile(t, filepath.Join(dir, "unique.bin"), make([]byte, 200))
	writeFile(t, filepath.Join(dir, "tiny.bin"), make([]byte, 5))
	writeFile(t, filepath.Join(dir, "photo.JPG"), make([]byte, 300))

	paths := []string{
		filepath.Join(dir, "a.bin"),
		filepath.Join(dir, "b.bin"),
		filepath.Join(dir, "unique.bin"),
		filepath.Join(dir, "tiny.bin"),
		filepath.Join(dir, "photo.JPG"),
		filepath.Join(dir, "gone.bin"),
	}

	s := NewScanner(cache, 10, []string{".jpg"}, nil)
	res, err := s.Scan(context.Background(), identitycache.SideSource, paths, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(5), res.Stats.Scanned)
	assert.Equal(t, int64(1), res.Stats.TooSmall)
	assert.Equal(t, int64(1), res.Stats.ExcludedType)
	assert.Equal(t, int64(1), res.Stats.Vanished)
	assert.Equal(t, 3, res.Stats.Cache.New)

	require.Len(t, res.Eligible, 3)
	require.Len(t, res.Collisions, 2)
	assert.Equal(t, int64(100), res.Collisions[0].Size)
	assert.Equal(t, int64(100), res.Collisions[1].Size)
}

func TestScanAttachesCachedHashes(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "a.bin")
	writeFile(t, path, make([]byte, 64))

	s := NewScanner(cache, 0, nil, nil)
	res, err := s.Scan(context.Background(), identitycache.SideSource, []string{path}, nil)
	require.NoError(t, err)
	require.Len(t, res.Eligible, 1)
	require.False(t, res.Eligible[0].HasHash())

	rec := res.Eligible[0]
	rec.Hash = "1122334455667788"
	stored, err := cache.SetHash(rec)
	require.NoError(t, err)
	require.True(t, stored)

	// Second scan of the unchanged file must surface the cached fingerprint.
	res, err = s.Scan(context.Background(), identitycache.SideSource, []string{path}, nil)
	require.NoError(t, err)
	require.Len(t, res.Eligible, 1)
	assert.Equal(t, "1122334455667788", res.Eligible[0].Hash)
	assert.Equal(t, 1, res.Stats.Cache.Unchanged)
}

func TestScanInvalidatesHashOnChange(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "a.bin")
	writeFile(t, path, []byte("original content"))

	s := NewScanner(cache, 0, nil, nil)
	res, err := s.Scan(context.Background(), identitycache.SideSource, []string{path}, nil)
	require.NoError(t, err)

	rec := res.Eligible[0]
	rec.Hash = "aaaaaaaaaaaaaaaa"
	_, err = cache.SetHash(rec)
	require.NoError(t, err)

	writeFile(t, path, []byte("changed content and longer"))

	res, err = s.Scan(context.Background(), identitycache.SideSource, []string{path}, nil)
	require.NoError(t, err)
	require.Len(t, res.Eligible, 1)
	assert.False(t, res.Eligible[0].HasHash())
	assert.Equal(t, 1, res.Stats.Cache.Changed)
}

func TestScanCountsPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("directory permission bits do not block stat on Windows")
	}
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	cache := openCache(t)
	dir := t.TempDir()

	locked := filepath.Join(dir, "locked")
	writeFile(t, filepath.Join(locked, "a.bin"), make([]byte, 64))
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	s := NewScanner(cache, 0, nil, nil)
	res, err := s.Scan(context.Background(), identitycache.SideSource, []string{filepath.Join(locked, "a.bin")}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Stats.Denied)
	assert.Zero(t, res.Stats.Vanished)
	assert.Empty(t, res.Eligible)
}

func TestScanProgressCoversFilteredPaths(t *testing.T) {
	cache := openCache(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "big.bin"), make([]byte, 100))
	writeFile(t, filepath.Join(dir, "tiny.bin"), make([]byte, 1))
	paths := []string{
		filepath.Join(dir, "big.bin"),
		filepath.Join(dir, "tiny.bin"),
		filepath.Join(dir, "gone.bin"),
	}

	var calls, last int64
	s := NewScanner(cache, 10, nil, nil)
	_, err := s.Scan(context.Background(), identitycache.SideSource, paths, func(done, total int64) {
		calls++
		last = done
		assert.Equal(t, int64(3), total)
	})
	require.NoError(t, err)

	// Filtered and vanished paths still advance the counter to the end.
	assert.Equal(t, int64(3), calls)
	assert.Equal(t, int64(3), last)
}

func TestSizeCollisionsPreservesOrder(t *testing.T) {
	recs := []identitycache.FileRecord{
		{Path: "/a", Size: 10},
		{Path: "/b", Size: 20},
		{Path: "/c", Size: 10},
		{Path: "/d", Size: 30},
		{Path: "/e", Size: 10},
	}
	got := SizeCollisions(recs)
	require.Len(t, got, 3)
	assert.Equal(t, "/a", got[0].Path)
	assert.Equal(t, "/c", got[1].Path)
	assert.Equal(t, "/e", got[2].Path)
}

package identitycache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestUpsertMetadataOutcomes(t *testing.T) {
	c := openTestCache(t)

	rec := FileRecord{Side: SideSource, Path: "/data/a.bin", Size: 100, Mtime: 1000}

	outcome, err := c.UpsertMetadata(rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNew, outcome)

	outcome, err = c.UpsertMetadata(rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	rec.Mtime = 2000
	outcome, err = c.UpsertMetadata(rec)
	require.NoError(t, err)
	assert.Equal(t, OutcomeChanged, outcome)
}

func TestMetadataChangeInvalidatesHash(t *testing.T) {
	c := openTestCache(t)

	rec := FileRecord{Side: SideSource, Path: "/data/a.bin", Size: 100, Mtime: 1000}
	_, err := c.UpsertMetadata(rec)
	require.NoError(t, err)

	rec.Hash = "00000000deadbeef"
	stored, err := c.SetHash(rec)
	require.NoError(t, err)
	require.True(t, stored)

	got, err := c.GetByPaths(SideSource, []string{rec.Path})
	require.NoError(t, err)
	require.Contains(t, got, rec.Path)
	assert.Equal(t, "00000000deadbeef", got[rec.Path].Hash)

	// A size change must clear the fingerprint.
	changed := FileRecord{Side: SideSource, Path: rec.Path, Size: 101, Mtime: 1000}
	outcome, err := c.UpsertMetadata(changed)
	require.NoError(t, err)
	require.Equal(t, OutcomeChanged, outcome)

	got, err = c.GetByPaths(SideSource, []string{rec.Path})
	require.NoError(t, err)
	assert.False(t, got[rec.Path].HasHash())
}

func TestSetHashStaleNoop(t *testing.T) {
	c := openTestCache(t)

	rec := FileRecord{Side: SideSource, Path: "/data/a.bin", Size: 100, Mtime: 1000}
	_, err := c.UpsertMetadata(rec)
	require.NoError(t, err)

	// Hash computed against metadata that no longer matches the stored row.
	stale := FileRecord{Side: SideSource, Path: rec.Path, Size: 100, Mtime: 999, Hash: "feedface00000000"}
	stored, err := c.SetHash(stale)
	require.NoError(t, err)
	assert.False(t, stored)

	got, err := c.GetByPaths(SideSource, []string{rec.Path})
	require.NoError(t, err)
	assert.False(t, got[rec.Path].HasHash())
}

func TestSetHashRejectsEmpty(t *testing.T) {
	c := openTestCache(t)
	_, err := c.SetHash(FileRecord{Side: SideSource, Path: "/x"})
	assert.Error(t, err)
}

func TestGetByPathsChunking(t *testing.T) {
	c := openTestCache(t)

	// Enough paths to force several IN-clause chunks.
	const total = pathChunkSize*2 + 137
	recs := make([]FileRecord, 0, total)
	paths := make([]string, 0, total)
	for i := 0; i < total; i++ {
		p := fmt.Sprintf("/data/file-%05d.bin", i)
		recs = append(recs, FileRecord{Side: SideSource, Path: p, Size: int64(i), Mtime: int64(i)})
		paths = append(paths, p)
	}
	stats, err := c.UpsertBatch(recs)
	require.NoError(t, err)
	assert.Equal(t, total, stats.New)

	got, err := c.GetByPaths(SideSource, paths)
	require.NoError(t, err)
	require.Len(t, got, total)
	assert.Equal(t, int64(42), got["/data/file-00042.bin"].Size)

	// Unknown paths are simply absent.
	got, err = c.GetByPaths(SideSource, []string{"/nope"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSidesAreIsolated(t *testing.T) {
	c := openTestCache(t)

	_, err := c.UpsertMetadata(FileRecord{Side: SideSource, Path: "/data/a.bin", Size: 1, Mtime: 1})
	require.NoError(t, err)

	got, err := c.GetByPaths(SideDest, []string{"/data/a.bin"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestForEachOrderedByPath(t *testing.T) {
	c := openTestCache(t)

	for _, p := range []string{"/c", "/a", "/b"} {
		_, err := c.UpsertMetadata(FileRecord{Side: SideSource, Path: p, Size: 1, Mtime: 1})
		require.NoError(t, err)
	}

	var order []string
	err := c.ForEach(SideSource, func(rec FileRecord) error {
		order = append(order, rec.Path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b", "/c"}, order)
}

func TestStats(t *testing.T) {
	c := openTestCache(t)

	recs := []FileRecord{
		{Side: SideSource, Path: "/a", Size: 10, Mtime: 1},
		{Side: SideSource, Path: "/b", Size: 10, Mtime: 1},
		{Side: SideSource, Path: "/c", Size: 20, Mtime: 1},
	}
	_, err := c.UpsertBatch(recs)
	require.NoError(t, err)

	stored, err := c.SetHash(FileRecord{Side: SideSource, Path: "/a", Size: 10, Mtime: 1, Hash: "abcd000000000000"})
	require.NoError(t, err)
	require.True(t, stored)

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.HashedEntries)
	assert.Equal(t, int64(2), stats.DistinctSizes)
	assert.Equal(t, int64(1), stats.CollisionGroups)
	assert.Positive(t, stats.DBSizeBytes)
}

func TestPruneRemovesMissingFiles(t *testing.T) {
	c := openTestCache(t)
	dir := t.TempDir()

	existing := filepath.Join(dir, "kept.bin")
	require.NoError(t, os.WriteFile(existing, []byte("data"), 0644))

	_, err := c.UpsertBatch([]FileRecord{
		{Side: SideSource, Path: existing, Size: 4, Mtime: 1},
		{Side: SideSource, Path: filepath.Join(dir, "gone.bin"), Size: 4, Mtime: 1},
	})
	require.NoError(t, err)

	removed, err := c.Prune(SideSource)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := c.GetByPaths(SideSource, []string{existing})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestClear(t *testing.T) {
	c := openTestCache(t)

	_, err := c.UpsertMetadata(FileRecord{Side: SideSource, Path: "/a", Size: 1, Mtime: 1})
	require.NoError(t, err)
	require.NoError(t, c.Clear())

	stats, err := c.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	require.NoError(t, err)
	_, err = c.UpsertMetadata(FileRecord{Side: SideSource, Path: "/a", Size: 5, Mtime: 7})
	require.NoError(t, err)
	stored, err := c.SetHash(FileRecord{Side: SideSource, Path: "/a", Size: 5, Mtime: 7, Hash: "0011223344556677"})
	require.NoError(t, err)
	require.True(t, stored)
	require.NoError(t, c.Close())

	c, err = Open(dir)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetByPaths(SideSource, []string{"/a"})
	require.NoError(t, err)
	require.Contains(t, got, "/a")
	assert.Equal(t, "0011223344556677", got["/a"].Hash)
}

package metafile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadMetafile(t *testing.T) {
	tempDir := t.TempDir()

	testContent := MetafileContent{
		Version:              "1.0.0",
		SchemaVersion:        1,
		CreatedUTC:           time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		LastRunUTC:           time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		LastCommand:          "dedup",
		LastDuplicateSets:    42,
		LastBytesReclaimable: 1 << 30,
	}

	require.NoError(t, Write(tempDir, &testContent))
	assert.FileExists(t, filepath.Join(tempDir, MetaFileName))

	readContent, err := Read(tempDir)
	require.NoError(t, err)
	assert.Equal(t, testContent.Version, readContent.Version)
	assert.Equal(t, testContent.SchemaVersion, readContent.SchemaVersion)
	assert.True(t, readContent.CreatedUTC.Equal(testContent.CreatedUTC))
	assert.True(t, readContent.LastRunUTC.Equal(testContent.LastRunUTC))
	assert.Equal(t, testContent.LastCommand, readContent.LastCommand)
	assert.Equal(t, testContent.LastDuplicateSets, readContent.LastDuplicateSets)
	assert.Equal(t, testContent.LastBytesReclaimable, readContent.LastBytesReclaimable)
}

func TestReadNonExistentMetafile(t *testing.T) {
	_, err := Read(t.TempDir())
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestReadCorruptMetafile(t *testing.T) {
	tempDir := t.TempDir()
	metaFilePath := filepath.Join(tempDir, MetaFileName)
	require.NoError(t, os.WriteFile(metaFilePath, []byte("{invalid json"), 0644))

	_, err := Read(tempDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse metafile")
}

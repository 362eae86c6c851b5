// Package metafile persists a small JSON summary of the last run next to the
// identity cache. It lets the next invocation (and the user) see when the
// cache was created and what the previous run found.
package metafile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// MetaFileName is the name of the run metadata file.
const MetaFileName = ".pgl-dedup.meta.json"

// MetafileContent holds the contents of the metadata file.
type MetafileContent struct {
	Version              string    `json:"version"`
	SchemaVersion        int       `json:"schemaVersion"`
	CreatedUTC           time.Time `json:"createdUTC"`
	LastRunUTC           time.Time `json:"lastRunUTC"`
	LastCommand          string    `json:"lastCommand"`
	LastDuplicateSets    int64     `json:"lastDuplicateSets"`
	LastBytesReclaimable int64     `json:"lastBytesReclaimable"`
}

// Write creates or replaces the metadata file in the given directory.
func Write(dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	if err := os.WriteFile(metaFilePath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	return nil
}

// Read opens and parses the metadata file in a given directory.
func Read(dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	metaFile, err := os.Open(metaFilePath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return MetafileContent{}, err
	}
	defer metaFile.Close()

	var content MetafileContent
	decoder := json.NewDecoder(metaFile)
	if err := decoder.Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}

// Package preflight provides validation checks that run before a scan or
// deletion pass begins. The checks are stateless apart from creating the
// cache directory; they exist to turn late, cryptic filesystem failures into
// early, readable ones.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// cacheDirHeadroom is the minimum free space required on the cache volume.
// The identity database grows with the tree; running it into a full disk
// mid-transaction is how caches get corrupted.
const cacheDirHeadroom = 64 * 1024 * 1024

// CheckTreeAccessible validates that a scan root exists and is a directory.
func CheckTreeAccessible(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory %s does not exist", root)
		}
		return fmt.Errorf("cannot stat directory %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", root)
	}
	return nil
}

// CheckCacheDirUsable ensures the cache directory can be created, is writable
// and has enough free space for the identity database to grow.
func CheckCacheDirUsable(dir string) error {
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	// Perform a thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(dir, ".pgl-dedup-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("cache directory %s is not writable: %w", dir, err)
	}
	f.Close()
	_ = os.Remove(tempFile)

	free, err := freeSpace(dir)
	if err != nil {
		return fmt.Errorf("failed to determine free space for %s: %w", dir, err)
	}
	if free < cacheDirHeadroom {
		return fmt.Errorf("cache directory %s has only %s free, need at least %s",
			dir, util.FormatBytes(int64(free)), util.FormatBytes(cacheDirHeadroom))
	}
	return nil
}

// Package pathwalk enumerates the regular files of a tree. The dedup engine
// itself consumes a plain list of absolute paths; this package is the
// in-repo producer of that list.
package pathwalk

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

// Walk returns the absolute paths of all regular files below root, sorted.
// Symlinks and hidden entries (dot-prefixed) are skipped, as are directories
// that cannot be read. Only the enumeration fails the walk; per-entry
// problems are logged and skipped.
func Walk(ctx context.Context, root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if walkErr != nil {
			plog.Warn("Skipping unreadable entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if path != absRoot && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}
		// Symlinks are never followed. Deduplicating through a link could
		// delete the only real copy of a file.
		if !d.Type().IsRegular() {
			return nil
		}

		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// Package dedupscan turns an enumeration of file paths into cache-reconciled
// file records and finds the size collisions worth hashing. Files with a
// unique size cannot have a content duplicate, so the vast majority of a
// typical tree never reaches the hash phase.
package dedupscan

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
)

// ProgressFunc reports scan progress. done counts processed paths, filtered
// and vanished ones included, so it always reaches total.
type ProgressFunc func(done, total int64)

// Stats summarizes one scan.
type Stats struct {
	Scanned      int64
	TooSmall     int64
	ExcludedType int64
	Vanished     int64
	Denied       int64
	Cache        identitycache.BatchStats
}

// Result holds the outcome of a scan.
type Result struct {
	// Eligible contains every record that passed the filters, with cached
	// fingerprints attached where the cache still had valid ones.
	Eligible []identitycache.FileRecord
	// Collisions contains the subset of Eligible whose size is shared with
	// at least one other eligible file. Only these need content hashing.
	Collisions []identitycache.FileRecord
	Stats      Stats
}

// Scanner stats files, reconciles them against the identity cache and
// partitions them by size.
type Scanner struct {
	cache    *identitycache.Cache
	minSize  int64
	skipExts map[string]struct{}
	m        metrics.Metrics
}

// NewScanner creates a Scanner. skipExts holds lowercase extensions
// (".jpg") whose files are excluded from deduplication entirely; pass nil
// to disable the type filter.
func NewScanner(cache *identitycache.Cache, minSize int64, skipExts []string, m metrics.Metrics) *Scanner {
	set := make(map[string]struct{}, len(skipExts))
	for _, ext := range skipExts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Scanner{cache: cache, minSize: minSize, skipExts: set, m: m}
}

// Scan stats every path, updates the identity cache in one batch and returns
// the eligible records together with their size collisions. Vanished paths
// are counted and skipped. progress may be nil.
func (s *Scanner) Scan(ctx context.Context, side identitycache.Side, paths []string, progress ProgressFunc) (*Result, error) {
	res := &Result{}
	eligible := make([]identitycache.FileRecord, 0, len(paths))
	total := int64(len(paths))

	for i, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if rec, ok := s.statPath(side, path, &res.Stats); ok {
			eligible = append(eligible, rec)
		}
		if progress != nil {
			progress(int64(i+1), total)
		}
	}

	// One transaction for the whole batch; this also invalidates stored
	// fingerprints of files whose metadata changed.
	batchStats, err := s.cache.UpsertBatch(eligible)
	if err != nil {
		return nil, err
	}
	res.Stats.Cache = batchStats

	// Re-read the records so surviving fingerprints are attached.
	lookupPaths := make([]string, len(eligible))
	for i, rec := range eligible {
		lookupPaths[i] = rec.Path
	}
	cached, err := s.cache.GetByPaths(side, lookupPaths)
	if err != nil {
		return nil, err
	}
	for i, rec := range eligible {
		if c, ok := cached[rec.Path]; ok && c.Size == rec.Size && c.Mtime == rec.Mtime {
			eligible[i].Hash = c.Hash
		}
	}
	res.Eligible = eligible

	res.Collisions = SizeCollisions(eligible)
	s.m.AddSizeCollisions(int64(len(res.Collisions)))
	return res, nil
}

// statPath stats one path and applies the eligibility filters, updating the
// counters as it goes.
func (s *Scanner) statPath(side identitycache.Side, path string, stats *Stats) (identitycache.FileRecord, bool) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsPermission(err) {
			stats.Denied++
			s.m.AddFilesDenied(1)
			plog.Warn("Permission denied during scan", "path", path)
		} else {
			// The enumeration is a snapshot; files may be gone by now.
			stats.Vanished++
			s.m.AddFilesVanished(1)
			plog.Debug("File vanished during scan", "path", path)
		}
		return identitycache.FileRecord{}, false
	}
	if !info.Mode().IsRegular() {
		return identitycache.FileRecord{}, false
	}

	stats.Scanned++
	s.m.AddFilesScanned(1)

	if info.Size() < s.minSize {
		stats.TooSmall++
		s.m.AddFilesTooSmall(1)
		return identitycache.FileRecord{}, false
	}
	if _, skip := s.skipExts[strings.ToLower(filepath.Ext(path))]; skip {
		stats.ExcludedType++
		s.m.AddFilesExcludedType(1)
		return identitycache.FileRecord{}, false
	}

	return identitycache.FileRecord{
		Side:  side,
		Path:  path,
		Size:  info.Size(),
		Mtime: info.ModTime().UnixNano(),
	}, true
}

// SizeCollisions returns the records whose size is shared with at least one
// other record in the input, preserving input order.
func SizeCollisions(records []identitycache.FileRecord) []identitycache.FileRecord {
	counts := make(map[int64]int, len(records))
	for _, rec := range records {
		counts[rec.Size]++
	}
	var collisions []identitycache.FileRecord
	for _, rec := range records {
		if counts[rec.Size] >= 2 {
			collisions = append(collisions, rec)
		}
	}
	return collisions
}

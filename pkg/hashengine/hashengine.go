// Package hashengine computes whole-file content fingerprints with a bounded
// worker pool. Hashing is the only phase of a dedup run that reads file
// contents, and the only one worth parallelizing: the metadata phases are
// directory-walk bound, while hashing saturates disk bandwidth.
package hashengine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/pool"
	"github.com/paulschiretz/pgl-dedup/pkg/sharded"
)

// ProgressFunc reports hashing progress. done counts finished files out of
// total, bytesPerSec is the current overall throughput.
type ProgressFunc func(done, total int64, bytesPerSec float64)

// Stats summarizes one HashAll call.
type Stats struct {
	CacheHits   int64
	Computed    int64
	BytesHashed int64
	Vanished    int64
	Denied      int64
	Failed      int64
}

// Engine hashes file records concurrently and persists results in the
// identity cache as they complete, so an interrupted run keeps its progress.
type Engine struct {
	cache   *identitycache.Cache
	workers int
	bufPool *pool.FixedBufferPool
	m       metrics.Metrics
}

// New creates an Engine with the given worker count and per-worker I/O
// buffer size in KiB.
func New(cache *identitycache.Cache, workers int, bufferSizeKB int, m metrics.Metrics) *Engine {
	if workers < 1 {
		workers = 1
	}
	if bufferSizeKB < 1 {
		bufferSizeKB = 256
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Engine{
		cache:   cache,
		workers: workers,
		bufPool: pool.NewFixedBuffer(int64(bufferSizeKB) * 1024),
		m:       m,
	}
}

// HashAll ensures every input record carries a fingerprint. Records that
// already have one (cache hits) are passed through untouched. The rest are
// hashed by the worker pool; each result is written to the cache immediately.
// Vanished files and permission errors are counted and dropped, never fatal.
// The returned slice preserves input order minus the dropped records.
func (e *Engine) HashAll(ctx context.Context, records []identitycache.FileRecord, progress ProgressFunc) ([]identitycache.FileRecord, Stats, error) {
	var stats Stats

	results := sharded.NewMap[identitycache.FileRecord](64)
	var pending []identitycache.FileRecord
	for _, rec := range records {
		if rec.HasHash() {
			stats.CacheHits++
			e.m.AddCacheHits(1)
			results.Store(rec.Key(), rec)
			continue
		}
		pending = append(pending, rec)
	}

	total := int64(len(pending))
	var done, bytesHashed atomic.Int64
	var vanished, denied, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for _, rec := range pending {
		rec := rec
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			hash, n, err := e.hashFile(rec.Path)
			switch {
			case err == nil:
				rec.Hash = hash
				bytesHashed.Add(n)
				e.m.AddBytesHashed(n)
				e.m.AddHashesComputed(1)
				// Persist immediately. A stale write (file changed while we
				// hashed it) is dropped by the cache; the in-memory result
				// still describes the content we actually read.
				if _, err := e.cache.SetHash(rec); err != nil {
					return err
				}
				results.Store(rec.Key(), rec)
			case os.IsNotExist(err):
				vanished.Add(1)
				e.m.AddFilesVanished(1)
				plog.Debug("File vanished before hashing", "path", rec.Path)
			case os.IsPermission(err):
				denied.Add(1)
				e.m.AddFilesDenied(1)
				plog.Warn("Permission denied while hashing", "path", rec.Path)
			default:
				failed.Add(1)
				plog.Warn("Failed to hash file", "path", rec.Path, "error", err)
			}

			d := done.Add(1)
			if progress != nil {
				elapsed := time.Since(start).Seconds()
				var rate float64
				if elapsed > 0 {
					rate = float64(bytesHashed.Load()) / elapsed
				}
				progress(d, total, rate)
			}
			return nil
		})
	}

	err := g.Wait()

	stats.Computed = done.Load() - vanished.Load() - denied.Load() - failed.Load()
	stats.BytesHashed = bytesHashed.Load()
	stats.Vanished = vanished.Load()
	stats.Denied = denied.Load()
	stats.Failed = failed.Load()

	// Partial results are already persisted; surface the cancellation after
	// accounting so callers can still log what was achieved.
	if err != nil {
		return nil, stats, err
	}

	out := make([]identitycache.FileRecord, 0, results.Count())
	for _, rec := range records {
		if r, ok := results.Load(rec.Key()); ok {
			out = append(out, r)
		}
	}
	return out, stats, nil
}

// hashFile streams the file through xxHash64 and returns the fingerprint as
// a 16 character hex string plus the number of bytes read.
func (e *Engine) hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	digest := xxhash.New()
	buf := e.bufPool.Get()
	n, err := io.CopyBuffer(digest, f, *buf)
	e.bufPool.Put(buf)
	if err != nil {
		return "", n, err
	}
	return fmt.Sprintf("%016x", digest.Sum64()), n, nil
}

// Package dedup orchestrates a full duplicate detection run: scan, cache
// reconciliation, content hashing, grouping and resolution. It owns the
// phase sequencing and statistics; the heavy lifting lives in the
// specialized packages it drives.
package dedup

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-dedup/pkg/dedupscan"
	"github.com/paulschiretz/pgl-dedup/pkg/duplicates"
	"github.com/paulschiretz/pgl-dedup/pkg/hashengine"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/resolve"
)

// Phase names the stage a run is currently in.
type Phase string

const (
	PhaseScanning      Phase = "scanning"
	PhaseUpdatingCache Phase = "updating-cache"
	PhaseHashing       Phase = "hashing"
	PhaseGrouping      Phase = "grouping"
	PhaseResolving     Phase = "resolving"
)

// Progress is a point-in-time snapshot handed to the progress callback.
// BytesPerSec is only meaningful during the hashing phase.
type Progress struct {
	Phase       Phase
	Done        int64
	Total       int64
	BytesPerSec float64
}

// ProgressFunc receives progress snapshots. Callbacks must be fast; they run
// on the worker path.
type ProgressFunc func(Progress)

// RunStats aggregates the statistics of one detection run.
type RunStats struct {
	FilesScanned     int64
	FilesTooSmall    int64
	FilesExcluded    int64
	FilesVanished    int64
	FilesDenied      int64
	CacheNew         int64
	CacheChanged     int64
	CacheUnchanged   int64
	SizeCollisions   int64
	CacheHits        int64
	HashesComputed   int64
	BytesHashed      int64
	DuplicateSets    int64
	DuplicateFiles   int64
	BytesReclaimable int64
}

// Result is the outcome of a detection run.
type Result struct {
	Sets      []duplicates.Set
	Decisions []resolve.Decision
	Stats     RunStats
}

// Engine wires the pipeline stages together.
type Engine struct {
	cache    *identitycache.Cache
	scanner  *dedupscan.Scanner
	hasher   *hashengine.Engine
	resolver *resolve.Resolver
	verify   bool
	progress ProgressFunc
}

// New creates an Engine from pre-built stage workers. verify enables the
// byte-for-byte confirmation pass after grouping.
func New(cache *identitycache.Cache, scanner *dedupscan.Scanner, hasher *hashengine.Engine, resolver *resolve.Resolver, verify bool) *Engine {
	return &Engine{
		cache:    cache,
		scanner:  scanner,
		hasher:   hasher,
		resolver: resolver,
		verify:   verify,
	}
}

// SetProgress installs a progress callback for subsequent runs.
func (e *Engine) SetProgress(fn ProgressFunc) {
	e.progress = fn
}

func (e *Engine) report(p Progress) {
	if e.progress != nil {
		e.progress(p)
	}
}

// DetectDuplicates runs the full single-tree pipeline over the given path
// enumeration, recording every file under the given side label.
func (e *Engine) DetectDuplicates(ctx context.Context, side identitycache.Side, paths []string) (*Result, error) {
	res := &Result{}

	// Phase 1+2: metadata scan and cache reconciliation.
	e.report(Progress{Phase: PhaseScanning, Total: int64(len(paths))})
	scanRes, err := e.scanner.Scan(ctx, side, paths, func(done, total int64) {
		e.report(Progress{Phase: PhaseScanning, Done: done, Total: total})
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	e.report(Progress{Phase: PhaseUpdatingCache, Done: int64(len(scanRes.Eligible)), Total: int64(len(scanRes.Eligible))})
	applyScanStats(&res.Stats, scanRes)

	plog.Info("Scan complete",
		"scanned", scanRes.Stats.Scanned,
		"eligible", len(scanRes.Eligible),
		"sizeCollisions", len(scanRes.Collisions),
	)

	// Phase 3: content hashing, size collisions only.
	hashed, err := e.hashRecords(ctx, scanRes.Collisions, &res.Stats)
	if err != nil {
		return nil, err
	}

	// Phase 4+5: grouping and resolution.
	e.finish(res, hashed)
	return res, nil
}

// DetectCrossTreeDuplicates finds content shared between the two trees.
// Source records come straight from the cache; a prior single-tree run must
// have hashed them. Only the destination enumeration is scanned and hashed.
// Spanning sets resolve with the same cascade as single-tree ones, so the
// keeper may sit on either side and deletions may span both.
func (e *Engine) DetectCrossTreeDuplicates(ctx context.Context, destPaths []string) (*Result, error) {
	res := &Result{}

	// Load the hashed source inventory from the cache.
	sourceSizes := make(map[int64]struct{})
	var sourceRecs []identitycache.FileRecord
	err := e.cache.ForEach(identitycache.SideSource, func(rec identitycache.FileRecord) error {
		if rec.HasHash() {
			sourceRecs = append(sourceRecs, rec)
			sourceSizes[rec.Size] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load source records: %w", err)
	}
	if len(sourceRecs) == 0 {
		return nil, fmt.Errorf("no hashed source records in cache; run dedup on the source tree first")
	}
	plog.Info("Loaded source inventory from cache", "records", len(sourceRecs))

	// Scan the destination side fresh.
	e.report(Progress{Phase: PhaseScanning, Total: int64(len(destPaths))})
	scanRes, err := e.scanner.Scan(ctx, identitycache.SideDest, destPaths, func(done, total int64) {
		e.report(Progress{Phase: PhaseScanning, Done: done, Total: total})
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	applyScanStats(&res.Stats, scanRes)

	// A destination file is worth hashing if its size collides within the
	// destination or with any hashed source file.
	destCounts := make(map[int64]int, len(scanRes.Eligible))
	for _, rec := range scanRes.Eligible {
		destCounts[rec.Size]++
	}
	var toHash []identitycache.FileRecord
	for _, rec := range scanRes.Eligible {
		_, inSource := sourceSizes[rec.Size]
		if inSource || destCounts[rec.Size] >= 2 {
			toHash = append(toHash, rec)
		}
	}
	res.Stats.SizeCollisions = int64(len(toHash))

	hashedDest, err := e.hashRecords(ctx, toHash, &res.Stats)
	if err != nil {
		return nil, err
	}

	// Group over the union, keep only sets spanning both trees.
	e.report(Progress{Phase: PhaseGrouping})
	union := make([]identitycache.FileRecord, 0, len(sourceRecs)+len(hashedDest))
	union = append(union, sourceRecs...)
	union = append(union, hashedDest...)

	var sets []duplicates.Set
	for _, set := range duplicates.Group(union) {
		if set.Spans(identitycache.SideSource, identitycache.SideDest) {
			sets = append(sets, set)
		}
	}
	if e.verify {
		sets = duplicates.Verify(sets, 0)
	}

	e.resolve(res, sets)
	return res, nil
}

func (e *Engine) hashRecords(ctx context.Context, records []identitycache.FileRecord, stats *RunStats) ([]identitycache.FileRecord, error) {
	e.report(Progress{Phase: PhaseHashing, Total: int64(len(records))})
	hashed, hashStats, err := e.hasher.HashAll(ctx, records, func(done, total int64, rate float64) {
		e.report(Progress{Phase: PhaseHashing, Done: done, Total: total, BytesPerSec: rate})
	})
	stats.CacheHits = hashStats.CacheHits
	stats.HashesComputed = hashStats.Computed
	stats.BytesHashed = hashStats.BytesHashed
	stats.FilesVanished += hashStats.Vanished
	stats.FilesDenied += hashStats.Denied
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}
	return hashed, nil
}

// finish runs grouping over the hashed records and hands the resulting sets
// to resolution.
func (e *Engine) finish(res *Result, hashed []identitycache.FileRecord) {
	e.report(Progress{Phase: PhaseGrouping})
	sets := duplicates.Group(hashed)
	if e.verify {
		sets = duplicates.Verify(sets, 0)
	}
	e.resolve(res, sets)
}

// resolve runs the keep policy over the sets and fills in the derived
// statistics.
func (e *Engine) resolve(res *Result, sets []duplicates.Set) {
	res.Sets = sets

	e.report(Progress{Phase: PhaseResolving, Total: int64(len(sets))})
	res.Decisions = e.resolver.ResolveAll(sets)

	res.Stats.DuplicateSets = int64(len(sets))
	for _, d := range res.Decisions {
		res.Stats.DuplicateFiles += int64(len(d.Delete))
		for _, del := range d.Delete {
			res.Stats.BytesReclaimable += del.Size
		}
	}
}

func applyScanStats(stats *RunStats, scanRes *dedupscan.Result) {
	stats.FilesScanned = scanRes.Stats.Scanned
	stats.FilesTooSmall = scanRes.Stats.TooSmall
	stats.FilesExcluded = scanRes.Stats.ExcludedType
	stats.FilesVanished += scanRes.Stats.Vanished
	stats.FilesDenied += scanRes.Stats.Denied
	stats.CacheNew = int64(scanRes.Stats.Cache.New)
	stats.CacheChanged = int64(scanRes.Stats.Cache.Changed)
	stats.CacheUnchanged = int64(scanRes.Stats.Cache.Unchanged)
	stats.SizeCollisions = int64(len(scanRes.Collisions))
}

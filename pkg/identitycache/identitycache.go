// Package identitycache persists file identity metadata (size, mtime) and
// content fingerprints between runs. Entries are keyed by (side, path) so one
// cache database can hold a source tree and a destination tree at the same
// time. A cached fingerprint is only trusted while the stored size and mtime
// still match the file on disk; any metadata change invalidates it.
package identitycache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// CacheFileName is the name of the cache database inside the cache directory.
const CacheFileName = "pgl-dedup.cache.db"

// ErrCacheUnavailable indicates the cache database could not be opened or is
// corrupt. Callers must treat this as fatal instead of silently proceeding
// with an empty cache, which would force a full re-hash of every tree.
var ErrCacheUnavailable = errors.New("identity cache unavailable")

// Side labels which tree a record belongs to.
type Side string

const (
	SideSource Side = "source"
	SideDest   Side = "dest"
)

// FileRecord is one cached file identity.
type FileRecord struct {
	Side  Side
	Path  string
	Size  int64
	Mtime int64  // modification time in Unix nanoseconds
	Hash  string // hex content fingerprint, empty while not yet computed
}

// HasHash reports whether the record carries a valid fingerprint.
func (r FileRecord) HasHash() bool {
	return r.Hash != ""
}

// Key returns the unique cache key of the record.
func (r FileRecord) Key() string {
	return string(r.Side) + "\x00" + r.Path
}

// UpsertOutcome describes what UpsertMetadata did with a record.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeNew
	OutcomeChanged
)

// BatchStats counts the per-outcome results of an UpsertBatch call.
type BatchStats struct {
	New       int
	Changed   int
	Unchanged int
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries    int64
	HashedEntries   int64
	DistinctSizes   int64
	CollisionGroups int64 // sizes shared by two or more entries
	DBSizeBytes     int64
}

// SQLite limits the number of bound parameters per statement to 999 by
// default. One slot is reserved for the side column, the rest carry paths.
const (
	maxBoundParams = 999
	pathChunkSize  = maxBoundParams - 1
)

// Cache is a persistent identity store backed by a single SQLite database.
// It is safe for concurrent use; writes are serialized by the database.
type Cache struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the cache database inside dirPath. A database that
// exists but cannot be read or fails its integrity check surfaces
// ErrCacheUnavailable.
func Open(dirPath string) (*Cache, error) {
	if err := os.MkdirAll(dirPath, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dirPath, err)
	}
	dbPath := filepath.Join(dirPath, CacheFileName)

	// WAL keeps readers unblocked during the large metadata write bursts of a
	// scan. synchronous=normal is safe with WAL and considerably faster.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(wal)" +
		"&_pragma=synchronous(normal)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=cache_size(-20000)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	c := &Cache{db: db, path: dbPath}
	if err := c.verify(); err != nil {
		db.Close()
		return nil, err
	}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	plog.Debug("Identity cache opened", "path", dbPath)
	return c, nil
}

// verify runs a quick integrity check so corruption is caught at open time,
// not halfway through a run.
func (c *Cache) verify() error {
	var result string
	if err := c.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity check failed: %v", ErrCacheUnavailable, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check reported %q", ErrCacheUnavailable, result)
	}
	return nil
}

func (c *Cache) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS files (
	side         TEXT    NOT NULL,
	path         TEXT    NOT NULL,
	size         INTEGER NOT NULL,
	mtime        INTEGER NOT NULL,
	hash         TEXT,
	last_checked INTEGER NOT NULL,
	PRIMARY KEY (side, path)
);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash) WHERE hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_files_side_size ON files(side, size);
`
	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: schema init failed: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Close flushes and closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// UpsertMetadata reconciles one observed file against the cache. A new path
// is inserted without a fingerprint. A changed size or mtime updates the
// metadata and clears the stored fingerprint. An unchanged record only
// refreshes its last_checked timestamp.
func (c *Cache) UpsertMetadata(rec FileRecord) (UpsertOutcome, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	outcome, err := upsertMetadataTx(tx, rec, time.Now().Unix())
	if err != nil {
		return OutcomeUnchanged, err
	}
	if err := tx.Commit(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	return outcome, nil
}

// UpsertBatch reconciles many observed files in a single transaction. Scans
// touch hundreds of thousands of rows, so per-record transactions would
// dominate the runtime.
func (c *Cache) UpsertBatch(recs []FileRecord) (BatchStats, error) {
	var stats BatchStats
	if len(recs) == 0 {
		return stats, nil
	}

	tx, err := c.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, rec := range recs {
		outcome, err := upsertMetadataTx(tx, rec, now)
		if err != nil {
			return BatchStats{}, err
		}
		switch outcome {
		case OutcomeNew:
			stats.New++
		case OutcomeChanged:
			stats.Changed++
		default:
			stats.Unchanged++
		}
	}

	if err := tx.Commit(); err != nil {
		return BatchStats{}, fmt.Errorf("failed to commit cache transaction: %w", err)
	}
	return stats, nil
}

func upsertMetadataTx(tx *sql.Tx, rec FileRecord, now int64) (UpsertOutcome, error) {
	var size, mtime int64
	err := tx.QueryRow(
		"SELECT size, mtime FROM files WHERE side = ? AND path = ?",
		string(rec.Side), rec.Path,
	).Scan(&size, &mtime)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.Exec(
			"INSERT INTO files (side, path, size, mtime, hash, last_checked) VALUES (?, ?, ?, ?, NULL, ?)",
			string(rec.Side), rec.Path, rec.Size, rec.Mtime, now,
		)
		if err != nil {
			return OutcomeUnchanged, fmt.Errorf("failed to insert cache record for %s: %w", rec.Path, err)
		}
		return OutcomeNew, nil

	case err != nil:
		return OutcomeUnchanged, fmt.Errorf("failed to read cache record for %s: %w", rec.Path, err)

	case size != rec.Size || mtime != rec.Mtime:
		// The file changed on disk. Whatever fingerprint we stored no longer
		// describes its content.
		_, err = tx.Exec(
			"UPDATE files SET size = ?, mtime = ?, hash = NULL, last_checked = ? WHERE side = ? AND path = ?",
			rec.Size, rec.Mtime, now, string(rec.Side), rec.Path,
		)
		if err != nil {
			return OutcomeUnchanged, fmt.Errorf("failed to update cache record for %s: %w", rec.Path, err)
		}
		return OutcomeChanged, nil

	default:
		_, err = tx.Exec(
			"UPDATE files SET last_checked = ? WHERE side = ? AND path = ?",
			now, string(rec.Side), rec.Path,
		)
		if err != nil {
			return OutcomeUnchanged, fmt.Errorf("failed to touch cache record for %s: %w", rec.Path, err)
		}
		return OutcomeUnchanged, nil
	}
}

// GetByPaths returns the cached records for the given paths on one side,
// keyed by path. Paths without a cache entry are simply absent from the
// result. The lookup is chunked internally to stay below SQLite's bound
// parameter limit, so callers may pass arbitrarily many paths.
func (c *Cache) GetByPaths(side Side, paths []string) (map[string]FileRecord, error) {
	result := make(map[string]FileRecord, len(paths))

	for start := 0; start < len(paths); start += pathChunkSize {
		end := min(start+pathChunkSize, len(paths))
		chunk := paths[start:end]

		query := "SELECT path, size, mtime, COALESCE(hash, '') FROM files WHERE side = ? AND path IN (?" +
			repeatParam(len(chunk)-1) + ")"

		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(side))
		for _, p := range chunk {
			args = append(args, p)
		}

		rows, err := c.db.Query(query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query cache records: %w", err)
		}
		for rows.Next() {
			rec := FileRecord{Side: side}
			if err := rows.Scan(&rec.Path, &rec.Size, &rec.Mtime, &rec.Hash); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan cache record: %w", err)
			}
			result[rec.Path] = rec
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to iterate cache records: %w", err)
		}
		rows.Close()
	}
	return result, nil
}

// SetHash stores a computed fingerprint for a record, but only while the
// stored metadata still matches the metadata the hash was computed against.
// If the file changed in the meantime the write is silently dropped; the
// next scan will re-queue the file. It returns whether the hash was stored.
func (c *Cache) SetHash(rec FileRecord) (bool, error) {
	if rec.Hash == "" {
		return false, fmt.Errorf("refusing to store empty hash for %s", rec.Path)
	}
	res, err := c.db.Exec(
		"UPDATE files SET hash = ?, last_checked = ? WHERE side = ? AND path = ? AND size = ? AND mtime = ?",
		rec.Hash, time.Now().Unix(), string(rec.Side), rec.Path, rec.Size, rec.Mtime,
	)
	if err != nil {
		return false, fmt.Errorf("failed to store hash for %s: %w", rec.Path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to store hash for %s: %w", rec.Path, err)
	}
	if n == 0 {
		plog.Debug("Stale hash write dropped", "path", rec.Path)
		return false, nil
	}
	return true, nil
}

// ForEach streams every record of one side to fn, ordered by path. Iteration
// stops at the first error returned by fn. Rows are streamed from the
// database, so memory stays bounded regardless of cache size.
func (c *Cache) ForEach(side Side, fn func(FileRecord) error) error {
	rows, err := c.db.Query(
		"SELECT path, size, mtime, COALESCE(hash, '') FROM files WHERE side = ? ORDER BY path",
		string(side),
	)
	if err != nil {
		return fmt.Errorf("failed to iterate cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := FileRecord{Side: side}
		if err := rows.Scan(&rec.Path, &rec.Size, &rec.Mtime, &rec.Hash); err != nil {
			return fmt.Errorf("failed to scan cache record: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Stats returns summary statistics over the whole cache.
func (c *Cache) Stats() (Stats, error) {
	var s Stats
	err := c.db.QueryRow(`
SELECT COUNT(*),
       COUNT(hash),
       COUNT(DISTINCT size),
       (SELECT COUNT(*) FROM (SELECT size FROM files GROUP BY side, size HAVING COUNT(*) >= 2))
FROM files`).Scan(&s.TotalEntries, &s.HashedEntries, &s.DistinctSizes, &s.CollisionGroups)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute cache stats: %w", err)
	}
	if info, err := os.Stat(c.path); err == nil {
		s.DBSizeBytes = info.Size()
	}
	return s, nil
}

// Prune removes entries on one side whose file no longer exists on disk.
// This is an explicit maintenance operation; normal runs never prune, they
// just skip stale entries.
func (c *Cache) Prune(side Side) (int64, error) {
	var missing []string
	err := c.ForEach(side, func(rec FileRecord) error {
		if _, err := os.Stat(rec.Path); os.IsNotExist(err) {
			missing = append(missing, rec.Path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var removed int64
	for start := 0; start < len(missing); start += pathChunkSize {
		end := min(start+pathChunkSize, len(missing))
		chunk := missing[start:end]

		query := "DELETE FROM files WHERE side = ? AND path IN (?" + repeatParam(len(chunk)-1) + ")"
		args := make([]any, 0, len(chunk)+1)
		args = append(args, string(side))
		for _, p := range chunk {
			args = append(args, p)
		}
		res, err := c.db.Exec(query, args...)
		if err != nil {
			return removed, fmt.Errorf("failed to prune cache records: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += n
		}
	}
	return removed, nil
}

// Clear removes every record from the cache.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec("DELETE FROM files"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// repeatParam returns n repetitions of ",?" for building IN clauses.
func repeatParam(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		b = append(b, ",?"...)
	}
	return string(b)
}

// Package report renders the outcome of a detection run into a human-readable
// file and maintains the append-only deletion log. Reports can be written
// plain or compressed; the deletion log is always plain text so it stays
// greppable after an interrupted run.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/paulschiretz/pgl-dedup/pkg/dedup"
	"github.com/paulschiretz/pgl-dedup/pkg/duplicates"
	"github.com/paulschiretz/pgl-dedup/pkg/resolve"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Writer produces duplicate reports in a target directory.
type Writer struct {
	dir    string
	format Format
}

// NewWriter creates a report writer. The directory is created on first write.
func NewWriter(dir string, format Format) *Writer {
	return &Writer{dir: dir, format: format}
}

// Write renders the result into a timestamped report file and returns its
// path. The timestamp is taken in UTC so report names sort identically
// across machines.
func (w *Writer) Write(res *dedup.Result, timestampUTC time.Time) (string, error) {
	if err := os.MkdirAll(w.dir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	// Two runs within the same second get numbered suffixes.
	stamp := timestampUTC.Format("2006-01-02_15-04-05")
	var f *os.File
	var path string
	for i := 0; ; i++ {
		name := "dedup-report_" + stamp
		if i > 0 {
			name = fmt.Sprintf("%s_%d", name, i)
		}
		path = filepath.Join(w.dir, name+w.format.Extension())
		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, util.UserWritableFilePerms)
		if err == nil {
			break
		}
		if !os.IsExist(err) || i >= 100 {
			return "", fmt.Errorf("failed to create report file: %w", err)
		}
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	var out io.Writer = buf
	var closer io.Closer

	switch w.format {
	case TextGz:
		gz := pgzip.NewWriter(buf)
		out, closer = gz, gz
	case TextZst:
		zw, err := zstd.NewWriter(buf)
		if err != nil {
			return "", fmt.Errorf("failed to create zstd writer: %w", err)
		}
		out, closer = zw, zw
	}

	if err := render(out, res, timestampUTC); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return "", fmt.Errorf("failed to finalize compressed report: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush report: %w", err)
	}
	return path, nil
}

func render(w io.Writer, res *dedup.Result, timestampUTC time.Time) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "Duplicate report, generated %s\n", timestampUTC.Format(time.RFC3339))
	fmt.Fprintf(bw, "Duplicate sets: %d, redundant files: %d, reclaimable: %s\n\n",
		res.Stats.DuplicateSets, res.Stats.DuplicateFiles, util.FormatBytes(res.Stats.BytesReclaimable))

	for i, d := range res.Decisions {
		set := findSet(res, d)
		fmt.Fprintf(bw, "[%d] fingerprint %s, %s each\n", i+1, d.Keep.Hash, util.FormatBytes(set.Size))
		fmt.Fprintf(bw, "  keep    %s (%s)\n", d.Keep.Path, strings.Join(d.Rationale, "; "))
		for _, del := range d.Delete {
			fmt.Fprintf(bw, "  delete  %s\n", del.Path)
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintf(bw, "Scanned: %d, too small: %d, excluded: %d, vanished: %d\n",
		res.Stats.FilesScanned, res.Stats.FilesTooSmall, res.Stats.FilesExcluded, res.Stats.FilesVanished)
	fmt.Fprintf(bw, "Size collisions: %d, cache hits: %d, hashes computed: %d, hashed: %s\n",
		res.Stats.SizeCollisions, res.Stats.CacheHits, res.Stats.HashesComputed, util.FormatBytes(res.Stats.BytesHashed))
	return bw.Flush()
}

// findSet locates the set a decision belongs to. Decisions and sets are both
// keyed by fingerprint; a miss yields a zero set whose size renders as 0 B.
func findSet(res *dedup.Result, d resolve.Decision) duplicates.Set {
	for _, s := range res.Sets {
		if s.Hash == d.Keep.Hash {
			return s
		}
	}
	return duplicates.Set{}
}

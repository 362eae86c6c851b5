// Package deleter executes the deletions a detection run decided on. It
// re-validates the keeper right before touching its copies: decisions can be
// minutes old by the time the user confirms them, and deleting the last copy
// of a file is the one mistake this tool must never make.
package deleter

import (
	"context"
	"fmt"
	"os"

	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/report"
	"github.com/paulschiretz/pgl-dedup/pkg/resolve"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// Stats counts the outcomes of one Apply pass.
type Stats struct {
	Deleted              int64
	Vanished             int64
	Denied               int64
	Failed               int64
	SkippedMissingKeeper int64
	BytesFreed           int64
}

// Deleter removes redundant copies. With dryRun set it only reports what it
// would do. The deletion log is optional; dry runs never write to it.
type Deleter struct {
	dryRun bool
	log    *report.DeletionLog
}

func New(dryRun bool, log *report.DeletionLog) *Deleter {
	return &Deleter{dryRun: dryRun, log: log}
}

// Apply executes every decision in order. Individual failures are counted and
// logged but do not abort the pass; only context cancellation stops it early.
func (d *Deleter) Apply(ctx context.Context, decisions []resolve.Decision) (Stats, error) {
	var stats Stats
	for _, decision := range decisions {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		d.applyDecision(decision, &stats)
	}

	if d.dryRun {
		plog.Info("[DRY RUN] Deletion pass complete",
			"wouldDelete", stats.Deleted,
			"wouldFree", util.FormatBytes(stats.BytesFreed),
		)
	} else {
		plog.Info("Deletion pass complete",
			"deleted", stats.Deleted,
			"freed", util.FormatBytes(stats.BytesFreed),
			"vanished", stats.Vanished,
			"denied", stats.Denied,
			"failed", stats.Failed,
			"skippedMissingKeeper", stats.SkippedMissingKeeper,
		)
	}
	return stats, nil
}

func (d *Deleter) applyDecision(decision resolve.Decision, stats *Stats) {
	if len(decision.Delete) == 0 {
		return
	}

	// The keeper must still exist when its copies go.
	if _, err := os.Stat(decision.Keep.Path); err != nil {
		plog.Warn("Keeper missing, skipping its duplicates",
			"keeper", decision.Keep.Path,
			"skipped", len(decision.Delete),
		)
		stats.SkippedMissingKeeper += int64(len(decision.Delete))
		return
	}

	reason := fmt.Sprintf("duplicate of %s", decision.Keep.Path)
	for _, rec := range decision.Delete {
		if d.dryRun {
			plog.Info("[DRY RUN] Would delete", "path", rec.Path, "keeper", decision.Keep.Path)
			stats.Deleted++
			stats.BytesFreed += rec.Size
			continue
		}

		err := os.Remove(rec.Path)
		switch {
		case err == nil:
			stats.Deleted++
			stats.BytesFreed += rec.Size
			plog.Debug("Deleted duplicate", "path", rec.Path, "keeper", decision.Keep.Path)
			if d.log != nil {
				if logErr := d.log.Record(rec.Path, rec.Size, reason); logErr != nil {
					plog.Warn("Failed to record deletion", "path", rec.Path, "error", logErr)
				}
			}
		case os.IsNotExist(err):
			stats.Vanished++
		case os.IsPermission(err):
			stats.Denied++
			plog.Warn("Permission denied deleting duplicate", "path", rec.Path)
		default:
			stats.Failed++
			plog.Warn("Failed to delete duplicate", "path", rec.Path, "error", err)
		}
	}
}

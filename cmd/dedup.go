package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/dedup"
	"github.com/paulschiretz/pgl-dedup/pkg/dedupscan"
	"github.com/paulschiretz/pgl-dedup/pkg/deleter"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/hashengine"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/lockfile"
	"github.com/paulschiretz/pgl-dedup/pkg/metafile"
	"github.com/paulschiretz/pgl-dedup/pkg/metrics"
	"github.com/paulschiretz/pgl-dedup/pkg/pathwalk"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/report"
	"github.com/paulschiretz/pgl-dedup/pkg/resolve"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// RunDedup handles the logic for the single-tree dedup command.
func RunDedup(ctx context.Context, flagMap map[string]interface{}) error {
	root, ok := flagMap["root"].(string)
	if !ok || root == "" {
		return fmt.Errorf("the -root flag is required to run dedup")
	}

	runConfig, err := loadRunConfig(flagparse.Dedup, flagMap)
	if err != nil {
		return err
	}

	root, err = util.ExpandPath(root)
	if err != nil {
		return fmt.Errorf("could not expand root path: %w", err)
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("could not determine absolute root path: %w", err)
	}

	if err := preflight.CheckTreeAccessible(root); err != nil {
		return err
	}
	if err := preflight.CheckCacheDirUsable(runConfig.CacheDir); err != nil {
		return err
	}

	appID := fmt.Sprintf("pgl-dedup:%s", runConfig.CacheDir)
	lock, err := lockfile.Acquire(ctx, runConfig.CacheDir, appID)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on cache directory: %w", err)
	}
	defer lock.Release()

	cache, err := identitycache.Open(runConfig.CacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	engine, m := buildEngine(runConfig, cache)

	plog.Info("Enumerating files", "root", root)
	paths, err := pathwalk.Walk(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to enumerate %s: %w", root, err)
	}

	startTime := time.Now()
	res, err := engine.DetectDuplicates(ctx, identitycache.SideSource, paths)
	if err != nil {
		return err
	}
	if err := finishRun(ctx, runConfig, res, m, "dedup"); err != nil {
		return err
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

// loadRunConfig loads the configuration from the cache directory, overlays
// the explicitly set flags and validates the result. It also applies the
// global logging settings.
func loadRunConfig(command flagparse.Command, flagMap map[string]interface{}) (config.Config, error) {
	cacheDir, ok := flagMap["cache"].(string)
	if !ok || cacheDir == "" {
		return config.Config{}, fmt.Errorf("the -cache flag is required")
	}

	loadedConfig, err := config.Load(cacheDir)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load configuration from cache directory: %w", err)
	}

	runConfig := config.MergeConfigWithFlags(command, loadedConfig, flagMap)

	if err := runConfig.Validate(); err != nil {
		return config.Config{}, err
	}

	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetQuiet(runConfig.Runtime.Quiet)
	runConfig.LogSummary()
	return runConfig, nil
}

// buildEngine assembles the detection pipeline from the run configuration.
func buildEngine(runConfig config.Config, cache *identitycache.Cache) (*dedup.Engine, metrics.Metrics) {
	var m metrics.Metrics
	if runConfig.Engine.Metrics {
		m = &metrics.DedupMetrics{}
	} else {
		m = &metrics.NoopMetrics{}
	}

	scanner := dedupscan.NewScanner(cache, runConfig.Detection.MinFileSizeBytes, runConfig.SkipExtensions(), m)
	hasher := hashengine.New(cache, runConfig.Engine.Performance.HashWorkers, runConfig.Engine.Performance.BufferSizeKB, m)
	resolver := resolve.NewResolver(runConfig.Detection.KeepMarker)

	engine := dedup.New(cache, scanner, hasher, resolver, runConfig.Detection.Verify)
	engine.SetProgress(newProgressLogger())
	return engine, m
}

// newProgressLogger returns a progress callback that logs phase transitions.
func newProgressLogger() dedup.ProgressFunc {
	var lastPhase dedup.Phase
	return func(p dedup.Progress) {
		if p.Phase == lastPhase {
			return
		}
		lastPhase = p.Phase
		if p.Total > 0 {
			plog.Info("Phase started", "phase", string(p.Phase), "items", p.Total)
		} else {
			plog.Info("Phase started", "phase", string(p.Phase))
		}
	}
}

// finishRun handles everything after detection: summary logging, the report
// file, the optional deletion pass, metrics and the run metadata.
func finishRun(ctx context.Context, runConfig config.Config, res *dedup.Result, m metrics.Metrics, command string) error {
	plog.Info("Detection complete",
		"duplicateSets", res.Stats.DuplicateSets,
		"redundantFiles", res.Stats.DuplicateFiles,
		"reclaimable", util.FormatBytes(res.Stats.BytesReclaimable),
	)

	if runConfig.Report.Enabled {
		format, err := report.ParseFormat(runConfig.Report.Format)
		if err != nil {
			return err
		}
		writer := report.NewWriter(runConfig.CacheDir, format)
		path, err := writer.Write(res, time.Now().UTC())
		if err != nil {
			return err
		}
		plog.Info("Report written", "path", path)
	}

	if runConfig.Runtime.Delete {
		var deletionLog *report.DeletionLog
		if !runConfig.Runtime.DryRun {
			var err error
			deletionLog, err = report.OpenDeletionLog(runConfig.CacheDir)
			if err != nil {
				return err
			}
			defer deletionLog.Close()
		}

		d := deleter.New(runConfig.Runtime.DryRun, deletionLog)
		if _, err := d.Apply(ctx, res.Decisions); err != nil {
			return err
		}
	} else if res.Stats.DuplicateFiles > 0 {
		plog.Info("No files were deleted. Re-run with -delete to remove redundant copies.")
	}

	m.Log()
	updateMetafile(runConfig.CacheDir, command, res)
	return nil
}

// updateMetafile refreshes the run metadata next to the cache. Failures are
// logged and swallowed; the metadata is informational.
func updateMetafile(cacheDir, command string, res *dedup.Result) {
	now := time.Now().UTC()
	content, err := metafile.Read(cacheDir)
	if err != nil {
		content = metafile.MetafileContent{
			SchemaVersion: 1,
			CreatedUTC:    now,
		}
	}
	content.Version = buildinfo.Version
	content.LastRunUTC = now
	content.LastCommand = command
	content.LastDuplicateSets = res.Stats.DuplicateSets
	content.LastBytesReclaimable = res.Stats.BytesReclaimable

	if err := metafile.Write(cacheDir, &content); err != nil {
		plog.Warn("Failed to update run metadata", "error", err)
	}
}

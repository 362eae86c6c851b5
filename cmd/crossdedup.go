package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/lockfile"
	"github.com/paulschiretz/pgl-dedup/pkg/pathwalk"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// RunCrossDedup handles the logic for the cross-tree dedup command. The
// source inventory comes from the cache; only the destination tree is walked.
func RunCrossDedup(ctx context.Context, flagMap map[string]interface{}) error {
	dest, ok := flagMap["dest"].(string)
	if !ok || dest == "" {
		return fmt.Errorf("the -dest flag is required to run crossdedup")
	}

	runConfig, err := loadRunConfig(flagparse.CrossDedup, flagMap)
	if err != nil {
		return err
	}

	dest, err = util.ExpandPath(dest)
	if err != nil {
		return fmt.Errorf("could not expand dest path: %w", err)
	}
	dest, err = filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("could not determine absolute dest path: %w", err)
	}

	if err := preflight.CheckTreeAccessible(dest); err != nil {
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

	plog.Info("Enumerating files", "dest", dest)
	destPaths, err := pathwalk.Walk(ctx, dest)
	if err != nil {
		return fmt.Errorf("failed to enumerate %s: %w", dest, err)
	}

	startTime := time.Now()
	res, err := engine.DetectCrossTreeDuplicates(ctx, destPaths)
	if err != nil {
		return err
	}
	if err := finishRun(ctx, runConfig, res, m, "crossdedup"); err != nil {
		return err
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" finished successfully.", "duration", duration)
	return nil
}

package cmd

import (
	"context"
	"fmt"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/lockfile"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// RunCache handles the logic for the cache maintenance command. Without
// -prune or -clear it prints cache statistics.
func RunCache(ctx context.Context, flagMap map[string]interface{}) error {
	cacheDir, ok := flagMap["cache"].(string)
	if !ok || cacheDir == "" {
		return fmt.Errorf("the -cache flag is required")
	}
	cacheDir, err := util.ExpandPath(cacheDir)
	if err != nil {
		return fmt.Errorf("could not expand cache path: %w", err)
	}

	prune := false
	if v, ok := flagMap["prune"]; ok {
		prune = v.(bool)
	}
	clearAll := false
	if v, ok := flagMap["clear"]; ok {
		clearAll = v.(bool)
	}
	if prune && clearAll {
		return fmt.Errorf("-prune and -clear are mutually exclusive")
	}

	appID := fmt.Sprintf("pgl-dedup-cache:%s", cacheDir)
	lock, err := lockfile.Acquire(ctx, cacheDir, appID)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on cache directory: %w", err)
	}
	defer lock.Release()

	cache, err := identitycache.Open(cacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	switch {
	case clearAll:
		force := false
		if f, ok := flagMap["force"]; ok {
			force = f.(bool)
		}
		if !force {
			fmt.Printf("WARNING: This removes every entry from the identity cache at %s.\n", cacheDir)
			fmt.Printf("The next run will re-hash all colliding files from scratch.\n")
			if !PromptForConfirmation("Are you sure you want to continue?", false) {
				plog.Info(buildinfo.Name + " cache clear canceled.")
				return nil
			}
		}
		if err := cache.Clear(); err != nil {
			return err
		}
		plog.Info("Cache cleared", "path", cacheDir)

	case prune:
		side := identitycache.SideSource
		if v, ok := flagMap["side"].(string); ok && v != "" {
			side = identitycache.Side(v)
		}
		removed, err := cache.Prune(side)
		if err != nil {
			return err
		}
		plog.Info("Cache pruned", "side", string(side), "removed", removed)

	default:
		stats, err := cache.Stats()
		if err != nil {
			return err
		}
		plog.Info("Cache statistics",
			"entries", stats.TotalEntries,
			"hashed", stats.HashedEntries,
			"distinctSizes", stats.DistinctSizes,
			"collisionGroups", stats.CollisionGroups,
			"dbSize", util.FormatBytes(stats.DBSizeBytes),
		)
	}
	return nil
}

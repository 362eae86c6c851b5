package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/config"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/identitycache"
	"github.com/paulschiretz/pgl-dedup/pkg/lockfile"
	"github.com/paulschiretz/pgl-dedup/pkg/metafile"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/preflight"
)

// RunInit handles the logic for the 'init' command: it prepares a cache
// directory with a configuration file and an empty identity database.
func RunInit(ctx context.Context, flagMap map[string]interface{}) error {
	cacheDir, ok := flagMap["cache"].(string)
	if !ok || cacheDir == "" {
		return fmt.Errorf("the -cache flag is required for the init operation")
	}

	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return fmt.Errorf("could not determine absolute cache path for %s: %w", cacheDir, err)
	}

	var baseConfig config.Config

	initDefault := false
	if v, ok := flagMap["default"]; ok {
		initDefault = v.(bool)
	}

	if initDefault {
		// Check for force flag to bypass confirmation
		force := false
		if f, ok := flagMap["force"]; ok {
			force = f.(bool)
		}

		if !force {
			absConfigFilePath := filepath.Join(absCacheDir, config.ConfigFileName)
			if _, err := os.Stat(absConfigFilePath); err == nil {
				fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
				fmt.Printf("Using -default will overwrite it with default values. All custom settings will be lost.\n")
				if !PromptForConfirmation("Are you sure you want to continue?", false) {
					plog.Info(buildinfo.Name + " init operation canceled.")
					return nil
				}
			}
		}
		baseConfig = config.NewDefault()
		baseConfig.CacheDir = absCacheDir
	} else {
		// Try to load existing config to preserve settings.
		// Note: config.Load returns NewDefault() if the file simply doesn't exist.
		var err error
		baseConfig, err = config.Load(absCacheDir)
		if err != nil {
			plog.Warn("Could not load existing configuration, starting with defaults.", "reason", err)
			baseConfig = config.NewDefault()
			baseConfig.CacheDir = absCacheDir
		}
	}

	runConfig := config.MergeConfigWithFlags(flagparse.Init, baseConfig, flagMap)

	if err := runConfig.Validate(); err != nil {
		return err
	}

	startTime := time.Now()

	if err := preflight.CheckCacheDirUsable(runConfig.CacheDir); err != nil {
		return fmt.Errorf("initialization preflight failed: %w", err)
	}

	if runConfig.Runtime.DryRun {
		plog.Info("[DRY RUN] Initialization complete. No changes made.")
		return nil
	}

	appID := fmt.Sprintf("pgl-dedup-init:%s", runConfig.CacheDir)
	lock, err := lockfile.Acquire(ctx, runConfig.CacheDir, appID)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on cache directory: %w", err)
	}
	defer lock.Release()

	if err := config.Generate(runConfig); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	// Create the identity database so the first run starts from a verified cache.
	cache, err := identitycache.Open(runConfig.CacheDir)
	if err != nil {
		return fmt.Errorf("failed to initialize identity cache: %w", err)
	}
	if err := cache.Close(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := metafile.Write(runConfig.CacheDir, &metafile.MetafileContent{
		Version:       buildinfo.Version,
		SchemaVersion: 1,
		CreatedUTC:    now,
		LastCommand:   "init",
	}); err != nil {
		plog.Warn("Failed to write run metadata", "error", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" cache directory successfully initialized.", "duration", duration)
	return nil
}

// PromptForConfirmation asks the user a yes/no question on stdin.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

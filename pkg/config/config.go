// Package config defines the persistent configuration stored next to the
// identity cache and the logic for loading, generating and validating it.
// Runtime-only settings (dry-run, delete) never reach the config file; they
// are per-invocation decisions.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
	"github.com/paulschiretz/pgl-dedup/pkg/flagparse"
	"github.com/paulschiretz/pgl-dedup/pkg/plog"
	"github.com/paulschiretz/pgl-dedup/pkg/report"
	"github.com/paulschiretz/pgl-dedup/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-dedup.config.json"

// defaultImageExtensions covers the formats photographers typically manage
// with dedicated tools; skipping them avoids fighting over their libraries.
var defaultImageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tiff", ".tif", ".webp",
	".svg", ".ico", ".heic", ".heif", ".raw", ".cr2", ".nef", ".arw",
	".dng", ".psd", ".ai",
}

type DetectionConfig struct {
	MinFileSizeBytes int64 `json:"minFileSizeBytes" comment:"Files below this size are never considered. Default is 10240 (10KB)."`
	SkipImageFiles   bool  `json:"skipImageFiles"`
	// Note: omitempty is intentionally not used so that the extension list
	// appears in the generated config file for better discoverability.
	ImageExtensions []string `json:"imageExtensions"`
	KeepMarker      string   `json:"keepMarker" comment:"Path component marking a preferred copy. Empty disables the marker tier."`
	Verify          bool     `json:"verify"`
}

type EnginePerformanceConfig struct {
	HashWorkers  int `json:"hashWorkers"`
	BufferSizeKB int `json:"bufferSizeKB" comment:"Size of the I/O buffer in kilobytes for hashing and verification. Default is 256 (256KB)."`
}

type EngineConfig struct {
	Metrics     bool                    `json:"metrics"`
	Performance EnginePerformanceConfig `json:"performance"`
}

type ReportConfig struct {
	Enabled bool   `json:"enabled"`
	Format  string `json:"format"`
}

type RuntimeConfig struct {
	DryRun bool
	Quiet  bool
	Delete bool
}

type Config struct {
	Version   string          `json:"version"`
	CacheDir  string          `json:"-"` // Never added to config file
	Runtime   RuntimeConfig   `json:"-"` // Never added to config file
	LogLevel  string          `json:"logLevel"`
	Detection DetectionConfig `json:"detection"`
	Engine    EngineConfig    `json:"engine"`
	Report    ReportConfig    `json:"report"`
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		CacheDir: "",     // Intentionally empty to force user configuration.
		LogLevel: "info", // Default log level.
		Runtime: RuntimeConfig{
			DryRun: false,
			Quiet:  false,
			Delete: false,
		},
		Detection: DetectionConfig{
			MinFileSizeBytes: 10 * 1024, // Tiny files waste more hashing time than they reclaim space.
			SkipImageFiles:   false,
			ImageExtensions:  defaultImageExtensions,
			KeepMarker:       "keep",
			Verify:           false,
		},
		Engine: EngineConfig{
			Metrics: true, // Default to enabled for detailed performance and file-counting metrics.
			Performance: EnginePerformanceConfig{
				HashWorkers:  4,   // Default to 4. Safe for HDDs (prevents thrashing), decent for SSDs.
				BufferSizeKB: 256, // Default to 256KB buffer. Keep it between 64KB-4MB
			},
		},
		Report: ReportConfig{
			Enabled: true,
			Format:  "text",
		},
	}
}

// Load attempts to load a configuration from the cache directory.
// If the file doesn't exist, it returns the default config without an error.
// If the file exists but fails to parse, it returns an error and a zero-value config.
func Load(cacheDir string) (Config, error) {
	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return Config{}, fmt.Errorf("could not determine absolute path for cache directory %s: %w", cacheDir, err)
	}

	configPath := filepath.Join(absCacheDir, ConfigFileName)

	file, err := os.Open(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := NewDefault()
			cfg.CacheDir = absCacheDir
			return cfg, nil
		}
		return Config{}, fmt.Errorf("error opening config file %s: %w", configPath, err)
	}
	defer file.Close()

	plog.Info("Loading configuration", "path", configPath)
	// Start with default values, then overwrite with the file's content.
	// This makes the config loading resilient to missing fields in the JSON file.
	config := NewDefault()
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	config.CacheDir = absCacheDir

	if config.Version != buildinfo.Version {
		config.Version = buildinfo.Version
	}
	return config, nil
}

// Generate creates or overwrites the config file in the cache directory.
func Generate(configToGenerate Config) error {
	configPath := filepath.Join(configToGenerate.CacheDir, ConfigFileName)
	jsonData, err := json.MarshalIndent(configToGenerate, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal default config to JSON: %w", err)
	}

	if err := os.WriteFile(configPath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	plog.Info("Successfully saved config file", "path", configPath)
	return nil
}

// Validate checks the configuration for logical errors and inconsistencies.
func (c *Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache directory cannot be empty")
	}

	var err error
	c.CacheDir, err = util.ExpandPath(c.CacheDir)
	if err != nil {
		return fmt.Errorf("could not expand cache directory path: %w", err)
	}
	c.CacheDir = filepath.Clean(c.CacheDir)

	if c.Detection.MinFileSizeBytes < 0 {
		return fmt.Errorf("detection.minFileSizeBytes cannot be negative")
	}
	for _, ext := range c.Detection.ImageExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("detection.imageExtensions entries must start with '.': %q", ext)
		}
	}

	if c.Engine.Performance.HashWorkers < 1 {
		return fmt.Errorf("engine.performance.hashWorkers must be at least 1")
	}
	if c.Engine.Performance.BufferSizeKB <= 0 {
		return fmt.Errorf("engine.performance.bufferSizeKB must be greater than 0")
	}

	if c.Report.Enabled {
		if _, err := report.ParseFormat(c.Report.Format); err != nil {
			return err
		}
	}
	return nil
}

// SkipExtensions returns the extensions the scanner should exclude, or nil
// when image skipping is disabled.
func (c *Config) SkipExtensions() []string {
	if !c.Detection.SkipImageFiles {
		return nil
	}
	return c.Detection.ImageExtensions
}

// LogSummary prints a user-friendly summary of the configuration.
func (c *Config) LogSummary() {
	logArgs := []interface{}{
		"log_level", c.LogLevel,
		"cache_dir", c.CacheDir,
		"dry_run", c.Runtime.DryRun,
		"delete", c.Runtime.Delete,
		"min_file_size", util.FormatBytes(c.Detection.MinFileSizeBytes),
		"keep_marker", c.Detection.KeepMarker,
		"verify", c.Detection.Verify,
		"hash_workers", c.Engine.Performance.HashWorkers,
		"buffer_size_kb", c.Engine.Performance.BufferSizeKB,
		"metrics", c.Engine.Metrics,
	}
	if c.Detection.SkipImageFiles {
		logArgs = append(logArgs, "skip_extensions", strings.Join(c.Detection.ImageExtensions, ", "))
	}
	if c.Report.Enabled {
		logArgs = append(logArgs, "report", fmt.Sprintf("enabled (f:%s)", c.Report.Format))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. It iterates over the setFlags map, which contains only the flags
// explicitly provided by the user on the command line.
func MergeConfigWithFlags(command flagparse.Command, base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "cache":
			merged.CacheDir = value.(string)
		case "log-level":
			merged.LogLevel = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "quiet":
			merged.Runtime.Quiet = value.(bool)
		case "delete":
			merged.Runtime.Delete = value.(bool)
		case "metrics":
			merged.Engine.Metrics = value.(bool)
		case "min-size-bytes":
			merged.Detection.MinFileSizeBytes = value.(int64)
		case "skip-images":
			merged.Detection.SkipImageFiles = value.(bool)
		case "image-extensions":
			merged.Detection.ImageExtensions = value.([]string)
		case "keep-marker":
			merged.Detection.KeepMarker = value.(string)
		case "verify":
			merged.Detection.Verify = value.(bool)
		case "hash-workers":
			merged.Engine.Performance.HashWorkers = value.(int)
		case "buffer-size-kb":
			merged.Engine.Performance.BufferSizeKB = value.(int)
		case "report":
			merged.Report.Enabled = value.(bool)
		case "report-format":
			merged.Report.Format = value.(string)
		case "root", "dest", "side", "prune", "clear", "force", "default":
			// Handled by the command layer, not the configuration.
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name, "command", command)
		}
	}
	return merged
}

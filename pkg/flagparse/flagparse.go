// Package flagparse turns os.Args into a command and a map of the flags the
// user explicitly set. Only set flags end up in the map, so the caller can
// overlay them onto a loaded configuration without clobbering file values
// with flag defaults.
package flagparse

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulschiretz/pgl-dedup/pkg/buildinfo"
)

// cliFlags holds pointers to all possible command-line flags.
// Fields are pointers so we can distinguish between "not registered for this command" (nil)
// and "registered but not set by user" (non-nil pointer to zero value).
type cliFlags struct {
	// Global
	LogLevel *string
	DryRun   *bool
	Quiet    *bool
	Metrics  *bool

	// Shared: Dedup / CrossDedup / Init
	Cache           *string
	Root            *string
	Dest            *string
	Delete          *bool
	MinSizeBytes    *int64
	SkipImages      *bool
	ImageExtensions *string
	KeepMarker      *string
	Verify          *bool
	HashWorkers     *int
	BufferSizeKB    *int
	Report          *bool
	ReportFormat    *string

	// Cache specific
	Prune *bool
	Clear *bool
	Side  *string

	// Init specific
	Force   *bool
	Default *bool
}

func registerGlobalFlags(fs *flag.FlagSet, f *cliFlags) {
	f.LogLevel = fs.String("log-level", "info", "Set the logging level: 'debug', 'info', 'warn', 'error'.")
	f.DryRun = fs.Bool("dry-run", false, "Show what would be done without making any changes.")
	f.Quiet = fs.Bool("quiet", false, "Suppress informational output.")
	f.Metrics = fs.Bool("metrics", false, "Enable detailed performance and file-counting metrics.")
}

func registerDetectionFlags(fs *flag.FlagSet, f *cliFlags) {
	f.MinSizeBytes = fs.Int64("min-size-bytes", 0, "Ignore files smaller than this many bytes.")
	f.SkipImages = fs.Bool("skip-images", false, "Skip common image file types.")
	f.ImageExtensions = fs.String("image-extensions", "", "Comma-separated list of file extensions treated as images (e.g. '.jpg,.png').")
	f.KeepMarker = fs.String("keep-marker", "", "Path component marking a preferred copy (e.g. 'keep').")
	f.Verify = fs.Bool("verify", false, "Confirm duplicates byte for byte before resolving them.")
	f.HashWorkers = fs.Int("hash-workers", 0, "Number of worker goroutines for content hashing.")
	f.BufferSizeKB = fs.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for hashing and verification.")
	f.Report = fs.Bool("report", true, "Write a report file after the run.")
	f.ReportFormat = fs.String("report-format", "", "Report format: 'text', 'text.gz', or 'text.zst'.")
}

func registerDedupFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Cache = fs.String("cache", "", "Directory holding the identity cache and configuration. (Required)")
	f.Root = fs.String("root", "", "Directory tree to deduplicate. (Required)")
	f.Delete = fs.Bool("delete", false, "Delete redundant copies instead of only reporting them.")
	registerDetectionFlags(fs, f)
}

func registerCrossDedupFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Cache = fs.String("cache", "", "Directory holding the identity cache and configuration. (Required)")
	f.Dest = fs.String("dest", "", "Tree whose files are deleted when their content exists in the source tree. (Required)")
	f.Delete = fs.Bool("delete", false, "Delete redundant copies instead of only reporting them.")
	registerDetectionFlags(fs, f)
}

func registerCacheFlags(fs *flag.FlagSet, f *cliFlags) {
	f.Cache = fs.String("cache", "", "Directory holding the identity cache. (Required)")
	f.Prune = fs.Bool("prune", false, "Remove cache entries whose files no longer exist.")
	f.Clear = fs.Bool("clear", false, "Remove all cache entries.")
	f.Side = fs.String("side", "source", "Tree label to prune: 'source' or 'dest'.")
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
}

func registerInitFlags(fs *flag.FlagSet, f *cliFlags) {
	// Init supports the detection flags (to generate config) plus 'force' and 'default'.
	f.Cache = fs.String("cache", "", "Directory to initialize with a configuration and identity cache. (Required)")
	f.Force = fs.Bool("force", false, "Bypass confirmation prompts.")
	f.Default = fs.Bool("default", false, "Overwrite existing configuration with defaults.")
	registerDetectionFlags(fs, f)
}

// Parse parses the provided arguments (usually os.Args[1:]) and returns the command and flag map.
func Parse(args []string) (Command, map[string]interface{}, error) {
	// If no arguments provided, print help and exit.
	if len(args) == 0 {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	cmdStr := strings.ToLower(args[0])

	if cmdStr == "help" || cmdStr == "-h" || cmdStr == "-help" || cmdStr == "--help" {
		fs := flag.NewFlagSet("main", flag.ContinueOnError)
		printTopLevelUsage(fs)
		return None, nil, nil
	}

	f := &cliFlags{}

	command, err := ParseCommand(cmdStr)
	if err != nil {
		return None, nil, err
	}

	switch command {
	case Dedup:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerDedupFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Find and resolve duplicate files within one tree.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap, err := flagsToMap(fs, f)
		return command, flagMap, err

	case CrossDedup:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerCrossDedupFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Find files in a destination tree whose content already exists in the source tree.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap, err := flagsToMap(fs, f)
		return command, flagMap, err

	case Cache:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerCacheFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Inspect or maintain the identity cache.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return command, nil, err
		}
		flagMap, err := flagsToMap(fs, f)
		return command, flagMap, err

	case Init:
		fs := flag.NewFlagSet(command.String(), flag.ContinueOnError)
		registerGlobalFlags(fs, f)
		registerInitFlags(fs, f)

		fs.Usage = func() {
			printSubcommandUsage(command, "Initialize a cache directory with a configuration file.", fs)
		}

		if err := fs.Parse(args[1:]); err != nil {
			return Init, nil, err
		}
		flagMap, err := flagsToMap(fs, f)
		return Init, flagMap, err

	case Version:
		return command, nil, nil

	default:
		return None, nil, fmt.Errorf("unknown command: %s", args[0])
	}
}

func flagsToMap(fs *flag.FlagSet, f *cliFlags) (map[string]interface{}, error) {
	// Create a map of the flags that were explicitly set by the user, along with their values.
	// This map is used to selectively override the base configuration.
	usedFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed(flagMap, usedFlags, "log-level", f.LogLevel)
	addIfUsed(flagMap, usedFlags, "dry-run", f.DryRun)
	addIfUsed(flagMap, usedFlags, "quiet", f.Quiet)
	addIfUsed(flagMap, usedFlags, "metrics", f.Metrics)

	addIfUsed(flagMap, usedFlags, "cache", f.Cache)
	addIfUsed(flagMap, usedFlags, "root", f.Root)
	addIfUsed(flagMap, usedFlags, "dest", f.Dest)
	addIfUsed(flagMap, usedFlags, "delete", f.Delete)
	addIfUsed(flagMap, usedFlags, "min-size-bytes", f.MinSizeBytes)
	addIfUsed(flagMap, usedFlags, "skip-images", f.SkipImages)
	addIfUsed(flagMap, usedFlags, "keep-marker", f.KeepMarker)
	addIfUsed(flagMap, usedFlags, "verify", f.Verify)
	addIfUsed(flagMap, usedFlags, "hash-workers", f.HashWorkers)
	addIfUsed(flagMap, usedFlags, "buffer-size-kb", f.BufferSizeKB)
	addIfUsed(flagMap, usedFlags, "report", f.Report)
	addIfUsed(flagMap, usedFlags, "report-format", f.ReportFormat)

	addIfUsed(flagMap, usedFlags, "prune", f.Prune)
	addIfUsed(flagMap, usedFlags, "clear", f.Clear)
	addIfUsed(flagMap, usedFlags, "side", f.Side)

	addIfUsed(flagMap, usedFlags, "force", f.Force)
	addIfUsed(flagMap, usedFlags, "default", f.Default)

	addParsedIfUsed(flagMap, usedFlags, "image-extensions", f.ImageExtensions, ParseExtensionList)

	return flagMap, nil
}

// addIfUsed adds the value of ptr to flagMap if ptr is not nil and the flag was set.
func addIfUsed[T any](flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *T) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = *ptr
	}
}

// addParsedIfUsed adds the parsed value of ptr to flagMap if ptr is not nil and the flag was set.
func addParsedIfUsed(flagMap map[string]interface{}, usedFlags map[string]bool, name string, ptr *string, parser func(string) []string) {
	if ptr != nil && usedFlags[name] {
		flagMap[name] = parser(*ptr)
	}
}

// ParseExtensionList parses a comma-separated list of file extensions,
// normalizing each to lowercase with a leading dot.
func ParseExtensionList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

// printTopLevelUsage prints the main help message.
func printTopLevelUsage(fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A fast cross-platform duplicate file finder.\n\n")
	fmt.Fprintf(fs.Output(), "Usage: %s <command> [flags]\n\n", execName)
	fmt.Fprintf(fs.Output(), "Commands:\n")
	fmt.Fprintf(fs.Output(), "  dedup       Find and resolve duplicates within one tree\n")
	fmt.Fprintf(fs.Output(), "  crossdedup  Find destination files whose content exists in the source tree\n")
	fmt.Fprintf(fs.Output(), "  cache       Inspect or maintain the identity cache\n")
	fmt.Fprintf(fs.Output(), "  init        Initialize a new configuration\n")
	fmt.Fprintf(fs.Output(), "  version     Print the application version\n")
	fmt.Fprintf(fs.Output(), "\nRun '%s <command> -help' for more information on a command.\n", execName)
}

// printSubcommandUsage prints the help message for a specific subcommand.
func printSubcommandUsage(command Command, desc string, fs *flag.FlagSet) {
	execName := filepath.Base(os.Args[0])
	fmt.Fprintf(fs.Output(), "%s(%s) ", buildinfo.Name, buildinfo.Version)
	fmt.Fprintf(fs.Output(), "A fast cross-platform duplicate file finder.\n\n")
	fmt.Fprintf(fs.Output(), "Usage of the %s command: %s %s [flags]\n\n", command, execName, command)
	fmt.Fprintf(fs.Output(), "%s\n\n", desc)
	fmt.Fprintf(fs.Output(), "Flags:\n")
	fs.PrintDefaults()
}

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kmichels/imageintact-engine/internal/core"
)

// destArg collects repeatable --dest flags into DestinationConfigs. Each
// value is an absolute path, optionally suffixed with ",network" to mark
// the destination as network-mounted (caps its worker pool, spec §4.5).
type destArg []core.DestinationConfig

func (d *destArg) String() string {
	paths := make([]string, len(*d))
	for i, dc := range *d {
		paths[i] = dc.Root
	}

	return strings.Join(paths, ",")
}

func (d *destArg) Set(value string) error {
	parts := strings.Split(value, ",")
	path := filepath.Clean(strings.TrimSpace(parts[0]))

	network := false
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "network" {
			network = true
		}
	}

	*d = append(*d, core.DestinationConfig{
		Name:           filepath.Base(path),
		Root:           path,
		NetworkMounted: network,
	})

	return nil
}

// parseFilter maps the --filter flag value to a core.TypeFilter.
func parseFilter(value string) (core.TypeFilter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return core.TypeFilter{Kind: core.FilterAllFiles}, nil
	case "photos":
		return core.TypeFilter{Kind: core.FilterPhotosOnly}, nil
	case "raw":
		return core.TypeFilter{Kind: core.FilterRawOnly}, nil
	case "videos":
		return core.TypeFilter{Kind: core.FilterVideosOnly}, nil
	default:
		return core.TypeFilter{}, fmt.Errorf("%w: %q", errArgInvalidFilter, value)
	}
}

// setFlagNames returns the set of flag names explicitly passed on the
// command line, so yaml-sourced values only fill in what wasn't set.
func setFlagNames(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	return set
}

func parseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return defaultLogLevel, errArgInvalidLogLevel
	}
}

// userConfigDir returns the OS-appropriate per-user configuration
// directory, used to default --event-db when unset.
func (prog *program) userConfigDir() (string, error) {
	return os.UserConfigDir()
}

// dirOf returns the parent directory of path.
func dirOf(path string) string {
	return filepath.Dir(path)
}

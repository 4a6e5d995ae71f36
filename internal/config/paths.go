package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	appDir     = ".navext"
	configFile = "config.toml"

	defaultInterval     = 60 * time.Minute
	defaultRecentWindow = 24 * time.Hour
)

func DefaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, appDir, configFile)
	}
	return filepath.Join(appDir, configFile)
}

// ExpandPath resolves a leading "~" and $VAR references. Unset variables
// expand to the empty string, as in a shell.
func ExpandPath(path string) (string, error) {
	path = os.ExpandEnv(strings.TrimSpace(path))
	if path == "" {
		return "", errors.New("empty path")
	}
	rest, tilde := strings.CutPrefix(path, "~")
	if !tilde || (rest != "" && rest[0] != '/' && rest[0] != filepath.Separator) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, rest), nil
}

func resolveDir(p string) (string, error) {
	expanded, err := ExpandPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}

func ResolveStorageRoot(cfg Config) (string, error) { return resolveDir(cfg.Storage.Root) }

func ResolveSourcePath(cfg Config) (string, error) { return resolveDir(cfg.Source.Path) }

// ScanInterval returns the periodic scan interval. Validate guarantees it parses.
func ScanInterval(cfg Config) time.Duration {
	return parseOr(cfg.Scan.Interval, defaultInterval, false)
}

func RecentWindow(cfg Config) time.Duration {
	return parseOr(cfg.Scoring.RecentWindow, defaultRecentWindow, true)
}

func parseOr(v string, fallback time.Duration, zeroOK bool) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 || (d == 0 && !zeroOK) {
		return fallback
	}
	return d
}

package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Options tune how enumerators interpret what they read.
type Options struct {
	// TrustedUpdateDomain identifies store-served update URLs.
	TrustedUpdateDomain string
}

// Open returns the enumerator for a configured source kind.
func Open(kind, path string, opts Options) (Enumerator, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("SRC_PATH: source path is required")
	}
	switch kind {
	case KindInventory, "":
		return &InventoryFile{Path: path, now: time.Now}, nil
	case KindProfile:
		return &ProfileDir{Root: path, TrustedUpdateDomain: opts.TrustedUpdateDomain, now: time.Now}, nil
	default:
		return nil, fmt.Errorf("SRC_PROVIDER: unsupported source kind %q", kind)
	}
}

// WatchPath is the filesystem path whose changes should trigger a rescan.
func WatchPath(kind, path string) string {
	if kind == KindProfile {
		return filepath.Join(path, "Extensions")
	}
	return path
}

func readFile(path string) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, path)
		}
		return nil, fmt.Errorf("SRC_READ: %w", err)
	}
	return blob, nil
}

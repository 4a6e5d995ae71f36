package config

import (
	"fmt"
	"strings"
)

// SetSource points the config at a new extension source.
func SetSource(cfg *Config, kind, path string) error {
	if cfg == nil {
		return fmt.Errorf("SRC_CONFIG_SOURCE: nil config")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("SRC_CONFIG_SOURCE: empty source path")
	}
	next := *cfg
	next.Source = SourceConfig{Kind: kind, Path: path}
	next = Normalize(next)
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// SetScanSchedule records the scan mode and interval chosen by the scheduler.
func SetScanSchedule(cfg *Config, mode, interval string) error {
	if cfg == nil {
		return fmt.Errorf("DOC_CONFIG_SCAN: nil config")
	}
	next := *cfg
	next.Scan.Mode = mode
	if interval != "" {
		next.Scan.Interval = interval
	}
	next = Normalize(next)
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = next
	return nil
}

// HasSelfPermission reports whether the auditor was granted perm.
func HasSelfPermission(cfg Config, perm string) bool {
	for _, p := range cfg.Self.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

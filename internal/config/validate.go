package config

import (
	"fmt"
	"strings"
	"time"
)

var allowedSourceKinds = map[string]struct{}{
	"inventory": {},
	"profile":   {},
}

var allowedBackends = map[string]struct{}{
	"file":   {},
	"sqlite": {},
}

var allowedSinks = map[string]struct{}{
	"log":     {},
	"audit":   {},
	"command": {},
}

var allowedLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func Validate(cfg Config) error {
	if cfg.Version != SchemaVersion {
		return fmt.Errorf("DOC_CONFIG_VERSION: unsupported version %d", cfg.Version)
	}
	if strings.TrimSpace(cfg.Self.ID) == "" {
		return fmt.Errorf("DOC_CONFIG_SELF: missing self id")
	}
	if _, ok := allowedSourceKinds[cfg.Source.Kind]; !ok {
		return fmt.Errorf("SRC_CONFIG_SOURCE: unsupported source kind %q", cfg.Source.Kind)
	}
	if strings.TrimSpace(cfg.Source.Path) == "" {
		return fmt.Errorf("SRC_CONFIG_SOURCE: %s source missing path", cfg.Source.Kind)
	}
	if cfg.Scan.Mode != DefaultScanModeOff && cfg.Scan.Mode != DefaultScanModeSystem {
		return fmt.Errorf("DOC_CONFIG_SCAN: invalid scan mode %q", cfg.Scan.Mode)
	}
	if d, err := time.ParseDuration(cfg.Scan.Interval); err != nil || d < time.Minute {
		return fmt.Errorf("DOC_CONFIG_SCAN: interval %q must be a duration of at least 1m", cfg.Scan.Interval)
	}
	if _, err := time.ParseDuration(cfg.Scoring.RecentWindow); err != nil {
		return fmt.Errorf("DOC_CONFIG_SCORING: invalid recent_window %q", cfg.Scoring.RecentWindow)
	}
	if cfg.Scoring.RecentUpdateWeight < 0 || cfg.Scoring.ExternalMessageWeight < 0 {
		return fmt.Errorf("DOC_CONFIG_SCORING: weights must not be negative")
	}
	if cfg.Storage.Root == "" {
		return fmt.Errorf("DOC_CONFIG_STORAGE: missing storage root")
	}
	if _, ok := allowedBackends[cfg.Storage.Backend]; !ok {
		return fmt.Errorf("DOC_CONFIG_STORAGE: unsupported backend %q", cfg.Storage.Backend)
	}
	if cfg.Logging.Level == "" || cfg.Logging.Format == "" {
		return fmt.Errorf("DOC_CONFIG_LOGGING: missing logging level/format")
	}
	if _, ok := allowedLevels[strings.ToLower(cfg.Logging.Level)]; !ok {
		return fmt.Errorf("DOC_CONFIG_LOGGING: invalid level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("DOC_CONFIG_LOGGING: invalid format %q", cfg.Logging.Format)
	}
	for _, s := range cfg.Notify.Sinks {
		if _, ok := allowedSinks[s]; !ok {
			return fmt.Errorf("DOC_CONFIG_NOTIFY: unknown sink %q", s)
		}
		if s == "command" && strings.TrimSpace(cfg.Notify.Command) == "" {
			return fmt.Errorf("DOC_CONFIG_NOTIFY: command sink requires notify.command")
		}
	}
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		return fmt.Errorf("DOC_CONFIG_SERVER: missing listen address")
	}
	return nil
}

package config

import "strings"

func Normalize(cfg Config) Config {
	if cfg.Version == 0 {
		cfg.Version = SchemaVersion
	}
	if cfg.Self.ID == "" {
		cfg.Self.ID = DefaultSelfID
	}
	if cfg.Self.Permissions == nil {
		cfg.Self.Permissions = append([]string(nil), DefaultSelfPermissions...)
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = DefaultSourceKind
	}
	if cfg.Source.Path == "" && cfg.Source.Kind == DefaultSourceKind {
		cfg.Source.Path = DefaultInventoryFile
	}
	if cfg.Scan.Mode == "" {
		cfg.Scan.Mode = DefaultScanModeOff
	}
	if cfg.Scan.Interval == "" {
		cfg.Scan.Interval = DefaultScanInterval
	}
	if cfg.Scan.TrustedUpdateDomain == "" {
		cfg.Scan.TrustedUpdateDomain = DefaultTrustedDomain
	}
	if cfg.Scoring.RecentWindow == "" {
		cfg.Scoring.RecentWindow = DefaultRecentWindow
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = DefaultStorageRoot
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Notify.Sinks == nil {
		cfg.Notify.Sinks = []string{"log", "audit"}
	}
	for i := range cfg.Notify.Sinks {
		cfg.Notify.Sinks[i] = strings.ToLower(strings.TrimSpace(cfg.Notify.Sinks[i]))
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	return cfg
}

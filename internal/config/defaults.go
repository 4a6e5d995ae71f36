package config

const (
	SchemaVersion = 1

	DefaultSelfID         = "navext"
	DefaultScanInterval   = "60m"
	DefaultRecentWindow   = "24h"
	DefaultTrustedDomain  = "google.com"
	DefaultStorageRoot    = "~/.navext"
	DefaultStorageBackend = "file"
	DefaultListen         = "127.0.0.1:7717"
	DefaultInventoryFile  = "~/.navext/inventory.json"
	DefaultSourceKind     = "inventory"
	DefaultScanModeOff    = "off"
	DefaultScanModeSystem = "system"
)

// DefaultSelfPermissions mirrors what the auditor requests at install time.
var DefaultSelfPermissions = []string{"management", "notifications", "storage", "alarms"}

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Self: SelfConfig{
			ID:          DefaultSelfID,
			Permissions: append([]string(nil), DefaultSelfPermissions...),
		},
		Source: SourceConfig{
			Kind: DefaultSourceKind,
			Path: DefaultInventoryFile,
		},
		Scan: ScanConfig{
			Mode:                DefaultScanModeOff,
			Interval:            DefaultScanInterval,
			TrustedUpdateDomain: DefaultTrustedDomain,
		},
		Scoring: ScoringConfig{
			RecentWindow: DefaultRecentWindow,
		},
		Storage: StorageConfig{
			Root:    DefaultStorageRoot,
			Backend: DefaultStorageBackend,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Notify: NotifyConfig{
			Sinks: []string{"log", "audit"},
		},
		Server: ServerConfig{
			Listen: DefaultListen,
		},
	}
}

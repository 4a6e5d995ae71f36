package config

// Config is the frozen v1 global schema.
type Config struct {
	Version int           `toml:"version"`
	Self    SelfConfig    `toml:"self"`
	Source  SourceConfig  `toml:"source"`
	Scan    ScanConfig    `toml:"scan"`
	Scoring ScoringConfig `toml:"scoring"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Notify  NotifyConfig  `toml:"notify"`
	Server  ServerConfig  `toml:"server"`
}

// SelfConfig identifies the auditor among the enumerated extensions and
// lists the capabilities it has been granted.
type SelfConfig struct {
	ID          string   `toml:"id" json:"id"`
	Permissions []string `toml:"permissions" json:"permissions"`
}

type SourceConfig struct {
	Kind string `toml:"kind" json:"kind"`
	Path string `toml:"path" json:"path"`
}

type ScanConfig struct {
	Mode                string `toml:"mode" json:"mode"`
	Interval            string `toml:"interval" json:"interval"`
	TrustedUpdateDomain string `toml:"trusted_update_domain" json:"trustedUpdateDomain"`
}

// ScoringConfig weights the behavior signals. Zero weights leave the
// behavior sub-score at zero.
type ScoringConfig struct {
	RecentUpdateWeight    int    `toml:"recent_update_weight" json:"recentUpdateWeight"`
	ExternalMessageWeight int    `toml:"external_message_weight" json:"externalMessageWeight"`
	RecentWindow          string `toml:"recent_window" json:"recentWindow"`
}

type StorageConfig struct {
	Root    string `toml:"root"`
	Backend string `toml:"backend"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type NotifyConfig struct {
	Sinks   []string `toml:"sinks" json:"sinks"`
	Command string   `toml:"command,omitempty" json:"command,omitempty"`
}

type ServerConfig struct {
	Listen string `toml:"listen" json:"listen"`
}

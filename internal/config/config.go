package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"navext/internal/fsutil"
)

const fileHeader = "# navext configuration. Edit with care; unknown keys are rejected.\n\n"

// Ensure loads path, writing the default document first if it does not exist.
func Ensure(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}
	cfg = DefaultConfig()
	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := decode(data)
	if err != nil {
		return Config{}, err
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte) (Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			keys := make([]string, 0, len(strict.Errors))
			for _, e := range strict.Errors {
				keys = append(keys, strings.Join(e.Key(), "."))
			}
			return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: unknown keys %s", strings.Join(keys, ", "))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: line %d column %d: %w", row, col, err)
		}
		return Config{}, fmt.Errorf("DOC_CONFIG_PARSE: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg Config) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return err
	}
	return fsutil.Replace(path, 0o644, func(w io.Writer) error {
		if _, err := io.WriteString(w, fileHeader); err != nil {
			return err
		}
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("DOC_CONFIG_ENCODE: %w", err)
		}
		return nil
	})
}

// Environment overrides, applied on top of the file for a single run and
// never written back.
const (
	EnvStorageRoot    = "NAVEXT_STORAGE_ROOT"
	EnvStorageBackend = "NAVEXT_STORAGE_BACKEND"
	EnvSourcePath     = "NAVEXT_SOURCE_PATH"
	EnvLogLevel       = "NAVEXT_LOG_LEVEL"
	EnvListen         = "NAVEXT_LISTEN"
)

// ApplyEnv returns cfg with any NAVEXT_* overrides applied.
func ApplyEnv(cfg Config) (Config, error) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	next := cfg
	next.Self.Permissions = append([]string(nil), cfg.Self.Permissions...)
	next.Notify.Sinks = append([]string(nil), cfg.Notify.Sinks...)
	set(&next.Storage.Root, EnvStorageRoot)
	set(&next.Storage.Backend, EnvStorageBackend)
	set(&next.Source.Path, EnvSourcePath)
	set(&next.Logging.Level, EnvLogLevel)
	set(&next.Server.Listen, EnvListen)
	next = Normalize(next)
	if err := Validate(next); err != nil {
		return Config{}, fmt.Errorf("DOC_CONFIG_ENV: %w", err)
	}
	return next, nil
}

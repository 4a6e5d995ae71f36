package doctor

import (
	"context"
	"os"

	"navext/internal/config"
	"navext/internal/inventory"
	"navext/internal/kv"
	"navext/internal/source"
	"navext/internal/store"
)

type Finding struct {
	Code    string `json:"code"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type Report struct {
	Healthy    bool      `json:"healthy"`
	Findings   []Finding `json:"findings"`
	Extensions int       `json:"extensions"`
}

type Service struct {
	ConfigPath string
}

func (s *Service) Run(ctx context.Context) Report {
	findings := []Finding{}
	add := func(code, level, msg string) {
		findings = append(findings, Finding{Code: code, Level: level, Message: msg})
	}

	var cfg config.Config
	if _, err := os.Stat(s.ConfigPath); err != nil {
		add("DOC_CONFIG_MISSING", "error", err.Error())
		return finish(findings, 0)
	} else if cfg, err = config.Load(s.ConfigPath); err != nil {
		add("DOC_CONFIG_INVALID", "error", err.Error())
		return finish(findings, 0)
	}

	if root, err := config.ResolveStorageRoot(cfg); err != nil {
		add("DOC_STORAGE", "error", err.Error())
	} else if backend, err := kv.Open(cfg.Storage.Backend, store.BackendPath(cfg.Storage.Backend, root)); err != nil {
		add("DOC_STORAGE", "error", err.Error())
	} else {
		if err := store.New(backend, nil).Load(ctx); err != nil {
			add("DOC_STATE_INVALID", "error", err.Error())
		}
		_ = backend.Close()
	}

	if !config.HasSelfPermission(cfg, inventory.RequiredPermission) {
		add("INV_MISSING_PERMISSION", "warn", "self permissions lack "+inventory.RequiredPermission+"; scans will fail")
	}

	extensions := 0
	path, err := config.ResolveSourcePath(cfg)
	if err != nil {
		add("SRC_PATH", "error", err.Error())
		return finish(findings, 0)
	}
	src, err := source.Open(cfg.Source.Kind, path, source.Options{TrustedUpdateDomain: cfg.Scan.TrustedUpdateDomain})
	if err != nil {
		add("SRC_PROVIDER", "error", err.Error())
		return finish(findings, 0)
	}
	entries, err := src.List(ctx)
	if err != nil {
		add("SRC_UNAVAILABLE", "warn", err.Error())
		return finish(findings, 0)
	}
	for _, e := range entries {
		if e.Err != nil {
			add("SRC_ITEM_DECODE", "warn", e.ID+": "+e.Err.Error())
			continue
		}
		if e.IsExtension() {
			extensions++
		}
	}
	if cfg.Scan.Mode == config.DefaultScanModeOff {
		add("DOC_SCHEDULE_OFF", "info", "periodic checks are not scheduled")
	}
	return finish(findings, extensions)
}

func finish(findings []Finding, extensions int) Report {
	healthy := true
	for _, f := range findings {
		if f.Level == "error" {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Findings: findings, Extensions: extensions}
}

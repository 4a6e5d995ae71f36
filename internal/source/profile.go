package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"navext/internal/extension"
)

// ProfileDir enumerates a Chromium profile's unpacked extension store:
// <root>/Extensions/<id>/<version>_<n>/manifest.json. When several version
// directories exist the newest wins. An update URL on TrustedUpdateDomain
// marks a store install; anything else is a sideload.
type ProfileDir struct {
	Root                string
	TrustedUpdateDomain string
	now                 func() time.Time
}

type manifest struct {
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	ManifestVersion int             `json:"manifest_version"`
	DefaultLocale   string          `json:"default_locale"`
	Permissions     []any           `json:"permissions"`
	HostPermissions []string        `json:"host_permissions"`
	HomepageURL     *string         `json:"homepage_url"`
	UpdateURL       *string         `json:"update_url"`
	Theme           json.RawMessage `json:"theme"`
	App             *struct {
		Launch *struct {
			WebURL string `json:"web_url"`
		} `json:"launch"`
		Background json.RawMessage `json:"background"`
	} `json:"app"`
}

func (p *ProfileDir) List(ctx context.Context) ([]extension.Entry, error) {
	dir := filepath.Join(p.Root, "Extensions")
	ids, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, dir)
		}
		return nil, fmt.Errorf("SRC_READ: %w", err)
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	stamp := now().UTC()
	var out []extension.Entry
	for _, d := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") || d.Name() == "Temp" {
			continue
		}
		entry, ok := p.readExtension(filepath.Join(dir, d.Name()), d.Name())
		if !ok {
			continue
		}
		entry.LastChecked = stamp
		out = append(out, entry)
	}
	return out, nil
}

func (p *ProfileDir) readExtension(dir, id string) (extension.Entry, bool) {
	versions, err := os.ReadDir(dir)
	if err != nil {
		return extension.Entry{Record: extension.Record{ID: id}, Err: fmt.Errorf("SRC_READ: %w", err)}, true
	}
	var names []string
	for _, v := range versions {
		if v.IsDir() {
			names = append(names, v.Name())
		}
	}
	if len(names) == 0 {
		return extension.Entry{}, false
	}
	sort.Slice(names, func(i, j int) bool {
		return extension.CompareVersions(trimInstallSuffix(names[i]), trimInstallSuffix(names[j])) > 0
	})
	versionDir := filepath.Join(dir, names[0])
	blob, err := os.ReadFile(filepath.Join(versionDir, "manifest.json"))
	if err != nil {
		return extension.Entry{Record: extension.Record{ID: id}, Err: fmt.Errorf("SRC_READ: %w", err)}, true
	}
	var m manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return extension.Entry{Record: extension.Record{ID: id}, Err: fmt.Errorf("SRC_ITEM_DECODE: %s: %w", id, err)}, true
	}

	rec := extension.Record{
		ID:          id,
		Name:        localize(versionDir, m.DefaultLocale, m.Name),
		Version:     m.Version,
		Enabled:     true,
		MayDisable:  true,
		HomepageURL: m.HomepageURL,
		UpdateURL:   m.UpdateURL,
		InstallType: extension.InstallSideload,
	}
	if m.UpdateURL != nil && extension.UpdatesFrom(*m.UpdateURL, p.TrustedUpdateDomain) {
		rec.InstallType = extension.InstallStore
	}
	// Manifest v2 lists host patterns among permissions; object entries are
	// socket/usb grants and carry no name.
	for _, raw := range m.Permissions {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if isHostPattern(s) {
			rec.HostPermissions = append(rec.HostPermissions, s)
		} else {
			rec.Permissions = append(rec.Permissions, s)
		}
	}
	rec.HostPermissions = extension.Set(append(rec.HostPermissions, m.HostPermissions...))
	rec.Permissions = extension.Set(rec.Permissions)
	return extension.Entry{Record: rec, Type: itemType(m)}, true
}

func itemType(m manifest) extension.ItemType {
	switch {
	case len(m.Theme) > 0:
		return extension.TypeTheme
	case m.App != nil && m.App.Launch != nil && m.App.Launch.WebURL != "":
		return extension.TypeHostedApp
	case m.App != nil && len(m.App.Background) > 0:
		return extension.TypePackagedApp
	case m.App != nil:
		return extension.TypeLegacyPackagedApp
	default:
		return extension.TypeExtension
	}
}

func isHostPattern(s string) bool {
	return s == "<all_urls>" || strings.Contains(s, "://")
}

func trimInstallSuffix(v string) string {
	if i := strings.LastIndex(v, "_"); i > 0 {
		return v[:i]
	}
	return v
}

// localize resolves "__MSG_key__" names from _locales/<locale>/messages.json.
func localize(dir, locale, name string) string {
	if !strings.HasPrefix(name, "__MSG_") || !strings.HasSuffix(name, "__") || locale == "" {
		return name
	}
	key := strings.TrimSuffix(strings.TrimPrefix(name, "__MSG_"), "__")
	blob, err := os.ReadFile(filepath.Join(dir, "_locales", locale, "messages.json"))
	if err != nil {
		return name
	}
	var messages map[string]struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(blob, &messages); err != nil {
		return name
	}
	for k, v := range messages {
		if strings.EqualFold(k, key) && v.Message != "" {
			return v.Message
		}
	}
	return name
}

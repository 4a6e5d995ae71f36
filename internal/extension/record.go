package extension

import (
	"fmt"
	"strings"
	"time"
)

// InstallType records how an extension reached the browser.
type InstallType string

const (
	InstallStore       InstallType = "store"
	InstallDevelopment InstallType = "development"
	InstallSideload    InstallType = "sideload"
	InstallOther       InstallType = "other"
)

// DefaultTrustedUpdateDomain marks update URLs served by the official store.
const DefaultTrustedUpdateDomain = "google.com"

// UpdatesFrom reports whether updateURL is served from domain. An empty
// domain means DefaultTrustedUpdateDomain.
func UpdatesFrom(updateURL, domain string) bool {
	if domain == "" {
		domain = DefaultTrustedUpdateDomain
	}
	return strings.Contains(updateURL, domain)
}

// ParseInstallType maps platform install types onto the four audited kinds.
// The management API reports store installs as "normal".
func ParseInstallType(s string) InstallType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "store", "normal":
		return InstallStore
	case "development":
		return InstallDevelopment
	case "sideload":
		return InstallSideload
	default:
		return InstallOther
	}
}

func (t *InstallType) UnmarshalText(b []byte) error {
	*t = ParseInstallType(string(b))
	return nil
}

// ItemType distinguishes extensions from themes and apps in an enumeration.
type ItemType string

const (
	TypeExtension         ItemType = "extension"
	TypeTheme             ItemType = "theme"
	TypeHostedApp         ItemType = "hosted_app"
	TypePackagedApp       ItemType = "packaged_app"
	TypeLegacyPackagedApp ItemType = "legacy_packaged_app"
	TypeLoginScreen       ItemType = "login_screen_extension"
)

// Record is the last observed snapshot of one extension.
//
// HomepageURL and UpdateURL are pointers so that an absent value can be told
// apart from an empty one.
type Record struct {
	ID              string      `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Version         string      `json:"version" yaml:"version"`
	Enabled         bool        `json:"enabled" yaml:"enabled"`
	Permissions     []string    `json:"permissions" yaml:"permissions"`
	HostPermissions []string    `json:"hostPermissions" yaml:"hostPermissions"`
	InstallType     InstallType `json:"installType" yaml:"installType"`
	MayDisable      bool        `json:"mayDisable" yaml:"mayDisable"`
	HomepageURL     *string     `json:"homepageUrl,omitempty" yaml:"homepageUrl,omitempty"`
	UpdateURL       *string     `json:"updateUrl,omitempty" yaml:"updateUrl,omitempty"`
	LastChecked     time.Time   `json:"lastChecked" yaml:"lastChecked"`
}

// Entry is one item returned by an enumerator. Err is set when the item could
// not be decoded; the Record then carries whatever identity was recoverable.
type Entry struct {
	Record
	Type ItemType `json:"type" yaml:"type"`
	Err  error    `json:"-" yaml:"-"`
}

// IsExtension reports whether the entry is an extension rather than a theme or app.
// Entries with no declared type are treated as extensions.
func (e Entry) IsExtension() bool {
	return e.Type == "" || e.Type == TypeExtension
}

// Validate checks that the record is structurally usable for analysis.
func Validate(rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("EXT_RECORD_SCHEMA: missing id")
	}
	for _, p := range rec.Permissions {
		if p == "" {
			return fmt.Errorf("EXT_RECORD_SCHEMA: %s has an empty permission", rec.ID)
		}
	}
	for _, h := range rec.HostPermissions {
		if h == "" {
			return fmt.Errorf("EXT_RECORD_SCHEMA: %s has an empty host pattern", rec.ID)
		}
	}
	return nil
}

// Set returns items with duplicates removed, keeping first-seen order.
func Set(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// Difference returns the members of a that are not in b, in a's order.
func Difference(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, v := range b {
		in[v] = struct{}{}
	}
	var out []string
	for _, v := range Set(a) {
		if _, ok := in[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Permissions = append([]string(nil), r.Permissions...)
	out.HostPermissions = append([]string(nil), r.HostPermissions...)
	if r.HomepageURL != nil {
		v := *r.HomepageURL
		out.HomepageURL = &v
	}
	if r.UpdateURL != nil {
		v := *r.UpdateURL
		out.UpdateURL = &v
	}
	return out
}

// StringPtr is a convenience for optional record fields.
func StringPtr(s string) *string {
	return &s
}

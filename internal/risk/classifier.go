package risk

import "strings"

// Tier is the risk bucket assigned to a single permission.
type Tier int

const (
	TierNone Tier = iota
	TierSensitive
	TierDangerous
)

func (t Tier) String() string {
	switch t {
	case TierDangerous:
		return "dangerous"
	case TierSensitive:
		return "sensitive"
	default:
		return "none"
	}
}

// HostClass is the breadth bucket assigned to a host-permission pattern.
type HostClass int

const (
	HostSpecific HostClass = iota
	HostBroadWildcard
	HostAllURLs
)

func (c HostClass) String() string {
	switch c {
	case HostAllURLs:
		return "all-urls"
	case HostBroadWildcard:
		return "broad-wildcard"
	default:
		return "specific"
	}
}

var dangerousPermissions = map[string]struct{}{
	"webRequest":         {},
	"webRequestBlocking": {},
	"proxy":              {},
	"cookies":            {},
	"debugger":           {},
	"management":         {},
	"privacy":            {},
	"contentSettings":    {},
	"history":            {},
	"bookmarks":          {},
	"passwords":          {},
}

var sensitivePermissions = map[string]struct{}{
	"tabs":           {},
	"activeTab":      {},
	"storage":        {},
	"notifications":  {},
	"downloads":      {},
	"clipboardRead":  {},
	"clipboardWrite": {},
	"geolocation":    {},
}

var allURLPatterns = map[string]struct{}{
	"<all_urls>":  {},
	"*://*/*":     {},
	"http://*/*":  {},
	"https://*/*": {},
}

var permissionDescriptions = map[string]string{
	"webRequest":         "Can intercept and analyze all web traffic",
	"webRequestBlocking": "Can block or modify web requests",
	"cookies":            "Can access your cookies and session data",
	"history":            "Can read your browsing history",
	"bookmarks":          "Can read and modify your bookmarks",
	"tabs":               "Can see all your open tabs and their URLs",
	"storage":            "Can store data locally",
	"management":         "Can manage other extensions",
	"proxy":              "Can control proxy settings",
	"debugger":           "Can debug and control browser",
	"downloads":          "Can manage your downloads",
	"notifications":      "Can show system notifications",
	"clipboardRead":      "Can read your clipboard",
	"clipboardWrite":     "Can modify your clipboard",
	"geolocation":        "Can access your location",
	"activeTab":          "Can access the current tab",
	"privacy":            "Can change privacy settings",
	"contentSettings":    "Can change content settings",
	"passwords":          "Can access saved passwords",
}

// ClassifyPermission places a permission name into exactly one tier.
// Matching is exact and case-sensitive; unknown names are TierNone.
func ClassifyPermission(perm string) Tier {
	if _, ok := dangerousPermissions[perm]; ok {
		return TierDangerous
	}
	if _, ok := sensitivePermissions[perm]; ok {
		return TierSensitive
	}
	return TierNone
}

// ClassifyHost places a host-permission pattern into exactly one class.
func ClassifyHost(pattern string) HostClass {
	if _, ok := allURLPatterns[pattern]; ok {
		return HostAllURLs
	}
	if strings.Contains(pattern, "*") {
		return HostBroadWildcard
	}
	return HostSpecific
}

// PermissionDescription returns a one-line explanation of what a permission allows.
func PermissionDescription(perm string) string {
	if d, ok := permissionDescriptions[perm]; ok {
		return d
	}
	return "Has special browser access"
}

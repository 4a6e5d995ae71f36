package risk

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// HostMatcher tests URLs against one compiled host-permission match pattern
// (scheme://host/path, or <all_urls>).
type HostMatcher struct {
	pattern  string
	all      bool
	scheme   string
	host     glob.Glob
	bareHost string
	path     glob.Glob
}

// CompileHostPattern parses a match pattern such as "*://*.example.com/*".
func CompileHostPattern(pattern string) (*HostMatcher, error) {
	m := &HostMatcher{pattern: pattern}
	if pattern == "<all_urls>" {
		m.all = true
		return m, nil
	}
	scheme, rest, ok := strings.Cut(pattern, "://")
	if !ok || scheme == "" {
		return nil, fmt.Errorf("RISK_HOST_PATTERN: %q missing scheme", pattern)
	}
	m.scheme = strings.ToLower(scheme)

	host, path := rest, "/*"
	if i := strings.Index(rest, "/"); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	host = strings.ToLower(host)
	if host == "" && m.scheme != "file" {
		return nil, fmt.Errorf("RISK_HOST_PATTERN: %q missing host", pattern)
	}
	if host == "" {
		host = "*"
	}
	g, err := glob.Compile(host)
	if err != nil {
		return nil, fmt.Errorf("RISK_HOST_PATTERN: %q: %w", pattern, err)
	}
	m.host = g
	// "*.example.com" also covers the bare domain.
	if strings.HasPrefix(host, "*.") {
		m.bareHost = strings.TrimPrefix(host, "*.")
	}
	pg, err := glob.Compile(path)
	if err != nil {
		return nil, fmt.Errorf("RISK_HOST_PATTERN: %q: %w", pattern, err)
	}
	m.path = pg
	return m, nil
}

func (m *HostMatcher) String() string { return m.pattern }

// Matches reports whether the pattern grants access to rawURL.
func (m *HostMatcher) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if m.all {
		return scheme == "http" || scheme == "https" || scheme == "file" || scheme == "ws" || scheme == "wss" || scheme == "ftp"
	}
	switch m.scheme {
	case "*":
		if scheme != "http" && scheme != "https" {
			return false
		}
	default:
		if scheme != m.scheme {
			return false
		}
	}
	host := strings.ToLower(u.Hostname())
	if !m.host.Match(host) && (m.bareHost == "" || host != m.bareHost) {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return m.path.Match(path)
}

// MatchingPatterns returns the patterns that grant access to rawURL.
// Patterns that do not compile are skipped.
func MatchingPatterns(patterns []string, rawURL string) []string {
	var out []string
	for _, p := range patterns {
		m, err := CompileHostPattern(p)
		if err != nil {
			continue
		}
		if m.Matches(rawURL) {
			out = append(out, p)
		}
	}
	return out
}

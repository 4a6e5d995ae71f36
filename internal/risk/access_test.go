package risk

import (
	"reflect"
	"testing"
)

func TestHostMatcher(t *testing.T) {
	cases := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"<all_urls>", "https://bank.example/login", true},
		{"<all_urls>", "chrome://settings", false},
		{"*://*/*", "http://anything.example/a/b", true},
		{"*://*/*", "ftp://files.example/", false},
		{"*://*.google.com/*", "https://mail.google.com/u/0", true},
		{"*://*.google.com/*", "https://google.com/", true},
		{"*://*.google.com/*", "https://notgoogle.com/", false},
		{"https://example.com/api/*", "https://example.com/api/v1?x=1", true},
		{"https://example.com/api/*", "https://example.com/other", false},
		{"https://example.com/api/*", "http://example.com/api/v1", false},
		{"https://example.com:8443/*", "https://example.com/", true},
		{"file:///*", "file:///etc/hosts", true},
	}
	for _, tc := range cases {
		m, err := CompileHostPattern(tc.pattern)
		if err != nil {
			t.Fatalf("compile %q: %v", tc.pattern, err)
		}
		if got := m.Matches(tc.url); got != tc.want {
			t.Fatalf("%q matches %q = %v, want %v", tc.pattern, tc.url, got, tc.want)
		}
	}
}

func TestCompileHostPatternRejectsMalformed(t *testing.T) {
	for _, p := range []string{"example.com", "://x/", "https:///path"} {
		if _, err := CompileHostPattern(p); err == nil {
			t.Fatalf("expected error for %q", p)
		}
	}
}

func TestMatchingPatternsSkipsInvalid(t *testing.T) {
	got := MatchingPatterns([]string{"nonsense", "https://a.example/*", "https://b.example/*"}, "https://a.example/x")
	if !reflect.DeepEqual(got, []string{"https://a.example/*"}) {
		t.Fatalf("unexpected matches %v", got)
	}
}

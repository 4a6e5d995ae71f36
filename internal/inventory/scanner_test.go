package inventory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"navext/internal/extension"
	"navext/internal/risk"
	"navext/internal/source"
)

func entry(id string, score int) extension.Entry {
	// Each sensitive permission adds 10; metadata is neutral.
	perms := []string{}
	sensitive := []string{"tabs", "activeTab", "storage", "notifications", "downloads", "clipboardRead", "clipboardWrite", "geolocation"}
	for i := 0; i < score/10; i++ {
		perms = append(perms, sensitive[i])
	}
	return extension.Entry{Record: extension.Record{
		ID:          id,
		Name:        id,
		Enabled:     true,
		Permissions: perms,
		InstallType: extension.InstallStore,
		MayDisable:  true,
		HomepageURL: extension.StringPtr("https://" + id + ".example"),
	}, Type: extension.TypeExtension}
}

func newScanner(entries ...extension.Entry) *Scanner {
	return &Scanner{
		Source:          source.NewStatic(entries...),
		Engine:          risk.NewEngine(risk.Options{}),
		SelfID:          "self",
		SelfPermissions: []string{"management", "storage"},
	}
}

func TestScanAllSortsStableDescending(t *testing.T) {
	s := newScanner(entry("a", 20), entry("b", 40), entry("c", 20), entry("d", 40), entry("e", 0))
	rep, err := s.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var order []string
	for _, a := range rep.Extensions {
		order = append(order, a.ID)
	}
	if strings.Join(order, ",") != "b,d,a,c,e" {
		t.Fatalf("unexpected order %v", order)
	}
	for i := 1; i < len(rep.Extensions); i++ {
		if rep.Extensions[i-1].RiskScore < rep.Extensions[i].RiskScore {
			t.Fatalf("not descending at %d", i)
		}
	}
	if rep.Summary.Total != 5 || rep.Summary.Medium != 2 || rep.Summary.Low != 3 {
		t.Fatalf("unexpected summary %+v", rep.Summary)
	}
}

func TestScanAllExcludesSelfAndNonExtensions(t *testing.T) {
	theme := entry("theme", 0)
	theme.Type = extension.TypeTheme
	app := entry("app", 0)
	app.Type = extension.TypeHostedApp
	s := newScanner(entry("self", 80), theme, app, entry("real", 10))
	rep, err := s.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(rep.Extensions) != 1 || rep.Extensions[0].ID != "real" {
		t.Fatalf("unexpected extensions %+v", rep.Extensions)
	}
}

func TestScanAllIsolatesBadRecords(t *testing.T) {
	bad := extension.Entry{Record: extension.Record{ID: "bad", Name: "Bad"}, Err: errors.New("decode")}
	empty := extension.Entry{Record: extension.Record{Name: "No ID"}}
	high := extension.Entry{Record: extension.Record{ID: "high", Permissions: []string{"webRequest", "webRequestBlocking", "cookies"}}}
	s := newScanner(bad, empty, high)
	rep, err := s.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(rep.Extensions) != 3 {
		t.Fatalf("expected 3 analyses, got %d", len(rep.Extensions))
	}
	if rep.Extensions[0].ID != "high" || rep.Extensions[0].RiskLevel != risk.LevelHigh {
		t.Fatalf("expected high first, got %+v", rep.Extensions[0])
	}
	if rep.Summary.Unknown != 2 || rep.Summary.High != 1 {
		t.Fatalf("unexpected summary %+v", rep.Summary)
	}
	for _, a := range rep.Extensions[1:] {
		if a.RiskLevel != risk.LevelUnknown || a.RiskFactors[0] != risk.FactorAnalysisFailed {
			t.Fatalf("expected unknown analysis, got %+v", a)
		}
	}
}

func TestScanAllRequiresManagement(t *testing.T) {
	s := newScanner(entry("a", 10))
	s.SelfPermissions = []string{"storage"}
	_, err := s.ScanAll(context.Background())
	if !IsMissingPermission(err) {
		t.Fatalf("expected missing permission, got %v", err)
	}
	if !strings.Contains(err.Error(), "INV_MISSING_PERMISSION") {
		t.Fatalf("expected coded error, got %v", err)
	}
}

func TestScanAllMapsSourcePermissionError(t *testing.T) {
	src := source.NewStatic()
	src.SetError(source.ErrPermission)
	s := newScanner()
	s.Source = src
	_, err := s.ScanAll(context.Background())
	if !IsMissingPermission(err) || !errors.Is(err, source.ErrPermission) {
		t.Fatalf("expected wrapped permission error, got %v", err)
	}
}

func TestScanAllWrapsEnumerationFailure(t *testing.T) {
	src := source.NewStatic()
	src.SetError(errors.New("browser gone"))
	s := newScanner()
	s.Source = src
	_, err := s.ScanAll(context.Background())
	if err == nil || IsMissingPermission(err) || !strings.HasPrefix(err.Error(), "INV_ENUMERATE") {
		t.Fatalf("expected INV_ENUMERATE, got %v", err)
	}
}

func TestScanAllUsesSignals(t *testing.T) {
	s := newScanner(entry("a", 0))
	s.Engine = risk.NewEngine(risk.Options{RecentUpdateWeight: 35})
	s.Signals = func(id string) risk.BehaviorSignals { return risk.BehaviorSignals{RecentlyUpdated: id == "a"} }
	rep, err := s.ScanAll(context.Background())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if rep.Extensions[0].RiskLevel != risk.LevelMedium {
		t.Fatalf("expected medium with weighted signal, got %+v", rep.Extensions[0])
	}
}

func TestScanAllEmpty(t *testing.T) {
	rep, err := newScanner().ScanAll(context.Background())
	if err != nil || rep.Extensions == nil || rep.Summary.Total != 0 {
		t.Fatalf("unexpected empty report %+v %v", rep, err)
	}
}

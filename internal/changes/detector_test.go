package changes

import (
	"reflect"
	"testing"

	"navext/internal/extension"
	"navext/internal/history"
	"navext/internal/notify"
	"navext/internal/risk"
)

func record(id, version string, perms ...string) extension.Record {
	return extension.Record{ID: id, Name: "Ext " + id, Version: version, Enabled: true, Permissions: perms, MayDisable: true}
}

func TestDetectEscalation(t *testing.T) {
	d := NewDetector(risk.NewEngine(risk.Options{}))
	prev := map[string]extension.Record{"A": record("A", "1", "storage")}
	rep := d.Detect(prev, []extension.Record{record("A", "1", "storage", "cookies")})

	if len(rep.Escalations) != 1 {
		t.Fatalf("expected one escalation, got %+v", rep.Escalations)
	}
	if !reflect.DeepEqual(rep.Escalations[0].Added, []string{"cookies"}) {
		t.Fatalf("unexpected added %v", rep.Escalations[0].Added)
	}
	if len(rep.NewInstalls) != 0 || len(rep.Updates) != 0 || len(rep.Removed) != 0 {
		t.Fatalf("unexpected extra changes %+v", rep)
	}
	alerts := rep.Alerts()
	if len(alerts) != 1 || alerts[0].Priority != notify.PriorityMedium || alerts[0].Title != TitleEscalation {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	if alerts[0].Body != `"Ext A" added new permissions: cookies` {
		t.Fatalf("unexpected body %q", alerts[0].Body)
	}
}

func TestDetectHighRiskInstall(t *testing.T) {
	d := NewDetector(risk.NewEngine(risk.Options{}))
	rep := d.Detect(map[string]extension.Record{}, []extension.Record{record("B", "1", "webRequest", "webRequestBlocking", "proxy", "cookies")})

	if len(rep.NewInstalls) != 1 || rep.NewInstalls[0].Record.ID != "B" {
		t.Fatalf("expected one new install, got %+v", rep.NewInstalls)
	}
	if rep.NewInstalls[0].Analysis.RiskLevel != risk.LevelHigh {
		t.Fatalf("expected high risk, got %s", rep.NewInstalls[0].Analysis.RiskLevel)
	}
	alerts := rep.Alerts()
	if len(alerts) != 1 || alerts[0].Priority != notify.PriorityHigh {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	if alerts[0].Body != `"Ext B" has dangerous permissions. Click to review.` {
		t.Fatalf("unexpected body %q", alerts[0].Body)
	}
}

func TestLowRiskInstallDoesNotAlert(t *testing.T) {
	d := NewDetector(risk.NewEngine(risk.Options{}))
	rec := record("C", "1", "storage")
	rec.HomepageURL = extension.StringPtr("https://c.example")
	rep := d.Detect(nil, []extension.Record{rec})
	if len(rep.NewInstalls) != 1 || len(rep.Alerts()) != 0 {
		t.Fatalf("expected silent install, got %+v / %+v", rep.NewInstalls, rep.Alerts())
	}
}

func TestUpdatesAreBatched(t *testing.T) {
	d := NewDetector(nil)
	prev := map[string]extension.Record{
		"a": record("a", "1.0.0"),
		"b": record("b", "2.0.0"),
		"c": record("c", "3.0.0"),
	}
	cur := []extension.Record{record("a", "1.1.0"), record("b", "1.9.0"), record("c", "3.0.0")}
	rep := d.Detect(prev, cur)
	if len(rep.Updates) != 2 {
		t.Fatalf("expected 2 updates, got %+v", rep.Updates)
	}
	if rep.Updates[0].Downgrade || !rep.Updates[1].Downgrade {
		t.Fatalf("unexpected downgrade flags %+v", rep.Updates)
	}
	alerts := rep.Alerts()
	if len(alerts) != 1 || alerts[0].Body != "2 extension(s) were updated. Click to review changes." {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
}

func TestAlertOrderHighMediumLow(t *testing.T) {
	d := NewDetector(risk.NewEngine(risk.Options{}))
	prev := map[string]extension.Record{
		"upd": record("upd", "1"),
		"esc": record("esc", "1", "storage"),
	}
	cur := []extension.Record{
		record("upd", "2"),
		record("esc", "1", "storage", "tabs"),
		record("new", "1", "webRequest", "webRequestBlocking", "cookies"),
	}
	var got []notify.Priority
	for _, a := range d.Detect(prev, cur).Alerts() {
		got = append(got, a.Priority)
	}
	want := []notify.Priority{notify.PriorityHigh, notify.PriorityMedium, notify.PriorityLow}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("priorities = %v, want %v", got, want)
	}
}

func TestEscalationKeepsCurrentOrder(t *testing.T) {
	d := NewDetector(nil)
	prev := map[string]extension.Record{"a": record("a", "1", "tabs")}
	rep := d.Detect(prev, []extension.Record{record("a", "1", "proxy", "tabs", "cookies", "proxy")})
	if !reflect.DeepEqual(rep.Escalations[0].Added, []string{"proxy", "cookies"}) {
		t.Fatalf("unexpected order %v", rep.Escalations[0].Added)
	}
}

func TestRemovalAndDuplicates(t *testing.T) {
	d := NewDetector(nil)
	prev := map[string]extension.Record{"gone": record("gone", "1"), "kept": record("kept", "1")}
	rep := d.Detect(prev, []extension.Record{record("kept", "1"), record("kept", "2")})
	if len(rep.Removed) != 1 || rep.Removed[0].ID != "gone" {
		t.Fatalf("unexpected removals %+v", rep.Removed)
	}
	if len(rep.Updates) != 0 {
		t.Fatalf("duplicate should be ignored, got %+v", rep.Updates)
	}
}

func TestPermissionRemovalIsNotEscalation(t *testing.T) {
	d := NewDetector(nil)
	prev := map[string]extension.Record{"a": record("a", "1", "tabs", "cookies")}
	rep := d.Detect(prev, []extension.Record{record("a", "1", "tabs")})
	if !rep.Empty() {
		t.Fatalf("expected empty report, got %+v", rep)
	}
}

func TestDriftedAndEvents(t *testing.T) {
	d := NewDetector(nil)
	prev := map[string]extension.Record{"a": record("a", "1", "tabs"), "gone": record("gone", "1")}
	cur := []extension.Record{record("a", "2", "tabs", "cookies"), record("n", "1")}
	rep := d.Detect(prev, cur)

	drifted := rep.Drifted()
	if len(drifted) != 1 || drifted[0].ID != "a" || drifted[0].Version != "2" {
		t.Fatalf("unexpected drifted %+v", drifted)
	}
	var kinds []history.Kind
	for _, ev := range rep.Events("alarm") {
		kinds = append(kinds, ev.Kind)
		if ev.Source != "alarm" {
			t.Fatalf("expected source on %+v", ev)
		}
	}
	want := []history.Kind{history.KindInstalled, history.KindEscalated, history.KindUpdated, history.KindRemoved}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
}

func TestSignalsFeedInstallAnalysis(t *testing.T) {
	d := &Detector{
		Engine:  risk.NewEngine(risk.Options{ExternalMessageWeight: 10}),
		Signals: func(id string) risk.BehaviorSignals { return risk.BehaviorSignals{MessageCount: 3} },
	}
	rep := d.Detect(nil, []extension.Record{record("s", "1")})
	if got := rep.NewInstalls[0].Analysis.Analysis.Behavior.Score; got != 10 {
		t.Fatalf("expected behavior score 10, got %d", got)
	}
}

func TestSingleEscalation(t *testing.T) {
	d := NewDetector(nil)
	if _, ok := d.Escalation(record("a", "1", "tabs"), record("a", "1", "tabs")); ok {
		t.Fatalf("no escalation expected")
	}
	e, ok := d.Escalation(record("a", "1", "tabs"), record("a", "1", "tabs", "history"))
	if !ok || !reflect.DeepEqual(e.Added, []string{"history"}) {
		t.Fatalf("unexpected escalation %+v", e)
	}
	if EscalationAlert(e).Priority != notify.PriorityMedium {
		t.Fatalf("expected medium priority")
	}
}

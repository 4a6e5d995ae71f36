package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func logPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "history.jsonl")
}

func TestAppendNilAndEmpty(t *testing.T) {
	var nilLog *Log
	if err := nilLog.Append(Event{ExtensionID: "a"}); err != nil {
		t.Fatalf("nil receiver Append: %v", err)
	}
	if err := New("").Append(Event{ExtensionID: "a"}); err != nil {
		t.Fatalf("empty-path Append: %v", err)
	}
	got, err := New("").Query(Filter{})
	if err != nil || got != nil {
		t.Fatalf("expected nil query on empty path, got %v %v", got, err)
	}
}

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	l := New(logPath(t))
	if err := l.Append(Event{ExtensionID: "a", Kind: KindInstalled}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := l.Query(Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Fatalf("expected stamped event, got %+v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	l := New(logPath(t))
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{ExtensionID: "a", Kind: KindInstalled, Timestamp: base},
		{ExtensionID: "a", Kind: KindUpdated, FromVersion: "1.0", ToVersion: "1.1", Timestamp: base.Add(time.Hour)},
		{ExtensionID: "b", Kind: KindEscalated, Added: []string{"cookies"}, Timestamp: base.Add(2 * time.Hour)},
		{ExtensionID: "a", Kind: KindUpdated, FromVersion: "1.1", ToVersion: "1.2", Timestamp: base.Add(3 * time.Hour)},
	}
	if err := l.Append(events...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got, _ := l.Query(Filter{ExtensionID: "a"}); len(got) != 3 {
		t.Fatalf("expected 3 events for a, got %d", len(got))
	}
	if got, _ := l.Query(Filter{Kind: KindUpdated}); len(got) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(got))
	}
	if got, _ := l.Query(Filter{Since: base.Add(90 * time.Minute)}); len(got) != 2 {
		t.Fatalf("expected 2 events since, got %d", len(got))
	}
	got, _ := l.Query(Filter{Limit: 1})
	if len(got) != 1 || got[0].Kind != KindInstalled {
		t.Fatalf("expected first event only, got %+v", got)
	}
	esc, _ := l.Query(Filter{Kind: KindEscalated})
	if len(esc) != 1 || len(esc[0].Added) != 1 || esc[0].Added[0] != "cookies" {
		t.Fatalf("unexpected escalation %+v", esc)
	}
}

func TestRecentlyUpdated(t *testing.T) {
	l := New(logPath(t))
	now := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	_ = l.Append(
		Event{ExtensionID: "old", Kind: KindUpdated, Timestamp: now.Add(-48 * time.Hour)},
		Event{ExtensionID: "new", Kind: KindUpdated, Timestamp: now.Add(-time.Hour)},
		Event{ExtensionID: "inst", Kind: KindInstalled, Timestamp: now.Add(-time.Hour)},
	)
	since := now.Add(-24 * time.Hour)
	for id, want := range map[string]bool{"old": false, "new": true, "inst": false, "none": false} {
		got, err := l.RecentlyUpdated(id, since)
		if err != nil {
			t.Fatalf("RecentlyUpdated(%s): %v", id, err)
		}
		if got != want {
			t.Fatalf("RecentlyUpdated(%s) = %v, want %v", id, got, want)
		}
	}
	set, err := l.UpdatedSince(since)
	if err != nil || len(set) != 1 || !set["new"] {
		t.Fatalf("unexpected UpdatedSince %v %v", set, err)
	}
}

func TestSummaries(t *testing.T) {
	l := New(logPath(t))
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = l.Append(
		Event{ExtensionID: "a", Name: "Alpha", Kind: KindInstalled, Timestamp: base},
		Event{ExtensionID: "a", Kind: KindUpdated, Timestamp: base.Add(time.Hour)},
		Event{ExtensionID: "b", Name: "Beta", Kind: KindInstalled, Timestamp: base.Add(2 * time.Hour)},
	)
	got, err := l.Summaries(time.Time{})
	if err != nil {
		t.Fatalf("Summaries: %v", err)
	}
	if len(got) != 2 || got[0].ExtensionID != "b" {
		t.Fatalf("expected b first, got %+v", got)
	}
	if got[1].Changes != 2 || got[1].Updates != 1 || got[1].Name != "Alpha" {
		t.Fatalf("unexpected summary for a: %+v", got[1])
	}
}

func TestMalformedLinesSkippedAndKept(t *testing.T) {
	path := logPath(t)
	l := New(path)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = l.Append(Event{ExtensionID: "a", Kind: KindInstalled, Timestamp: base})
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{broken\n")
	f.Close()
	_ = l.Append(Event{ExtensionID: "b", Kind: KindInstalled, Timestamp: base.Add(48 * time.Hour)})

	got, err := l.Query(Filter{})
	if err != nil || len(got) != 2 {
		t.Fatalf("expected 2 decodable events, got %d (%v)", len(got), err)
	}

	removed, err := l.Truncate(base.Add(24 * time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Truncate = %d, %v", removed, err)
	}
	blob, _ := os.ReadFile(path)
	if !strings.Contains(string(blob), "{broken") {
		t.Fatalf("malformed line should survive truncate:\n%s", blob)
	}
	got, _ = l.Query(Filter{})
	if len(got) != 1 || got[0].ExtensionID != "b" {
		t.Fatalf("unexpected events after truncate %+v", got)
	}
}

func TestTruncateMissingFile(t *testing.T) {
	n, err := New(logPath(t)).Truncate(time.Now())
	if err != nil || n != 0 {
		t.Fatalf("Truncate on missing file = %d, %v", n, err)
	}
}

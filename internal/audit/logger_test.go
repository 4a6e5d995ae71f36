package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestDisabledLoggerIsNoop(t *testing.T) {
	for name, l := range map[string]*Logger{"nil": nil, "empty path": New("")} {
		if err := l.Log(Event{Operation: OpAlert}); err != nil {
			t.Fatalf("%s: log: %v", name, err)
		}
		if got, err := l.Alerts(5); got != nil || err != nil {
			t.Fatalf("%s: alerts = %v, %v", name, got, err)
		}
	}
}

func TestLogStampsAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.log")
	logger := New(path)
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	logger.now = func() time.Time { return at }

	alert := Event{
		Operation:   OpAlert,
		Status:      "sent",
		ExtensionID: "abc",
		Priority:    "high",
		Title:       "High-Risk Extension Installed",
		Message:     `"Grabber" has dangerous permissions. Click to review.`,
		Fields:      map[string]string{"score": "95"},
	}
	for _, ev := range []Event{alert, {Operation: "scan", Status: "ok", Timestamp: "ignored"}} {
		if err := logger.Log(ev); err != nil {
			t.Fatalf("log %s: %v", ev.Operation, err)
		}
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := strings.Count(string(blob), "\n"); n != 2 {
		t.Fatalf("expected 2 lines, got %d", n)
	}
	got, err := logger.Tail(0)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	alert.Timestamp = "2024-03-01T11:30:00Z"
	if !reflect.DeepEqual(got[0], alert) {
		t.Fatalf("first event = %+v, want %+v", got[0], alert)
	}
	if got[1].Timestamp != alert.Timestamp {
		t.Fatalf("caller timestamp should be replaced, got %q", got[1].Timestamp)
	}
}

func TestTailReturnsMostRecent(t *testing.T) {
	logger := New(filepath.Join(t.TempDir(), "audit.log"))
	for i := 0; i < 5; i++ {
		if err := logger.Log(Event{Operation: "scan", Status: fmt.Sprint(i)}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	got, err := logger.Tail(2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(got) != 2 || got[0].Status != "3" || got[1].Status != "4" {
		t.Fatalf("unexpected tail %+v", got)
	}
	all, _ := logger.Tail(0)
	if len(all) != 5 {
		t.Fatalf("expected all 5 events, got %d", len(all))
	}
}

func TestTailMissingFile(t *testing.T) {
	got, err := New(filepath.Join(t.TempDir(), "none.log")).Tail(3)
	if err != nil || got != nil {
		t.Fatalf("expected empty tail, got %v %v", got, err)
	}
}

func TestAlertsFiltersOperation(t *testing.T) {
	logger := New(filepath.Join(t.TempDir(), "audit.log"))
	for _, op := range []string{"installed", OpAlert, "alarm", OpAlert, OpAlert} {
		if err := logger.Log(Event{Operation: op, Title: op}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}
	got, err := logger.Alerts(2)
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(got) != 2 || got[0].Operation != OpAlert || got[1].Operation != OpAlert {
		t.Fatalf("unexpected alerts %+v", got)
	}
}

func TestTailSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	if err := os.WriteFile(path, []byte("{not json\n{\"operation\":\"scan\"}\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := New(path).Tail(0)
	if err != nil || len(got) != 1 || got[0].Operation != "scan" {
		t.Fatalf("unexpected tail %+v %v", got, err)
	}
}

func TestLogWriteFailures(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("create blocking file: %v", err)
	}
	dir := filepath.Join(tmp, "dir")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for name, path := range map[string]string{
		"parent is a file": filepath.Join(blocker, "events.log"),
		"path is a dir":    dir,
	} {
		err := New(path).Log(Event{Operation: "scan"})
		if err == nil || !strings.HasPrefix(err.Error(), "AUDIT_WRITE") {
			t.Fatalf("%s: expected AUDIT_WRITE, got %v", name, err)
		}
	}
}

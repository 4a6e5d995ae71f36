package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"navext/internal/app"
	"navext/internal/config"
	"navext/internal/store"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	_ = r.Close()
	return buf.String()
}

func boolPtr(v bool) *bool { return &v }

func writeFixture(t *testing.T, inventory string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Root = filepath.Join(dir, "state")
	cfg.Source.Path = filepath.Join(dir, "inventory.json")
	cfg.Notify.Sinks = []string{"audit"}
	cfg.Logging.Level = "error"
	cfgPath := filepath.Join(dir, "config.toml")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatalf("save config failed: %v", err)
	}
	if err := os.WriteFile(cfg.Source.Path, []byte(inventory), 0o644); err != nil {
		t.Fatalf("write inventory failed: %v", err)
	}
	return cfgPath
}

const inventoryJSON = `{"extensions":[
 {"id":"safe","name":"Safe","version":"1.0","enabled":true,"permissions":["storage"],"hostPermissions":[],"installType":"normal","mayDisable":true,"homepageUrl":"https://safe.example"},
 {"id":"spy","name":"Spy","version":"0.1","enabled":true,"permissions":["webRequest","webRequestBlocking","cookies"],"hostPermissions":["<all_urls>"],"installType":"development","mayDisable":true}
]}`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var err error
	out := captureStdout(t, func() {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		err = cmd.Execute()
	})
	return out, err
}

func TestNewRootCmdIncludesCoreCommands(t *testing.T) {
	cmd := newRootCmd()
	got := map[string]bool{}
	for _, c := range cmd.Commands() {
		got[c.Name()] = true
	}
	for _, want := range []string{"init", "scan", "check", "watch", "serve", "states", "comms", "message", "access", "history", "alerts", "source", "schedule", "doctor", "version"} {
		if !got[want] {
			t.Fatalf("expected command %q", want)
		}
	}
}

func TestScanRejectsUnknownFailOnBeforeService(t *testing.T) {
	called := false
	cmd := newScanCmd(func() (*app.Service, error) {
		called = true
		return nil, errors.New("should not be called")
	}, boolPtr(false))
	cmd.SetArgs([]string{"--fail-on", "severe"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "SCAN_FAIL_ON") {
		t.Fatalf("expected fail-on error, got %v", err)
	}
	if called {
		t.Fatalf("newSvc should not be called for an invalid level")
	}
}

func TestHistoryPruneRequiresCutoff(t *testing.T) {
	cmd := newHistoryCmd(func() (*app.Service, error) {
		return nil, errors.New("should not be called")
	}, boolPtr(false))
	cmd.SetArgs([]string{"prune"})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--older-than") {
		t.Fatalf("expected cutoff error, got %v", err)
	}
}

func TestScanJSONAndFailOn(t *testing.T) {
	cfgPath := writeFixture(t, inventoryJSON)
	out, err := run(t, "--config", cfgPath, "--json", "scan")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	var report struct {
		Extensions []struct {
			ID        string `json:"id"`
			RiskLevel string `json:"riskLevel"`
		} `json:"extensions"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode scan output: %v\n%s", err, out)
	}
	if len(report.Extensions) != 2 || report.Extensions[0].ID != "spy" || report.Extensions[0].RiskLevel != "high" {
		t.Fatalf("unexpected report %+v", report)
	}

	_, err = run(t, "--config", cfgPath, "scan", "--fail-on", "high")
	var ex ExitCoder
	if !errors.As(err, &ex) || ex.ExitCode() != 2 {
		t.Fatalf("expected exit code 2, got %v", err)
	}
}

func TestScanDetailsExplainsPermissions(t *testing.T) {
	cfgPath := writeFixture(t, inventoryJSON)
	out, err := run(t, "--config", cfgPath, "scan", "--details")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if !strings.Contains(out, "[HIGH]") || !strings.Contains(out, "cookies: ") {
		t.Fatalf("expected detailed output, got:\n%s", out)
	}
}

func TestInitCheckAndMessageFlow(t *testing.T) {
	cfgPath := writeFixture(t, inventoryJSON)
	out, err := run(t, "--config", cfgPath, "init")
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out, "baseline recorded for 2 extensions") {
		t.Fatalf("unexpected init output %q", out)
	}

	out, err = run(t, "--config", cfgPath, "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "no changes") {
		t.Fatalf("expected no changes, got %q", out)
	}

	if _, err := run(t, "--config", cfgPath, "message", "spy", "plain text"); err != nil {
		t.Fatalf("message failed: %v", err)
	}
	out, err = run(t, "--config", cfgPath, "--json", "comms", "--sender", "spy")
	if err != nil {
		t.Fatalf("comms failed: %v", err)
	}
	var entries []store.CommunicationEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode comms: %v\n%s", err, out)
	}
	if len(entries) != 1 || string(entries[0].Message) != `"plain text"` {
		t.Fatalf("unexpected entries %+v", entries)
	}

	out, err = run(t, "--config", cfgPath, "access", "https://bank.example/login")
	if err != nil {
		t.Fatalf("access failed: %v", err)
	}
	if !strings.Contains(out, "Spy (spy)") || strings.Contains(out, "Safe (safe)") {
		t.Fatalf("unexpected access output %q", out)
	}
}

func TestSourceSetPersists(t *testing.T) {
	cfgPath := writeFixture(t, inventoryJSON)
	profile := filepath.Join(t.TempDir(), "Default")
	if _, err := run(t, "--config", cfgPath, "source", "set", "profile", profile); err != nil {
		t.Fatalf("source set failed: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Source.Kind != "profile" || cfg.Source.Path != profile {
		t.Fatalf("unexpected source %+v", cfg.Source)
	}
}

func TestHistorySummaryAggregatesPerExtension(t *testing.T) {
	cfgPath := writeFixture(t, inventoryJSON)
	if _, err := run(t, "--config", cfgPath, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	updated := strings.Replace(inventoryJSON, `"id":"safe","name":"Safe","version":"1.0"`, `"id":"safe","name":"Safe","version":"1.1"`, 1)
	if err := os.WriteFile(cfg.Source.Path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite inventory: %v", err)
	}
	if _, err := run(t, "--config", cfgPath, "check"); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	out, err := run(t, "--config", cfgPath, "--json", "history", "--summary")
	if err != nil {
		t.Fatalf("history --summary failed: %v", err)
	}
	var sums []struct {
		ExtensionID string `json:"extension_id"`
		Updates     int    `json:"updates"`
	}
	if err := json.Unmarshal([]byte(out), &sums); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if len(sums) != 1 || sums[0].ExtensionID != "safe" || sums[0].Updates != 1 {
		t.Fatalf("unexpected summary %+v", sums)
	}

	if _, err := run(t, "--config", cfgPath, "history", "--summary", "--ext", "safe"); err == nil {
		t.Fatalf("expected --summary with --ext to be rejected")
	}
}

// Package scheduler installs an OS timer that runs the periodic extension
// check: a systemd user timer on Linux, a launchd agent on macOS.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultInterval = "60m"

	unitName = "navext-check"
	label    = "com.navext.check"

	envRoot         = "NAVEXT_SCHEDULER_ROOT"
	envSkipCommands = "NAVEXT_SCHEDULER_SKIP_COMMANDS"
	envExec         = "NAVEXT_SCHEDULER_EXEC"
)

// Result describes the timer after an operation.
type Result struct {
	Backend   string   `json:"backend"`
	Mode      string   `json:"mode"`
	Interval  string   `json:"interval"`
	Installed bool     `json:"installed"`
	Command   []string `json:"command,omitempty"`
	Files     []string `json:"files,omitempty"`
	Notes     []string `json:"notes,omitempty"`
}

func (r *Result) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Runner executes the service-manager commands (systemctl, launchctl).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err == nil {
		return nil
	}
	if msg := strings.TrimSpace(string(out)); msg != "" {
		return fmt.Errorf("%w: %s", err, msg)
	}
	return err
}

// backend is one OS timer implementation.
type backend interface {
	install(ctx context.Context, interval string, every time.Duration) (Result, error)
	remove(ctx context.Context) (Result, error)
	list() Result
}

type Manager struct {
	home        string
	osName      string
	runner      Runner
	runCommands bool
	configPath  string
}

// New returns a manager whose timer runs "navext check", passing configPath
// through when it is set.
func New(configPath string) *Manager {
	home, _ := os.UserHomeDir()
	return &Manager{
		home:        home,
		osName:      runtime.GOOS,
		runner:      execRunner{},
		runCommands: os.Getenv(envSkipCommands) != "1",
		configPath:  configPath,
	}
}

func (m *Manager) backend() (backend, error) {
	switch m.osName {
	case "darwin":
		return launchd{m}, nil
	case "linux":
		return systemd{m}, nil
	default:
		return nil, fmt.Errorf("SCAN_SCHEDULE_BACKEND: unsupported OS %q", m.osName)
	}
}

func (m *Manager) Install(ctx context.Context, interval string) (Result, error) {
	if interval == "" {
		interval = DefaultInterval
	}
	every, err := parseInterval(interval)
	if err != nil {
		return Result{}, fmt.Errorf("SCAN_SCHEDULE_INTERVAL: %w", err)
	}
	b, err := m.backend()
	if err != nil {
		return Result{}, err
	}
	res, err := b.install(ctx, interval, every)
	if err != nil {
		return Result{}, fmt.Errorf("SCAN_SCHEDULE_INSTALL: %w", err)
	}
	res.Command = m.commandArgs()
	return res, nil
}

func (m *Manager) Remove(ctx context.Context) (Result, error) {
	b, err := m.backend()
	if err != nil {
		return Result{}, err
	}
	res, err := b.remove(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("SCAN_SCHEDULE_REMOVE: %w", err)
	}
	return res, nil
}

func (m *Manager) List() (Result, error) {
	b, err := m.backend()
	if err != nil {
		return Result{}, err
	}
	return b.list(), nil
}

// overrideRoot redirects unit files into a scratch tree and disables the
// service-manager commands.
func (m *Manager) overrideRoot() string {
	return os.Getenv(envRoot)
}

func (m *Manager) shouldRun() bool {
	return m.runCommands && m.overrideRoot() == ""
}

// run invokes the service manager, recording a note instead of failing.
func (m *Manager) run(ctx context.Context, res *Result, name string, args ...string) {
	if !m.shouldRun() {
		return
	}
	if err := m.runner.Run(ctx, name, args...); err != nil {
		res.note("%s %s failed: %v", name, strings.Join(args, " "), err)
	}
}

func (m *Manager) skipNote(res *Result) {
	if !m.shouldRun() {
		res.note("scheduler commands skipped")
	}
}

func parseInterval(interval string) (time.Duration, error) {
	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, err
	}
	if d < time.Minute {
		return 0, fmt.Errorf("minimum interval is 1m")
	}
	return d, nil
}

// commandArgs is the argument vector the timer runs, executable first.
func (m *Manager) commandArgs() []string {
	exe := os.Getenv(envExec)
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			exe = "navext"
		}
	}
	args := []string{exe}
	if m.configPath != "" {
		args = append(args, "--config", m.configPath)
	}
	return append(args, "check")
}

func intervalFromSeconds(seconds int) string {
	switch {
	case seconds <= 0:
		return ""
	case seconds%3600 == 0:
		return strconv.Itoa(seconds/3600) + "h"
	case seconds%60 == 0:
		return strconv.Itoa(seconds/60) + "m"
	default:
		return strconv.Itoa(seconds) + "s"
	}
}

func xmlEscape(v string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\"", "&quot;", "'", "&apos;").Replace(v)
}

func shellEscape(v string) string {
	if strings.ContainsAny(v, " \t\n\"'") {
		return strconv.Quote(v)
	}
	return v
}

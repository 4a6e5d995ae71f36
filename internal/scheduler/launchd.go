package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var startIntervalPattern = regexp.MustCompile(`<key>StartInterval</key>\s*<integer>(\d+)</integer>`)

type launchd struct{ *Manager }

func (m *Manager) launchAgentsDir() string {
	if root := m.overrideRoot(); root != "" {
		return filepath.Join(root, "LaunchAgents")
	}
	return filepath.Join(m.home, "Library", "LaunchAgents")
}

func (m *Manager) launchdPlistPath() string {
	return filepath.Join(m.launchAgentsDir(), label+".plist")
}

func (l launchd) install(ctx context.Context, interval string, every time.Duration) (Result, error) {
	plist := l.launchdPlistPath()
	if err := os.MkdirAll(filepath.Dir(plist), 0o755); err != nil {
		return Result{}, err
	}
	var args strings.Builder
	for _, a := range l.commandArgs() {
		fmt.Fprintf(&args, "    <string>%s</string>\n", xmlEscape(a))
	}
	logDir := l.launchAgentsDir()
	content := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>%s</string>
  <key>ProgramArguments</key>
  <array>
%s  </array>
  <key>StartInterval</key><integer>%d</integer>
  <key>RunAtLoad</key><true/>
  <key>StandardOutPath</key><string>%s</string>
  <key>StandardErrorPath</key><string>%s</string>
</dict>
</plist>
`, label, args.String(), int(every.Seconds()), filepath.Join(logDir, unitName+".log"), filepath.Join(logDir, unitName+".err.log"))
	if err := os.WriteFile(plist, []byte(content), 0o644); err != nil {
		return Result{}, err
	}
	res := Result{Backend: "launchd", Mode: "system", Interval: interval, Installed: true, Files: []string{plist}}
	if l.shouldRun() {
		// Reload picks up a changed interval.
		_ = l.runner.Run(ctx, "launchctl", "unload", plist)
	}
	l.run(ctx, &res, "launchctl", "load", plist)
	l.skipNote(&res)
	return res, nil
}

func (l launchd) remove(ctx context.Context) (Result, error) {
	plist := l.launchdPlistPath()
	res := Result{Backend: "launchd", Mode: "off", Files: []string{plist}}
	if l.shouldRun() {
		_ = l.runner.Run(ctx, "launchctl", "unload", plist)
	}
	l.skipNote(&res)
	if err := os.Remove(plist); err != nil && !os.IsNotExist(err) {
		return Result{}, err
	}
	return res, nil
}

func (l launchd) list() Result {
	plist := l.launchdPlistPath()
	res := Result{Backend: "launchd", Mode: "off", Files: []string{plist}}
	content, err := os.ReadFile(plist)
	if err != nil {
		return res
	}
	res.Installed = true
	res.Mode = "system"
	if match := startIntervalPattern.FindSubmatch(content); len(match) == 2 {
		if seconds, err := strconv.Atoi(string(match[1])); err == nil {
			res.Interval = intervalFromSeconds(seconds)
		}
	}
	return res
}

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var onUnitActivePattern = regexp.MustCompile(`(?m)^OnUnitActiveSec=(.+)$`)

type systemd struct{ *Manager }

func (m *Manager) systemdDir() string {
	if root := m.overrideRoot(); root != "" {
		return filepath.Join(root, "systemd", "user")
	}
	return filepath.Join(m.home, ".config", "systemd", "user")
}

func (m *Manager) systemdServicePath() string {
	return filepath.Join(m.systemdDir(), unitName+".service")
}

func (m *Manager) systemdTimerPath() string {
	return filepath.Join(m.systemdDir(), unitName+".timer")
}

func (s systemd) install(ctx context.Context, interval string, _ time.Duration) (Result, error) {
	if err := os.MkdirAll(s.systemdDir(), 0o755); err != nil {
		return Result{}, err
	}
	argv := s.commandArgs()
	for i := range argv {
		argv[i] = shellEscape(argv[i])
	}
	service := fmt.Sprintf(`[Unit]
Description=navext extension risk check

[Service]
Type=oneshot
ExecStart=%s
`, strings.Join(argv, " "))
	timer := fmt.Sprintf(`[Unit]
Description=Run navext check every %s

[Timer]
OnBootSec=2m
OnUnitActiveSec=%s
Persistent=true
Unit=%s.service

[Install]
WantedBy=timers.target
`, interval, interval, unitName)
	servicePath, timerPath := s.systemdServicePath(), s.systemdTimerPath()
	for path, body := range map[string]string{servicePath: service, timerPath: timer} {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			return Result{}, err
		}
	}
	res := Result{Backend: "systemd", Mode: "system", Interval: interval, Installed: true, Files: []string{servicePath, timerPath}}
	s.run(ctx, &res, "systemctl", "--user", "daemon-reload")
	s.run(ctx, &res, "systemctl", "--user", "enable", "--now", unitName+".timer")
	s.skipNote(&res)
	return res, nil
}

func (s systemd) remove(ctx context.Context) (Result, error) {
	servicePath, timerPath := s.systemdServicePath(), s.systemdTimerPath()
	res := Result{Backend: "systemd", Mode: "off", Files: []string{servicePath, timerPath}}
	if s.shouldRun() {
		_ = s.runner.Run(ctx, "systemctl", "--user", "disable", "--now", unitName+".timer")
		_ = s.runner.Run(ctx, "systemctl", "--user", "daemon-reload")
	}
	s.skipNote(&res)
	for _, path := range []string{timerPath, servicePath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return Result{}, err
		}
	}
	return res, nil
}

func (s systemd) list() Result {
	servicePath, timerPath := s.systemdServicePath(), s.systemdTimerPath()
	res := Result{Backend: "systemd", Mode: "off", Files: []string{servicePath, timerPath}}
	if _, err := os.Stat(servicePath); err != nil {
		return res
	}
	content, err := os.ReadFile(timerPath)
	if err != nil {
		return res
	}
	res.Installed = true
	res.Mode = "system"
	if match := onUnitActivePattern.FindSubmatch(content); len(match) == 2 {
		res.Interval = strings.TrimSpace(string(match[1]))
	}
	return res
}

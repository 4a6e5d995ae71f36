// Package notify delivers user-facing alerts to one or more sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"navext/internal/audit"
)

type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "high":
		*p = PriorityHigh
	case "medium":
		*p = PriorityMedium
	case "low", "":
		*p = PriorityLow
	default:
		return fmt.Errorf("NOTIFY_PRIORITY: unknown priority %q", string(b))
	}
	return nil
}

type Notification struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Priority    Priority `json:"priority"`
	ExtensionID string   `json:"extensionId,omitempty"`
}

// Sink delivers notifications. Delivery is best effort; callers log errors
// and move on.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

const (
	SinkLog     = "log"
	SinkAudit   = "audit"
	SinkCommand = "command"
)

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, n Notification) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Priority == PriorityHigh {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, n.Title, "body", n.Body, "priority", n.Priority.String(), "extension", n.ExtensionID)
	return nil
}

// AuditSink appends notifications to the audit trail.
type AuditSink struct {
	Audit *audit.Logger
}

func (s AuditSink) Notify(_ context.Context, n Notification) error {
	return s.Audit.Log(audit.Event{
		Operation:   audit.OpAlert,
		Status:      "sent",
		ExtensionID: n.ExtensionID,
		Priority:    n.Priority.String(),
		Title:       n.Title,
		Message:     n.Body,
	})
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w: %s", err, msg)
	}
	return nil
}

// CommandSink runs an external notifier such as notify-send. The configured
// command line is split on whitespace; title and body are appended as the
// last two arguments.
type CommandSink struct {
	argv   []string
	runner Runner
}

func NewCommandSink(command string, runner Runner) (*CommandSink, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("NOTIFY_COMMAND: empty command")
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &CommandSink{argv: argv, runner: runner}, nil
}

func (s *CommandSink) Notify(ctx context.Context, n Notification) error {
	args := append(append([]string(nil), s.argv[1:]...), n.Title, n.Body)
	if err := s.runner.Run(ctx, s.argv[0], args...); err != nil {
		return fmt.Errorf("NOTIFY_COMMAND: %w", err)
	}
	return nil
}

// Multi fans a notification out to every sink, continuing past failures.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// Build assembles the sinks named in configuration.
func Build(names []string, command string, logger *slog.Logger, trail *audit.Logger) (Sink, error) {
	var out Multi
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case SinkLog:
			out = append(out, LogSink{Logger: logger})
		case SinkAudit:
			out = append(out, AuditSink{Audit: trail})
		case SinkCommand:
			cs, err := NewCommandSink(command, nil)
			if err != nil {
				return nil, err
			}
			out = append(out, cs)
		default:
			return nil, fmt.Errorf("NOTIFY_SINK: unknown sink %q", name)
		}
	}
	return out, nil
}

// Send delivers every notification and logs failures instead of returning them.
func Send(ctx context.Context, sink Sink, logger *slog.Logger, ns ...Notification) {
	if sink == nil {
		return
	}
	for _, n := range ns {
		if err := sink.Notify(ctx, n); err != nil && logger != nil {
			logger.Warn("notification delivery failed", "title", n.Title, "err", err)
		}
	}
}

// Package audit appends alert and operation records to a JSONL trail.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Logger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

type Event struct {
	Timestamp   string            `json:"timestamp"`
	Operation   string            `json:"operation"`
	Status      string            `json:"status"`
	ExtensionID string            `json:"extension_id,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Code        string            `json:"code,omitempty"`
	Title       string            `json:"title,omitempty"`
	Message     string            `json:"message,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) Log(ev Event) error {
	if l == nil || l.path == "" {
		return nil
	}
	ev.Timestamp = l.now().UTC().Format(time.RFC3339Nano)
	blob, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("AUDIT_ENCODE: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("AUDIT_WRITE: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("AUDIT_WRITE: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(blob, '\n')); err != nil {
		return fmt.Errorf("AUDIT_WRITE: %w", err)
	}
	return nil
}

// OpAlert is the operation recorded for delivered notifications.
const OpAlert = "alert"

// Tail returns up to n of the most recent events, oldest first. n <= 0
// returns every event. Undecodable lines are skipped.
func (l *Logger) Tail(n int) ([]Event, error) {
	return l.Select(n, nil)
}

// Alerts is Tail restricted to delivered notifications.
func (l *Logger) Alerts(n int) ([]Event, error) {
	return l.Select(n, func(ev Event) bool { return ev.Operation == OpAlert })
}

// Select returns up to n of the most recent events that keep accepts,
// oldest first. A nil keep accepts everything.
func (l *Logger) Select(n int, keep func(Event) bool) ([]Event, error) {
	if l == nil || l.path == "" {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("AUDIT_READ: %w", err)
	}
	defer f.Close()
	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if keep != nil && !keep(ev) {
			continue
		}
		out = append(out, ev)
		if n > 0 && len(out) > n {
			out = out[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("AUDIT_READ: %w", err)
	}
	return out, nil
}

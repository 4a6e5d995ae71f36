// Package history keeps an append-only JSONL record of observed extension
// lifecycle changes. It feeds the behavior signals of the risk engine.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"navext/internal/fsutil"
)

// Kind classifies a change event.
type Kind string

const (
	KindInstalled   Kind = "installed"
	KindUpdated     Kind = "updated"
	KindEscalated   Kind = "escalated"
	KindRemoved     Kind = "removed"
	KindUninstalled Kind = "uninstalled"
	KindEnabled     Kind = "enabled"
)

// Event records one observed change to an extension.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	ExtensionID string    `json:"extension_id"`
	Name        string    `json:"name,omitempty"`
	Kind        Kind      `json:"kind"`
	FromVersion string    `json:"from_version,omitempty"`
	ToVersion   string    `json:"to_version,omitempty"`
	Added       []string  `json:"added,omitempty"`
	Downgrade   bool      `json:"downgrade,omitempty"`
	Source      string    `json:"source,omitempty"`
}

// Filter controls which events Query returns.
type Filter struct {
	Since       time.Time
	ExtensionID string
	Kind        Kind
	Limit       int
}

// Summary aggregates the events recorded for one extension.
type Summary struct {
	ExtensionID string    `json:"extension_id"`
	Name        string    `json:"name,omitempty"`
	Changes     int       `json:"changes"`
	Updates     int       `json:"updates"`
	LastChange  time.Time `json:"last_change"`
}

// Log is an append-only JSONL event store.
type Log struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Log {
	return &Log{path: path}
}

// Append writes events, assigning ids and timestamps where missing.
func (l *Log) Append(events ...Event) error {
	if l == nil || l.path == "" || len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("HIST_APPEND: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("HIST_OPEN: %w", err)
	}
	defer f.Close()
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.NewString()
		}
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = time.Now().UTC()
		}
		blob, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("HIST_APPEND: %w", err)
		}
		if _, err := f.Write(append(blob, '\n')); err != nil {
			return fmt.Errorf("HIST_APPEND: %w", err)
		}
	}
	return nil
}

// Query reads events matching f in file order. Malformed lines are skipped.
func (l *Log) Query(f Filter) ([]Event, error) {
	if l == nil || l.path == "" {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	err := l.scan(func(ev Event, _ []byte) bool {
		if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
			return true
		}
		if f.ExtensionID != "" && ev.ExtensionID != f.ExtensionID {
			return true
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			return true
		}
		out = append(out, ev)
		return f.Limit <= 0 || len(out) < f.Limit
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("HIST_QUERY: %w", err)
	}
	return out, nil
}

// RecentlyUpdated reports whether id has an update event at or after since.
func (l *Log) RecentlyUpdated(id string, since time.Time) (bool, error) {
	events, err := l.Query(Filter{ExtensionID: id, Kind: KindUpdated, Since: since, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(events) > 0, nil
}

// UpdatedSince returns the set of extension ids updated at or after since.
func (l *Log) UpdatedSince(since time.Time) (map[string]bool, error) {
	events, err := l.Query(Filter{Kind: KindUpdated, Since: since})
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(events))
	for _, ev := range events {
		out[ev.ExtensionID] = true
	}
	return out, nil
}

// Summaries aggregates events since the given time, most recently changed first.
func (l *Log) Summaries(since time.Time) ([]Summary, error) {
	events, err := l.Query(Filter{Since: since})
	if err != nil {
		return nil, err
	}
	m := map[string]*Summary{}
	for _, ev := range events {
		s, ok := m[ev.ExtensionID]
		if !ok {
			s = &Summary{ExtensionID: ev.ExtensionID}
			m[ev.ExtensionID] = s
		}
		s.Changes++
		if ev.Kind == KindUpdated {
			s.Updates++
		}
		if ev.Name != "" {
			s.Name = ev.Name
		}
		if ev.Timestamp.After(s.LastChange) {
			s.LastChange = ev.Timestamp
		}
	}
	out := make([]Summary, 0, len(m))
	for _, s := range m {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastChange.Equal(out[j].LastChange) {
			return out[i].LastChange.After(out[j].LastChange)
		}
		return out[i].ExtensionID < out[j].ExtensionID
	})
	return out, nil
}

// Truncate removes events older than before and returns how many were removed.
// Malformed lines are kept.
func (l *Log) Truncate(before time.Time) (int, error) {
	if l == nil || l.path == "" {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := 0
	err := l.scan(func(ev Event, _ []byte) bool {
		if ev.Timestamp.Before(before) {
			stale++
		}
		return true
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("HIST_TRUNCATE: %w", err)
	}
	if stale == 0 {
		return 0, nil
	}
	err = fsutil.Replace(l.path, 0o644, func(w io.Writer) error {
		var werr error
		keep := func(line []byte) {
			if werr == nil {
				_, werr = w.Write(line)
			}
			if werr == nil {
				_, werr = io.WriteString(w, "\n")
			}
		}
		if err := l.scan(func(ev Event, line []byte) bool {
			if !ev.Timestamp.Before(before) {
				keep(line)
			}
			return werr == nil
		}, keep); err != nil {
			return err
		}
		return werr
	})
	if err != nil {
		return 0, fmt.Errorf("HIST_TRUNCATE: %w", err)
	}
	return stale, nil
}

// scan calls fn for each decodable line until fn returns false. Lines that
// fail to decode go to malformed when it is non-nil. A missing file is empty.
func (l *Log) scan(fn func(Event, []byte) bool, malformed func([]byte)) error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			if malformed != nil {
				malformed(line)
			}
			continue
		}
		if !fn(ev, line) {
			break
		}
	}
	return scanner.Err()
}

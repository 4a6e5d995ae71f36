package source

import (
	"context"
	"errors"
	"sync"

	"navext/internal/extension"
)

// Enumerator lists every installed item the browser knows about, including
// themes and apps.
type Enumerator interface {
	List(ctx context.Context) ([]extension.Entry, error)
}

// ErrPermission marks a source the process is not allowed to read.
var ErrPermission = errors.New("SRC_PERMISSION: enumeration not permitted")

const (
	KindInventory = "inventory"
	KindProfile   = "profile"
)

// Static serves a fixed list. It backs one-shot inputs and tests.
type Static struct {
	mu      sync.Mutex
	entries []extension.Entry
	err     error
}

func NewStatic(entries ...extension.Entry) *Static {
	return &Static{entries: entries}
}

func (s *Static) Set(entries ...extension.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
}

func (s *Static) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) List(ctx context.Context) ([]extension.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]extension.Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e
		out[i].Record = e.Record.Clone()
	}
	return out, nil
}

// Records returns the decodable extension entries as records.
func Records(entries []extension.Entry) []extension.Record {
	out := make([]extension.Record, 0, len(entries))
	for _, e := range entries {
		if e.Err != nil || !e.IsExtension() {
			continue
		}
		out = append(out, e.Record)
	}
	return out
}

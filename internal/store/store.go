// Package store keeps the last-known snapshot of every extension and the
// bounded log of inter-extension messages, written through to a kv backend.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"navext/internal/extension"
	"navext/internal/kv"
)

// Store is safe for concurrent use. Reads are served from memory; every
// mutation is persisted before it returns. A failed write leaves memory
// updated and marks the key dirty so the next successful write carries it.
type Store struct {
	backend kv.Backend
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	states map[string]extension.Record
	comms  *commLog
	dirty  map[string]bool

	locks keyedMutex
}

func New(backend kv.Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		states:  map[string]extension.Record{},
		comms:   newCommLog(MaxCommunicationEntries),
		dirty:   map[string]bool{},
	}
}

// Load replaces in-memory state with what the backend holds. Missing keys
// load as empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = map[string]bool{}
	return s.reloadLocked(ctx)
}

// Refresh picks up writes made through other handles on the same backend,
// such as another navext process. Keys with unpersisted local changes keep
// their in-memory value.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

// reloadLocked reads every key that is not dirty. Callers hold s.mu.
func (s *Store) reloadLocked(ctx context.Context) error {
	if !s.dirty[KeyExtensionStates] {
		states := map[string]extension.Record{}
		if _, err := kv.GetJSON(ctx, s.backend, KeyExtensionStates, &states); err != nil {
			return &StorageFailure{Op: "read", Key: KeyExtensionStates, Err: err}
		}
		s.states = states
	}
	if !s.dirty[KeyCommunicationLog] {
		bySender := map[string][]CommunicationEntry{}
		if _, err := kv.GetJSON(ctx, s.backend, KeyCommunicationLog, &bySender); err != nil {
			return &StorageFailure{Op: "read", Key: KeyCommunicationLog, Err: err}
		}
		log := newCommLog(MaxCommunicationEntries)
		log.restore(bySender)
		s.comms = log
	}
	return nil
}

// mutate applies one change. Under the backend lock it reloads the durable
// state, runs apply against it and writes back the keys apply names, so
// writers in other processes never overwrite each other. When the lock
// cannot be taken the change is still applied in memory and left dirty.
func (s *Store) mutate(ctx context.Context, apply func() ([]string, error)) error {
	unlock, lockErr := s.backend.Lock(ctx)
	if lockErr == nil {
		defer unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if lockErr == nil {
		if err := s.reloadLocked(ctx); err != nil {
			s.logger.Warn("state reload failed; applying change to in-memory copy", "err", err)
		}
	}
	keys, err := apply()
	if err != nil {
		return err
	}
	for _, k := range keys {
		s.dirty[k] = true
	}
	if lockErr != nil {
		s.logger.Warn("state lock unavailable; keeping in-memory copy", "err", lockErr)
		return &StorageFailure{Op: "lock", Key: strings.Join(keys, ","), Err: lockErr}
	}
	return s.persistLocked(ctx)
}

// Get returns a copy of the stored snapshot for id.
func (s *Store) Get(id string) (extension.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.states[id]
	if !ok {
		return extension.Record{}, false
	}
	return rec.Clone(), true
}

// Put stores rec under id, replacing any previous snapshot.
func (s *Store) Put(ctx context.Context, id string, rec extension.Record) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("STORE_KEY: empty extension id")
	}
	return s.mutate(ctx, func() ([]string, error) {
		s.states[id] = rec.Clone()
		return []string{KeyExtensionStates}, nil
	})
}

// PutAll stores every record keyed by its own id in a single write.
func (s *Store) PutAll(ctx context.Context, recs []extension.Record) error {
	for _, rec := range recs {
		if strings.TrimSpace(rec.ID) == "" {
			return fmt.Errorf("STORE_KEY: empty extension id")
		}
	}
	return s.mutate(ctx, func() ([]string, error) {
		for _, rec := range recs {
			s.states[rec.ID] = rec.Clone()
		}
		return []string{KeyExtensionStates}, nil
	})
}

// Delete removes the snapshot for id. Deleting an unknown id is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func() ([]string, error) {
		if _, ok := s.states[id]; !ok {
			return nil, nil
		}
		delete(s.states, id)
		return []string{KeyExtensionStates}, nil
	})
}

// Update applies fn to the snapshot for id as one read-modify-write cycle,
// serialized against other Update calls for id and against every writer on
// the backend. fn must not call back into the Store. Returning keep=false
// deletes the snapshot.
func (s *Store) Update(ctx context.Context, id string, fn func(prev extension.Record, ok bool) (next extension.Record, keep bool, err error)) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.mutate(ctx, func() ([]string, error) {
		prev, ok := s.states[id]
		if ok {
			prev = prev.Clone()
		}
		next, keep, err := fn(prev, ok)
		if err != nil {
			return nil, err
		}
		if !keep {
			if !ok {
				return nil, nil
			}
			delete(s.states, id)
			return []string{KeyExtensionStates}, nil
		}
		next.ID = id
		s.states[id] = next.Clone()
		return []string{KeyExtensionStates}, nil
	})
}

// ListAll returns every snapshot ordered by id.
func (s *Store) ListAll() []StateEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]StateEntry, 0, len(s.states))
	for id, rec := range s.states {
		out = append(out, StateEntry{ID: id, Record: rec.Clone()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a copy of the full state map.
func (s *Store) Snapshot() map[string]extension.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]extension.Record, len(s.states))
	for id, rec := range s.states {
		out[id] = rec.Clone()
	}
	return out
}

// AppendCommunication records a message, evicting the globally oldest entry
// once the log holds MaxCommunicationEntries. ID and Timestamp are filled in
// when empty.
func (s *Store) AppendCommunication(ctx context.Context, entry CommunicationEntry) (CommunicationEntry, error) {
	if strings.TrimSpace(entry.SenderID) == "" {
		return CommunicationEntry{}, fmt.Errorf("STORE_COMM_SCHEMA: missing sender id")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	if len(entry.Message) == 0 {
		entry.Message = json.RawMessage("null")
	}
	err := s.mutate(ctx, func() ([]string, error) {
		entry = s.comms.append(entry)
		return []string{KeyCommunicationLog}, nil
	})
	return entry, err
}

// ListCommunications returns entries oldest first. An empty sender lists the
// whole log.
func (s *Store) ListCommunications(sender string) []CommunicationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comms.list(sender)
}

// CommunicationCount returns how many retained entries came from sender.
func (s *Store) CommunicationCount(sender string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.comms.count(sender)
}

// DeleteCommunications drops every retained entry from sender.
func (s *Store) DeleteCommunications(ctx context.Context, sender string) error {
	return s.mutate(ctx, func() ([]string, error) {
		if s.comms.removeSender(sender) == 0 {
			return nil, nil
		}
		return []string{KeyCommunicationLog}, nil
	})
}

// persistLocked writes every dirty key. Callers hold s.mu and the backend lock.
func (s *Store) persistLocked(ctx context.Context) error {
	var firstErr error
	for _, k := range []string{KeyExtensionStates, KeyCommunicationLog} {
		if !s.dirty[k] {
			continue
		}
		var value any
		switch k {
		case KeyExtensionStates:
			value = s.states
		case KeyCommunicationLog:
			value = s.comms.bySender()
		}
		if err := kv.SetJSON(ctx, s.backend, k, value); err != nil {
			s.logger.Warn("state write failed; keeping in-memory copy", "key", k, "err", err)
			if firstErr == nil {
				firstErr = &StorageFailure{Op: "write", Key: k, Err: err}
			}
			continue
		}
		delete(s.dirty, k)
	}
	return firstErr
}

// Dirty reports whether some state has not yet reached the backend.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.dirty) > 0
}

// Flush retries any writes left pending by earlier failures.
func (s *Store) Flush(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}
	return s.mutate(ctx, func() ([]string, error) { return nil, nil })
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[string]*refMutex{}
	}
	m := k.locks[key]
	if m == nil {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

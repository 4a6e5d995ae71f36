package kv

import (
	"context"
	"sync"
)

// Memory is an in-process backend for tests. SetFailure makes subsequent
// writes fail until cleared.
type Memory struct {
	held    chan struct{}
	mu      sync.Mutex
	data    map[string][]byte
	failErr error
	writes  int
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}, held: make(chan struct{}, 1)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.data[key] = append([]byte(nil), value...)
	m.writes++
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	delete(m.data, key)
	m.writes++
	return nil
}

func (m *Memory) Lock(ctx context.Context) (func(), error) {
	select {
	case m.held <- struct{}{}:
		return func() { <-m.held }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Close() error { return nil }

// SetFailure makes writes return err; nil restores normal behavior.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Writes returns the number of successful mutations.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

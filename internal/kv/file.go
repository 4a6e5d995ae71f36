package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"navext/internal/fsutil"
)

// File stores each key as <root>/<key>.json, replaced atomically on write.
type File struct {
	root string
	mu   sync.Mutex
}

func NewFile(root string) (*File, error) {
	if root == "" {
		return nil, fmt.Errorf("KV_FILE: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("KV_FILE: %w", err)
	}
	return &File{root: root}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.root, key+".json")
}

func (f *File) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	blob, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("KV_READ: %s: %w", key, err)
	}
	return blob, true, nil
}

func (f *File) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := fsutil.AtomicWrite(f.path(key), value, 0o600); err != nil {
		return fmt.Errorf("KV_WRITE: %s: %w", key, err)
	}
	return nil
}

func (f *File) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("KV_DELETE: %s: %w", key, err)
	}
	return nil
}

func (f *File) Lock(ctx context.Context) (func(), error) {
	return lockFile(ctx, filepath.Join(f.root, LockFileName))
}

func (f *File) Close() error { return nil }

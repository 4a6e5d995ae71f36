// Package kv provides the durable key-value backends behind the state store.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
)

// Backend is a durable string-keyed store of JSON values.
type Backend interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Lock excludes every other holder of the same storage, including other
	// processes, until the returned func is called. It is not reentrant.
	Lock(ctx context.Context) (unlock func(), err error)
	Close() error
}

// LockFileName is the advisory lock taken next to on-disk storage.
const LockFileName = ".lock"


const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("KV_KEY: invalid key %q", key)
	}
	return nil
}

// GetJSON decodes the value stored at key into v. It reports false when the
// key does not exist.
func GetJSON(ctx context.Context, b Backend, key string, v any) (bool, error) {
	blob, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(blob, v); err != nil {
		return true, fmt.Errorf("KV_DECODE: %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(ctx context.Context, b Backend, key string, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("KV_ENCODE: %s: %w", key, err)
	}
	return b.Set(ctx, key, blob)
}

// Open returns the backend of the given kind rooted at path. For the file
// backend path is a directory, for sqlite it is the database file.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case KindFile, "":
		return NewFile(path)
	case KindSQLite:
		return OpenSQLite(path)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("KV_BACKEND: unsupported backend %q", kind)
	}
}

package kv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lockPollInterval = 10 * time.Millisecond

// lockFile takes an exclusive advisory lock on path, creating it if needed,
// and waits until the lock is free or ctx ends. The returned func releases it.
func lockFile(ctx context.Context, path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("KV_LOCK: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("KV_LOCK: %w", err)
	}
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := tryLockExclusive(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("KV_LOCK: %s: %w", path, err)
		}
		if ok {
			return func() {
				_ = unlockFile(f)
				_ = f.Close()
			}, nil
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("KV_LOCK: %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}
}

package store

import (
	"os"
	"path/filepath"

	"navext/internal/kv"
)

func KVRoot(root string) string {
	return filepath.Join(root, "kv")
}

func DBPath(root string) string {
	return filepath.Join(root, "navext.db")
}

func AuditPath(root string) string {
	return filepath.Join(root, "audit.log")
}

func HistoryPath(root string) string {
	return filepath.Join(root, "history.jsonl")
}

func EnsureLayout(root string) error {
	for _, d := range []string{root, KVRoot(root)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// BackendPath returns where the given kv backend lives under root.
func BackendPath(kind, root string) string {
	if kind == kv.KindSQLite {
		return DBPath(root)
	}
	return KVRoot(root)
}

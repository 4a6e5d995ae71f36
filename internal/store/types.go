package store

import (
	"encoding/json"
	"fmt"
	"time"

	"navext/internal/extension"
)

// Keys of the two top-level durable records.
const (
	KeyExtensionStates  = "extensionStates"
	KeyCommunicationLog = "communicationLog"
)

// MaxCommunicationEntries bounds the communication log across all senders.
const MaxCommunicationEntries = 100

// CommunicationEntry is one observed message from another extension.
type CommunicationEntry struct {
	ID        string          `json:"id"`
	SenderID  string          `json:"from"`
	Message   json.RawMessage `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
}

// StateEntry pairs an extension id with its stored snapshot.
type StateEntry struct {
	ID     string           `json:"id"`
	Record extension.Record `json:"record"`
}

// StorageFailure is returned when the durable backend rejects a read or write.
// The in-memory state remains authoritative; the next successful write
// persists it in full.
type StorageFailure struct {
	Op  string
	Key string
	Err error
}

func (e *StorageFailure) Error() string {
	code := "STORE_WRITE"
	switch e.Op {
	case "read":
		code = "STORE_READ"
	case "lock":
		code = "STORE_LOCK"
	}
	return fmt.Sprintf("%s: %s: %v", code, e.Key, e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

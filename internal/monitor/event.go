package monitor

import (
	"encoding/json"
	"time"

	"navext/internal/changes"
	"navext/internal/extension"
	"navext/internal/inventory"
	"navext/internal/notify"
	"navext/internal/risk"
	"navext/internal/store"
)

type Kind string

const (
	KindInitialize  Kind = "initialize"
	KindInstalled   Kind = "installed"
	KindUninstalled Kind = "uninstalled"
	KindEnabled     Kind = "enabled"
	KindAlarm       Kind = "alarm"
	KindRescan      Kind = "rescan"
	KindMessage     Kind = "message"
	KindScan        Kind = "scan"
)

// Event is one lifecycle transition or trigger. Installed and enabled events
// carry a Record and, when known, the item Type; uninstalled carries
// ExtensionID; message carries Sender and Message.
type Event struct {
	Kind        Kind               `json:"kind"`
	Record      extension.Record   `json:"record,omitempty"`
	Type        extension.ItemType `json:"type,omitempty"`
	ExtensionID string             `json:"extensionId,omitempty"`
	Sender      string             `json:"sender,omitempty"`
	Message     json.RawMessage    `json:"message,omitempty"`
	Timestamp   time.Time          `json:"timestamp,omitempty"`
	Origin      string             `json:"origin,omitempty"`
}

// IsExtension reports whether the event concerns an extension rather than a
// theme or app. Events without a type are treated as extensions.
func (e Event) IsExtension() bool {
	return extension.Entry{Type: e.Type}.IsExtension()
}

// Result describes what a handler did.
type Result struct {
	Kind          Kind                      `json:"kind"`
	Stored        int                       `json:"stored,omitempty"`
	Skipped       string                    `json:"skipped,omitempty"`
	Analysis      *risk.Analysis            `json:"analysis,omitempty"`
	Changes       *changes.Report           `json:"changes,omitempty"`
	Scan          *inventory.Report         `json:"scan,omitempty"`
	Entry         *store.CommunicationEntry `json:"entry,omitempty"`
	Notifications []notify.Notification     `json:"notifications"`
}

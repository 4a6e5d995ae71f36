package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"navext/internal/extension"
)

// InventoryFile reads a JSON or YAML dump shaped like the management API's
// getAll() result: a list of items, or an object with an "extensions" list.
// Items that fail to decode are returned with Err set.
type InventoryFile struct {
	Path string
	now  func() time.Time
}

type inventoryItem struct {
	extension.Record `yaml:",inline"`
	Type             extension.ItemType `json:"type" yaml:"type"`
}

type itemID struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

func (f *InventoryFile) List(ctx context.Context) ([]extension.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := readFile(f.Path)
	if err != nil {
		return nil, err
	}
	var entries []extension.Entry
	switch strings.ToLower(filepath.Ext(f.Path)) {
	case ".yaml", ".yml":
		entries, err = decodeYAML(blob)
	default:
		entries, err = decodeJSON(blob)
	}
	if err != nil {
		return nil, fmt.Errorf("SRC_DECODE: %s: %w", f.Path, err)
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	stamp := now().UTC()
	for i := range entries {
		if entries[i].LastChecked.IsZero() {
			entries[i].LastChecked = stamp
		}
	}
	return entries, nil
}

func decodeJSON(blob []byte) ([]extension.Entry, error) {
	blob = bytes.TrimSpace(blob)
	var raw []json.RawMessage
	if len(blob) > 0 && blob[0] == '{' {
		var wrapped struct {
			Extensions []json.RawMessage `json:"extensions"`
		}
		if err := json.Unmarshal(blob, &wrapped); err != nil {
			return nil, err
		}
		raw = wrapped.Extensions
	} else if err := json.Unmarshal(blob, &raw); err != nil {
		return nil, err
	}
	out := make([]extension.Entry, 0, len(raw))
	for _, item := range raw {
		var it inventoryItem
		if err := json.Unmarshal(item, &it); err != nil {
			var id itemID
			_ = json.Unmarshal(item, &id)
			out = append(out, failedEntry(id, err))
			continue
		}
		out = append(out, extension.Entry{Record: it.Record, Type: it.Type})
	}
	return out, nil
}

func decodeYAML(blob []byte) ([]extension.Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return []extension.Entry{}, nil
	}
	list := doc.Content[0]
	if list.Kind == yaml.MappingNode {
		var found *yaml.Node
		for i := 0; i+1 < len(list.Content); i += 2 {
			if list.Content[i].Value == "extensions" {
				found = list.Content[i+1]
			}
		}
		if found == nil {
			return nil, fmt.Errorf("missing extensions list")
		}
		list = found
	}
	if list.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a list of extensions")
	}
	out := make([]extension.Entry, 0, len(list.Content))
	for _, node := range list.Content {
		var it inventoryItem
		if err := node.Decode(&it); err != nil {
			var id itemID
			_ = node.Decode(&id)
			out = append(out, failedEntry(id, err))
			continue
		}
		out = append(out, extension.Entry{Record: it.Record, Type: it.Type})
	}
	return out, nil
}

func failedEntry(id itemID, err error) extension.Entry {
	return extension.Entry{
		Record: extension.Record{ID: id.ID, Name: id.Name},
		Type:   extension.TypeExtension,
		Err:    fmt.Errorf("SRC_ITEM_DECODE: %w", err),
	}
}

// Package changes compares a fresh enumeration against stored snapshots and
// derives the resulting alerts. It never writes to the store.
package changes

import (
	"fmt"
	"sort"
	"strings"

	"navext/internal/extension"
	"navext/internal/history"
	"navext/internal/notify"
	"navext/internal/risk"
)

const (
	TitleHighRisk   = "High-Risk Extension Installed"
	TitleEscalation = "Extension Permissions Changed"
	TitleUpdated    = "Extensions Updated"
)

type Install struct {
	Record   extension.Record `json:"record"`
	Analysis risk.Analysis    `json:"analysis"`
}

type Escalation struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Added  []string         `json:"added"`
	Record extension.Record `json:"record"`
}

type Update struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Downgrade bool             `json:"downgrade"`
	Record    extension.Record `json:"record"`
}

type Removal struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Record extension.Record `json:"record"`
}

// Report lists changes keyed by id. An id that is both escalated and updated
// appears in both lists.
type Report struct {
	NewInstalls []Install    `json:"newInstalls"`
	Escalations []Escalation `json:"escalations"`
	Updates     []Update     `json:"updates"`
	Removed     []Removal    `json:"removed"`
}

func (r Report) Empty() bool {
	return len(r.NewInstalls) == 0 && len(r.Escalations) == 0 && len(r.Updates) == 0 && len(r.Removed) == 0
}

// Drifted returns the current records of every id that needs its stored
// snapshot refreshed, in detection order.
func (r Report) Drifted() []extension.Record {
	seen := map[string]bool{}
	var out []extension.Record
	add := func(rec extension.Record) {
		if !seen[rec.ID] {
			seen[rec.ID] = true
			out = append(out, rec)
		}
	}
	for _, e := range r.Escalations {
		add(e.Record)
	}
	for _, u := range r.Updates {
		add(u.Record)
	}
	return out
}

// Detector finds changes between snapshots. Signals may be nil.
type Detector struct {
	Engine  *risk.Engine
	Signals func(id string) risk.BehaviorSignals
}

func NewDetector(engine *risk.Engine) *Detector {
	return &Detector{Engine: engine}
}

// Detect compares current against previous. Duplicate ids in current keep
// their first occurrence.
func (d *Detector) Detect(previous map[string]extension.Record, current []extension.Record) Report {
	rep := Report{
		NewInstalls: []Install{},
		Escalations: []Escalation{},
		Updates:     []Update{},
		Removed:     []Removal{},
	}
	seen := make(map[string]bool, len(current))
	for _, cur := range current {
		if cur.ID == "" || seen[cur.ID] {
			continue
		}
		seen[cur.ID] = true
		prev, ok := previous[cur.ID]
		if !ok {
			rep.NewInstalls = append(rep.NewInstalls, Install{Record: cur, Analysis: d.analyze(cur)})
			continue
		}
		if added := extension.Difference(cur.Permissions, prev.Permissions); len(added) > 0 {
			rep.Escalations = append(rep.Escalations, Escalation{ID: cur.ID, Name: displayName(cur), Added: added, Record: cur})
		}
		if cur.Version != prev.Version {
			rep.Updates = append(rep.Updates, Update{
				ID:        cur.ID,
				Name:      displayName(cur),
				From:      prev.Version,
				To:        cur.Version,
				Downgrade: extension.CompareVersions(cur.Version, prev.Version) < 0,
				Record:    cur,
			})
		}
	}
	for id, prev := range previous {
		if !seen[id] {
			rep.Removed = append(rep.Removed, Removal{ID: id, Name: displayName(prev), Record: prev})
		}
	}
	sort.Slice(rep.Removed, func(i, j int) bool { return rep.Removed[i].ID < rep.Removed[j].ID })
	return rep
}

// Escalation reports the permissions cur adds over prev, if any. It backs the
// enable and permission-change events.
func (d *Detector) Escalation(prev, cur extension.Record) (Escalation, bool) {
	added := extension.Difference(cur.Permissions, prev.Permissions)
	if len(added) == 0 {
		return Escalation{}, false
	}
	return Escalation{ID: cur.ID, Name: displayName(cur), Added: added, Record: cur}, true
}

func (d *Detector) analyze(rec extension.Record) risk.Analysis {
	var signals risk.BehaviorSignals
	if d.Signals != nil {
		signals = d.Signals(rec.ID)
	}
	engine := d.Engine
	if engine == nil {
		engine = risk.NewEngine(risk.Options{})
	}
	return engine.Analyze(rec, signals)
}

// Alerts derives notifications ordered high, medium, low. Updates are batched
// into a single notification.
func (r Report) Alerts() []notify.Notification {
	var out []notify.Notification
	for _, in := range r.NewInstalls {
		if in.Analysis.RiskLevel == risk.LevelHigh {
			out = append(out, HighRiskAlert(in.Record))
		}
	}
	for _, e := range r.Escalations {
		out = append(out, EscalationAlert(e))
	}
	if n := len(r.Updates); n > 0 {
		out = append(out, notify.Notification{
			Title:    TitleUpdated,
			Body:     fmt.Sprintf("%d extension(s) were updated. Click to review changes.", n),
			Priority: notify.PriorityLow,
		})
	}
	return out
}

func HighRiskAlert(rec extension.Record) notify.Notification {
	return notify.Notification{
		Title:       TitleHighRisk,
		Body:        fmt.Sprintf("%q has dangerous permissions. Click to review.", displayName(rec)),
		Priority:    notify.PriorityHigh,
		ExtensionID: rec.ID,
	}
}

func EscalationAlert(e Escalation) notify.Notification {
	return notify.Notification{
		Title:       TitleEscalation,
		Body:        fmt.Sprintf("%q added new permissions: %s", e.Name, strings.Join(e.Added, ", ")),
		Priority:    notify.PriorityMedium,
		ExtensionID: e.ID,
	}
}

// Events converts the report into history entries.
func (r Report) Events(source string) []history.Event {
	var out []history.Event
	for _, in := range r.NewInstalls {
		out = append(out, history.Event{ExtensionID: in.Record.ID, Name: in.Record.Name, Kind: history.KindInstalled, ToVersion: in.Record.Version, Source: source})
	}
	for _, e := range r.Escalations {
		out = append(out, history.Event{ExtensionID: e.ID, Name: e.Name, Kind: history.KindEscalated, Added: e.Added, Source: source})
	}
	for _, u := range r.Updates {
		out = append(out, history.Event{ExtensionID: u.ID, Name: u.Name, Kind: history.KindUpdated, FromVersion: u.From, ToVersion: u.To, Downgrade: u.Downgrade, Source: source})
	}
	for _, rm := range r.Removed {
		out = append(out, history.Event{ExtensionID: rm.ID, Name: rm.Name, Kind: history.KindRemoved, FromVersion: rm.Record.Version, Source: source})
	}
	return out
}

func displayName(rec extension.Record) string {
	if strings.TrimSpace(rec.Name) != "" {
		return rec.Name
	}
	return rec.ID
}

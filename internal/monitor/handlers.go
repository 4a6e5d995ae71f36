package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"navext/internal/changes"
	"navext/internal/extension"
	"navext/internal/history"
	"navext/internal/notify"
	"navext/internal/risk"
	"navext/internal/source"
	"navext/internal/store"
)

// initialize takes the first bulk snapshot of every installed extension.
func (s *Service) initialize(ctx context.Context, res *Result) error {
	entries, err := s.enumerate(ctx)
	if err != nil {
		return err
	}
	recs := source.Records(entries)
	if err := s.tolerate(s.opts.Store.PutAll(ctx, recs)); err != nil {
		return err
	}
	res.Stored = len(recs)
	res.Notifications = append(res.Notifications, notify.Notification{
		Title:    "Extension Monitor Active",
		Body:     fmt.Sprintf("Now monitoring %d extension(s) for risky changes.", len(recs)),
		Priority: notify.PriorityLow,
	})
	return nil
}

func (s *Service) installed(ctx context.Context, ev Event, res *Result) error {
	rec := ev.Record
	if err := extension.Validate(rec); err != nil {
		return fmt.Errorf("MON_EVENT: installed: %w", err)
	}
	if rec.ID == s.opts.SelfID {
		return nil
	}
	if !ev.IsExtension() {
		res.Skipped = string(ev.Type)
		return nil
	}
	stamp(&rec, ev.Timestamp)
	a := s.opts.Engine.Analyze(rec, s.signals(rec.ID))
	res.Analysis = &a
	if a.RiskLevel == risk.LevelHigh {
		res.Notifications = append(res.Notifications, changes.HighRiskAlert(rec))
	}
	if err := s.tolerate(s.opts.Store.Put(ctx, rec.ID, rec)); err != nil {
		return err
	}
	res.Stored = 1
	s.appendHistory(history.Event{ExtensionID: rec.ID, Name: rec.Name, Kind: history.KindInstalled, ToVersion: rec.Version, Source: ev.Origin})
	return nil
}

// uninstalled drops the snapshot and everything the extension sent.
func (s *Service) uninstalled(ctx context.Context, ev Event, res *Result) error {
	id := strings.TrimSpace(ev.ExtensionID)
	if id == "" {
		id = ev.Record.ID
	}
	if id == "" {
		return fmt.Errorf("MON_EVENT: uninstalled: missing extension id")
	}
	prev, _ := s.opts.Store.Get(id)
	if err := s.tolerate(s.opts.Store.Delete(ctx, id)); err != nil {
		return err
	}
	if err := s.tolerate(s.opts.Store.DeleteCommunications(ctx, id)); err != nil {
		return err
	}
	s.appendHistory(history.Event{ExtensionID: id, Name: prev.Name, Kind: history.KindUninstalled, FromVersion: prev.Version, Source: ev.Origin})
	return nil
}

// enabled alerts on permissions added since the stored snapshot, then
// refreshes the snapshot.
func (s *Service) enabled(ctx context.Context, ev Event, res *Result) error {
	rec := ev.Record
	if err := extension.Validate(rec); err != nil {
		return fmt.Errorf("MON_EVENT: enabled: %w", err)
	}
	if rec.ID == s.opts.SelfID {
		return nil
	}
	if !ev.IsExtension() {
		res.Skipped = string(ev.Type)
		return nil
	}
	stamp(&rec, ev.Timestamp)
	err := s.opts.Store.Update(ctx, rec.ID, func(prev extension.Record, ok bool) (extension.Record, bool, error) {
		if ok {
			if esc, found := s.opts.Detector.Escalation(prev, rec); found {
				res.Notifications = append(res.Notifications, changes.EscalationAlert(esc))
				s.appendHistory(history.Event{ExtensionID: rec.ID, Name: rec.Name, Kind: history.KindEscalated, Added: esc.Added, Source: ev.Origin})
			}
		}
		s.appendHistory(history.Event{ExtensionID: rec.ID, Name: rec.Name, Kind: history.KindEnabled, ToVersion: rec.Version, Source: ev.Origin})
		res.Stored = 1
		return rec, true, nil
	})
	return s.tolerate(err)
}

// reconcile compares the live inventory with the stored snapshots, persists
// the differences and alerts on them.
func (s *Service) reconcile(ctx context.Context, ev Event, res *Result) error {
	entries, err := s.enumerate(ctx)
	if err != nil {
		return err
	}
	if err := s.tolerate(s.opts.Store.Refresh(ctx)); err != nil {
		return err
	}
	previous := s.opts.Store.Snapshot()
	current := source.Records(entries)
	// An entry that cannot be decoded right now is not a removal.
	for _, e := range entries {
		if e.Err == nil || e.ID == "" {
			continue
		}
		if prev, ok := previous[e.ID]; ok {
			current = append(current, prev)
		}
	}

	rep := s.opts.Detector.Detect(previous, current)
	res.Changes = &rep
	res.Notifications = append(res.Notifications, rep.Alerts()...)
	if rep.Empty() {
		return nil
	}

	var writes []extension.Record
	for _, in := range rep.NewInstalls {
		writes = append(writes, in.Record)
	}
	writes = append(writes, rep.Drifted()...)
	if len(writes) > 0 {
		if err := s.tolerate(s.opts.Store.PutAll(ctx, writes)); err != nil {
			return err
		}
	}
	for _, rm := range rep.Removed {
		if err := s.tolerate(s.opts.Store.Delete(ctx, rm.ID)); err != nil {
			return err
		}
		if err := s.tolerate(s.opts.Store.DeleteCommunications(ctx, rm.ID)); err != nil {
			return err
		}
	}
	res.Stored = len(writes)
	s.appendHistory(rep.Events(string(ev.Kind))...)
	return nil
}

func (s *Service) message(ctx context.Context, ev Event, res *Result) error {
	entry, err := s.opts.Store.AppendCommunication(ctx, store.CommunicationEntry{
		SenderID:  ev.Sender,
		Message:   ev.Message,
		Timestamp: ev.Timestamp,
	})
	if err = s.tolerate(err); err != nil {
		return err
	}
	res.Entry = &entry
	return nil
}

func (s *Service) scan(ctx context.Context, res *Result) error {
	if s.opts.Scanner == nil {
		return fmt.Errorf("MON_SCAN: no scanner configured")
	}
	rep, err := s.opts.Scanner.ScanAll(ctx)
	if err != nil {
		return err
	}
	res.Scan = &rep
	return nil
}

func (s *Service) enumerate(ctx context.Context) ([]extension.Entry, error) {
	if s.opts.Scanner == nil {
		return nil, fmt.Errorf("MON_SCAN: no scanner configured")
	}
	return s.opts.Scanner.Enumerate(ctx)
}

func stamp(rec *extension.Record, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now()
	}
	if rec.LastChecked.IsZero() {
		rec.LastChecked = ts.UTC()
	}
}

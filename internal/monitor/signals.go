package monitor

import (
	"time"

	"navext/internal/history"
	"navext/internal/risk"
	"navext/internal/store"
)

// Signals derives behavior observations from the change history and the
// communication log.
type Signals struct {
	History *history.Log
	Store   *store.Store
	Window  time.Duration
	Now     func() time.Time
}

func (s *Signals) For(id string) risk.BehaviorSignals {
	var out risk.BehaviorSignals
	if s == nil {
		return out
	}
	if s.Store != nil {
		out.MessageCount = s.Store.CommunicationCount(id)
	}
	if s.History != nil && s.Window > 0 {
		if recent, err := s.History.RecentlyUpdated(id, s.since()); err == nil {
			out.RecentlyUpdated = recent
		}
	}
	return out
}

// Batch reads the update history once and answers lookups for a whole scan
// from that read.
func (s *Signals) Batch() func(id string) risk.BehaviorSignals {
	if s == nil {
		return func(string) risk.BehaviorSignals { return risk.BehaviorSignals{} }
	}
	var updated map[string]bool
	if s.History != nil && s.Window > 0 {
		var err error
		if updated, err = s.History.UpdatedSince(s.since()); err != nil {
			updated = nil
		}
	}
	return func(id string) risk.BehaviorSignals {
		out := risk.BehaviorSignals{RecentlyUpdated: updated[id]}
		if s.Store != nil {
			out.MessageCount = s.Store.CommunicationCount(id)
		}
		return out
	}
}

func (s *Signals) since() time.Time {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().Add(-s.Window)
}

// Package inventory produces the full risk report of every installed
// extension.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"navext/internal/extension"
	"navext/internal/risk"
	"navext/internal/source"
)

// RequiredPermission is the capability the scanner needs to enumerate.
const RequiredPermission = "management"

// MissingPermissionError means the scanner itself cannot enumerate
// extensions. It is actionable by the user and never retried.
type MissingPermissionError struct {
	Permission string
	Err        error
}

func (e *MissingPermissionError) Error() string {
	msg := fmt.Sprintf("INV_MISSING_PERMISSION: the %q permission is required to enumerate extensions", e.Permission)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingPermissionError) Unwrap() error { return e.Err }

type Summary struct {
	Total   int `json:"total"`
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	Unknown int `json:"unknown"`
}

func (s *Summary) add(level risk.Level) {
	s.Total++
	switch level {
	case risk.LevelHigh:
		s.High++
	case risk.LevelMedium:
		s.Medium++
	case risk.LevelLow:
		s.Low++
	default:
		s.Unknown++
	}
}

// Report is sorted by descending score; equal scores keep enumeration order.
type Report struct {
	Extensions []risk.Analysis `json:"extensions"`
	Summary    Summary         `json:"summary"`
}

type Scanner struct {
	Source          source.Enumerator
	Engine          *risk.Engine
	SelfID          string
	SelfPermissions []string
	// Signals supplies behavior observations per id; nil means none.
	Signals func(id string) risk.BehaviorSignals
	// BatchSignals, when set, is called once per scan and replaces Signals
	// for that scan.
	BatchSignals func() func(id string) risk.BehaviorSignals
}

// ScanAll enumerates and analyzes every extension other than the scanner
// itself. A single bad record is reported as unknown; failure to enumerate
// aborts the scan.
func (s *Scanner) ScanAll(ctx context.Context) (Report, error) {
	entries, err := s.enumerate(ctx)
	if err != nil {
		return Report{}, err
	}
	engine := s.Engine
	if engine == nil {
		engine = risk.NewEngine(risk.Options{})
	}
	lookup := s.Signals
	if s.BatchSignals != nil {
		lookup = s.BatchSignals()
	}
	rep := Report{Extensions: []risk.Analysis{}}
	for _, entry := range entries {
		var signals risk.BehaviorSignals
		if lookup != nil && entry.Err == nil {
			signals = lookup(entry.ID)
		}
		a := engine.AnalyzeEntry(entry, signals)
		rep.Extensions = append(rep.Extensions, a)
		rep.Summary.add(a.RiskLevel)
	}
	sort.SliceStable(rep.Extensions, func(i, j int) bool {
		return rep.Extensions[i].RiskScore > rep.Extensions[j].RiskScore
	})
	return rep, nil
}

// Enumerate returns the auditable entries: extensions other than the
// scanner itself, in enumeration order.
func (s *Scanner) Enumerate(ctx context.Context) ([]extension.Entry, error) {
	return s.enumerate(ctx)
}

func (s *Scanner) enumerate(ctx context.Context) ([]extension.Entry, error) {
	if !hasPermission(s.SelfPermissions, RequiredPermission) {
		return nil, &MissingPermissionError{Permission: RequiredPermission}
	}
	if s.Source == nil {
		return nil, fmt.Errorf("INV_ENUMERATE: no extension source configured")
	}
	all, err := s.Source.List(ctx)
	if err != nil {
		if errors.Is(err, source.ErrPermission) {
			return nil, &MissingPermissionError{Permission: RequiredPermission, Err: err}
		}
		return nil, fmt.Errorf("INV_ENUMERATE: %w", err)
	}
	out := make([]extension.Entry, 0, len(all))
	for _, e := range all {
		if !e.IsExtension() || (s.SelfID != "" && e.ID == s.SelfID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func hasPermission(perms []string, want string) bool {
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}

// IsMissingPermission reports whether err is a MissingPermissionError.
func IsMissingPermission(err error) bool {
	var mp *MissingPermissionError
	return errors.As(err, &mp)
}

package risk

import (
	"errors"
	"fmt"
	"strings"

	"navext/internal/extension"
)

// Level is the bucket derived from a total risk score.
type Level int

const (
	LevelUnknown Level = iota // analysis failed
	LevelLow
	LevelMedium
	LevelHigh
)

const (
	HighThreshold   = 60
	MediumThreshold = 30
	MaxScore        = 100

	// DefaultTrustedUpdateDomain marks update URLs served by the official store.
	DefaultTrustedUpdateDomain = extension.DefaultTrustedUpdateDomain
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParseLevel converts a level string to its typed value.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return LevelHigh
	case "medium":
		return LevelMedium
	case "low":
		return LevelLow
	default:
		return LevelUnknown
	}
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	*l = ParseLevel(string(b))
	return nil
}

// LevelForScore maps a clamped score onto a level.
func LevelForScore(score int) Level {
	switch {
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Fixed finding strings. Presentation layers match on these.
const (
	FactorAllURLs          = "Access to all websites"
	FactorAnalysisFailed   = "Analysis failed"
	IssueDevelopmentMode   = "Development mode - not from store"
	IssueCannotDisable     = "Cannot be disabled by user"
	IssueNonStandardUpdate = "Non-standard update URL"
	IssueNoHomepage        = "No homepage URL"
	IssueRecentlyUpdated   = "Recently updated"
	IssueCommunicates      = "Communicates with other extensions"
)

type PermissionAnalysis struct {
	Dangerous []string `json:"dangerous"`
	Sensitive []string `json:"sensitive"`
	Score     int      `json:"score"`
}

type HostAccessAnalysis struct {
	AllURLs       bool     `json:"allUrls"`
	BroadAccess   bool     `json:"broadAccess"`
	SpecificSites []string `json:"specificSites"`
	Score         int      `json:"score"`
}

type MetadataAnalysis struct {
	Issues []string `json:"issues"`
	Score  int      `json:"score"`
}

type BehaviorAnalysis struct {
	RecentlyUpdated        bool     `json:"recentlyUpdated"`
	CommunicatesExternally bool     `json:"communicatesExternally"`
	MessageCount           int      `json:"messageCount"`
	Issues                 []string `json:"issues,omitempty"`
	Score                  int      `json:"score"`
}

// Breakdown holds the four independent sub-analyses.
type Breakdown struct {
	Permissions PermissionAnalysis `json:"permissions"`
	HostAccess  HostAccessAnalysis `json:"hostAccess"`
	Metadata    MetadataAnalysis   `json:"metadata"`
	Behavior    BehaviorAnalysis   `json:"behavior"`
}

// Analysis is the derived risk view of one extension. It is recomputed on
// demand and never persisted as authoritative.
type Analysis struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Version     string                `json:"version"`
	Enabled     bool                  `json:"enabled"`
	InstallType extension.InstallType `json:"installType"`
	HomepageURL *string               `json:"homepageUrl,omitempty"`
	RiskScore   int                   `json:"riskScore"`
	RiskLevel   Level                 `json:"riskLevel"`
	RiskFactors []string              `json:"riskFactors"`
	Analysis    *Breakdown            `json:"analysis,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// BehaviorSignals are observations gathered outside the record itself, such
// as change history and the communication log.
type BehaviorSignals struct {
	RecentlyUpdated bool
	MessageCount    int
}

// AnalysisFailure reports a record that could not be scored.
type AnalysisFailure struct {
	ID  string
	Err error
}

func (e *AnalysisFailure) Error() string {
	return fmt.Sprintf("RISK_ANALYSIS_FAILED: %s: %v", e.ID, e.Err)
}

func (e *AnalysisFailure) Unwrap() error { return e.Err }

// Options tune the engine. Behavior weights default to zero.
type Options struct {
	TrustedUpdateDomain   string
	RecentUpdateWeight    int
	ExternalMessageWeight int
}

// Engine scores extension records. It is safe for concurrent use.
type Engine struct {
	opts Options
}

func NewEngine(opts Options) *Engine {
	if opts.TrustedUpdateDomain == "" {
		opts.TrustedUpdateDomain = DefaultTrustedUpdateDomain
	}
	return &Engine{opts: opts}
}

// Analyze scores a single record. It never panics into the caller; a
// structurally unusable record yields a LevelUnknown analysis.
func (e *Engine) Analyze(rec extension.Record, signals BehaviorSignals) (out Analysis) {
	defer func() {
		if r := recover(); r != nil {
			out = Failed(rec, &AnalysisFailure{ID: rec.ID, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	if err := extension.Validate(rec); err != nil {
		return Failed(rec, &AnalysisFailure{ID: rec.ID, Err: err})
	}

	b := &Breakdown{
		Permissions: analyzePermissions(rec.Permissions),
		HostAccess:  analyzeHostAccess(rec.HostPermissions),
		Metadata:    e.analyzeMetadata(rec),
		Behavior:    e.analyzeBehavior(signals),
	}
	out = identity(rec)
	out.Analysis = b
	out.RiskFactors = []string{}

	if n := len(b.Permissions.Dangerous); n > 0 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("%d dangerous permissions", n))
	}
	if b.HostAccess.AllURLs {
		out.RiskFactors = append(out.RiskFactors, FactorAllURLs)
	}
	out.RiskFactors = append(out.RiskFactors, b.Metadata.Issues...)
	out.RiskFactors = append(out.RiskFactors, b.Behavior.Issues...)

	out.RiskScore = clamp(b.Permissions.Score + b.HostAccess.Score + b.Metadata.Score + b.Behavior.Score)
	out.RiskLevel = LevelForScore(out.RiskScore)
	return out
}

// AnalyzeEntry scores an enumerated entry, failing it if the enumerator could
// not decode it.
func (e *Engine) AnalyzeEntry(entry extension.Entry, signals BehaviorSignals) Analysis {
	if entry.Err != nil {
		return Failed(entry.Record, &AnalysisFailure{ID: entry.ID, Err: entry.Err})
	}
	return e.Analyze(entry.Record, signals)
}

// Failed builds the analysis reported for a record that could not be scored.
func Failed(rec extension.Record, err error) Analysis {
	out := identity(rec)
	out.RiskScore = 0
	out.RiskLevel = LevelUnknown
	out.RiskFactors = []string{FactorAnalysisFailed}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// IsFailure reports whether err is an AnalysisFailure.
func IsFailure(err error) bool {
	var af *AnalysisFailure
	return errors.As(err, &af)
}

func identity(rec extension.Record) Analysis {
	out := Analysis{
		ID:          rec.ID,
		Name:        rec.Name,
		Version:     rec.Version,
		Enabled:     rec.Enabled,
		InstallType: rec.InstallType,
	}
	if rec.HomepageURL != nil {
		v := *rec.HomepageURL
		out.HomepageURL = &v
	}
	return out
}

func analyzePermissions(perms []string) PermissionAnalysis {
	res := PermissionAnalysis{Dangerous: []string{}, Sensitive: []string{}}
	set := extension.Set(perms)
	has := make(map[string]bool, len(set))
	for _, p := range set {
		has[p] = true
		switch ClassifyPermission(p) {
		case TierDangerous:
			res.Dangerous = append(res.Dangerous, p)
			res.Score += 20
		case TierSensitive:
			res.Sensitive = append(res.Sensitive, p)
			res.Score += 10
		}
	}
	// Combination bonuses stack on top of the per-permission scores.
	if has["webRequest"] && has["webRequestBlocking"] {
		res.Score += 15
	}
	if has["cookies"] && has["webRequest"] {
		res.Score += 15
	}
	return res
}

func analyzeHostAccess(hosts []string) HostAccessAnalysis {
	res := HostAccessAnalysis{SpecificSites: []string{}}
	for _, pattern := range extension.Set(hosts) {
		switch ClassifyHost(pattern) {
		case HostAllURLs:
			res.AllURLs = true
		case HostBroadWildcard:
			res.BroadAccess = true
			res.Score += 15
		default:
			res.SpecificSites = append(res.SpecificSites, pattern)
			res.Score += 5
		}
	}
	if res.AllURLs {
		res.Score += 30
	}
	return res
}

func (e *Engine) analyzeMetadata(rec extension.Record) MetadataAnalysis {
	res := MetadataAnalysis{Issues: []string{}}
	if rec.InstallType == extension.InstallDevelopment {
		res.Issues = append(res.Issues, IssueDevelopmentMode)
		res.Score += 20
	}
	if !rec.MayDisable {
		res.Issues = append(res.Issues, IssueCannotDisable)
		res.Score += 25
	}
	if rec.UpdateURL != nil && !extension.UpdatesFrom(*rec.UpdateURL, e.opts.TrustedUpdateDomain) {
		res.Issues = append(res.Issues, IssueNonStandardUpdate)
		res.Score += 15
	}
	if rec.HomepageURL == nil {
		res.Issues = append(res.Issues, IssueNoHomepage)
		res.Score += 5
	}
	return res
}

// analyzeBehavior always records the observed signals; they only contribute
// score and findings when a weight is configured.
func (e *Engine) analyzeBehavior(s BehaviorSignals) BehaviorAnalysis {
	res := BehaviorAnalysis{
		RecentlyUpdated:        s.RecentlyUpdated,
		CommunicatesExternally: s.MessageCount > 0,
		MessageCount:           s.MessageCount,
	}
	if res.RecentlyUpdated && e.opts.RecentUpdateWeight != 0 {
		res.Issues = append(res.Issues, IssueRecentlyUpdated)
		res.Score += e.opts.RecentUpdateWeight
	}
	if res.CommunicatesExternally && e.opts.ExternalMessageWeight != 0 {
		res.Issues = append(res.Issues, IssueCommunicates)
		res.Score += e.opts.ExternalMessageWeight
	}
	return res
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

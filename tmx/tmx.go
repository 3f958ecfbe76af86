package tmx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// ========================= Scan =========================

// Scan types understood by the backend.
const (
	ScanTypeSAST           = "sast"
	ScanTypeThreatModel    = "threat_model"
	ScanTypeThreatModeling = "threat_modeling"
	ScanTypeDAST           = "dast"
	ScanTypeAll            = "all"
)

// ScanRequest is the body of POST /api/scan. It is not modified after it is sent.
type ScanRequest struct {
	RepoPath  string   `json:"repo_path"`
	ScanTypes []string `json:"scan_types"`
}

var (
	ErrEmptyRepoPath  = errors.New("target path is required")
	ErrEmptyScanTypes = errors.New("at least one scan type is required")
)

// Validate checks the only constraints the client enforces. Path legality is left
// to the backend.
func (r ScanRequest) Validate() error {
	if strings.TrimSpace(r.RepoPath) == "" {
		return ErrEmptyRepoPath
	}
	for _, t := range r.ScanTypes {
		if strings.TrimSpace(t) != "" {
			return nil
		}
	}
	return ErrEmptyScanTypes
}

// ScanHandle identifies one accepted scan.
type ScanHandle struct {
	ScanID string `json:"scan_id"`
}

// ScanStatus is the status string reported by GET /api/scan/{id}.
type ScanStatus string

const (
	StatusQueued    ScanStatus = "queued"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
	StatusError     ScanStatus = "error"
	StatusNotFound  ScanStatus = "not_found"
)

// IsTerminal reports whether polling should stop on this status.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusError, StatusNotFound:
		return true
	}
	return false
}

// IsFailure reports whether the status is a backend-reported terminal failure.
func (s ScanStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusError || s == StatusNotFound
}

// StatusSnapshot is one poll result. Snapshots are independent of each other.
type StatusSnapshot struct {
	ScanID       string     `json:"scan_id,omitempty"`
	Status       ScanStatus `json:"status"`
	CurrentStage string     `json:"current_stage,omitempty"`
	Progress     Progress   `json:"progress"`
	Details      string     `json:"details,omitempty"`
	Error        string     `json:"error,omitempty"`
	RepoPath     string     `json:"repo_path,omitempty"`
	StartedAt    Timestamp  `json:"started_at"`
	CompletedAt  Timestamp  `json:"completed_at"`
}

// ScanSummary is one row of GET /api/scans.
type ScanSummary struct {
	ScanID      string     `json:"scan_id"`
	Status      ScanStatus `json:"status"`
	StartedAt   Timestamp  `json:"started_at"`
	CompletedAt Timestamp  `json:"completed_at"`
}

// Progress is the optional progress field of a status snapshot. The backend sends
// it as a percentage string ("40%"), some deployments send a bare number.
type Progress struct {
	Value int
	Set   bool
}

// ProgressOf returns an explicit progress value.
func ProgressOf(v int) Progress {
	return Progress{Value: v, Set: true}
}

func (p *Progress) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*p = Progress{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		s = strings.Replace(s, "%", "", 1)
		if strings.TrimSpace(s) == "" {
			*p = Progress{}
			return nil
		}
		*p = Progress{Value: leadingInt(s), Set: true}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("progress: %w", err)
	}
	f = math.Max(-progressCeiling, math.Min(f, progressCeiling))
	*p = Progress{Value: int(f), Set: true}
	return nil
}

func (p Progress) MarshalJSON() ([]byte, error) {
	if !p.Set {
		return []byte("null"), nil
	}
	return json.Marshal(fmt.Sprintf("%d%%", p.Value))
}

// progressCeiling bounds decoded progress well past any valid percentage so
// oversized values cannot overflow int. Callers clamp to 0..100 themselves.
const progressCeiling = 1000

// leadingInt reads an optionally signed integer prefix, ignoring leading spaces.
// Anything unparsable reads as 0.
func leadingInt(s string) int {
	s = strings.TrimLeft(s, " \t\n\r")
	neg := false
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	n := 0
	for i := 0; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > progressCeiling {
			n = progressCeiling
			break
		}
	}
	if neg {
		return -n
	}
	return n
}

// Timestamp decodes the backend's ISO timestamps, which often lack a zone suffix.
// Zone-less values are read as UTC. Empty, null and unparsable values are the zero time.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	slog.Debug("Ignoring timestamp in an unrecognised format", "value", s)
	t.Time = time.Time{}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// ========================= Findings =========================

// Severity of a finding or threat.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Severities lists the levels from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ParseSeverity accepts any letter case.
func ParseSeverity(s string) (Severity, error) {
	v := Severity(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Severities {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// FindingStatus is the review state of a finding.
type FindingStatus string

const (
	FindingOpen          FindingStatus = "OPEN"
	FindingInProgress    FindingStatus = "IN_PROGRESS"
	FindingFixed         FindingStatus = "FIXED"
	FindingFalsePositive FindingStatus = "FALSE_POSITIVE"
)

func (s FindingStatus) Valid() bool {
	switch s {
	case FindingOpen, FindingInProgress, FindingFixed, FindingFalsePositive:
		return true
	}
	return false
}

// Finding is one issue detected by a scan tool.
type Finding struct {
	ID               string            `json:"id"`
	Tool             string            `json:"tool"`
	Language         string            `json:"language,omitempty"`
	File             string            `json:"file"`
	Line             int               `json:"line,omitempty"`
	CWE              string            `json:"cwe,omitempty"`
	Severity         Severity          `json:"severity"`
	Description      string            `json:"description"`
	Evidence         string            `json:"evidence,omitempty"`
	FixSuggestion    string            `json:"fix_suggestion,omitempty"`
	RiskScore        float64           `json:"risk_score,omitempty"`
	Component        string            `json:"component,omitempty"`
	Status           FindingStatus     `json:"status"`
	ManualReview     *Review           `json:"manual_review,omitempty"`
	ReviewerComments []ReviewerComment `json:"reviewer_comments,omitempty"`
	CreatedAt        Timestamp         `json:"created_at"`
	UpdatedAt        Timestamp         `json:"updated_at"`
}

// Validate rejects records the views cannot key on.
func (f Finding) Validate() error {
	if f.ID == "" {
		return errors.New("finding without id")
	}
	return nil
}

// Review is the body of POST /api/findings/{id}/review.
type Review struct {
	Status    FindingStatus `json:"status"`
	Comment   string        `json:"comment"`
	Reviewer  string        `json:"reviewer"`
	Timestamp Timestamp     `json:"timestamp"`
}

// AnonymousReviewer is recorded when a review carries no reviewer name.
const AnonymousReviewer = "Anonymous"

// Normalize fills the defaults the dashboard applied before sending a review.
func (r Review) Normalize(now time.Time) Review {
	if strings.TrimSpace(r.Reviewer) == "" {
		r.Reviewer = AnonymousReviewer
	}
	if r.Status == "" {
		r.Status = FindingOpen
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = Timestamp{now.UTC()}
	}
	return r
}

func (r Review) Validate() error {
	if !r.Status.Valid() {
		return fmt.Errorf("invalid review status %q", r.Status)
	}
	if strings.TrimSpace(r.Comment) == "" {
		return errors.New("review comment is required")
	}
	return nil
}

// ReviewerComment is one entry of a finding's reviewer log.
type ReviewerComment struct {
	Comment   string    `json:"comment"`
	Reviewer  string    `json:"reviewer"`
	Timestamp Timestamp `json:"timestamp"`
}

// RemediationPlan holds suggested fix steps for one finding.
type RemediationPlan struct {
	FindingID       string   `json:"finding_id"`
	Priority        int      `json:"priority"`
	EstimatedEffort string   `json:"estimated_effort"`
	Steps           []string `json:"steps"`
	CodeSnippet     string   `json:"code_snippet,omitempty"`
	Resources       []string `json:"resources"`
}

// ========================= Threats =========================

// StrideCategory is the STRIDE class of a threat.
type StrideCategory string

const (
	StrideSpoofing              StrideCategory = "SPOOFING"
	StrideTampering             StrideCategory = "TAMPERING"
	StrideRepudiation           StrideCategory = "REPUDIATION"
	StrideInformationDisclosure StrideCategory = "INFORMATION_DISCLOSURE"
	StrideDenialOfService       StrideCategory = "DENIAL_OF_SERVICE"
	StrideElevationOfPrivilege  StrideCategory = "ELEVATION_OF_PRIVILEGE"
)

// StrideCategories in STRIDE order.
var StrideCategories = []StrideCategory{
	StrideSpoofing,
	StrideTampering,
	StrideRepudiation,
	StrideInformationDisclosure,
	StrideDenialOfService,
	StrideElevationOfPrivilege,
}

// Label returns the human readable category name.
func (c StrideCategory) Label() string {
	switch c {
	case StrideSpoofing:
		return "Spoofing"
	case StrideTampering:
		return "Tampering"
	case StrideRepudiation:
		return "Repudiation"
	case StrideInformationDisclosure:
		return "Information Disclosure"
	case StrideDenialOfService:
		return "Denial of Service"
	case StrideElevationOfPrivilege:
		return "Elevation of Privilege"
	}
	return string(c)
}

// ParseStrideCategory accepts the enum value in any case, with spaces or underscores.
func ParseStrideCategory(s string) (StrideCategory, error) {
	v := StrideCategory(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	for _, known := range StrideCategories {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown STRIDE category %q", s)
}

// Threat is one STRIDE-categorised risk derived from the findings.
type Threat struct {
	ID           string         `json:"id"`
	Category     StrideCategory `json:"category"`
	Description  string         `json:"description"`
	Component    string         `json:"component"`
	AttackVector string         `json:"attack_vector"`
	MitreIDs     []string       `json:"mitre_ids"`
	CWEIDs       []string       `json:"cwe_ids"`
	RiskLevel    Severity       `json:"risk_level"`
	Mitigation   string         `json:"mitigation"`
}

func (t Threat) Validate() error {
	if t.ID == "" {
		return errors.New("threat without id")
	}
	return nil
}

// ========================= Dashboard =========================

// SeverityBreakdown counts findings per severity across completed scans.
type SeverityBreakdown struct {
	Critical int `json:"CRITICAL"`
	High     int `json:"HIGH"`
	Medium   int `json:"MEDIUM"`
	Low      int `json:"LOW"`
}

// Stats is the body of GET /api/stats.
type Stats struct {
	TotalScans        int               `json:"total_scans"`
	CompletedScans    int               `json:"completed_scans"`
	TotalFindings     int               `json:"total_findings"`
	TotalThreats      int               `json:"total_threats"`
	SeverityBreakdown SeverityBreakdown `json:"severity_breakdown"`
}

// DemoApp is one scan target advertised by GET /api/demo-apps.
type DemoApp struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Icon            string   `json:"icon,omitempty"`
	Path            string   `json:"path"`
	Language        string   `json:"language"`
	Vulnerabilities []string `json:"vulnerabilities"`
}

// ========================= Reports =========================

// Report formats accepted by GET /api/report/{id}.
const (
	ReportJSON = "json"
	ReportHTML = "html"
)

// Report is a generated scan report. HTML is set for html reports, Raw holds the
// json report document.
type Report struct {
	ScanID string          `json:"scan_id"`
	Format string          `json:"format"`
	HTML   string          `json:"html,omitempty"`
	Raw    json.RawMessage `json:"report,omitempty"`
}

// ExportResult is the reply of POST /api/export/{id}.
type ExportResult struct {
	Status       string `json:"status"`
	ReportFormat string `json:"report_format"`
	ReportPath   string `json:"report_path"`
	EmailSent    bool   `json:"email_sent"`
	Message      string `json:"message"`
}

// ========================= Scan log =========================

// LogType classifies a scan log line.
type LogType string

const (
	LogInfo    LogType = "info"
	LogWarning LogType = "warning"
	LogError   LogType = "error"
	LogSuccess LogType = "success"
)

// LogEntry is one line of a scan's activity log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Type      LogType   `json:"type"`
}

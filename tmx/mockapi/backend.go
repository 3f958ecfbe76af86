// Package mockapi is an in-memory ThreatModelerX backend for local development and
// tests. Scans advance one scripted step per status poll.
package mockapi

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threatmodelerx/go-api/tmx"
)

type scanState struct {
	id        string
	repoPath  string
	scanTypes []string
	script    []Step
	step      int
	polls     int
	status    tmx.ScanStatus
	startedAt time.Time
	doneAt    time.Time
	findings  []tmx.Finding
	threats   []tmx.Threat
}

// advance returns the step the current poll reports and moves the script on.
func (s *scanState) advance(now time.Time) Step {
	s.polls++
	step := s.script[s.step]
	if s.step < len(s.script)-1 {
		s.step++
	}
	if s.status.IsTerminal() {
		return step
	}
	s.status = step.Status
	if step.Status.IsTerminal() {
		s.doneAt = now
		if step.Status == tmx.StatusCompleted {
			s.findings, s.threats = fixturesFor(s.id, now)
		}
	}
	return step
}

func fixturesFor(scanID string, now time.Time) ([]tmx.Finding, []tmx.Threat) {
	ts := tmx.Timestamp{Time: now.UTC()}
	findings := make([]tmx.Finding, len(fixtureFindings))
	for i, f := range fixtureFindings {
		f.ID = fmt.Sprintf("%s-F%03d", scanID, i+1)
		f.Status = tmx.FindingOpen
		f.CreatedAt = ts
		f.UpdatedAt = ts
		findings[i] = f
	}
	threats := make([]tmx.Threat, len(fixtureThreats))
	for i, t := range fixtureThreats {
		t.ID = fmt.Sprintf("%s-T%03d", scanID, i+1)
		t.MitreIDs = append([]string(nil), t.MitreIDs...)
		t.CWEIDs = append([]string(nil), t.CWEIDs...)
		threats[i] = t
	}
	return findings, threats
}

// Backend holds the mock's state. The zero value is not usable; use New.
type Backend struct {
	mu         sync.Mutex
	scans      map[string]*scanState
	order      []string
	script     []Step
	submitFail int
	pollFails  int
	uploads    map[string][]byte
	now        func() time.Time
}

func New() *Backend {
	return &Backend{
		scans:   make(map[string]*scanState),
		uploads: make(map[string][]byte),
		script:  DefaultScript(),
		now:     time.Now,
	}
}

// ScriptScan sets the script used by scans submitted from now on.
func (b *Backend) ScriptScan(script ...Step) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(script) == 0 {
		script = DefaultScript()
	}
	b.script = append([]Step(nil), script...)
}

// FailNextSubmit makes the next scan submission reply with status.
func (b *Backend) FailNextSubmit(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitFail = status
}

// FailPolls makes the next n status polls reply 500.
func (b *Backend) FailPolls(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pollFails = n
}

// Polls returns how many status requests scanID has received, failed ones included.
func (b *Backend) Polls(scanID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.scans[scanID]; ok {
		return s.polls
	}
	return 0
}

// Complete seeds a completed scan with fixtures and returns its id.
func (b *Backend) Complete(repoPath string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.create(repoPath, []string{tmx.ScanTypeAll})
	s.status = tmx.StatusCompleted
	s.step = len(s.script) - 1
	s.doneAt = b.now()
	s.findings, s.threats = fixturesFor(s.id, s.doneAt)
	return s.id
}

func newScanID() string {
	return "SCAN-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// create registers a scan. Callers hold b.mu.
func (b *Backend) create(repoPath string, scanTypes []string) *scanState {
	s := &scanState{
		id:        newScanID(),
		repoPath:  repoPath,
		scanTypes: append([]string(nil), scanTypes...),
		script:    append([]Step(nil), b.script...),
		status:    tmx.StatusQueued,
		startedAt: b.now(),
	}
	b.scans[s.id] = s
	b.order = append(b.order, s.id)
	return s
}

// completedScans returns completed scans in submission order. Callers hold b.mu.
func (b *Backend) completedScans() []*scanState {
	var out []*scanState
	for _, id := range b.order {
		if s := b.scans[id]; s.status == tmx.StatusCompleted {
			out = append(out, s)
		}
	}
	return out
}

// findFinding locates a finding in any completed scan. Callers hold b.mu.
func (b *Backend) findFinding(id string) *tmx.Finding {
	for _, s := range b.completedScans() {
		for i := range s.findings {
			if s.findings[i].ID == id {
				return &s.findings[i]
			}
		}
	}
	return nil
}

// stats mirrors the backend's aggregate. Callers hold b.mu.
func (b *Backend) stats() tmx.Stats {
	st := tmx.Stats{TotalScans: len(b.scans)}
	for _, s := range b.completedScans() {
		st.CompletedScans++
		st.TotalFindings += len(s.findings)
		st.TotalThreats += len(s.threats)
		for _, f := range s.findings {
			switch f.Severity {
			case tmx.SeverityCritical:
				st.SeverityBreakdown.Critical++
			case tmx.SeverityHigh:
				st.SeverityBreakdown.High++
			case tmx.SeverityMedium:
				st.SeverityBreakdown.Medium++
			case tmx.SeverityLow:
				st.SeverityBreakdown.Low++
			}
		}
	}
	return st
}

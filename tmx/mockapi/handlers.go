package mockapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/threatmodelerx/go-api/tmx"
)

// maxUpload bounds the multipart body accepted by /api/upload.
const maxUpload = 32 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write mock response", "error", err)
	}
}

// writeError replies with a FastAPI style {"detail": ...} body.
func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func (b *Backend) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": tmx.Timestamp{Time: b.now()},
		"version":   "1.0.0",
	})
}

// =============== Scans ===============

func (b *Backend) handleSubmitScan(w http.ResponseWriter, r *http.Request) {
	var req tmx.ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	b.mu.Lock()
	if code := b.submitFail; code != 0 {
		b.submitFail = 0
		b.mu.Unlock()
		writeError(w, code, "Injected submission failure")
		return
	}
	if err := req.Validate(); err != nil {
		b.mu.Unlock()
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s := b.create(req.RepoPath, req.ScanTypes)
	b.mu.Unlock()

	slog.Debug("Mock scan submitted", "scan_id", s.id, "repo_path", req.RepoPath)
	writeJSON(w, http.StatusOK, map[string]string{
		"scan_id": s.id,
		"status":  "initiated",
		"message": "Scan started in background",
	})
}

type statusReply struct {
	ScanID       string         `json:"scan_id"`
	Status       tmx.ScanStatus `json:"status"`
	CurrentStage string         `json:"current_stage,omitempty"`
	Progress     string         `json:"progress,omitempty"`
	Details      string         `json:"details,omitempty"`
	Error        string         `json:"error,omitempty"`
	RepoPath     string         `json:"repo_path,omitempty"`
	StartedAt    tmx.Timestamp  `json:"started_at"`
	CompletedAt  tmx.Timestamp  `json:"completed_at"`
}

func (b *Backend) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	b.mu.Lock()
	s, ok := b.scans[scanID]
	if !ok {
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, statusReply{ScanID: scanID, Status: tmx.StatusNotFound, Error: "Scan not found or expired"})
		return
	}
	if b.pollFails > 0 {
		b.pollFails--
		s.polls++
		b.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "Injected status failure")
		return
	}
	step := s.advance(b.now())
	reply := statusReply{
		ScanID:       s.id,
		Status:       step.Status,
		CurrentStage: step.Stage,
		Progress:     step.Progress,
		Details:      step.Details,
		Error:        step.Error,
		RepoPath:     s.repoPath,
		StartedAt:    tmx.Timestamp{Time: s.startedAt},
		CompletedAt:  tmx.Timestamp{Time: s.doneAt},
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, reply)
}

func (b *Backend) handleListScans(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	scans := make([]tmx.ScanSummary, 0, len(b.order))
	for _, id := range b.order {
		s := b.scans[id]
		scans = append(scans, tmx.ScanSummary{
			ScanID:      s.id,
			Status:      s.status,
			StartedAt:   tmx.Timestamp{Time: s.startedAt},
			CompletedAt: tmx.Timestamp{Time: s.doneAt},
		})
	}
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"scans": scans})
}

func (b *Backend) handleStats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	st := b.stats()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, st)
}

// =============== Findings ===============

func (b *Backend) handleFindings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var severity tmx.Severity
	if v := q.Get("severity"); v != "" {
		parsed, err := tmx.ParseSeverity(v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		severity = parsed
	}
	tool := q.Get("tool")

	b.mu.Lock()
	defer b.mu.Unlock()

	var source []tmx.Finding
	if scanID := q.Get("scan_id"); scanID != "" {
		s, ok := b.scans[scanID]
		if !ok {
			writeError(w, http.StatusNotFound, "Scan not found")
			return
		}
		if s.status != tmx.StatusCompleted {
			writeJSON(w, http.StatusOK, map[string]any{"findings": []tmx.Finding{}, "message": "Scan status: " + string(s.status)})
			return
		}
		source = s.findings
	} else {
		for _, s := range b.completedScans() {
			source = append(source, s.findings...)
		}
	}

	findings := make([]tmx.Finding, 0, len(source))
	for _, f := range source {
		if severity != "" && f.Severity != severity {
			continue
		}
		if tool != "" && f.Tool != tool {
			continue
		}
		findings = append(findings, f)
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": findings, "count": len(findings)})
}

func (b *Backend) handleReview(w http.ResponseWriter, r *http.Request) {
	findingID := chi.URLParam(r, "findingID")

	var review tmx.Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f := b.findFinding(findingID)
	if f == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Finding %s not found", findingID))
		return
	}

	now := tmx.Timestamp{Time: b.now().UTC()}
	stored := review
	f.ManualReview = &stored
	f.UpdatedAt = now
	if review.Comment != "" {
		reviewer := review.Reviewer
		if reviewer == "" {
			reviewer = "anonymous"
		}
		f.ReviewerComments = append(f.ReviewerComments, tmx.ReviewerComment{
			Comment: review.Comment, Reviewer: reviewer, Timestamp: now,
		})
	}
	if review.Status != "" {
		f.Status = review.Status
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "finding": f})
}

func (b *Backend) handleRemediation(w http.ResponseWriter, r *http.Request) {
	findingID := chi.URLParam(r, "findingID")

	b.mu.Lock()
	f := b.findFinding(findingID)
	var plan tmx.RemediationPlan
	if f != nil {
		plan = remediationFor(*f)
	}
	b.mu.Unlock()

	if f == nil {
		writeError(w, http.StatusNotFound, "Finding not found")
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// =============== Threats ===============

func (b *Backend) handleThreats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	threats := []tmx.Threat{}
	if scanID := r.URL.Query().Get("scan_id"); scanID != "" {
		s, ok := b.scans[scanID]
		if !ok {
			writeError(w, http.StatusNotFound, "Scan not found")
			return
		}
		if s.status != tmx.StatusCompleted {
			writeJSON(w, http.StatusOK, map[string]any{"threats": threats, "message": "Scan status: " + string(s.status)})
			return
		}
		threats = append(threats, s.threats...)
	} else {
		for _, s := range b.completedScans() {
			threats = append(threats, s.threats...)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": threats, "count": len(threats)})
}

// =============== Reports ===============

type reportSummary struct {
	ScanID            string         `json:"scan_id"`
	Timestamp         tmx.Timestamp  `json:"timestamp"`
	RepoPath          string         `json:"repo_path"`
	FindingsCount     int            `json:"findings_count"`
	ThreatsCount      int            `json:"threats_count"`
	SeverityBreakdown map[string]int `json:"severity_breakdown"`
	ThreatCategories  map[string]int `json:"threat_categories"`
}

type reportDocument struct {
	Summary  reportSummary `json:"summary"`
	Findings []tmx.Finding `json:"findings"`
	Threats  []tmx.Threat  `json:"threats"`
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><title>Security Scan Report - {{.Summary.ScanID}}</title></head>
<body>
<h1>Security Scan Report - {{.Summary.ScanID}}</h1>
<div class="summary">
<p><strong>Repository:</strong> {{.Summary.RepoPath}}</p>
<p><strong>Findings:</strong> {{.Summary.FindingsCount}} total</p>
<p><strong>Threats:</strong> {{.Summary.ThreatsCount}} total</p>
</div>
<h2>Findings</h2>
<ul>{{range .Findings}}
<li class="finding"><h3>{{.Description}}</h3><p>Severity: {{.Severity}}</p><p>File: {{.File}} (Line: {{.Line}})</p><p>Tool: {{.Tool}}</p></li>{{end}}
</ul>
<h2>Threats</h2>
<ul>{{range .Threats}}
<li class="threat"><h3>{{.Description}}</h3><p>Category: {{.Category.Label}}</p><p>Mitigation: {{.Mitigation}}</p></li>{{end}}
</ul>
</body>
</html>
`))

// document builds the report of s. Callers hold b.mu.
func document(s *scanState) reportDocument {
	doc := reportDocument{
		Summary: reportSummary{
			ScanID:            s.id,
			Timestamp:         tmx.Timestamp{Time: s.doneAt},
			RepoPath:          s.repoPath,
			FindingsCount:     len(s.findings),
			ThreatsCount:      len(s.threats),
			SeverityBreakdown: make(map[string]int),
			ThreatCategories:  make(map[string]int),
		},
		Findings: append([]tmx.Finding(nil), s.findings...),
		Threats:  append([]tmx.Threat(nil), s.threats...),
	}
	for _, sev := range tmx.Severities {
		doc.Summary.SeverityBreakdown[string(sev)] = 0
	}
	for _, f := range s.findings {
		doc.Summary.SeverityBreakdown[string(f.Severity)]++
	}
	for _, c := range tmx.StrideCategories {
		doc.Summary.ThreatCategories[string(c)] = 0
	}
	for _, t := range s.threats {
		doc.Summary.ThreatCategories[string(t.Category)]++
	}
	return doc
}

func (b *Backend) handleReport(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = tmx.ReportJSON
	}

	b.mu.Lock()
	s, ok := b.scans[scanID]
	var doc reportDocument
	if ok && s.status == tmx.StatusCompleted {
		doc = document(s)
	}
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Scan with ID %s not found", scanID))
		return
	}
	if doc.Summary.ScanID == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Scan results not available for %s", scanID))
		return
	}

	switch format {
	case tmx.ReportJSON:
		writeJSON(w, http.StatusOK, map[string]any{"report": doc})
	case tmx.ReportHTML:
		var buf bytes.Buffer
		if err := reportTemplate.Execute(&buf, doc); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to render report: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"html": buf.String()})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported report format: %s", format))
	}
}

func (b *Backend) handleExport(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")
	format := r.URL.Query().Get("export_format")
	if format == "" {
		format = tmx.ReportJSON
	}
	email := r.URL.Query().Get("email")

	b.mu.Lock()
	s, ok := b.scans[scanID]
	completed := ok && s.status == tmx.StatusCompleted
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Scan %s not found", scanID))
		return
	}
	if !completed {
		writeError(w, http.StatusNotFound, "Scan results not found")
		return
	}
	switch format {
	case "json", "html", "pdf":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported export format: %s", format))
		return
	}

	writeJSON(w, http.StatusOK, tmx.ExportResult{
		Status:       "success",
		ReportFormat: format,
		ReportPath:   fmt.Sprintf("reports/%s.%s", scanID, format),
		EmailSent:    email != "",
		Message:      fmt.Sprintf("%s report generated successfully", strings.ToUpper(format)),
	})
}

// =============== Targets ===============

func (b *Backend) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid upload: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read upload: %v", err))
		return
	}

	path := fmt.Sprintf("uploads/%s_%s", uuid.NewString()[:8], filepath.Base(header.Filename))
	b.mu.Lock()
	b.uploads[path] = content
	b.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"path": path, "filename": header.Filename, "size": len(content)})
}

// Upload returns the content stored at path by /api/upload.
func (b *Backend) Upload(path string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	content, ok := b.uploads[path]
	return content, ok
}

func (b *Backend) handleDemoApps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"demo_apps": fixtureDemoApps})
}

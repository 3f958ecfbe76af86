package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/threatmodelerx/go-api/tmx"
)

// =============== Scans ===============

// SubmitScan posts a scan request and returns the backend's scan handle.
func (c *Client) SubmitScan(ctx context.Context, req tmx.ScanRequest) (tmx.ScanHandle, error) {
	var resp struct {
		ScanID  string `json:"scan_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/scan", nil, req, &resp); err != nil {
		return tmx.ScanHandle{}, err
	}
	if resp.ScanID == "" {
		return tmx.ScanHandle{}, fmt.Errorf("%w: reply has no scan_id", ErrInvalidResponse)
	}
	return tmx.ScanHandle{ScanID: resp.ScanID}, nil
}

// ScanStatus fetches one status snapshot.
func (c *Client) ScanStatus(ctx context.Context, scanID string) (tmx.StatusSnapshot, error) {
	var snap tmx.StatusSnapshot
	if err := c.doJSON(ctx, http.MethodGet, "/api/scan/"+url.PathEscape(scanID), nil, nil, &snap); err != nil {
		return tmx.StatusSnapshot{}, err
	}
	if snap.Status == "" {
		return tmx.StatusSnapshot{}, fmt.Errorf("%w: status reply has no status", ErrInvalidResponse)
	}
	if snap.ScanID == "" {
		snap.ScanID = scanID
	}
	return snap, nil
}

// Scans lists every scan the backend knows about.
func (c *Client) Scans(ctx context.Context) ([]tmx.ScanSummary, error) {
	var resp struct {
		Scans []tmx.ScanSummary `json:"scans"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/scans", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Scans == nil {
		resp.Scans = []tmx.ScanSummary{}
	}
	return resp.Scans, nil
}

// Stats fetches the aggregate dashboard counters.
func (c *Client) Stats(ctx context.Context) (tmx.Stats, error) {
	var stats tmx.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/api/stats", nil, nil, &stats); err != nil {
		return tmx.Stats{}, err
	}
	return stats, nil
}

// =============== Findings ===============

// FindingFilter narrows GET /api/findings. Empty fields are not sent.
type FindingFilter struct {
	ScanID   string
	Severity tmx.Severity
	Tool     string
}

func (f FindingFilter) query() url.Values {
	q := url.Values{}
	if f.ScanID != "" {
		q.Set("scan_id", f.ScanID)
	}
	if f.Severity != "" {
		q.Set("severity", string(f.Severity))
	}
	if f.Tool != "" {
		q.Set("tool", f.Tool)
	}
	return q
}

// Findings fetches the full finding list matching filter.
func (c *Client) Findings(ctx context.Context, filter FindingFilter) ([]tmx.Finding, error) {
	var resp struct {
		Findings []tmx.Finding `json:"findings"`
		Count    int           `json:"count"`
		Message  string        `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/findings", filter.query(), nil, &resp); err != nil {
		return nil, err
	}
	for i, f := range resp.Findings {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: finding %d: %v", ErrInvalidResponse, i, err)
		}
	}
	if resp.Findings == nil {
		resp.Findings = []tmx.Finding{}
	}
	return resp.Findings, nil
}

// Remediation fetches the remediation plan for one finding.
func (c *Client) Remediation(ctx context.Context, findingID string) (tmx.RemediationPlan, error) {
	var plan tmx.RemediationPlan
	if err := c.doJSON(ctx, http.MethodGet, "/api/remediation/"+url.PathEscape(findingID), nil, nil, &plan); err != nil {
		return tmx.RemediationPlan{}, err
	}
	if plan.FindingID == "" {
		plan.FindingID = findingID
	}
	return plan, nil
}

// ReviewResult is the reply of a review submission.
type ReviewResult struct {
	Status  string       `json:"status"`
	Finding *tmx.Finding `json:"finding"`
}

// SubmitReview posts a manual review for a finding.
func (c *Client) SubmitReview(ctx context.Context, findingID string, review tmx.Review) (ReviewResult, error) {
	var resp ReviewResult
	path := "/api/findings/" + url.PathEscape(findingID) + "/review"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, review, &resp); err != nil {
		return ReviewResult{}, err
	}
	return resp, nil
}

// =============== Threats ===============

// Threats fetches the threats of one scan, or of all completed scans when scanID is empty.
func (c *Client) Threats(ctx context.Context, scanID string) ([]tmx.Threat, error) {
	q := url.Values{}
	if scanID != "" {
		q.Set("scan_id", scanID)
	}
	var resp struct {
		Threats []tmx.Threat `json:"threats"`
		Count   int          `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/threats", q, nil, &resp); err != nil {
		return nil, err
	}
	for i, t := range resp.Threats {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: threat %d: %v", ErrInvalidResponse, i, err)
		}
	}
	if resp.Threats == nil {
		resp.Threats = []tmx.Threat{}
	}
	return resp.Threats, nil
}

// =============== Reports ===============

// Report generates a report for a completed scan in the given format.
func (c *Client) Report(ctx context.Context, scanID, format string) (tmx.Report, error) {
	if format == "" {
		format = tmx.ReportJSON
	}
	if format != tmx.ReportJSON && format != tmx.ReportHTML {
		return tmx.Report{}, fmt.Errorf("unsupported report format %q", format)
	}

	var resp struct {
		HTML   string          `json:"html"`
		Report json.RawMessage `json:"report"`
	}
	q := url.Values{"format": {format}}
	if err := c.doJSON(ctx, http.MethodGet, "/api/report/"+url.PathEscape(scanID), q, nil, &resp); err != nil {
		return tmx.Report{}, err
	}

	report := tmx.Report{ScanID: scanID, Format: format}
	switch format {
	case tmx.ReportHTML:
		if resp.HTML == "" {
			return tmx.Report{}, fmt.Errorf("%w: html report is empty", ErrInvalidResponse)
		}
		report.HTML = resp.HTML
	default:
		if len(resp.Report) == 0 {
			return tmx.Report{}, fmt.Errorf("%w: json report is empty", ErrInvalidResponse)
		}
		report.Raw = resp.Report
	}
	return report, nil
}

// Export asks the backend to render a report server side, optionally mailing it.
func (c *Client) Export(ctx context.Context, scanID, format, email string) (tmx.ExportResult, error) {
	q := url.Values{}
	if format != "" {
		q.Set("export_format", format)
	}
	if email != "" {
		q.Set("email", email)
	}
	var result tmx.ExportResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/export/"+url.PathEscape(scanID), q, nil, &result); err != nil {
		return tmx.ExportResult{}, err
	}
	return result, nil
}

// =============== Targets ===============

// Upload sends an archive or source file as multipart field "file" and returns the
// server-side path to use as a scan target.
func (c *Client) Upload(ctx context.Context, filename string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to read upload content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", nil, &buf, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	var resp struct {
		Path string `json:"path"`
	}
	if err := c.send(req, &resp); err != nil {
		return "", err
	}
	if resp.Path == "" {
		return "", fmt.Errorf("%w: upload reply has no path", ErrInvalidResponse)
	}
	return resp.Path, nil
}

// DemoApps lists the demo applications the backend can scan.
func (c *Client) DemoApps(ctx context.Context) ([]tmx.DemoApp, error) {
	var resp struct {
		DemoApps []tmx.DemoApp `json:"demo_apps"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/demo-apps", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.DemoApps == nil {
		resp.DemoApps = []tmx.DemoApp{}
	}
	return resp.DemoApps, nil
}

// Health is the reply of GET /health.
type Health struct {
	Status    string        `json:"status"`
	Timestamp tmx.Timestamp `json:"timestamp"`
	Version   string        `json:"version,omitempty"`
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

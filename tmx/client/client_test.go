package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/mockapi"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewWithHTTPClient(&Config{BaseURL: srv.URL, Timeout: 5 * time.Second, UserAgent: "tmx-test"}, srv.Client())
	if err != nil {
		t.Fatalf("❌ Failed to create client: %v", err)
	}
	return c
}

func TestScanRoundTripAgainstMock(t *testing.T) {
	t.Log("🔍 Testing scan submit and status decoding...")

	backend := mockapi.New()
	c := newTestClient(t, backend.Routes())
	ctx := context.Background()

	handle, err := c.SubmitScan(ctx, tmx.ScanRequest{RepoPath: "./demo-apps/python-flask", ScanTypes: []string{"sast"}})
	if err != nil {
		t.Fatalf("❌ SubmitScan failed: %v", err)
	}

	first, err := c.ScanStatus(ctx, handle.ScanID)
	if err != nil {
		t.Fatalf("❌ ScanStatus failed: %v", err)
	}
	if first.Status != tmx.StatusRunning || first.CurrentStage != "initializing" || first.Progress != tmx.ProgressOf(0) {
		t.Errorf("❌ Unexpected first snapshot %+v", first)
	}

	second, _ := c.ScanStatus(ctx, handle.ScanID)
	if second.Progress != tmx.ProgressOf(10) || second.Details != "Initializing security scanners" {
		t.Errorf("❌ Unexpected second snapshot %+v", second)
	}
	if second.StartedAt.IsZero() {
		t.Error("❌ Expected started_at to decode")
	}

	missing, err := c.ScanStatus(ctx, "nope")
	if err != nil || missing.Status != tmx.StatusNotFound || missing.Error == "" {
		t.Errorf("❌ Expected not_found snapshot, got %+v (%v)", missing, err)
	}

	scans, err := c.Scans(ctx)
	if err != nil || len(scans) != 1 || scans[0].ScanID != handle.ScanID {
		t.Errorf("❌ Unexpected scan list %+v (%v)", scans, err)
	}
	t.Log("✅ Scan round trip test passed")
}

func TestAPIErrorCarriesDetail(t *testing.T) {
	backend := mockapi.New()
	backend.FailNextSubmit(http.StatusBadRequest)
	c := newTestClient(t, backend.Routes())

	_, err := c.SubmitScan(context.Background(), tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("❌ Expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Detail != "Injected submission failure" {
		t.Errorf("❌ Unexpected APIError %+v", apiErr)
	}

	_, err = c.Remediation(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("❌ Expected not found, got %v", err)
	}
}

func TestInvalidResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/scan", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"initiated"}`))
	})
	mux.HandleFunc("/api/scan/abc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	mux.HandleFunc("/api/findings", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"findings":[{"tool":"bandit"}]}`))
	})
	mux.HandleFunc("/api/threats", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"threats":null}`))
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if _, err := c.SubmitScan(ctx, tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}}); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("❌ Expected invalid response for missing scan_id, got %v", err)
	}
	if _, err := c.ScanStatus(ctx, "abc"); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("❌ Expected invalid response for bad json, got %v", err)
	}
	if _, err := c.Findings(ctx, FindingFilter{}); !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("❌ Expected invalid response for finding without id, got %v", err)
	}
	threats, err := c.Threats(ctx, "")
	if err != nil || threats == nil || len(threats) != 0 {
		t.Errorf("❌ Expected empty threat list, got %v (%v)", threats, err)
	}
}

func TestFindingsReviewAndRemediation(t *testing.T) {
	backend := mockapi.New()
	scanID := backend.Complete("./demo-apps/python-flask")
	c := newTestClient(t, backend.Routes())
	ctx := context.Background()

	all, err := c.Findings(ctx, FindingFilter{ScanID: scanID})
	if err != nil || len(all) == 0 {
		t.Fatalf("❌ Findings failed: %v", err)
	}
	gosec, _ := c.Findings(ctx, FindingFilter{ScanID: scanID, Tool: "gosec"})
	for _, f := range gosec {
		if f.Tool != "gosec" {
			t.Errorf("❌ Tool filter not applied: %+v", f)
		}
	}
	high, _ := c.Findings(ctx, FindingFilter{Severity: tmx.SeverityHigh})
	for _, f := range high {
		if f.Severity != tmx.SeverityHigh {
			t.Errorf("❌ Severity filter not applied: %+v", f)
		}
	}

	review := tmx.Review{Status: tmx.FindingFalsePositive, Comment: "test code", Reviewer: "dana"}.Normalize(time.Now())
	result, err := c.SubmitReview(ctx, all[0].ID, review)
	if err != nil {
		t.Fatalf("❌ SubmitReview failed: %v", err)
	}
	if result.Status != "success" || result.Finding == nil || result.Finding.Status != tmx.FindingFalsePositive {
		t.Errorf("❌ Unexpected review result %+v", result)
	}
	if result.Finding.ManualReview == nil || result.Finding.ManualReview.Reviewer != "dana" {
		t.Errorf("❌ Manual review not returned: %+v", result.Finding)
	}

	plan, err := c.Remediation(ctx, all[0].ID)
	if err != nil || plan.FindingID != all[0].ID || len(plan.Steps) == 0 {
		t.Errorf("❌ Unexpected remediation %+v (%v)", plan, err)
	}

	threats, err := c.Threats(ctx, scanID)
	if err != nil || len(threats) == 0 {
		t.Errorf("❌ Threats failed: %v", err)
	}
}

func TestReportsExportUploadAndMisc(t *testing.T) {
	backend := mockapi.New()
	scanID := backend.Complete("./demo-apps/node-express")
	c := newTestClient(t, backend.Routes())
	ctx := context.Background()

	jsonReport, err := c.Report(ctx, scanID, "")
	if err != nil || jsonReport.Format != tmx.ReportJSON || len(jsonReport.Raw) == 0 {
		t.Errorf("❌ Unexpected json report %+v (%v)", jsonReport, err)
	}
	htmlReport, err := c.Report(ctx, scanID, tmx.ReportHTML)
	if err != nil || !strings.Contains(htmlReport.HTML, "<html>") {
		t.Errorf("❌ Unexpected html report (%v)", err)
	}
	if _, err := c.Report(ctx, scanID, "pdf"); err == nil {
		t.Error("❌ Expected error for unsupported report format")
	}

	export, err := c.Export(ctx, scanID, "pdf", "")
	if err != nil || export.ReportFormat != "pdf" || export.EmailSent {
		t.Errorf("❌ Unexpected export %+v (%v)", export, err)
	}

	path, err := c.Upload(ctx, "/tmp/src/app.tar.gz", strings.NewReader("data"))
	if err != nil || !strings.HasSuffix(path, "_app.tar.gz") {
		t.Errorf("❌ Unexpected upload path %q (%v)", path, err)
	}

	apps, err := c.DemoApps(ctx)
	if err != nil || len(apps) == 0 {
		t.Errorf("❌ Unexpected demo apps %+v (%v)", apps, err)
	}

	stats, err := c.Stats(ctx)
	if err != nil || stats.CompletedScans != 1 {
		t.Errorf("❌ Unexpected stats %+v (%v)", stats, err)
	}

	health, err := c.Health(ctx)
	if err != nil || health.Status != "healthy" || health.Version != "1.0.0" {
		t.Errorf("❌ Unexpected health %+v (%v)", health, err)
	}
}

func TestUserAgentAndTransportError(t *testing.T) {
	var ua string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	if _, err := c.Health(context.Background()); err != nil {
		t.Fatalf("❌ Health failed: %v", err)
	}
	if ua != "tmx-test" {
		t.Errorf("❌ Expected user agent tmx-test, got %q", ua)
	}

	dead, err := New(&Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err != nil {
		t.Fatalf("❌ Failed to create client: %v", err)
	}
	_, err = dead.Health(context.Background())
	var apiErr *APIError
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("❌ Expected transport error, got %v", err)
	}
}

func TestIDsAreEscapedOnce(t *testing.T) {
	t.Log("🔍 Testing request paths for ids with reserved characters...")

	var paths []string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		http.NotFound(w, r)
	})
	c := newTestClient(t, h)
	ctx := context.Background()

	_, _ = c.ScanStatus(ctx, "scan 1/x")
	_, _ = c.Remediation(ctx, "f%1")
	_, _ = c.SubmitReview(ctx, "f 2", tmx.Review{Status: tmx.FindingFixed, Comment: "ok"})
	_, _ = c.Report(ctx, "scan 1/x", tmx.ReportJSON)
	_, _ = c.Export(ctx, "scan 1/x", "pdf", "")

	want := []string{
		"/api/scan/scan%201%2Fx",
		"/api/remediation/f%251",
		"/api/findings/f%202/review",
		"/api/report/scan%201%2Fx",
		"/api/export/scan%201%2Fx",
	}
	if strings.Join(paths, " ") != strings.Join(want, " ") {
		t.Fatalf("❌ Unexpected request paths\n got: %v\nwant: %v", paths, want)
	}

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	prefixed, err := NewWithHTTPClient(&Config{BaseURL: srv.URL + "/tmx/", Timeout: 5 * time.Second}, srv.Client())
	if err != nil {
		t.Fatalf("❌ Failed to create client: %v", err)
	}
	paths = nil
	_, _ = prefixed.ScanStatus(ctx, "a b")
	if len(paths) != 1 || paths[0] != "/tmx/api/scan/a%20b" {
		t.Errorf("❌ Base path not kept, got %v", paths)
	}
	t.Log("✅ Ids are escaped exactly once")
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"ftp://host", "://bad", "localhost:8000"} {
		if _, err := New(&Config{BaseURL: base}); err == nil {
			t.Errorf("❌ Expected error for base URL %q", base)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("TMX_API_URL", "http://backend:9000/")
	t.Setenv("TMX_API_TIMEOUT", "5s")
	t.Setenv("TMX_USER_AGENT", "ci")

	config := LoadConfigFromEnv()
	if config.BaseURL != "http://backend:9000/" || config.Timeout != 5*time.Second || config.UserAgent != "ci" {
		t.Errorf("❌ Unexpected config %+v", config)
	}

	c, err := New(config)
	if err != nil {
		t.Fatalf("❌ New failed: %v", err)
	}
	if c.BaseURL() != "http://backend:9000" {
		t.Errorf("❌ Expected trailing slash trimmed, got %s", c.BaseURL())
	}
}

package mockapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/threatmodelerx/go-api/tmx"
)

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("❌ Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("❌ Request failed: %v", err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestScanWalksScript(t *testing.T) {
	t.Log("🔍 Testing scripted scan progression...")

	b := New()
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	resp, body := do(t, srv, http.MethodPost, "/api/scan", tmx.ScanRequest{RepoPath: "./demo-apps/python-flask", ScanTypes: []string{"sast"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("❌ Submit failed: %d %v", resp.StatusCode, body)
	}
	scanID, _ := body["scan_id"].(string)
	if !strings.HasPrefix(scanID, "SCAN-") || body["status"] != "initiated" {
		t.Fatalf("❌ Unexpected submit reply %v", body)
	}

	var progress []string
	for i := 0; i < len(DefaultScript()); i++ {
		_, status := do(t, srv, http.MethodGet, "/api/scan/"+scanID, nil)
		p, _ := status["progress"].(string)
		progress = append(progress, p)
		if i == len(DefaultScript())-1 && status["status"] != "completed" {
			t.Errorf("❌ Expected completed on last step, got %v", status)
		}
	}
	if strings.Join(progress, ",") != "0%,10%,40%,60%,80%,100%" {
		t.Errorf("❌ Unexpected progress trail %v", progress)
	}
	if b.Polls(scanID) != len(DefaultScript()) {
		t.Errorf("❌ Expected %d polls, got %d", len(DefaultScript()), b.Polls(scanID))
	}

	_, findings := do(t, srv, http.MethodGet, "/api/findings?scan_id="+scanID+"&severity=critical", nil)
	if findings["count"] != float64(2) {
		t.Errorf("❌ Expected 2 critical findings, got %v", findings["count"])
	}

	_, stats := do(t, srv, http.MethodGet, "/api/stats", nil)
	if stats["completed_scans"] != float64(1) || stats["total_findings"] != float64(len(fixtureFindings)) {
		t.Errorf("❌ Unexpected stats %v", stats)
	}
	t.Log("✅ Scripted scan progression test passed")
}

func TestUnknownScanAndErrors(t *testing.T) {
	b := New()
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	_, status := do(t, srv, http.MethodGet, "/api/scan/nope", nil)
	if status["status"] != "not_found" {
		t.Errorf("❌ Expected not_found, got %v", status)
	}

	resp, body := do(t, srv, http.MethodGet, "/api/findings?scan_id=nope", nil)
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "Scan not found" {
		t.Errorf("❌ Expected 404 detail, got %d %v", resp.StatusCode, body)
	}

	resp, _ = do(t, srv, http.MethodPost, "/api/scan", tmx.ScanRequest{})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("❌ Expected 422 for empty request, got %d", resp.StatusCode)
	}

	b.FailNextSubmit(http.StatusServiceUnavailable)
	resp, _ = do(t, srv, http.MethodPost, "/api/scan", tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("❌ Expected injected 503, got %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, http.MethodPost, "/api/scan", tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("❌ Injected failure must apply once, got %d", resp.StatusCode)
	}
}

func TestFailPollsAndFailedScript(t *testing.T) {
	b := New()
	b.ScriptScan(FailedScript("semgrep crashed")...)
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	_, body := do(t, srv, http.MethodPost, "/api/scan", tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	scanID := body["scan_id"].(string)

	b.FailPolls(2)
	for i := 0; i < 2; i++ {
		resp, _ := do(t, srv, http.MethodGet, "/api/scan/"+scanID, nil)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("❌ Expected injected 500, got %d", resp.StatusCode)
		}
	}
	do(t, srv, http.MethodGet, "/api/scan/"+scanID, nil)
	_, status := do(t, srv, http.MethodGet, "/api/scan/"+scanID, nil)
	if status["status"] != "failed" || status["error"] != "semgrep crashed" {
		t.Errorf("❌ Expected scripted failure, got %v", status)
	}
	if b.Polls(scanID) != 4 {
		t.Errorf("❌ Expected 4 polls, got %d", b.Polls(scanID))
	}
}

func TestReviewRemediationAndReport(t *testing.T) {
	b := New()
	scanID := b.Complete("./demo-apps/go-gin")
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	findingID := scanID + "-F002"
	resp, body := do(t, srv, http.MethodPost, "/api/findings/"+findingID+"/review", tmx.Review{Status: tmx.FindingFixed, Comment: "patched"})
	if resp.StatusCode != http.StatusOK || body["status"] != "success" {
		t.Fatalf("❌ Review failed: %d %v", resp.StatusCode, body)
	}
	finding := body["finding"].(map[string]any)
	if finding["status"] != "FIXED" {
		t.Errorf("❌ Review status not applied: %v", finding)
	}
	comments := finding["reviewer_comments"].([]any)
	if len(comments) != 1 || comments[0].(map[string]any)["reviewer"] != "anonymous" {
		t.Errorf("❌ Unexpected reviewer comments %v", comments)
	}

	_, plan := do(t, srv, http.MethodGet, "/api/remediation/"+findingID, nil)
	if plan["estimated_effort"] != "2-4 hours" || plan["priority"] != float64(1) {
		t.Errorf("❌ Unexpected plan %v", plan)
	}

	_, html := do(t, srv, http.MethodGet, "/api/report/"+scanID+"?format=html", nil)
	if s, _ := html["html"].(string); !strings.Contains(s, "Security Scan Report - "+scanID) {
		t.Errorf("❌ Unexpected html report %v", html)
	}
	resp, _ = do(t, srv, http.MethodGet, "/api/report/"+scanID+"?format=pdf", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("❌ Expected 400 for pdf report, got %d", resp.StatusCode)
	}

	_, export := do(t, srv, http.MethodPost, "/api/export/"+scanID+"?export_format=html&email=a@b.c", nil)
	if export["email_sent"] != true || export["report_format"] != "html" {
		t.Errorf("❌ Unexpected export reply %v", export)
	}
}

func TestUpload(t *testing.T) {
	b := New()
	srv := httptest.NewServer(b.Routes())
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "app.zip")
	_, _ = part.Write([]byte("PK"))
	_ = mw.Close()

	resp, err := srv.Client().Post(srv.URL+"/api/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("❌ Upload failed: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Path string `json:"path"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if !strings.HasSuffix(out.Path, "_app.zip") {
		t.Fatalf("❌ Unexpected upload path %q", out.Path)
	}
	if content, ok := b.Upload(out.Path); !ok || string(content) != "PK" {
		t.Errorf("❌ Upload not stored: %q", content)
	}
}

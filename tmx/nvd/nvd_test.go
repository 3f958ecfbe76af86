package nvd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleResponse = `{
  "resultsPerPage": 2, "startIndex": 0, "totalResults": 2,
  "vulnerabilities": [
    {"cve": {"id": "CVE-2021-0001", "published": "2021-01-01T00:00:00.000",
      "descriptions": [{"lang": "es", "value": "inyeccion"}, {"lang": "en", "value": "SQL injection in login"}],
      "metrics": {"cvssMetricV31": [
        {"source": "other", "type": "Secondary", "cvssData": {"version": "3.1", "baseScore": 5.0, "baseSeverity": "MEDIUM"}},
        {"source": "nvd@nist.gov", "type": "Primary", "cvssData": {"version": "3.1", "baseScore": 9.8, "baseSeverity": "CRITICAL"}}
      ]}}},
    {"cve": {"id": "CVE-2020-0002", "published": "2020-01-01T00:00:00.000",
      "descriptions": [{"lang": "en", "value": "Blind SQL injection"}],
      "metrics": {"cvssMetricV30": [{"type": "Primary", "cvssData": {"version": "3.0", "baseScore": 6.5, "baseSeverity": "MEDIUM"}}]}}}
  ]
}`

func TestRelatedCVEs(t *testing.T) {
	t.Log("🔍 Testing related CVE lookup...")

	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		if r.Header.Get("apiKey") != "secret" {
			t.Errorf("❌ Missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL, APIKey: "secret"})
	cves, err := c.RelatedCVEs(context.Background(), "89", 3)
	if err != nil {
		t.Fatalf("❌ RelatedCVEs failed: %v", err)
	}
	if gotQuery != "cweId=CWE-89&resultsPerPage=3" {
		t.Errorf("❌ Unexpected query %q", gotQuery)
	}
	if len(cves) != 2 {
		t.Fatalf("❌ Expected 2 CVEs, got %d", len(cves))
	}
	first := cves[0]
	if first.ID != "CVE-2021-0001" || first.Score != 9.8 || first.Severity != "CRITICAL" {
		t.Errorf("❌ Unexpected first CVE %+v", first)
	}
	if first.Description != "SQL injection in login" {
		t.Errorf("❌ Expected english description, got %q", first.Description)
	}
	if cves[1].Score != 6.5 {
		t.Errorf("❌ Expected v3.0 fallback score, got %v", cves[1].Score)
	}
	t.Log("✅ Related CVE lookup test passed")
}

func TestRelatedCVEsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := New(&Config{BaseURL: server.URL})
	if _, err := c.RelatedCVEs(context.Background(), "CWE-89", 1); err == nil {
		t.Error("❌ Expected error for 403")
	}
	if _, err := c.RelatedCVEs(context.Background(), "not-a-cwe", 1); err == nil {
		t.Error("❌ Expected error for invalid CWE")
	}
}

func TestGetCVEMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"vulnerabilities": []}`))
	}))
	defer server.Close()

	cve, err := New(&Config{BaseURL: server.URL}).GetCVE(context.Background(), "CVE-1999-0000")
	if err != nil || cve.ID != "" {
		t.Errorf("❌ Expected empty CVE, got %+v (%v)", cve, err)
	}
}

func TestNormalizeCWE(t *testing.T) {
	cases := map[string]string{"CWE-78": "CWE-78", "cwe-22": "CWE-22", " 798 ": "CWE-798", "CWE-": "", "xss": ""}
	for in, want := range cases {
		if got := NormalizeCWE(in); got != want {
			t.Errorf("❌ NormalizeCWE(%q) = %q, want %q", in, got, want)
		}
	}
}

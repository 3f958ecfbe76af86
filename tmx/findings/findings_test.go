package findings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/client"
)

// MockAPI serves a fixed finding list and records every request.
type MockAPI struct {
	all        []tmx.Finding
	filters    []client.FindingFilter
	reviewErr  error
	reviews    []tmx.Review
	plans      map[string]tmx.RemediationPlan
	echoReview bool
}

func NewMockAPI() *MockAPI {
	return &MockAPI{
		all: []tmx.Finding{
			{ID: "F-1", Tool: "semgrep", Severity: tmx.SeverityCritical, CWE: "CWE-89", Status: tmx.FindingOpen},
			{ID: "F-2", Tool: "bandit", Severity: tmx.SeverityHigh, CWE: "CWE-78", Status: tmx.FindingOpen},
			{ID: "F-3", Tool: "semgrep", Severity: tmx.SeverityHigh, CWE: "CWE-79", Status: tmx.FindingOpen},
		},
		plans: map[string]tmx.RemediationPlan{
			"F-1": {FindingID: "F-1", Priority: 1, Steps: []string{"Use parameterized queries"}},
			"F-2": {FindingID: "F-2", Priority: 2, Steps: []string{"Avoid shell=True"}},
		},
	}
}

func (m *MockAPI) Findings(ctx context.Context, filter client.FindingFilter) ([]tmx.Finding, error) {
	m.filters = append(m.filters, filter)
	var out []tmx.Finding
	for _, f := range m.all {
		if filter.Severity != "" && f.Severity != filter.Severity {
			continue
		}
		if filter.Tool != "" && f.Tool != filter.Tool {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *MockAPI) Remediation(ctx context.Context, findingID string) (tmx.RemediationPlan, error) {
	plan, ok := m.plans[findingID]
	if !ok {
		return tmx.RemediationPlan{}, &client.APIError{StatusCode: 404, Detail: "Finding not found"}
	}
	return plan, nil
}

func (m *MockAPI) SubmitReview(ctx context.Context, findingID string, review tmx.Review) (client.ReviewResult, error) {
	m.reviews = append(m.reviews, review)
	if m.reviewErr != nil {
		return client.ReviewResult{}, m.reviewErr
	}
	result := client.ReviewResult{Status: "success"}
	if m.echoReview {
		f := tmx.Finding{ID: findingID, Status: review.Status, ManualReview: &review, Tool: "server"}
		result.Finding = &f
	}
	return result, nil
}

func TestLoadAndFilterRefetch(t *testing.T) {
	t.Log("\n🔍 Testing findings load and filter refetch...")

	ctx := context.Background()
	api := NewMockAPI()
	view := NewView(api, WithFilter(Filter{ScanID: "SCAN-1"}))

	list, err := view.Load(ctx)
	if err != nil {
		t.Fatalf("❌ Load failed: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("❌ Expected 3 findings, got %d", len(list))
	}

	list, err = view.SetSeverity(ctx, tmx.SeverityHigh)
	if err != nil {
		t.Fatalf("❌ SetSeverity failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("❌ Expected 2 high findings, got %d", len(list))
	}
	if len(api.filters) != 2 {
		t.Fatalf("❌ Expected a refetch per filter change, got %d requests", len(api.filters))
	}
	if got := api.filters[1]; got.ScanID != "SCAN-1" || got.Severity != tmx.SeverityHigh {
		t.Errorf("❌ Unexpected filter sent %+v", got)
	}

	counts := view.Counts()
	if counts[tmx.SeverityHigh] != 2 || counts[tmx.SeverityCritical] != 0 {
		t.Errorf("❌ Unexpected counts %+v", counts)
	}

	if _, err := view.SetSeverity(ctx, AllSeverities); err != nil {
		t.Fatalf("❌ SetSeverity(all) failed: %v", err)
	}
	if len(view.Findings()) != 3 {
		t.Errorf("❌ Expected all findings after clearing the filter")
	}

	t.Log("✅ Findings load test passed")
}

func TestRemediationPanel(t *testing.T) {
	ctx := context.Background()
	view := NewView(NewMockAPI())

	if _, err := view.OpenRemediation(ctx, "F-1"); err != nil {
		t.Fatalf("❌ OpenRemediation failed: %v", err)
	}
	if _, err := view.OpenRemediation(ctx, "F-2"); err != nil {
		t.Fatalf("❌ OpenRemediation failed: %v", err)
	}
	panel, ok := view.Panel()
	if !ok || panel.FindingID != "F-2" {
		t.Errorf("❌ Expected the second plan to replace the first, got %+v", panel)
	}

	if _, err := view.OpenRemediation(ctx, "F-9"); !client.IsNotFound(err) {
		t.Errorf("❌ Expected not found error, got %v", err)
	}
	if panel, _ := view.Panel(); panel.FindingID != "F-2" {
		t.Errorf("❌ A failed fetch must leave the open panel, got %+v", panel)
	}

	view.ClosePanel()
	if _, ok := view.Panel(); ok {
		t.Error("❌ Expected panel to be closed")
	}
}

func TestReviewPatchOnSuccess(t *testing.T) {
	t.Log("\n🔍 Testing review with PatchOnSuccess...")

	ctx := context.Background()
	api := NewMockAPI()
	view := NewView(api)
	if _, err := view.Load(ctx); err != nil {
		t.Fatalf("❌ Load failed: %v", err)
	}

	api.reviewErr = &client.APIError{StatusCode: 500}
	_, err := view.SubmitReview(ctx, "F-1", tmx.Review{Status: tmx.FindingFixed, Comment: "patched in 1.2"})
	if err == nil {
		t.Fatal("❌ Expected review error")
	}
	f, _ := view.Find("F-1")
	if f.Status != tmx.FindingOpen || f.ManualReview != nil || len(f.ReviewerComments) != 0 {
		t.Errorf("❌ Local record must be untouched after a failed POST, got %+v", f)
	}

	api.reviewErr = nil
	patched, err := view.SubmitReview(ctx, "F-1", tmx.Review{Status: tmx.FindingFixed, Comment: "patched in 1.2"})
	if err != nil {
		t.Fatalf("❌ SubmitReview failed: %v", err)
	}
	if patched.Status != tmx.FindingFixed || len(patched.ReviewerComments) != 1 {
		t.Errorf("❌ Expected patched record, got %+v", patched)
	}
	if patched.ReviewerComments[0].Reviewer != tmx.AnonymousReviewer {
		t.Errorf("❌ Expected anonymous reviewer, got %q", patched.ReviewerComments[0].Reviewer)
	}

	t.Log("✅ PatchOnSuccess test passed")
}

func TestReviewPatchAlways(t *testing.T) {
	ctx := context.Background()
	api := NewMockAPI()
	view := NewView(api, WithPatchPolicy(PatchAlways))
	view.now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	if _, err := view.Load(ctx); err != nil {
		t.Fatalf("❌ Load failed: %v", err)
	}

	api.reviewErr = &client.APIError{StatusCode: 503}
	patched, err := view.SubmitReview(ctx, "F-2", tmx.Review{Status: tmx.FindingFalsePositive, Comment: "input is constant", Reviewer: "dana"})
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Errorf("❌ Expected the POST error to be returned, got %v", err)
	}
	if patched.Status != tmx.FindingFalsePositive || patched.ManualReview == nil || len(patched.ReviewerComments) != 1 {
		t.Errorf("❌ Expected local patch despite the failure, got %+v", patched)
	}
	f, _ := view.Find("F-2")
	if !f.UpdatedAt.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("❌ Expected updated_at from the review timestamp, got %v", f.UpdatedAt.Time)
	}
}

func TestReviewUsesServerRecord(t *testing.T) {
	ctx := context.Background()
	api := NewMockAPI()
	api.echoReview = true
	view := NewView(api)
	view.Load(ctx)

	patched, err := view.SubmitReview(ctx, "F-3", tmx.Review{Status: tmx.FindingInProgress, Comment: "on it"})
	if err != nil {
		t.Fatalf("❌ SubmitReview failed: %v", err)
	}
	if patched.Tool != "server" {
		t.Errorf("❌ Expected the server record to replace the local one, got %+v", patched)
	}
}

func TestReviewValidation(t *testing.T) {
	api := NewMockAPI()
	view := NewView(api)
	if _, err := view.SubmitReview(context.Background(), "F-1", tmx.Review{Status: tmx.FindingFixed}); err == nil {
		t.Error("❌ Expected empty comment to be rejected")
	}
	if len(api.reviews) != 0 {
		t.Errorf("❌ Invalid review must not be sent")
	}
}

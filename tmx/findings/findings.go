// Package findings is a read-through view over the backend's finding list.
//
// The view holds no cache beyond the last loaded list. Every filter change refetches
// the full list, and at most one remediation panel is open at a time.
package findings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/client"
)

// API is the part of the backend the view needs. *client.Client satisfies it.
type API interface {
	Findings(ctx context.Context, filter client.FindingFilter) ([]tmx.Finding, error)
	Remediation(ctx context.Context, findingID string) (tmx.RemediationPlan, error)
	SubmitReview(ctx context.Context, findingID string, review tmx.Review) (client.ReviewResult, error)
}

// PatchPolicy decides whether a review is applied to the local list when the POST fails.
type PatchPolicy int

const (
	// PatchOnSuccess applies a review only after the backend accepted it.
	PatchOnSuccess PatchPolicy = iota
	// PatchAlways applies a review even when the POST failed. The error is still returned.
	PatchAlways
)

// AllSeverities selects every severity.
const AllSeverities tmx.Severity = ""

// Filter narrows the loaded list. Empty fields match everything.
type Filter struct {
	ScanID   string
	Severity tmx.Severity
	Tool     string
}

// Panel is the open remediation panel.
type Panel struct {
	FindingID string
	Plan      tmx.RemediationPlan
}

// View is the findings list with its current filter.
type View struct {
	api    API
	policy PatchPolicy
	now    func() time.Time

	mu       sync.Mutex
	filter   Filter
	findings []tmx.Finding
	panel    *Panel
}

// Option configures a View.
type Option func(*View)

// WithPatchPolicy sets the review patch policy.
func WithPatchPolicy(p PatchPolicy) Option {
	return func(v *View) { v.policy = p }
}

// WithFilter sets the initial filter.
func WithFilter(f Filter) Option {
	return func(v *View) { v.filter = f }
}

// NewView creates a View. Nothing is fetched until Load.
func NewView(api API, opts ...Option) *View {
	v := &View{api: api, policy: PatchOnSuccess, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Load fetches the full list for the current filter and replaces the loaded one.
func (v *View) Load(ctx context.Context) ([]tmx.Finding, error) {
	v.mu.Lock()
	filter := v.filter
	v.mu.Unlock()

	list, err := v.api.Findings(ctx, client.FindingFilter{
		ScanID:   filter.ScanID,
		Severity: filter.Severity,
		Tool:     filter.Tool,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filter != filter {
		// The filter moved while this fetch was in flight. The newer fetch wins.
		return cloneFindings(v.findings), nil
	}
	v.findings = list
	slog.Debug("Loaded findings", "count", len(list), "scan_id", filter.ScanID, "severity", filter.Severity)
	return cloneFindings(list), nil
}

// SetSeverity changes the severity filter and refetches.
func (v *View) SetSeverity(ctx context.Context, s tmx.Severity) ([]tmx.Finding, error) {
	v.mu.Lock()
	v.filter.Severity = s
	v.mu.Unlock()
	return v.Load(ctx)
}

// SetScan changes the scan filter and refetches.
func (v *View) SetScan(ctx context.Context, scanID string) ([]tmx.Finding, error) {
	v.mu.Lock()
	v.filter.ScanID = scanID
	v.mu.Unlock()
	return v.Load(ctx)
}

// SetTool changes the tool filter and refetches.
func (v *View) SetTool(ctx context.Context, tool string) ([]tmx.Finding, error) {
	v.mu.Lock()
	v.filter.Tool = tool
	v.mu.Unlock()
	return v.Load(ctx)
}

// Filter returns the filter currently applied to the view.
func (v *View) Filter() Filter {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filter
}

// Findings returns a copy of the loaded list.
func (v *View) Findings() []tmx.Finding {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneFindings(v.findings)
}

// Find returns the loaded finding with id.
func (v *View) Find(id string) (tmx.Finding, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, f := range v.findings {
		if f.ID == id {
			return cloneFinding(f), true
		}
	}
	return tmx.Finding{}, false
}

// Counts returns the number of loaded findings per severity.
func (v *View) Counts() map[tmx.Severity]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	counts := make(map[tmx.Severity]int, len(tmx.Severities))
	for _, s := range tmx.Severities {
		counts[s] = 0
	}
	for _, f := range v.findings {
		counts[f.Severity]++
	}
	return counts
}

// OpenRemediation fetches the plan of findingID into the panel, replacing any open one.
func (v *View) OpenRemediation(ctx context.Context, findingID string) (tmx.RemediationPlan, error) {
	plan, err := v.api.Remediation(ctx, findingID)
	if err != nil {
		return tmx.RemediationPlan{}, fmt.Errorf("failed to load remediation for %s: %w", findingID, err)
	}
	v.mu.Lock()
	v.panel = &Panel{FindingID: findingID, Plan: plan}
	v.mu.Unlock()
	return plan, nil
}

// Panel returns the open remediation panel, if any.
func (v *View) Panel() (Panel, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.panel == nil {
		return Panel{}, false
	}
	return *v.panel, true
}

// ClosePanel drops the open remediation panel.
func (v *View) ClosePanel() {
	v.mu.Lock()
	v.panel = nil
	v.mu.Unlock()
}

// SubmitReview posts a review and patches the loaded record according to the
// view's PatchPolicy. It returns the patched local record.
func (v *View) SubmitReview(ctx context.Context, findingID string, review tmx.Review) (tmx.Finding, error) {
	review = review.Normalize(v.now())
	if err := review.Validate(); err != nil {
		return tmx.Finding{}, err
	}

	result, postErr := v.api.SubmitReview(ctx, findingID, review)
	if postErr != nil {
		postErr = fmt.Errorf("failed to submit review for %s: %w", findingID, postErr)
		if v.policy != PatchAlways {
			return tmx.Finding{}, postErr
		}
		slog.Warn("Review POST failed, applying local patch anyway", "finding_id", findingID, "error", postErr)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.findings {
		if v.findings[i].ID != findingID {
			continue
		}
		if postErr == nil && result.Finding != nil && result.Finding.ID == findingID {
			v.findings[i] = *result.Finding
		} else {
			applyReview(&v.findings[i], review)
		}
		return cloneFinding(v.findings[i]), postErr
	}
	if postErr == nil && result.Finding != nil {
		return cloneFinding(*result.Finding), nil
	}
	return tmx.Finding{}, postErr
}

// applyReview patches f the way the backend does on review.
func applyReview(f *tmx.Finding, review tmx.Review) {
	r := review
	f.ManualReview = &r
	f.Status = review.Status
	f.ReviewerComments = append(f.ReviewerComments, tmx.ReviewerComment{
		Comment:   review.Comment,
		Reviewer:  review.Reviewer,
		Timestamp: review.Timestamp,
	})
	f.UpdatedAt = review.Timestamp
}

func cloneFinding(f tmx.Finding) tmx.Finding {
	f.ReviewerComments = append([]tmx.ReviewerComment(nil), f.ReviewerComments...)
	if f.ManualReview != nil {
		r := *f.ManualReview
		f.ManualReview = &r
	}
	return f
}

func cloneFindings(list []tmx.Finding) []tmx.Finding {
	out := make([]tmx.Finding, len(list))
	for i, f := range list {
		out[i] = cloneFinding(f)
	}
	return out
}

package threats

import (
	"context"
	"errors"
	"testing"

	"github.com/threatmodelerx/go-api/tmx"
)

type MockAPI struct {
	byScan map[string][]tmx.Threat
	calls  []string
	err    error
}

func (m *MockAPI) Threats(ctx context.Context, scanID string) ([]tmx.Threat, error) {
	m.calls = append(m.calls, scanID)
	if m.err != nil {
		return nil, m.err
	}
	return m.byScan[scanID], nil
}

func newMock() *MockAPI {
	return &MockAPI{byScan: map[string][]tmx.Threat{
		"SCAN-1": {
			{ID: "T-1", Category: tmx.StrideTampering, RiskLevel: tmx.SeverityCritical, CWEIDs: []string{"CWE-89"}},
			{ID: "T-2", Category: tmx.StrideElevationOfPrivilege, RiskLevel: tmx.SeverityHigh, CWEIDs: []string{"CWE-78"}},
			{ID: "T-3", Category: tmx.StrideTampering, RiskLevel: tmx.SeverityHigh},
		},
		"SCAN-2": {
			{ID: "T-4", Category: tmx.StrideSpoofing, RiskLevel: tmx.SeverityMedium},
		},
	}}
}

func TestThreatViewFilters(t *testing.T) {
	t.Log("\n🔍 Testing threat view...")

	ctx := context.Background()
	api := newMock()
	view := NewView(api, "SCAN-1")

	if _, err := view.Load(ctx); err != nil {
		t.Fatalf("❌ Load failed: %v", err)
	}

	view.SelectCategory(tmx.StrideTampering)
	if visible := view.Visible(); len(visible) != 2 {
		t.Errorf("❌ Expected 2 tampering threats, got %d", len(visible))
	}
	if len(api.calls) != 1 {
		t.Errorf("❌ Category selection must not refetch, got %d calls", len(api.calls))
	}

	counts := view.CategoryCounts()
	if counts[tmx.StrideTampering] != 2 || counts[tmx.StrideElevationOfPrivilege] != 1 || counts[tmx.StrideRepudiation] != 0 {
		t.Errorf("❌ Unexpected category counts %+v", counts)
	}
	if risk := view.RiskCounts(); risk[tmx.SeverityHigh] != 2 {
		t.Errorf("❌ Unexpected risk counts %+v", risk)
	}

	if _, err := view.SetScan(ctx, "SCAN-2"); err != nil {
		t.Fatalf("❌ SetScan failed: %v", err)
	}
	if len(api.calls) != 2 || api.calls[1] != "SCAN-2" {
		t.Errorf("❌ Expected a refetch for SCAN-2, got %v", api.calls)
	}
	if visible := view.Visible(); len(visible) != 0 {
		t.Errorf("❌ Expected selected category to hide SCAN-2 threats, got %d", len(visible))
	}
	view.SelectCategory(AllCategories)
	if visible := view.Visible(); len(visible) != 1 {
		t.Errorf("❌ Expected 1 threat for all categories, got %d", len(visible))
	}

	t.Log("✅ Threat view test passed")
}

func TestThreatViewLoadError(t *testing.T) {
	api := newMock()
	api.err = errors.New("boom")
	view := NewView(api, "")
	if _, err := view.Load(context.Background()); err == nil {
		t.Error("❌ Expected load error")
	}
}

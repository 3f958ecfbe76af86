// Package threats is a read-through view over the STRIDE threats of a scan.
package threats

import (
	"context"
	"fmt"
	"sync"

	"github.com/threatmodelerx/go-api/tmx"
)

// API is the part of the backend the view needs. *client.Client satisfies it.
type API interface {
	Threats(ctx context.Context, scanID string) ([]tmx.Threat, error)
}

// AllCategories selects every STRIDE category.
const AllCategories tmx.StrideCategory = ""

// View holds the threats of one scan, or of all completed scans when no scan is set.
type View struct {
	api API

	mu       sync.Mutex
	scanID   string
	category tmx.StrideCategory
	threats  []tmx.Threat
}

func NewView(api API, scanID string) *View {
	return &View{api: api, scanID: scanID}
}

// Load fetches the full threat list for the current scan.
func (v *View) Load(ctx context.Context) ([]tmx.Threat, error) {
	v.mu.Lock()
	scanID := v.scanID
	v.mu.Unlock()

	list, err := v.api.Threats(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threats: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.scanID == scanID {
		v.threats = list
	}
	return append([]tmx.Threat(nil), v.threats...), nil
}

// SetScan changes the scan and refetches.
func (v *View) SetScan(ctx context.Context, scanID string) ([]tmx.Threat, error) {
	v.mu.Lock()
	v.scanID = scanID
	v.mu.Unlock()
	return v.Load(ctx)
}

// SelectCategory sets the client-side category filter. It does not refetch.
func (v *View) SelectCategory(c tmx.StrideCategory) {
	v.mu.Lock()
	v.category = c
	v.mu.Unlock()
}

// Visible returns the loaded threats matching the selected category.
func (v *View) Visible() []tmx.Threat {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]tmx.Threat, 0, len(v.threats))
	for _, t := range v.threats {
		if v.category == AllCategories || t.Category == v.category {
			out = append(out, t)
		}
	}
	return out
}

// CategoryCounts counts the loaded threats per STRIDE category, ignoring the filter.
func (v *View) CategoryCounts() map[tmx.StrideCategory]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	counts := make(map[tmx.StrideCategory]int, len(tmx.StrideCategories))
	for _, c := range tmx.StrideCategories {
		counts[c] = 0
	}
	for _, t := range v.threats {
		counts[t.Category]++
	}
	return counts
}

// RiskCounts counts the loaded threats per risk level, ignoring the filter.
func (v *View) RiskCounts() map[tmx.Severity]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	counts := make(map[tmx.Severity]int)
	for _, t := range v.threats {
		counts[t.RiskLevel]++
	}
	return counts
}

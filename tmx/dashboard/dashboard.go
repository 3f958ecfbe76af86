package dashboard

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/threatmodelerx/go-api/tmx"
)

// API is the part of the backend the dashboard needs. *client.Client satisfies it.
type API interface {
	Stats(ctx context.Context) (tmx.Stats, error)
	Scans(ctx context.Context) ([]tmx.ScanSummary, error)
}

// Overview is the dashboard landing data.
type Overview struct {
	Stats tmx.Stats
	// Scans are ordered newest first by start time.
	Scans []tmx.ScanSummary
	// CompletionRate is completed/total scans in percent, 0 without scans.
	CompletionRate float64
}

// Load fetches stats and the scan list in parallel. It fails if either fails.
func Load(ctx context.Context, api API) (Overview, error) {
	var (
		stats tmx.Stats
		scans []tmx.ScanSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := api.Stats(gctx)
		if err != nil {
			return fmt.Errorf("failed to load stats: %w", err)
		}
		stats = s
		return nil
	})
	g.Go(func() error {
		list, err := api.Scans(gctx)
		if err != nil {
			return fmt.Errorf("failed to load scans: %w", err)
		}
		scans = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}

	sort.SliceStable(scans, func(i, j int) bool {
		return scans[i].StartedAt.After(scans[j].StartedAt.Time)
	})

	overview := Overview{Stats: stats, Scans: scans}
	if stats.TotalScans > 0 {
		overview.CompletionRate = float64(stats.CompletedScans) / float64(stats.TotalScans) * 100
	}
	return overview, nil
}

package snapshot

import (
	"context"
	"errors"
)

// ErrNotEnoughSnapshots is returned by Trend with fewer than two snapshots.
var ErrNotEnoughSnapshots = errors.New("at least two snapshots are needed for a trend")

// Trend is the change between the two newest snapshots. Positive values mean more.
type Trend struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Scans    int    `json:"scans"`
	Findings int    `json:"findings"`
	Threats  int    `json:"threats"`
	Critical int    `json:"critical"`
	High     int    `json:"high"`
	Medium   int    `json:"medium"`
	Low      int    `json:"low"`
}

// Improving reports whether critical and high findings went down without either rising.
func (t Trend) Improving() bool {
	return t.Critical <= 0 && t.High <= 0 && (t.Critical < 0 || t.High < 0)
}

// Trend compares the two newest snapshots.
func (m *Manager) Trend(ctx context.Context) (Trend, error) {
	snapshots, err := m.GetTrendData(ctx, 2)
	if err != nil {
		return Trend{}, err
	}
	if len(snapshots) < 2 {
		return Trend{}, ErrNotEnoughSnapshots
	}
	return Compare(snapshots[1], snapshots[0]), nil
}

// Compare returns the change from older to newer.
func Compare(older, newer *Snapshot) Trend {
	o, n := older.Stats, newer.Stats
	return Trend{
		From:     older.SnapshotID,
		To:       newer.SnapshotID,
		Scans:    n.TotalScans - o.TotalScans,
		Findings: n.TotalFindings - o.TotalFindings,
		Threats:  n.TotalThreats - o.TotalThreats,
		Critical: n.SeverityBreakdown.Critical - o.SeverityBreakdown.Critical,
		High:     n.SeverityBreakdown.High - o.SeverityBreakdown.High,
		Medium:   n.SeverityBreakdown.Medium - o.SeverityBreakdown.Medium,
		Low:      n.SeverityBreakdown.Low - o.SeverityBreakdown.Low,
	}
}

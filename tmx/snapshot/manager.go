package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/store"
)

const (
	keyPrefix = "tmx:snapshot:"
	// MaxSnapshots is the number of snapshots kept.
	MaxSnapshots = 10
	// idLayout is sortable, so lexical order is chronological order.
	idLayout = "2006-01-02-150405"
)

// Snapshot is the dashboard counters at one point in time.
type Snapshot struct {
	SnapshotID string    `json:"snapshot_id"` // YYYY-MM-DD-HHMMSS
	Timestamp  time.Time `json:"timestamp"`
	Stats      tmx.Stats `json:"stats"`
}

// StatsSource provides the counters to capture. *client.Client satisfies it.
type StatsSource interface {
	Stats(ctx context.Context) (tmx.Stats, error)
}

// Manager handles snapshot CRUD operations and retention
type Manager struct {
	kvStore store.KVStore
	now     func() time.Time
}

func NewManager(kvStore store.KVStore) *Manager {
	return &Manager{kvStore: kvStore, now: time.Now}
}

// Capture fetches the current stats from src and stores them as a new snapshot.
func (m *Manager) Capture(ctx context.Context, src StatsSource) (*Snapshot, error) {
	stats, err := src.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stats for snapshot: %w", err)
	}
	return m.CreateSnapshot(ctx, stats, "")
}

// CreateSnapshot stores stats under snapshotID, or under a timestamp-based ID when
// snapshotID is empty, then drops snapshots beyond MaxSnapshots.
func (m *Manager) CreateSnapshot(ctx context.Context, stats tmx.Stats, snapshotID string) (*Snapshot, error) {
	now := m.now().UTC()
	if snapshotID == "" {
		snapshotID = now.Format(idLayout)
	}

	snapshot := &Snapshot{SnapshotID: snapshotID, Timestamp: now, Stats: stats}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := m.kvStore.SetValue(ctx, keyPrefix+snapshotID, string(data)); err != nil {
		return nil, fmt.Errorf("failed to save snapshot %s: %w", snapshotID, err)
	}
	slog.Debug("Saved stats snapshot", "snapshot_id", snapshotID, "total_findings", stats.TotalFindings)

	if err := m.CleanupOldSnapshots(ctx); err != nil {
		// Log but don't fail on cleanup error
		slog.Warn("Failed to cleanup old snapshots", "error", err)
	}
	return snapshot, nil
}

// GetSnapshot retrieves a specific snapshot by snapshot ID
func (m *Manager) GetSnapshot(ctx context.Context, snapshotID string) (*Snapshot, error) {
	value, err := m.kvStore.GetValue(ctx, keyPrefix+snapshotID)
	if err != nil {
		return nil, fmt.Errorf("snapshot not found for ID %s: %w", snapshotID, err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(value), &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListSnapshots returns all snapshot IDs, most recent first.
func (m *Manager) ListSnapshots(ctx context.Context) ([]string, error) {
	keys, err := m.kvStore.ListKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		if id := strings.TrimPrefix(key, keyPrefix); id != key && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}

// GetTrendData returns up to limit of the most recent snapshots, newest first.
func (m *Manager) GetTrendData(ctx context.Context, limit int) ([]*Snapshot, error) {
	if limit <= 0 || limit > MaxSnapshots {
		limit = MaxSnapshots
	}

	ids, err := m.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	snapshots := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := m.GetSnapshot(ctx, id)
		if err != nil {
			slog.Warn("Skipping unreadable snapshot", "snapshot_id", id, "error", err)
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}

// CleanupOldSnapshots keeps only the MaxSnapshots most recent snapshots
func (m *Manager) CleanupOldSnapshots(ctx context.Context) error {
	ids, err := m.ListSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(ids) <= MaxSnapshots {
		return nil
	}

	for _, id := range ids[MaxSnapshots:] {
		key := keyPrefix + id
		if err := m.kvStore.DeleteValue(ctx, key); err != nil {
			// Log but continue cleanup
			slog.Warn("Failed to delete old snapshot", "key", key, "error", err)
		}
	}
	return nil
}

// GetLatestSnapshot retrieves the most recent snapshot
func (m *Manager) GetLatestSnapshot(ctx context.Context) (*Snapshot, error) {
	ids, err := m.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no snapshots available")
	}
	return m.GetSnapshot(ctx, ids[0])
}

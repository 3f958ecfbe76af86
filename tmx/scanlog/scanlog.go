// Package scanlog keeps the activity log of a scan outside the lifecycle, either in
// memory or in a Valkey list shared with other processes.
package scanlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/scan"
	"github.com/threatmodelerx/go-api/tmx/store"
)

// Entry is one log line.
type Entry = tmx.LogEntry

// DefaultTTL is how long a persisted scan log is kept.
const DefaultTTL = 24 * time.Hour

// sinkTimeout bounds one append issued from an observer callback.
const sinkTimeout = 5 * time.Second

// Key returns the Valkey list holding the log of scanID.
func Key(scanID string) string {
	return "scanlog:" + scanID
}

// Sink stores log lines.
type Sink interface {
	Append(ctx context.Context, scanID string, entry Entry) error
}

// MemorySink keeps log lines per scan in process memory.
type MemorySink struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[string][]Entry)}
}

func (m *MemorySink) Append(ctx context.Context, scanID string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[scanID] = append(m.entries[scanID], entry)
	return nil
}

// Entries returns a copy of the lines recorded for scanID.
func (m *MemorySink) Entries(scanID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries[scanID]...)
}

// StoreSink appends JSON encoded lines to the list Key(scanID) and refreshes its TTL.
type StoreSink struct {
	kv  store.KVStore
	ttl time.Duration
}

// NewStoreSink creates a StoreSink. A ttl of zero uses DefaultTTL.
func NewStoreSink(kv store.KVStore, ttl time.Duration) *StoreSink {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StoreSink{kv: kv, ttl: ttl}
}

func (s *StoreSink) Append(ctx context.Context, scanID string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	key := Key(scanID)
	if _, err := s.kv.AppendList(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to append scan log: %w", err)
	}
	if err := s.kv.SetExpire(ctx, key, int(s.ttl/time.Second)); err != nil {
		return fmt.Errorf("failed to set scan log expiry: %w", err)
	}
	return nil
}

// Tail reads the persisted log of scanID, oldest line first. Lines that do not
// decode are skipped.
func Tail(ctx context.Context, kv store.KVStore, scanID string) ([]Entry, error) {
	raw, err := kv.ListRange(ctx, Key(scanID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan log for %s: %w", scanID, err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, line := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("Skipping malformed scan log line", "scan_id", scanID, "index", i, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Format renders an entry the way the dashboard log panel shows it.
func Format(entry Entry) string {
	return fmt.Sprintf("[%s] %-7s %s", entry.Timestamp.Local().Format("15:04:05"), entry.Type, entry.Message)
}

// Recorder is a scan.Observer that copies every log line to a Sink. Sink errors are
// logged and never affect the scan.
type Recorder struct {
	sink Sink
}

func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

func (r *Recorder) OnEvent(e scan.Event) {
	if e.Kind != scan.EventLog || e.Log == nil || e.Session.ScanID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := r.sink.Append(ctx, e.Session.ScanID, *e.Log); err != nil {
		slog.Warn("Failed to record scan log line", "scan_id", e.Session.ScanID, "error", err)
	}
}

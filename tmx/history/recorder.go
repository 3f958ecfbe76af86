package history

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/threatmodelerx/go-api/tmx/postgres/models"
	"github.com/threatmodelerx/go-api/tmx/scan"
)

// writeTimeout bounds one upsert issued from an observer callback.
const writeTimeout = 5 * time.Second

// Store persists scan records. *Repository satisfies it.
type Store interface {
	Upsert(ctx context.Context, record *models.ScanRecord) error
}

// Recorder is a scan.Observer that writes a record when a scan is accepted and
// again on every terminal transition. Write errors are logged and never fail the scan.
type Recorder struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	polls map[string]int
}

// NewRecorder returns a Recorder that writes scan records to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now, polls: make(map[string]int)}
}

// OnEvent records the scan state carried by e. Events without a scan id are ignored.
func (r *Recorder) OnEvent(e scan.Event) {
	scanID := e.Session.ScanID
	if scanID == "" {
		return
	}

	r.mu.Lock()
	record, ok := r.track(e)
	r.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.store.Upsert(ctx, record); err != nil {
		slog.Warn("Failed to record scan history", "scan_id", scanID, "state", record.State, "error", err)
	}
}

// track counts polls and returns the record to write, if the event needs one.
func (r *Recorder) track(e scan.Event) (*models.ScanRecord, bool) {
	scanID := e.Session.ScanID
	switch {
	case e.Kind == scan.EventStatus || e.Kind == scan.EventPollError:
		r.polls[scanID]++
		return nil, false
	case e.Kind == scan.EventSubmitted:
		r.polls[scanID] = 0
	case e.Kind.IsTerminal():
		if e.Snapshot != nil {
			r.polls[scanID]++
		}
	default:
		return nil, false
	}

	record := r.recordFor(e)
	if e.Kind.IsTerminal() {
		delete(r.polls, scanID)
	}
	return record, true
}

func (r *Recorder) recordFor(e scan.Event) *models.ScanRecord {
	s := e.Session
	now := r.now().UTC()
	record := &models.ScanRecord{
		ScanID:     s.ScanID,
		RepoPath:   s.Request.RepoPath,
		ScanTypes:  strings.Join(s.Request.ScanTypes, ","),
		State:      string(s.State),
		StatusText: s.StatusText,
		Progress:   s.Progress,
		Polls:      r.polls[s.ScanID],
		StartedAt:  s.StartedAt.UTC(),
		UpdatedAt:  now,
		CreatedAt:  now,
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = now
	}
	if e.Err != nil {
		record.Error = e.Err.Error()
	}
	if e.Kind.IsTerminal() {
		record.FinishedAt = &now
	}
	if e.Snapshot != nil {
		record.Metadata = models.JSONB{
			"backend_status": string(e.Snapshot.Status),
			"current_stage":  e.Snapshot.CurrentStage,
		}
		if e.Snapshot.Error != "" {
			record.Metadata["backend_error"] = e.Snapshot.Error
		}
	}
	return record
}

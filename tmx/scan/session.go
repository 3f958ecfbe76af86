package scan

import (
	"time"

	"github.com/threatmodelerx/go-api/tmx"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle          State = "idle"
	StateSubmitting    State = "submitting"
	StatePolling       State = "polling"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateErrorTerminal State = "error_terminal"
	StateTimeout       State = "timeout"
	StateCancelled     State = "cancelled"
)

// IsTerminal reports whether the state ends a watch.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateErrorTerminal, StateTimeout, StateCancelled:
		return true
	}
	return false
}

// Session is the user-visible state of the current scan.
type Session struct {
	State      State           `json:"state"`
	ScanID     string          `json:"scan_id,omitempty"`
	Request    tmx.ScanRequest `json:"request"`
	StatusText string          `json:"status_text"`
	Progress   int             `json:"progress"`
	Logs       []tmx.LogEntry  `json:"logs"`
	Err        error           `json:"-"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (s Session) clone() Session {
	out := s
	out.Logs = append([]tmx.LogEntry(nil), s.Logs...)
	out.Request.ScanTypes = append([]string(nil), s.Request.ScanTypes...)
	return out
}

// EventKind names a session transition.
type EventKind string

const (
	EventSubmitting   EventKind = "submitting"
	EventSubmitted    EventKind = "submitted"
	EventSubmitFailed EventKind = "submit_failed"
	EventStatus       EventKind = "status"
	EventPollError    EventKind = "poll_error"
	EventLog          EventKind = "log"
	EventCompleted    EventKind = "completed"
	EventFailed       EventKind = "failed"
	EventTimeout      EventKind = "timeout"
	EventCancelled    EventKind = "cancelled"
)

// IsTerminal reports whether the event ends a watch.
func (k EventKind) IsTerminal() bool {
	switch k {
	case EventCompleted, EventFailed, EventTimeout, EventCancelled:
		return true
	}
	return false
}

// Event is delivered to observers after every session change. Session is a copy
// taken after the change. Snapshot is set for EventStatus and for terminal events
// caused by a status reply. Log is set for EventLog.
type Event struct {
	Kind     EventKind
	Session  Session
	Snapshot *tmx.StatusSnapshot
	Log      *tmx.LogEntry
	Err      error
}

// Observer receives lifecycle events synchronously, in transition order, from the
// goroutine driving the lifecycle. Implementations must not block for long.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Package scan drives one scan from submission to a terminal state.
//
// A Lifecycle submits a request, then polls the backend on a single ticker until the
// scan completes, fails, times out or the caller cancels the context. Polls run
// sequentially on the goroutine that called Watch, so requests never overlap and
// replies are applied in order. Every change to the Session is announced to the
// registered observers.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
)

// API is the part of the backend a lifecycle needs. *client.Client satisfies it.
type API interface {
	SubmitScan(ctx context.Context, req tmx.ScanRequest) (tmx.ScanHandle, error)
	ScanStatus(ctx context.Context, scanID string) (tmx.StatusSnapshot, error)
}

// Result summarises a finished watch.
type Result struct {
	ScanID string
	State  State
	// Snapshot is the last status reply that was applied.
	Snapshot tmx.StatusSnapshot
	// Polls counts status requests sent, successful or not.
	Polls int
	// Notified is true once OnComplete has been called.
	Notified bool
}

// Lifecycle owns the session of one scan at a time.
type Lifecycle struct {
	api       API
	config    *Config
	now       func() time.Time
	mu        sync.Mutex
	session   Session
	busy      bool
	observers []Observer
}

// New creates a Lifecycle. A nil config uses DefaultConfig.
func New(api API, config *Config, observers ...Observer) *Lifecycle {
	if config == nil {
		config = DefaultConfig()
	}
	return &Lifecycle{
		api:       api,
		config:    config.withDefaults(),
		now:       time.Now,
		session:   Session{State: StateIdle},
		observers: observers,
	}
}

// AddObserver registers o for all later events.
func (l *Lifecycle) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// Session returns a copy of the current session.
func (l *Lifecycle) Session() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.clone()
}

// Reset returns an inactive lifecycle to idle.
func (l *Lifecycle) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return ErrBusy
	}
	l.session = Session{State: StateIdle, UpdatedAt: l.now()}
	return nil
}

// Submit starts a scan. On success the session is polling and the handle can be
// passed to Watch.
func (l *Lifecycle) Submit(ctx context.Context, req tmx.ScanRequest) (tmx.ScanHandle, error) {
	if err := req.Validate(); err != nil {
		return tmx.ScanHandle{}, &SubmissionError{Err: err}
	}
	if err := l.acquire(); err != nil {
		return tmx.ScanHandle{}, err
	}
	defer l.release()
	return l.submit(ctx, req)
}

// Watch polls handle until a terminal state. It returns a *TerminalFailure, a
// *TimeoutError or the context error when the scan does not complete.
func (l *Lifecycle) Watch(ctx context.Context, handle tmx.ScanHandle) (Result, error) {
	if err := l.acquire(); err != nil {
		return Result{ScanID: handle.ScanID}, err
	}
	defer l.release()
	return l.watch(ctx, handle)
}

// Run submits req and watches the resulting scan.
func (l *Lifecycle) Run(ctx context.Context, req tmx.ScanRequest) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{State: StateIdle}, &SubmissionError{Err: err}
	}
	if err := l.acquire(); err != nil {
		return Result{}, err
	}
	defer l.release()

	handle, err := l.submit(ctx, req)
	if err != nil {
		return Result{State: StateIdle}, err
	}
	return l.watch(ctx, handle)
}

// Poll fetches one status snapshot without touching the session.
func (l *Lifecycle) Poll(ctx context.Context, handle tmx.ScanHandle) (tmx.StatusSnapshot, error) {
	snap, err := l.api.ScanStatus(ctx, handle.ScanID)
	if err != nil {
		return tmx.StatusSnapshot{}, &PollError{ScanID: handle.ScanID, Attempt: 1, Err: err}
	}
	return snap, nil
}

func (l *Lifecycle) acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		return ErrBusy
	}
	l.busy = true
	return nil
}

func (l *Lifecycle) release() {
	l.mu.Lock()
	l.busy = false
	l.mu.Unlock()
}

func (l *Lifecycle) submit(ctx context.Context, req tmx.ScanRequest) (tmx.ScanHandle, error) {
	l.transition(Event{Kind: EventSubmitting}, func(s *Session) {
		*s = Session{
			State:      StateSubmitting,
			Request:    req,
			StatusText: textInitiating,
			Progress:   0,
			StartedAt:  l.now(),
		}
	})

	slog.Info("Submitting scan", "repo_path", req.RepoPath, "scan_types", req.ScanTypes)
	handle, err := l.api.SubmitScan(ctx, req)
	if err != nil {
		text, code := submitFailure(err)
		subErr := &SubmissionError{StatusCode: code, Err: err}
		slog.Warn("Scan submission failed", "repo_path", req.RepoPath, "error", err)
		l.transition(Event{Kind: EventSubmitFailed, Err: subErr}, func(s *Session) {
			s.State = StateIdle
			s.StatusText = text
			s.Err = subErr
		})
		return tmx.ScanHandle{}, subErr
	}

	slog.Info("Scan accepted", "scan_id", handle.ScanID)
	l.startPolling(handle.ScanID, EventSubmitted)
	return handle, nil
}

// startPolling moves the session to polling for scanID.
func (l *Lifecycle) startPolling(scanID string, kind EventKind) {
	l.transition(Event{Kind: kind}, func(s *Session) {
		if s.State != StateSubmitting && s.ScanID != scanID {
			s.Logs = nil
			s.Request = tmx.ScanRequest{}
			s.StartedAt = l.now()
		}
		s.State = StatePolling
		s.ScanID = scanID
		s.StatusText = textRunning
		s.Progress = initialProgress
		s.Err = nil
	})
	l.appendLog("Starting scan "+scanID, tmx.LogInfo)
}

func (l *Lifecycle) watch(ctx context.Context, handle tmx.ScanHandle) (Result, error) {
	scanID := handle.ScanID
	result := Result{ScanID: scanID, State: StatePolling}
	if scanID == "" {
		return result, &PollError{Err: errors.New("scan handle has no id")}
	}

	l.mu.Lock()
	adopt := l.session.ScanID != scanID || l.session.State != StatePolling
	l.mu.Unlock()
	if adopt {
		l.startPolling(scanID, EventSubmitted)
	}

	ceiling := l.config.RetryCeiling()
	slog.Info("Watching scan", "scan_id", scanID, "interval", l.config.PollInterval, "max_retries", ceiling)

	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	retries := 0
	lastStageLine := ""
	for {
		select {
		case <-ctx.Done():
			return l.cancelled(ctx, result)
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return l.cancelled(ctx, result)
		}

		result.Polls++
		slog.Debug("Polling scan status", "scan_id", scanID, "attempt", result.Polls)
		snap, err := l.api.ScanStatus(ctx, scanID)
		if ctx.Err() != nil {
			slog.Debug("Dropping status reply after cancellation", "scan_id", scanID)
			return l.cancelled(ctx, result)
		}

		if err != nil {
			retries++
			pollErr := &PollError{ScanID: scanID, Attempt: result.Polls, Err: err}
			slog.Warn("Scan status check failed", "scan_id", scanID, "retries", retries, "error", err)
			l.transition(Event{Kind: EventPollError, Err: pollErr}, func(s *Session) {
				s.Err = pollErr
			})
			l.appendLog(pollFailureLog(err), tmx.LogError)
			if retries > ceiling {
				return l.timedOut(result, retries, pollErr)
			}
			continue
		}

		retries = 0
		result.Snapshot = snap
		switch {
		case snap.Status == tmx.StatusCompleted:
			return l.completed(ctx, result, snap)
		case snap.Status.IsFailure():
			return l.failed(result, snap)
		default:
			l.progressed(snap, &lastStageLine)
		}
	}
}

func (l *Lifecycle) progressed(snap tmx.StatusSnapshot, lastStageLine *string) {
	l.transition(Event{Kind: EventStatus, Snapshot: &snap}, func(s *Session) {
		s.StatusText, s.Progress = describe(snap, s.Progress)
		s.Err = nil
	})

	if snap.Status == tmx.StatusRunning && snap.Details != "" {
		line := stageLine(snap)
		if line != *lastStageLine {
			*lastStageLine = line
			l.appendLog(line, tmx.LogInfo)
		}
	}
}

func (l *Lifecycle) completed(ctx context.Context, result Result, snap tmx.StatusSnapshot) (Result, error) {
	result.State = StateCompleted
	slog.Info("Scan completed", "scan_id", result.ScanID, "polls", result.Polls)
	l.appendLog(logCompleted, tmx.LogSuccess)
	l.transition(Event{Kind: EventCompleted, Snapshot: &snap}, func(s *Session) {
		s.State = StateCompleted
		s.StatusText = textCompleted
		s.Progress = completedProgress
	})

	if l.config.CompletionDelay > 0 {
		timer := time.NewTimer(l.config.CompletionDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			slog.Debug("Completion callback skipped after cancellation", "scan_id", result.ScanID)
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	if l.config.OnComplete != nil {
		l.config.OnComplete(result.ScanID)
	}
	result.Notified = true
	return result, nil
}

func (l *Lifecycle) failed(result Result, snap tmx.StatusSnapshot) (Result, error) {
	state := StateErrorTerminal
	if snap.Status == tmx.StatusFailed {
		state = StateFailed
	}
	result.State = state
	failure := &TerminalFailure{ScanID: result.ScanID, Status: snap.Status, Message: snap.Error}
	text := failureText(snap)

	slog.Warn("Scan ended with failure", "scan_id", result.ScanID, "status", snap.Status, "error", snap.Error)
	l.appendLog(text, tmx.LogError)
	l.transition(Event{Kind: EventFailed, Snapshot: &snap, Err: failure}, func(s *Session) {
		s.State = state
		s.StatusText = text
		s.Err = failure
	})
	return result, failure
}

func (l *Lifecycle) timedOut(result Result, retries int, last *PollError) (Result, error) {
	result.State = StateTimeout
	timeout := &TimeoutError{ScanID: result.ScanID, Retries: retries, Last: last}
	text := timeoutText(last.Err)

	slog.Error("Scan status unavailable, giving up", "scan_id", result.ScanID, "retries", retries)
	l.transition(Event{Kind: EventTimeout, Err: timeout}, func(s *Session) {
		s.State = StateTimeout
		s.StatusText = text
		s.Err = timeout
	})
	return result, timeout
}

func (l *Lifecycle) cancelled(ctx context.Context, result Result) (Result, error) {
	result.State = StateCancelled
	err := ctx.Err()
	slog.Info("Scan watch cancelled", "scan_id", result.ScanID, "polls", result.Polls)
	l.transition(Event{Kind: EventCancelled, Err: err}, func(s *Session) {
		s.State = StateCancelled
		s.StatusText = textCancelled
		s.Err = err
	})
	return result, err
}

func (l *Lifecycle) appendLog(message string, typ tmx.LogType) {
	entry := tmx.LogEntry{Timestamp: l.now().UTC(), Message: message, Type: typ}
	l.transition(Event{Kind: EventLog, Log: &entry}, func(s *Session) {
		s.Logs = append(s.Logs, entry)
	})
}

// transition applies mutate under the lock, then notifies observers with a copy of
// the resulting session.
func (l *Lifecycle) transition(e Event, mutate func(*Session)) {
	l.mu.Lock()
	mutate(&l.session)
	l.session.UpdatedAt = l.now()
	e.Session = l.session.clone()
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()

	for _, o := range observers {
		o.OnEvent(e)
	}
}

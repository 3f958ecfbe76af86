package scan

import (
	"errors"
	"fmt"

	"github.com/threatmodelerx/go-api/tmx"
)

// ErrBusy is returned when a submit or watch is attempted while another is active.
var ErrBusy = errors.New("a scan is already in progress")

// SubmissionError is returned when a scan could not be started. StatusCode is set
// when the backend answered with a non-2xx reply.
type SubmissionError struct {
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("scan submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollError is one failed status fetch. It unwraps to the transport cause or to a
// *client.APIError.
type PollError struct {
	ScanID  string
	Attempt int
	Err     error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %d for scan %s failed: %v", e.Attempt, e.ScanID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// TerminalFailure is a failed, error or not_found status reported by the backend.
// Message is the backend's error text, verbatim.
type TerminalFailure struct {
	ScanID  string
	Status  tmx.ScanStatus
	Message string
}

func (e *TerminalFailure) Error() string {
	msg := e.Message
	if msg == "" {
		msg = unknownError
	}
	return fmt.Sprintf("scan %s %s: %s", e.ScanID, e.Status, msg)
}

// TimeoutError is returned when consecutive poll failures exceed the retry ceiling.
// It unwraps to the last poll failure.
type TimeoutError struct {
	ScanID  string
	Retries int
	Last    error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scan %s: status unavailable after %d failed polls: %v", e.ScanID, e.Retries, e.Last)
}

func (e *TimeoutError) Unwrap() error { return e.Last }

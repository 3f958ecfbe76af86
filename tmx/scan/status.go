package scan

import (
	"errors"
	"fmt"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/client"
)

const unknownError = "Unknown error"

const (
	textInitiating  = "Initiating scan..."
	textRunning     = "Scan running..."
	textCompleted   = "Scan completed!"
	textUnavailable = "Scan status unavailable. Please try again."
	textCancelled   = "Scan cancelled."
	textInvalidResp = "Error: Invalid response from server"
	logCompleted    = "Scan completed successfully"
	defaultStage    = "processing"
)

// Progress synthesis. These values are a presentation heuristic for scans whose
// status carries no progress, not telemetry.
const (
	initialProgress          = 5
	progressStep             = 2
	runningProgressCap       = 95
	indeterminateProgressCap = 90
	completedProgress        = 100
)

// stepProgress advances synthetic progress by one step, capped. It never lowers
// the shown value, so a cap below prev leaves prev unchanged.
func stepProgress(prev, limit int) int {
	next := prev + progressStep
	if next > limit {
		next = limit
	}
	if next < prev {
		return prev
	}
	return next
}

// describe returns the status line and progress for a non-terminal snapshot.
func describe(snap tmx.StatusSnapshot, prev int) (string, int) {
	if snap.Status != tmx.StatusRunning {
		return fmt.Sprintf("Scanning... (%s)", snap.Status), stepProgress(prev, indeterminateProgressCap)
	}

	text := stageLine(snap)
	if snap.Progress.Set {
		return text, boundProgress(snap.Progress.Value)
	}
	return text, stepProgress(prev, runningProgressCap)
}

// stageLine formats "<stage>[: details]" for a running snapshot.
func stageLine(snap tmx.StatusSnapshot) string {
	stage := snap.CurrentStage
	if stage == "" {
		stage = defaultStage
	}
	if snap.Details != "" {
		return stage + ": " + snap.Details
	}
	return stage
}

// boundProgress keeps an explicit backend value inside the 0..100 range of the
// bar. Lower values than the one shown are passed through.
func boundProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > completedProgress {
		return completedProgress
	}
	return v
}

func failureText(snap tmx.StatusSnapshot) string {
	msg := snap.Error
	if msg == "" {
		msg = unknownError
	}
	if snap.Status == tmx.StatusFailed {
		return "Scan failed: " + msg
	}
	return fmt.Sprintf("Scan %s: %s", snap.Status, msg)
}

// submitFailure returns the status line and HTTP status for a failed submission.
func submitFailure(err error) (string, int) {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Error: Server responded with status %d", apiErr.StatusCode), apiErr.StatusCode
	}
	if errors.Is(err, client.ErrInvalidResponse) {
		return textInvalidResp, 0
	}
	return "Error starting scan: " + errMessage(err), 0
}

// pollFailureLog is the log line written for one failed poll.
func pollFailureLog(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Failed to fetch scan status: HTTP %d", apiErr.StatusCode)
	}
	return "Error checking scan status: " + errMessage(err)
}

// timeoutText is the status line shown once the retry ceiling is exceeded. It
// depends on the kind of the last failure.
func timeoutText(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return textUnavailable
	}
	return "Error checking scan status: " + errMessage(err)
}

func errMessage(err error) string {
	if err == nil || err.Error() == "" {
		return unknownError
	}
	return err.Error()
}

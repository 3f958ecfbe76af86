package scan_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/client"
	"github.com/threatmodelerx/go-api/tmx/mockapi"
	"github.com/threatmodelerx/go-api/tmx/scan"
)

func newLifecycle(t *testing.T, backend *mockapi.Backend, config *scan.Config, observers ...scan.Observer) *scan.Lifecycle {
	t.Helper()
	srv := httptest.NewServer(backend.Routes())
	t.Cleanup(srv.Close)
	c, err := client.NewWithHTTPClient(&client.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, srv.Client())
	if err != nil {
		t.Fatalf("❌ Failed to create client: %v", err)
	}
	return scan.New(c, config, observers...)
}

func TestLifecycleAgainstMockBackend(t *testing.T) {
	t.Log("🔍 Testing full scan against the mock backend...")

	var mu sync.Mutex
	var completed []string
	var progress []int
	config := &scan.Config{
		PollInterval:    5 * time.Millisecond,
		CompletionDelay: time.Millisecond,
		MaxRetries:      3,
		OnComplete: func(id string) {
			mu.Lock()
			completed = append(completed, id)
			mu.Unlock()
		},
	}
	backend := mockapi.New()
	lc := newLifecycle(t, backend, config, scan.ObserverFunc(func(e scan.Event) {
		if e.Kind == scan.EventStatus {
			progress = append(progress, e.Session.Progress)
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := lc.Run(ctx, tmx.ScanRequest{RepoPath: "./demo-apps/python-flask", ScanTypes: []string{"sast"}})
	if err != nil {
		t.Fatalf("❌ Run failed: %v", err)
	}
	if result.State != scan.StateCompleted || !result.Notified {
		t.Errorf("❌ Unexpected result %+v", result)
	}
	if len(completed) != 1 || completed[0] != result.ScanID {
		t.Errorf("❌ Expected one completion for %s, got %v", result.ScanID, completed)
	}
	want := []int{0, 10, 40, 60, 80}
	if len(progress) != len(want) {
		t.Fatalf("❌ Expected progress %v, got %v", want, progress)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("❌ Expected progress %v, got %v", want, progress)
			break
		}
	}
	if result.Polls != backend.Polls(result.ScanID) {
		t.Errorf("❌ Client counted %d polls, backend saw %d", result.Polls, backend.Polls(result.ScanID))
	}

	s := lc.Session()
	if s.Progress != 100 || s.StatusText != "Scan completed!" {
		t.Errorf("❌ Unexpected final session %+v", s)
	}
	t.Log("✅ Mock backend scan test passed")
}

func TestLifecycleFailureHaltsPolling(t *testing.T) {
	backend := mockapi.New()
	backend.ScriptScan(mockapi.FailedScript("bandit crashed")...)
	lc := newLifecycle(t, backend, &scan.Config{PollInterval: 5 * time.Millisecond, MaxRetries: 3})

	result, err := lc.Run(context.Background(), tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	var failure *scan.TerminalFailure
	if !errors.As(err, &failure) || failure.Message != "bandit crashed" {
		t.Fatalf("❌ Expected terminal failure, got %v", err)
	}
	polls := backend.Polls(result.ScanID)
	time.Sleep(30 * time.Millisecond)
	if backend.Polls(result.ScanID) != polls || polls != 2 {
		t.Errorf("❌ Polling continued after failure: %d then %d", polls, backend.Polls(result.ScanID))
	}
	if lc.Session().StatusText != "Scan failed: bandit crashed" {
		t.Errorf("❌ Unexpected status text %q", lc.Session().StatusText)
	}
}

func TestLifecycleTimesOutOnHTTPFailures(t *testing.T) {
	backend := mockapi.New()
	lc := newLifecycle(t, backend, &scan.Config{PollInterval: 2 * time.Millisecond, MaxRetries: 3})

	handle, err := lc.Submit(context.Background(), tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	if err != nil {
		t.Fatalf("❌ Submit failed: %v", err)
	}
	backend.FailPolls(100)

	_, err = lc.Watch(context.Background(), handle)
	var timeout *scan.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("❌ Expected timeout, got %v", err)
	}
	if backend.Polls(handle.ScanID) != 4 {
		t.Errorf("❌ Expected 4 polls for a ceiling of 3, got %d", backend.Polls(handle.ScanID))
	}
	if lc.Session().StatusText != "Scan status unavailable. Please try again." {
		t.Errorf("❌ Unexpected status text %q", lc.Session().StatusText)
	}
}

func TestLifecycleSubmitRejected(t *testing.T) {
	backend := mockapi.New()
	backend.FailNextSubmit(500)
	lc := newLifecycle(t, backend, nil)

	_, err := lc.Submit(context.Background(), tmx.ScanRequest{RepoPath: "x", ScanTypes: []string{"sast"}})
	var subErr *scan.SubmissionError
	if !errors.As(err, &subErr) || subErr.StatusCode != 500 {
		t.Fatalf("❌ Expected submission error with status 500, got %v", err)
	}
	s := lc.Session()
	if s.State != scan.StateIdle || s.StatusText != "Error: Server responded with status 500" {
		t.Errorf("❌ Unexpected session %+v", s)
	}
}

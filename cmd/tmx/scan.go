package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/events"
	"github.com/threatmodelerx/go-api/tmx/history"
	"github.com/threatmodelerx/go-api/tmx/postgres"
	"github.com/threatmodelerx/go-api/tmx/queue"
	"github.com/threatmodelerx/go-api/tmx/scan"
	"github.com/threatmodelerx/go-api/tmx/scanlog"
	"github.com/threatmodelerx/go-api/tmx/store"
)

// watchFlags configure the polling loop and the optional observers.
type watchFlags struct {
	interval   time.Duration
	maxRetries int
	budget     time.Duration
	delay      time.Duration
	logs       bool
	history    bool
	events     bool
	quiet      bool
}

func addWatchFlags(fs *flag.FlagSet) *watchFlags {
	defaults := scan.LoadConfigFromEnv()
	w := &watchFlags{}
	fs.DurationVar(&w.interval, "interval", defaults.PollInterval, "Time between status polls")
	fs.IntVar(&w.maxRetries, "max-retries", defaults.MaxRetries, "Consecutive failed polls tolerated")
	fs.DurationVar(&w.budget, "timeout", defaults.TimeoutBudget, "Total failure budget, replaces --max-retries when set")
	fs.DurationVar(&w.delay, "completion-delay", defaults.CompletionDelay, "Pause between completion and the completion notice")
	fs.BoolVar(&w.logs, "logs", false, "Persist the scan log to Valkey (env TMX_VALKEY_ADDR)")
	fs.BoolVar(&w.history, "history", false, "Record the scan in PostgreSQL (env TMX_DATABASE_URL)")
	fs.BoolVar(&w.events, "events", false, "Publish lifecycle events to RabbitMQ (env TMX_RABBITMQ_URL)")
	fs.BoolVar(&w.quiet, "quiet", false, "Only print the final result")
	return w
}

func (w *watchFlags) config(out io.Writer, asJSON bool) *scan.Config {
	config := &scan.Config{
		PollInterval:    w.interval,
		CompletionDelay: w.delay,
		MaxRetries:      w.maxRetries,
		TimeoutBudget:   w.budget,
	}
	if !asJSON {
		config.OnComplete = func(scanID string) {
			fmt.Fprintf(out, "Scan %s is ready: run 'tmx findings --scan %s' to review the results\n", scanID, scanID)
		}
	}
	return config
}

// observers builds the observers selected by w. The returned cleanup releases the
// connections they hold.
func (w *watchFlags) observers(out io.Writer, asJSON bool) ([]scan.Observer, func(), error) {
	var obs []scan.Observer
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if !asJSON && !w.quiet {
		obs = append(obs, &renderer{w: out})
	}

	if w.logs {
		kv, err := store.NewValkeyStore(store.LoadConfigFromEnv())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("scan log store: %w", err)
		}
		closers = append(closers, func() { _ = kv.Close() })
		obs = append(obs, scanlog.NewRecorder(scanlog.NewStoreSink(kv, scanlog.DefaultTTL)))
	}

	if w.history {
		db, err := postgres.Connect(postgres.LoadConfigFromEnv())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("scan history: %w", err)
		}
		closers = append(closers, func() { _ = postgres.Close(db) })
		obs = append(obs, history.NewRecorder(history.NewRepository(db)))
	}

	if w.events {
		pub := queue.NewPublisher(queue.LoadConfigFromEnv())
		closers = append(closers, func() { _ = pub.Close() })
		obs = append(obs, events.NewPublisher(pub, events.DefaultQueue))
	}

	return obs, cleanup, nil
}

// renderer prints status changes and log lines as the scan advances.
type renderer struct {
	w        io.Writer
	lastText string
	lastProg int
}

func (r *renderer) OnEvent(e scan.Event) {
	if e.Kind == scan.EventLog && e.Log != nil {
		fmt.Fprintln(r.w, "  "+scanlog.Format(*e.Log))
		return
	}
	s := e.Session
	if s.StatusText == "" || (s.StatusText == r.lastText && s.Progress == r.lastProg) {
		return
	}
	r.lastText, r.lastProg = s.StatusText, s.Progress
	fmt.Fprintf(r.w, "[%3d%%] %s\n", s.Progress, s.StatusText)
}

type scanOutput struct {
	ScanID     string         `json:"scan_id"`
	State      scan.State     `json:"state"`
	StatusText string         `json:"status_text"`
	Progress   int            `json:"progress"`
	Polls      int            `json:"polls"`
	Notified   bool           `json:"notified"`
	Error      string         `json:"error,omitempty"`
	Logs       []tmx.LogEntry `json:"logs"`
}

func outputOf(result scan.Result, s scan.Session, err error) scanOutput {
	out := scanOutput{
		ScanID:     s.ScanID,
		State:      s.State,
		StatusText: s.StatusText,
		Progress:   s.Progress,
		Polls:      result.Polls,
		Notified:   result.Notified,
		Logs:       s.Logs,
	}
	if out.ScanID == "" {
		out.ScanID = result.ScanID
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func (a *app) finishWatch(asJSON bool, lc *scan.Lifecycle, result scan.Result, err error) error {
	if asJSON {
		if emitErr := a.emit(true, outputOf(result, lc.Session(), err), nil); emitErr != nil {
			return emitErr
		}
	} else if err == nil {
		fmt.Fprintf(a.out, "Scan %s completed after %d polls\n", result.ScanID, result.Polls)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("scan %s: watch cancelled", result.ScanID)
	}
	return err
}

func runScan(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("scan")
	types := fs.String("types", tmx.ScanTypeSAST+","+tmx.ScanTypeThreatModel, "Comma separated scan types (sast, threat_model, dast, all)")
	wf := addWatchFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: tmx scan [flags] <target-path>")
		fs.PrintDefaults()
	}
	positional, err := parse(fs, args, 1, 1, "<target-path>")
	if err != nil {
		return err
	}

	req := tmx.ScanRequest{RepoPath: positional[0], ScanTypes: splitList(*types)}
	if err := req.Validate(); err != nil {
		return &usageError{msg: err.Error()}
	}

	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	obs, cleanup, err := wf.observers(a.out, g.json)
	if err != nil {
		return err
	}
	defer cleanup()

	lc := scan.New(c, wf.config(a.out, g.json), obs...)
	slog.Debug("Starting scan command", "target", req.RepoPath, "types", req.ScanTypes, "api", c.BaseURL())
	result, err := lc.Run(ctx, req)
	return a.finishWatch(g.json, lc, result, err)
}

func runWatch(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("watch")
	wf := addWatchFlags(fs)
	positional, err := parse(fs, args, 1, 1, "<scan-id>")
	if err != nil {
		return err
	}

	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	obs, cleanup, err := wf.observers(a.out, g.json)
	if err != nil {
		return err
	}
	defer cleanup()

	lc := scan.New(c, wf.config(a.out, g.json), obs...)
	result, err := lc.Watch(ctx, tmx.ScanHandle{ScanID: positional[0]})
	return a.finishWatch(g.json, lc, result, err)
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("status")
	positional, err := parse(fs, args, 1, 1, "<scan-id>")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	lc := scan.New(c, nil)
	snap, err := lc.Poll(ctx, tmx.ScanHandle{ScanID: positional[0]})
	if err != nil {
		return err
	}
	return a.emit(g.json, snap, func(w io.Writer) {
		fmt.Fprintf(w, "Scan:     %s\n", snap.ScanID)
		fmt.Fprintf(w, "Status:   %s\n", snap.Status)
		if snap.CurrentStage != "" {
			fmt.Fprintf(w, "Stage:    %s\n", snap.CurrentStage)
		}
		if snap.Progress.Set {
			fmt.Fprintf(w, "Progress: %d%%\n", snap.Progress.Value)
		}
		if snap.Details != "" {
			fmt.Fprintf(w, "Details:  %s\n", snap.Details)
		}
		if snap.Error != "" {
			fmt.Fprintf(w, "Error:    %s\n", snap.Error)
		}
		if !snap.StartedAt.IsZero() {
			fmt.Fprintf(w, "Started:  %s\n", snap.StartedAt.Format(time.RFC3339))
		}
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

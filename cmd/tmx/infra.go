package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/threatmodelerx/go-api/tmx/events"
	"github.com/threatmodelerx/go-api/tmx/history"
	"github.com/threatmodelerx/go-api/tmx/postgres"
	"github.com/threatmodelerx/go-api/tmx/postgres/models"
	"github.com/threatmodelerx/go-api/tmx/queue"
	"github.com/threatmodelerx/go-api/tmx/scanlog"
	"github.com/threatmodelerx/go-api/tmx/store"
)

type historyOutput struct {
	Records []models.ScanRecord `json:"records"`
	Total   int                 `json:"total"`
}

func runHistory(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("history")
	state := fs.String("state", "", "Only records in this lifecycle state")
	repo := fs.String("repo", "", "Only records of this target path")
	since := fs.Duration("since", 0, "Only records started within this duration")
	limit := fs.Int("limit", 50, "Page size, at most 500")
	offset := fs.Int("offset", 0, "Records to skip")
	id := fs.String("id", "", "Show a single record by scan id")
	summary := fs.Bool("summary", false, "Print per-state counts and the average duration")
	prune := fs.Duration("prune", 0, "Delete records started longer ago than this duration")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}

	db, err := postgres.Connect(postgres.LoadConfigFromEnv())
	if err != nil {
		return err
	}
	defer postgres.Close(db)
	repoHistory := history.NewRepository(db)

	switch {
	case *prune > 0:
		n, err := repoHistory.DeleteOlderThan(ctx, *prune)
		if err != nil {
			return err
		}
		return a.emit(g.json, map[string]int64{"deleted": n}, func(w io.Writer) {
			fmt.Fprintf(w, "Deleted %d records older than %s\n", n, *prune)
		})

	case *summary:
		s, err := repoHistory.Summarize(ctx)
		if err != nil {
			return err
		}
		return a.emit(g.json, s, func(w io.Writer) { printSummary(w, s) })

	case *id != "":
		record, err := repoHistory.Get(ctx, *id)
		if errors.Is(err, history.ErrNotFound) {
			return fmt.Errorf("no history for scan %s", *id)
		}
		if err != nil {
			return err
		}
		return a.emit(g.json, record, func(w io.Writer) {
			printRecords(w, []models.ScanRecord{*record})
			if record.Error != "" {
				fmt.Fprintf(w, "\nError: %s\n", record.Error)
			}
		})
	}

	filters := history.Filters{Limit: *limit, Offset: *offset, State: *state, RepoPath: *repo}
	if *since > 0 {
		start := time.Now().Add(-*since)
		filters.StartTime = &start
	}
	records, total, err := repoHistory.List(ctx, filters)
	if err != nil {
		return err
	}
	return a.emit(g.json, historyOutput{Records: records, Total: total}, func(w io.Writer) {
		if len(records) == 0 {
			fmt.Fprintln(w, "No recorded scans")
			return
		}
		printRecords(w, records)
		fmt.Fprintf(w, "\n%d of %d records\n", len(records), total)
	})
}

func printSummary(w io.Writer, s *history.Summary) {
	fmt.Fprintf(w, "Scans recorded:   %d\n", s.TotalScans)
	fmt.Fprintf(w, "Average duration: %s\n", s.AverageDuration.Round(time.Second))
	states := make([]string, 0, len(s.ByState))
	for st := range s.ByState {
		states = append(states, st)
	}
	sort.Strings(states)
	tw := table(w)
	for _, st := range states {
		fmt.Fprintf(tw, "  %s\t%d\n", st, s.ByState[st])
	}
	_ = tw.Flush()
}

func printRecords(w io.Writer, records []models.ScanRecord) {
	tw := table(w)
	fmt.Fprintln(tw, "SCAN ID\tSTATE\tPROGRESS\tPOLLS\tSTARTED\tDURATION\tTARGET")
	for _, r := range records {
		duration := "-"
		if r.Finished() {
			duration = r.Duration().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d%%\t%d\t%s\t%s\t%s\n",
			r.ScanID, r.State, r.Progress, r.Polls, r.StartedAt.Local().Format("2006-01-02 15:04:05"), duration, r.RepoPath)
	}
	_ = tw.Flush()
}

func runLogs(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("logs")
	positional, err := parse(fs, args, 1, 1, "<scan-id>")
	if err != nil {
		return err
	}

	kv, err := store.NewValkeyStore(store.LoadConfigFromEnv())
	if err != nil {
		return fmt.Errorf("scan log store: %w", err)
	}
	defer kv.Close()

	entries, err := scanlog.Tail(ctx, kv, positional[0])
	if err != nil {
		return err
	}
	return a.emit(g.json, entries, func(w io.Writer) {
		if len(entries) == 0 {
			fmt.Fprintf(w, "No log persisted for scan %s\n", positional[0])
			return
		}
		for _, e := range entries {
			fmt.Fprintln(w, scanlog.Format(e))
		}
	})
}

func runEvents(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("events")
	qName := fs.String("queue", events.DefaultQueue, "Queue to consume")
	scanID := fs.String("scan", "", "Only events of this scan")
	count := fs.Int("count", 0, "Stop after this many events, 0 to run until interrupted")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := 0
	queue.ListenWithRetry(ctx, queue.LoadConfigFromEnv(), *qName, func(body string) {
		msg, err := events.Decode(body)
		if err != nil {
			slog.Warn("Skipping malformed scan event", "queue", *qName, "error", err)
			return
		}
		if *scanID != "" && msg.ScanID != *scanID {
			return
		}
		_ = a.emit(g.json, msg, func(w io.Writer) {
			line := fmt.Sprintf("%s %-13s %s %3d%% %s", msg.Timestamp.Local().Format("15:04:05"), msg.EventType, msg.ScanID, msg.Progress, msg.StatusText)
			if msg.Error != "" {
				line += " (" + msg.Error + ")"
			}
			fmt.Fprintln(w, strings.TrimSpace(line))
		})
		seen++
		if *count > 0 && seen >= *count {
			cancel()
		}
	})
	return nil
}

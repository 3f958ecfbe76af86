package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/dashboard"
	"github.com/threatmodelerx/go-api/tmx/findings"
	"github.com/threatmodelerx/go-api/tmx/nvd"
	"github.com/threatmodelerx/go-api/tmx/snapshot"
	"github.com/threatmodelerx/go-api/tmx/store"
	"github.com/threatmodelerx/go-api/tmx/threats"
)

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t tmx.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

type statsOutput struct {
	Stats          tmx.Stats          `json:"stats"`
	CompletionRate float64            `json:"completion_rate"`
	Snapshot       *snapshot.Snapshot `json:"snapshot,omitempty"`
	Trend          *snapshot.Trend    `json:"trend,omitempty"`
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("stats")
	capture := fs.Bool("snapshot", false, "Store the counters as a snapshot in Valkey")
	trend := fs.Bool("trend", false, "Compare the two newest snapshots")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	overview, err := dashboard.Load(ctx, c)
	if err != nil {
		return err
	}
	out := statsOutput{Stats: overview.Stats, CompletionRate: overview.CompletionRate}

	if *capture || *trend {
		kv, err := store.NewValkeyStore(store.LoadConfigFromEnv())
		if err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
		defer kv.Close()
		manager := snapshot.NewManager(kv)

		if *capture {
			snap, err := manager.CreateSnapshot(ctx, overview.Stats, "")
			if err != nil {
				return err
			}
			out.Snapshot = snap
		}
		if *trend {
			t, err := manager.Trend(ctx)
			switch {
			case errors.Is(err, snapshot.ErrNotEnoughSnapshots):
				fmt.Fprintln(a.errOut, "Not enough snapshots for a trend yet")
			case err != nil:
				return err
			default:
				out.Trend = &t
			}
		}
	}

	return a.emit(g.json, out, func(w io.Writer) {
		s := out.Stats
		fmt.Fprintf(w, "Scans:    %d total, %d completed (%.0f%%)\n", s.TotalScans, s.CompletedScans, out.CompletionRate)
		fmt.Fprintf(w, "Findings: %d\n", s.TotalFindings)
		fmt.Fprintf(w, "Threats:  %d\n", s.TotalThreats)
		b := s.SeverityBreakdown
		fmt.Fprintf(w, "Severity: CRITICAL %d  HIGH %d  MEDIUM %d  LOW %d\n", b.Critical, b.High, b.Medium, b.Low)
		if out.Snapshot != nil {
			fmt.Fprintf(w, "Snapshot %s stored\n", out.Snapshot.SnapshotID)
		}
		if t := out.Trend; t != nil {
			verdict := "not improving"
			if t.Improving() {
				verdict = "improving"
			}
			fmt.Fprintf(w, "Trend %s -> %s: scans %+d, findings %+d, critical %+d, high %+d (%s)\n",
				t.From, t.To, t.Scans, t.Findings, t.Critical, t.High, verdict)
		}
	})
}

func runScans(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("scans")
	limit := fs.Int("limit", 0, "Show at most this many scans, 0 for all")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	overview, err := dashboard.Load(ctx, c)
	if err != nil {
		return err
	}
	scans := overview.Scans
	if *limit > 0 && len(scans) > *limit {
		scans = scans[:*limit]
	}

	return a.emit(g.json, scans, func(w io.Writer) {
		if len(scans) == 0 {
			fmt.Fprintln(w, "No scans yet")
			return
		}
		tw := table(w)
		fmt.Fprintln(tw, "SCAN ID\tSTATUS\tSTARTED\tCOMPLETED")
		for _, s := range scans {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ScanID, s.Status, formatTime(s.StartedAt), formatTime(s.CompletedAt))
		}
		_ = tw.Flush()
	})
}

type findingsOutput struct {
	Findings []tmx.Finding        `json:"findings"`
	Counts   map[tmx.Severity]int `json:"counts"`
}

func runFindings(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("findings")
	scanID := fs.String("scan", "", "Only findings of this scan")
	severity := fs.String("severity", "", "Only findings of this severity (critical, high, medium, low, info)")
	tool := fs.String("tool", "", "Only findings reported by this tool")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}

	filter := findings.Filter{ScanID: *scanID, Tool: *tool}
	if *severity != "" {
		s, err := tmx.ParseSeverity(*severity)
		if err != nil {
			return &usageError{msg: err.Error()}
		}
		filter.Severity = s
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	view := findings.NewView(c, findings.WithFilter(filter))
	list, err := view.Load(ctx)
	if err != nil {
		return err
	}
	out := findingsOutput{Findings: list, Counts: view.Counts()}

	return a.emit(g.json, out, func(w io.Writer) {
		if len(list) == 0 {
			fmt.Fprintln(w, "No findings")
			return
		}
		tw := table(w)
		fmt.Fprintln(tw, "ID\tSEVERITY\tTOOL\tCWE\tLOCATION\tSTATUS\tDESCRIPTION")
		for _, f := range list {
			location := f.File
			if f.Line > 0 {
				location = fmt.Sprintf("%s:%d", f.File, f.Line)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", f.ID, f.Severity, f.Tool, f.CWE, location, f.Status, truncate(f.Description, 60))
		}
		_ = tw.Flush()
		parts := make([]string, 0, len(tmx.Severities))
		for _, s := range tmx.Severities {
			parts = append(parts, fmt.Sprintf("%s %d", s, out.Counts[s]))
		}
		fmt.Fprintf(w, "\n%d findings: %s\n", len(list), strings.Join(parts, ", "))
	})
}

type threatsOutput struct {
	Threats    []tmx.Threat               `json:"threats"`
	Categories map[tmx.StrideCategory]int `json:"categories"`
	Risks      map[tmx.Severity]int       `json:"risks"`
}

func runThreats(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("threats")
	scanID := fs.String("scan", "", "Only threats of this scan")
	category := fs.String("category", "", "Only threats of this STRIDE category")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}

	selected := threats.AllCategories
	if *category != "" {
		c, err := tmx.ParseStrideCategory(*category)
		if err != nil {
			return &usageError{msg: err.Error()}
		}
		selected = c
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	view := threats.NewView(c, *scanID)
	if _, err := view.Load(ctx); err != nil {
		return err
	}
	view.SelectCategory(selected)
	out := threatsOutput{Threats: view.Visible(), Categories: view.CategoryCounts(), Risks: view.RiskCounts()}

	return a.emit(g.json, out, func(w io.Writer) {
		tw := table(w)
		fmt.Fprintln(tw, "CATEGORY\tTHREATS")
		for _, c := range tmx.StrideCategories {
			fmt.Fprintf(tw, "%s\t%d\n", c.Label(), out.Categories[c])
		}
		_ = tw.Flush()
		fmt.Fprintln(w)
		if len(out.Threats) == 0 {
			fmt.Fprintln(w, "No threats")
			return
		}
		for _, t := range out.Threats {
			fmt.Fprintf(w, "%s [%s] %s\n", t.ID, t.RiskLevel, t.Category.Label())
			fmt.Fprintf(w, "  Component:     %s\n", t.Component)
			fmt.Fprintf(w, "  Description:   %s\n", t.Description)
			fmt.Fprintf(w, "  Attack vector: %s\n", t.AttackVector)
			if len(t.MitreIDs) > 0 {
				fmt.Fprintf(w, "  MITRE ATT&CK:  %s\n", strings.Join(t.MitreIDs, ", "))
			}
			if len(t.CWEIDs) > 0 {
				fmt.Fprintf(w, "  CWE:           %s\n", strings.Join(t.CWEIDs, ", "))
			}
			fmt.Fprintf(w, "  Mitigation:    %s\n", t.Mitigation)
		}
	})
}

type remediationOutput struct {
	Plan tmx.RemediationPlan `json:"plan"`
	CVEs []nvd.Summary       `json:"related_cves,omitempty"`
}

func runRemediation(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("remediation")
	scanID := fs.String("scan", "", "Scan of the finding, narrows the lookup of its CWE")
	cves := fs.Int("cves", 0, "Also list this many NVD CVEs sharing the finding's CWE")
	positional, err := parse(fs, args, 1, 1, "<finding-id>")
	if err != nil {
		return err
	}
	findingID := positional[0]
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	view := findings.NewView(c, findings.WithFilter(findings.Filter{ScanID: *scanID}))
	plan, err := view.OpenRemediation(ctx, findingID)
	if err != nil {
		return err
	}
	out := remediationOutput{Plan: plan}

	if *cves > 0 {
		if _, err := view.Load(ctx); err != nil {
			return err
		}
		f, ok := view.Find(findingID)
		switch {
		case !ok || f.CWE == "":
			fmt.Fprintf(a.errOut, "Finding %s has no CWE, skipping the NVD lookup\n", findingID)
		default:
			related, err := nvd.New(nvd.LoadConfigFromEnv()).RelatedCVEs(ctx, f.CWE, *cves)
			if err != nil {
				return err
			}
			out.CVEs = related
		}
	}

	return a.emit(g.json, out, func(w io.Writer) {
		fmt.Fprintf(w, "Remediation for %s (priority %d, effort %s)\n\n", plan.FindingID, plan.Priority, plan.EstimatedEffort)
		for i, step := range plan.Steps {
			fmt.Fprintf(w, "%d. %s\n", i+1, step)
		}
		if plan.CodeSnippet != "" {
			fmt.Fprintf(w, "\n%s\n", plan.CodeSnippet)
		}
		if len(plan.Resources) > 0 {
			fmt.Fprintln(w, "\nResources:")
			for _, r := range plan.Resources {
				fmt.Fprintf(w, "  %s\n", r)
			}
		}
		if len(out.CVEs) > 0 {
			fmt.Fprintln(w, "\nRelated CVEs:")
			tw := table(w)
			for _, cve := range out.CVEs {
				fmt.Fprintf(tw, "  %s\t%.1f\t%s\t%s\n", cve.ID, cve.Score, cve.Severity, truncate(cve.Description, 70))
			}
			_ = tw.Flush()
		}
	})
}

func runReview(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("review")
	status := fs.String("status", string(tmx.FindingOpen), "Review status (OPEN, IN_PROGRESS, FIXED, FALSE_POSITIVE)")
	comment := fs.String("comment", "", "Review comment, required")
	reviewer := fs.String("reviewer", "", "Reviewer name, defaults to Anonymous")
	patchAlways := fs.Bool("patch-always", false, "Show the patched finding even when the backend rejects the review")
	positional, err := parse(fs, args, 1, 1, "<finding-id>")
	if err != nil {
		return err
	}
	findingID := positional[0]

	review := tmx.Review{
		Status:   tmx.FindingStatus(strings.ToUpper(*status)),
		Comment:  *comment,
		Reviewer: *reviewer,
	}.Normalize(time.Now())
	if err := review.Validate(); err != nil {
		return &usageError{msg: err.Error()}
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	policy := findings.PatchOnSuccess
	if *patchAlways {
		policy = findings.PatchAlways
	}
	view := findings.NewView(c, findings.WithPatchPolicy(policy))
	if _, err := view.Load(ctx); err != nil {
		return err
	}
	patched, reviewErr := view.SubmitReview(ctx, findingID, review)
	if reviewErr != nil && patched.ID == "" {
		return reviewErr
	}

	if err := a.emit(g.json, patched, func(w io.Writer) {
		fmt.Fprintf(w, "Finding %s is now %s\n", patched.ID, patched.Status)
		for _, rc := range patched.ReviewerComments {
			fmt.Fprintf(w, "  %s %s: %s\n", formatTime(rc.Timestamp), rc.Reviewer, rc.Comment)
		}
	}); err != nil {
		return err
	}
	return reviewErr
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

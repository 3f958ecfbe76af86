package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/threatmodelerx/go-api/tmx"
	"github.com/threatmodelerx/go-api/tmx/report"
)

func runReport(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("report")
	format := fs.String("format", tmx.ReportJSON, "Report format (json, html)")
	dir := fs.String("out", ".", "Directory the report is written to")
	positional, err := parse(fs, args, 1, 1, "<scan-id>")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	path, err := report.Save(ctx, c, positional[0], strings.ToLower(*format), *dir)
	if err != nil {
		return err
	}
	return a.emit(g.json, map[string]string{"scan_id": positional[0], "path": path}, func(w io.Writer) {
		fmt.Fprintf(w, "Report written to %s\n", path)
	})
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("export")
	format := fs.String("format", "pdf", "Export format (pdf, html, json)")
	email := fs.String("email", "", "Mail the exported report to this address")
	positional, err := parse(fs, args, 1, 1, "<scan-id>")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	result, err := c.Export(ctx, positional[0], strings.ToLower(*format), *email)
	if err != nil {
		return err
	}
	return a.emit(g.json, result, func(w io.Writer) {
		if result.Message != "" {
			fmt.Fprintln(w, result.Message)
		}
		fmt.Fprintf(w, "Format: %s\n", result.ReportFormat)
		if result.ReportPath != "" {
			fmt.Fprintf(w, "Path:   %s\n", result.ReportPath)
		}
		if result.EmailSent {
			fmt.Fprintf(w, "Mailed to %s\n", *email)
		}
	})
}

func runUpload(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("upload")
	scanAfter := fs.Bool("scan", false, "Print the scan command for the uploaded target")
	positional, err := parse(fs, args, 1, 1, "<file>")
	if err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	f, err := os.Open(positional[0])
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	path, err := c.Upload(ctx, positional[0], f)
	if err != nil {
		return err
	}
	return a.emit(g.json, map[string]string{"path": path}, func(w io.Writer) {
		fmt.Fprintf(w, "Uploaded to %s\n", path)
		if *scanAfter {
			fmt.Fprintf(w, "Scan it with: tmx scan %s\n", path)
		}
	})
}

func runDemoApps(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("demo-apps")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	apps, err := c.DemoApps(ctx)
	if err != nil {
		return err
	}
	return a.emit(g.json, apps, func(w io.Writer) {
		tw := table(w)
		fmt.Fprintln(tw, "ID\tNAME\tLANGUAGE\tPATH\tVULNERABILITIES")
		for _, d := range apps {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, d.Language, d.Path, strings.Join(d.Vulnerabilities, ", "))
		}
		_ = tw.Flush()
	})
}

func runHealth(ctx context.Context, a *app, args []string) error {
	fs, g := a.flagSet("health")
	if _, err := parse(fs, args, 0, 0, ""); err != nil {
		return err
	}
	c, err := g.client()
	if err != nil {
		return &usageError{msg: err.Error()}
	}

	h, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("backend %s is unreachable: %w", c.BaseURL(), err)
	}
	if err := a.emit(g.json, h, func(w io.Writer) {
		fmt.Fprintf(w, "%s is %s", c.BaseURL(), h.Status)
		if h.Version != "" {
			fmt.Fprintf(w, " (version %s)", h.Version)
		}
		fmt.Fprintln(w)
	}); err != nil {
		return err
	}
	if h.Status != "healthy" {
		return fmt.Errorf("backend reports status %q", h.Status)
	}
	return nil
}

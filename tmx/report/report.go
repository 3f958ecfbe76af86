// Package report fetches generated scan reports and writes them to disk.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/threatmodelerx/go-api/tmx"
)

// API is the part of the backend the report saver needs. *client.Client satisfies it.
type API interface {
	Report(ctx context.Context, scanID, format string) (tmx.Report, error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the file a report of scanID in format is saved as.
func FileName(scanID, format string) string {
	if format == "" {
		format = tmx.ReportJSON
	}
	return fmt.Sprintf("report-%s.%s", unsafeName.ReplaceAllString(scanID, "_"), format)
}

// Render returns the bytes written for r. JSON reports are indented.
func Render(r tmx.Report) ([]byte, error) {
	switch r.Format {
	case tmx.ReportHTML:
		return []byte(r.HTML), nil
	case tmx.ReportJSON, "":
		var buf bytes.Buffer
		if err := json.Indent(&buf, r.Raw, "", "  "); err != nil {
			return nil, fmt.Errorf("failed to format json report: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported report format %q", r.Format)
}

// Save downloads the report of scanID and writes it into dir, returning the file path.
func Save(ctx context.Context, api API, scanID, format, dir string) (string, error) {
	r, err := api.Report(ctx, scanID, format)
	if err != nil {
		return "", fmt.Errorf("failed to fetch report: %w", err)
	}
	data, err := Render(r)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, FileName(scanID, r.Format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	slog.Info("Report saved", "scan_id", scanID, "format", r.Format, "path", path, "bytes", len(data))
	return path, nil
}

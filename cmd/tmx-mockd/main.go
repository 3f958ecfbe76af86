// Command tmx-mockd serves a scripted ThreatModelerX backend for local development.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/threatmodelerx/go-api/tmx/mockapi"
	"github.com/threatmodelerx/go-api/tmx/slogger"
)

func main() {
	slogger.Init()

	addr := flag.String("addr", mockapi.AddrFromEnv(), "Listen address (env TMX_MOCK_ADDR)")
	failScript := flag.String("fail", "", "Fail every scan with this error message")
	completed := flag.Int("seed", 1, "Completed scans created at startup")
	flag.Parse()

	backend := mockapi.New()
	for i := 0; i < *completed; i++ {
		scanID := backend.Complete("./demo-apps/python-flask")
		slog.Info("Seeded completed scan", "scan_id", scanID)
	}
	if *failScript != "" {
		backend.ScriptScan(mockapi.FailedScript(*failScript)...)
	}

	server := mockapi.NewServer(*addr, backend)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Mock backend failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Mock backend shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}

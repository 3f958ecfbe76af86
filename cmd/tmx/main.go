// Command tmx drives ThreatModelerX scans and reads their results from a terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/threatmodelerx/go-api/tmx/client"
	"github.com/threatmodelerx/go-api/tmx/slogger"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

func commands() map[string]command {
	return map[string]command{
		"scan":        {"Submit a scan and watch it to the end", runScan},
		"watch":       {"Watch an already submitted scan", runWatch},
		"status":      {"Fetch one status snapshot of a scan", runStatus},
		"stats":       {"Show dashboard counters, optionally snapshot and trend them", runStats},
		"scans":       {"List scans, newest first", runScans},
		"findings":    {"List findings with optional filters", runFindings},
		"threats":     {"List STRIDE threats of a scan", runThreats},
		"remediation": {"Show the remediation plan of a finding", runRemediation},
		"review":      {"Submit a manual review for a finding", runReview},
		"report":      {"Download a scan report to a file", runReport},
		"export":      {"Ask the backend to export and optionally mail a report", runExport},
		"upload":      {"Upload an archive or source file as a scan target", runUpload},
		"demo-apps":   {"List the demo applications", runDemoApps},
		"health":      {"Check that the backend is reachable", runHealth},
		"history":     {"Query the scan history database", runHistory},
		"logs":        {"Print a scan log persisted in Valkey", runLogs},
		"events":      {"Print scan lifecycle events from RabbitMQ", runEvents},
	}
}

// usageError marks bad invocations, reported with exit code 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type app struct {
	out    io.Writer
	errOut io.Writer
}

func main() {
	slogger.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, &app{out: os.Stdout, errOut: os.Stderr}, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, a *app, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage()
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	cmd, ok := commands()[args[0]]
	if !ok {
		fmt.Fprintf(a.errOut, "unknown command %q\n\n", args[0])
		a.usage()
		return exitUsage
	}

	err := cmd.run(ctx, a, args[1:])
	var uerr *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &uerr):
		fmt.Fprintf(a.errOut, "tmx %s: %v\n", args[0], err)
		return exitUsage
	default:
		fmt.Fprintf(a.errOut, "tmx %s: %v\n", args[0], err)
		return exitFailure
	}
}

func (a *app) usage() {
	fmt.Fprintln(a.errOut, "Usage: tmx <command> [flags] [args]")
	fmt.Fprintln(a.errOut, "\nCommands:")
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.errOut, "  %-12s %s\n", name, cmds[name].summary)
	}
	fmt.Fprintln(a.errOut, "\nRun 'tmx <command> -h' for the flags of a command.")
}

// globalFlags are accepted by every command.
type globalFlags struct {
	api     string
	json    bool
	timeout time.Duration
}

func (a *app) flagSet(name string) (*flag.FlagSet, *globalFlags) {
	defaults := client.LoadConfigFromEnv()
	g := &globalFlags{}
	fs := flag.NewFlagSet("tmx "+name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	fs.StringVar(&g.api, "api", defaults.BaseURL, "Backend base URL (env TMX_API_URL)")
	fs.BoolVar(&g.json, "json", false, "Print machine-readable JSON")
	fs.DurationVar(&g.timeout, "request-timeout", defaults.Timeout, "Timeout of one HTTP request")
	return fs, g
}

func (g *globalFlags) client() (*client.Client, error) {
	config := client.LoadConfigFromEnv()
	config.BaseURL = g.api
	config.Timeout = g.timeout
	return client.New(config)
}

// parse accepts flags before, between and after positional arguments and
// checks the positional count.
func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int, argsUsage string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, err
			}
			return nil, &usageError{msg: err.Error()}
		}
		args = fs.Args()
		if len(args) == 0 {
			break
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
	if len(positional) < minArgs || (maxArgs >= 0 && len(positional) > maxArgs) {
		if argsUsage == "" {
			return nil, usagef("unexpected arguments %v", positional)
		}
		return nil, usagef("usage: %s %s", fs.Name(), argsUsage)
	}
	return positional, nil
}

// emit prints v as indented JSON when asJSON is set, otherwise calls human.
func (a *app) emit(asJSON bool, v any, human func(w io.Writer)) error {
	if asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(a.out)
	return nil
}

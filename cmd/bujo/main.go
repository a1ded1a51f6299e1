package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/shared"
	"github.com/mattn/go-isatty"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func printUsage() {
	fmt.Fprintf(stderr, `Usage of %s:

SUBCOMMANDS:
  %s export [-user id] [-out file]     Write a backup document (all users by default)
  %s import -in file [-user id]        Restore a backup; -user scopes and remaps it
  %s import -in file -full             Restore every record as-is
  %s migrate -to id                    Move default-user records to an account
  %s sync [-user id] [-set-token tok]  Upload local changes and merge remote ones
  %s chat [-session id] <prompt>       Ask the coach; the turn is stored locally
  %s keys                              Show AI key rotation state
  %s snapshot [-list | -verify file]   Snapshot the database or inspect snapshots
  %s doctor [-json] [-init]            Run diagnostic checks
  %s status [-json]                    Show local store and sync status
  %s analytics weekly|monthly <y> <n>  Summarize tasks for an ISO week or a month
  %s serve                             Run scheduled jobs until interrupted

ENVIRONMENT VARIABLES:
  BUJO_HOME               Data directory (default: ~/.bujo)
  BUJO_USER_ID            Active account (default: %q)
  BUJO_SYNC_URL           Sync server base URL
  BUJO_SYNC_TOKEN         Sync bearer token
  OPENROUTER_API_KEYS     Comma separated chat provider keys

Unset variables are also read from $BUJO_HOME/.env.
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], "default")
}

func main() {
	loadHomeEnv()

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	code := dispatch(shared.WithTraceID(ctx, shared.NewTraceID()), args)
	stop()
	os.Exit(code)
}

// loadHomeEnv fills in variables the environment leaves unset from
// $BUJO_HOME/.env. A broken file is reported and skipped.
func loadHomeEnv() {
	home := config.HomeDir()
	if err := config.LoadEnv(home); err != nil {
		fmt.Fprintf(stderr, "warning: %s ignored: %v\n", config.EnvPath(home), err)
	}
}

func dispatch(ctx context.Context, args []string) int {
	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "export":
		return runExportCommand(ctx, args[1:])
	case "import":
		return runImportCommand(ctx, args[1:])
	case "migrate":
		return runMigrateCommand(ctx, args[1:])
	case "sync":
		return runSyncCommand(ctx, args[1:])
	case "chat":
		return runChatCommand(ctx, args[1:])
	case "keys":
		return runKeysCommand(ctx, args[1:])
	case "snapshot":
		return runSnapshotCommand(ctx, args[1:])
	case "doctor":
		return runDoctorCommand(ctx, args[1:])
	case "status":
		return runStatusCommand(ctx, args[1:])
	case "analytics":
		return runAnalyticsCommand(ctx, args[1:])
	case "serve":
		return runServeCommand(ctx, args[1:])
	case "version":
		fmt.Fprintln(stdout, Version)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", args[0])
		printUsage()
		return 2
	}
}

// isTerminal reports whether styled output should be used.
func isTerminal() bool {
	f, ok := stdout.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newFlagSet returns a subcommand flag set that reports parse errors instead
// of exiting, so commands can map them to exit code 2.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("bujo "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// fail prints err, records a startup failure when reasonCode is set, and
// returns exit code 1.
func fail(logger *slog.Logger, reasonCode string, err error) int {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if reasonCode != "" {
		audit.Record("runtime.startup", audit.OutcomeFailed, reasonCode, message)
		if logger != nil {
			logger.Error("startup failure", "reason_code", reasonCode, "error", message)
		} else {
			fmt.Fprintf(
				stderr,
				`{"timestamp":"%s","level":"ERROR","component":"bujo","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
				time.Now().UTC().Format(time.RFC3339Nano),
				reasonCode,
				message,
			)
			return 1
		}
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}

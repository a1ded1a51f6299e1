package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/bujo/internal/backup"
	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/migration"
)

func runExportCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("export")
	userID := fs.String("user", "", "export only this user's records (default: every user)")
	out := fs.String("out", "", "output file (default: bujo-backup-<date>.json in the current directory)")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo export [-user id] [-out file]")
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	codec, err := a.backupCodec()
	if err != nil {
		return fail(a.logger, "", err)
	}
	var doc *backup.Document
	if strings.TrimSpace(*userID) != "" {
		doc, err = codec.ExportUser(ctx, *userID)
	} else {
		doc, err = codec.ExportAll(ctx)
	}
	if err != nil {
		return fail(a.logger, "", err)
	}

	path := *out
	if path == "" {
		path = fmt.Sprintf("bujo-backup-%s.json", time.Now().Format("2006-01-02"))
	}
	if err := backup.WriteFile(path, doc); err != nil {
		return fail(a.logger, "", err)
	}
	abs, _ := filepath.Abs(path)
	fmt.Fprintf(stdout, "exported %d records to %s\n", doc.Count(), abs)
	return 0
}

func runImportCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("import")
	in := fs.String("in", "", "backup file to restore (required)")
	userID := fs.String("user", "", "restore into this user, remapping foreign owners (default: the document's user)")
	full := fs.Bool("full", false, "restore every record with its original owner")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if *in == "" || fs.NArg() != 0 || (*full && *userID != "") {
		fmt.Fprintln(stderr, "usage: bujo import -in file [-user id | -full]")
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	codec, err := a.backupCodec()
	if err != nil {
		return fail(a.logger, "", err)
	}
	doc, err := codec.ReadFile(*in)
	if err != nil {
		if errors.Is(err, backup.ErrInvalidBackupFormat) {
			fmt.Fprintf(stderr, "%s is not a bujo backup: %v\n", *in, err)
			return 1
		}
		return fail(a.logger, "", err)
	}

	if *full {
		n, err := codec.Import(ctx, doc)
		if err != nil {
			return fail(a.logger, "", err)
		}
		fmt.Fprintf(stdout, "restored %d records\n", n)
		return 0
	}
	effective, err := codec.ImportUser(ctx, doc, *userID)
	if err != nil {
		return fail(a.logger, "", err)
	}
	fmt.Fprintf(stdout, "restored %d records for %s\n", doc.Count(), effective)
	return 0
}

func runMigrateCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("migrate")
	target := fs.String("to", "", "account id that takes over the default user's records (required)")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if strings.TrimSpace(*target) == "" || fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo migrate -to id")
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	res, err := migration.New(a.store, a.bus, a.tel).Migrate(ctx, strings.TrimSpace(*target))
	if err != nil {
		if errors.Is(err, migration.ErrInvalidTarget) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		return fail(a.logger, "", err)
	}
	// The signed-in account becomes the active user for later commands.
	if err := config.SetUserID(a.cfg.HomeDir, res.TargetUserID); err != nil {
		return fail(a.logger, "", err)
	}
	fmt.Fprintf(stdout, "moved %d records to %s\n", res.Total(), res.TargetUserID)
	return 0
}

// usageCode maps a flag parse error to an exit code; -h is not a failure.
func usageCode(err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	return 2
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/persistence"
)

func runSnapshotCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("snapshot")
	list := fs.Bool("list", false, "list existing snapshots, newest first")
	verify := fs.String("verify", "", "run an integrity check on a snapshot file")
	keep := fs.Int("keep", 0, "snapshots to retain (default: jobs.snapshot_keep)")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 || (*list && *verify != "") {
		fmt.Fprintln(stderr, "usage: bujo snapshot [-keep n] | -list | -verify file")
		return 2
	}

	if *verify != "" {
		if err := persistence.VerifySnapshot(ctx, *verify); err != nil {
			audit.Record("store.snapshot.verify", audit.OutcomeFailed, *verify, err.Error())
			fmt.Fprintf(stderr, "snapshot %s: %v\n", *verify, err)
			return 1
		}
		fmt.Fprintf(stdout, "snapshot %s: ok\n", *verify)
		return 0
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	if *list {
		snaps, err := persistence.ListSnapshots(a.snapshotDir())
		if err != nil {
			return fail(a.logger, "", err)
		}
		if len(snaps) == 0 {
			fmt.Fprintln(stdout, "no snapshots")
			return 0
		}
		for _, s := range snaps {
			fmt.Fprintf(stdout, "%s  %8d  %s\n", s.CreatedAt.Local().Format(time.DateTime), s.Size, s.Path)
		}
		return 0
	}

	n := *keep
	if n <= 0 {
		n = a.cfg.Jobs.SnapshotKeep
	}
	path, err := a.store.Snapshot(ctx, a.snapshotDir(), n)
	if err != nil {
		audit.Record("store.snapshot", audit.OutcomeFailed, "", err.Error())
		return fail(a.logger, "", err)
	}
	audit.Record("store.snapshot", audit.OutcomeOK, "", path)
	fmt.Fprintln(stdout, path)
	return 0
}

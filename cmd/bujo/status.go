package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/basket/bujo/internal/migration"
	"github.com/basket/bujo/internal/persistence"
	bsync "github.com/basket/bujo/internal/sync"
)

type statusReport struct {
	Version       string                    `json:"version"`
	HomeDir       string                    `json:"home_dir"`
	DBPath        string                    `json:"db_path"`
	SchemaVersion int                       `json:"schema_version"`
	UserID        string                    `json:"user_id"`
	Records       map[string]int            `json:"records"`
	SyncEndpoint  string                    `json:"sync_endpoint,omitempty"`
	LastSync      *bsync.Status             `json:"last_sync,omitempty"`
	LastMigration *migration.Result         `json:"last_migration,omitempty"`
	Snapshots     int                       `json:"snapshots"`
	LatestSnap    *persistence.SnapshotInfo `json:"latest_snapshot,omitempty"`
	ChatKeys      int                       `json:"chat_keys"`
}

func runStatusCommand(ctx context.Context, args []string) int {
	fs := newFlagSet("status")
	jsonOutput := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return usageCode(err)
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: bujo status [-json]")
		return 2
	}

	a, code := startApp(ctx, true)
	if a == nil {
		return code
	}
	defer a.Close()

	rep, err := buildStatus(ctx, a)
	if err != nil {
		return fail(a.logger, "", err)
	}
	if *jsonOutput {
		if err := writeJSON(stdout, rep); err != nil {
			return fail(a.logger, "", err)
		}
		return 0
	}
	printStatus(rep, newStyles(isTerminal()))
	return 0
}

func buildStatus(ctx context.Context, a *app) (statusReport, error) {
	rep := statusReport{
		Version:      Version,
		HomeDir:      a.cfg.HomeDir,
		DBPath:       a.cfg.DBPath,
		UserID:       a.cfg.UserID,
		SyncEndpoint: a.cfg.Sync.BaseURL,
		ChatKeys:     len(a.cfg.ProviderKeys(a.cfg.AI.Provider)),
	}
	version, _, err := a.store.SchemaVersion(ctx)
	if err != nil {
		return rep, err
	}
	rep.SchemaVersion = version

	if rep.Records, err = a.store.PartitionCounts(ctx, a.cfg.UserID); err != nil {
		return rep, err
	}
	if st, ok, err := a.syncClient().Status(ctx, a.cfg.UserID); err != nil {
		return rep, err
	} else if ok {
		rep.LastSync = &st
	}
	if res, ok, err := migration.New(a.store, a.bus, a.tel).Last(ctx, a.cfg.UserID); err != nil {
		return rep, err
	} else if ok {
		rep.LastMigration = &res
	}
	snaps, err := persistence.ListSnapshots(a.snapshotDir())
	if err != nil {
		return rep, err
	}
	rep.Snapshots = len(snaps)
	if len(snaps) > 0 {
		rep.LatestSnap = &snaps[0]
	}
	return rep, nil
}

func printStatus(rep statusReport, st styles) {
	line := func(label, value string) {
		fmt.Fprintf(stdout, "%s %s\n", st.label.Render(fmt.Sprintf("%-15s", label+":")), value)
	}
	fmt.Fprintln(stdout, st.title.Render("bujo "+rep.Version))
	line("home", rep.HomeDir)
	line("database", fmt.Sprintf("%s (schema v%d)", rep.DBPath, rep.SchemaVersion))
	line("user", rep.UserID)

	partitions := make([]string, 0, len(rep.Records))
	for p := range rep.Records {
		partitions = append(partitions, p)
	}
	slices.Sort(partitions)
	counts := make([]string, 0, len(partitions))
	for _, p := range partitions {
		counts = append(counts, fmt.Sprintf("%s=%d", p, rep.Records[p]))
	}
	line("records", strings.Join(counts, " "))

	switch {
	case rep.SyncEndpoint == "":
		line("sync", st.skip.Render("not configured"))
	case rep.LastSync == nil:
		line("sync", st.warn.Render("never synced")+" "+st.faint.Render(rep.SyncEndpoint))
	default:
		line("sync", st.pass.Render(rep.LastSync.At.Local().Format(time.DateTime))+" "+st.faint.Render(rep.LastSync.Result.Message))
	}
	if rep.LastMigration != nil {
		line("migration", fmt.Sprintf("%d records at %s", rep.LastMigration.Total(), rep.LastMigration.At.Local().Format(time.DateTime)))
	}
	if rep.LatestSnap != nil {
		line("snapshots", fmt.Sprintf("%d, latest %s", rep.Snapshots, rep.LatestSnap.CreatedAt.Local().Format(time.DateTime)))
	} else {
		line("snapshots", st.skip.Render("none"))
	}
	if rep.ChatKeys == 0 {
		line("chat keys", st.warn.Render("none"))
	} else {
		line("chat keys", fmt.Sprintf("%d", rep.ChatKeys))
	}
}

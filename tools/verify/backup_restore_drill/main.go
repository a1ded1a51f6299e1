package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basket/bujo/internal/backup"
	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/repository"
)

const seedTasks = 40

func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "bujo-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	store, err := persistence.Open(filepath.Join(baseDir, "bujo.db"), nil)
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	repos := repository.New(store)
	day := model.Day(time.Now())
	for i := 0; i < seedTasks; i++ {
		user := "drill-a"
		if i%4 == 0 {
			user = "drill-b"
		}
		if err := repos.Tasks.Save(ctx, &model.Task{UserID: user, Date: day, Title: fmt.Sprintf("backup-%d", i)}); err != nil {
			fmt.Printf("save_task_error=%v\n", err)
			os.Exit(1)
		}
	}
	if _, err := repos.Journals.Ensure(ctx, day, "drill-a"); err != nil {
		fmt.Printf("ensure_journal_error=%v\n", err)
		os.Exit(1)
	}

	// Snapshot drill: VACUUM INTO, integrity check, reopen.
	snapStart := time.Now().UTC()
	snapPath, err := store.Snapshot(ctx, filepath.Join(baseDir, "snapshots"), 3)
	if err != nil {
		fmt.Printf("snapshot_error=%v\n", err)
		os.Exit(1)
	}
	snapEnd := time.Now().UTC()
	if err := persistence.VerifySnapshot(ctx, snapPath); err != nil {
		fmt.Printf("verify_snapshot_error=%v\n", err)
		os.Exit(1)
	}
	restoreStart := time.Now().UTC()
	restored, err := persistence.Open(snapPath, nil)
	if err != nil {
		fmt.Printf("open_restore_error=%v\n", err)
		os.Exit(1)
	}
	defer restored.Close()
	restoreEnd := time.Now().UTC()
	snapCounts, err := restored.PartitionCounts(ctx, "")
	if err != nil {
		fmt.Printf("count_snapshot_error=%v\n", err)
		os.Exit(1)
	}

	// Document drill: export everything, import into an empty store.
	codec, err := backup.New(store, nil, nil, otel.NoopTelemetry())
	if err != nil {
		fmt.Printf("codec_error=%v\n", err)
		os.Exit(1)
	}
	doc, err := codec.ExportAll(ctx)
	if err != nil {
		fmt.Printf("export_error=%v\n", err)
		os.Exit(1)
	}
	docPath := filepath.Join(baseDir, "backup.json")
	if err := backup.WriteFile(docPath, doc); err != nil {
		fmt.Printf("write_backup_error=%v\n", err)
		os.Exit(1)
	}
	fresh, err := persistence.Open(filepath.Join(baseDir, "fresh.db"), nil)
	if err != nil {
		fmt.Printf("open_fresh_error=%v\n", err)
		os.Exit(1)
	}
	defer fresh.Close()
	freshCodec, err := backup.New(fresh, nil, nil, otel.NoopTelemetry())
	if err != nil {
		fmt.Printf("codec_error=%v\n", err)
		os.Exit(1)
	}
	importStart := time.Now().UTC()
	readBack, err := freshCodec.ReadFile(docPath)
	if err != nil {
		fmt.Printf("read_backup_error=%v\n", err)
		os.Exit(1)
	}
	imported, err := freshCodec.Import(ctx, readBack)
	if err != nil {
		fmt.Printf("import_error=%v\n", err)
		os.Exit(1)
	}
	importEnd := time.Now().UTC()
	importCounts, err := fresh.PartitionCounts(ctx, "")
	if err != nil {
		fmt.Printf("count_import_error=%v\n", err)
		os.Exit(1)
	}
	sourceCounts, err := store.PartitionCounts(ctx, "")
	if err != nil {
		fmt.Printf("count_source_error=%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot_path=%s\n", snapPath)
	fmt.Printf("snapshot_duration=%s\n", snapEnd.Sub(snapStart))
	fmt.Printf("restore_duration=%s\n", restoreEnd.Sub(restoreStart))
	fmt.Printf("import_duration=%s\n", importEnd.Sub(importStart))
	fmt.Printf("exported_records=%d\n", doc.Count())
	fmt.Printf("imported_records=%d\n", imported)

	ok := sourceCounts[persistence.Tasks] == seedTasks
	for _, p := range persistence.Partitions {
		fmt.Printf("partition=%s source=%d snapshot=%d import=%d\n", p, sourceCounts[p], snapCounts[p], importCounts[p])
		if snapCounts[p] != sourceCounts[p] || importCounts[p] != sourceCounts[p] {
			ok = false
		}
	}
	if !ok || imported != doc.Count() {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}

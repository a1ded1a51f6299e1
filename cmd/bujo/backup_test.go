package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/model"
)

func TestExportImport_ScopedRoundTrip(t *testing.T) {
	home, out, _ := setupHome(t, "log_level: error\n")
	seed(t, home,
		&model.Task{UserID: "u1", Date: "2025-01-15", Title: "a"},
		&model.Task{UserID: "u1", Date: "2025-01-16", Title: "b"},
		&model.Task{UserID: "u2", Date: "2025-01-15", Title: "c"},
	)
	path := filepath.Join(t.TempDir(), "u1.json")

	if code := dispatch(context.Background(), []string{"export", "-user", "u1", "-out", path}); code != 0 {
		t.Fatalf("export exit code = %d", code)
	}
	if !strings.Contains(out.String(), "exported 2 records") {
		t.Fatalf("export output = %q", out.String())
	}

	if code := dispatch(context.Background(), []string{"import", "-in", path, "-user", "u9"}); code != 0 {
		t.Fatalf("import exit code = %d", code)
	}
	if !strings.Contains(out.String(), "for u9") {
		t.Fatalf("import output = %q", out.String())
	}
	if got := tasksOf(t, home, "u9"); len(got) != 2 {
		t.Fatalf("u9 tasks = %d, want 2", len(got))
	}
	// Ids are kept, so the remapped copies replace u1's records.
	if got := tasksOf(t, home, "u1"); len(got) != 0 {
		t.Fatalf("u1 tasks = %d, want 0", len(got))
	}
	if got := tasksOf(t, home, "u2"); len(got) != 1 {
		t.Fatalf("u2 tasks = %d, want 1", len(got))
	}
}

func TestImport_RejectsInvalidDocument(t *testing.T) {
	_, _, errOut := setupHome(t, "")
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"data":{}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if code := dispatch(context.Background(), []string{"import", "-in", path}); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "not a bujo backup") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}

func TestImport_FullRestoreKeepsOwners(t *testing.T) {
	home, _, _ := setupHome(t, "")
	seed(t, home,
		&model.Task{UserID: "u1", Date: "2025-01-15", Title: "a"},
		&model.Task{UserID: "u2", Date: "2025-01-15", Title: "c"},
	)
	path := filepath.Join(t.TempDir(), "all.json")
	if code := dispatch(context.Background(), []string{"export", "-out", path}); code != 0 {
		t.Fatalf("export exit code = %d", code)
	}

	other, out, _ := setupHome(t, "")
	if code := dispatch(context.Background(), []string{"import", "-in", path, "-full"}); code != 0 {
		t.Fatalf("import exit code = %d", code)
	}
	if !strings.Contains(out.String(), "restored 2 records") {
		t.Fatalf("import output = %q", out.String())
	}
	if len(tasksOf(t, other, "u1")) != 1 || len(tasksOf(t, other, "u2")) != 1 {
		t.Fatal("full restore did not keep record owners")
	}
}

func TestMigrate_MovesDefaultRecordsAndSetsUser(t *testing.T) {
	home, out, _ := setupHome(t, "log_level: error\n")
	seed(t, home,
		&model.Task{UserID: "default", Date: "2025-01-15", Title: "offline"},
		&model.Task{UserID: "default", Date: "2025-01-16", Title: "offline 2"},
	)

	if code := dispatch(context.Background(), []string{"migrate", "-to", "acct-1"}); code != 0 {
		t.Fatalf("migrate exit code = %d", code)
	}
	if !strings.Contains(out.String(), "moved 2 records to acct-1") {
		t.Fatalf("migrate output = %q", out.String())
	}
	if got := tasksOf(t, home, "default"); len(got) != 0 {
		t.Fatalf("default tasks = %d, want 0", len(got))
	}
	if got := tasksOf(t, home, "acct-1"); len(got) != 2 {
		t.Fatalf("acct-1 tasks = %d, want 2", len(got))
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.UserID != "acct-1" || cfg.LogLevel != "error" {
		t.Fatalf("config after migrate = user %q log %q", cfg.UserID, cfg.LogLevel)
	}
}

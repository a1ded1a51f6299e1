package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/shared"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	home := t.TempDir()
	return &config.Config{
		HomeDir: home,
		DBPath:  filepath.Join(home, "bujo.db"),
		UserID:  shared.DefaultUserID,
		AI:      config.AIConfig{Provider: config.DefaultProvider},
	}
}

func find(t *testing.T, d Diagnosis, name string) CheckResult {
	t.Helper()
	for _, r := range d.Results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("check %q missing from %+v", name, d.Results)
	return CheckResult{}
}

func TestRun_FreshHome(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEYS", "")
	cfg := testConfig(t)
	d := Run(context.Background(), cfg, "test")

	if got := find(t, d, "Database").Status; got != "PASS" {
		t.Fatalf("Database = %s", got)
	}
	if got := find(t, d, "Partitions").Status; got != "PASS" {
		t.Fatalf("Partitions = %s", got)
	}
	if got := find(t, d, "Sync").Status; got != "SKIP" {
		t.Fatalf("Sync = %s", got)
	}
	if got := find(t, d, "AI Keys").Status; got != "WARN" {
		t.Fatalf("AI Keys = %s", got)
	}
	if d.Failed() {
		t.Fatalf("unexpected failure: %+v", d.Results)
	}
}

func TestRun_NilConfig(t *testing.T) {
	d := Run(context.Background(), nil, "test")
	if got := find(t, d, "Config").Status; got != "FAIL" {
		t.Fatalf("Config = %s", got)
	}
	if got := find(t, d, "Database").Status; got != "SKIP" {
		t.Fatalf("Database = %s", got)
	}
	if !d.Failed() {
		t.Fatal("expected Failed()")
	}
}

func TestCheckAIKeys_FromEnv(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEYS", "k1,k2")
	r := checkAIKeys(context.Background(), testConfig(t), nil)
	if r.Status != "PASS" || r.Message != "2 keys for openrouter" {
		t.Fatalf("unexpected %+v", r)
	}
}

func TestCheckTimeDrift(t *testing.T) {
	cfg := testConfig(t)
	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	for _, doc := range []string{
		`{"id":"ok","userId":"default","date":"2025-01-15","title":"a","status":"done","spentTime":30,"timeLogs":[{"id":"l1","type":"manual","minutes":30}]}`,
		`{"id":"drift","userId":"default","date":"2025-01-15","title":"b","status":"done","spentTime":45,"timeLogs":[{"id":"l2","type":"timer","minutes":20}]}`,
		`{"id":"nolog","userId":"default","date":"2025-01-15","title":"c","status":"todo","spentTime":15}`,
	} {
		rec, err := persistence.NewRecord(persistence.Tasks, []byte(doc))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if err := store.Put(context.Background(), persistence.Tasks, rec); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	r := checkTimeDrift(context.Background(), cfg, store)
	if r.Status != "WARN" {
		t.Fatalf("expected WARN, got %+v", r)
	}
	if r.Detail != "drift (spent 45, logged 20)" {
		t.Fatalf("detail = %q", r.Detail)
	}
}

func TestCheckSyncEndpoint(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.BaseURL = "https://sync.example.test"
	if r := checkSyncEndpoint(context.Background(), cfg, nil); r.Status != "WARN" {
		t.Fatalf("expected WARN without token, got %+v", r)
	}

	cfg.Sync.BaseURL = "::not a url"
	cfg.Sync.Token = "tok"
	if r := checkSyncEndpoint(context.Background(), cfg, nil); r.Status != "FAIL" {
		t.Fatalf("expected FAIL for bad url, got %+v", r)
	}
}

func TestLookup_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r := lookup(ctx, "Sync", "openrouter.ai"); r.Status != "FAIL" {
		t.Fatalf("expected FAIL for canceled context, got %s", r.Status)
	}
}

func TestLookup_Resolves(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r := lookup(ctx, "Sync", "localhost")
	// Allow FAIL in sandboxed environments without a resolver.
	if r.Status != "PASS" && r.Status != "FAIL" {
		t.Fatalf("expected PASS or FAIL, got %s", r.Status)
	}
}

func TestCheckPermissions_WarnsOnOpenConfigWithToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.Token = "tok"
	if err := os.WriteFile(config.ConfigPath(cfg.HomeDir), []byte("user_id: u1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if r := checkPermissions(context.Background(), cfg, nil); r.Status != "WARN" {
		t.Fatalf("expected WARN, got %+v", r)
	}
}

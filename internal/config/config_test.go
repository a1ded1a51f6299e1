package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/shared"
)

func writeHomeConfig(t *testing.T, body string) string {
	t.Helper()
	home := filepath.Join(t.TempDir(), "bujo")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if body != "" {
		if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	t.Setenv("BUJO_HOME", home)
	return home
}

func TestLoad_FromBujoHome(t *testing.T) {
	home := writeHomeConfig(t, "log_level: debug\nuser_id: u1\nsync:\n  base_url: https://sync.example.com/api/\n")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != home {
		t.Fatalf("expected home %q, got %q", home, cfg.HomeDir)
	}
	if cfg.LogLevel != "debug" || cfg.UserID != "u1" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Sync.BaseURL != "https://sync.example.com/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Sync.BaseURL)
	}
	if cfg.DBPath != filepath.Join(home, "bujo.db") {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
}

func TestLoad_HomeDefaultsUnderUserHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("BUJO_HOME", "")
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HomeDir != filepath.Join(home, ".bujo") {
		t.Fatalf("unexpected home dir %q", cfg.HomeDir)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	writeHomeConfig(t, "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis when config.yaml is missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	writeHomeConfig(t, "log_level: \"\"\n")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level, got %q", cfg.LogLevel)
	}
	if cfg.UserID != shared.DefaultUserID {
		t.Fatalf("expected default user, got %q", cfg.UserID)
	}
	if cfg.AI.Provider != config.DefaultProvider || cfg.AI.MaxAttempts != 3 {
		t.Fatalf("unexpected ai defaults: %+v", cfg.AI)
	}
	if cfg.AI.FailureThreshold != 3 || cfg.AI.FailureCooldownSeconds != 300 {
		t.Fatalf("unexpected failure defaults: %+v", cfg.AI)
	}
	if cfg.Sync.BatchSize != 1000 || cfg.Sync.TimeoutSeconds != 30 {
		t.Fatalf("unexpected sync defaults: %+v", cfg.Sync)
	}
	if cfg.Jobs.SnapshotKeep != 7 || cfg.Jobs.RolloverSchedule == "" {
		t.Fatalf("unexpected job defaults: %+v", cfg.Jobs)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	writeHomeConfig(t, "log_level: info\nsync:\n  token: from-yaml\n")
	t.Setenv("BUJO_LOG_LEVEL", "warn")
	t.Setenv("BUJO_USER_ID", "u9")
	t.Setenv("BUJO_SYNC_URL", "http://127.0.0.1:9000")
	t.Setenv("BUJO_SYNC_TOKEN", "from-env")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.UserID != "u9" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.Sync.Token != "from-env" || !cfg.SyncConfigured() {
		t.Fatalf("expected env sync token, got %+v", cfg.Sync)
	}
}

func TestLoad_RejectsNonHTTPSyncURL(t *testing.T) {
	writeHomeConfig(t, "sync:\n  base_url: ftp://example.com\n")
	if _, err := config.Load(); err == nil || !strings.Contains(err.Error(), "sync.base_url") {
		t.Fatalf("expected sync.base_url validation error, got %v", err)
	}
}

func TestProviderKeys_YAMLAndEnv(t *testing.T) {
	writeHomeConfig(t, "ai:\n  providers:\n    openrouter:\n      api_keys: [k1, k2, \" k3 \", k1]\n")
	t.Setenv("OPENROUTER_API_KEYS", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	got := cfg.ProviderKeys("openrouter")
	if strings.Join(got, ",") != "k1,k2,k3" {
		t.Fatalf("expected deduplicated yaml keys, got %v", got)
	}

	t.Setenv("OPENROUTER_API_KEYS", "e1, e2")
	got = cfg.ProviderKeys("openrouter")
	if strings.Join(got, ",") != "e1,e2" {
		t.Fatalf("expected env keys, got %v", got)
	}
	if keys := cfg.ProviderKeys("unknown"); len(keys) != 0 {
		t.Fatalf("expected no keys for unknown provider, got %v", keys)
	}
}

func TestProviderEndpoint_DefaultsForOpenRouter(t *testing.T) {
	var cfg config.Config
	baseURL, model := cfg.ProviderEndpoint("openrouter")
	if baseURL != config.DefaultOpenRouterURL || model != config.DefaultOpenRouterModel {
		t.Fatalf("unexpected defaults %q %q", baseURL, model)
	}
	baseURL, model = cfg.ProviderEndpoint("custom")
	if baseURL != "" || model != "" {
		t.Fatalf("expected empty endpoint for unconfigured provider")
	}
}

func TestSetSyncTokenAndUserID_PreserveOtherSettings(t *testing.T) {
	home := writeHomeConfig(t, "log_level: debug\nsync:\n  base_url: https://sync.example.com\n")

	if err := config.SetSyncToken(home, "tok-123"); err != nil {
		t.Fatalf("SetSyncToken: %v", err)
	}
	if err := config.SetUserID(home, "u1"); err != nil {
		t.Fatalf("SetUserID: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Sync.BaseURL != "https://sync.example.com" {
		t.Fatalf("existing settings lost: %+v", cfg)
	}
	if cfg.Sync.Token != "tok-123" || cfg.UserID != "u1" {
		t.Fatalf("updates not persisted: %+v", cfg)
	}
}

func TestWriteDefault_Loadable(t *testing.T) {
	home := writeHomeConfig(t, "")
	if err := config.WriteDefault(home); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatalf("expected config present after WriteDefault")
	}
	if _, ok := cfg.AI.Providers["openrouter"]; !ok {
		t.Fatalf("expected openrouter provider section")
	}
}

func TestFingerprint_ChangesWithSettings(t *testing.T) {
	a := config.Config{LogLevel: "info", UserID: "u1"}
	b := a
	b.UserID = "u2"
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected fingerprints to differ")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Fatalf("fingerprint must be stable")
	}
}

package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/bujo/internal/config"
	"github.com/basket/bujo/internal/model"
	"github.com/basket/bujo/internal/persistence"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

type check func(context.Context, *config.Config, *persistence.Store) CheckResult

// Run executes all diagnostic checks. The database is opened once and
// shared by the checks that need it.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	var store *persistence.Store
	dbResult := CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	if cfg != nil {
		store, dbResult = openDatabase(ctx, cfg)
		if store != nil {
			defer store.Close()
		}
	}

	d.Results = append(d.Results, checkConfig(ctx, cfg, store), dbResult)
	for _, c := range []check{
		checkPartitions,
		checkPermissions,
		checkSyncEndpoint,
		checkAIKeys,
		checkTimeDrift,
	} {
		d.Results = append(d.Results, c(ctx, cfg, store))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config, _ *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing, using defaults",
			Detail: "Run `bujo doctor -init` to write one"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*persistence.Store, CheckResult) {
	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		return nil, CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	version, checksum, err := store.SchemaVersion(ctx)
	if err != nil {
		return store, CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	if latest := persistence.LatestSchemaVersion(); version != latest {
		return store, CheckResult{Name: "Database", Status: "FAIL",
			Message: fmt.Sprintf("Schema version %d, expected %d", version, latest)}
	}
	return store, CheckResult{Name: "Database", Status: "PASS",
		Message: fmt.Sprintf("Schema v%d at %s", version, cfg.DBPath), Detail: checksum}
}

func checkPartitions(ctx context.Context, cfg *config.Config, store *persistence.Store) CheckResult {
	if store == nil {
		return CheckResult{Name: "Partitions", Status: "SKIP", Message: "Database unavailable"}
	}
	missing, err := store.MissingPartitions(ctx)
	if err != nil {
		return CheckResult{Name: "Partitions", Status: "FAIL", Message: fmt.Sprintf("Inspect failed: %v", err)}
	}
	if len(missing) > 0 {
		return CheckResult{Name: "Partitions", Status: "FAIL",
			Message: fmt.Sprintf("%d partitions missing", len(missing)), Detail: strings.Join(missing, ", ")}
	}
	counts, err := store.PartitionCounts(ctx, cfg.UserID)
	if err != nil {
		return CheckResult{Name: "Partitions", Status: "FAIL", Message: fmt.Sprintf("Count failed: %v", err)}
	}
	total := 0
	parts := make([]string, 0, len(persistence.Partitions))
	for _, p := range persistence.Partitions {
		total += counts[p]
		parts = append(parts, fmt.Sprintf("%s=%d", p, counts[p]))
	}
	return CheckResult{Name: "Partitions", Status: "PASS",
		Message: fmt.Sprintf("%d partitions, %d records for %s", len(persistence.Partitions), total, cfg.UserID),
		Detail:  strings.Join(parts, " ")}
}

func checkPermissions(_ context.Context, cfg *config.Config, _ *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	if info, err := os.Stat(config.ConfigPath(cfg.HomeDir)); err == nil && info.Mode().Perm()&0o077 != 0 && cfg.Sync.Token != "" {
		return CheckResult{Name: "Permissions", Status: "WARN",
			Message: fmt.Sprintf("config.yaml holds a sync token but is mode %o", info.Mode().Perm()),
			Detail:  "chmod 600 config.yaml"}
	}
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkSyncEndpoint(ctx context.Context, cfg *config.Config, _ *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Sync", Status: "SKIP", Message: "Config missing"}
	}
	if strings.TrimSpace(cfg.Sync.BaseURL) == "" {
		return CheckResult{Name: "Sync", Status: "SKIP", Message: "No sync server configured"}
	}
	u, err := url.Parse(cfg.Sync.BaseURL)
	if err != nil || u.Hostname() == "" {
		return CheckResult{Name: "Sync", Status: "FAIL", Message: fmt.Sprintf("Invalid base_url %q", cfg.Sync.BaseURL)}
	}
	if cfg.Sync.Token == "" {
		return CheckResult{Name: "Sync", Status: "WARN", Message: "Sync server set but no token",
			Detail: "Set BUJO_SYNC_TOKEN or run `bujo sync -set-token <token>`"}
	}
	return lookup(ctx, "Sync", u.Hostname())
}

func checkAIKeys(_ context.Context, cfg *config.Config, _ *persistence.Store) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "AI Keys", Status: "SKIP", Message: "Config missing"}
	}
	provider := strings.ToLower(cfg.AI.Provider)
	keys := cfg.ProviderKeys(provider)
	if len(keys) == 0 {
		return CheckResult{
			Name:    "AI Keys",
			Status:  "WARN",
			Message: fmt.Sprintf("No API keys for %s", provider),
			Detail:  "Set OPENROUTER_API_KEYS (comma separated) or ai.providers.<name>.api_keys",
		}
	}
	baseURL, model := cfg.ProviderEndpoint(provider)
	return CheckResult{Name: "AI Keys", Status: "PASS",
		Message: fmt.Sprintf("%d keys for %s", len(keys), provider),
		Detail:  fmt.Sprintf("endpoint=%s model=%s", baseURL, model)}
}

// checkTimeDrift reports tasks whose spentTime disagrees with the sum of
// their time logs. Nothing is rewritten.
func checkTimeDrift(ctx context.Context, cfg *config.Config, store *persistence.Store) CheckResult {
	if store == nil {
		return CheckResult{Name: "Time Logs", Status: "SKIP", Message: "Database unavailable"}
	}
	recs, err := store.GetAllByUser(ctx, persistence.Tasks, cfg.UserID)
	if err != nil {
		return CheckResult{Name: "Time Logs", Status: "FAIL", Message: fmt.Sprintf("Read failed: %v", err)}
	}
	var drifted []string
	for _, r := range recs {
		var task model.Task
		if err := r.Decode(&task); err != nil {
			return CheckResult{Name: "Time Logs", Status: "FAIL", Message: fmt.Sprintf("Decode failed: %v", err)}
		}
		if len(task.TimeLogs) == 0 {
			continue
		}
		if logged := task.LoggedMinutes(); logged != task.SpentTime {
			drifted = append(drifted, fmt.Sprintf("%s (spent %d, logged %d)", task.ID, task.SpentTime, logged))
		}
	}
	if len(drifted) > 0 {
		return CheckResult{Name: "Time Logs", Status: "WARN",
			Message: fmt.Sprintf("%d of %d tasks drift from their time logs", len(drifted), len(recs)),
			Detail:  strings.Join(drifted, "; ")}
	}
	return CheckResult{Name: "Time Logs", Status: "PASS", Message: fmt.Sprintf("%d tasks consistent", len(recs))}
}

func lookup(ctx context.Context, name, host string) CheckResult {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    name,
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", host, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    name,
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", host, len(addrs), latency.Milliseconds()),
		Detail:  fmt.Sprintf("addresses=%v", addrs),
	}
}

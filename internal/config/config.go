package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/basket/bujo/internal/shared"
	"gopkg.in/yaml.v3"
)

const (
	DefaultProvider        = "openrouter"
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1"
	DefaultOpenRouterModel = "google/gemini-2.0-flash-exp:free"

	ConfigFileName = "config.yaml"
)

// SyncConfig describes the remote sync server.
type SyncConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	BatchSize      int    `yaml:"batch_size"`
	// Schedule is a 5-field cron expression for automatic sync. Empty disables it.
	Schedule string `yaml:"schedule"`
}

// AIProviderConfig holds the credential list and endpoint for one chat provider.
type AIProviderConfig struct {
	APIKeys []string `yaml:"api_keys"`
	BaseURL string   `yaml:"base_url"`
	Model   string   `yaml:"model"`
}

// AIConfig configures the chat client and its key rotation.
type AIConfig struct {
	Provider  string                      `yaml:"provider"`
	Providers map[string]AIProviderConfig `yaml:"providers"`

	MaxAttempts              int    `yaml:"max_attempts"`
	DefaultRetryAfterSeconds int    `yaml:"default_retry_after_seconds"`
	FailureThreshold         int    `yaml:"failure_threshold"`
	FailureCooldownSeconds   int    `yaml:"failure_cooldown_seconds"`
	RequestTimeoutSeconds    int    `yaml:"request_timeout_seconds"`
	SystemPrompt             string `yaml:"system_prompt"`
}

// JobsConfig holds the schedules run by `bujo serve`.
type JobsConfig struct {
	RolloverSchedule string `yaml:"rollover_schedule"`
	SnapshotSchedule string `yaml:"snapshot_schedule"`
	SnapshotKeep     int    `yaml:"snapshot_keep"`
	TickSeconds      int    `yaml:"tick_seconds"`
}

// TelemetryConfig mirrors otel.Config so this package stays import-free.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`

	MetricsEnabled *bool `yaml:"metrics_enabled,omitempty"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`
	DBPath   string `yaml:"db_path"`
	// UserID is the signed-in account; "default" before any login.
	UserID string `yaml:"user_id"`

	Sync      SyncConfig      `yaml:"sync"`
	AI        AIConfig        `yaml:"ai"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	NeedsGenesis bool `yaml:"-"`
}

// ProviderKeys returns the credential list for a chat provider.
// OPENROUTER_API_KEYS (comma separated) overrides the yaml list.
func (c Config) ProviderKeys(provider string) []string {
	envMap := map[string]string{
		"openrouter": "OPENROUTER_API_KEYS",
		"openai":     "OPENAI_API_KEYS",
	}
	if envVar, ok := envMap[provider]; ok {
		if raw := os.Getenv(envVar); raw != "" {
			return splitKeys(raw)
		}
	}
	if c.AI.Providers != nil {
		if p, ok := c.AI.Providers[provider]; ok {
			return splitKeys(strings.Join(p.APIKeys, ","))
		}
	}
	return nil
}

// ProviderEndpoint returns the base URL and model for a chat provider.
func (c Config) ProviderEndpoint(provider string) (baseURL, model string) {
	if c.AI.Providers != nil {
		if p, ok := c.AI.Providers[provider]; ok {
			baseURL, model = p.BaseURL, p.Model
		}
	}
	if baseURL == "" && provider == DefaultProvider {
		baseURL = DefaultOpenRouterURL
	}
	if model == "" && provider == DefaultProvider {
		model = DefaultOpenRouterModel
	}
	return baseURL, model
}

// SyncConfigured reports whether a sync endpoint and token are both present.
func (c Config) SyncConfigured() bool {
	return strings.TrimSpace(c.Sync.BaseURL) != "" && strings.TrimSpace(c.Sync.Token) != ""
}

func splitKeys(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, ConfigFileName)
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

// SetUserID records the signed-in account in config.yaml, preserving other settings.
func SetUserID(homeDir, userID string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	raw["user_id"] = userID
	return saveRawConfig(configPath, raw)
}

// SetSyncToken stores the sync bearer token in config.yaml, preserving other settings.
func SetSyncToken(homeDir, token string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	syncSection, _ := raw["sync"].(map[string]interface{})
	if syncSection == nil {
		syncSection = make(map[string]interface{})
	}
	syncSection["token"] = token
	raw["sync"] = syncSection
	return saveRawConfig(configPath, raw)
}

// Fingerprint returns a stable hash of the settings that affect runtime wiring.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|db=%s|user=%s|sync=%s|sched=%s|provider=%s|keys=%d|jobs=%s,%s",
		c.LogLevel, c.DBPath, c.UserID, c.Sync.BaseURL, c.Sync.Schedule,
		c.AI.Provider, len(c.ProviderKeys(c.AI.Provider)),
		c.Jobs.RolloverSchedule, c.Jobs.SnapshotSchedule)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		UserID:   shared.DefaultUserID,
		Sync: SyncConfig{
			TimeoutSeconds: 30,
			BatchSize:      1000,
		},
		AI: AIConfig{
			Provider:                 DefaultProvider,
			MaxAttempts:              3,
			DefaultRetryAfterSeconds: 60,
			FailureThreshold:         3,
			FailureCooldownSeconds:   300,
			RequestTimeoutSeconds:    30,
		},
		Jobs: JobsConfig{
			RolloverSchedule: "5 0 * * *",
			SnapshotSchedule: "0 3 * * *",
			SnapshotKeep:     7,
			TickSeconds:      60,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("BUJO_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".bujo")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create bujo home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.HomeDir, "bujo.db")
	}
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	if cfg.UserID == "" {
		cfg.UserID = shared.DefaultUserID
	}
	cfg.Sync.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Sync.BaseURL), "/")
	if cfg.Sync.TimeoutSeconds <= 0 {
		cfg.Sync.TimeoutSeconds = 30
	}
	if cfg.Sync.BatchSize <= 0 || cfg.Sync.BatchSize > 1000 {
		cfg.Sync.BatchSize = 1000
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = DefaultProvider
	}
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.MaxAttempts <= 0 {
		cfg.AI.MaxAttempts = 3
	}
	if cfg.AI.DefaultRetryAfterSeconds <= 0 {
		cfg.AI.DefaultRetryAfterSeconds = 60
	}
	if cfg.AI.FailureThreshold <= 0 {
		cfg.AI.FailureThreshold = 3
	}
	if cfg.AI.FailureCooldownSeconds <= 0 {
		cfg.AI.FailureCooldownSeconds = 300
	}
	if cfg.AI.RequestTimeoutSeconds <= 0 {
		cfg.AI.RequestTimeoutSeconds = 30
	}
	if cfg.Jobs.SnapshotKeep <= 0 {
		cfg.Jobs.SnapshotKeep = 7
	}
	if cfg.Jobs.TickSeconds <= 0 {
		cfg.Jobs.TickSeconds = 60
	}
}

func validate(cfg Config) error {
	if cfg.Sync.BaseURL != "" && !strings.HasPrefix(cfg.Sync.BaseURL, "http://") && !strings.HasPrefix(cfg.Sync.BaseURL, "https://") {
		return fmt.Errorf("sync.base_url must be an http(s) URL, got %q", cfg.Sync.BaseURL)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("BUJO_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("BUJO_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("BUJO_USER_ID"); raw != "" {
		cfg.UserID = raw
	}
	if raw := os.Getenv("BUJO_SYNC_URL"); raw != "" {
		cfg.Sync.BaseURL = raw
	}
	if raw := os.Getenv("BUJO_SYNC_TOKEN"); raw != "" {
		cfg.Sync.Token = raw
	}
	if raw := os.Getenv("BUJO_SYNC_SCHEDULE"); raw != "" {
		cfg.Sync.Schedule = raw
	}
	if raw := os.Getenv("BUJO_SYNC_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Sync.TimeoutSeconds = v
		}
	}
	if raw := os.Getenv("BUJO_AI_PROVIDER"); raw != "" {
		cfg.AI.Provider = raw
	}
	if raw := os.Getenv("BUJO_OTEL_EXPORTER"); raw != "" {
		cfg.Telemetry.Enabled = raw != "none"
		cfg.Telemetry.Exporter = raw
	}
}

// WriteDefault writes a starter config.yaml into homeDir.
func WriteDefault(homeDir string) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create home: %w", err)
	}
	cfg := defaultConfig()
	cfg.AI.Providers = map[string]AIProviderConfig{
		DefaultProvider: {BaseURL: DefaultOpenRouterURL, Model: DefaultOpenRouterModel},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(homeDir), data, 0o600); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}

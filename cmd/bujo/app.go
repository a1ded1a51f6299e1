package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/basket/bujo/internal/ai"
	"github.com/basket/bujo/internal/audit"
	"github.com/basket/bujo/internal/backup"
	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/config"
	otelPkg "github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/persistence"
	"github.com/basket/bujo/internal/repository"
	"github.com/basket/bujo/internal/rotation"
	bsync "github.com/basket/bujo/internal/sync"
	"github.com/basket/bujo/internal/telemetry"
)

// app is the process runtime shared by every subcommand.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	bus    *bus.Bus
	tel    otelPkg.Telemetry
	store  *persistence.Store
	repos  *repository.Set

	closers []func()
}

// startError carries the reason code reported for a failed startup step.
type startError struct {
	code string
	err  error
}

func (e *startError) Error() string { return e.code + ": " + e.err.Error() }
func (e *startError) Unwrap() error { return e.err }

// openApp loads configuration and opens the store. Logs go to the log file
// only when quiet is set.
func openApp(ctx context.Context, quiet bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, &startError{"E_CONFIG_LOAD", err}
	}
	a := &app{cfg: cfg}

	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, &startError{"E_AUDIT_INIT", err}
	}
	a.closers = append(a.closers, func() { _ = audit.Close() })

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		a.Close()
		return nil, &startError{"E_LOGGER_INIT", err}
	}
	a.logger = telemetry.WithTrace(ctx, logger)
	slog.SetDefault(a.logger)
	a.closers = append(a.closers, func() { _ = logCloser.Close() })

	a.bus = bus.New()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,

		MetricsEnabled: cfg.Telemetry.MetricsEnabled,
	})
	if err != nil {
		a.Close()
		return nil, &startError{"E_OTEL_INIT", err}
	}
	a.closers = append(a.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("otel shutdown failed", "error", err)
		}
	})
	a.tel, err = otelProvider.Telemetry()
	if err != nil {
		a.Close()
		return nil, &startError{"E_OTEL_INIT", err}
	}

	store, err := persistence.Open(cfg.DBPath, a.bus)
	if err != nil {
		a.Close()
		return nil, &startError{"E_DB_OPEN", err}
	}
	a.store = store
	audit.SetDB(store.DB())
	// Registered last so it runs first: audit must stop writing before the
	// database closes.
	a.closers = append(a.closers, func() {
		audit.SetDB(nil)
		_ = store.Close()
	})

	a.repos = repository.New(store)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// startApp wraps openApp for commands: on failure it reports the reason code
// and returns a non-zero exit code.
func startApp(ctx context.Context, quiet bool) (*app, int) {
	a, err := openApp(ctx, quiet)
	if err != nil {
		var se *startError
		if errors.As(err, &se) {
			return nil, fail(nil, se.code, se.err)
		}
		return nil, fail(nil, "", err)
	}
	return a, 0
}

func (a *app) snapshotDir() string {
	return filepath.Join(a.cfg.HomeDir, "snapshots")
}

func (a *app) backupCodec() (*backup.Codec, error) {
	return backup.New(a.store, a.bus, telemetry.Component(a.logger, "backup"), a.tel)
}

func (a *app) syncClient() *bsync.Client {
	var transport bsync.Transport
	if a.cfg.SyncConfigured() {
		transport = bsync.NewHTTPTransport(a.cfg.Sync.BaseURL, a.cfg.Sync.Token, time.Duration(a.cfg.Sync.TimeoutSeconds)*time.Second)
	}
	return bsync.NewClient(a.store, transport,
		bsync.WithBus(a.bus),
		bsync.WithTelemetry(a.tel),
		bsync.WithLogger(telemetry.Component(a.logger, "sync")),
		bsync.WithBatchSize(a.cfg.Sync.BatchSize),
	)
}

// keyCoordinator builds the rotation state for every configured provider.
func (a *app) keyCoordinator() *rotation.Coordinator {
	keys := rotation.New(
		rotation.WithBus(a.bus),
		rotation.WithLogger(telemetry.Component(a.logger, "rotation")),
		rotation.WithFailurePolicy(a.cfg.AI.FailureThreshold, time.Duration(a.cfg.AI.FailureCooldownSeconds)*time.Second),
	)
	for _, name := range providerNames(a.cfg) {
		keys.SetKeys(name, a.cfg.ProviderKeys(name))
	}
	return keys
}

func providerNames(cfg config.Config) []string {
	names := []string{cfg.AI.Provider}
	for name := range cfg.AI.Providers {
		if name != cfg.AI.Provider {
			names = append(names, name)
		}
	}
	return names
}

// chatClient wires the rotation coordinator to an OpenAI-compatible provider
// per configured endpoint.
func (a *app) chatClient(keys *rotation.Coordinator) (*ai.Client, error) {
	client := ai.NewClient(keys,
		ai.WithTelemetry(a.tel),
		ai.WithLogger(telemetry.Component(a.logger, "ai")),
		ai.WithRetryPolicy(a.cfg.AI.MaxAttempts, time.Duration(a.cfg.AI.DefaultRetryAfterSeconds)*time.Second),
	)
	httpClient := &http.Client{Timeout: time.Duration(a.cfg.AI.RequestTimeoutSeconds) * time.Second}
	registered := 0
	for _, name := range providerNames(a.cfg) {
		baseURL, model := a.cfg.ProviderEndpoint(name)
		if baseURL == "" || model == "" {
			continue
		}
		client.Register(name, ai.NewOpenAIProvider(baseURL, model, httpClient))
		registered++
	}
	if registered == 0 {
		return nil, fmt.Errorf("%w: %s", ai.ErrUnknownProvider, a.cfg.AI.Provider)
	}
	return client, nil
}

// writeJSON is used by the -json modes of status, doctor and keys.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

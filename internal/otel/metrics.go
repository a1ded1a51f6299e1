package otel

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds the instruments recorded by the sync, chat and store paths.
type Metrics struct {
	SyncDuration     metric.Float64Histogram
	SyncApplied      metric.Int64Counter
	SyncConflicts    metric.Int64Counter
	SyncFailures     metric.Int64Counter
	ChatDuration     metric.Float64Histogram
	ChatAttempts     metric.Int64Counter
	KeyRateLimits    metric.Int64Counter
	StoreWriteErrors metric.Int64Counter
	RecordsImported  metric.Int64Counter
	RecordsMigrated  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SyncDuration, err = meter.Float64Histogram("bujo.sync.duration",
		metric.WithDescription("Sync round duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncApplied, err = meter.Int64Counter("bujo.sync.applied",
		metric.WithDescription("Server records applied locally"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncConflicts, err = meter.Int64Counter("bujo.sync.conflicts",
		metric.WithDescription("Conflicts resolved in favour of the local copy"),
	)
	if err != nil {
		return nil, err
	}

	m.SyncFailures, err = meter.Int64Counter("bujo.sync.failures",
		metric.WithDescription("Failed sync rounds"),
	)
	if err != nil {
		return nil, err
	}

	m.ChatDuration, err = meter.Float64Histogram("bujo.chat.duration",
		metric.WithDescription("Chat completion call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ChatAttempts, err = meter.Int64Counter("bujo.chat.attempts",
		metric.WithDescription("Chat completion attempts including retries"),
	)
	if err != nil {
		return nil, err
	}

	m.KeyRateLimits, err = meter.Int64Counter("bujo.keys.rate_limited",
		metric.WithDescription("Provider keys placed in cooldown"),
	)
	if err != nil {
		return nil, err
	}

	m.StoreWriteErrors, err = meter.Int64Counter("bujo.store.write_errors",
		metric.WithDescription("Failed store writes"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsImported, err = meter.Int64Counter("bujo.backup.imported",
		metric.WithDescription("Records restored from backup documents"),
	)
	if err != nil {
		return nil, err
	}

	m.RecordsMigrated, err = meter.Int64Counter("bujo.migration.moved",
		metric.WithDescription("Records moved from the default user"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by a noop meter.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(Noop().Meter)
	if err != nil {
		// The noop meter never fails to create instruments.
		panic(err)
	}
	return m
}

// Telemetry bundles the tracer and instruments handed to data-path components.
type Telemetry struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NoopTelemetry discards spans and measurements.
func NoopTelemetry() Telemetry {
	return Telemetry{Tracer: Noop().Tracer, Metrics: NoopMetrics()}
}

// Telemetry builds the instruments from the provider's meter.
func (p *Provider) Telemetry() (Telemetry, error) {
	m, err := NewMetrics(p.Meter)
	if err != nil {
		return Telemetry{}, fmt.Errorf("create metrics: %w", err)
	}
	return Telemetry{Tracer: p.Tracer, Metrics: m}, nil
}

// OrNoop fills unset fields with noop implementations.
func (t Telemetry) OrNoop() Telemetry {
	if t.Tracer == nil {
		t.Tracer = Noop().Tracer
	}
	if t.Metrics == nil {
		t.Metrics = NoopMetrics()
	}
	return t
}

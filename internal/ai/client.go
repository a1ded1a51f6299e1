// Package ai sends chat requests to third-party providers, rotating API keys
// on rate limits, and keeps coach conversations in the store.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/bujo/internal/otel"
	"github.com/basket/bujo/internal/rotation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryAfter  = 60 * time.Second
)

var (
	ErrNoUsableKey     = errors.New("no usable api key")
	ErrRateLimited     = errors.New("all keys rate limited")
	ErrUnknownProvider = errors.New("unknown chat provider")
)

// Reply is a successful completion.
type Reply struct {
	Content  string
	Provider string
	KeyIndex int
	Attempts int
}

type Client struct {
	keys      *rotation.Coordinator
	providers map[string]ChatProvider
	tel       otel.Telemetry
	logger    *slog.Logger

	maxAttempts       int
	defaultRetryAfter time.Duration
}

type ClientOption func(*Client)

func WithTelemetry(tel otel.Telemetry) ClientOption {
	return func(c *Client) { c.tel = tel.OrNoop() }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRetryPolicy sets the attempt budget and the cooldown used when a
// rate-limited response carries no Retry-After. Values <= 0 keep defaults.
func WithRetryPolicy(maxAttempts int, defaultRetryAfter time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
		if defaultRetryAfter > 0 {
			c.defaultRetryAfter = defaultRetryAfter
		}
	}
}

func NewClient(keys *rotation.Coordinator, opts ...ClientOption) *Client {
	c := &Client{
		keys:              keys,
		providers:         make(map[string]ChatProvider),
		tel:               otel.NoopTelemetry(),
		logger:            slog.Default(),
		maxAttempts:       DefaultMaxAttempts,
		defaultRetryAfter: DefaultRetryAfter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds a provider name to its transport. Keys for the name come
// from the rotation coordinator.
func (c *Client) Register(name string, p ChatProvider) {
	c.providers[name] = p
}

// SendChatMessage tries up to the attempt budget, taking a fresh key each
// time. Rate-limited keys are put into cooldown and the next key is tried;
// any other failure marks the key failed and is returned as is.
func (c *Client) SendChatMessage(ctx context.Context, provider string, messages []Message) (Reply, error) {
	p, ok := c.providers[provider]
	if !ok {
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	ctx, span := otel.StartClientSpan(ctx, c.tel.Tracer, "ai.chat", otel.AttrProvider.String(provider))
	defer span.End()
	start := time.Now()
	defer func() {
		c.tel.Metrics.ChatDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", provider)))
	}()

	rateLimited := false
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Reply{}, err
		}
		key, ok := c.keys.GetNextAPIKey(provider)
		if !ok {
			err := ErrNoUsableKey
			if rateLimited {
				err = fmt.Errorf("%w: %w", ErrRateLimited, ErrNoUsableKey)
			}
			otel.Fail(span, err)
			return Reply{}, err
		}

		c.tel.Metrics.ChatAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
		content, err := p.Complete(ctx, key.Value, messages)
		if err == nil {
			c.keys.MarkKeyAsSuccess(provider, key.Index)
			span.SetAttributes(otel.AttrKeyIndex.Int(key.Index), otel.AttrAttempt.Int(attempt))
			return Reply{Content: content, Provider: provider, KeyIndex: key.Index, Attempts: attempt}, nil
		}

		if rotation.IsRateLimit(err) {
			rateLimited = true
			retryAfter := c.defaultRetryAfter
			var pe *ProviderError
			if errors.As(err, &pe) && pe.RetryAfter > 0 {
				retryAfter = pe.RetryAfter
			}
			c.keys.MarkKeyAsRateLimited(provider, key.Index, retryAfter)
			c.tel.Metrics.KeyRateLimits.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
			c.logger.Info("chat key rate limited, rotating",
				"provider", provider, "key_index", key.Index, "attempt", attempt, "retry_after", retryAfter)
			continue
		}

		c.keys.MarkKeyAsFailed(provider, key.Index)
		c.logger.Warn("chat request failed",
			"provider", provider,
			"key_index", key.Index,
			"error_class", string(rotation.ClassifyError(err)),
			"error", err,
		)
		otel.Fail(span, err)
		return Reply{}, fmt.Errorf("chat %s: %w", provider, err)
	}

	otel.Fail(span, ErrRateLimited)
	return Reply{}, ErrRateLimited
}

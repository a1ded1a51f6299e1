// Package rotation selects provider API keys round-robin and quarantines
// keys that are rate limited or keep failing.
package rotation

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/basket/bujo/internal/bus"
	"github.com/basket/bujo/internal/shared"
)

// Default failure policy: FailureThreshold consecutive failures put a key
// into FailureCooldown.
const (
	FailureThreshold = 3
	FailureCooldown  = 5 * time.Minute
)

// Key is a selected credential.
type Key struct {
	Provider string
	Index    int
	Value    string
}

// Status describes one configured key without exposing it.
type Status struct {
	Index         int
	Masked        string
	Available     bool
	CooldownUntil time.Time
	Failures      int
}

type slot struct {
	provider string
	index    int
}

type keyState struct {
	cooldownUntil time.Time
	failureCount  int
}

// Coordinator owns all rotation state. The zero value is not usable; call
// New. Safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	keys   map[string][]string
	state  map[slot]*keyState
	cursor map[string]int

	threshold int
	cooldown  time.Duration

	now    func() time.Time
	bus    *bus.Bus
	logger *slog.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithBus publishes a KeyRateLimitedEvent whenever a key enters cooldown.
func WithBus(b *bus.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithFailurePolicy overrides the failure threshold and cooldown. Values <= 0
// keep the defaults.
func WithFailurePolicy(threshold int, cooldown time.Duration) Option {
	return func(c *Coordinator) {
		if threshold > 0 {
			c.threshold = threshold
		}
		if cooldown > 0 {
			c.cooldown = cooldown
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		keys:   make(map[string][]string),
		state:  make(map[slot]*keyState),
		cursor: make(map[string]int),

		threshold: FailureThreshold,
		cooldown:  FailureCooldown,

		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetKeys replaces the key list for provider and forgets its cooldowns. An
// identical list is left alone, state included; the result reports whether
// anything changed.
func (c *Coordinator) SetKeys(provider string, keys []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.keys[provider]; ok && slices.Equal(cur, keys) {
		return false
	}
	for s := range c.state {
		if s.provider == provider {
			delete(c.state, s)
		}
	}
	c.keys[provider] = append([]string(nil), keys...)
	c.cursor[provider] = 0
	return true
}

// Providers returns the providers with at least one key configured.
func (c *Coordinator) Providers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.keys))
	for p, keys := range c.keys {
		if len(keys) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// GetNextAPIKey advances the provider's cursor to the next key not in
// cooldown. It returns false when every key is limited or none are set.
func (c *Coordinator) GetNextAPIKey(provider string) (Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.keys[provider]
	n := len(keys)
	if n == 0 {
		return Key{}, false
	}
	now := c.now()
	start := c.cursor[provider] % n
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if c.limitedLocked(provider, idx, now) {
			continue
		}
		c.cursor[provider] = (idx + 1) % n
		return Key{Provider: provider, Index: idx, Value: keys[idx]}, true
	}
	return Key{}, false
}

func (c *Coordinator) limitedLocked(provider string, index int, now time.Time) bool {
	st, ok := c.state[slot{provider, index}]
	return ok && now.Before(st.cooldownUntil)
}

func (c *Coordinator) stateLocked(provider string, index int) *keyState {
	if index < 0 || index >= len(c.keys[provider]) {
		return nil
	}
	s := slot{provider, index}
	st, ok := c.state[s]
	if !ok {
		st = &keyState{}
		c.state[s] = st
	}
	return st
}

// MarkKeyAsRateLimited puts the key into cooldown for retryAfter.
func (c *Coordinator) MarkKeyAsRateLimited(provider string, index int, retryAfter time.Duration) {
	c.mu.Lock()
	st := c.stateLocked(provider, index)
	if st == nil {
		c.mu.Unlock()
		return
	}
	st.cooldownUntil = c.now().Add(retryAfter)
	c.mu.Unlock()

	c.cooled(provider, index, retryAfter, "rate limited")
}

// MarkKeyAsFailed counts a non rate-limit failure. The key cools down once
// the threshold of consecutive failures is reached; the counter restarts
// after that.
func (c *Coordinator) MarkKeyAsFailed(provider string, index int) {
	c.mu.Lock()
	st := c.stateLocked(provider, index)
	if st == nil {
		c.mu.Unlock()
		return
	}
	st.failureCount++
	tripped := st.failureCount >= c.threshold
	cooldown := c.cooldown
	if tripped {
		st.cooldownUntil = c.now().Add(cooldown)
		st.failureCount = 0
	}
	c.mu.Unlock()

	if tripped {
		c.cooled(provider, index, cooldown, "repeated failures")
	}
}

// MarkKeyAsSuccess clears the failure counter.
func (c *Coordinator) MarkKeyAsSuccess(provider string, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.state[slot{provider, index}]; ok {
		st.failureCount = 0
	}
}

func (c *Coordinator) cooled(provider string, index int, d time.Duration, reason string) {
	c.logger.Warn("api key cooling down",
		"provider", provider,
		"key_index", index,
		"seconds", int(d.Seconds()),
		"reason", reason,
	)
	if c.bus != nil {
		c.bus.Publish(bus.TopicKeyRateLimited, bus.KeyRateLimitedEvent{
			Provider: provider,
			Index:    index,
			Seconds:  int(d.Seconds()),
		})
	}
}

// Snapshot reports the state of every key configured for provider.
func (c *Coordinator) Snapshot(provider string) []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := c.keys[provider]
	out := make([]Status, 0, len(keys))
	for i, k := range keys {
		s := Status{Index: i, Masked: shared.MaskKey(k), Available: true}
		if st, ok := c.state[slot{provider, i}]; ok {
			s.Failures = st.failureCount
			if now.Before(st.cooldownUntil) {
				s.Available = false
				s.CooldownUntil = st.cooldownUntil
			}
		}
		out = append(out, s)
	}
	return out
}

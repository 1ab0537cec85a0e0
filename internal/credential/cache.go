package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
)

const defaultSkew = 10 * time.Second

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithSkew sets how long before expiry a cached credential is replaced.
// Default: 10s.
func WithSkew(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d >= 0 {
			c.skew = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// WithBreaker sets the circuit breaker configuration guarding the issuer.
func WithBreaker(cfg resilience.CircuitBreakerConfig) CacheOption {
	return func(c *Cache) {
		c.breakerCfg = cfg
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) CacheOption {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithProviderName labels the issuer in metrics. Default: "deepgram".
func WithProviderName(name string) CacheOption {
	return func(c *Cache) {
		c.name = name
	}
}

// Cache reuses credentials from an underlying [Issuer] until they are about
// to expire. Calls to the issuer are guarded by a circuit breaker. Cache is an
// Issuer itself and is safe for concurrent use.
type Cache struct {
	issuer     Issuer
	skew       time.Duration
	now        func() time.Time
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
	name       string

	mu  sync.Mutex
	cur Credential
}

// Compile-time interface assertion.
var _ Issuer = (*Cache)(nil)

// NewCache wraps issuer.
func NewCache(issuer Issuer, opts ...CacheOption) *Cache {
	c := &Cache{
		issuer:     issuer,
		skew:       defaultSkew,
		now:        time.Now,
		breakerCfg: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second},
		name:       "deepgram",
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.breakerCfg.Name == "" {
		c.breakerCfg.Name = "credential:" + c.name
	}
	c.breaker = resilience.NewCircuitBreaker(c.breakerCfg)
	return c
}

// Issue returns the cached credential, or a new one once the cached
// credential is within the skew of its expiry.
func (c *Cache) Issue(ctx context.Context) (Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cur.Expired(c.now(), c.skew) {
		return c.cur, nil
	}

	var fresh Credential
	err := c.breaker.Execute(func() error {
		var err error
		fresh, err = c.issuer.Issue(ctx)
		return err
	})
	if err != nil {
		if !errors.Is(err, resilience.ErrCircuitOpen) {
			c.metrics.RecordProviderRequest(ctx, c.name, "credential", "error")
			c.metrics.RecordProviderError(ctx, c.name, "credential")
		}
		return Credential{}, fmt.Errorf("credential: issue: %w", err)
	}
	c.metrics.RecordProviderRequest(ctx, c.name, "credential", "ok")

	// A credential that is already inside the skew window is handed out once
	// but not kept.
	if fresh.Expired(c.now(), c.skew) {
		c.cur = Credential{}
	} else {
		c.cur = fresh
	}
	return fresh, nil
}

// Key returns just the token. Its signature matches the key source expected
// by streaming providers.
func (c *Cache) Key(ctx context.Context) (string, error) {
	cred, err := c.Issue(ctx)
	if err != nil {
		return "", err
	}
	return cred.Token, nil
}

// Check reports an error while the circuit breaker is open. It is meant for
// readiness probes.
func (c *Cache) Check(context.Context) error {
	if c.breaker.State() == resilience.StateOpen {
		return fmt.Errorf("credential: %s issuer unavailable: %w", c.name, resilience.ErrCircuitOpen)
	}
	return nil
}

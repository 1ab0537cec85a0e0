package credential

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
)

// fakeIssuer hands out numbered tokens valid for ttl from the fake clock.
type fakeIssuer struct {
	mu    sync.Mutex
	clock *fakeClock
	ttl   time.Duration
	err   error
	calls int
}

func (f *fakeIssuer) Issue(context.Context) (Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Credential{}, f.err
	}
	return Credential{
		Token:     "tok-" + string(rune('0'+f.calls)),
		ExpiresAt: f.clock.Now().Add(f.ttl),
	}, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func TestCache_ReusesUntilSkew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss := &fakeIssuer{clock: clock, ttl: 60 * time.Second}
	c := NewCache(iss, WithClock(clock.Now), WithSkew(10*time.Second), WithMetrics(testMetrics(t)))

	first, err := c.Issue(ctx)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(49 * time.Second)
	again, _ := c.Issue(ctx)
	if again.Token != first.Token || iss.calls != 1 {
		t.Errorf("within validity: token %q (calls=%d), want cached %q", again.Token, iss.calls, first.Token)
	}

	clock.Advance(time.Second) // exactly ExpiresAt - skew
	renewed, _ := c.Issue(ctx)
	if renewed.Token == first.Token || iss.calls != 2 {
		t.Errorf("at skew boundary: token %q (calls=%d), want a new one", renewed.Token, iss.calls)
	}

	key, err := c.Key(ctx)
	if err != nil || key != renewed.Token {
		t.Errorf("Key = %q, %v; want %q", key, err, renewed.Token)
	}
}

func TestCache_ShortLivedCredentialNotCached(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	iss := &fakeIssuer{clock: clock, ttl: 5 * time.Second}
	c := NewCache(iss, WithClock(clock.Now), WithSkew(10*time.Second), WithMetrics(testMetrics(t)))

	for range 3 {
		if _, err := c.Issue(ctx); err != nil {
			t.Fatalf("Issue: %v", err)
		}
	}
	if iss.calls != 3 {
		t.Errorf("issuer calls = %d, want 3", iss.calls)
	}
}

func TestCache_StaticKeyNeverExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := &fakeClock{t: time.Now()}
	c := NewCache(NewStaticIssuer("long-lived"), WithClock(clock.Now), WithMetrics(testMetrics(t)))
	first, _ := c.Issue(ctx)
	clock.Advance(1000 * time.Hour)
	later, err := c.Issue(ctx)
	if err != nil || later.Token != "long-lived" || first.Token != "long-lived" {
		t.Errorf("static credential = %+v, %v", later, err)
	}
}

func TestCache_BreakerOpens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clock := &fakeClock{t: time.Now()}
	boom := errors.New("upstream down")
	iss := &fakeIssuer{clock: clock, ttl: time.Minute, err: boom}
	c := NewCache(iss,
		WithClock(clock.Now),
		WithMetrics(testMetrics(t)),
		WithBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}),
	)

	for i := range 2 {
		if _, err := c.Issue(ctx); !errors.Is(err, boom) {
			t.Errorf("attempt %d: err = %v, want %v", i, err, boom)
		}
	}
	if err := c.Check(ctx); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Check = %v, want ErrCircuitOpen", err)
	}
	if _, err := c.Issue(ctx); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Issue with open breaker = %v, want ErrCircuitOpen", err)
	}
	if iss.calls != 2 {
		t.Errorf("issuer calls = %d, want 2", iss.calls)
	}
}

func TestCredential_Expired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"empty", Credential{}, true},
		{"no expiry", Credential{Token: "k"}, false},
		{"valid", Credential{Token: "k", ExpiresAt: now.Add(time.Minute)}, false},
		{"inside skew", Credential{Token: "k", ExpiresAt: now.Add(5 * time.Second)}, true},
		{"past", Credential{Token: "k", ExpiresAt: now.Add(-time.Second)}, true},
	}
	for _, tc := range tests {
		if got := tc.cred.Expired(now, 10*time.Second); got != tc.want {
			t.Errorf("%s: Expired = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStaticIssuer_NoKey(t *testing.T) {
	t.Parallel()

	if _, err := NewStaticIssuer("").Issue(context.Background()); !errors.Is(err, ErrNoKey) {
		t.Errorf("err = %v, want ErrNoKey", err)
	}
}

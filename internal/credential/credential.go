// Package credential hands out short-lived credentials for the speech
// recognition service, so that browsers and server-side streams never hold
// the long-lived account key.
//
// An [Issuer] produces a [Credential]. [DeepgramIssuer] mints temporary
// Deepgram keys through the management API; [StaticIssuer] returns a fixed
// key for setups without a management project. [Cache] sits in front of
// either and reuses a credential until shortly before it expires.
package credential

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNoKey is returned when an issuer is configured without a key.
var ErrNoKey = errors.New("credential: no API key configured")

// Credential is a token for the recognition service.
type Credential struct {
	// Token is the secret passed to the service.
	Token string `json:"key"`

	// ExpiresAt is when the token stops working. The zero value means the
	// token does not expire.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether c is no longer usable at now, treating it as
// expired skew early.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.Token == "" {
		return true
	}
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(-skew))
}

// Issuer produces credentials. Implementations must be safe for concurrent
// use.
type Issuer interface {
	Issue(ctx context.Context) (Credential, error)
}

// StaticIssuer returns the same non-expiring key every time.
type StaticIssuer struct {
	key string
}

// Compile-time interface assertion.
var _ Issuer = (*StaticIssuer)(nil)

// NewStaticIssuer returns a StaticIssuer for key. Handing the account key to
// clients exposes it, so this logs a warning.
func NewStaticIssuer(key string) *StaticIssuer {
	slog.Warn("credential endpoint hands out the long-lived API key; configure credential.project_id to issue temporary keys")
	return &StaticIssuer{key: key}
}

// Issue returns the configured key.
func (s *StaticIssuer) Issue(context.Context) (Credential, error) {
	if s.key == "" {
		return Credential{}, ErrNoKey
	}
	return Credential{Token: s.key}, nil
}

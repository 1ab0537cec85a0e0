// Package config provides the configuration schema, loader, provider registry
// and hot-reload watcher for the cuecard server.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/cuecard/internal/align"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unset or unknown levels map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// CredentialProvider selects how the credential endpoint obtains keys.
type CredentialProvider string

const (
	// CredentialNone disables the credential endpoint.
	CredentialNone CredentialProvider = ""

	// CredentialDeepgram mints temporary keys through the Deepgram management
	// API.
	CredentialDeepgram CredentialProvider = "deepgram"

	// CredentialStatic hands out the configured key as is.
	CredentialStatic CredentialProvider = "static"
)

// IsValid reports whether p is a recognised credential provider.
func (p CredentialProvider) IsValid() bool {
	switch p {
	case CredentialNone, CredentialDeepgram, CredentialStatic:
		return true
	}
	return false
}

// Config is the root configuration. It is usually loaded with [Load] or
// [LoadFromReader], which also apply defaults.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Credential CredentialConfig `yaml:"credential"`
	Alignment  AlignmentConfig  `yaml:"alignment"`
	Session    SessionConfig    `yaml:"session"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`

	// AllowedOrigins lists host patterns (path.Match syntax) whose browser
	// pages may open the WebSocket. Same-origin requests are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProvidersConfig selects the speech recognition backends. When STT.Name is
// empty the server only accepts client-side recognition.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary refuses a stream.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the configuration block of one provider. Name selects the
// constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CredentialConfig configures GET /api/credential.
type CredentialConfig struct {
	Provider CredentialProvider `yaml:"provider"`

	// ProjectID is the Deepgram project temporary keys are created in.
	ProjectID string `yaml:"project_id"`

	// APIKey is the long-lived key. Defaults to providers.stt.api_key.
	APIKey string `yaml:"api_key"`

	// TTL is the lifetime of minted keys. Default: 60s.
	TTL time.Duration `yaml:"ttl"`

	// RateLimit caps requests per second to the endpoint across all clients,
	// with bursts of up to Burst. Defaults: 2 and 10.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

// AlignmentConfig selects and tunes the matcher. Unset fields keep the
// matcher defaults.
type AlignmentConfig struct {
	// Strategy is "token" (default) or "sentence".
	Strategy align.Strategy `yaml:"strategy"`

	// Threshold is the relative edit distance a sentence must stay below.
	Threshold float64 `yaml:"threshold"`

	// WindowBehind and WindowAhead bound the sentence search window.
	WindowBehind *int `yaml:"window_behind"`
	WindowAhead  int  `yaml:"window_ahead"`

	// StripChars are removed from script words before comparison.
	StripChars *string `yaml:"strip_chars"`

	// SoundsAlike enables phonetic word matching with this minimum
	// similarity. 0 disables it.
	SoundsAlike float64 `yaml:"sounds_alike"`
}

// Options returns the matcher options for the configured values.
func (a AlignmentConfig) Options() []align.Option {
	var opts []align.Option
	if a.StripChars != nil {
		opts = append(opts, align.WithStripChars(*a.StripChars))
	}
	if a.Threshold > 0 {
		opts = append(opts, align.WithThreshold(a.Threshold))
	}
	if a.WindowBehind != nil || a.WindowAhead > 0 {
		behind := -1
		if a.WindowBehind != nil {
			behind = *a.WindowBehind
		}
		opts = append(opts, align.WithWindow(behind, a.WindowAhead))
	}
	if a.SoundsAlike > 0 {
		opts = append(opts, align.WithSoundsAlike(a.SoundsAlike))
	}
	return opts
}

// Matcher builds the configured matcher.
func (a AlignmentConfig) Matcher() (align.Matcher, error) {
	s := a.Strategy
	if s == "" {
		s = align.StrategyToken
	}
	return align.New(s, a.Options()...)
}

// SessionConfig tunes server-side recognition streams.
type SessionConfig struct {
	// SampleRate of the PCM audio clients send. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Language is the BCP-47 recognition language. Default: "en-US".
	Language string `yaml:"language"`

	// RestartBackoff and MaxRestartBackoff bound the delay between attempts
	// to reopen a failed stream. Defaults: 250ms and 5s.
	RestartBackoff    time.Duration `yaml:"restart_backoff"`
	MaxRestartBackoff time.Duration `yaml:"max_restart_backoff"`

	// MaxRestartFailures is how many consecutive failed reopen attempts end
	// the session. Default: 5.
	MaxRestartFailures int `yaml:"max_restart_failures"`

	// KeywordLimit caps how many script names are sent to the recogniser as
	// keyword boosts. Default: 50; negative disables boosting.
	KeywordLimit int `yaml:"keyword_limit"`
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidSTTNames lists the built-in speech recognition providers. [Validate]
// warns about other names.
var ValidSTTNames = []string{"deepgram", "lines"}

const (
	defaultListenAddr         = ":8080"
	defaultSampleRate         = 16000
	defaultLanguage           = "en-US"
	defaultRestartBackoff     = 250 * time.Millisecond
	defaultMaxRestartBackoff  = 5 * time.Second
	defaultMaxRestartFailures = 5
	defaultKeywordLimit       = 50
	defaultCredentialTTL      = 60 * time.Second
	defaultCredentialRate     = 2
	defaultCredentialBurst    = 10
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r, applies defaults and validates the
// result. Unknown keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields of cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Credential.APIKey == "" {
		cfg.Credential.APIKey = cfg.Providers.STT.APIKey
	}
	if cfg.Credential.TTL == 0 {
		cfg.Credential.TTL = defaultCredentialTTL
	}
	if cfg.Credential.RateLimit == 0 {
		cfg.Credential.RateLimit = defaultCredentialRate
	}
	if cfg.Credential.Burst == 0 {
		cfg.Credential.Burst = defaultCredentialBurst
	}
	s := &cfg.Session
	if s.SampleRate == 0 {
		s.SampleRate = defaultSampleRate
	}
	if s.Language == "" {
		s.Language = defaultLanguage
	}
	if s.RestartBackoff == 0 {
		s.RestartBackoff = defaultRestartBackoff
	}
	if s.MaxRestartBackoff == 0 {
		s.MaxRestartBackoff = defaultMaxRestartBackoff
	}
	if s.MaxRestartFailures == 0 {
		s.MaxRestartFailures = defaultMaxRestartFailures
	}
	if s.KeywordLimit == 0 {
		s.KeywordLimit = defaultKeywordLimit
	}
}

// Validate checks that cfg is coherent. It returns all failures joined;
// soft problems are logged as warnings.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		if len(cfg.Providers.STTFallbacks) > 0 {
			errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
		}
		slog.Warn("providers.stt is not configured; only client-side recognition will be available")
	}
	validateProviderName("providers.stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(prefix, fb.Name)
	}

	// Credential
	c := cfg.Credential
	switch {
	case !c.Provider.IsValid():
		errs = append(errs, fmt.Errorf("credential.provider %q is invalid; valid values: deepgram, static", c.Provider))
	case c.Provider == CredentialDeepgram:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("credential.project_id is required for the deepgram provider"))
		}
		if c.APIKey == "" {
			errs = append(errs, errors.New("credential.api_key (or providers.stt.api_key) is required for the deepgram provider"))
		}
	case c.Provider == CredentialStatic:
		if c.APIKey == "" {
			errs = append(errs, errors.New("credential.api_key (or providers.stt.api_key) is required for the static provider"))
		}
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("credential.ttl %s must not be negative", c.TTL))
	}
	if c.RateLimit < 0 || c.Burst < 0 {
		errs = append(errs, errors.New("credential.rate_limit and credential.burst must not be negative"))
	}

	// Alignment
	a := cfg.Alignment
	if a.Strategy != "" && !a.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("alignment.strategy %q is invalid; valid values: token, sentence", a.Strategy))
	}
	if a.Threshold < 0 || a.Threshold > 1 {
		errs = append(errs, fmt.Errorf("alignment.threshold %.2f is out of range [0, 1]", a.Threshold))
	}
	if a.WindowBehind != nil && *a.WindowBehind < 0 {
		errs = append(errs, fmt.Errorf("alignment.window_behind %d must not be negative", *a.WindowBehind))
	}
	if a.WindowAhead < 0 {
		errs = append(errs, fmt.Errorf("alignment.window_ahead %d must not be negative", a.WindowAhead))
	}
	if a.SoundsAlike < 0 || a.SoundsAlike > 1 {
		errs = append(errs, fmt.Errorf("alignment.sounds_alike %.2f is out of range [0, 1]", a.SoundsAlike))
	}
	if a.Strategy == "sentence" && a.SoundsAlike > 0 {
		slog.Warn("alignment.sounds_alike only affects the token strategy")
	}

	// Session
	s := cfg.Session
	if s.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must be positive", s.SampleRate))
	}
	if s.RestartBackoff < 0 || s.MaxRestartBackoff < 0 {
		errs = append(errs, errors.New("session restart backoffs must not be negative"))
	}
	if s.RestartBackoff > 0 && s.MaxRestartBackoff > 0 && s.MaxRestartBackoff < s.RestartBackoff {
		errs = append(errs, fmt.Errorf("session.max_restart_backoff %s is below restart_backoff %s", s.MaxRestartBackoff, s.RestartBackoff))
	}
	if s.MaxRestartFailures < 0 {
		errs = append(errs, fmt.Errorf("session.max_restart_failures %d must not be negative", s.MaxRestartFailures))
	}

	return errors.Join(errs...)
}

// validateProviderName warns if name is not a built-in provider.
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidSTTNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", field,
		"name", name,
		"known", ValidSTTNames,
	)
}

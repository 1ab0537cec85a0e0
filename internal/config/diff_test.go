package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/cuecard/internal/config"
)

func base() *config.Config {
	behind := 1
	cfg := &config.Config{
		Server:    config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{STT: config.ProviderEntry{Name: "deepgram", APIKey: "k"}},
		Alignment: config.AlignmentConfig{Strategy: "token", WindowBehind: &behind},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLog     bool
		wantAlign   bool
		wantSession bool
		wantRestart []string
	}{
		{name: "no changes", mutate: func(*config.Config) {}},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLog: true,
		},
		{
			name:      "strategy",
			mutate:    func(c *config.Config) { c.Alignment.Strategy = "sentence" },
			wantAlign: true,
		},
		{
			name: "window behind value",
			mutate: func(c *config.Config) {
				two := 2
				c.Alignment.WindowBehind = &two
			},
			wantAlign: true,
		},
		{
			name: "same window behind, new pointer",
			mutate: func(c *config.Config) {
				one := 1
				c.Alignment.WindowBehind = &one
			},
		},
		{
			name:        "language",
			mutate:      func(c *config.Config) { c.Session.Language = "de-DE" },
			wantSession: true,
		},
		{
			name: "listen address and provider",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9090"
				c.Providers.STT.Model = "nova-3"
			},
			wantRestart: []string{"providers", "server"},
		},
		{
			name:        "credential ttl",
			mutate:      func(c *config.Config) { c.Credential.TTL *= 2 },
			wantRestart: []string{"credential"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, cur := base(), base()
			tc.mutate(cur)
			d := config.Diff(old, cur)
			if d.LogLevelChanged != tc.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLog)
			}
			if d.AlignmentChanged != tc.wantAlign {
				t.Errorf("AlignmentChanged = %v, want %v", d.AlignmentChanged, tc.wantAlign)
			}
			if d.SessionChanged != tc.wantSession {
				t.Errorf("SessionChanged = %v, want %v", d.SessionChanged, tc.wantSession)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
			if want := tc.wantLog || tc.wantAlign || tc.wantSession; d.HotReloadable() != want {
				t.Errorf("HotReloadable = %v, want %v", d.HotReloadable(), want)
			}
		})
	}
}

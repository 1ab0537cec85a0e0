// Command cuecard is the entry point for the cuecard teleprompter server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cuecard/internal/config"
	"github.com/MrWong99/cuecard/internal/credential"
	"github.com/MrWong99/cuecard/internal/health"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/internal/resilience"
	"github.com/MrWong99/cuecard/internal/server"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
	"github.com/MrWong99/cuecard/pkg/provider/stt/deepgram"
	"github.com/MrWong99/cuecard/pkg/provider/stt/lines"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cuecard: %v\n", err)
		return 1
	}
	return 0
}

// cli holds the state shared by all subcommands.
type cli struct {
	configPath string
	level      slog.LevelVar
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "cuecard",
		Short: "Teleprompter that follows the reader's voice",
		Long: `cuecard advances a script in step with live speech recognition.

Run without a subcommand, or with "serve", to serve reading sessions over
HTTP and WebSocket. "rehearse" replays a transcript file against a script
offline and prints how far the reading got.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &c.level})))
		},
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	root.AddCommand(c.newServeCmd(), c.newRehearseCmd())
	return root
}

func (c *cli) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve reading sessions over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
}

func (c *cli) newRehearseCmd() *cobra.Command {
	var (
		scriptPath     string
		transcriptPath string
		pace           time.Duration
	)
	cmd := &cobra.Command{
		Use:   "rehearse",
		Short: "Replay a transcript against a script without a microphone",
		Long: `rehearse reads the script file and replays the transcript file through the
same recognition source, runner and session a live reading uses. Each
non-blank transcript line is one utterance; a blank line simulates the
recogniser restarting after a pause.

The configuration file is optional; defaults apply when it does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadOrDefault(c.configPath)
			if err != nil {
				return err
			}
			c.level.Set(cfg.Server.LogLevel.Level())
			return rehearse(cmd.Context(), cfg, scriptPath, transcriptPath, pace, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "script file to follow")
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", "newline-delimited transcript to replay")
	cmd.Flags().DurationVar(&pace, "pace", 0, "delay between replayed words")
	_ = cmd.MarkFlagRequired("script")
	_ = cmd.MarkFlagRequired("transcript")
	return cmd
}

// serve runs the server until ctx is cancelled.
func (c *cli) serve(ctx context.Context) error {
	// ── Load configuration ────────────────────────────────────────────────────
	var srv *server.Server
	watcher, err := config.NewWatcher(c.configPath, func(old, new *config.Config) {
		applyReload(&c.level, srv, old, new)
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", c.configPath)
		}
		return err
	}
	cfg := watcher.Current()
	c.level.Set(cfg.Server.LogLevel.Level())

	slog.Info("cuecard starting",
		"version", version,
		"config", c.configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cuecard",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Credentials and providers ─────────────────────────────────────────────
	cache, err := buildCredentialCache(cfg.Credential, metrics)
	if err != nil {
		return fmt.Errorf("configure credentials: %w", err)
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Credential, cache)

	recogniser, err := reg.BuildSTT(cfg.Providers, resilience.FallbackConfig{})
	if err != nil {
		return fmt.Errorf("build stt provider: %w", err)
	}

	opts := []server.Option{
		server.WithMetrics(metrics),
		server.WithAllowedOrigins(cfg.Server.AllowedOrigins...),
	}
	if recogniser != nil {
		opts = append(opts, server.WithSTT(recogniser))
		if checker, ok := recogniser.(interface{ Check(context.Context) error }); ok {
			opts = append(opts, server.WithReadiness(health.Checker{Name: "stt", Check: checker.Check}))
		}
	}
	if cache != nil {
		opts = append(opts,
			server.WithIssuer(cache),
			server.WithCredentialRateLimit(cfg.Credential.RateLimit, cfg.Credential.Burst),
			server.WithReadiness(health.Checker{Name: "credential", Check: cache.Check}),
		)
	}
	srv = server.New(server.Settings{Alignment: cfg.Alignment, Session: cfg.Session}, opts...)

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.ListenAddr, cfg.Server.TLS)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				switch err := watcher.Reload(); {
				case errors.Is(err, config.ErrUnchanged):
					slog.Info("SIGHUP: configuration unchanged")
				case err != nil:
					slog.Warn("SIGHUP: keeping previous configuration", "err", err)
				}
			}
		}
	})

	slog.Info("server ready, press Ctrl+C to shut down")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("goodbye")
	return nil
}

// loadOrDefault loads path, falling back to the defaults when the file does
// not exist.
func loadOrDefault(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

// applyReload applies the hot-reloadable parts of a changed configuration.
func applyReload(level *slog.LevelVar, srv *server.Server, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if (d.AlignmentChanged || d.SessionChanged) && srv != nil {
		srv.Apply(server.Settings{Alignment: new.Alignment, Session: new.Session})
		slog.Info("session settings reloaded; new readings use them",
			"alignment_changed", d.AlignmentChanged,
			"session_changed", d.SessionChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart", "sections", d.RestartRequired)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildCredentialCache returns the cache behind GET /api/credential, or nil
// when the endpoint is disabled.
func buildCredentialCache(cfg config.CredentialConfig, m *observe.Metrics) (*credential.Cache, error) {
	var issuer credential.Issuer
	switch cfg.Provider {
	case config.CredentialNone:
		return nil, nil
	case config.CredentialDeepgram:
		d, err := credential.NewDeepgramIssuer(cfg.APIKey, cfg.ProjectID,
			credential.WithTTL(cfg.TTL),
			credential.WithComment("cuecard "+version),
		)
		if err != nil {
			return nil, err
		}
		issuer = d
	case config.CredentialStatic:
		issuer = credential.NewStaticIssuer(cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown credential provider %q", cfg.Provider)
	}
	return credential.NewCache(issuer,
		credential.WithMetrics(m),
		credential.WithProviderName(string(cfg.Provider)),
	), nil
}

// registerBuiltinProviders wires the built-in STT factories into reg. Deepgram
// entries using the credential account key stream with short-lived keys from
// cache when temporary keys are being minted.
func registerBuiltinProviders(reg *config.Registry, cred config.CredentialConfig, cache *credential.Cache) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if cache != nil && cred.Provider == config.CredentialDeepgram && entry.APIKey == cred.APIKey {
			opts = append(opts, deepgram.WithKeySource(cache.Key))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("lines", func(entry config.ProviderEntry) (stt.Provider, error) {
		path := optString(entry.Options, "path")
		if path == "" {
			return nil, errors.New("lines: options.path is required")
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("lines: %w", err)
		}
		// The provider reads from f for the lifetime of the process.
		return lines.New(f), nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         cuecard, startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Providers.STT.Name, cfg.Providers.STT.Model))
	printRow("STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	credLabel := string(cfg.Credential.Provider)
	if credLabel == "" {
		credLabel = "(disabled)"
	}
	printRow("Credential", credLabel)
	strategy := string(cfg.Alignment.Strategy)
	if strategy == "" {
		strategy = "token"
	}
	printRow("Alignment", strategy)
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	switch {
	case name == "":
		return "(client only)"
	case model != "":
		return name + " / " + model
	}
	return name
}

func printRow(kind, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-13s   : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

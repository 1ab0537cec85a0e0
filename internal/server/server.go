// Package server exposes reading sessions over HTTP.
//
// Routes:
//
//	GET /healthz, GET /readyz  liveness and readiness probes
//	GET /metrics               Prometheus scrape endpoint
//	GET /api/credential        short-lived recognition credential
//	GET /ws                    one websocket per reading session
//
// Every route is wrapped by [observe.Middleware].
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/MrWong99/cuecard/internal/config"
	"github.com/MrWong99/cuecard/internal/credential"
	"github.com/MrWong99/cuecard/internal/health"
	"github.com/MrWong99/cuecard/internal/observe"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

const shutdownTimeout = 10 * time.Second

// Settings are the parts of the configuration that new reading sessions pick
// up. They can be replaced while the server runs with [Server.Apply].
type Settings struct {
	Alignment config.AlignmentConfig
	Session   config.SessionConfig
}

// Option configures a [Server].
type Option func(*Server)

// WithSTT enables server-side recognition through p.
func WithSTT(p stt.Provider) Option {
	return func(s *Server) { s.stt = p }
}

// WithIssuer enables GET /api/credential.
func WithIssuer(i credential.Issuer) Option {
	return func(s *Server) { s.issuer = i }
}

// WithCredentialRateLimit limits GET /api/credential to limit requests per
// second with bursts of burst, shared by all clients. Unlimited by default.
func WithCredentialRateLimit(limit float64, burst int) Option {
	return func(s *Server) {
		if limit > 0 && burst > 0 {
			s.credLimiter = rate.NewLimiter(rate.Limit(limit), burst)
		}
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins sets the host patterns allowed to open cross-origin
// websockets.
func WithAllowedOrigins(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithReadiness adds readiness checks to GET /readyz.
func WithReadiness(checks ...health.Checker) Option {
	return func(s *Server) { s.checks = append(s.checks, checks...) }
}

// WithMetricsHandler replaces the /metrics handler. Default:
// promhttp.Handler(), which serves the registry the OTel Prometheus exporter
// writes to.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// Server serves reading sessions.
type Server struct {
	stt            stt.Provider
	issuer         credential.Issuer
	credLimiter    *rate.Limiter
	metrics        *observe.Metrics
	origins        []string
	checks         []health.Checker
	metricsHandler http.Handler

	settings atomic.Pointer[Settings]
}

// New returns a Server using settings for new sessions.
func New(settings Settings, opts ...Option) *Server {
	s := &Server{}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	s.Apply(settings)
	return s
}

// Apply replaces the settings used by sessions started from now on.
// Sessions already running keep theirs.
func (s *Server) Apply(settings Settings) {
	s.settings.Store(&settings)
}

func (s *Server) current() Settings {
	return *s.settings.Load()
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(s.checks...).Register(mux)
	mux.Handle("GET /metrics", s.metricsHandler)
	mux.HandleFunc("GET /api/credential", s.handleCredential)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. TLS is used when tls is non-nil.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tls *config.TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "tls", tls != nil)
		if tls != nil {
			errc <- srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ahmdfdhilah/dashgate/internal/domain/audit"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/guard"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
)

// Bootstrapper is the startup and SSO hand-off side of the session.
// Implemented by *service.Bootstrapper.
type Bootstrapper interface {
	Bootstrap
	SSOCapturer
}

// Route is one guarded path prefix.
type Route struct {
	Prefix string
	// Authorizer gates the route once the profile is known. Nil admits any
	// authenticated user.
	Authorizer guard.Authorizer
	// Handler serves granted requests. Nil serves the landing page.
	Handler http.Handler
}

// NewStaticRoute serves the assets in dir under prefix.
func NewStaticRoute(prefix, dir string, authorizer guard.Authorizer) Route {
	return Route{
		Prefix:     prefix,
		Authorizer: authorizer,
		Handler:    http.StripPrefix(strings.TrimSuffix(prefix, "/"), StaticHandler(dir)),
	}
}

// HTTPTransport is the inbound adapter that serves guarded dashboards.
type HTTPTransport struct {
	state      *session.State
	sessions   SessionService
	boot       Bootstrapper
	ssoBaseURL string

	server         *http.Server
	addr           string
	certFile       string
	keyFile        string
	allowedOrigins []string
	routes         []Route
	apiProxy       *APIProxy
	resolveTimeout time.Duration
	defaultPath    string
	logger         *slog.Logger
	metrics        *Metrics
	healthChecker  *HealthChecker
	auditLog       audit.RecentReader
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets extra origins accepted on state-changing requests.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithRoutes sets the guarded routes. Defaults to the landing page on "/".
func WithRoutes(routes ...Route) Option {
	return func(t *HTTPTransport) {
		t.routes = routes
	}
}

// WithAPIProxy mounts the backend reverse proxy under its prefix.
func WithAPIProxy(p *APIProxy) Option {
	return func(t *HTTPTransport) {
		t.apiProxy = p
	}
}

// WithResolveTimeout bounds how long a request waits for the session.
func WithResolveTimeout(d time.Duration) Option {
	return func(t *HTTPTransport) {
		t.resolveTimeout = d
	}
}

// WithDefaultPath sets where the unauthorized page links back to.
func WithDefaultPath(p string) Option {
	return func(t *HTTPTransport) {
		t.defaultPath = p
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithAuditLog serves the session audit log on /auth/audit.
func WithAuditLog(log audit.RecentReader) Option {
	return func(t *HTTPTransport) {
		t.auditLog = log
	}
}

// NewHTTPTransport creates the HTTP adapter. boot may be nil, in which case
// neither SSO capture nor the startup gate is installed.
func NewHTTPTransport(state *session.State, sessions SessionService, boot Bootstrapper, ssoBaseURL string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		state:          state,
		sessions:       sessions,
		boot:           boot,
		ssoBaseURL:     ssoBaseURL,
		addr:           "127.0.0.1:8080",
		resolveTimeout: 5 * time.Second,
		defaultPath:    "/",
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}
	if len(t.routes) == 0 {
		t.routes = []Route{{Prefix: "/"}}
	}

	return t
}

// Handler builds the full middleware chain and router, registering metrics
// with reg.
//
// Middleware order (outermost first):
//  1. Metrics - duration and status class per area (outermost to capture full duration)
//  2. RequestID - request ID and enriched logger
//  3. SSO capture - consume hand-off tokens and redirect to the clean URL
//  4. Router - guarded routes, API proxy, session endpoints
func (t *HTTPTransport) Handler(reg *prometheus.Registry) http.Handler {
	t.metrics = NewMetrics(reg)
	RegisterSessionGauges(reg, t.state)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/health", t.healthChecker.Handler())
	} else {
		mux.Handle("/health", healthHandler())
	}
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry: reg,
	}))
	mux.Handle("/favicon.ico", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	protect := OriginProtection(t.allowedOrigins)
	mux.Handle("/auth/session", sessionHandler(t.state))
	mux.Handle("/auth/logout", protect(logoutHandler(t.sessions, t.ssoBaseURL)))
	if t.auditLog != nil {
		mux.Handle("/auth/audit", auditHandler(t.auditLog))
	}

	if t.apiProxy != nil {
		t.apiProxy.setMetrics(t.metrics)
		mux.Handle(t.apiProxy.Prefix(), protect(t.apiProxy))
	}

	guardCfg := GuardConfig{
		State:          t.state,
		Profiles:       t.sessions,
		SSOBaseURL:     t.ssoBaseURL,
		ResolveTimeout: t.resolveTimeout,
		DefaultPath:    t.defaultPath,
		Metrics:        t.metrics,
	}
	if t.boot != nil {
		guardCfg.Boot = t.boot
	}
	for _, route := range t.routes {
		content := route.Handler
		if content == nil {
			content = LandingHandler(t.state)
		}
		cfg := guardCfg
		cfg.Authorizer = route.Authorizer
		h := GuardMiddleware(cfg)(content)

		mux.Handle(route.Prefix, h)
		if !strings.HasSuffix(route.Prefix, "/") {
			mux.Handle(route.Prefix+"/", h)
		}
	}

	var handler http.Handler = mux
	if t.boot != nil {
		handler = SSOCaptureMiddleware(t.boot, t.metrics)(handler)
	}
	handler = RequestIDMiddleware(t.logger)(handler)
	apiPrefix := ""
	if t.apiProxy != nil {
		apiPrefix = t.apiProxy.Prefix()
	}
	handler = MetricsMiddleware(t.metrics, apiPrefix)(handler)
	return handler
}

// Start begins serving. It blocks until the context is cancelled or the
// server fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	errCh := make(chan error, 1)

	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *HTTPTransport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}

	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ahmdfdhilah/dashgate/internal/adapter/inbound/http"
	auditlog "github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/audit"
	"github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/cel"
	identityclient "github.com/Ahmdfdhilah/dashgate/internal/adapter/outbound/identity"
	"github.com/Ahmdfdhilah/dashgate/internal/config"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/guard"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/session"
	"github.com/Ahmdfdhilah/dashgate/internal/domain/token"
	"github.com/Ahmdfdhilah/dashgate/internal/service"
	"github.com/Ahmdfdhilah/dashgate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long: `Start the dashgate gateway.

On startup the stored session is restored. An expired access token is
purged, and if a refresh token was stored alongside it one refresh is
attempted before any dashboard is served. While running, the access token
is refreshed shortly before it expires.

Examples:
  # Start with config file settings
  dashgate start

  # Keep the session in memory only
  dashgate start --ephemeral

  # Start with a specific config file
  dashgate --config /path/to/dashgate.yaml start`,
	RunE: runStart,
}

var (
	devMode   bool
	ephemeral bool
)

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, stdout telemetry)")
	startCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep tokens in memory only; the session ends with the process")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load without validation so flags can override first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if ephemeral {
		cfg.Storage.Driver = config.StorageMemory
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg.Server.LogLevel)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("dashgate stopped")
	return nil
}

// run wires the gateway together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers, err := telemetry.NewProviders(telemetry.Options{
		ServiceName: "dashgate",
		Stdout:      cfg.Telemetry.Stdout,
		Writer:      os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	storage, closeStorage, err := openTokenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn("failed to close token storage", "error", err)
		}
	}()
	logger.Info("token storage ready", "driver", cfg.Storage.Driver, "path", cfg.Storage.Path)

	store := token.NewStore(storage, logger)
	state := session.NewState(store, logger)

	client := identityclient.NewHTTPClient(cfg.Identity.BaseURL,
		identityclient.WithTimeout(cfg.IdentityTimeout()),
		identityclient.WithUserAgent("dashgate/"+Version),
	)
	auth := service.NewAuthService(state, client, logger,
		service.WithTracerProvider(providers.TracerProvider),
		service.WithMeterProvider(providers.MeterProvider),
	)
	boot := service.NewBootstrapper(state, store, auth, logger, service.BootstrapConfig{
		RefreshLeadTime:      cfg.RefreshLeadTime(),
		ReuseAccessAsRefresh: cfg.SSO.ReuseAccessAsRefresh,
	})

	routes, err := buildRoutes(cfg.Routes)
	if err != nil {
		return err
	}

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		http.WithRoutes(routes...),
		http.WithResolveTimeout(cfg.ResolveTimeout()),
		http.WithDefaultPath(cfg.App.DefaultPath),
		http.WithHealthChecker(http.NewHealthChecker(state, storage, boot, Version)),
	}
	if cfg.API.Upstream != "" {
		proxy := http.NewAPIProxy(http.APIProxyConfig{
			Prefix:      cfg.API.Prefix,
			Upstream:    cfg.API.Upstream,
			StripPrefix: cfg.API.StripPrefix,
			Timeout:     cfg.APITimeout(),
			SSOBaseURL:  cfg.SSO.BaseURL,
		}, state, logger)
		opts = append(opts, http.WithAPIProxy(proxy))
	}

	if cfg.Audit.Enabled {
		auditStore, err := auditlog.NewFileStore(auditlog.Config{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
		defer func() {
			if err := auditStore.Close(); err != nil {
				logger.Warn("failed to close audit log", "error", err)
			}
		}()

		// Started before the bootstrapper so a restored session is recorded.
		journal := service.NewSessionJournal(state, auditStore, logger)
		journal.Start(ctx)
		defer journal.Stop()

		opts = append(opts, http.WithAuditLog(auditStore))
		logger.Info("session audit log enabled", "dir", cfg.Audit.Dir)
	}

	transport := http.NewHTTPTransport(state, auth, boot, cfg.SSO.BaseURL, opts...)

	// Deferred in reverse: stop the refresh loop, then wait for fetches.
	defer auth.Wait()
	boot.Start(ctx)
	defer boot.Stop()

	printBanner(Version, cfg, len(routes))

	return transport.Start(ctx)
}

// buildRoutes turns route config into guarded routes. A route with a dir
// serves static files; otherwise it serves the landing page.
func buildRoutes(cfgs []config.RouteConfig) ([]http.Route, error) {
	var eval *cel.Evaluator
	routes := make([]http.Route, 0, len(cfgs))

	for _, rc := range cfgs {
		var authorizers []guard.Authorizer
		if rc.RequireRole != "" {
			authorizers = append(authorizers, guard.RoleRequirement(rc.RequireRole))
		}
		if rc.Expression != "" {
			if eval == nil {
				var err error
				if eval, err = cel.NewEvaluator(); err != nil {
					return nil, fmt.Errorf("failed to create expression evaluator: %w", err)
				}
			}
			a, err := cel.NewAuthorizer(eval, rc.Expression)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", rc.Prefix, err)
			}
			authorizers = append(authorizers, a)
		}

		var authorizer guard.Authorizer
		switch len(authorizers) {
		case 0:
		case 1:
			authorizer = authorizers[0]
		default:
			authorizer = guard.AllOf(authorizers...)
		}

		if rc.Dir != "" {
			routes = append(routes, http.NewStaticRoute(rc.Prefix, rc.Dir, authorizer))
		} else {
			routes = append(routes, http.Route{Prefix: rc.Prefix, Authorizer: authorizer})
		}
	}
	return routes, nil
}

func newLogger(level string) *slog.Logger {
	logLevel := parseLogLevel(level)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", level, "effective", logLevel.String())
	return logger
}

// parseLogLevel converts a string log level to slog.Level.
// Unknown values fall back to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func printBanner(version string, cfg *config.Config, routeCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset
	}
	apiStr := dim + "disabled" + reset
	if cfg.API.Upstream != "" {
		apiStr = cfg.API.Prefix + " -> " + cfg.API.Upstream
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s dashgate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Dashboards:", gatewayURL(cfg.Server.HTTPAddr))
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "SSO:", cfg.SSO.BaseURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "API:", apiStr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Storage:", cfg.Storage.Driver)
	if cfg.Audit.Enabled {
		fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Audit log:", cfg.Audit.Dir)
	}
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d configured\n", "Routes:", routeCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
